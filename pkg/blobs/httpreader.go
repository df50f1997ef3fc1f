package blobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"k8s.io/klog/v2"
)

// HTTPReader fetches artifacts from an artifact-store server
// (cmd/artifact-store), which serves each artifact at /<hash>.
type HTTPReader struct {
	// BaseURL is the server's base URL, typically http://artifact-store.
	BaseURL *url.URL

	// Client to use; nil means http.DefaultClient.
	Client *http.Client
}

var _ ArtifactReader = (*HTTPReader)(nil)

func (r *HTTPReader) Download(ctx context.Context, info ArtifactInfo, destPath string) error {
	u := r.BaseURL.JoinPath(info.Hash)
	return r.downloadToFile(ctx, u.String(), destPath)
}

func (r *HTTPReader) downloadToFile(ctx context.Context, url string, destPath string) error {
	log := klog.FromContext(ctx)

	log.Info("downloading artifact", "url", url, "destination", destPath)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	startedAt := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("artifact not found at %q: %w", url, os.ErrNotExist)
		}
		return fmt.Errorf("unexpected status downloading %q: %v", url, resp.Status)
	}

	n, err := writeToFile(ctx, resp.Body, destPath)
	if err != nil {
		return fmt.Errorf("downloading from %q: %w", url, err)
	}

	log.Info("downloaded artifact", "url", url, "bytes", n, "duration", time.Since(startedAt))

	return nil
}

// retryBaseDelay scales the backoff between download attempts; tests shrink it.
var retryBaseDelay = time.Second

// DownloadWithRetry retries transient download failures. Not-found is
// permanent and returned immediately.
func DownloadWithRetry(ctx context.Context, reader ArtifactReader, info ArtifactInfo, destPath string, maxAttempts int) error {
	log := klog.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := reader.Download(ctx, info, destPath)
		if err == nil {
			return nil
		}
		if isNotExist(err) {
			return err
		}
		lastErr = err
		log.Error(err, "artifact download failed", "hash", info.Hash, "attempt", attempt, "maxAttempts", maxAttempts)

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBaseDelay):
		}
	}
	return fmt.Errorf("downloading artifact %q after %d attempts: %w", info.Hash, maxAttempts, lastErr)
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
