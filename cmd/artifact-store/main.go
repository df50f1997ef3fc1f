package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"github.com/gomx/gomx/pkg/blobs"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := klog.FromContext(ctx)

	listen := ":8080"
	cacheDir := os.Getenv("CACHE_DIR")
	if cacheDir == "" {
		// CACHE_DIR is set when running on kubernetes; default sensibly for local dev
		cacheDir = "~/.cache/gomx/artifacts"
	}
	flag.StringVar(&listen, "listen", listen, "listen address")
	flag.StringVar(&cacheDir, "cache-dir", cacheDir, "cache directory")
	klog.InitFlags(nil)
	flag.Parse()

	if strings.HasPrefix(cacheDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("getting home directory: %w", err)
		}
		cacheDir = filepath.Join(homeDir, strings.TrimPrefix(cacheDir, "~/"))
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("creating cache directory %q: %w", cacheDir, err)
	}

	bucket := os.Getenv("ARTIFACT_BUCKET")
	if bucket == "" {
		return fmt.Errorf("must specify ARTIFACT_BUCKET env var")
	}
	if !strings.HasPrefix(bucket, "gs://") {
		return fmt.Errorf("ARTIFACT_BUCKET must be a GCS bucket URL (gs://<bucketName>)")
	}
	bucket = strings.TrimPrefix(bucket, "gs://")
	log.Info("using GCS artifact store", "bucket", bucket)

	cache := &artifactCache{
		baseDir: cacheDir,
		store:   &blobs.GCSStore{Bucket: bucket},
	}

	s := &httpServer{cache: cache}

	klog.Infof("serving on %q", listen)
	if err := http.ListenAndServe(listen, s); err != nil {
		return fmt.Errorf("serving on %q: %w", listen, err)
	}

	return nil
}

type httpServer struct {
	cache *artifactCache
}

func (s *httpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokens := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(tokens) == 1 && tokens[0] != "" {
		if r.Method == "GET" {
			s.serveGETArtifact(w, r, tokens[0])
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	http.Error(w, "not found", http.StatusNotFound)
}

func (s *httpServer) serveGETArtifact(w http.ResponseWriter, r *http.Request, hash string) {
	ctx := r.Context()

	log := klog.FromContext(ctx)

	// TODO: Validate hash is hex, right length etc

	p, err := s.cache.Get(ctx, hash)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		log.Error(err, "error getting artifact")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	klog.Infof("serving artifact %q", p)
	http.ServeFile(w, r, p)
}

type artifactCache struct {
	baseDir string
	store   blobs.ArtifactStore
}

// Get returns a local path for the artifact, filling the cache from the
// store on a miss.
func (c *artifactCache) Get(ctx context.Context, hash string) (string, error) {
	localPath := filepath.Join(c.baseDir, hash)
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("checking artifact %q: %w", hash, err)
	}

	err := c.store.Download(ctx, blobs.ArtifactInfo{Hash: hash}, localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", status.Errorf(codes.NotFound, "artifact %q not found", hash)
		}
		return "", fmt.Errorf("downloading artifact %q: %w", hash, err)
	}
	return localPath, nil
}
