// Package blobs stores and fetches model artifacts (parameter and symbol
// files) keyed by content hash.
package blobs

import "context"

// ArtifactReader fetches artifacts.
type ArtifactReader interface {
	// Download fetches the artifact to destPath. If no such artifact exists,
	// the error satisfies errors.Is(err, os.ErrNotExist).
	Download(ctx context.Context, info ArtifactInfo, destPath string) error
}

// ArtifactStore is a content-addressed store of model artifacts.
type ArtifactStore interface {
	ArtifactReader

	// Upload stores the file at sourcePath under the artifact's hash. If an
	// artifact with the same hash already exists, Upload does nothing.
	Upload(ctx context.Context, sourcePath string, info ArtifactInfo) error
}

// ArtifactInfo identifies one artifact by content hash.
type ArtifactInfo struct {
	Hash string
}
