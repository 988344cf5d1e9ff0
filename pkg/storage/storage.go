// Package storage keeps uploaded statement files so the import executor can
// re-read the original bytes independently of the request that uploaded them.
package storage

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Store is the file persistence boundary for uploaded statements.
type Store interface {
	// Save writes the upload and returns an opaque path for later retrieval.
	Save(ctx context.Context, userID uuid.UUID, filename string, r io.Reader) (path string, size int64, err error)

	// Open returns a reader for a previously saved file.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes a saved file. Deleting a missing file is not an error.
	Delete(ctx context.Context, path string) error
}
