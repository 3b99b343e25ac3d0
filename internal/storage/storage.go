// Package storage provides temporary and persistent file storage for audio
// artifacts. It defines the Storage port, a local disk implementation, an
// S3-backed implementation for final deliverables, and scoped temp-file
// helpers that guarantee release on every exit path.
package storage

import (
	"context"
	"io"
)

// Storage defines temporary and persistent file storage.
// Temporary files hold voice prompts, intermediate transcodes and job
// outputs; S3 receives final tracks when configured.
type Storage interface {
	// SaveTemp writes data to a new temporary file and returns its path.
	// name is a filename hint; its extension, if any, is preserved.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp opens a temporary file for reading.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the given temporary files. Missing files are not
	// an error; removal continues past failures and the first one is
	// returned.
	CleanupTemp(ctx context.Context, paths ...string) error

	// UploadToS3 uploads data under key and returns its URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}
