package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrS3NotConfigured is returned when S3 operations are attempted
// without proper configuration.
var ErrS3NotConfigured = errors.New("storage: S3 is not configured")

// defaultDirName is the directory created under os.TempDir() when no
// directory is configured.
const defaultDirName = "speechstitch"

// LocalStorage implements Storage on local disk. S3 uploads are not
// supported; use S3Storage for that.
type LocalStorage struct {
	tempDir string
}

// NewLocalStorage creates a LocalStorage rooted at tempDir, creating it if
// needed. An empty tempDir selects a directory under os.TempDir().
func NewLocalStorage(tempDir string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), defaultDirName)
	}
	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	return &LocalStorage{tempDir: tempDir}, nil
}

// TempDir returns the temporary directory path.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// SaveTemp writes data to a uniquely named file in the temp directory.
// "prompt.mp3" becomes something like "prompt_123456.mp3" so tools that
// sniff the extension keep working.
func (s *LocalStorage) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(filepath.Base(name), ext)
	if base == "" || base == "." {
		base = "tmp"
	}

	f, err := os.CreateTemp(s.tempDir, base+"_*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return fileName, nil
}

// LoadTemp opens a temporary file for reading.
func (s *LocalStorage) LoadTemp(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	f, err := os.Open(path) // #nosec G304 - path is produced by SaveTemp
	if err != nil {
		return nil, fmt.Errorf("open temp file: %w", err)
	}
	return f, nil
}

// CleanupTemp removes paths, returning the first failure.
func (s *LocalStorage) CleanupTemp(ctx context.Context, paths ...string) error {
	var firstErr error
	for _, p := range paths {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove temp file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// UploadToS3 always returns ErrS3NotConfigured.
func (s *LocalStorage) UploadToS3(context.Context, string, string, io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return nil
}
