package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
)

// ErrScopeClosed is returned when a resource is added to a closed Scope.
var ErrScopeClosed = errors.New("storage: scope already closed")

// Releaser is a resource that must be released exactly once.
type Releaser interface {
	Release(ctx context.Context) error
}

// ReleaseFunc adapts a function to the Releaser interface.
type ReleaseFunc func(ctx context.Context) error

// Release calls f(ctx).
func (f ReleaseFunc) Release(ctx context.Context) error { return f(ctx) }

// TempFile is a temporary file owned by the caller until released.
type TempFile struct {
	// Path is the file path in the backing store.
	Path string

	store Storage
	once  sync.Once
	err   error
}

// Acquire writes data to a new temporary file in store.
func Acquire(ctx context.Context, store Storage, name string, data io.Reader) (*TempFile, error) {
	path, err := store.SaveTemp(ctx, name, data)
	if err != nil {
		return nil, fmt.Errorf("acquire temp file %s: %w", name, err)
	}
	return &TempFile{Path: path, store: store}, nil
}

// Open opens the file for reading.
func (f *TempFile) Open(ctx context.Context) (io.ReadCloser, error) {
	return f.store.LoadTemp(ctx, f.Path)
}

// ReadAll returns the file contents.
func (f *TempFile) ReadAll(ctx context.Context) ([]byte, error) {
	rc, err := f.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

// Release removes the file. Only the first call does any work; later
// calls return the same result. Cancellation of ctx does not prevent the
// removal.
func (f *TempFile) Release(ctx context.Context) error {
	f.once.Do(func() {
		f.err = f.store.CleanupTemp(context.WithoutCancel(ctx), f.Path)
	})
	return f.err
}

// WithTempFile acquires a temporary file, passes it to fn and releases it
// when fn returns, fails or panics. A release failure is reported only
// when fn itself succeeded.
func WithTempFile(ctx context.Context, store Storage, name string, data io.Reader, fn func(*TempFile) error) (err error) {
	f, err := Acquire(ctx, store, name, data)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := f.Release(ctx); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(f)
}

// Scope collects resources and releases all of them, newest first, when
// closed. It is safe for concurrent use.
type Scope struct {
	mu     sync.Mutex
	items  []Releaser
	closed bool
	err    error
}

// NewScope returns an empty Scope.
func NewScope() *Scope {
	return &Scope{}
}

// Add registers r for release on Close. Adding to a closed scope releases r
// immediately and returns ErrScopeClosed joined with any release error.
func (s *Scope) Add(ctx context.Context, r Releaser) error {
	s.mu.Lock()
	if !s.closed {
		s.items = append(s.items, r)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return errors.Join(ErrScopeClosed, r.Release(context.WithoutCancel(ctx)))
}

// Acquire writes data to a temporary file that is released with the scope.
func (s *Scope) Acquire(ctx context.Context, store Storage, name string, data io.Reader) (*TempFile, error) {
	f, err := Acquire(ctx, store, name, data)
	if err != nil {
		return nil, err
	}
	if err := s.Add(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Close releases every registered resource in reverse order of
// registration. Only the first call releases; every call returns the
// joined release errors.
func (s *Scope) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.err
	}
	s.closed = true

	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, r := range slices.Backward(s.items) {
		if err := r.Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.items = nil
	s.err = errors.Join(errs...)
	return s.err
}
