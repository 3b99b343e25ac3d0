package job

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// Repository stores synthesis jobs. Implementations return copies so that
// callers never share a *Job with a concurrently running pipeline.
type Repository interface {
	// Save inserts or replaces a job.
	Save(ctx context.Context, job *Job) error

	// FindByID returns ErrJobNotFound when no job has the ID.
	FindByID(ctx context.Context, id string) (*Job, error)

	// List returns all jobs ordered by creation time.
	List(ctx context.Context) ([]*Job, error)

	// FinishedBefore returns the terminal jobs that completed before cutoff,
	// oldest first. Jobs still queued or running are never returned.
	FinishedBefore(ctx context.Context, cutoff time.Time) ([]*Job, error)

	// Delete returns ErrJobNotFound when no job has the ID.
	Delete(ctx context.Context, id string) error
}
