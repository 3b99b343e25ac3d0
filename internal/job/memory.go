package job

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps jobs in a map guarded by an RWMutex. Jobs, their
// voice prompts included, are lost on restart.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs: make(map[string]*Job),
	}
}

// Save stores a clone of job. The clone is taken under the repository lock
// so that concurrent saves of one job land in the order they read it and a
// stale snapshot never replaces a newer one.
func (r *MemoryRepository) Save(ctx context.Context, job *Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := job.Clone()
	r.jobs[c.ID] = c
	return nil
}

// FindByID returns a clone of the stored job.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns clones of all jobs, oldest first.
func (r *MemoryRepository) List(_ context.Context) ([]*Job, error) {
	return r.collect(func(*Job) bool { return true }, byCreation), nil
}

// FinishedBefore returns clones of the terminal jobs completed before
// cutoff, in completion order.
func (r *MemoryRepository) FinishedBefore(_ context.Context, cutoff time.Time) ([]*Job, error) {
	expired := func(j *Job) bool {
		return j.IsTerminal() && !j.CompletedAt.IsZero() && j.CompletedAt.Before(cutoff)
	}
	return r.collect(expired, byCompletion), nil
}

// Delete removes a job.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(r.jobs, id)
	return nil
}

func (r *MemoryRepository) collect(keep func(*Job) bool, order func(a, b *Job) int) []*Job {
	r.mu.RLock()
	result := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if keep(job) {
			result = append(result, job.Clone())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(result, order)
	return result
}

func byCreation(a, b *Job) int {
	return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
}

func byCompletion(a, b *Job) int {
	return cmp.Or(a.CompletedAt.Compare(b.CompletedAt), byCreation(a, b))
}
