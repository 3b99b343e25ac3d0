package job

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/maauso/speechstitch/internal/speech"
)

func TestMemoryRepository_Save(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := newTestJob()

	err := repo.Save(ctx, job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Verify it was saved
	saved, err := repo.FindByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.ID != job.ID {
		t.Errorf("expected ID %s, got %s", job.ID, saved.ID)
	}
}

func TestMemoryRepository_Save_Update(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := newTestJob()

	// Save initial
	_ = repo.Save(ctx, job)

	// Update job
	_ = job.Start()
	job.Progress = 50
	_ = repo.Save(ctx, job)

	// Verify update
	saved, _ := repo.FindByID(ctx, job.ID)
	if saved.Status != StatusRunning {
		t.Errorf("expected status %s, got %s", StatusRunning, saved.Status)
	}
	if saved.Progress != 50 {
		t.Errorf("expected progress 50, got %d", saved.Progress)
	}
}

func TestMemoryRepository_FindByID_NotFound(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	_, err := repo.FindByID(ctx, "nonexistent")
	if err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_FindByID_ReturnsClone(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := newTestJob()
	_ = repo.Save(ctx, job)

	// Get job
	found, _ := repo.FindByID(ctx, job.ID)

	// Modify returned job
	found.Progress = 99
	_ = found.Start()

	// Original in repo should be unchanged
	original, _ := repo.FindByID(ctx, job.ID)
	if original.Progress != 0 {
		t.Error("modifying returned job should not affect repository")
	}
	if original.Status != StatusInQueue {
		t.Error("modifying returned job status should not affect repository")
	}
}

func TestMemoryRepository_List(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	// Empty list
	jobs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected 0 jobs, got %d", len(jobs))
	}

	// Add jobs
	job1 := newTestJob()
	job2 := newTestJob()
	_ = repo.Save(ctx, job1)
	_ = repo.Save(ctx, job2)

	jobs, err = repo.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].CreatedAt.After(jobs[1].CreatedAt) {
		t.Error("expected jobs ordered oldest first")
	}
}

func TestMemoryRepository_List_Ordered(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"job-c", "job-a", "job-b"} {
		j := NewWithID(id, ProviderHTTP, Input{})
		j.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_ = repo.Save(ctx, j)
	}

	jobs, _ := repo.List(ctx)
	var ids []string
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	want := []string{"job-c", "job-a", "job-b"}
	if !slices.Equal(ids, want) {
		t.Errorf("expected %v, got %v", want, ids)
	}
}

func TestMemoryRepository_Save_CanceledContext(t *testing.T) {
	repo := NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := repo.Save(ctx, newTestJob()); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestMemoryRepository_List_ReturnsClones(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := newTestJob()
	_ = repo.Save(ctx, job)

	// Get list
	jobs, _ := repo.List(ctx)

	// Modify returned job
	jobs[0].Progress = 99

	// Original in repo should be unchanged
	original, _ := repo.FindByID(ctx, job.ID)
	if original.Progress != 0 {
		t.Error("modifying listed job should not affect repository")
	}
}

func TestMemoryRepository_Delete(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := newTestJob()
	_ = repo.Save(ctx, job)

	err := repo.Delete(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Verify deleted
	_, err = repo.FindByID(ctx, job.ID)
	if err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_Delete_NotFound(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	err := repo.Delete(ctx, "nonexistent")
	if err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_ConcurrentAccess(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	done := make(chan bool)

	// Concurrent writes
	go func() {
		for i := 0; i < 100; i++ {
			job := newTestJob()
			_ = repo.Save(ctx, job)
		}
		done <- true
	}()

	// Concurrent reads
	go func() {
		for i := 0; i < 100; i++ {
			_, _ = repo.List(ctx)
		}
		done <- true
	}()

	<-done
	<-done
	// If no race conditions, test passes
}

func TestMemoryRepository_ConcurrentProgressSaves(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	const n = 50
	chunks := make([]speech.TextChunk, n)
	for i := range chunks {
		chunks[i] = speech.TextChunk{Index: i, Text: fmt.Sprintf("Sentence %d.", i)}
	}
	job := newTestJob()
	job.SetChunks(chunks)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			job.CompleteChunk(index)
			_ = repo.Save(ctx, job)
		}(i)
	}
	wg.Wait()

	saved, err := repo.FindByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, c := range saved.Chunks {
		if c.Status != ChunkStatusCompleted {
			t.Errorf("chunk %d: expected status %s, got %s", i, ChunkStatusCompleted, c.Status)
		}
	}
	if saved.Progress != 95 {
		t.Errorf("expected progress 95, got %d", saved.Progress)
	}
}

func TestMemoryRepository_FinishedBefore(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	finished := func(age time.Duration, fail bool) *Job {
		j := newTestJob()
		_ = j.Start()
		if fail {
			_ = j.Fail("boom", "synthesis")
		} else {
			_ = j.Complete()
		}
		j.CompletedAt = now.Add(-age)
		_ = repo.Save(ctx, j)
		return j
	}

	older := finished(3*time.Hour, true)
	old := finished(2*time.Hour, false)
	finished(10*time.Minute, false)

	running := newTestJob()
	_ = running.Start()
	_ = repo.Save(ctx, running)
	_ = repo.Save(ctx, newTestJob())

	jobs, err := repo.FinishedBefore(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 expired jobs, got %d", len(jobs))
	}
	if jobs[0].ID != older.ID || jobs[1].ID != old.ID {
		t.Errorf("expected completion order [%s %s], got [%s %s]", older.ID, old.ID, jobs[0].ID, jobs[1].ID)
	}
}
