// Package job provides the Job aggregate for asynchronous speech synthesis.
// It includes the Job entity with its state machine, per-chunk progress and
// repository interfaces for persistence.
package job

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/maauso/speechstitch/internal/job/id"
	"github.com/maauso/speechstitch/internal/speech"
)

// Provider names the synthesis backend a job runs against.
type Provider string

const (
	// ProviderHTTP uses a self-hosted engine server.
	ProviderHTTP Provider = "http"
	// ProviderRunPod uses a RunPod serverless endpoint.
	ProviderRunPod Provider = "runpod"
	// ProviderBeam uses a Beam.cloud task queue.
	ProviderBeam Provider = "beam"
)

// IsValid returns true if the provider is valid.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderHTTP, ProviderRunPod, ProviderBeam:
		return true
	default:
		return false
	}
}

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting to be processed.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the job is being synthesized.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job encountered an error during execution.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was manually cancelled.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates the job did not finish within its deadline.
	StatusTimedOut Status = "TIMED_OUT"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled, StatusTimedOut},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// ChunkStatus represents the status of a single text chunk.
type ChunkStatus string

const (
	// ChunkStatusPending indicates the chunk is waiting to be synthesized.
	ChunkStatusPending ChunkStatus = "PENDING"
	// ChunkStatusCompleted indicates the chunk was synthesized successfully.
	ChunkStatusCompleted ChunkStatus = "COMPLETED"
	// ChunkStatusFailed indicates the chunk synthesis failed.
	ChunkStatusFailed ChunkStatus = "FAILED"
)

// Chunk tracks one text chunk of a job.
type Chunk struct {
	// Index is the position of this chunk in the sequence.
	Index int
	// Status is the current processing status.
	Status ChunkStatus
	// Characters is the rune length of the chunk text, overlap included.
	Characters int
	// Start and End are byte offsets of the chunk body in the job text.
	Start int
	End   int
	// CompletedAt is when the chunk audio arrived.
	CompletedAt time.Time
}

// Input is what a job synthesizes.
type Input struct {
	// Text is the text to speak.
	Text string
	// VoicePrompt is an optional voice reference in WAV or MP3.
	VoicePrompt []byte
	// Config overrides the service pipeline configuration when set.
	Config *speech.Config
	// Format selects the output container: "wav" (default) or "mp3".
	Format string
	// PushToS3 uploads the result to S3 instead of keeping it local only.
	PushToS3 bool
}

// Metadata describes a finished track.
type Metadata struct {
	DurationSeconds float64
	ChunksProcessed int
	TotalCharacters int
	SampleRate      int
	SizeBytes       int
}

// Job represents a synthesis job aggregate.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Provider is the synthesis backend.
	Provider Provider
	// Status is the current job state.
	Status Status
	// Input is the request being processed.
	Input Input
	// Chunks contains the text chunks being synthesized.
	Chunks []Chunk
	// Progress is the percentage of completion (0-100).
	Progress int
	// Error contains any error message if the job failed.
	Error string
	// ErrorStage names the pipeline stage that failed.
	ErrorStage string
	// FailedChunks lists the indices of chunks that failed synthesis.
	FailedChunks []int
	// OutputPath is the local path of the finished track.
	OutputPath string
	// ContentType is the media type of the finished track.
	ContentType string
	// AudioURL is the S3 URL if Input.PushToS3 was true.
	AudioURL string
	// Metadata describes the finished track.
	Metadata Metadata
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New(provider Provider, in Input) *Job {
	return NewWithID(id.Generate(), provider, in)
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string, provider Provider, in Input) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Provider:  provider,
		Status:    StatusInQueue,
		Input:     in,
		Chunks:    make([]Chunk, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED and sets progress to 100.
func (j *Job) Complete() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Progress = 100
	return nil
}

// Fail transitions the job to FAILED state with an error message.
// Chunks named in failed are marked FAILED.
func (j *Job) Fail(errMsg, stage string, failed ...int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	j.ErrorStage = stage
	j.FailedChunks = slices.Clone(failed)
	for _, i := range failed {
		if i >= 0 && i < len(j.Chunks) {
			j.Chunks[i].Status = ChunkStatusFailed
		}
	}
	return nil
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// Timeout transitions the job to TIMED_OUT state.
func (j *Job) Timeout() error {
	return j.TransitionTo(StatusTimedOut)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetChunks replaces the chunk plan with one PENDING entry per text chunk.
func (j *Job) SetChunks(chunks []speech.TextChunk) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Chunks = make([]Chunk, len(chunks))
	for i, c := range chunks {
		j.Chunks[i] = Chunk{
			Index:      c.Index,
			Status:     ChunkStatusPending,
			Characters: c.Len(),
			Start:      c.Start,
			End:        c.End,
		}
	}
	j.UpdatedAt = time.Now()
}

// CompleteChunk marks chunk index as done and recomputes progress. Chunk
// completion accounts for the first 95 percent; the rest is reserved for
// assembling and storing the track.
func (j *Job) CompleteChunk(index int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if index < 0 || index >= len(j.Chunks) {
		return
	}
	now := time.Now()
	j.Chunks[index].Status = ChunkStatusCompleted
	j.Chunks[index].CompletedAt = now

	var done int
	for _, c := range j.Chunks {
		if c.Status == ChunkStatusCompleted {
			done++
		}
	}
	j.Progress = done * 95 / len(j.Chunks)
	j.UpdatedAt = now
}

// UpdateProgress sets the progress percentage (0-100).
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = min(max(progress, 0), 100)
	j.UpdatedAt = time.Now()
}

// SetOutput records where the finished track lives.
func (j *Job) SetOutput(path, contentType, url string, meta Metadata) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = path
	j.ContentType = contentType
	j.AudioURL = url
	j.Metadata = meta
	j.UpdatedAt = time.Now()
}

// ClearOutput clears the output path and URL.
// This is used when deleting the job's audio file.
func (j *Job) ClearOutput() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = ""
	j.AudioURL = ""
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled ||
		j.Status == StatusTimedOut
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	in := j.Input
	in.VoicePrompt = slices.Clone(j.Input.VoicePrompt)
	if j.Input.Config != nil {
		cfg := *j.Input.Config
		in.Config = &cfg
	}

	return &Job{
		ID:           j.ID,
		Provider:     j.Provider,
		Status:       j.Status,
		Input:        in,
		Chunks:       slices.Clone(j.Chunks),
		Progress:     j.Progress,
		Error:        j.Error,
		ErrorStage:   j.ErrorStage,
		FailedChunks: slices.Clone(j.FailedChunks),
		OutputPath:   j.OutputPath,
		ContentType:  j.ContentType,
		AudioURL:     j.AudioURL,
		Metadata:     j.Metadata,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
}
