package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors identifying each failure kind. The concrete error types
// below report themselves as these through errors.Is.
var (
	// ErrValidation marks bad input text or configuration values.
	ErrValidation = errors.New("speech: validation failed")
	// ErrChunking marks text that cannot be cut into valid chunks.
	ErrChunking = errors.New("speech: chunking failed")
	// ErrSynthesis marks a failed synthesis call.
	ErrSynthesis = errors.New("speech: synthesis failed")
	// ErrSynthesisTimeout marks a synthesis call that exceeded its bound.
	ErrSynthesisTimeout = errors.New("speech: synthesis timed out")
	// ErrPipeline marks the aggregate failure of one or more chunks.
	ErrPipeline = errors.New("speech: pipeline failed")
	// ErrConcatenation marks results that cannot be merged.
	ErrConcatenation = errors.New("speech: concatenation failed")
	// ErrCanceled marks a run stopped by an external cancellation signal.
	ErrCanceled = errors.New("speech: pipeline canceled")
)

// Stage names the pipeline step an error originated from.
type Stage string

const (
	StageValidation    Stage = "validation"
	StageChunking      Stage = "chunking"
	StageSynthesis     Stage = "synthesis"
	StageConcatenation Stage = "concatenation"
	StageCanceled      Stage = "canceled"
	StageUnknown       Stage = "unknown"
)

// StageOf reports which stage produced err.
func StageOf(err error) Stage {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return StageValidation
	case errors.Is(err, ErrChunking):
		return StageChunking
	case errors.Is(err, ErrPipeline), errors.Is(err, ErrSynthesis), errors.Is(err, ErrSynthesisTimeout):
		return StageSynthesis
	case errors.Is(err, ErrConcatenation):
		return StageConcatenation
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StageCanceled
	default:
		return StageUnknown
	}
}

// ValidationError reports invalid input text or configuration.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "speech: invalid input: " + e.Message
	}
	return fmt.Sprintf("speech: invalid %s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ChunkingError reports text the chunker could not turn into printable units.
type ChunkingError struct {
	// Offset is the byte offset of the offending text.
	Offset  int
	Message string
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("speech: chunking failed at offset %d: %s", e.Offset, e.Message)
}

// Is reports whether target is ErrChunking.
func (e *ChunkingError) Is(target error) bool { return target == ErrChunking }

// ChunkFailure is implemented by per-chunk errors.
type ChunkFailure interface {
	error
	ChunkIndex() int
}

// SynthesisError wraps an engine failure for one chunk.
type SynthesisError struct {
	Index int
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("chunk %d: synthesis failed: %v", e.Index, e.Err)
}

// ChunkIndex returns the index of the failed chunk.
func (e *SynthesisError) ChunkIndex() int { return e.Index }

// Unwrap returns the engine error.
func (e *SynthesisError) Unwrap() error { return e.Err }

// Is reports whether target is ErrSynthesis.
func (e *SynthesisError) Is(target error) bool { return target == ErrSynthesis }

// SynthesisTimeoutError reports a chunk whose synthesis exceeded the
// per-chunk timeout.
type SynthesisTimeoutError struct {
	Index   int
	Timeout time.Duration
}

func (e *SynthesisTimeoutError) Error() string {
	return fmt.Sprintf("chunk %d: synthesis timed out after %s", e.Index, e.Timeout)
}

// ChunkIndex returns the index of the timed-out chunk.
func (e *SynthesisTimeoutError) ChunkIndex() int { return e.Index }

// Unwrap returns context.DeadlineExceeded.
func (e *SynthesisTimeoutError) Unwrap() error { return context.DeadlineExceeded }

// Is reports whether target is ErrSynthesisTimeout.
func (e *SynthesisTimeoutError) Is(target error) bool { return target == ErrSynthesisTimeout }

// PipelineError aggregates every chunk failure of a dispatch.
type PipelineError struct {
	// Total is the number of chunks that were dispatched.
	Total int
	// Failures holds one ChunkFailure per failed chunk, in index order.
	Failures []ChunkFailure
}

func (e *PipelineError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("speech: pipeline failed: %d of %d chunks failed: %s",
		len(e.Failures), e.Total, strings.Join(parts, "; "))
}

// FailedIndices returns the indices of the failed chunks in ascending order.
func (e *PipelineError) FailedIndices() []int {
	out := make([]int, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.ChunkIndex()
	}
	return out
}

// Unwrap exposes the individual chunk failures.
func (e *PipelineError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f
	}
	return out
}

// Is reports whether target is ErrPipeline.
func (e *PipelineError) Is(target error) bool { return target == ErrPipeline }

// ConcatenationError reports results that cannot be merged into one track.
type ConcatenationError struct {
	Message string
}

func (e *ConcatenationError) Error() string {
	return "speech: concatenation failed: " + e.Message
}

// Is reports whether target is ErrConcatenation.
func (e *ConcatenationError) Is(target error) bool { return target == ErrConcatenation }
