// Package engine provides the port through which the pipeline reaches a
// speech synthesis backend, plus adapters for the supported providers.
// The HTTP server, RunPod and Beam adapters all implement Synthesizer.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/maauso/speechstitch/internal/speech"
)

// Static errors shared by the adapters.
var (
	// ErrEmptyText is returned when a request carries no text.
	ErrEmptyText = errors.New("engine: text is required")
	// ErrEmptyAudio is returned when a backend answers with no samples.
	ErrEmptyAudio = errors.New("engine: backend returned no audio")
	// ErrInvalidSampleRate is returned when a backend answers with a non-positive rate.
	ErrInvalidSampleRate = errors.New("engine: backend returned invalid sample rate")
)

// Request is one synthesis call.
type Request struct {
	Text        string // Text to speak
	VoicePrompt []byte // Optional WAV reference for voice cloning
}

// Synthesizer converts text into mono audio samples.
type Synthesizer interface {
	// Synthesize returns the audio for req. Implementations must honor ctx
	// cancellation on blocking calls.
	Synthesize(ctx context.Context, req Request) (speech.Audio, error)
}

// SynthesizeFunc adapts a plain function to the Synthesizer interface.
type SynthesizeFunc func(ctx context.Context, req Request) (speech.Audio, error)

// Synthesize calls f(ctx, req).
func (f SynthesizeFunc) Synthesize(ctx context.Context, req Request) (speech.Audio, error) {
	return f(ctx, req)
}

// CheckAudio reports whether a backend answer is usable.
func CheckAudio(a speech.Audio) error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSampleRate, a.SampleRate)
	}
	if len(a.Samples) == 0 {
		return ErrEmptyAudio
	}
	return nil
}

// HealthChecker is implemented by engines that can report backend
// reachability.
type HealthChecker interface {
	Health(ctx context.Context) error
}
