package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/speechstitch/internal/audio"
	"github.com/maauso/speechstitch/internal/runpod"
	"github.com/maauso/speechstitch/internal/speech"
)

// ErrJobFailed is returned when a remote job ends in a non-completed state.
var ErrJobFailed = errors.New("engine: remote job did not complete")

// cancelTimeout bounds the best-effort cancel sent for an abandoned job.
const cancelTimeout = 5 * time.Second

// RunPodEngine adapts a RunPod serverless TTS worker to Synthesizer. Each
// call submits one job and polls it until it reaches a terminal state.
type RunPodEngine struct {
	client       runpod.Client
	pollInterval time.Duration
	logger       *slog.Logger
}

// RunPodOption configures a RunPodEngine.
type RunPodOption func(*RunPodEngine)

// WithPollInterval sets the delay between status polls. Defaults to 1s.
func WithPollInterval(d time.Duration) RunPodOption {
	return func(e *RunPodEngine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithRunPodLogger sets the logger.
func WithRunPodLogger(l *slog.Logger) RunPodOption {
	return func(e *RunPodEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewRunPodEngine creates a RunPod engine adapter.
func NewRunPodEngine(client runpod.Client, opts ...RunPodOption) *RunPodEngine {
	e := &RunPodEngine{
		client:       client,
		pollInterval: time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Synthesize submits req as a RunPod job and waits for its audio. When ctx
// ends first the remote job is cancelled.
func (e *RunPodEngine) Synthesize(ctx context.Context, req Request) (speech.Audio, error) {
	if req.Text == "" {
		return speech.Audio{}, ErrEmptyText
	}

	input := runpod.SynthesisInput{Text: req.Text}
	if len(req.VoicePrompt) > 0 {
		input.VoicePromptBase64 = base64.StdEncoding.EncodeToString(req.VoicePrompt)
	}
	jobID, err := e.client.Submit(ctx, input)
	if err != nil {
		return speech.Audio{}, fmt.Errorf("runpod engine submit: %w", err)
	}

	result, err := e.wait(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			e.cancel(ctx, jobID)
		}
		return speech.Audio{}, err
	}

	data, err := base64.StdEncoding.DecodeString(result.AudioBase64)
	if err != nil {
		return speech.Audio{}, fmt.Errorf("%w: decode audio base64: %w", ErrInvalidResponse, err)
	}
	a, err := audio.DecodeWAVBytes(data)
	if err != nil {
		return speech.Audio{}, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if err := CheckAudio(a); err != nil {
		return speech.Audio{}, err
	}
	return a, nil
}

func (e *RunPodEngine) wait(ctx context.Context, jobID string) (runpod.PollResult, error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		result, err := e.client.Poll(ctx, jobID)
		if err != nil {
			return runpod.PollResult{}, fmt.Errorf("runpod engine poll %s: %w", jobID, err)
		}

		switch {
		case result.Status == runpod.StatusCompleted:
			return result, nil
		case result.Status == runpod.StatusFailed:
			return runpod.PollResult{}, fmt.Errorf("%w: job %s failed: %s", ErrJobFailed, jobID, result.Error)
		case result.Status.IsTerminal():
			return runpod.PollResult{}, fmt.Errorf("%w: job %s ended with status %s", ErrJobFailed, jobID, result.Status)
		}

		select {
		case <-ctx.Done():
			return runpod.PollResult{}, fmt.Errorf("runpod engine wait %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *RunPodEngine) cancel(ctx context.Context, jobID string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if err := e.client.Cancel(cctx, jobID); err != nil {
		e.logger.Warn("failed to cancel runpod job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// Compile-time check that RunPodEngine implements Synthesizer.
var _ Synthesizer = (*RunPodEngine)(nil)
