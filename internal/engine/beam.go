package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/speechstitch/internal/audio"
	"github.com/maauso/speechstitch/internal/beam"
	"github.com/maauso/speechstitch/internal/speech"
)

// BeamEngine adapts a Beam.cloud task queue TTS worker to Synthesizer.
// Each call submits one task, polls it to a terminal state and downloads
// the WAV output it produced.
type BeamEngine struct {
	client       beam.Client
	pollInterval time.Duration
	logger       *slog.Logger
}

// BeamOption configures a BeamEngine.
type BeamOption func(*BeamEngine)

// WithBeamPollInterval sets the delay between status polls. Defaults to 2s.
func WithBeamPollInterval(d time.Duration) BeamOption {
	return func(e *BeamEngine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithBeamLogger sets the logger.
func WithBeamLogger(l *slog.Logger) BeamOption {
	return func(e *BeamEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewBeamEngine creates a Beam engine adapter.
func NewBeamEngine(client beam.Client, opts ...BeamOption) *BeamEngine {
	e := &BeamEngine{
		client:       client,
		pollInterval: 2 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Synthesize submits req as a Beam task and returns the decoded output.
func (e *BeamEngine) Synthesize(ctx context.Context, req Request) (speech.Audio, error) {
	if req.Text == "" {
		return speech.Audio{}, ErrEmptyText
	}

	input := beam.SynthesisInput{Text: req.Text}
	if len(req.VoicePrompt) > 0 {
		input.VoicePromptBase64 = base64.StdEncoding.EncodeToString(req.VoicePrompt)
	}
	taskID, err := e.client.Submit(ctx, input)
	if err != nil {
		return speech.Audio{}, fmt.Errorf("beam engine submit: %w", err)
	}
	e.logger.Debug("beam task submitted", slog.String("task_id", taskID))

	outputURL, err := e.wait(ctx, taskID)
	if err != nil {
		return speech.Audio{}, err
	}

	data, err := e.client.DownloadOutput(ctx, outputURL)
	if err != nil {
		return speech.Audio{}, fmt.Errorf("beam engine download %s: %w", taskID, err)
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

func (e *BeamEngine) wait(ctx context.Context, taskID string) (string, error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		result, err := e.client.Poll(ctx, taskID)
		if err != nil {
			return "", fmt.Errorf("beam engine poll %s: %w", taskID, err)
		}

		switch {
		case result.Status == beam.StatusCompleted && result.OutputURL != "":
			return result.OutputURL, nil
		case result.Status == beam.StatusCompleted:
			return "", fmt.Errorf("%w: task %s: %w", ErrInvalidResponse, taskID, beam.ErrNoOutputURL)
		case result.Status == beam.StatusFailed:
			return "", fmt.Errorf("%w: task %s failed: %s", ErrJobFailed, taskID, result.Error)
		case result.Status.IsTerminal():
			return "", fmt.Errorf("%w: task %s ended with status %s", ErrJobFailed, taskID, result.Status)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("beam engine wait %s: %w", taskID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Compile-time check that BeamEngine implements Synthesizer.
var _ Synthesizer = (*BeamEngine)(nil)
