// Package pipeline turns long text into one waveform: the text is cut into
// chunks, the chunks are synthesized concurrently and the chunk audio is
// stitched back together.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/maauso/speechstitch/internal/audio"
	"github.com/maauso/speechstitch/internal/dispatch"
	"github.com/maauso/speechstitch/internal/engine"
	"github.com/maauso/speechstitch/internal/speech"
	"github.com/maauso/speechstitch/internal/text"
)

const instrumentationName = "github.com/maauso/speechstitch/internal/pipeline"

// Input is one synthesis request.
type Input struct {
	// Text is the full text to speak.
	Text string
	// VoicePrompt is an optional WAV reference for voice cloning, sent
	// unchanged with every chunk.
	VoicePrompt []byte
}

// Pipeline runs synthesis requests against one engine.
type Pipeline struct {
	cfg    speech.Config
	synth  engine.Synthesizer
	logger *slog.Logger
	meter  metric.Meter
	tracer trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMeter sets the meter handed to the dispatcher.
func WithMeter(m metric.Meter) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.meter = m
		}
	}
}

// WithTracer sets the tracer for run and chunk spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// New creates a Pipeline. cfg is validated here so that a bad
// configuration fails at startup rather than on the first request.
func New(cfg speech.Config, synth engine.Synthesizer, opts ...Option) (*Pipeline, error) {
	if synth == nil {
		return nil, &speech.ValidationError{Field: "synthesizer", Message: "must not be nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:    cfg,
		synth:  synth,
		logger: slog.Default(),
		meter:  otel.Meter(instrumentationName),
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the default configuration of the pipeline.
func (p *Pipeline) Config() speech.Config {
	return p.cfg
}

// RunOption adjusts a single Run.
type RunOption func(*runOptions)

type runOptions struct {
	cfg      *speech.Config
	progress dispatch.ProgressFunc
	onChunks func([]speech.TextChunk)
}

// WithConfig overrides the pipeline configuration for one run.
func WithConfig(cfg speech.Config) RunOption {
	return func(o *runOptions) { o.cfg = &cfg }
}

// WithProgress reports chunk completion during one run.
func WithProgress(fn dispatch.ProgressFunc) RunOption {
	return func(o *runOptions) { o.progress = fn }
}

// WithChunks is called with the chunk plan before synthesis starts.
func WithChunks(fn func([]speech.TextChunk)) RunOption {
	return func(o *runOptions) { o.onChunks = fn }
}

// Run synthesizes in.Text. It returns either a complete result or one
// typed error from the speech package; speech.StageOf tells which step
// failed.
func (p *Pipeline) Run(ctx context.Context, in Input, opts ...RunOption) (*speech.Result, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	cfg := p.cfg
	if o.cfg != nil {
		cfg = *o.cfg
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.Int("text.chars", utf8.RuneCountInString(in.Text)),
		attribute.Int("config.max_chunk_size", cfg.MaxChunkSize),
		attribute.Bool("voice_prompt", len(in.VoicePrompt) > 0),
	))
	defer span.End()

	res, err := p.run(ctx, in, cfg, o)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(speech.StageOf(err)))
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("result.chunks", res.ChunksProcessed),
		attribute.Float64("result.duration_seconds", res.TotalDurationSeconds),
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, in Input, cfg speech.Config, o runOptions) (*speech.Result, error) {
	start := time.Now()

	chunks, err := text.Chunk(in.Text, cfg)
	if err != nil {
		p.logger.Warn("chunking failed", slog.String("error", err.Error()))
		return nil, err
	}
	stats := text.Info(chunks)
	p.logger.Info("text chunked",
		slog.Int("chunks", stats.TotalChunks),
		slog.Int("characters", stats.TotalCharacters),
		slog.Int("max_chunk_size", stats.MaxChunkSize),
		slog.Int("min_chunk_size", stats.MinChunkSize),
	)
	if o.onChunks != nil {
		o.onChunks(chunks)
	}

	d, err := dispatch.New(p.synth, cfg,
		dispatch.WithLogger(p.logger),
		dispatch.WithMeter(p.meter),
		dispatch.WithTracer(p.tracer),
		dispatch.WithProgress(o.progress),
		dispatch.WithVoicePrompt(in.VoicePrompt),
	)
	if err != nil {
		return nil, err
	}
	results, err := d.Dispatch(ctx, chunks)
	if err != nil {
		return nil, err
	}
	p.logger.Info("chunks synthesized",
		slog.Int("chunks", len(results)),
		slog.Duration("elapsed", time.Since(start)),
	)

	res, err := audio.Concatenate(results, cfg)
	if err != nil {
		p.logger.Error("concatenation failed", slog.String("error", err.Error()))
		return nil, err
	}
	if res.ChunksProcessed != len(chunks) {
		return nil, &speech.ConcatenationError{
			Message: fmt.Sprintf("merged %d chunks, expected %d", res.ChunksProcessed, len(chunks)),
		}
	}
	res.TotalCharacters = utf8.RuneCountInString(in.Text)

	p.logger.Info("synthesis complete",
		slog.Int("chunks", res.ChunksProcessed),
		slog.Int("characters", res.TotalCharacters),
		slog.Float64("duration_seconds", res.TotalDurationSeconds),
		slog.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}
