// Package dispatch runs synthesis calls for a chunk sequence with bounded
// concurrency and returns the results in chunk-index order.
//
// Each worker writes only its own preallocated result slot, so the results
// need no locking; they are read only after every worker has returned. The
// first per-chunk failure cancels the calls still in flight and the
// dispatch fails as a whole with a *speech.PipelineError, never with a
// partial result.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/maauso/speechstitch/internal/engine"
	"github.com/maauso/speechstitch/internal/speech"
)

const instrumentationName = "github.com/maauso/speechstitch/internal/dispatch"

// Outcome attribute values of the chunk counter.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
)

// ProgressFunc is called after each successful chunk with the chunk index
// and the number of chunks done so far. It is called from worker goroutines
// and must be safe for concurrent use.
type ProgressFunc func(index, done, total int)

// Dispatcher fans chunk synthesis out to an engine.
type Dispatcher struct {
	synth       engine.Synthesizer
	cfg         speech.Config
	logger      *slog.Logger
	meter       metric.Meter
	tracer      trace.Tracer
	progress    ProgressFunc
	voicePrompt []byte

	chunks   metric.Int64Counter
	duration metric.Float64Histogram
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMeter sets the meter used for chunk metrics. Defaults to the global
// meter provider.
func WithMeter(m metric.Meter) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.meter = m
		}
	}
}

// WithTracer sets the tracer used for per-chunk spans. Defaults to the
// global tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(d *Dispatcher) { d.progress = fn }
}

// WithVoicePrompt sets the voice reference sent with every chunk.
func WithVoicePrompt(prompt []byte) Option {
	return func(d *Dispatcher) { d.voicePrompt = prompt }
}

// New creates a Dispatcher for synth. cfg must be valid.
func New(synth engine.Synthesizer, cfg speech.Config, opts ...Option) (*Dispatcher, error) {
	if synth == nil {
		return nil, &speech.ValidationError{Field: "synthesizer", Message: "must not be nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		synth:  synth,
		cfg:    cfg,
		logger: slog.Default(),
		meter:  otel.Meter(instrumentationName),
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(d)
	}

	var err error
	d.chunks, err = d.meter.Int64Counter("speechstitch.chunks.synthesized",
		metric.WithDescription("Chunk synthesis calls by outcome"))
	if err != nil {
		return nil, fmt.Errorf("create chunk counter: %w", err)
	}
	d.duration, err = d.meter.Float64Histogram("speechstitch.chunk.synthesis.duration",
		metric.WithDescription("Chunk synthesis latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	return d, nil
}

// Dispatch synthesizes every chunk and returns one result per chunk in
// ascending index order. chunks must be numbered 0..n-1 in order.
//
// When any chunk fails, Dispatch returns a *speech.PipelineError naming the
// failed chunks. When ctx is canceled it returns an error matching both
// speech.ErrCanceled and ctx.Err().
func (d *Dispatcher) Dispatch(ctx context.Context, chunks []speech.TextChunk) ([]speech.ChunkResult, error) {
	for i, c := range chunks {
		if c.Index != i {
			return nil, &speech.ValidationError{
				Field:   "chunks",
				Message: fmt.Sprintf("chunk at position %d has index %d", i, c.Index),
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, canceled(err)
	}

	total := len(chunks)
	results := make([]speech.ChunkResult, total)
	failures := make([]speech.ChunkFailure, total)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.ConcurrencyLimit)
	for i, c := range chunks {
		g.Go(func() error {
			res, err := d.synthesize(gctx, c)
			if err != nil {
				if f, ok := err.(speech.ChunkFailure); ok {
					failures[i] = f
				}
				return err
			}
			results[i] = res
			if d.progress != nil {
				d.progress(i, int(done.Add(1)), total)
			}
			return nil
		})
	}
	waitErr := g.Wait()

	if err := ctx.Err(); err != nil {
		d.logger.Warn("dispatch canceled",
			slog.Int("chunks", total),
			slog.Int64("completed", done.Load()),
		)
		return nil, canceled(err)
	}

	var failed []speech.ChunkFailure
	for _, f := range failures {
		if f != nil {
			failed = append(failed, f)
		}
	}
	if len(failed) > 0 {
		perr := &speech.PipelineError{Total: total, Failures: failed}
		d.logger.Error("dispatch failed",
			slog.Int("chunks", total),
			slog.Any("failed_indices", perr.FailedIndices()),
		)
		return nil, perr
	}
	if waitErr != nil {
		return nil, waitErr
	}
	return results, nil
}

// synthesize runs one chunk under its own timeout. It returns a
// speech.ChunkFailure for failures attributable to the chunk and the bare
// group context error when the chunk was abandoned because the dispatch
// as a whole was stopped.
func (d *Dispatcher) synthesize(ctx context.Context, c speech.TextChunk) (speech.ChunkResult, error) {
	if err := ctx.Err(); err != nil {
		return speech.ChunkResult{}, err
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.chunk", trace.WithAttributes(
		attribute.Int("chunk.index", c.Index),
		attribute.Int("chunk.chars", c.Len()),
	))
	defer span.End()

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if d.cfg.ChunkTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d.cfg.ChunkTimeout)
	}
	defer cancel()

	start := time.Now()
	audio, err := d.call(callCtx, engine.Request{Text: c.Text, VoicePrompt: d.voicePrompt})
	if err == nil {
		err = engine.CheckAudio(audio)
	}
	elapsed := time.Since(start)

	if err != nil {
		// Only the group's own cancellation marks a chunk abandoned; an engine
		// failure that lands after a sibling failed is still a failure.
		if gerr := ctx.Err(); gerr != nil && errors.Is(err, gerr) {
			span.SetStatus(codes.Error, "abandoned")
			return speech.ChunkResult{}, gerr
		}
		var failure speech.ChunkFailure
		outcome := outcomeError
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			failure = &speech.SynthesisTimeoutError{Index: c.Index, Timeout: d.cfg.ChunkTimeout}
			outcome = outcomeTimeout
		} else {
			failure = &speech.SynthesisError{Index: c.Index, Err: err}
		}
		d.record(ctx, outcome, elapsed)
		span.RecordError(failure)
		span.SetStatus(codes.Error, failure.Error())
		d.logger.Warn("chunk synthesis failed",
			slog.Int("index", c.Index),
			slog.String("outcome", outcome),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return speech.ChunkResult{}, failure
	}

	d.record(ctx, outcomeOK, elapsed)
	d.logger.Debug("chunk synthesized",
		slog.Int("index", c.Index),
		slog.Int("samples", len(audio.Samples)),
		slog.Int("sample_rate", audio.SampleRate),
		slog.Duration("elapsed", elapsed),
	)
	return speech.ChunkResult{
		Index:        c.Index,
		Samples:      audio.Samples,
		SampleRate:   audio.SampleRate,
		OverlapRatio: c.OverlapRatio(),
	}, nil
}

// call invokes the engine and stops waiting once ctx is done, even when
// the engine itself ignores ctx; the buffered channel lets an abandoned
// call finish and exit on its own. An answer that is already in when ctx
// ends wins over the context error.
func (d *Dispatcher) call(ctx context.Context, req engine.Request) (speech.Audio, error) {
	type answer struct {
		audio speech.Audio
		err   error
	}
	ch := make(chan answer, 1)
	go func() {
		a, err := d.synth.Synthesize(ctx, req)
		ch <- answer{audio: a, err: err}
	}()

	select {
	case ans := <-ch:
		return ans.audio, ans.err
	case <-ctx.Done():
		select {
		case ans := <-ch:
			return ans.audio, ans.err
		default:
			return speech.Audio{}, ctx.Err()
		}
	}
}

func (d *Dispatcher) record(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	d.chunks.Add(ctx, 1, attrs)
	d.duration.Record(ctx, elapsed.Seconds(), attrs)
}

func canceled(err error) error {
	return fmt.Errorf("%w: %w", speech.ErrCanceled, err)
}
