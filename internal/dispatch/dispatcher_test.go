package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/maauso/speechstitch/internal/engine"
	"github.com/maauso/speechstitch/internal/speech"
)

func makeChunks(n int) []speech.TextChunk {
	chunks := make([]speech.TextChunk, n)
	for i := range chunks {
		chunks[i] = speech.TextChunk{Index: i, Text: fmt.Sprintf("chunk %d", i)}
	}
	return chunks
}

func chunkIndex(t *testing.T, req engine.Request) int {
	t.Helper()
	var i int
	_, err := fmt.Sscanf(req.Text, "chunk %d", &i)
	require.NoError(t, err)
	return i
}

func testConfig(t *testing.T, opts ...speech.Option) speech.Config {
	t.Helper()
	cfg, err := speech.NewConfig(opts...)
	require.NoError(t, err)
	return cfg
}

func newDispatcher(t *testing.T, fn engine.SynthesizeFunc, cfg speech.Config, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := New(fn, cfg, opts...)
	require.NoError(t, err)
	return d
}

func TestDispatch_ResultsInIndexOrder(t *testing.T) {
	const n = 5
	synth := func(ctx context.Context, req engine.Request) (speech.Audio, error) {
		i := chunkIndex(t, req)
		// Later chunks finish first.
		time.Sleep(time.Duration(n-i) * 15 * time.Millisecond)
		return speech.Audio{Samples: []float32{float32(i)}, SampleRate: 16000}, nil
	}
	d := newDispatcher(t, synth, testConfig(t, speech.WithConcurrencyLimit(n)))

	results, err := d.Dispatch(context.Background(), makeChunks(n))
	require.NoError(t, err)
	require.Len(t, results, n)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, float32(i), r.Samples[0])
		assert.Equal(t, 16000, r.SampleRate)
	}
}

func TestDispatch_OneFailureFailsPipeline(t *testing.T) {
	engineErr := errors.New("engine unavailable")
	synth := func(ctx context.Context, req engine.Request) (speech.Audio, error) {
		if chunkIndex(t, req) == 1 {
			return speech.Audio{}, engineErr
		}
		return speech.Audio{Samples: []float32{0.1}, SampleRate: 16000}, nil
	}
	d := newDispatcher(t, synth, testConfig(t, speech.WithConcurrencyLimit(1)))

	results, err := d.Dispatch(context.Background(), makeChunks(3))
	require.Error(t, err)
	assert.Nil(t, results)

	var perr *speech.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []int{1}, perr.FailedIndices())
	assert.Equal(t, 3, perr.Total)
	assert.ErrorIs(t, err, speech.ErrPipeline)
	assert.ErrorIs(t, err, speech.ErrSynthesis)
	assert.ErrorIs(t, err, engineErr)
	assert.Equal(t, speech.StageSynthesis, speech.StageOf(err))
}

func TestDispatch_FirstFailureCancelsInFlight(t *testing.T) {
	var abandoned atomic.Bool
	synth := func(ctx context.Context, req engine.Request) (speech.Audio, error) {
		if chunkIndex(t, req) == 0 {
			time.Sleep(10 * time.Millisecond)
			return speech.Audio{}, errors.New("boom")
		}
		<-ctx.Done()
		abandoned.Store(true)
		return speech.Audio{}, ctx.Err()
	}
	d := newDispatcher(t, synth, testConfig(t, speech.WithConcurrencyLimit(3)))

	_, err := d.Dispatch(context.Background(), makeChunks(3))

	var perr *speech.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []int{0}, perr.FailedIndices(), "canceled siblings are not reported as failures")
	assert.Eventually(t, abandoned.Load, time.Second, 5*time.Millisecond)
}

func TestDispatch_ReportsEverySimultaneousFailure(t *testing.T) {
	for trial := 0; trial < 50; trial++ {
		var arrived sync.WaitGroup
		arrived.Add(2)
		synth := func(ctx context.Context, req engine.Request) (speech.Audio, error) {
			i := chunkIndex(t, req)
			if i == 2 {
				<-ctx.Done()
				return speech.Audio{}, ctx.Err()
			}
			// Both failing chunks return together.
			arrived.Done()
			arrived.Wait()
			return speech.Audio{}, fmt.Errorf("backend crashed on chunk %d", i)
		}
		d := newDispatcher(t, synth, testConfig(t, speech.WithConcurrencyLimit(3)))

		_, err := d.Dispatch(context.Background(), makeChunks(3))

		var perr *speech.PipelineError
		require.ErrorAs(t, err, &perr)
		require.Equal(t, []int{0, 1}, perr.FailedIndices(), "trial %d", trial)
		for _, f := range perr.Failures {
			assert.ErrorIs(t, f, speech.ErrSynthesis)
			assert.Contains(t, f.Error(), "backend crashed")
		}
	}
}

func TestDispatch_ChunkTimeout(t *testing.T) {
	synth := func(ctx context.Context, req engine.Request) (speech.Audio, error) {
		if chunkIndex(t, req) == 2 {
			<-ctx.Done()
			return speech.Audio{}, ctx.Err()
		}
		return speech.Audio{Samples: []float32{0.1}, SampleRate: 16000}, nil
	}
	cfg := testConfig(t, speech.WithChunkTimeout(30*time.Millisecond))
	d := newDispatcher(t, synth, cfg)

	_, err := d.Dispatch(context.Background(), makeChunks(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, speech.ErrSynthesisTimeout)

	var terr *speech.SynthesisTimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 2, terr.Index)
	assert.Equal(t, 30*time.Millisecond, terr.Timeout)
}

func TestDispatch_EngineIgnoringContextIsAbandoned(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	synth := func(ctx context.Context, req engine.Request) (speech.Audio, error) {
		<-release
		return speech.Audio{Samples: []float32{0.1}, SampleRate: 16000}, nil
	}
	d := newDispatcher(t, synth, testConfig(t, speech.WithChunkTimeout(20*time.Millisecond)))

	start := time.Now()
	_, err := d.Dispatch(context.Background(), makeChunks(2))
	assert.ErrorIs(t, err, speech.ErrSynthesisTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDispatch_ExternalCancellation(t *testing.T) {
	synth := func(ctx context.Context, req engine.Request) (speech.Audio, error) {
		<-ctx.Done()
		return speech.Audio{}, ctx.Err()
	}
	d := newDispatcher(t, synth, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	results, err := d.Dispatch(ctx, makeChunks(4))
	assert.Nil(t, results)
	assert.ErrorIs(t, err, speech.ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, speech.ErrPipeline)
	assert.Equal(t, speech.StageCanceled, speech.StageOf(err))
}

func TestDispatch_AlreadyCanceled(t *testing.T) {
	var calls atomic.Int32
	synth := func(ctx context.Context, req engine.Request) (speech.Audio, error) {
		calls.Add(1)
		return speech.Audio{Samples: []float32{0}, SampleRate: 8000}, nil
	}
	d := newDispatcher(t, synth, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dispatch(ctx, makeChunks(3))
	assert.ErrorIs(t, err, speech.ErrCanceled)
	assert.Zero(t, calls.Load())
}

func TestDispatch_RespectsConcurrencyLimit(t *testing.T) {
	const limit = 2
	var inFlight, peak atomic.Int32
	synth := func(ctx context.Context, req engine.Request) (speech.Audio, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return speech.Audio{Samples: []float32{0}, SampleRate: 8000}, nil
	}
	d := newDispatcher(t, synth, testConfig(t, speech.WithConcurrencyLimit(limit)))

	results, err := d.Dispatch(context.Background(), makeChunks(8))
	require.NoError(t, err)
	assert.Len(t, results, 8)
	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestDispatch_RejectsUnusableAudio(t *testing.T) {
	tests := []struct {
		name  string
		audio speech.Audio
		want  error
	}{
		{"zero sample rate", speech.Audio{Samples: []float32{0.1}}, engine.ErrInvalidSampleRate},
		{"no samples", speech.Audio{SampleRate: 16000}, engine.ErrEmptyAudio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synth := func(ctx context.Context, req engine.Request) (speech.Audio, error) {
				return tt.audio, nil
			}
			d := newDispatcher(t, synth, testConfig(t))

			_, err := d.Dispatch(context.Background(), makeChunks(1))
			assert.ErrorIs(t, err, speech.ErrSynthesis)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDispatch_ProgressAndVoicePrompt(t *testing.T) {
	prompt := []byte("RIFF-prompt")
	synth := func(ctx context.Context, req engine.Request) (speech.Audio, error) {
		assert.Equal(t, prompt, req.VoicePrompt)
		return speech.Audio{Samples: []float32{0}, SampleRate: 8000}, nil
	}

	var mu sync.Mutex
	var seen, indices []int
	progress := func(index, done, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 4, total)
		seen = append(seen, done)
		indices = append(indices, index)
	}
	d := newDispatcher(t, synth, testConfig(t), WithProgress(progress), WithVoicePrompt(prompt))

	_, err := d.Dispatch(context.Background(), makeChunks(4))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2, 3, 4}, seen)
	assert.ElementsMatch(t, []int{0, 1, 2, 3}, indices)
}

func TestDispatch_CarriesOverlapRatio(t *testing.T) {
	synth := func(ctx context.Context, req engine.Request) (speech.Audio, error) {
		return speech.Audio{Samples: []float32{0}, SampleRate: 8000}, nil
	}
	d := newDispatcher(t, synth, testConfig(t))

	chunks := []speech.TextChunk{
		{Index: 0, Text: "One."},
		{Index: 1, Text: "One. Two.", OverlapLen: 5, LeadingOverlapSentenceCount: 1},
	}
	results, err := d.Dispatch(context.Background(), chunks)
	require.NoError(t, err)
	assert.Zero(t, results[0].OverlapRatio)
	assert.InDelta(t, 5.0/9.0, results[1].OverlapRatio, 1e-9)
}

func TestDispatch_RejectsMisnumberedChunks(t *testing.T) {
	d := newDispatcher(t, func(ctx context.Context, req engine.Request) (speech.Audio, error) {
		return speech.Audio{}, nil
	}, testConfig(t))

	chunks := makeChunks(2)
	chunks[1].Index = 5
	_, err := d.Dispatch(context.Background(), chunks)
	assert.ErrorIs(t, err, speech.ErrValidation)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, speech.DefaultConfig())
	assert.ErrorIs(t, err, speech.ErrValidation)

	_, err = New(engine.SynthesizeFunc(nil), speech.Config{})
	assert.ErrorIs(t, err, speech.ErrValidation)
}

func TestDispatch_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	synth := func(ctx context.Context, req engine.Request) (speech.Audio, error) {
		return speech.Audio{Samples: []float32{0}, SampleRate: 8000}, nil
	}
	d := newDispatcher(t, synth, testConfig(t), WithMeter(provider.Meter("test")))

	_, err := d.Dispatch(context.Background(), makeChunks(3))
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "speechstitch.chunks.synthesized" {
				continue
			}
			found = true
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.True(t, found)
	assert.Equal(t, int64(3), total)
}
