package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/speechstitch/internal/speech"
)

func ones(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = 1
	}
	return s
}

func testConfig(t *testing.T, opts ...speech.Option) speech.Config {
	t.Helper()
	cfg, err := speech.NewConfig(opts...)
	require.NoError(t, err)
	return cfg
}

func TestConcatenate_EmptyInput(t *testing.T) {
	_, err := Concatenate(nil, testConfig(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, speech.ErrConcatenation)
	assert.Equal(t, speech.StageConcatenation, speech.StageOf(err))
}

func TestConcatenate_SampleRateMismatch(t *testing.T) {
	results := []speech.ChunkResult{
		{Index: 0, Samples: ones(10), SampleRate: 16000},
		{Index: 1, Samples: ones(10), SampleRate: 22050},
	}
	_, err := Concatenate(results, testConfig(t))
	require.Error(t, err)

	var cerr *speech.ConcatenationError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Message, "22050")
	assert.Contains(t, cerr.Message, "16000")
}

func TestConcatenate_OutOfOrder(t *testing.T) {
	results := []speech.ChunkResult{
		{Index: 1, Samples: ones(10), SampleRate: 8000},
		{Index: 0, Samples: ones(10), SampleRate: 8000},
	}
	_, err := Concatenate(results, testConfig(t))
	assert.ErrorIs(t, err, speech.ErrConcatenation)
}

func TestConcatenate_InvalidSampleRate(t *testing.T) {
	_, err := Concatenate([]speech.ChunkResult{{Index: 0, Samples: ones(4)}}, testConfig(t))
	assert.ErrorIs(t, err, speech.ErrConcatenation)
}

func TestConcatenate_TotalDuration(t *testing.T) {
	const rate = 1000
	results := []speech.ChunkResult{
		{Index: 0, Samples: ones(1000), SampleRate: rate},
		{Index: 1, Samples: ones(2000), SampleRate: rate},
		{Index: 2, Samples: ones(500), SampleRate: rate},
	}
	cfg := testConfig(t, speech.WithSilenceDuration(0.5), speech.WithFadeDuration(0.1))

	res, err := Concatenate(results, cfg)
	require.NoError(t, err)

	var sum float64
	for _, r := range results {
		sum += r.Duration()
	}
	want := sum + float64(len(results)-1)*cfg.SilenceDuration
	assert.InDelta(t, want, res.TotalDurationSeconds, 1e-9)
	assert.Equal(t, 4500, len(res.Samples))
	assert.Equal(t, rate, res.SampleRate)
	assert.Equal(t, 3, res.ChunksProcessed)
}

func TestConcatenate_FadesAndSilence(t *testing.T) {
	const rate = 1000
	first := ones(100)
	second := ones(100)
	results := []speech.ChunkResult{
		{Index: 0, Samples: first, SampleRate: rate},
		{Index: 1, Samples: second, SampleRate: rate},
	}
	cfg := testConfig(t, speech.WithSilenceDuration(0.05), speech.WithFadeDuration(0.01))

	res, err := Concatenate(results, cfg)
	require.NoError(t, err)
	require.Len(t, res.Samples, 250)
	out := res.Samples

	// First chunk: untouched start, faded tail ending at zero.
	assert.Equal(t, float32(1), out[0])
	assert.Equal(t, float32(1), out[89])
	assert.Less(t, out[95], float32(1))
	assert.Equal(t, float32(0), out[99])
	for i := 90; i < 99; i++ {
		assert.GreaterOrEqual(t, out[i], out[i+1], "fade-out must be monotonic")
	}

	// Silence gap.
	for i := 100; i < 150; i++ {
		assert.Zero(t, out[i])
	}

	// Second chunk: faded head starting at zero, untouched end.
	assert.Equal(t, float32(0), out[150])
	for i := 150; i < 159; i++ {
		assert.LessOrEqual(t, out[i], out[i+1], "fade-in must be monotonic")
	}
	assert.Equal(t, float32(1), out[160])
	assert.Equal(t, float32(1), out[249])

	// Inputs are not modified.
	assert.Equal(t, ones(100), first)
	assert.Equal(t, ones(100), second)
}

func TestConcatenate_SingleChunkHasNoFades(t *testing.T) {
	res, err := Concatenate([]speech.ChunkResult{{Index: 0, Samples: ones(50), SampleRate: 1000}}, testConfig(t))
	require.NoError(t, err)
	assert.Equal(t, ones(50), res.Samples)
	assert.InDelta(t, 0.05, res.TotalDurationSeconds, 1e-9)
}

func TestConcatenate_TrimOverlap(t *testing.T) {
	results := []speech.ChunkResult{
		{Index: 0, Samples: ones(400), SampleRate: 1000},
		{Index: 1, Samples: ones(400), SampleRate: 1000, OverlapRatio: 0.25},
	}

	trimmed, err := Concatenate(results, testConfig(t, speech.WithSilenceDuration(0), speech.WithFadeDuration(0)))
	require.NoError(t, err)
	assert.Len(t, trimmed.Samples, 700)

	kept, err := Concatenate(results, testConfig(t,
		speech.WithSilenceDuration(0), speech.WithFadeDuration(0), speech.WithTrimOverlap(false)))
	require.NoError(t, err)
	assert.Len(t, kept.Samples, 800)
}

func TestConcatenate_Normalize(t *testing.T) {
	results := []speech.ChunkResult{
		{Index: 0, Samples: []float32{0.1, -0.5, 0.25}, SampleRate: 1000},
	}
	res, err := Concatenate(results, testConfig(t, speech.WithNormalizePeak(0.9)))
	require.NoError(t, err)
	assert.InDelta(t, 0.18, res.Samples[0], 1e-6)
	assert.InDelta(t, -0.9, res.Samples[1], 1e-6)
	assert.InDelta(t, 0.45, res.Samples[2], 1e-6)
}

func TestFadeClampedToHalfBuffer(t *testing.T) {
	s := ones(10)
	FadeIn(s, 100)
	assert.Equal(t, float32(0), s[0])
	assert.Equal(t, float32(1), s[5])
	assert.Equal(t, float32(1), s[9])

	s = ones(10)
	FadeOut(s, 100)
	assert.Equal(t, float32(1), s[0])
	assert.Equal(t, float32(1), s[4])
	assert.Equal(t, float32(0), s[9])

	FadeIn(nil, 5)
	FadeOut([]float32{}, 5)
}

func TestNormalizeSilence(t *testing.T) {
	s := []float32{0, 0, 0}
	Normalize(s, 0.95)
	assert.Equal(t, []float32{0, 0, 0}, s)
}

func TestSamplesFor(t *testing.T) {
	assert.Equal(t, 8000, SamplesFor(0.5, 16000))
	assert.Equal(t, 2205, SamplesFor(0.1, 22050))
	assert.Zero(t, SamplesFor(0, 16000))
	assert.Zero(t, SamplesFor(1, 0))
}

func TestOverlapSamples(t *testing.T) {
	assert.Equal(t, 100, OverlapSamples(400, 0.25))
	assert.Equal(t, 33, OverlapSamples(100, 1.0/3.0))
	assert.Zero(t, OverlapSamples(100, 0))
	assert.Equal(t, 10, OverlapSamples(10, 2))
}
