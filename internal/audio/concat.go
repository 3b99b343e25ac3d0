// Package audio assembles synthesized chunk audio into a single track and
// encodes it as WAV.
package audio

import (
	"fmt"
	"math"

	"github.com/maauso/speechstitch/internal/speech"
)

// Concatenate merges results, which must be in ascending index order and
// share one sample rate, into a single track. Each chunk is processed on a
// copy: the overlap audio is trimmed when cfg.TrimOverlap is set, the chunk
// is peak normalized when cfg.NormalizePeak is positive, and linear fades
// are applied at inner boundaries. cfg.SilenceDuration seconds of silence
// separate consecutive chunks.
//
// The returned result has ChunksProcessed set; TotalCharacters is left for
// the caller, which owns the text.
func Concatenate(results []speech.ChunkResult, cfg speech.Config) (*speech.Result, error) {
	if len(results) == 0 {
		return nil, &speech.ConcatenationError{Message: "no chunk results"}
	}
	rate := results[0].SampleRate
	if rate <= 0 {
		return nil, &speech.ConcatenationError{Message: fmt.Sprintf("chunk 0 has invalid sample rate %d", rate)}
	}
	for i, r := range results {
		if r.Index != i {
			return nil, &speech.ConcatenationError{
				Message: fmt.Sprintf("result at position %d has index %d, want %d", i, r.Index, i),
			}
		}
		if r.SampleRate != rate {
			return nil, &speech.ConcatenationError{
				Message: fmt.Sprintf("chunk %d has sample rate %d, chunk 0 has %d", i, r.SampleRate, rate),
			}
		}
	}

	silence := SamplesFor(cfg.SilenceDuration, rate)
	fade := SamplesFor(cfg.FadeDuration, rate)

	parts := make([][]float32, len(results))
	size := silence * (len(results) - 1)
	for i, r := range results {
		samples := r.Samples
		if cfg.TrimOverlap {
			samples = samples[OverlapSamples(len(samples), r.OverlapRatio):]
		}
		parts[i] = samples
		size += len(samples)
	}

	out := make([]float32, 0, size)
	last := len(parts) - 1
	for i, p := range parts {
		start := len(out)
		out = append(out, p...)
		seg := out[start:]
		if cfg.NormalizePeak > 0 {
			Normalize(seg, cfg.NormalizePeak)
		}
		if i > 0 {
			FadeIn(seg, fade)
		}
		if i < last {
			FadeOut(seg, fade)
			out = append(out, make([]float32, silence)...)
		}
	}

	return &speech.Result{
		Samples:              out,
		SampleRate:           rate,
		TotalDurationSeconds: float64(len(out)) / float64(rate),
		ChunksProcessed:      len(results),
	}, nil
}

// SamplesFor returns the number of samples in sec seconds at rate.
func SamplesFor(sec float64, rate int) int {
	if sec <= 0 || rate <= 0 {
		return 0
	}
	return int(math.Round(sec * float64(rate)))
}

// OverlapSamples returns how many leading samples of an n-sample chunk
// belong to its overlap prefix, assuming speech time is proportional to
// text length.
func OverlapSamples(n int, ratio float64) int {
	if ratio <= 0 || n <= 0 {
		return 0
	}
	return min(int(math.Floor(float64(n)*ratio)), n)
}

// FadeIn ramps the first n samples linearly from 0 to 1 in place.
// n is clamped to half the buffer.
func FadeIn(samples []float32, n int) {
	n = min(n, len(samples)/2)
	for i := 0; i < n; i++ {
		samples[i] *= float32(i) / float32(n)
	}
}

// FadeOut ramps the last n samples linearly from 1 to 0 in place.
// n is clamped to half the buffer.
func FadeOut(samples []float32, n int) {
	n = min(n, len(samples)/2)
	off := len(samples) - n
	for i := 0; i < n; i++ {
		samples[off+i] *= float32(n-1-i) / float32(n)
	}
}

// Normalize scales samples in place so the absolute peak equals peak.
// Silent buffers are left untouched.
func Normalize(samples []float32, peak float64) {
	var top float32
	for _, s := range samples {
		top = max(top, float32(math.Abs(float64(s))))
	}
	if top == 0 {
		return
	}
	gain := float32(peak) / top
	for i := range samples {
		samples[i] *= gain
	}
}
