// Package speech defines the data model shared by the chunking, dispatch and
// concatenation stages of the long-form synthesis pipeline: the validated
// pipeline configuration, the chunk and result types, and the error taxonomy
// every stage reports through.
package speech

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Default pipeline settings.
const (
	DefaultMaxChunkSize     = 800
	DefaultSilenceDuration  = 0.5
	DefaultFadeDuration     = 0.1
	DefaultOverlapSentences = 0
	DefaultConcurrencyLimit = 4
	DefaultChunkTimeout     = 120 * time.Second
	DefaultHardSplitFactor  = 4
)

// Config is the immutable pipeline configuration. Obtain one through
// NewConfig so that it is validated before any work begins; the value is
// passed by copy and never mutated by the stages.
type Config struct {
	// MaxChunkSize is the upper bound, in runes, on the text of one chunk.
	MaxChunkSize int `json:"max_chunk_size" validate:"gt=0"`
	// SilenceDuration is the gap, in seconds, inserted between chunks.
	SilenceDuration float64 `json:"silence_duration" validate:"gte=0"`
	// FadeDuration is the length, in seconds, of the boundary fades.
	// It must not exceed SilenceDuration/2.
	FadeDuration float64 `json:"fade_duration" validate:"gte=0"`
	// OverlapSentences is the number of trailing sentences of a chunk that
	// are repeated at the start of the next one for prosodic context.
	OverlapSentences int `json:"overlap_sentences" validate:"gte=0"`
	// ConcurrencyLimit is the maximum number of simultaneous synthesis calls.
	ConcurrencyLimit int `json:"concurrency_limit" validate:"gte=1"`
	// ChunkTimeout bounds each synthesis call. Zero disables the bound.
	ChunkTimeout time.Duration `json:"chunk_timeout" validate:"gte=0"`
	// TrimOverlap drops the leading audio that corresponds to repeated
	// overlap sentences before concatenation.
	TrimOverlap bool `json:"trim_overlap"`
	// NormalizePeak scales each chunk so its absolute peak equals this value.
	// Zero disables normalization.
	NormalizePeak float64 `json:"normalize_peak" validate:"gte=0,lte=1"`
	// HardSplitFactor is the multiple of MaxChunkSize beyond which a single
	// sentence is split at word boundaries instead of kept whole.
	HardSplitFactor int `json:"hard_split_factor" validate:"gte=1"`
}

// Option adjusts a Config before validation.
type Option func(*Config)

// WithMaxChunkSize sets the chunk size bound in runes.
func WithMaxChunkSize(n int) Option {
	return func(c *Config) { c.MaxChunkSize = n }
}

// WithSilenceDuration sets the inter-chunk silence in seconds.
func WithSilenceDuration(sec float64) Option {
	return func(c *Config) { c.SilenceDuration = sec }
}

// WithFadeDuration sets the boundary fade length in seconds.
func WithFadeDuration(sec float64) Option {
	return func(c *Config) { c.FadeDuration = sec }
}

// WithOverlapSentences sets how many sentences are repeated across a boundary.
func WithOverlapSentences(n int) Option {
	return func(c *Config) { c.OverlapSentences = n }
}

// WithConcurrencyLimit sets the maximum number of concurrent synthesis calls.
func WithConcurrencyLimit(n int) Option {
	return func(c *Config) { c.ConcurrencyLimit = n }
}

// WithChunkTimeout sets the per-chunk synthesis timeout.
func WithChunkTimeout(d time.Duration) Option {
	return func(c *Config) { c.ChunkTimeout = d }
}

// WithTrimOverlap enables or disables trimming of overlap audio.
func WithTrimOverlap(enabled bool) Option {
	return func(c *Config) { c.TrimOverlap = enabled }
}

// WithNormalizePeak sets the per-chunk peak normalization target.
func WithNormalizePeak(peak float64) Option {
	return func(c *Config) { c.NormalizePeak = peak }
}

// WithHardSplitFactor sets the oversized-sentence safety multiple.
func WithHardSplitFactor(n int) Option {
	return func(c *Config) { c.HardSplitFactor = n }
}

// DefaultConfig returns the default configuration. It is valid as is.
func DefaultConfig() Config {
	return Config{
		MaxChunkSize:     DefaultMaxChunkSize,
		SilenceDuration:  DefaultSilenceDuration,
		FadeDuration:     DefaultFadeDuration,
		OverlapSentences: DefaultOverlapSentences,
		ConcurrencyLimit: DefaultConcurrencyLimit,
		ChunkTimeout:     DefaultChunkTimeout,
		TrimOverlap:      true,
		HardSplitFactor:  DefaultHardSplitFactor,
	}
}

// NewConfig applies opts over DefaultConfig and validates the result.
// Invalid values are reported as a *ValidationError.
func NewConfig(opts ...Option) (Config, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field constraint. It returns a *ValidationError
// naming the first offending field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{
				Field:   fe.Field(),
				Message: fmt.Sprintf("must satisfy %s=%s, got %v", fe.Tag(), fe.Param(), fe.Value()),
			}
		}
		return &ValidationError{Message: err.Error()}
	}
	if c.FadeDuration > c.SilenceDuration/2 {
		return &ValidationError{
			Field:   "fade_duration",
			Message: fmt.Sprintf("must not exceed silence_duration/2 (%.3fs), got %.3fs", c.SilenceDuration/2, c.FadeDuration),
		}
	}
	return nil
}
