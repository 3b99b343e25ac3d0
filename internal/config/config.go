// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/maauso/speechstitch/internal/speech"
)

// Engine providers.
const (
	ProviderHTTP   = "http"
	ProviderRunPod = "runpod"
	ProviderBeam   = "beam"
)

// Static errors for configuration validation.
var (
	// ErrUnknownProvider is returned when ENGINE_PROVIDER is not a known provider.
	ErrUnknownProvider = errors.New("config: ENGINE_PROVIDER must be http, runpod or beam")
	// ErrEngineURLRequired is returned when the http provider has no ENGINE_URL.
	ErrEngineURLRequired = errors.New("config: ENGINE_URL is required for the http provider")
	// ErrRunPodAPIKeyRequired is returned when RUNPOD_API_KEY is not set.
	ErrRunPodAPIKeyRequired = errors.New("config: RUNPOD_API_KEY is required")
	// ErrRunPodEndpointIDRequired is returned when RUNPOD_ENDPOINT_ID is not set.
	ErrRunPodEndpointIDRequired = errors.New("config: RUNPOD_ENDPOINT_ID is required")
	// ErrBeamTokenRequired is returned when BEAM_TOKEN is not set.
	ErrBeamTokenRequired = errors.New("config: BEAM_TOKEN is required")
	// ErrBeamQueueURLRequired is returned when BEAM_QUEUE_URL is not set.
	ErrBeamQueueURLRequired = errors.New("config: BEAM_QUEUE_URL is required")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	MaxBodyBytes   int64    `env:"MAX_BODY_BYTES, default=67108864" json:"max_body_bytes"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// Engine settings
	EngineProvider   string        `env:"ENGINE_PROVIDER, default=http" json:"engine_provider"`
	EngineURL        string        `env:"ENGINE_URL" json:"engine_url,omitempty"`
	EngineAPIKey     string        `env:"ENGINE_API_KEY" json:"-"` // Masked in JSON
	EngineTimeout    time.Duration `env:"ENGINE_TIMEOUT, default=180s" json:"engine_timeout"`
	EngineMaxRetries int           `env:"ENGINE_MAX_RETRIES, default=0" json:"engine_max_retries"`

	// RunPod settings
	RunPodAPIKey       string        `env:"RUNPOD_API_KEY" json:"-"` // Masked in JSON
	RunPodEndpointID   string        `env:"RUNPOD_ENDPOINT_ID" json:"runpod_endpoint_id,omitempty"`
	RunPodPollInterval time.Duration `env:"RUNPOD_POLL_INTERVAL, default=2s" json:"runpod_poll_interval"`

	// Beam settings
	BeamToken        string        `env:"BEAM_TOKEN" json:"-"` // Masked in JSON
	BeamQueueURL     string        `env:"BEAM_QUEUE_URL" json:"beam_queue_url,omitempty"`
	BeamPollInterval time.Duration `env:"BEAM_POLL_INTERVAL, default=2s" json:"beam_poll_interval"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/speechstitch" json:"temp_dir"`

	// Pipeline settings
	MaxChunkSize     int           `env:"MAX_CHUNK_SIZE, default=800" json:"max_chunk_size"`
	SilenceDuration  float64       `env:"SILENCE_DURATION, default=0.5" json:"silence_duration"`
	FadeDuration     float64       `env:"FADE_DURATION, default=0.1" json:"fade_duration"`
	OverlapSentences int           `env:"OVERLAP_SENTENCES, default=0" json:"overlap_sentences"`
	ConcurrencyLimit int           `env:"CONCURRENCY_LIMIT, default=4" json:"concurrency_limit"`
	ChunkTimeout     time.Duration `env:"CHUNK_TIMEOUT, default=120s" json:"chunk_timeout"`
	TrimOverlap      bool          `env:"TRIM_OVERLAP, default=true" json:"trim_overlap"`
	NormalizePeak    float64       `env:"NORMALIZE_PEAK, default=0" json:"normalize_peak"`

	// Job settings
	JobTimeout time.Duration `env:"JOB_TIMEOUT, default=30m" json:"job_timeout"`
	JobTTL     time.Duration `env:"JOB_TTL, default=24h" json:"job_ttl"`

	// Media settings
	FFmpegPath       string `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`
	MP3Bitrate       int    `env:"MP3_BITRATE, default=128" json:"mp3_bitrate"`
	PromptSampleRate int    `env:"PROMPT_SAMPLE_RATE, default=24000" json:"prompt_sample_rate"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json", "text" or "pretty"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
	LogFile   string `env:"LOG_FILE" json:"log_file,omitempty"`

	// Telemetry settings
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" json:"otlp_endpoint,omitempty"`
	OTLPInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE, default=false" json:"otlp_insecure"`
	StdoutTraces bool   `env:"OTEL_TRACES_STDOUT, default=false" json:"stdout_traces"`
	Environment  string `env:"DEPLOYMENT_ENVIRONMENT" json:"environment,omitempty"`
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return LoadWithLookuper(envconfig.OsLookuper())
}

// LoadWithLookuper reads configuration through l instead of the process
// environment.
func LoadWithLookuper(l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the selected engine provider is fully configured
// and that the pipeline settings form a valid speech.Config.
func (c *Config) Validate() error {
	switch strings.ToLower(c.EngineProvider) {
	case ProviderHTTP:
		if c.EngineURL == "" {
			return ErrEngineURLRequired
		}
	case ProviderRunPod:
		if c.RunPodAPIKey == "" {
			return ErrRunPodAPIKeyRequired
		}
		if c.RunPodEndpointID == "" {
			return ErrRunPodEndpointIDRequired
		}
	case ProviderBeam:
		if c.BeamToken == "" {
			return ErrBeamTokenRequired
		}
		if c.BeamQueueURL == "" {
			return ErrBeamQueueURLRequired
		}
	default:
		return ErrUnknownProvider
	}
	if _, err := c.PipelineConfig(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// PipelineConfig builds the validated pipeline configuration.
func (c *Config) PipelineConfig() (speech.Config, error) {
	return speech.NewConfig(
		speech.WithMaxChunkSize(c.MaxChunkSize),
		speech.WithSilenceDuration(c.SilenceDuration),
		speech.WithFadeDuration(c.FadeDuration),
		speech.WithOverlapSentences(c.OverlapSentences),
		speech.WithConcurrencyLimit(c.ConcurrencyLimit),
		speech.WithChunkTimeout(c.ChunkTimeout),
		speech.WithTrimOverlap(c.TrimOverlap),
		speech.WithNormalizePeak(c.NormalizePeak),
	)
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production;
// "pretty" gives colored console output. Otherwise, it outputs
// human-readable text logs. LogFile redirects output to a rotating file.
func (c *Config) NewLogger() *slog.Logger {
	return slog.New(c.newHandler(c.logWriter()))
}

func (c *Config) newHandler(w io.Writer) slog.Handler {
	level := parseLogLevel(c.LogLevel)

	switch strings.ToLower(c.LogFormat) {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	case "pretty":
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    c.LogFile != "",
		})
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	}
}

func (c *Config) logWriter() io.Writer {
	if c.LogFile == "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, EngineProvider: %s, EngineURL: %s, RunPodEndpointID: %s, BeamQueueURL: %s, TempDir: %s, MaxChunkSize: %d, ConcurrencyLimit: %d, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.EngineProvider,
		c.EngineURL,
		c.RunPodEndpointID,
		c.BeamQueueURL,
		c.TempDir,
		c.MaxChunkSize,
		c.ConcurrencyLimit,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
