// Package bootstrap provides dependency initialization for the speech
// synthesis service.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/maauso/speechstitch/internal/beam"
	"github.com/maauso/speechstitch/internal/config"
	"github.com/maauso/speechstitch/internal/engine"
	"github.com/maauso/speechstitch/internal/job"
	"github.com/maauso/speechstitch/internal/media"
	"github.com/maauso/speechstitch/internal/pipeline"
	"github.com/maauso/speechstitch/internal/runpod"
	"github.com/maauso/speechstitch/internal/speech"
	"github.com/maauso/speechstitch/internal/storage"
	"github.com/maauso/speechstitch/internal/telemetry"
)

const instrumentationName = "github.com/maauso/speechstitch"

// Dependencies holds all initialized dependencies for the HTTP server and
// the CLI.
type Dependencies struct {
	Config         *config.Config
	PipelineConfig speech.Config
	Engine         engine.Synthesizer
	// Health is nil when the engine cannot report reachability.
	Health    engine.HealthChecker
	Storage   storage.Storage
	Service   *job.Service
	Telemetry *telemetry.Telemetry

	logger *slog.Logger
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pcfg, err := cfg.PipelineConfig()
	if err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}

	// Initialize telemetry
	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  "speechstitch",
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
		StdoutTraces: cfg.StdoutTraces,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	deps, err := build(ctx, cfg, pcfg, tel, logger)
	if err != nil {
		_ = tel.Shutdown(context.WithoutCancel(ctx))
		return nil, err
	}
	return deps, nil
}

func build(ctx context.Context, cfg *config.Config, pcfg speech.Config, tel *telemetry.Telemetry, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize the synthesis engine
	synth, provider, err := initEngine(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize the pipeline
	pipe, err := pipeline.New(pcfg, synth,
		pipeline.WithLogger(logger),
		pipeline.WithMeter(tel.Meter(instrumentationName)),
		pipeline.WithTracer(tel.Tracer(instrumentationName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	// Initialize media converter for voice prompts and MP3 output
	converter := media.NewConverter(media.NewFFmpegProcessor(cfg.FFmpegPath), store)

	// Initialize job repository and service
	repo := job.NewMemoryRepository()
	svc := job.NewService(repo, pipe, store,
		job.WithLogger(logger),
		job.WithTranscoder(converter),
		job.WithProvider(provider),
		job.WithJobTimeout(cfg.JobTimeout),
		job.WithMP3Bitrate(cfg.MP3Bitrate),
		job.WithPromptSampleRate(cfg.PromptSampleRate),
	)

	deps := &Dependencies{
		Config:         cfg,
		PipelineConfig: pcfg,
		Engine:         synth,
		Storage:        store,
		Service:        svc,
		Telemetry:      tel,
		logger:         logger,
	}
	if hc, ok := synth.(engine.HealthChecker); ok {
		deps.Health = hc
	}
	return deps, nil
}

// initEngine creates the synthesis backend selected by ENGINE_PROVIDER.
func initEngine(cfg *config.Config, logger *slog.Logger) (engine.Synthesizer, job.Provider, error) {
	switch strings.ToLower(cfg.EngineProvider) {
	case config.ProviderRunPod:
		client, err := runpod.NewClient(cfg.RunPodEndpointID,
			runpod.WithAPIKey(cfg.RunPodAPIKey),
			runpod.WithMaxRetries(cfg.EngineMaxRetries),
		)
		if err != nil {
			return nil, "", fmt.Errorf("create RunPod client: %w", err)
		}
		logger.Info("RunPod engine configured",
			slog.String("endpoint_id", cfg.RunPodEndpointID),
			slog.Duration("poll_interval", cfg.RunPodPollInterval),
		)
		return engine.NewRunPodEngine(client,
			engine.WithPollInterval(cfg.RunPodPollInterval),
			engine.WithRunPodLogger(logger),
		), job.ProviderRunPod, nil

	case config.ProviderBeam:
		client, err := beam.NewClient(cfg.BeamQueueURL,
			beam.WithToken(cfg.BeamToken),
			beam.WithMaxRetries(cfg.EngineMaxRetries),
		)
		if err != nil {
			return nil, "", fmt.Errorf("create Beam client: %w", err)
		}
		logger.Info("Beam engine configured",
			slog.String("queue_url", cfg.BeamQueueURL),
			slog.Duration("poll_interval", cfg.BeamPollInterval),
		)
		return engine.NewBeamEngine(client,
			engine.WithBeamPollInterval(cfg.BeamPollInterval),
			engine.WithBeamLogger(logger),
		), job.ProviderBeam, nil

	case config.ProviderHTTP:
		e, err := engine.NewHTTPEngine(cfg.EngineURL,
			engine.WithAPIKey(cfg.EngineAPIKey),
			engine.WithMaxRetries(cfg.EngineMaxRetries),
			engine.WithHTTPClient(&http.Client{Timeout: cfg.EngineTimeout}),
		)
		if err != nil {
			return nil, "", fmt.Errorf("create HTTP engine: %w", err)
		}
		logger.Info("HTTP engine configured",
			slog.String("url", cfg.EngineURL),
			slog.Int("max_retries", cfg.EngineMaxRetries),
		)
		return e, job.ProviderHTTP, nil

	default:
		return nil, "", config.ErrUnknownProvider
	}
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Prefix:          cfg.S3Prefix,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}

// RunPruner deletes expired jobs every interval until ctx is done. It
// returns immediately when JOB_TTL is zero.
func (d *Dependencies) RunPruner(ctx context.Context, interval time.Duration) {
	ttl := d.Config.JobTTL
	if ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Service.PruneExpired(ctx, ttl); err != nil && ctx.Err() == nil {
				d.logger.Warn("failed to prune expired jobs", slog.String("error", err.Error()))
			}
		}
	}
}

// Shutdown stops running jobs and flushes telemetry.
func (d *Dependencies) Shutdown(ctx context.Context) error {
	return errors.Join(
		d.Service.Shutdown(ctx),
		d.Telemetry.Shutdown(ctx),
	)
}
