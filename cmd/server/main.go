// Package main provides the entry point for the speechstitch API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/speechstitch/internal/bootstrap"
	"github.com/maauso/speechstitch/internal/config"
	"github.com/maauso/speechstitch/internal/server"
)

const pruneInterval = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting speechstitch API",
		slog.Int("port", cfg.Port),
		slog.String("engine_provider", cfg.EngineProvider),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("temp_dir", cfg.TempDir),
		slog.Int("max_chunk_size", cfg.MaxChunkSize),
		slog.Int("concurrency_limit", cfg.ConcurrencyLimit),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies using bootstrap
	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	// Initialize HTTP handlers and router
	opts := []server.HandlerOption{
		server.WithBaseConfig(deps.PipelineConfig),
		server.WithMaxBodyBytes(cfg.MaxBodyBytes),
	}
	if deps.Health != nil {
		opts = append(opts, server.WithHealthChecker(deps.Health))
	}
	handlers := server.NewHandlers(deps.Service, logger, opts...)

	routerCfg := server.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		routerCfg.AllowedOrigins = cfg.AllowedOrigins
	}
	routerCfg.Metrics = deps.Telemetry.MetricsHandler()
	router := server.NewRouter(handlers, logger, routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.JobTimeout + time.Minute, // Synchronous synthesis of long texts
		IdleTimeout:       60 * time.Second,
	}

	go deps.RunPruner(ctx, pruneInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := deps.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown dependencies: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
