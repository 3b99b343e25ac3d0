package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

// DefaultConfig returns a Config that allows every origin and serves no
// metrics.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter wires the synthesis and job endpoints behind the middleware
// chain. Request IDs are assigned before anything else runs so that panics
// and access logs carry them.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	// Synchronous synthesis
	mux.HandleFunc("POST /synthesize", h.Synthesize)
	mux.HandleFunc("POST /synthesize/json", h.SynthesizeJSON)
	mux.HandleFunc("POST /synthesize/upload", h.SynthesizeUpload)

	// Async jobs
	mux.HandleFunc("POST /jobs", h.CreateJob)
	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /jobs/{id}/audio", h.GetJobAudio)
	mux.HandleFunc("POST /jobs/{id}/cancel", h.CancelJob)
	mux.HandleFunc("DELETE /jobs/{id}", h.DeleteJob)

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	chain := ChainMiddleware(
		RequestIDMiddleware(),
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
