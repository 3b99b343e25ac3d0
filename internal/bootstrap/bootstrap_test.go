package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/speechstitch/internal/audio"
	"github.com/maauso/speechstitch/internal/config"
	"github.com/maauso/speechstitch/internal/engine"
	"github.com/maauso/speechstitch/internal/job"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newEngineServer answers every generate_audio call with 0.1s of tone.
func newEngineServer(t *testing.T) *httptest.Server {
	t.Helper()
	const rate = 8000
	samples := make([]float32, rate/10)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/rate))
	}
	wav, err := audio.WAVBytes(samples, rate)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /generate_audio", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func loadConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	if _, ok := env["TEMP_DIR"]; !ok {
		env["TEMP_DIR"] = t.TempDir()
	}
	cfg, err := config.LoadWithLookuper(envconfig.MapLookuper(env))
	require.NoError(t, err)
	return cfg
}

func newTestDependencies(t *testing.T, cfg *config.Config) *Dependencies {
	t.Helper()
	deps, err := NewDependencies(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = deps.Shutdown(ctx)
	})
	return deps
}

func TestNewDependencies_HTTPEngine(t *testing.T) {
	srv := newEngineServer(t)
	cfg := loadConfig(t, map[string]string{
		"ENGINE_URL":     srv.URL,
		"MAX_CHUNK_SIZE": "20",
	})

	deps := newTestDependencies(t, cfg)

	require.NotNil(t, deps.Health)
	assert.NoError(t, deps.Health.Health(context.Background()))
	assert.Equal(t, 20, deps.PipelineConfig.MaxChunkSize)

	out, err := deps.Service.Synthesize(context.Background(), job.Input{
		Text: "Hello there. This is a second sentence.",
	})
	require.NoError(t, err)
	assert.Equal(t, job.FormatWAV, out.Format)
	assert.Equal(t, 8000, out.Result.SampleRate)
	assert.Equal(t, 2, out.Result.ChunksProcessed)
	assert.NotEmpty(t, out.Audio)
}

func TestNewDependencies_RunPodEngine(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"ENGINE_PROVIDER":    "runpod",
		"RUNPOD_API_KEY":     "key",
		"RUNPOD_ENDPOINT_ID": "endpoint",
	})

	deps := newTestDependencies(t, cfg)

	assert.Nil(t, deps.Health)
	assert.NotNil(t, deps.Engine)

	created, err := deps.Service.CreateJob(context.Background(), job.Input{Text: "Queued."})
	require.NoError(t, err)
	assert.Equal(t, job.ProviderRunPod, created.Provider)
}

func TestNewDependencies_BeamEngine(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"ENGINE_PROVIDER": "beam",
		"BEAM_TOKEN":      "token",
		"BEAM_QUEUE_URL":  "https://app.beam.cloud/taskqueue/tts/v1",
	})

	deps := newTestDependencies(t, cfg)

	assert.Nil(t, deps.Health)
	assert.IsType(t, &engine.BeamEngine{}, deps.Engine)

	created, err := deps.Service.CreateJob(context.Background(), job.Input{Text: "Queued."})
	require.NoError(t, err)
	assert.Equal(t, job.ProviderBeam, created.Provider)
}

func TestNewDependencies_InvalidTempDir(t *testing.T) {
	srv := newEngineServer(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	cfg := loadConfig(t, map[string]string{
		"ENGINE_URL": srv.URL,
		"TEMP_DIR":   filepath.Join(blocker, "sub"),
	})

	_, err := NewDependencies(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
}

func TestRunPruner_RemovesExpiredJobs(t *testing.T) {
	srv := newEngineServer(t)
	cfg := loadConfig(t, map[string]string{"ENGINE_URL": srv.URL})
	cfg.JobTTL = time.Nanosecond

	deps := newTestDependencies(t, cfg)
	ctx := context.Background()

	created, err := deps.Service.CreateJob(ctx, job.Input{Text: "Short lived."})
	require.NoError(t, err)
	done, err := deps.Service.ProcessExistingJob(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, done.Status)

	pruneCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		deps.RunPruner(pruneCtx, 10*time.Millisecond)
	}()

	assert.Eventually(t, func() bool {
		_, err := deps.Service.GetJob(ctx, created.ID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("pruner did not stop after cancel")
	}
}

func TestRunPruner_DisabledReturnsImmediately(t *testing.T) {
	srv := newEngineServer(t)
	cfg := loadConfig(t, map[string]string{"ENGINE_URL": srv.URL, "JOB_TTL": "0s"})
	deps := newTestDependencies(t, cfg)

	returned := make(chan struct{})
	go func() {
		deps.RunPruner(context.Background(), time.Millisecond)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("pruner with zero TTL should return immediately")
	}
}
