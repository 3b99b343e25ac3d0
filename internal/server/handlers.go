package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/speechstitch/internal/engine"
	"github.com/maauso/speechstitch/internal/job"
	"github.com/maauso/speechstitch/internal/speech"
	"github.com/maauso/speechstitch/internal/storage"
)

// Response headers carrying track metadata.
const (
	HeaderAudioDuration   = "X-Audio-Duration"
	HeaderChunksProcessed = "X-Chunks-Processed"
	HeaderTotalCharacters = "X-Total-Characters"
	HeaderAudioURL        = "X-Audio-URL"
)

const (
	defaultMaxBodyBytes  = 64 << 20
	defaultHealthTimeout = 3 * time.Second
	multipartMemory      = 32 << 20
)

// Service is the synthesis use case the handlers drive.
type Service interface {
	Synthesize(ctx context.Context, in job.Input) (*job.Output, error)
	CreateJob(ctx context.Context, in job.Input) (*job.Job, error)
	StartJob(ctx context.Context, jobID string)
	GetJob(ctx context.Context, jobID string) (*job.Job, error)
	ListJobs(ctx context.Context) ([]*job.Job, error)
	OpenAudio(ctx context.Context, jobID string) (io.ReadCloser, *job.Job, error)
	CancelJob(ctx context.Context, jobID string) error
	DeleteJob(ctx context.Context, jobID string) error
}

// Compile-time check that job.Service satisfies Service.
var _ Service = (*job.Service)(nil)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            Service
	validator          *validator.Validate
	logger             *slog.Logger
	health             engine.HealthChecker
	baseConfig         speech.Config
	maxBodyBytes       int64
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateJob only creates the job and returns immediately
// without starting background processing.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithHealthChecker makes GET /health check the synthesis engine.
func WithHealthChecker(hc engine.HealthChecker) HandlerOption {
	return func(h *Handlers) {
		h.health = hc
	}
}

// WithBaseConfig sets the configuration that per-request options are
// applied over. Defaults to speech.DefaultConfig().
func WithBaseConfig(cfg speech.Config) HandlerOption {
	return func(h *Handlers) {
		h.baseConfig = cfg
	}
}

// WithMaxBodyBytes limits request body size.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(validator.WithRequiredStructEnabled()),
		logger:             logger,
		baseConfig:         speech.DefaultConfig(),
		maxBodyBytes:       defaultMaxBodyBytes,
		enableAsyncProcess: true, // Default to enabled
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Engine: "unknown"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), defaultHealthTimeout)
	defer cancel()
	if err := h.health.Health(ctx); err != nil {
		h.logger.Warn("engine health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Engine: "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Engine: "ok"})
}

// Synthesize handles POST /synthesize requests and answers with the audio
// file itself. The format query parameter overrides the body field.
func (h *Handlers) Synthesize(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeInput(w, r)
	if !ok {
		return
	}
	if f := r.URL.Query().Get("format"); f != "" {
		input.Format = f
	}
	h.synthesizeAudio(w, r, input)
}

// SynthesizeUpload handles POST /synthesize/upload multipart requests with
// a text field and an optional voice_prompt file.
func (h *Handlers) SynthesizeUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	input := job.Input{
		Text:   r.FormValue("text"),
		Format: r.FormValue("format"),
	}
	if strings.TrimSpace(input.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required", "VALIDATION_ERROR")
		return
	}
	if v := r.FormValue("push_to_s3"); v != "" {
		push, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "push_to_s3 must be a boolean", "VALIDATION_ERROR")
			return
		}
		input.PushToS3 = push
	}

	file, header, err := r.FormFile("voice_prompt")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid voice_prompt file", "INVALID_FORM")
		return
	default:
		defer file.Close()
		if !allowedPromptType(header.Header.Get("Content-Type")) {
			writeError(w, http.StatusBadRequest, "voice prompt must be a WAV or MP3 audio file", "VALIDATION_ERROR")
			return
		}
		input.VoicePrompt, err = io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read voice_prompt file", "INVALID_FORM")
			return
		}
	}
	h.synthesizeAudio(w, r, input)
}

// SynthesizeJSON handles POST /synthesize/json requests and answers with
// base64-encoded audio plus metadata.
func (h *Handlers) SynthesizeJSON(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeInput(w, r)
	if !ok {
		return
	}
	out, err := h.service.Synthesize(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SynthesizeResponse{
		Success:         true,
		Message:         "Audio generated successfully",
		AudioBase64:     base64.StdEncoding.EncodeToString(out.Audio),
		AudioURL:        out.URL,
		Format:          out.Format,
		DurationSeconds: out.Result.TotalDurationSeconds,
		SampleRate:      out.Result.SampleRate,
		ChunkInfo: ChunkInfo{
			ChunksProcessed: out.Result.ChunksProcessed,
			TotalCharacters: out.Result.TotalCharacters,
		},
	})
}

// CreateJob handles POST /jobs requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeInput(w, r)
	if !ok {
		return
	}

	createdJob, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		if speech.StageOf(err) == speech.StageValidation {
			h.writeServiceError(w, err)
			return
		}
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	// Start processing in background with a detached context
	// Use context.WithoutCancel to prevent cancellation when the request ends
	if h.enableAsyncProcess {
		h.service.StartJob(context.WithoutCancel(r.Context()), createdJob.ID)
	}

	h.logger.Info("job created",
		slog.String("job_id", createdJob.ID),
		slog.Int("text_bytes", len(input.Text)),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     createdJob.ID,
		Status: string(createdJob.Status),
	})
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_FETCH_FAILED")
		return
	}
	resp := ListJobsResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}

	foundJob, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, jobID, err, "failed to get job", "JOB_FETCH_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(foundJob, true))
}

// GetJobAudio handles GET /jobs/{id}/audio requests.
func (h *Handlers) GetJobAudio(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}

	rc, foundJob, err := h.service.OpenAudio(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrAudioNotReady) {
			writeError(w, http.StatusConflict, "audio is not ready", "AUDIO_NOT_READY")
			return
		}
		h.writeJobError(w, jobID, err, "failed to read audio", "AUDIO_FETCH_FAILED")
		return
	}
	defer rc.Close()

	setAudioHeaders(w, foundJob.ContentType, extension(foundJob.ContentType),
		foundJob.Metadata.DurationSeconds, foundJob.Metadata.ChunksProcessed, foundJob.Metadata.TotalCharacters)
	if foundJob.Metadata.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.Itoa(foundJob.Metadata.SizeBytes))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("failed to stream audio",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// CancelJob handles POST /jobs/{id}/cancel requests.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}
	if err := h.service.CancelJob(r.Context(), jobID); err != nil {
		if errors.Is(err, job.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, "job already finished", "JOB_FINISHED")
			return
		}
		h.writeJobError(w, jobID, err, "failed to cancel job", "JOB_CANCEL_FAILED")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteJob handles DELETE /jobs/{id} requests. The job is cancelled if
// still running, and its stored audio is removed.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteJob(r.Context(), jobID); err != nil {
		h.writeJobError(w, jobID, err, "failed to delete job", "JOB_DELETE_FAILED")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) synthesizeAudio(w http.ResponseWriter, r *http.Request, input job.Input) {
	out, err := h.service.Synthesize(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	setAudioHeaders(w, out.ContentType, out.Format,
		out.Result.TotalDurationSeconds, out.Result.ChunksProcessed, out.Result.TotalCharacters)
	if out.URL != "" {
		w.Header().Set(HeaderAudioURL, out.URL)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Audio)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Audio); err != nil {
		h.logger.Warn("failed to write audio", slog.String("error", err.Error()))
	}
}

// decodeInput reads and validates a SynthesizeRequest. It writes the error
// response itself and reports whether decoding succeeded.
func (h *Handlers) decodeInput(w http.ResponseWriter, r *http.Request) (job.Input, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var req SynthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "BODY_TOO_LARGE")
			return job.Input{}, false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return job.Input{}, false
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return job.Input{}, false
	}

	input := job.Input{
		Text:     req.Text,
		Format:   req.Format,
		PushToS3: req.PushToS3,
	}
	if req.VoicePromptBase64 != "" {
		prompt, err := base64.StdEncoding.DecodeString(req.VoicePromptBase64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "voice_prompt_base64 is not valid base64", "VALIDATION_ERROR")
			return job.Input{}, false
		}
		input.VoicePrompt = prompt
	}

	cfg, err := h.requestConfig(req.Options)
	if err != nil {
		h.writeServiceError(w, err)
		return job.Input{}, false
	}
	input.Config = cfg
	return input, true
}

// requestConfig merges per-request options over the base configuration.
func (h *Handlers) requestConfig(o *ChunkingOptions) (*speech.Config, error) {
	if o == nil {
		return nil, nil
	}
	var opts []speech.Option
	if o.MaxChunkSize != nil {
		opts = append(opts, speech.WithMaxChunkSize(*o.MaxChunkSize))
	}
	if o.SilenceDuration != nil {
		opts = append(opts, speech.WithSilenceDuration(*o.SilenceDuration))
	}
	if o.FadeDuration != nil {
		opts = append(opts, speech.WithFadeDuration(*o.FadeDuration))
	}
	if o.OverlapSentences != nil {
		opts = append(opts, speech.WithOverlapSentences(*o.OverlapSentences))
	}
	if o.TrimOverlap != nil {
		opts = append(opts, speech.WithTrimOverlap(*o.TrimOverlap))
	}
	if o.NormalizePeak != nil {
		opts = append(opts, speech.WithNormalizePeak(*o.NormalizePeak))
	}

	cfg := h.baseConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// writeServiceError maps a synthesis failure to a status code by the
// stage that produced it.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	stage := speech.StageOf(err)
	resp := ErrorResponse{Error: err.Error(), Stage: string(stage)}
	status := http.StatusInternalServerError

	switch stage {
	case speech.StageValidation:
		status, resp.Code = http.StatusBadRequest, "VALIDATION_ERROR"
	case speech.StageChunking:
		status, resp.Code = http.StatusUnprocessableEntity, "CHUNKING_ERROR"
	case speech.StageSynthesis:
		status, resp.Code = http.StatusBadGateway, "SYNTHESIS_ERROR"
		var perr *speech.PipelineError
		if errors.As(err, &perr) {
			resp.FailedChunks = perr.FailedIndices()
		}
	case speech.StageConcatenation:
		resp.Code = "CONCATENATION_ERROR"
	case speech.StageCanceled:
		status, resp.Code = http.StatusServiceUnavailable, "REQUEST_CANCELED"
	default:
		resp.Stage = ""
		if errors.Is(err, storage.ErrS3NotConfigured) {
			status, resp.Code = http.StatusBadRequest, "S3_NOT_CONFIGURED"
			break
		}
		resp.Code = "INTERNAL_ERROR"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("synthesis failed",
			slog.String("stage", string(stage)),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, resp)
}

func (h *Handlers) writeJobError(w http.ResponseWriter, jobID string, err error, message, code string) {
	if errors.Is(err, job.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}
	h.logger.Error(message,
		slog.String("job_id", jobID),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, message, code)
}

func pathJobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return "", false
	}
	return jobID, true
}

func toJobResponse(j *job.Job, withChunks bool) JobResponse {
	resp := JobResponse{
		ID:           j.ID,
		Provider:     string(j.Provider),
		Status:       string(j.Status),
		Progress:     j.Progress,
		Error:        j.Error,
		ErrorStage:   j.ErrorStage,
		FailedChunks: j.FailedChunks,
		CreatedAt:    j.CreatedAt,
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		resp.CompletedAt = &t
	}
	if withChunks {
		for _, c := range j.Chunks {
			resp.Chunks = append(resp.Chunks, ChunkResponse{
				Index:      c.Index,
				Status:     string(c.Status),
				Characters: c.Characters,
			})
		}
	}
	if j.Status == job.StatusCompleted {
		resp.AudioURL = j.AudioURL
		if j.OutputPath != "" {
			resp.DownloadURL = "/jobs/" + j.ID + "/audio"
		}
		resp.DurationSeconds = j.Metadata.DurationSeconds
		resp.ChunkInfo = &ChunkInfo{
			ChunksProcessed: j.Metadata.ChunksProcessed,
			TotalCharacters: j.Metadata.TotalCharacters,
		}
	}
	return resp
}

func setAudioHeaders(w http.ResponseWriter, contentType, ext string, duration float64, chunks, chars int) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=generated_speech.%s", ext))
	h.Set(HeaderAudioDuration, strconv.FormatFloat(duration, 'f', 3, 64))
	h.Set(HeaderChunksProcessed, strconv.Itoa(chunks))
	h.Set(HeaderTotalCharacters, strconv.Itoa(chars))
}

func extension(contentType string) string {
	if contentType == job.ContentTypeMP3 {
		return job.FormatMP3
	}
	return job.FormatWAV
}

func allowedPromptType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mt {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/mpeg", "audio/mp3":
		return true
	}
	return false
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
