package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/maauso/speechstitch/internal/audio"
	"github.com/maauso/speechstitch/internal/job/id"
	"github.com/maauso/speechstitch/internal/media"
	"github.com/maauso/speechstitch/internal/pipeline"
	"github.com/maauso/speechstitch/internal/speech"
	"github.com/maauso/speechstitch/internal/storage"
)

// Output formats.
const (
	FormatWAV = "wav"
	FormatMP3 = "mp3"
)

// Content types of the output formats.
const (
	ContentTypeWAV = "audio/wav"
	ContentTypeMP3 = "audio/mpeg"
)

// Default service settings.
const (
	DefaultMP3Bitrate = 128
)

// Static errors for the service.
var (
	// ErrAudioNotReady is returned when audio is requested for a job that
	// has not completed.
	ErrAudioNotReady = errors.New("job: audio not ready")
)

// Runner runs the synthesis pipeline.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input, opts ...pipeline.RunOption) (*speech.Result, error)
}

// Transcoder converts voice prompts to WAV and tracks to MP3.
type Transcoder interface {
	PromptToWAV(ctx context.Context, data []byte, sampleRate int) ([]byte, error)
	WAVToMP3(ctx context.Context, wav []byte, bitrateKbps int) ([]byte, error)
}

// Output is a rendered track.
type Output struct {
	// Result is the pipeline result; Result.Samples holds the raw waveform.
	Result *speech.Result
	// Audio is the encoded track.
	Audio []byte
	// Format is FormatWAV or FormatMP3.
	Format string
	// ContentType is the media type of Audio.
	ContentType string
	// URL is the S3 URL when the track was uploaded.
	URL string
}

// Metadata returns the track metadata of o.
func (o *Output) Metadata() Metadata {
	return Metadata{
		DurationSeconds: o.Result.TotalDurationSeconds,
		ChunksProcessed: o.Result.ChunksProcessed,
		TotalCharacters: o.Result.TotalCharacters,
		SampleRate:      o.Result.SampleRate,
		SizeBytes:       len(o.Audio),
	}
}

// run tracks a job being processed.
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Service runs synthesis requests, either synchronously or as background
// jobs whose state is kept in a Repository.
type Service struct {
	repo       Repository
	runner     Runner
	store      storage.Storage
	transcoder Transcoder
	provider   Provider
	logger     *slog.Logger
	jobTimeout time.Duration
	mp3Bitrate int
	promptRate int

	mu      sync.Mutex
	running map[string]*run
	wg      sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTranscoder enables non-WAV voice prompts and MP3 output.
func WithTranscoder(t Transcoder) Option {
	return func(s *Service) { s.transcoder = t }
}

// WithProvider records which backend new jobs run against.
func WithProvider(p Provider) Option {
	return func(s *Service) { s.provider = p }
}

// WithJobTimeout bounds each background job. Zero means no bound.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Service) { s.jobTimeout = d }
}

// WithMP3Bitrate sets the MP3 bitrate in kbit/s.
func WithMP3Bitrate(kbps int) Option {
	return func(s *Service) {
		if kbps > 0 {
			s.mp3Bitrate = kbps
		}
	}
}

// WithPromptSampleRate resamples converted voice prompts. Zero keeps the
// source rate.
func WithPromptSampleRate(rate int) Option {
	return func(s *Service) { s.promptRate = rate }
}

// NewService creates a Service.
func NewService(repo Repository, runner Runner, store storage.Storage, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		runner:     runner,
		store:      store,
		provider:   ProviderHTTP,
		logger:     slog.Default(),
		mp3Bitrate: DefaultMP3Bitrate,
		running:    make(map[string]*run),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize renders in synchronously. When in.PushToS3 is set the track
// is also uploaded and Output.URL is filled in.
func (s *Service) Synthesize(ctx context.Context, in Input) (*Output, error) {
	out, err := s.render(ctx, in)
	if err != nil {
		return nil, err
	}
	if in.PushToS3 {
		url, err := s.upload(ctx, id.Generate(), out)
		if err != nil {
			return nil, err
		}
		out.URL = url
	}
	return out, nil
}

// CreateJob validates in and persists a new IN_QUEUE job for it.
func (s *Service) CreateJob(ctx context.Context, in Input) (*Job, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, &speech.ValidationError{Field: "text", Message: "must not be empty"}
	}
	if _, err := s.outputFormat(in.Format); err != nil {
		return nil, err
	}
	if in.Config != nil {
		if err := in.Config.Validate(); err != nil {
			return nil, err
		}
	}

	job := New(s.provider, in)
	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.Int("text_bytes", len(in.Text)),
		slog.Bool("voice_prompt", len(in.VoicePrompt) > 0),
		slog.Bool("push_to_s3", in.PushToS3),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return job, nil
}

// StartJob processes an existing job in a background goroutine tracked by
// Shutdown. ctx should not be tied to the request that created the job.
func (s *Service) StartJob(ctx context.Context, jobID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.ProcessExistingJob(ctx, jobID); err != nil {
			s.logger.Error("background processing failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// ProcessExistingJob runs the job to a terminal state and returns a
// snapshot of it. The returned error is the pipeline failure, if any; the
// job records it as well.
func (s *Service) ProcessExistingJob(ctx context.Context, jobID string) (*Job, error) {
	job, err := s.find(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := job.Start(); err != nil {
		return nil, fmt.Errorf("start job %s: %w", jobID, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	if s.jobTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
	}
	r := &run{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.running[jobID] = r
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.running, jobID)
		s.mu.Unlock()
		close(r.done)
	}()

	s.save(ctx, job)
	logger := s.logger.With(slog.String("job_id", jobID))
	logger.Info("job started")

	out, err := s.render(ctx, job.Input,
		pipeline.WithChunks(func(chunks []speech.TextChunk) {
			job.SetChunks(chunks)
			s.save(ctx, job)
		}),
		pipeline.WithProgress(func(index, _, _ int) {
			job.CompleteChunk(index)
			s.save(ctx, job)
		}),
	)
	if err == nil {
		err = s.persist(ctx, job, out)
	}
	if err != nil {
		s.finishWithError(ctx, job, err)
		logger.Warn("job ended without audio",
			slog.String("status", string(job.GetStatus())),
			slog.String("stage", string(speech.StageOf(err))),
			slog.String("error", err.Error()),
		)
		return job.Clone(), err
	}

	if err := job.Complete(); err != nil {
		return job.Clone(), err
	}
	s.save(ctx, job)
	logger.Info("job completed",
		slog.Float64("duration_seconds", out.Result.TotalDurationSeconds),
		slog.Int("chunks", out.Result.ChunksProcessed),
	)
	return job.Clone(), nil
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.find(ctx, jobID)
}

// find looks a job up, answering ErrJobNotFound for IDs Generate could not
// have produced without touching the repository.
func (s *Service) find(ctx context.Context, jobID string) (*Job, error) {
	if !id.Valid(jobID) {
		return nil, ErrJobNotFound
	}
	return s.repo.FindByID(ctx, jobID)
}

// ListJobs returns all jobs, oldest first.
func (s *Service) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// OpenAudio opens the stored track of a completed job.
func (s *Service) OpenAudio(ctx context.Context, jobID string) (io.ReadCloser, *Job, error) {
	job, err := s.find(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != StatusCompleted || job.OutputPath == "" {
		return nil, job, ErrAudioNotReady
	}
	rc, err := s.store.LoadTemp(ctx, job.OutputPath)
	if err != nil {
		return nil, job, err
	}
	return rc, job, nil
}

// CancelJob stops a queued or running job. Terminal jobs return
// ErrInvalidTransition.
func (s *Service) CancelJob(ctx context.Context, jobID string) error {
	if r := s.runFor(jobID); r != nil {
		r.cancel()
		select {
		case <-r.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	job, err := s.find(ctx, jobID)
	if err != nil {
		return err
	}
	if err := job.Cancel(); err != nil {
		return err
	}
	return s.repo.Save(ctx, job)
}

// DeleteJob removes a job and its stored track. A running job is cancelled
// first. Uploaded S3 objects are kept.
func (s *Service) DeleteJob(ctx context.Context, jobID string) error {
	if r := s.runFor(jobID); r != nil {
		r.cancel()
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	job, err := s.find(ctx, jobID)
	if err != nil {
		return err
	}
	if job.OutputPath != "" {
		if err := s.store.CleanupTemp(ctx, job.OutputPath); err != nil {
			return fmt.Errorf("remove audio of job %s: %w", jobID, err)
		}
	}
	if err := s.repo.Delete(ctx, jobID); err != nil {
		return err
	}
	s.logger.Info("job deleted", slog.String("job_id", jobID))
	return nil
}

// PruneExpired deletes terminal jobs that finished more than ttl ago and
// returns how many were removed.
func (s *Service) PruneExpired(ctx context.Context, ttl time.Duration) (int, error) {
	jobs, err := s.repo.FinishedBefore(ctx, time.Now().Add(-ttl))
	if err != nil {
		return 0, err
	}
	var (
		n    int
		errs []error
	)
	for _, j := range jobs {
		if err := s.DeleteJob(ctx, j.ID); err != nil && !errors.Is(err, ErrJobNotFound) {
			errs = append(errs, err)
			continue
		}
		n++
	}
	if n > 0 {
		s.logger.Info("pruned expired jobs", slog.Int("count", n))
	}
	return n, errors.Join(errs...)
}

// Shutdown cancels running jobs and waits for their goroutines until ctx
// is done.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, r := range s.running {
		r.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runFor(jobID string) *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[jobID]
}

// render prepares the voice prompt, runs the pipeline and encodes the
// result.
func (s *Service) render(ctx context.Context, in Input, opts ...pipeline.RunOption) (*Output, error) {
	format, err := s.outputFormat(in.Format)
	if err != nil {
		return nil, err
	}
	prompt, err := s.voicePrompt(ctx, in.VoicePrompt)
	if err != nil {
		return nil, err
	}
	if in.Config != nil {
		opts = append(opts, pipeline.WithConfig(*in.Config))
	}

	res, err := s.runner.Run(ctx, pipeline.Input{Text: in.Text, VoicePrompt: prompt}, opts...)
	if err != nil {
		return nil, err
	}

	data, err := audio.WAVBytes(res.Samples, res.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	out := &Output{Result: res, Audio: data, Format: FormatWAV, ContentType: ContentTypeWAV}
	if format == FormatMP3 {
		mp3, err := s.transcoder.WAVToMP3(ctx, data, s.mp3Bitrate)
		if err != nil {
			return nil, err
		}
		out.Audio, out.Format, out.ContentType = mp3, FormatMP3, ContentTypeMP3
	}
	return out, nil
}

func (s *Service) outputFormat(format string) (string, error) {
	switch strings.ToLower(format) {
	case "", FormatWAV:
		return FormatWAV, nil
	case FormatMP3:
		if s.transcoder == nil {
			return "", &speech.ValidationError{Field: "format", Message: "mp3 output requires ffmpeg"}
		}
		return FormatMP3, nil
	}
	return "", &speech.ValidationError{Field: "format", Message: fmt.Sprintf("unsupported format %q", format)}
}

// voicePrompt returns the prompt as WAV.
func (s *Service) voicePrompt(ctx context.Context, prompt []byte) ([]byte, error) {
	if len(prompt) == 0 {
		return nil, nil
	}
	format := media.DetectFormat(prompt)
	switch {
	case format == media.FormatWAV:
		return prompt, nil
	case format == "":
		return nil, &speech.ValidationError{Field: "voice_prompt", Message: "unrecognized audio format"}
	case s.transcoder == nil:
		return nil, &speech.ValidationError{Field: "voice_prompt", Message: format + " prompts require ffmpeg"}
	}
	wav, err := s.transcoder.PromptToWAV(ctx, prompt, s.promptRate)
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedFormat) {
			return nil, &speech.ValidationError{Field: "voice_prompt", Message: err.Error()}
		}
		return nil, err
	}
	return wav, nil
}

// persist keeps the track on local storage and optionally uploads it.
func (s *Service) persist(ctx context.Context, job *Job, out *Output) error {
	path, err := s.store.SaveTemp(ctx, job.ID+"."+out.Format, bytes.NewReader(out.Audio))
	if err != nil {
		return fmt.Errorf("store audio: %w", err)
	}
	var url string
	if job.Input.PushToS3 {
		url, err = s.upload(ctx, job.ID, out)
		if err != nil {
			_ = s.store.CleanupTemp(context.WithoutCancel(ctx), path)
			return err
		}
	}
	job.SetOutput(path, out.ContentType, url, out.Metadata())
	return nil
}

func (s *Service) upload(ctx context.Context, key string, out *Output) (string, error) {
	url, err := s.store.UploadToS3(ctx, key+"."+out.Format, out.ContentType, bytes.NewReader(out.Audio))
	if err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}
	return url, nil
}

func (s *Service) finishWithError(ctx context.Context, job *Job, err error) {
	var terr error
	switch {
	case errors.Is(err, speech.ErrPipeline):
		var perr *speech.PipelineError
		errors.As(err, &perr)
		terr = job.Fail(err.Error(), string(speech.StageSynthesis), perr.FailedIndices()...)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		terr = job.Timeout()
	case ctx.Err() != nil:
		terr = job.Cancel()
	default:
		terr = job.Fail(err.Error(), string(speech.StageOf(err)))
	}
	if terr != nil {
		s.logger.Warn("failed to record job outcome",
			slog.String("job_id", job.ID),
			slog.String("error", terr.Error()),
		)
	}
	s.save(ctx, job)
}

// save persists job, logging failures. Persisting is detached from ctx so
// that a cancelled job still records its final state.
func (s *Service) save(ctx context.Context, job *Job) {
	if err := s.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}
