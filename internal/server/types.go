// Package server provides the HTTP server for the speech synthesis API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// ChunkingOptions overrides pipeline settings for one request. Unset fields
// keep the server defaults; the merged configuration is validated as a whole.
type ChunkingOptions struct {
	// MaxChunkSize is the maximum chunk length in characters.
	MaxChunkSize *int `json:"max_chunk_size,omitempty" validate:"omitempty,max=20000"`
	// SilenceDuration is the gap between chunks in seconds.
	SilenceDuration *float64 `json:"silence_duration,omitempty" validate:"omitempty,max=10"`
	// FadeDuration is the boundary fade length in seconds.
	FadeDuration *float64 `json:"fade_duration,omitempty" validate:"omitempty,max=5"`
	// OverlapSentences is the number of sentences repeated across chunks.
	OverlapSentences *int `json:"overlap_sentences,omitempty" validate:"omitempty,max=10"`
	// TrimOverlap drops the audio of repeated sentences.
	TrimOverlap *bool `json:"trim_overlap,omitempty"`
	// NormalizePeak peak-normalizes each chunk; 0 disables it.
	NormalizePeak *float64 `json:"normalize_peak,omitempty"`
}

// SynthesizeRequest is the HTTP request body for synthesis and job creation.
type SynthesizeRequest struct {
	// Text is the text to speak.
	Text string `json:"text" validate:"required,max=500000"`
	// VoicePromptBase64 is an optional base64-encoded WAV or MP3 voice reference.
	VoicePromptBase64 string `json:"voice_prompt_base64,omitempty" validate:"omitempty,base64"`
	// Format is the output container, "wav" (default) or "mp3".
	Format string `json:"format,omitempty" validate:"omitempty,oneof=wav mp3 WAV MP3"`
	// PushToS3 uploads the result to S3.
	PushToS3 bool `json:"push_to_s3"`
	// Options overrides chunking and assembly settings.
	Options *ChunkingOptions `json:"options,omitempty"`
}

// ChunkInfo summarizes the chunking of a request.
type ChunkInfo struct {
	// ChunksProcessed is the number of chunks synthesized.
	ChunksProcessed int `json:"chunks_processed"`
	// TotalCharacters is the length of the input text.
	TotalCharacters int `json:"total_characters"`
}

// SynthesizeResponse is the JSON response of POST /synthesize/json.
type SynthesizeResponse struct {
	// Success reports whether audio was produced.
	Success bool `json:"success"`
	// Message is a human-readable summary.
	Message string `json:"message"`
	// AudioBase64 is the base64-encoded track.
	AudioBase64 string `json:"audio_base64,omitempty"`
	// AudioURL is the S3 URL if push_to_s3 was set.
	AudioURL string `json:"audio_url,omitempty"`
	// Format is the container of the track.
	Format string `json:"format,omitempty"`
	// DurationSeconds is the track length.
	DurationSeconds float64 `json:"duration_seconds"`
	// SampleRate is the sample rate of the track.
	SampleRate int `json:"sample_rate,omitempty"`
	// ChunkInfo summarizes the chunking.
	ChunkInfo ChunkInfo `json:"chunk_info"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// ChunkResponse is the state of one chunk of a job.
type ChunkResponse struct {
	Index      int    `json:"index"`
	Status     string `json:"status"`
	Characters int    `json:"characters"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Provider is the synthesis backend.
	Provider string `json:"provider"`
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// Error contains any error message if the job failed.
	Error string `json:"error,omitempty"`
	// ErrorStage names the failed pipeline stage.
	ErrorStage string `json:"error_stage,omitempty"`
	// FailedChunks lists the chunk indices that failed.
	FailedChunks []int `json:"failed_chunks,omitempty"`
	// Chunks is the per-chunk state.
	Chunks []ChunkResponse `json:"chunks,omitempty"`
	// AudioURL is the S3 URL of the output (if push_to_s3=true and completed).
	AudioURL string `json:"audio_url,omitempty"`
	// DownloadURL is the API path of the output (if completed).
	DownloadURL string `json:"download_url,omitempty"`
	// DurationSeconds is the track length (if completed).
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	// ChunkInfo summarizes the chunking (if completed).
	ChunkInfo *ChunkInfo `json:"chunk_info,omitempty"`
	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the job reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListJobsResponse is the HTTP response for listing jobs.
type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// Stage names the pipeline stage that failed, if any.
	Stage string `json:"stage,omitempty"`
	// FailedChunks lists chunk indices that failed synthesis.
	FailedChunks []int `json:"failed_chunks,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Engine reports synthesis backend reachability: "ok", "unreachable" or
	// "unknown" when the engine cannot be checked.
	Engine string `json:"engine"`
}
