// Package runpod provides an HTTP client for text-to-speech workers hosted
// on RunPod serverless endpoints.
package runpod

// Status represents the status of a RunPod job.
type Status string

// RunPod job statuses aligned with the RunPod API.
const (
	StatusInQueue    Status = "IN_QUEUE"
	StatusRunning    Status = "RUNNING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusTimedOut   Status = "TIMED_OUT"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// SynthesisInput is the payload of one synthesis job.
type SynthesisInput struct {
	Text              string // Text to speak
	VoicePromptBase64 string // Optional base64 WAV reference voice
}

type runRequest struct {
	Input runInput `json:"input"`
}

type runInput struct {
	Text              string `json:"text"`
	VoicePromptBase64 string `json:"voice_prompt_base64,omitempty"`
}

type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type statusResponse struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Output statusOutput `json:"output,omitempty"`
	Error  string       `json:"error,omitempty"`
}

type statusOutput struct {
	AudioBase64     string  `json:"audio_base64,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// PollResult contains the result of polling a job's status.
type PollResult struct {
	Status          Status
	AudioBase64     string  // Base64 WAV (only set when Status is StatusCompleted)
	DurationSeconds float64 // Reported audio length (only set when Status is StatusCompleted)
	Error           string  // Error message (only set when Status is StatusFailed)
}
