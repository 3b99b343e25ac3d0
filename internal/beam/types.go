// Package beam provides an HTTP client for the Beam.cloud Task Queue API,
// used to run speech synthesis tasks on a Beam-hosted TTS worker.
package beam

// Status represents the status of a Beam task.
type Status string

// Beam task statuses aligned with the Beam API.
const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCanceled  Status = "CANCELED" // Beam uses "CANCELED" (American spelling)
	StatusExpired   Status = "EXPIRED"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled, StatusExpired:
		return true
	default:
		return false
	}
}

// parseStatus folds Beam's status spellings onto the Status constants.
func parseStatus(s string) Status {
	switch s {
	case "COMPLETED", "COMPLETE":
		return StatusCompleted
	case "FAILED", "ERROR":
		return StatusFailed
	case "CANCELED", "CANCELLED":
		return StatusCanceled
	case "TIMEOUT", "EXPIRED":
		return StatusExpired
	default:
		return Status(s)
	}
}

// SynthesisInput is the payload of one TTS task.
type SynthesisInput struct {
	Text              string
	VoicePromptBase64 string
}

// taskRequest represents the request body for Beam's task queue endpoint.
type taskRequest struct {
	Text              string `json:"text"`
	VoicePromptBase64 string `json:"voice_prompt_base64,omitempty"`
}

// taskResponse represents the response from Beam's task submission endpoint.
type taskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusResponse represents the response from Beam's task status endpoint.
type statusResponse struct {
	TaskID  string       `json:"task_id"`
	Status  string       `json:"status"`
	Outputs []taskOutput `json:"outputs,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// taskOutput represents a single output file from a Beam task.
type taskOutput struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// PollResult contains the result of polling a task's status.
type PollResult struct {
	Status    Status
	OutputURL string // URL of the generated WAV file
	Error     string // Error message (only set when Status is StatusFailed)
}
