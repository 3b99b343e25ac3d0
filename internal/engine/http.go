package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/maauso/speechstitch/internal/audio"
	"github.com/maauso/speechstitch/internal/speech"
)

// Static errors for the HTTP engine.
var (
	// ErrBaseURLRequired is returned when no engine URL is configured.
	ErrBaseURLRequired = errors.New("engine: base URL is required")
	// ErrBackendStatus is returned when the backend answers with a non-2xx status.
	ErrBackendStatus = errors.New("engine: backend request failed")
	// ErrInvalidResponse is returned when the backend answer is not decodable audio.
	ErrInvalidResponse = errors.New("engine: invalid backend response")
)

// defaultMaxResponseBytes caps a backend answer: over an hour of 24 kHz
// 16-bit mono WAV.
const defaultMaxResponseBytes = 256 << 20

type generateRequest struct {
	Text              string `json:"text"`
	VoicePromptBase64 string `json:"voice_prompt_base64,omitempty"`
}

// HTTPEngine calls a TTS server exposing POST /generate_audio, which takes
// a JSON body and answers with audio/wav.
type HTTPEngine struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	maxBody     int64
}

// HTTPOption configures an HTTPEngine.
type HTTPOption func(*HTTPEngine)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPEngine) { e.httpClient = c }
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) HTTPOption {
	return func(e *HTTPEngine) { e.apiKey = key }
}

// WithMaxRetries sets how many times a transient failure (transport error,
// 5xx, 429) is retried. Defaults to 0.
func WithMaxRetries(n int) HTTPOption {
	return func(e *HTTPEngine) { e.maxRetries = max(n, 0) }
}

// WithBaseBackoff sets the initial retry backoff; it doubles per attempt.
func WithBaseBackoff(d time.Duration) HTTPOption {
	return func(e *HTTPEngine) { e.baseBackoff = d }
}

// WithMaxResponseBytes caps how many bytes of a backend answer are read.
// Larger answers fail with ErrInvalidResponse.
func WithMaxResponseBytes(n int64) HTTPOption {
	return func(e *HTTPEngine) {
		if n > 0 {
			e.maxBody = n
		}
	}
}

// NewHTTPEngine creates an engine for the server at baseURL.
func NewHTTPEngine(baseURL string, opts ...HTTPOption) (*HTTPEngine, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	e := &HTTPEngine{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
		baseBackoff: 500 * time.Millisecond,
		maxBody:     defaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Synthesize posts req to the backend and decodes the WAV answer.
func (e *HTTPEngine) Synthesize(ctx context.Context, req Request) (speech.Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return speech.Audio{}, ErrEmptyText
	}

	body := generateRequest{Text: req.Text}
	if len(req.VoicePrompt) > 0 {
		body.VoicePromptBase64 = base64.StdEncoding.EncodeToString(req.VoicePrompt)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return speech.Audio{}, fmt.Errorf("engine: marshal request: %w", err)
	}

	data, err := e.postWithRetry(ctx, e.baseURL+"/generate_audio", payload)
	if err != nil {
		return speech.Audio{}, err
	}

	a, err := audio.DecodeWAVBytes(data)
	if err != nil {
		return speech.Audio{}, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if err := CheckAudio(a); err != nil {
		return speech.Audio{}, err
	}
	return a, nil
}

// Health calls GET /health on the backend.
func (e *HTTPEngine) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("engine: create request: %w", err)
	}
	e.authorize(req)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("engine: health check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrBackendStatus, resp.StatusCode)
	}
	return nil
}

func (e *HTTPEngine) postWithRetry(ctx context.Context, endpoint string, payload []byte) ([]byte, error) {
	var lastErr error
	backoff := e.baseBackoff

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("engine: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		data, err := e.post(ctx, endpoint, payload)
		if err == nil {
			return data, nil
		}
		var te *transientError
		if !errors.As(err, &te) {
			return nil, err
		}
		lastErr = te.err
	}
	return nil, lastErr
}

func (e *HTTPEngine) post(ctx context.Context, endpoint string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("engine: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")
	e.authorize(req)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("engine: request aborted: %w", ctx.Err())
		}
		return nil, &transientError{err: fmt.Errorf("engine: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBody+1))
	if err != nil {
		return nil, &transientError{err: fmt.Errorf("engine: read response: %w", err)}
	}
	if int64(len(data)) > e.maxBody {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrInvalidResponse, e.maxBody)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("%w with status %d: %s", ErrBackendStatus, resp.StatusCode, snippet(data))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, &transientError{err: err}
		}
		return nil, err
	}
	return data, nil
}

func (e *HTTPEngine) authorize(req *http.Request) {
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
}

// snippet trims a backend error body for inclusion in an error message.
// The cut never splits a UTF-8 sequence.
func snippet(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// transientError marks failures worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

var (
	_ Synthesizer   = (*HTTPEngine)(nil)
	_ HealthChecker = (*HTTPEngine)(nil)
)
