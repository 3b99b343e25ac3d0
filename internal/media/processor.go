// Package media converts audio between container formats. Voice prompts
// may arrive as MP3 or other formats and are normalized to WAV before
// synthesis; final tracks can optionally be delivered as MP3.
package media

import "context"

// Processor defines the interface for audio transcoding operations.
// Implementations should use ffmpeg or similar tools.
type Processor interface {
	// ToWAV converts the audio file at src to 16-bit PCM mono WAV at dst.
	// When sampleRate is positive the audio is resampled to it.
	ToWAV(ctx context.Context, src, dst string, sampleRate int) error

	// EncodeMP3 encodes the audio file at src as MP3 at dst with the given
	// bitrate in kbit/s.
	EncodeMP3(ctx context.Context, src, dst string, bitrateKbps int) error

	// GetMediaDuration returns the duration in seconds of a media file.
	GetMediaDuration(ctx context.Context, path string) (float64, error)
}
