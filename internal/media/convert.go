package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/maauso/speechstitch/internal/storage"
)

// ErrUnsupportedFormat is returned when audio bytes match no known container.
var ErrUnsupportedFormat = errors.New("media: unsupported audio format")

// Audio container formats recognized by DetectFormat.
const (
	FormatWAV  = "wav"
	FormatMP3  = "mp3"
	FormatOGG  = "ogg"
	FormatFLAC = "flac"
)

// DetectFormat sniffs the container format of b from its magic bytes. It
// returns the empty string when the format is unknown.
func DetectFormat(b []byte) string {
	switch {
	case len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(b, []byte("ID3")):
		return FormatMP3
	case len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0:
		// MPEG audio frame sync
		return FormatMP3
	case bytes.HasPrefix(b, []byte("OggS")):
		return FormatOGG
	case bytes.HasPrefix(b, []byte("fLaC")):
		return FormatFLAC
	}
	return ""
}

// Converter runs a Processor over in-memory audio, staging input and output
// through temporary files in store.
type Converter struct {
	proc  Processor
	store storage.Storage
}

// NewConverter creates a Converter.
func NewConverter(proc Processor, store storage.Storage) *Converter {
	return &Converter{proc: proc, store: store}
}

// PromptToWAV returns data as a mono WAV file. WAV input is returned
// unchanged; other recognized formats are transcoded.
func (c *Converter) PromptToWAV(ctx context.Context, data []byte, sampleRate int) ([]byte, error) {
	format := DetectFormat(data)
	switch format {
	case FormatWAV:
		return data, nil
	case "":
		return nil, ErrUnsupportedFormat
	}
	d, err := c.Duration(ctx, data, "duration."+format)
	if err != nil {
		return nil, fmt.Errorf("read %s prompt duration: %w", format, err)
	}
	if d <= 0 {
		return nil, fmt.Errorf("%w: prompt contains no audio", ErrUnsupportedFormat)
	}
	out, err := c.transcode(ctx, data, "prompt."+format, "prompt.wav", func(src, dst string) error {
		return c.proc.ToWAV(ctx, src, dst, sampleRate)
	})
	if err != nil {
		return nil, fmt.Errorf("convert %s prompt to wav: %w", format, err)
	}
	return out, nil
}

// Duration returns the playing time of data in seconds. name sets the
// staged file's extension, which the processor uses to pick a demuxer.
func (c *Converter) Duration(ctx context.Context, data []byte, name string) (float64, error) {
	var d float64
	err := storage.WithTempFile(ctx, c.store, name, bytes.NewReader(data), func(f *storage.TempFile) error {
		var err error
		d, err = c.proc.GetMediaDuration(ctx, f.Path)
		return err
	})
	return d, err
}

// WAVToMP3 encodes a WAV file as MP3.
func (c *Converter) WAVToMP3(ctx context.Context, wav []byte, bitrateKbps int) ([]byte, error) {
	if DetectFormat(wav) != FormatWAV {
		return nil, fmt.Errorf("%w: input is not wav", ErrUnsupportedFormat)
	}
	out, err := c.transcode(ctx, wav, "track.wav", "track.mp3", func(src, dst string) error {
		return c.proc.EncodeMP3(ctx, src, dst, bitrateKbps)
	})
	if err != nil {
		return nil, fmt.Errorf("encode mp3: %w", err)
	}
	return out, nil
}

func (c *Converter) transcode(ctx context.Context, data []byte, srcName, dstName string, run func(src, dst string) error) (out []byte, err error) {
	scope := storage.NewScope()
	defer func() {
		if cerr := scope.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	src, err := scope.Acquire(ctx, c.store, srcName, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	// Reserve the output path; ffmpeg overwrites it.
	dst, err := scope.Acquire(ctx, c.store, dstName, bytes.NewReader(nil))
	if err != nil {
		return nil, err
	}
	if err := run(src.Path, dst.Path); err != nil {
		return nil, err
	}
	return dst.ReadAll(ctx)
}
