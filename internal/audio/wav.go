package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/maauso/speechstitch/internal/speech"
)

// Static errors for the WAV codec.
var (
	// ErrInvalidWAV is returned when input is not a decodable PCM WAV stream.
	ErrInvalidWAV = errors.New("audio: invalid wav data")
	// ErrInvalidSampleRate is returned when encoding at a non-positive rate.
	ErrInvalidSampleRate = errors.New("audio: sample rate must be positive")
)

const bitDepth = 16

// EncodeWAV writes samples as a 16-bit PCM mono WAV stream. Samples are
// clamped to [-1, 1].
func EncodeWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return ErrInvalidSampleRate
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		c := math.Max(-1, math.Min(1, float64(s)))
		data[i] = int(math.Round(c * math.MaxInt16))
	}

	enc := wav.NewEncoder(w, sampleRate, bitDepth, 1, 1)
	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: 1},
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// DecodeWAV reads a PCM WAV stream. Multi-channel audio is mixed down to
// mono.
func DecodeWAV(r io.ReadSeeker) (speech.Audio, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return speech.Audio{}, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return speech.Audio{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 {
		return speech.Audio{}, ErrInvalidWAV
	}

	channels := max(buf.Format.NumChannels, 1)
	depth := int(dec.BitDepth)
	if depth <= 0 {
		depth = bitDepth
	}
	scale := float64(int64(1) << (depth - 1))
	// 8-bit PCM is unsigned with its midpoint at 128.
	var bias int
	if depth == 8 {
		bias = 128
	}

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += buf.Data[f*channels+c] - bias
		}
		samples[f] = float32(float64(sum) / float64(channels) / scale)
	}
	return speech.Audio{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// WAVBytes encodes samples into an in-memory WAV file.
func WAVBytes(samples []float32, sampleRate int) ([]byte, error) {
	var f memFile
	if err := EncodeWAV(&f, samples, sampleRate); err != nil {
		return nil, err
	}
	return f.buf, nil
}

// DecodeWAVBytes decodes an in-memory WAV file.
func DecodeWAVBytes(b []byte) (speech.Audio, error) {
	return DecodeWAV(bytes.NewReader(b))
}

// memFile is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes on Close.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.buf))
	default:
		return 0, fmt.Errorf("audio: invalid whence %d", whence)
	}
	pos := base + offset
	if pos < 0 {
		return 0, fmt.Errorf("audio: negative seek position %d", pos)
	}
	m.pos = int(pos)
	return pos, nil
}
