package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/speechstitch/internal/audio"
	"github.com/maauso/speechstitch/internal/storage"
)

// fakeProcessor writes a fixed payload to dst and records the paths it saw.
// It reports one second of audio unless silent is set.
type fakeProcessor struct {
	out     []byte
	err     error
	src     string
	dst     string
	srcData []byte
	rate    int
	bitrate int

	silent      bool
	durationErr error
	durationSrc []byte
}

func (f *fakeProcessor) ToWAV(_ context.Context, src, dst string, sampleRate int) error {
	f.rate = sampleRate
	return f.run(src, dst)
}

func (f *fakeProcessor) EncodeMP3(_ context.Context, src, dst string, bitrateKbps int) error {
	f.bitrate = bitrateKbps
	return f.run(src, dst)
}

func (f *fakeProcessor) GetMediaDuration(_ context.Context, path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	f.durationSrc = data
	if f.durationErr != nil {
		return 0, f.durationErr
	}
	if f.silent {
		return 0, nil
	}
	return 1, nil
}

func (f *fakeProcessor) run(src, dst string) error {
	f.src, f.dst = src, dst
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	f.srcData = data
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, f.out, 0o600)
}

func newTestStore(t *testing.T) (*storage.LocalStorage, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	return store, dir
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files should be released")
}

func testWAV(t *testing.T) []byte {
	t.Helper()
	b, err := audio.WAVBytes([]float32{0, 0.5, -0.5, 0}, 16000)
	require.NoError(t, err)
	return b
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"wav", []byte("RIFF\x24\x00\x00\x00WAVEfmt "), FormatWAV},
		{"mp3 id3", []byte("ID3\x04\x00\x00"), FormatMP3},
		{"mp3 frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, FormatMP3},
		{"ogg", []byte("OggS\x00\x02"), FormatOGG},
		{"flac", []byte("fLaC\x00\x00"), FormatFLAC},
		{"riff without wave", []byte("RIFF\x24\x00\x00\x00AVI LIST"), ""},
		{"text", []byte("hello world"), ""},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.data))
		})
	}
}

func TestPromptToWAV(t *testing.T) {
	ctx := context.Background()

	t.Run("wav passes through", func(t *testing.T) {
		store, dir := newTestStore(t)
		proc := &fakeProcessor{}
		wav := testWAV(t)

		got, err := NewConverter(proc, store).PromptToWAV(ctx, wav, 24000)
		require.NoError(t, err)
		assert.Equal(t, wav, got)
		assert.Empty(t, proc.src, "processor should not run")
		assertDirEmpty(t, dir)
	})

	t.Run("mp3 is transcoded", func(t *testing.T) {
		store, dir := newTestStore(t)
		wav := testWAV(t)
		proc := &fakeProcessor{out: wav}
		mp3 := []byte("ID3\x04\x00\x00fake mp3 payload")

		got, err := NewConverter(proc, store).PromptToWAV(ctx, mp3, 24000)
		require.NoError(t, err)
		assert.Equal(t, wav, got)
		assert.Equal(t, mp3, proc.srcData)
		assert.Equal(t, ".mp3", filepath.Ext(proc.src))
		assert.Equal(t, ".wav", filepath.Ext(proc.dst))
		assert.Equal(t, 24000, proc.rate)
		assertDirEmpty(t, dir)
	})

	t.Run("prompt without audio is rejected", func(t *testing.T) {
		store, dir := newTestStore(t)
		proc := &fakeProcessor{out: testWAV(t), silent: true}

		_, err := NewConverter(proc, store).PromptToWAV(ctx, []byte("ID3\x04\x00\x00"), 24000)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
		assert.Empty(t, proc.src, "transcode should not run")
		assertDirEmpty(t, dir)
	})

	t.Run("duration failure", func(t *testing.T) {
		store, dir := newTestStore(t)
		boom := errors.New("duration lookup failed")
		proc := &fakeProcessor{durationErr: boom}

		_, err := NewConverter(proc, store).PromptToWAV(ctx, []byte("fLaC\x00\x00"), 0)
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, proc.src)
		assertDirEmpty(t, dir)
	})

	t.Run("unknown format", func(t *testing.T) {
		store, _ := newTestStore(t)
		_, err := NewConverter(&fakeProcessor{}, store).PromptToWAV(ctx, []byte("not audio"), 0)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("processor failure releases temp files", func(t *testing.T) {
		store, dir := newTestStore(t)
		boom := errors.New("boom")
		proc := &fakeProcessor{err: boom}

		_, err := NewConverter(proc, store).PromptToWAV(ctx, []byte("OggS\x00\x02payload"), 0)
		require.ErrorIs(t, err, boom)
		assertDirEmpty(t, dir)
	})
}

func TestConverterDuration(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestStore(t)
	proc := &fakeProcessor{}
	data := []byte("OggS\x00\x02payload")

	d, err := NewConverter(proc, store).Duration(ctx, data, "clip.ogg")
	require.NoError(t, err)
	assert.Equal(t, 1.0, d)
	assert.Equal(t, data, proc.durationSrc)
	assertDirEmpty(t, dir)
}

func TestWAVToMP3(t *testing.T) {
	ctx := context.Background()

	t.Run("encodes wav", func(t *testing.T) {
		store, dir := newTestStore(t)
		proc := &fakeProcessor{out: []byte("ID3 encoded")}
		wav := testWAV(t)

		got, err := NewConverter(proc, store).WAVToMP3(ctx, wav, 192)
		require.NoError(t, err)
		assert.Equal(t, []byte("ID3 encoded"), got)
		assert.Equal(t, wav, proc.srcData)
		assert.Equal(t, 192, proc.bitrate)
		assertDirEmpty(t, dir)
	})

	t.Run("rejects non wav input", func(t *testing.T) {
		store, _ := newTestStore(t)
		_, err := NewConverter(&fakeProcessor{}, store).WAVToMP3(ctx, []byte("ID3"), 128)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})
}
