package speech

import "unicode/utf8"

// TextChunk is one bounded slice of the original text, synthesized on its own.
type TextChunk struct {
	// Index is the 0-based position of the chunk in text order.
	Index int `json:"index"`
	// Text is what the synthesis engine receives: the overlap prefix, if
	// any, followed by the body.
	Text string `json:"text"`
	// Start and End are byte offsets of the body in the original text.
	Start int `json:"char_start"`
	End   int `json:"char_end"`
	// LeadingOverlapSentenceCount is the number of sentences repeated from
	// the previous chunk at the start of Text.
	LeadingOverlapSentenceCount int `json:"leading_overlap_sentence_count"`
	// OverlapLen is the byte length of the overlap prefix in Text,
	// including the joining space.
	OverlapLen int `json:"overlap_len"`
	// Oversized is set when the body is a single sentence (or word) that
	// exceeds the chunk size bound on its own.
	Oversized bool `json:"oversized"`
	// Sentences is the number of sentences in the body.
	Sentences int `json:"sentences"`
}

// Body returns the chunk text without the overlap prefix.
func (c TextChunk) Body() string {
	return c.Text[c.OverlapLen:]
}

// Len returns the rune length of the synthesizable text.
func (c TextChunk) Len() int {
	return utf8.RuneCountInString(c.Text)
}

// OverlapRatio returns the share of the chunk's runes that belong to the
// overlap prefix.
func (c TextChunk) OverlapRatio() float64 {
	if c.OverlapLen == 0 || c.Text == "" {
		return 0
	}
	return float64(utf8.RuneCountInString(c.Text[:c.OverlapLen])) / float64(c.Len())
}

// Audio is a mono buffer of amplitudes in [-1, 1] at a fixed sample rate.
type Audio struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the buffer length in seconds.
func (a Audio) Duration() float64 {
	if a.SampleRate <= 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

// ChunkResult is the synthesized audio of one TextChunk.
type ChunkResult struct {
	// Index matches TextChunk.Index.
	Index int
	// Samples holds the chunk's amplitudes in order.
	Samples []float32
	// SampleRate is the positive sample rate of Samples.
	SampleRate int
	// OverlapRatio is copied from the chunk so the concatenator can trim
	// the audio of repeated sentences.
	OverlapRatio float64
}

// Duration returns len(Samples)/SampleRate.
func (r ChunkResult) Duration() float64 {
	return Audio{Samples: r.Samples, SampleRate: r.SampleRate}.Duration()
}

// Result is the assembled waveform plus processing metadata.
type Result struct {
	Samples              []float32 `json:"-"`
	SampleRate           int       `json:"sample_rate"`
	TotalDurationSeconds float64   `json:"total_duration_seconds"`
	ChunksProcessed      int       `json:"chunks_processed"`
	TotalCharacters      int       `json:"total_characters"`
}
