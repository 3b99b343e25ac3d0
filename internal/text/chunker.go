// Package text splits long input into bounded chunks for independent
// synthesis. Chunks follow paragraph and sentence boundaries and carry byte
// offsets back into the original text.
package text

import (
	"strings"
	"unicode/utf8"

	"github.com/maauso/speechstitch/internal/speech"
)

// Chunk splits text into ordered chunks no longer than cfg.MaxChunkSize
// runes. A paragraph break always closes the current chunk. A sentence
// longer than the bound becomes its own oversized chunk; beyond
// cfg.HardSplitFactor times the bound it is split at word boundaries.
func Chunk(text string, cfg speech.Config) ([]speech.TextChunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &speech.ValidationError{Field: "text", Message: "must not be empty"}
	}
	if !utf8.ValidString(text) {
		return nil, &speech.ValidationError{Field: "text", Message: "must be valid UTF-8"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &builder{text: text, cfg: cfg}
	for _, p := range Paragraphs(text) {
		for _, s := range Sentences(text, p) {
			if err := b.add(s); err != nil {
				return nil, err
			}
		}
		if err := b.flush(); err != nil {
			return nil, err
		}
	}
	return b.chunks, nil
}

type builder struct {
	text   string
	cfg    speech.Config
	chunks []speech.TextChunk

	// prefix holds the overlap sentences of the chunk under construction,
	// cur its body sentences.
	prefix []Span
	cur    []Span
	// last holds the body sentences of the most recently closed chunk.
	last []Span
}

func (b *builder) add(s Span) error {
	n := runeLen(b.text[s.Start:s.End])
	if n > b.cfg.MaxChunkSize {
		if err := b.flush(); err != nil {
			return err
		}
		return b.oversized(s, n)
	}
	if len(b.cur) > 0 && b.length(s.End) <= b.cfg.MaxChunkSize {
		b.cur = append(b.cur, s)
		return nil
	}
	if err := b.flush(); err != nil {
		return err
	}
	b.begin(s)
	return nil
}

// begin starts a chunk with s, prefixed by as many trailing sentences of
// the previous chunk as requested and as fit within the bound.
func (b *builder) begin(s Span) {
	k := min(b.cfg.OverlapSentences, len(b.last))
	n := runeLen(b.text[s.Start:s.End])
	for k > 0 && b.prefixLen(b.last[len(b.last)-k:])+n > b.cfg.MaxChunkSize {
		k--
	}
	b.prefix = b.last[len(b.last)-k:]
	b.cur = []Span{s}
}

// length is the rune length of the chunk under construction if it were
// extended to end.
func (b *builder) length(end int) int {
	return b.prefixLen(b.prefix) + runeLen(b.text[b.cur[0].Start:end])
}

func (b *builder) prefixLen(prefix []Span) int {
	n := 0
	for _, p := range prefix {
		n += runeLen(b.text[p.Start:p.End]) + 1
	}
	return n
}

func (b *builder) flush() error {
	if len(b.cur) == 0 {
		return nil
	}
	body := Span{Start: b.cur[0].Start, End: b.cur[len(b.cur)-1].End}
	if err := b.emit(b.prefix, body, len(b.cur), false); err != nil {
		return err
	}
	b.last = b.cur
	b.prefix, b.cur = nil, nil
	return nil
}

// oversized handles a single sentence longer than the bound.
func (b *builder) oversized(s Span, n int) error {
	if n <= b.cfg.HardSplitFactor*b.cfg.MaxChunkSize {
		if err := b.emit(nil, s, 1, true); err != nil {
			return err
		}
		b.last = []Span{s}
		return nil
	}

	words := Words(b.text, s)
	for i := 0; i < len(words); {
		j := i + 1
		for j < len(words) && runeLen(b.text[words[i].Start:words[j].End]) <= b.cfg.MaxChunkSize {
			j++
		}
		piece := Span{Start: words[i].Start, End: words[j-1].End}
		long := runeLen(b.text[piece.Start:piece.End]) > b.cfg.MaxChunkSize
		if err := b.emit(nil, piece, 1, long); err != nil {
			return err
		}
		i = j
	}
	// Fragments are not sentences; nothing is carried over as overlap.
	b.last = nil
	return nil
}

func (b *builder) emit(prefix []Span, body Span, sentences int, oversized bool) error {
	bodyText := b.text[body.Start:body.End]
	if !hasPrintable(bodyText) {
		return &speech.ChunkingError{Offset: body.Start, Message: "no printable characters"}
	}

	var sb strings.Builder
	for _, p := range prefix {
		sb.WriteString(b.text[p.Start:p.End])
		sb.WriteByte(' ')
	}
	overlapLen := sb.Len()
	sb.WriteString(bodyText)

	b.chunks = append(b.chunks, speech.TextChunk{
		Index:                       len(b.chunks),
		Text:                        sb.String(),
		Start:                       body.Start,
		End:                         body.End,
		LeadingOverlapSentenceCount: len(prefix),
		OverlapLen:                  overlapLen,
		Oversized:                   oversized,
		Sentences:                   sentences,
	})
	return nil
}

// Stats summarizes a chunk sequence.
type Stats struct {
	TotalChunks     int     `json:"total_chunks"`
	TotalCharacters int     `json:"total_characters"`
	AvgChunkSize    float64 `json:"avg_chunk_size"`
	MaxChunkSize    int     `json:"max_chunk_size"`
	MinChunkSize    int     `json:"min_chunk_size"`
	Oversized       int     `json:"oversized"`
}

// Info returns size statistics for chunks, measured in runes of the
// synthesizable text.
func Info(chunks []speech.TextChunk) Stats {
	st := Stats{TotalChunks: len(chunks)}
	for i, c := range chunks {
		n := c.Len()
		st.TotalCharacters += n
		if i == 0 || n > st.MaxChunkSize {
			st.MaxChunkSize = n
		}
		if i == 0 || n < st.MinChunkSize {
			st.MinChunkSize = n
		}
		if c.Oversized {
			st.Oversized++
		}
	}
	if len(chunks) > 0 {
		st.AvgChunkSize = float64(st.TotalCharacters) / float64(len(chunks))
	}
	return st
}
