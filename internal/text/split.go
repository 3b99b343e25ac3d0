package text

import (
	"regexp"
	"unicode"
	"unicode/utf8"
)

// paragraphBreak matches a blank line, a form feed or U+2029 PARAGRAPH SEPARATOR.
var paragraphBreak = regexp.MustCompile(`\n[ \t\r\v]*\n|[\f\x{2029}]`)

// Span is a half-open byte range [Start, End) into a text.
type Span struct {
	Start int
	End   int
}

// Paragraphs returns the trimmed, non-empty paragraphs of s as spans.
func Paragraphs(s string) []Span {
	var out []Span
	prev := 0
	for _, loc := range paragraphBreak.FindAllStringIndex(s, -1) {
		out = appendTrimmed(out, s, prev, loc[0])
		prev = loc[1]
	}
	return appendTrimmed(out, s, prev, len(s))
}

// Sentences returns the trimmed sentences of s[p.Start:p.End]. A sentence
// ends at '.', '!' or '?' followed by whitespace or the end of the span;
// the punctuation stays with the sentence.
func Sentences(s string, p Span) []Span {
	var out []Span
	start := p.Start
	for i := p.Start; i < p.End; {
		r, size := utf8.DecodeRuneInString(s[i:p.End])
		next := i + size
		if isTerminal(r) && (next == p.End || startsWithSpace(s[next:p.End])) {
			out = appendTrimmed(out, s, start, next)
			start = next
		}
		i = next
	}
	return appendTrimmed(out, s, start, p.End)
}

// SplitParagraphs returns the paragraphs of s as strings.
func SplitParagraphs(s string) []string {
	return texts(s, Paragraphs(s))
}

// SplitSentences returns the sentences of s as strings.
func SplitSentences(s string) []string {
	return texts(s, Sentences(s, Span{Start: 0, End: len(s)}))
}

// Words returns the whitespace-separated words of s[p.Start:p.End].
func Words(s string, p Span) []Span {
	var out []Span
	start := -1
	for i := p.Start; i < p.End; {
		r, size := utf8.DecodeRuneInString(s[i:p.End])
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, Span{Start: start, End: i})
				start = -1
			}
		} else if start < 0 {
			start = i
		}
		i += size
	}
	if start >= 0 {
		out = append(out, Span{Start: start, End: p.End})
	}
	return out
}

func texts(s string, spans []Span) []string {
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = s[sp.Start:sp.End]
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func startsWithSpace(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsSpace(r)
}

func appendTrimmed(out []Span, s string, start, end int) []Span {
	for start < end {
		r, size := utf8.DecodeRuneInString(s[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(s[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	if start < end {
		out = append(out, Span{Start: start, End: end})
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func hasPrintable(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) && unicode.IsGraphic(r) && r != utf8.RuneError {
			return true
		}
	}
	return false
}
