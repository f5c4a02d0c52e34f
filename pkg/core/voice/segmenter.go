// Package voice turns a streamed completion into ordered text and speech events.
package voice

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Sentence is one complete sentence cut from the fragment stream.
// Seq is dense and zero-based within a turn.
type Sentence struct {
	Seq  int
	Text string
}

// Segmenter accumulates text fragments and extracts complete sentences.
// A sentence ends at '.', '!' or '?' immediately followed by whitespace;
// the terminator belongs to the sentence, the whitespace to the remainder.
type Segmenter struct {
	buffer strings.Builder
	next   int
}

// NewSegmenter creates an empty segmenter.
func NewSegmenter() *Segmenter {
	return &Segmenter{}
}

// Push appends a fragment and returns every sentence it completes, in order.
func (s *Segmenter) Push(fragment string) []Sentence {
	if fragment == "" {
		return nil
	}
	s.buffer.WriteString(fragment)
	content := s.buffer.String()

	var out []Sentence
	start := 0
	for i := 0; i < len(content); i++ {
		if !isTerminator(content[i]) {
			continue
		}
		r, _ := utf8.DecodeRuneInString(content[i+1:])
		if i+1 >= len(content) || !unicode.IsSpace(r) {
			continue
		}
		out = append(out, s.emit(content[start:i+1]))
		start = i + 1
	}

	if start > 0 {
		s.buffer.Reset()
		s.buffer.WriteString(content[start:])
	}
	return out
}

// Flush returns the remaining text as a final sentence, if it holds anything
// besides whitespace, and clears the buffer.
func (s *Segmenter) Flush() (Sentence, bool) {
	rest := s.buffer.String()
	s.buffer.Reset()
	if strings.TrimSpace(rest) == "" {
		return Sentence{}, false
	}
	return s.emit(rest), true
}

// Pending returns the buffered text without clearing it.
func (s *Segmenter) Pending() string {
	return s.buffer.String()
}

// Count returns how many sentences have been emitted so far.
func (s *Segmenter) Count() int {
	return s.next
}

func (s *Segmenter) emit(text string) Sentence {
	out := Sentence{Seq: s.next, Text: text}
	s.next++
	return out
}

func isTerminator(c byte) bool {
	return c == '.' || c == '!' || c == '?'
}
