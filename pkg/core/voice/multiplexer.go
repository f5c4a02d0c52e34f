package voice

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/vango-go/vai-converse/pkg/core/types"
)

// Emitter writes client-facing events. Implementations need not be safe for
// concurrent use: a turn only ever emits from its coordinating goroutine.
type Emitter interface {
	Emit(ev types.StreamEvent) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ev types.StreamEvent) error

func (f EmitterFunc) Emit(ev types.StreamEvent) error { return f(ev) }

// Multiplexer merges immediate text events with order-gated audio events.
// Audio for sentence n is released only after every sentence before n has
// been released or skipped; a failed job is skipped without emitting.
type Multiplexer struct {
	out Emitter

	nextAudioSeq int
	expected     int
	held         map[int]SpeechJob

	text     strings.Builder
	released int
	skipped  int
}

// NewMultiplexer creates a multiplexer writing to out.
func NewMultiplexer(out Emitter) *Multiplexer {
	return &Multiplexer{
		out:  out,
		held: make(map[int]SpeechJob),
	}
}

// Text forwards a fragment immediately and records it for the turn transcript.
func (m *Multiplexer) Text(chunk string) error {
	if chunk == "" {
		return nil
	}
	m.text.WriteString(chunk)
	return m.out.Emit(types.TextEvent{Type: "text", Chunk: chunk})
}

// Expect registers a sentence whose audio must be released or skipped before
// the turn can settle.
func (m *Multiplexer) Expect(s Sentence) {
	if s.Seq+1 > m.expected {
		m.expected = s.Seq + 1
	}
}

// Resolve stores a finished job and releases every contiguous run starting at
// the next expected sequence number.
func (m *Multiplexer) Resolve(job SpeechJob) error {
	if job.Seq < m.nextAudioSeq {
		return fmt.Errorf("voice: sequence %d already released", job.Seq)
	}
	if _, dup := m.held[job.Seq]; dup {
		return fmt.Errorf("voice: sequence %d resolved twice", job.Seq)
	}
	m.held[job.Seq] = job

	for {
		next, ok := m.held[m.nextAudioSeq]
		if !ok {
			return nil
		}
		delete(m.held, m.nextAudioSeq)
		m.nextAudioSeq++

		if next.Status != JobDone {
			m.skipped++
			continue
		}
		m.released++
		if err := m.out.Emit(types.AudioEvent{
			Type:  "audio",
			Text:  strings.TrimSpace(next.Text),
			Audio: base64.StdEncoding.EncodeToString(next.Audio),
		}); err != nil {
			return err
		}
	}
}

// Settled reports whether every expected sentence has been released or skipped.
func (m *Multiplexer) Settled() bool {
	return m.nextAudioSeq >= m.expected
}

// NextAudioSeq is the lowest sequence number not yet released.
func (m *Multiplexer) NextAudioSeq() int {
	return m.nextAudioSeq
}

// Held returns the number of completed jobs waiting on a predecessor.
func (m *Multiplexer) Held() int {
	return len(m.held)
}

// Transcript returns the concatenation of all forwarded fragments.
func (m *Multiplexer) Transcript() string {
	return m.text.String()
}

// Released and Skipped count audio outcomes so far.
func (m *Multiplexer) Released() int { return m.released }
func (m *Multiplexer) Skipped() int  { return m.skipped }
