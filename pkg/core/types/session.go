package types

import (
	"math"
	"time"
)

// SessionStatus is the lifecycle state of a conversation session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)

// Origin identifies who authored a message.
type Origin string

const (
	OriginUser Origin = "user"
	OriginAI   Origin = "ai"
)

// Message is one entry of a session transcript.
type Message struct {
	From       Origin    `json:"from"`
	Text       string    `json:"text"`
	VoiceInput bool      `json:"voiceInput"`
	Timestamp  time.Time `json:"timestamp"`
}

// TurnMetrics scores a turn. Every field is in [0, 100].
type TurnMetrics struct {
	Engagement   int `json:"engagement"`
	Coherence    int `json:"coherence"`
	ResponseTime int `json:"responseTime"`
}

// Rating is the rounded mean of the three metrics.
func (m TurnMetrics) Rating() int {
	return int(math.Round(float64(m.Engagement+m.Coherence+m.ResponseTime) / 3))
}

// MetricsPatch carries a partial metrics update. A nil field is absent and
// leaves the current value untouched; a non-nil field, zero included, replaces it.
type MetricsPatch struct {
	Engagement   *int `json:"engagement,omitempty"`
	Coherence    *int `json:"coherence,omitempty"`
	ResponseTime *int `json:"responseTime,omitempty"`
}

// PatchOf returns a patch with every field of m present.
func PatchOf(m TurnMetrics) MetricsPatch {
	e, c, r := m.Engagement, m.Coherence, m.ResponseTime
	return MetricsPatch{Engagement: &e, Coherence: &c, ResponseTime: &r}
}

// Overlay applies p field by field on top of m.
func (m TurnMetrics) Overlay(p MetricsPatch) TurnMetrics {
	if p.Engagement != nil {
		m.Engagement = *p.Engagement
	}
	if p.Coherence != nil {
		m.Coherence = *p.Coherence
	}
	if p.ResponseTime != nil {
		m.ResponseTime = *p.ResponseTime
	}
	return m
}

// Session is a conversation between one user and the AI counterpart.
type Session struct {
	ID        string        `json:"id"`
	UserID    string        `json:"userId"`
	Messages  []Message     `json:"messages"`
	Metrics   TurnMetrics   `json:"metrics"`
	Rating    int           `json:"rating"`
	Status    SessionStatus `json:"status"`
	StartTime time.Time     `json:"startTime"`
	EndTime   *time.Time    `json:"endTime,omitempty"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// UserMessageCount counts messages authored by the user.
func (s *Session) UserMessageCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.From == OriginUser {
			n++
		}
	}
	return n
}

// Recent returns up to n trailing messages.
func (s *Session) Recent(n int) []Message {
	if n <= 0 || len(s.Messages) == 0 {
		return nil
	}
	if len(s.Messages) <= n {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	return &out
}
