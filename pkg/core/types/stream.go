package types

// StreamEvent is the interface for all client-facing stream events.
type StreamEvent interface {
	EventType() string
}

// TextEvent carries one completion fragment, emitted as soon as it arrives.
type TextEvent struct {
	Type  string `json:"type"` // "text"
	Chunk string `json:"chunk"`
}

func (e TextEvent) EventType() string { return "text" }

// AudioEvent carries the synthesized speech for one sentence, emitted in sentence order.
type AudioEvent struct {
	Type  string `json:"type"` // "audio"
	Text  string `json:"text"`
	Audio string `json:"audio"` // base64
}

func (e AudioEvent) EventType() string { return "audio" }

// DoneEvent terminates a successful turn.
type DoneEvent struct {
	Done        bool        `json:"done"`
	Metrics     TurnMetrics `json:"metrics"`
	UserLevel   int         `json:"userLevel"`
	UserXP      int         `json:"userXP"`
	Suggestions []string    `json:"suggestions,omitempty"`
}

func (e DoneEvent) EventType() string { return "done" }

// Error is the wire form of a failed request.
type Error struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Param      string `json:"param,omitempty"`
	Code       string `json:"code,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	RetryAfter *int   `json:"retry_after,omitempty"`
}

// ErrorEvent terminates a failed turn once streaming has started.
type ErrorEvent struct {
	Type  string `json:"type"` // "error"
	Error Error  `json:"error"`
}

func (e ErrorEvent) EventType() string { return "error" }

// PingEvent is sent periodically to keep the connection alive.
type PingEvent struct {
	Type string `json:"type"` // "ping"
}

func (e PingEvent) EventType() string { return "ping" }
