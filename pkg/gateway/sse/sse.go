package sse

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/vango-go/vai-converse/pkg/core/types"
)

// Writer frames events onto a streaming HTTP response. Send is safe for
// concurrent use so a keepalive ticker can share the stream with a turn.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

func New(w http.ResponseWriter) (*Writer, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &Writer{w: w, flusher: f}, nil
}

// Start writes the event-stream headers.
func (sw *Writer) Start() {
	h := sw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	sw.w.WriteHeader(http.StatusOK)
	sw.flusher.Flush()
}

func (sw *Writer) Send(event string, data any) error {
	b, err := sonic.Marshal(data)
	if err != nil {
		return err
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	if _, err := fmt.Fprintf(sw.w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", b); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// Emit sends ev under its own event name.
func (sw *Writer) Emit(ev types.StreamEvent) error {
	return sw.Send(ev.EventType(), ev)
}
