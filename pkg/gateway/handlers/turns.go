package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/vai-converse/pkg/conversation"
	"github.com/vango-go/vai-converse/pkg/core"
	"github.com/vango-go/vai-converse/pkg/core/types"
	"github.com/vango-go/vai-converse/pkg/core/voice"
	"github.com/vango-go/vai-converse/pkg/gateway/apierror"
	"github.com/vango-go/vai-converse/pkg/gateway/config"
	"github.com/vango-go/vai-converse/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-converse/pkg/gateway/mw"
	"github.com/vango-go/vai-converse/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-converse/pkg/gateway/sse"
)

// StreamObserver is told when a streaming turn opens and closes.
type StreamObserver interface {
	StreamOpened()
	StreamClosed()
}

type turnRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	VoiceInput bool   `json:"voiceInput,omitempty"`
}

// TurnsHandler serves the three ways of sending a message: buffered JSON,
// a text-only SSE stream, and an SSE stream with spoken sentences.
type TurnsHandler struct {
	Config        config.Config
	Conversations *conversation.Service
	Limiter       *ratelimit.Limiter
	Lifecycle     *lifecycle.Lifecycle
	Streams       StreamObserver
	Logger        *slog.Logger
}

// Send handles POST /v1/sessions/{id}/messages.
func (h TurnsHandler) Send(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeTurn(w, r)
	if !ok {
		return
	}
	endTurn, err := admitTurn(h.Limiter, in.SessionID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	defer endTurn()

	ctx := r.Context()
	if h.Config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.HandlerTimeout)
		defer cancel()
	}
	res, err := h.Conversations.SendMessage(ctx, in)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Stream handles POST /v1/sessions/{id}/messages/stream.
func (h TurnsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	h.serveStream(w, r, conversation.ModeStream)
}

// Voice handles POST /v1/sessions/{id}/voice.
func (h TurnsHandler) Voice(w http.ResponseWriter, r *http.Request) {
	h.serveStream(w, r, conversation.ModeVoice)
}

func (h TurnsHandler) decodeTurn(w http.ResponseWriter, r *http.Request) (conversation.TurnInput, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return conversation.TurnInput{}, false
	}
	var body turnRequest
	if err := readJSON(w, r, h.Config.MaxBodyBytes, &body); err != nil {
		writeError(w, r, h.Logger, err)
		return conversation.TurnInput{}, false
	}
	return conversation.TurnInput{
		SessionID:  r.PathValue("id"),
		UserID:     userID,
		Text:       body.Text,
		VoiceInput: body.VoiceInput,
		Voice:      strings.TrimSpace(body.Voice),
	}, true
}

func (h TurnsHandler) serveStream(w http.ResponseWriter, r *http.Request, mode conversation.Mode) {
	in, ok := h.decodeTurn(w, r)
	if !ok {
		return
	}

	release, err := admitStream(h.Lifecycle, h.Limiter, in.UserID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	defer release()
	endTurn, err := admitTurn(h.Limiter, in.SessionID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	defer endTurn()

	ctx := r.Context()
	if h.Config.SSEMaxStreamDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.SSEMaxStreamDuration)
		defer cancel()
	}

	// Validation and lookup errors are still plain JSON responses.
	turn, err := h.Conversations.BeginTurn(ctx, in, mode)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	sw, err := sse.New(w)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	sw.Start()

	if h.Streams != nil {
		h.Streams.StreamOpened()
		defer h.Streams.StreamClosed()
	}

	// Track last non-ping activity so pings don't suppress themselves.
	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())
	out := voice.EmitterFunc(func(ev types.StreamEvent) error {
		if err := sw.Emit(ev); err != nil {
			return err
		}
		lastActivity.Store(time.Now().UnixNano())
		return nil
	})

	stopPings := startPings(ctx, h.Config.SSEPingInterval, &lastActivity, func() error {
		return sw.Emit(types.PingEvent{Type: "ping"})
	})
	_, err = turn.Stream(ctx, out)
	stopPings()

	if err != nil {
		reqID, _ := mw.RequestIDFrom(r.Context())
		reportStreamError(loggerOr(h.Logger), reqID, in.SessionID, err, sw)
	}
}

// admitStream registers a streaming turn with the lifecycle and takes one of
// the user's stream permits. The returned func releases both.
func admitStream(lc *lifecycle.Lifecycle, limiter *ratelimit.Limiter, userID string) (func(), error) {
	end, ok := lc.BeginStream()
	if !ok {
		return nil, core.NewOverloadedError("server is shutting down")
	}
	dec := limiter.AcquireStream(ratelimit.UserKey(userID), time.Now())
	if !dec.Allowed {
		end()
		return nil, core.NewRateLimitError("too many concurrent streams", dec.RetryAfter)
	}
	return func() {
		dec.Permit.Release()
		end()
	}, nil
}

// admitTurn claims the session for one turn. The returned func releases it.
func admitTurn(limiter *ratelimit.Limiter, sessionID string) (func(), error) {
	dec := limiter.BeginTurn(sessionID)
	if !dec.Allowed {
		return nil, core.NewRateLimitError("a turn is already in progress", dec.RetryAfter)
	}
	return dec.Permit.Release, nil
}

// startPings sends keepalives while the stream is quiet. The returned func
// stops the ticker and waits for any in-progress ping to finish.
func startPings(ctx context.Context, interval time.Duration, lastActivity *atomic.Int64, ping func() error) func() {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case t := <-ticker.C:
				if t.Sub(time.Unix(0, lastActivity.Load())) < interval {
					continue
				}
				if ping() != nil {
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

// reportStreamError ends a started stream with an error event. Nothing is
// written when the client is gone.
func reportStreamError(logger *slog.Logger, reqID, sessionID string, err error, out voice.Emitter) {
	var emitErr *voice.EmitError
	if apierror.IsSilent(err) || errors.As(err, &emitErr) {
		logger.Info("stream abandoned", "request_id", reqID, "session_id", sessionID, "error", err)
		return
	}
	coreErr, status := apierror.FromError(err, reqID)
	if status >= http.StatusInternalServerError {
		logger.Error("turn failed", "request_id", reqID, "session_id", sessionID, "error", err)
	} else {
		logger.Warn("turn failed", "request_id", reqID, "session_id", sessionID, "error", err)
	}
	_ = out.Emit(types.ErrorEvent{Type: "error", Error: apierror.Wire(coreErr)})
}
