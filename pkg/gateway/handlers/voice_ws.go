package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-converse/pkg/conversation"
	"github.com/vango-go/vai-converse/pkg/core"
	"github.com/vango-go/vai-converse/pkg/core/types"
	"github.com/vango-go/vai-converse/pkg/core/voice"
	"github.com/vango-go/vai-converse/pkg/gateway/apierror"
	"github.com/vango-go/vai-converse/pkg/gateway/config"
	"github.com/vango-go/vai-converse/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-converse/pkg/gateway/mw"
	"github.com/vango-go/vai-converse/pkg/gateway/ratelimit"
)

// VoiceWSHandler serves GET /v1/sessions/{id}/voice/ws. Every inbound text
// frame {text, voice} runs one voice turn; the turn's events are written
// back as JSON text frames.
type VoiceWSHandler struct {
	Config        config.Config
	Conversations *conversation.Service
	Limiter       *ratelimit.Limiter
	Lifecycle     *lifecycle.Lifecycle
	Streams       StreamObserver
	Logger        *slog.Logger
}

func (h VoiceWSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	sessionID := r.PathValue("id")
	reqID, _ := mw.RequestIDFrom(r.Context())

	release, err := admitStream(h.Lifecycle, h.Limiter, userID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	defer release()

	// Reject unknown sessions before upgrading so the client sees a status code.
	if _, err := h.Conversations.GetSession(r.Context(), userID, sessionID); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: mw.NewOriginPolicy(h.Config).CheckOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Streams != nil {
		h.Streams.StreamOpened()
		defer h.Streams.StreamClosed()
	}
	if h.Config.WSMaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.WSMaxMessageBytes)
	}

	// A hijacked connection's request context is not cancelled on disconnect;
	// the read loop cancels ctx instead.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if h.Config.WSMaxSessionDuration > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, h.Config.WSMaxSessionDuration)
		defer cancelTimeout()
	}

	out := &wsEmitter{conn: conn, writeTimeout: h.Config.WSWriteTimeout}
	pingInterval := h.Config.WSPingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}

	inbound := make(chan turnRequest, 1)
	go h.readLoop(conn, pingInterval, inbound, out, cancel)

	// Pings run beside the turn so pongs keep the read deadline moving
	// while a long turn is speaking.
	stopPings := out.keepAlive(pingInterval, cancel)
	defer stopPings()

	logger := loggerOr(h.Logger).With("request_id", reqID, "session_id", sessionID, "user_id", userID)
	logger.Info("voice socket opened")
	defer logger.Info("voice socket closed")

	for {
		select {
		case <-ctx.Done():
			out.close(websocket.CloseNormalClosure, "")
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			if !h.runTurn(ctx, logger, reqID, conversation.TurnInput{
				SessionID: sessionID,
				UserID:    userID,
				Text:      msg.Text,
				Voice:     strings.TrimSpace(msg.Voice),
			}, out) {
				return
			}
		}
	}
}

// runTurn runs one voice turn under the session's turn permit. It reports
// false once the socket can no longer be written.
func (h VoiceWSHandler) runTurn(ctx context.Context, logger *slog.Logger, reqID string, in conversation.TurnInput, out *wsEmitter) bool {
	endTurn, err := admitTurn(h.Limiter, in.SessionID)
	if err != nil {
		var coreErr *core.Error
		if errors.As(err, &coreErr) {
			out.emitError(coreErr)
		}
		return true
	}
	defer endTurn()

	_, err = h.Conversations.VoiceConversation(ctx, in, out)
	if err == nil {
		return true
	}
	reportStreamError(logger, reqID, in.SessionID, err, out)
	var emitErr *voice.EmitError
	return !errors.As(err, &emitErr)
}

// readLoop decodes inbound frames until the connection fails. At most one
// message waits while a turn is running; further ones are rejected.
func (h VoiceWSHandler) readLoop(conn *websocket.Conn, pingInterval time.Duration, inbound chan<- turnRequest, out *wsEmitter, cancel context.CancelFunc) {
	defer cancel()
	defer close(inbound)

	readWait := 2 * pingInterval
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			out.emitError(core.NewInvalidRequestError("messages must be JSON text frames"))
			continue
		}
		var msg turnRequest
		if err := sonic.Unmarshal(data, &msg); err != nil {
			out.emitError(core.NewInvalidRequestError("message is not valid JSON"))
			continue
		}
		select {
		case inbound <- msg:
		default:
			out.emitError(core.NewRateLimitError("a turn is already in progress", 1))
		}
	}
}

// wsEmitter serialises every write to the socket.
type wsEmitter struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (e *wsEmitter) deadline() time.Time {
	timeout := e.writeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return time.Now().Add(timeout)
}

func (e *wsEmitter) Emit(ev types.StreamEvent) error {
	b, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.conn.SetWriteDeadline(e.deadline()); err != nil {
		return err
	}
	return e.conn.WriteMessage(websocket.TextMessage, b)
}

func (e *wsEmitter) emitError(coreErr *core.Error) {
	_ = e.Emit(types.ErrorEvent{Type: "error", Error: apierror.Wire(coreErr)})
}

func (e *wsEmitter) ping() error {
	return e.conn.WriteControl(websocket.PingMessage, []byte("ping"), e.deadline())
}

// keepAlive pings every interval until the returned func is called. A failed
// ping cancels the socket.
func (e *wsEmitter) keepAlive(interval time.Duration, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := e.ping(); err != nil {
					cancel()
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (e *wsEmitter) close(code int, reason string) {
	_ = e.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), e.deadline())
}
