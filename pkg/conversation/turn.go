package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vango-go/vai-converse/pkg/core"
	"github.com/vango-go/vai-converse/pkg/core/types"
	"github.com/vango-go/vai-converse/pkg/core/voice"
	"github.com/vango-go/vai-converse/pkg/core/voice/tts"
	"github.com/vango-go/vai-converse/pkg/progression"
)

// Mode is how a turn's reply is delivered.
type Mode string

const (
	ModeBuffered Mode = "buffered"
	ModeStream   Mode = "stream"
	ModeVoice    Mode = "voice"
)

// TurnInput is one user message.
type TurnInput struct {
	SessionID  string
	UserID     string
	Text       string
	VoiceInput bool
	// Voice selects the synthesis voice for ModeVoice.
	Voice string
}

// TurnResult is the committed outcome of a turn.
type TurnResult struct {
	AIResponse  string            `json:"aiResponse"`
	Metrics     types.TurnMetrics `json:"metrics"`
	UserLevel   int               `json:"userLevel"`
	UserXP      int               `json:"userXP"`
	Suggestions []string          `json:"suggestions"`
}

// Turn is a validated turn that has not produced output yet.
type Turn struct {
	svc     *Service
	mode    Mode
	in      TurnInput
	session *types.Session
	user    *types.User
}

// BeginTurn validates in and loads its session and user. Nothing has been
// written to the client or the store when it returns.
func (s *Service) BeginTurn(ctx context.Context, in TurnInput, mode Mode) (*Turn, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, core.NewInvalidRequestErrorWithParam("text is required", "text")
	}
	if mode == ModeVoice {
		if s.speech == nil {
			return nil, core.NewInvalidRequestError("voice conversation is not available")
		}
		in.VoiceInput = true
		if strings.TrimSpace(in.Voice) == "" {
			in.Voice = s.opts.DefaultVoice
		}
	}

	sess, err := s.loadSession(ctx, in.UserID, in.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == types.SessionCompleted {
		return nil, errSessionCompleted()
	}
	user, err := s.loadUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	return &Turn{svc: s, mode: mode, in: in, session: sess, user: user}, nil
}

// SendMessage runs a buffered turn and returns the whole reply at once.
func (s *Service) SendMessage(ctx context.Context, in TurnInput) (*TurnResult, error) {
	turn, err := s.BeginTurn(ctx, in, ModeBuffered)
	if err != nil {
		return nil, err
	}
	return turn.Complete(ctx)
}

// StreamMessage runs a text-only streamed turn, writing events to out.
func (s *Service) StreamMessage(ctx context.Context, in TurnInput, out voice.Emitter) (*TurnResult, error) {
	turn, err := s.BeginTurn(ctx, in, ModeStream)
	if err != nil {
		return nil, err
	}
	return turn.Stream(ctx, out)
}

// VoiceConversation runs a streamed turn with sentence-by-sentence speech.
func (s *Service) VoiceConversation(ctx context.Context, in TurnInput, out voice.Emitter) (*TurnResult, error) {
	turn, err := s.BeginTurn(ctx, in, ModeVoice)
	if err != nil {
		return nil, err
	}
	return turn.Stream(ctx, out)
}

// Complete runs the turn without streaming.
func (t *Turn) Complete(ctx context.Context) (res *TurnResult, err error) {
	s := t.svc
	start := s.now()
	defer func() { s.observeTurn(t.mode, err, start) }()

	llmCtx, cancel := s.completionContext(ctx)
	defer cancel()

	text, err := s.llm.Complete(llmCtx, s.completionRequest(t.session, t.user, t.in.Text))
	if err != nil {
		return nil, upstreamError(ctx, err)
	}
	if strings.TrimSpace(text) == "" {
		text = FallbackResponse
	}
	metrics := Score(t.in.Text, text, s.now().Sub(start))
	return t.commit(ctx, text, metrics)
}

// Stream runs the turn, writing text, audio and the final done event to out
// from the calling goroutine. On error nothing more is written; the caller
// decides how to report it. A cancelled turn is not committed.
func (t *Turn) Stream(ctx context.Context, out voice.Emitter) (res *TurnResult, err error) {
	s := t.svc
	start := s.now()
	defer func() { s.observeTurn(t.mode, err, start) }()

	llmCtx, cancel := s.completionContext(ctx)
	defer cancel()

	stream, err := s.llm.Stream(llmCtx, s.completionRequest(t.session, t.user, t.in.Text))
	if err != nil {
		return nil, upstreamError(ctx, err)
	}
	defer stream.Close()

	var speech tts.Provider
	opts := voice.PipelineOptions{Dispatcher: s.opts.Speech}
	if t.mode == ModeVoice {
		speech = s.speech
		opts.Dispatcher.Voice = t.in.Voice
		if s.hooks.OnSpeechJob != nil {
			opts.OnJob = func(job voice.SpeechJob) { s.hooks.OnSpeechJob(job.Status) }
		}
	}

	output, err := voice.NewPipeline(speech, opts, s.logger).Run(ctx, stream, out)
	if err != nil {
		var emitErr *voice.EmitError
		if errors.As(err, &emitErr) {
			return nil, err
		}
		return nil, upstreamError(ctx, err)
	}

	metrics := Score(t.in.Text, output.Text, s.now().Sub(start))
	res, err = t.commit(ctx, output.Text, metrics)
	if err != nil {
		return nil, err
	}

	if err := out.Emit(types.DoneEvent{
		Done:        true,
		Metrics:     res.Metrics,
		UserLevel:   res.UserLevel,
		UserXP:      res.UserXP,
		Suggestions: res.Suggestions,
	}); err != nil {
		return res, &voice.EmitError{Err: err}
	}
	return res, nil
}

// commit appends the (user, ai) pair and overlays metrics in one atomic
// session update, then applies progression to the user and notifies the
// analysis trigger.
func (t *Turn) commit(ctx context.Context, aiText string, metrics types.TurnMetrics) (*TurnResult, error) {
	s := t.svc
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sess, err := s.store.UpdateSession(ctx, t.session.ID, func(cur *types.Session) error {
		if cur.Status == types.SessionCompleted {
			return errSessionCompleted()
		}
		now := s.now()
		cur.Messages = append(cur.Messages,
			types.Message{From: types.OriginUser, Text: t.in.Text, VoiceInput: t.in.VoiceInput, Timestamp: now},
			types.Message{From: types.OriginAI, Text: aiText, VoiceInput: t.mode == ModeVoice, Timestamp: now},
		)
		cur.Metrics = cur.Metrics.Overlay(types.PatchOf(metrics))
		cur.Rating = progression.Rating(cur.Metrics)
		return nil
	})
	if err != nil {
		return nil, storeError("session commit", err)
	}

	// The session already holds the turn; a departed client must not leave
	// its progression unapplied.
	user, err := s.store.UpdateUser(context.WithoutCancel(ctx), t.in.UserID, func(u *types.User) error {
		u.XP, u.Level = progression.Apply(u.XP, metrics)
		return nil
	})
	if err != nil {
		return nil, storeError("user progression update", err)
	}

	if s.analysis != nil {
		s.analysis.AfterTurn(t.in.UserID, sess.UserMessageCount())
	}

	suggestions := user.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}
	return &TurnResult{
		AIResponse:  aiText,
		Metrics:     metrics,
		UserLevel:   user.Level,
		UserXP:      user.XP,
		Suggestions: suggestions,
	}, nil
}

func (s *Service) completionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.CompletionTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.CompletionTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Service) observeTurn(mode Mode, err error, start time.Time) {
	if s.hooks.OnTurn == nil {
		return
	}
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = "canceled"
	default:
		status = "error"
	}
	s.hooks.OnTurn(mode, status, s.now().Sub(start))
}

// upstreamError classifies a completion failure. Cancellation of the turn
// itself is returned as-is.
func upstreamError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ce *core.Error
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.NewUpstreamError("completion", err)
}
