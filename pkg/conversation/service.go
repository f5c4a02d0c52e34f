// Package conversation runs practice sessions: it starts and ends sessions,
// drives each turn through the completion and speech pipeline, and commits
// the turn into session and user state.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-converse/pkg/core"
	"github.com/vango-go/vai-converse/pkg/core/types"
	"github.com/vango-go/vai-converse/pkg/core/voice"
	"github.com/vango-go/vai-converse/pkg/core/voice/tts"
	"github.com/vango-go/vai-converse/pkg/progression"
	"github.com/vango-go/vai-converse/pkg/store"
)

// FallbackResponse replaces an empty buffered completion.
const FallbackResponse = "I apologize, but I couldn't generate a response."

// AnalysisTrigger is told about committed turns and ended sessions.
type AnalysisTrigger interface {
	AfterTurn(userID string, userMessageCount int) bool
	AfterSessionEnd(userID string, completedSessions int) bool
}

// Hooks observe turn outcomes. Every field is optional.
type Hooks struct {
	OnTurn      func(mode Mode, status string, elapsed time.Duration)
	OnSpeechJob func(status voice.JobStatus)
}

// Options tunes a Service.
type Options struct {
	ContextMessages   int
	MaxTokens         int
	Temperature       float32
	DefaultVoice      string
	CompletionTimeout time.Duration
	Speech            voice.DispatcherOptions
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		ContextMessages:   5,
		MaxTokens:         150,
		Temperature:       0.7,
		DefaultVoice:      tts.DefaultVoice,
		CompletionTimeout: 60 * time.Second,
		Speech: voice.DispatcherOptions{
			MaxInFlight: 3,
			Timeout:     20 * time.Second,
			Format:      "mp3",
		},
	}
}

// Service implements the conversation operations.
type Service struct {
	store    store.Store
	llm      core.Provider
	speech   tts.Provider
	analysis AnalysisTrigger
	opts     Options
	hooks    Hooks
	logger   *slog.Logger
	now      func() time.Time
}

// Config wires a Service.
type Config struct {
	Store    store.Store
	LLM      core.Provider
	Speech   tts.Provider
	Analysis AnalysisTrigger
	Options  Options
	Hooks    Hooks
	Logger   *slog.Logger
}

// NewService creates a service. A nil Speech provider disables voice turns.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := cfg.Options
	defaults := DefaultOptions()
	if opts.ContextMessages <= 0 {
		opts.ContextMessages = defaults.ContextMessages
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaults.MaxTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = defaults.Temperature
	}
	if strings.TrimSpace(opts.DefaultVoice) == "" {
		opts.DefaultVoice = defaults.DefaultVoice
	}
	return &Service{
		store:    cfg.Store,
		llm:      cfg.LLM,
		speech:   cfg.Speech,
		analysis: cfg.Analysis,
		opts:     opts,
		hooks:    cfg.Hooks,
		logger:   logger,
		now:      time.Now,
	}
}

// StartSession opens a new active session for userID.
func (s *Service) StartSession(ctx context.Context, userID string) (*types.Session, error) {
	if _, err := s.loadUser(ctx, userID); err != nil {
		return nil, err
	}
	now := s.now()
	sess := &types.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Messages:  []types.Message{},
		Status:    types.SessionActive,
		StartTime: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, storeError("session create", err)
	}
	s.logger.Info("session started", "session_id", sess.ID, "user_id", userID)
	return sess, nil
}

// GetSession returns a session owned by userID.
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (*types.Session, error) {
	return s.loadSession(ctx, userID, sessionID)
}

// PauseSession marks a session paused.
func (s *Service) PauseSession(ctx context.Context, userID, sessionID string) (*types.Session, error) {
	sess, err := s.store.UpdateSession(ctx, sessionID, func(cur *types.Session) error {
		if cur.UserID != userID {
			return errSessionNotFound()
		}
		if cur.Status == types.SessionCompleted {
			return errSessionCompleted()
		}
		cur.Status = types.SessionPaused
		return nil
	})
	if err != nil {
		return nil, storeError("session pause", err)
	}
	return sess, nil
}

// EndResult is returned by EndSession.
type EndResult struct {
	SessionRating int `json:"sessionRating"`
	UserRating    int `json:"userRating"`
}

// EndSession completes a session, refreshes the user's rating from all of
// their completed sessions and may schedule an analysis.
func (s *Service) EndSession(ctx context.Context, userID, sessionID string) (*EndResult, error) {
	sess, err := s.store.UpdateSession(ctx, sessionID, func(cur *types.Session) error {
		if cur.UserID != userID {
			return errSessionNotFound()
		}
		if cur.Status == types.SessionCompleted {
			return errSessionCompleted()
		}
		end := s.now()
		cur.Status = types.SessionCompleted
		cur.EndTime = &end
		return nil
	})
	if err != nil {
		return nil, storeError("session end", err)
	}

	completed, err := s.store.ListSessions(ctx, store.SessionFilter{
		UserID:   userID,
		Statuses: []types.SessionStatus{types.SessionCompleted},
	})
	if err != nil {
		return nil, storeError("session list", err)
	}
	ratings := make([]int, len(completed))
	for i, c := range completed {
		ratings[i] = c.Rating
	}
	user, err := s.store.UpdateUser(ctx, userID, func(u *types.User) error {
		u.Rating = progression.AverageRating(ratings)
		return nil
	})
	if err != nil {
		return nil, storeError("user rating update", err)
	}

	if s.analysis != nil {
		s.analysis.AfterSessionEnd(userID, len(completed))
	}
	s.logger.Info("session ended", "session_id", sessionID, "user_id", userID, "completed_sessions", len(completed))
	return &EndResult{SessionRating: sess.Rating, UserRating: user.Rating}, nil
}

func (s *Service) loadUser(ctx context.Context, userID string) (*types.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NewNotFoundError("user not found")
		}
		return nil, storeError("user load", err)
	}
	return u, nil
}

func (s *Service) loadSession(ctx context.Context, userID, sessionID string) (*types.Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeError("session load", err)
	}
	if sess.UserID != userID {
		return nil, errSessionNotFound()
	}
	return sess, nil
}

func errSessionNotFound() error {
	return core.NewNotFoundError("session not found")
}

func errSessionCompleted() error {
	return core.NewInvalidRequestError("session is already completed")
}

// storeError keeps typed and context errors and wraps the rest.
func storeError(op string, err error) error {
	var ce *core.Error
	switch {
	case errors.As(err, &ce):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, store.ErrNotFound):
		if strings.HasPrefix(op, "user") {
			return core.NewNotFoundError("user not found")
		}
		return errSessionNotFound()
	default:
		return core.NewPersistenceError(op, err)
	}
}
