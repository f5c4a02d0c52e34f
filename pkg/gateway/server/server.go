package server

import (
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-converse/pkg/analysis"
	"github.com/vango-go/vai-converse/pkg/conversation"
	"github.com/vango-go/vai-converse/pkg/core/voice/stt"
	"github.com/vango-go/vai-converse/pkg/core/voice/tts"
	"github.com/vango-go/vai-converse/pkg/gateway/config"
	"github.com/vango-go/vai-converse/pkg/gateway/handlers"
	"github.com/vango-go/vai-converse/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-converse/pkg/gateway/metrics"
	"github.com/vango-go/vai-converse/pkg/gateway/mw"
	"github.com/vango-go/vai-converse/pkg/gateway/principal"
	"github.com/vango-go/vai-converse/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-converse/pkg/profile"
)

// Deps are the services the HTTP surface exposes. Metrics and the speech
// providers are optional.
type Deps struct {
	Conversations *conversation.Service
	Profiles      *profile.Service
	Analyzer      *analysis.Analyzer
	STT           stt.Provider
	TTS           tts.Provider
	Metrics       *metrics.Metrics
	Lifecycle     *lifecycle.Lifecycle
}

type Server struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger
	mux    *http.ServeMux

	limiter *ratelimit.Limiter
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = &lifecycle.Lifecycle{}
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		mux:    http.NewServeMux(),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
			MaxConcurrentStreams:  cfg.LimitMaxConcurrentStreams,
		}),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	var streams handlers.StreamObserver
	if s.deps.Metrics != nil {
		streams = s.deps.Metrics
		s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.deps.Lifecycle})

	sessions := handlers.SessionsHandler{Conversations: s.deps.Conversations, Logger: s.logger}
	s.mux.HandleFunc("POST /v1/sessions", sessions.Create)
	s.mux.HandleFunc("GET /v1/sessions/{id}", sessions.Get)
	s.mux.HandleFunc("POST /v1/sessions/{id}/pause", sessions.Pause)
	s.mux.HandleFunc("POST /v1/sessions/{id}/end", sessions.End)

	turns := handlers.TurnsHandler{
		Config:        s.cfg,
		Conversations: s.deps.Conversations,
		Limiter:       s.limiter,
		Lifecycle:     s.deps.Lifecycle,
		Streams:       streams,
		Logger:        s.logger,
	}
	s.mux.HandleFunc("POST /v1/sessions/{id}/messages", turns.Send)
	s.mux.HandleFunc("POST /v1/sessions/{id}/messages/stream", turns.Stream)
	s.mux.HandleFunc("POST /v1/sessions/{id}/voice", turns.Voice)
	s.mux.Handle("GET /v1/sessions/{id}/voice/ws", handlers.VoiceWSHandler{
		Config:        s.cfg,
		Conversations: s.deps.Conversations,
		Limiter:       s.limiter,
		Lifecycle:     s.deps.Lifecycle,
		Streams:       streams,
		Logger:        s.logger,
	})

	audio := handlers.AudioHandler{Config: s.cfg, STT: s.deps.STT, TTS: s.deps.TTS, Logger: s.logger}
	s.mux.HandleFunc("POST /v1/audio/transcriptions", audio.Transcribe)
	s.mux.HandleFunc("POST /v1/audio/speech", audio.Speak)

	if s.deps.Analyzer != nil {
		s.mux.Handle("POST /v1/analysis", handlers.AnalysisHandler{Config: s.cfg, Analyzer: s.deps.Analyzer, Logger: s.logger})
	}

	if s.deps.Profiles != nil {
		prof := handlers.ProfileHandler{Config: s.cfg, Profiles: s.deps.Profiles, Logger: s.logger}
		s.mux.HandleFunc("GET /v1/profile", prof.Get)
		s.mux.HandleFunc("POST /v1/profile/update-requests", prof.RequestUpdate)
		s.mux.HandleFunc("POST /v1/profile/verify", prof.Verify)
		s.mux.HandleFunc("GET /v1/profile/verify/{token}", prof.Check)
	}

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var onLimited func(principal.Kind)
	if s.deps.Metrics != nil {
		onLimited = s.deps.Metrics.RecordRateLimitHit
	}

	var h http.Handler = s.mux
	h = mw.RateLimit(s.cfg, s.limiter, onLimited, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
