package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vango-go/vai-converse/internal/dotenv"
	"github.com/vango-go/vai-converse/pkg/analysis"
	"github.com/vango-go/vai-converse/pkg/conversation"
	"github.com/vango-go/vai-converse/pkg/core/types"
	"github.com/vango-go/vai-converse/pkg/core/voice"
	"github.com/vango-go/vai-converse/pkg/gateway/config"
	"github.com/vango-go/vai-converse/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-converse/pkg/gateway/metrics"
	gatewayserver "github.com/vango-go/vai-converse/pkg/gateway/server"
	"github.com/vango-go/vai-converse/pkg/gateway/upstream"
	"github.com/vango-go/vai-converse/pkg/profile"
	"github.com/vango-go/vai-converse/pkg/store"
	"github.com/vango-go/vai-converse/pkg/store/postgres"
	"github.com/vango-go/vai-converse/pkg/store/sqlite"
	"github.com/vango-go/vai-converse/pkg/tokenstore"
)

type serviceDeps struct {
	loadConfig   func() (config.Config, error)
	newApp       func(context.Context, config.Config, *slog.Logger) (*app, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServiceDeps() serviceDeps {
	return serviceDeps{
		loadConfig: config.LoadFromEnv,
		newApp:     buildApp,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// app owns everything that outlives a single request.
type app struct {
	handler   http.Handler
	lifecycle *lifecycle.Lifecycle
	pool      *analysis.Pool
	store     store.Store
	tokens    tokenstore.Store
	logger    *slog.Logger
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	providers, err := upstream.Factory{HTTPClient: upstream.NewHTTPClient(cfg)}.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}

	var st store.Store
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st = pg
	case config.StoreSQLite:
		lite, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		st = lite
	default:
		st = store.NewMemory()
	}

	var tokens tokenstore.Store
	if cfg.RedisURL != "" {
		rt, err := tokenstore.NewRedisFromURL(ctx, cfg.RedisURL, "converse:profile:")
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		tokens = rt
	} else {
		tokens = tokenstore.NewMemory(time.Now)
	}

	for _, id := range cfg.UserIDs() {
		if _, err := st.EnsureUser(ctx, types.NewUser(id, id, time.Now())); err != nil {
			closeTokens(tokens)
			_ = st.Close()
			return nil, fmt.Errorf("provision user %q: %w", id, err)
		}
	}

	m := metrics.New("")
	lc := &lifecycle.Lifecycle{}

	analyzer := analysis.NewAnalyzer(st, providers.LLM, logger)
	pool := analysis.NewPool(analyzer.Run, analysis.PoolOptions{
		Workers:    cfg.AnalysisWorkers,
		QueueSize:  cfg.AnalysisQueueSize,
		Timeout:    cfg.AnalysisTimeout,
		MaxRetries: uint64(cfg.AnalysisMaxRetries),
		OnResult:   m.RecordAnalysis,
	}, logger)

	conversations := conversation.NewService(conversation.Config{
		Store:    st,
		LLM:      providers.LLM,
		Speech:   providers.TTS,
		Analysis: analysis.NewScheduler(pool, logger),
		Options: conversation.Options{
			ContextMessages:   cfg.ContextMessages,
			MaxTokens:         cfg.MaxTokens,
			Temperature:       float32(cfg.Temperature),
			DefaultVoice:      cfg.DefaultVoice,
			CompletionTimeout: cfg.CompletionTimeout,
			Speech: voice.DispatcherOptions{
				MaxInFlight: cfg.SpeechMaxInFlight,
				Timeout:     cfg.SpeechTimeout,
				Format:      "mp3",
			},
		},
		Hooks:  m.ConversationHooks(),
		Logger: logger,
	})

	profiles := profile.NewService(st, tokens, profile.LogNotifier{Logger: logger}, profile.Options{
		FrontendURL: cfg.FrontendURL,
		TokenTTL:    cfg.TokenTTL,
	}, logger)

	gw := gatewayserver.New(cfg, gatewayserver.Deps{
		Conversations: conversations,
		Profiles:      profiles,
		Analyzer:      analyzer,
		STT:           providers.STT,
		TTS:           providers.TTS,
		Metrics:       m,
		Lifecycle:     lc,
	}, logger)

	return &app{
		handler:   gw.Handler(),
		lifecycle: lc,
		pool:      pool,
		store:     st,
		tokens:    tokens,
		logger:    logger,
	}, nil
}

// Close drains queued analysis and releases storage.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.pool.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("analysis pool: %w", err))
	}
	closeTokens(a.tokens)
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	return errors.Join(errs...)
}

func closeTokens(tokens tokenstore.Store) {
	if c, ok := tokens.(io.Closer); ok {
		_ = c.Close()
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runService(ctx context.Context, logger *slog.Logger, deps serviceDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newApp == nil {
		return errors.New("missing newApp dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := deps.newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	httpSrv := buildHTTPServer(cfg, a.handler)

	logger.Info("starting converse",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"store", cfg.StoreBackend,
		"llm_provider", cfg.LLMProvider,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		_ = a.Close(closeCtx)
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		_ = httpSrv.Close()
		_ = a.Close(closeCtx)
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	a.lifecycle.SetDraining(true)
	if n := a.lifecycle.ActiveStreams(); n > 0 {
		logger.Info("draining active streams", "count", n)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if err := a.lifecycle.WaitStreams(waitCtx); err != nil {
		logger.Warn("streams still open at shutdown", "count", a.lifecycle.ActiveStreams())
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer closeCancel()
	if err := a.Close(closeCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("converse stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps serviceDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "converse: %v\n", err)
		return 1
	}

	if err := runService(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "converse: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultServiceDeps()))
}
