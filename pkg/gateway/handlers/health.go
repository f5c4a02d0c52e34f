package handlers

import (
	"net/http"

	"github.com/vango-go/vai-converse/pkg/gateway/config"
	"github.com/vango-go/vai-converse/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool     `json:"ok"`
		Draining      bool     `json:"draining"`
		AuthMode      string   `json:"auth_mode"`
		Store         string   `json:"store"`
		LLMProvider   string   `json:"llm_provider"`
		ActiveStreams int      `json:"active_streams"`
		LimitsEnabled bool     `json:"limits_enabled"`
		Issues        []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.MaxBodyBytes <= 0 || h.Config.MaxAudioBytes <= 0 {
		issues = append(issues, "body limits must be > 0")
	}
	if h.Config.SSEPingInterval <= 0 {
		issues = append(issues, "sse ping interval must be > 0")
	}
	if h.Config.SSEMaxStreamDuration <= 0 {
		issues = append(issues, "sse max stream duration must be > 0")
	}
	if h.Config.WSMaxSessionDuration <= 0 {
		issues = append(issues, "ws max session duration must be > 0")
	}
	if h.Config.CompletionTimeout <= 0 || h.Config.SpeechTimeout <= 0 {
		issues = append(issues, "upstream timeouts must be > 0")
	}
	if h.Config.StoreBackend == config.StorePostgres && h.Config.DatabaseURL == "" {
		issues = append(issues, "store=postgres but no database url configured")
	}
	if h.Config.StoreBackend == config.StoreSQLite && h.Config.SQLitePath == "" {
		issues = append(issues, "store=sqlite but no database path configured")
	}

	draining := h.Lifecycle.IsDraining()
	limitsEnabled := (h.Config.LimitRPS > 0 && h.Config.LimitBurst > 0) ||
		(h.Config.LimitMaxConcurrentRequests > 0) ||
		(h.Config.LimitMaxConcurrentStreams > 0)

	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	switch {
	case len(issues) > 0:
		status = http.StatusInternalServerError
	case draining:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, readyResp{
		OK:            ok,
		Draining:      draining,
		AuthMode:      string(h.Config.AuthMode),
		Store:         h.Config.StoreBackend,
		LLMProvider:   h.Config.LLMProvider,
		ActiveStreams: h.Lifecycle.ActiveStreams(),
		LimitsEnabled: limitsEnabled,
		Issues:        issues,
	})
}
