package config

import (
	"sort"
	"strings"
	"testing"
	"time"
)

var converseEnvKeys = []string{
	"CONVERSE_ADDR",
	"CONVERSE_AUTH_MODE",
	"CONVERSE_API_KEYS",
	"CONVERSE_TRUST_PROXY_HEADERS",
	"CONVERSE_CORS_ORIGINS",
	"CONVERSE_MAX_BODY_BYTES",
	"CONVERSE_MAX_AUDIO_BYTES",
	"CONVERSE_SSE_PING_INTERVAL",
	"CONVERSE_SSE_MAX_DURATION",
	"CONVERSE_WS_PING_INTERVAL",
	"CONVERSE_WS_WRITE_TIMEOUT",
	"CONVERSE_WS_MAX_MESSAGE_BYTES",
	"CONVERSE_WS_MAX_DURATION",
	"CONVERSE_RATE_LIMIT_RPS",
	"CONVERSE_RATE_LIMIT_BURST",
	"CONVERSE_MAX_CONCURRENT_REQUESTS",
	"CONVERSE_MAX_STREAMS_PER_USER",
	"CONVERSE_READ_HEADER_TIMEOUT",
	"CONVERSE_READ_TIMEOUT",
	"CONVERSE_TOTAL_REQUEST_TIMEOUT",
	"CONVERSE_SHUTDOWN_GRACE_PERIOD",
	"CONVERSE_CONNECT_TIMEOUT",
	"CONVERSE_RESPONSE_HEADER_TIMEOUT",
	"CONVERSE_LLM_PROVIDER",
	"CONVERSE_OPENAI_API_KEY",
	"CONVERSE_OPENAI_BASE_URL",
	"CONVERSE_OPENAI_MODEL",
	"CONVERSE_GEMINI_API_KEY",
	"CONVERSE_GEMINI_MODEL",
	"CONVERSE_CONTEXT_MESSAGES",
	"CONVERSE_MAX_TOKENS",
	"CONVERSE_TEMPERATURE",
	"CONVERSE_COMPLETION_TIMEOUT",
	"CONVERSE_TTS_MODEL",
	"CONVERSE_STT_MODEL",
	"CONVERSE_DEFAULT_VOICE",
	"CONVERSE_SPEECH_MAX_IN_FLIGHT",
	"CONVERSE_SPEECH_TIMEOUT",
	"CONVERSE_STORE",
	"CONVERSE_DATABASE_URL",
	"CONVERSE_SQLITE_PATH",
	"CONVERSE_REDIS_URL",
	"CONVERSE_FRONTEND_URL",
	"CONVERSE_VERIFICATION_TOKEN_TTL",
	"CONVERSE_ANALYSIS_WORKERS",
	"CONVERSE_ANALYSIS_QUEUE_SIZE",
	"CONVERSE_ANALYSIS_TIMEOUT",
	"CONVERSE_ANALYSIS_MAX_RETRIES",
	"OPENAI_API_KEY",
	"GEMINI_API_KEY",
}

func clearConverseEnv(t *testing.T) {
	t.Helper()
	for _, key := range converseEnvKeys {
		t.Setenv(key, "")
	}
}

// minimalEnv sets the variables every valid configuration needs.
func minimalEnv(t *testing.T) {
	t.Helper()
	clearConverseEnv(t)
	t.Setenv("CONVERSE_API_KEYS", "sk_test:u1")
	t.Setenv("OPENAI_API_KEY", "sk-openai")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	minimalEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeRequired {
		t.Fatalf("AuthMode = %q, want %q", cfg.AuthMode, AuthModeRequired)
	}
	if cfg.APIKeys["sk_test"] != "u1" {
		t.Fatalf("APIKeys = %v", cfg.APIKeys)
	}
	if cfg.OpenAIAPIKey != "sk-openai" {
		t.Fatalf("OpenAIAPIKey = %q, want fallback from OPENAI_API_KEY", cfg.OpenAIAPIKey)
	}
	if cfg.LLMProvider != ProviderOpenAI || cfg.OpenAIModel != "gpt-3.5-turbo" {
		t.Fatalf("provider = %q model = %q", cfg.LLMProvider, cfg.OpenAIModel)
	}
	if cfg.ContextMessages != 5 || cfg.MaxTokens != 150 || cfg.Temperature != 0.7 {
		t.Fatalf("completion defaults = %d/%d/%v", cfg.ContextMessages, cfg.MaxTokens, cfg.Temperature)
	}
	if cfg.DefaultVoice != "nova" || cfg.TTSModel != "tts-1" || cfg.STTModel != "whisper-1" {
		t.Fatalf("speech defaults = %q/%q/%q", cfg.DefaultVoice, cfg.TTSModel, cfg.STTModel)
	}
	if cfg.SpeechMaxInFlight != 3 || cfg.SpeechTimeout != 20*time.Second {
		t.Fatalf("speech limits = %d/%v", cfg.SpeechMaxInFlight, cfg.SpeechTimeout)
	}
	if cfg.StoreBackend != StoreMemory {
		t.Fatalf("StoreBackend = %q", cfg.StoreBackend)
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("TokenTTL = %v, want 1h", cfg.TokenTTL)
	}
	if cfg.AnalysisWorkers != 2 || cfg.AnalysisQueueSize != 64 || cfg.AnalysisMaxRetries != 2 {
		t.Fatalf("analysis = %d/%d/%d", cfg.AnalysisWorkers, cfg.AnalysisQueueSize, cfg.AnalysisMaxRetries)
	}
	if cfg.SSEPingInterval != 15*time.Second {
		t.Fatalf("SSEPingInterval = %v, want 15s", cfg.SSEPingInterval)
	}
	if cfg.WSPingInterval != 20*time.Second || cfg.WSWriteTimeout != 5*time.Second {
		t.Fatalf("ws = %v/%v", cfg.WSPingInterval, cfg.WSWriteTimeout)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	minimalEnv(t)
	t.Setenv("CONVERSE_ADDR", ":9090")
	t.Setenv("CONVERSE_AUTH_MODE", "optional")
	t.Setenv("CONVERSE_API_KEYS", "k1:alice, k2:bob ,k3:alice")
	t.Setenv("CONVERSE_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("CONVERSE_OPENAI_API_KEY", "sk-explicit")
	t.Setenv("CONVERSE_LLM_PROVIDER", "Gemini")
	t.Setenv("CONVERSE_GEMINI_API_KEY", "g-key")
	t.Setenv("CONVERSE_CONTEXT_MESSAGES", "9")
	t.Setenv("CONVERSE_TEMPERATURE", "0.2")
	t.Setenv("CONVERSE_STORE", "postgres")
	t.Setenv("CONVERSE_DATABASE_URL", "postgres://localhost/converse")
	t.Setenv("CONVERSE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CONVERSE_VERIFICATION_TOKEN_TTL", "30m")
	t.Setenv("CONVERSE_ANALYSIS_WORKERS", "4")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":9090" || cfg.AuthMode != AuthModeOptional {
		t.Fatalf("addr/auth = %q/%q", cfg.Addr, cfg.AuthMode)
	}
	if len(cfg.APIKeys) != 3 || cfg.APIKeys["k2"] != "bob" {
		t.Fatalf("APIKeys = %v", cfg.APIKeys)
	}
	users := cfg.UserIDs()
	sort.Strings(users)
	if strings.Join(users, ",") != "alice,bob" {
		t.Fatalf("UserIDs() = %v", users)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.OpenAIAPIKey != "sk-explicit" {
		t.Fatalf("OpenAIAPIKey = %q", cfg.OpenAIAPIKey)
	}
	if cfg.LLMProvider != ProviderGemini || cfg.GeminiAPIKey != "g-key" {
		t.Fatalf("provider = %q key = %q", cfg.LLMProvider, cfg.GeminiAPIKey)
	}
	if cfg.ContextMessages != 9 || cfg.Temperature != 0.2 {
		t.Fatalf("completion = %d/%v", cfg.ContextMessages, cfg.Temperature)
	}
	if cfg.StoreBackend != StorePostgres || cfg.DatabaseURL == "" || cfg.RedisURL == "" {
		t.Fatalf("storage = %q %q %q", cfg.StoreBackend, cfg.DatabaseURL, cfg.RedisURL)
	}
	if cfg.TokenTTL != 30*time.Minute || cfg.AnalysisWorkers != 4 {
		t.Fatalf("ttl/workers = %v/%d", cfg.TokenTTL, cfg.AnalysisWorkers)
	}
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"bad auth mode", map[string]string{"CONVERSE_AUTH_MODE": "sometimes"}, "CONVERSE_AUTH_MODE"},
		{"required without keys", map[string]string{"CONVERSE_API_KEYS": ""}, "CONVERSE_API_KEYS must be set"},
		{"malformed key pair", map[string]string{"CONVERSE_API_KEYS": "justakey"}, "key:user_id"},
		{"missing openai key", map[string]string{"OPENAI_API_KEY": ""}, "CONVERSE_OPENAI_API_KEY"},
		{"unknown provider", map[string]string{"CONVERSE_LLM_PROVIDER": "llama"}, "CONVERSE_LLM_PROVIDER"},
		{"gemini without key", map[string]string{"CONVERSE_LLM_PROVIDER": "gemini"}, "CONVERSE_GEMINI_API_KEY"},
		{"postgres without dsn", map[string]string{"CONVERSE_STORE": "postgres"}, "CONVERSE_DATABASE_URL"},
		{"unknown store", map[string]string{"CONVERSE_STORE": "mongo"}, "CONVERSE_STORE"},
		{"zero context", map[string]string{"CONVERSE_CONTEXT_MESSAGES": "0"}, "CONVERSE_CONTEXT_MESSAGES must be > 0"},
		{"temperature out of range", map[string]string{"CONVERSE_TEMPERATURE": "3"}, "CONVERSE_TEMPERATURE"},
		{"zero ping", map[string]string{"CONVERSE_SSE_PING_INTERVAL": "0s"}, "CONVERSE_SSE_PING_INTERVAL must be > 0"},
		{"negative retries", map[string]string{"CONVERSE_ANALYSIS_MAX_RETRIES": "-1"}, "CONVERSE_ANALYSIS_MAX_RETRIES"},
		{"negative rps", map[string]string{"CONVERSE_RATE_LIMIT_RPS": "-1"}, "CONVERSE_RATE_LIMIT_RPS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			minimalEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv_SQLiteStore(t *testing.T) {
	minimalEnv(t)
	t.Setenv("CONVERSE_STORE", "SQLite")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.StoreBackend != StoreSQLite || cfg.SQLitePath != "converse.db" {
		t.Fatalf("storage = %q %q", cfg.StoreBackend, cfg.SQLitePath)
	}

	t.Setenv("CONVERSE_SQLITE_PATH", "/var/lib/converse/data.db")
	cfg, err = LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.SQLitePath != "/var/lib/converse/data.db" {
		t.Fatalf("SQLitePath = %q", cfg.SQLitePath)
	}
}

func TestLoadFromEnv_DisabledAuthNeedsNoKeys(t *testing.T) {
	minimalEnv(t)
	t.Setenv("CONVERSE_API_KEYS", "")
	t.Setenv("CONVERSE_AUTH_MODE", "disabled")

	if _, err := LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
}

func TestLoadFromEnv_UnparsableNumbersFallBack(t *testing.T) {
	minimalEnv(t)
	t.Setenv("CONVERSE_MAX_TOKENS", "lots")
	t.Setenv("CONVERSE_SPEECH_TIMEOUT", "soon")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.MaxTokens != 150 || cfg.SpeechTimeout != 20*time.Second {
		t.Fatalf("fallbacks = %d/%v", cfg.MaxTokens, cfg.SpeechTimeout)
	}
}
