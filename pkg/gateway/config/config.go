package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	// APIKeys maps a bearer key to the user it authenticates.
	APIKeys map[string]string

	// If true, client identity for anonymous callers may be derived from proxy
	// headers like X-Forwarded-For.
	TrustProxyHeaders bool

	MaxBodyBytes  int64
	MaxAudioBytes int64

	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// SSE
	SSEPingInterval      time.Duration
	SSEMaxStreamDuration time.Duration

	// Voice WebSocket (/v1/sessions/{id}/voice/ws).
	WSPingInterval       time.Duration
	WSWriteTimeout       time.Duration
	WSMaxMessageBytes    int64
	WSMaxSessionDuration time.Duration

	// In-memory limits (per user, or per client IP when anonymous).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int
	LimitMaxConcurrentStreams  int

	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	UpstreamConnectTimeout        time.Duration
	UpstreamResponseHeaderTimeout time.Duration

	// Completion
	LLMProvider       string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	GeminiAPIKey      string
	GeminiModel       string
	ContextMessages   int
	MaxTokens         int
	Temperature       float64
	CompletionTimeout time.Duration

	// Speech
	TTSModel          string
	STTModel          string
	DefaultVoice      string
	SpeechMaxInFlight int
	SpeechTimeout     time.Duration

	// Storage
	StoreBackend string
	DatabaseURL  string
	SQLitePath   string
	RedisURL     string

	// Profile verification
	FrontendURL string
	TokenTTL    time.Duration

	// Background analysis
	AnalysisWorkers    int
	AnalysisQueueSize  int
	AnalysisTimeout    time.Duration
	AnalysisMaxRetries int
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                          envOr("CONVERSE_ADDR", ":8080"),
		AuthMode:                      AuthMode(envOr("CONVERSE_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                       make(map[string]string),
		TrustProxyHeaders:             envBoolOr("CONVERSE_TRUST_PROXY_HEADERS", false),
		MaxBodyBytes:                  envInt64Or("CONVERSE_MAX_BODY_BYTES", 1<<20),   // 1 MiB
		MaxAudioBytes:                 envInt64Or("CONVERSE_MAX_AUDIO_BYTES", 25<<20), // 25 MiB, the transcription upload cap
		CORSAllowedOrigins:            make(map[string]struct{}),
		SSEPingInterval:               envDurationOr("CONVERSE_SSE_PING_INTERVAL", 15*time.Second),
		SSEMaxStreamDuration:          envDurationOr("CONVERSE_SSE_MAX_DURATION", 5*time.Minute),
		WSPingInterval:                envDurationOr("CONVERSE_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:                envDurationOr("CONVERSE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSMaxMessageBytes:             envInt64Or("CONVERSE_WS_MAX_MESSAGE_BYTES", 64*1024),
		WSMaxSessionDuration:          envDurationOr("CONVERSE_WS_MAX_DURATION", time.Hour),
		LimitRPS:                      envFloat64Or("CONVERSE_RATE_LIMIT_RPS", 5.0),
		LimitBurst:                    envIntOr("CONVERSE_RATE_LIMIT_BURST", 10),
		LimitMaxConcurrentRequests:    envIntOr("CONVERSE_MAX_CONCURRENT_REQUESTS", 20),
		LimitMaxConcurrentStreams:     envIntOr("CONVERSE_MAX_STREAMS_PER_USER", 2),
		ReadHeaderTimeout:             envDurationOr("CONVERSE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                   envDurationOr("CONVERSE_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:                envDurationOr("CONVERSE_TOTAL_REQUEST_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod:           envDurationOr("CONVERSE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		UpstreamConnectTimeout:        envDurationOr("CONVERSE_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("CONVERSE_RESPONSE_HEADER_TIMEOUT", 30*time.Second),
		LLMProvider:                   strings.ToLower(envOr("CONVERSE_LLM_PROVIDER", ProviderOpenAI)),
		OpenAIAPIKey:                  envOr("CONVERSE_OPENAI_API_KEY", strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))),
		OpenAIBaseURL:                 envOr("CONVERSE_OPENAI_BASE_URL", ""),
		OpenAIModel:                   envOr("CONVERSE_OPENAI_MODEL", "gpt-3.5-turbo"),
		GeminiAPIKey:                  envOr("CONVERSE_GEMINI_API_KEY", strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))),
		GeminiModel:                   envOr("CONVERSE_GEMINI_MODEL", "gemini-2.0-flash"),
		ContextMessages:               envIntOr("CONVERSE_CONTEXT_MESSAGES", 5),
		MaxTokens:                     envIntOr("CONVERSE_MAX_TOKENS", 150),
		Temperature:                   envFloat64Or("CONVERSE_TEMPERATURE", 0.7),
		CompletionTimeout:             envDurationOr("CONVERSE_COMPLETION_TIMEOUT", 60*time.Second),
		TTSModel:                      envOr("CONVERSE_TTS_MODEL", "tts-1"),
		STTModel:                      envOr("CONVERSE_STT_MODEL", "whisper-1"),
		DefaultVoice:                  envOr("CONVERSE_DEFAULT_VOICE", "nova"),
		SpeechMaxInFlight:             envIntOr("CONVERSE_SPEECH_MAX_IN_FLIGHT", 3),
		SpeechTimeout:                 envDurationOr("CONVERSE_SPEECH_TIMEOUT", 20*time.Second),
		StoreBackend:                  strings.ToLower(envOr("CONVERSE_STORE", StoreMemory)),
		DatabaseURL:                   envOr("CONVERSE_DATABASE_URL", ""),
		SQLitePath:                    envOr("CONVERSE_SQLITE_PATH", "converse.db"),
		RedisURL:                      envOr("CONVERSE_REDIS_URL", ""),
		FrontendURL:                   envOr("CONVERSE_FRONTEND_URL", "http://localhost:3000"),
		TokenTTL:                      envDurationOr("CONVERSE_VERIFICATION_TOKEN_TTL", time.Hour),
		AnalysisWorkers:               envIntOr("CONVERSE_ANALYSIS_WORKERS", 2),
		AnalysisQueueSize:             envIntOr("CONVERSE_ANALYSIS_QUEUE_SIZE", 64),
		AnalysisTimeout:               envDurationOr("CONVERSE_ANALYSIS_TIMEOUT", 60*time.Second),
		AnalysisMaxRetries:            envIntOr("CONVERSE_ANALYSIS_MAX_RETRIES", 2),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("CONVERSE_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, pair := range splitCSV(os.Getenv("CONVERSE_API_KEYS")) {
		key, user, ok := strings.Cut(pair, ":")
		key, user = strings.TrimSpace(key), strings.TrimSpace(user)
		if !ok || key == "" || user == "" {
			return Config{}, fmt.Errorf("CONVERSE_API_KEYS entries must be key:user_id")
		}
		cfg.APIKeys[key] = user
	}

	for _, origin := range splitCSV(os.Getenv("CONVERSE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_MAX_BODY_BYTES must be > 0")
	}
	if cfg.MaxAudioBytes <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_MAX_AUDIO_BYTES must be > 0")
	}
	if cfg.SSEPingInterval <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_SSE_PING_INTERVAL must be > 0")
	}
	if cfg.SSEMaxStreamDuration <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_SSE_MAX_DURATION must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSMaxSessionDuration <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_WS_MAX_DURATION must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.UpstreamResponseHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_RESPONSE_HEADER_TIMEOUT must be > 0")
	}

	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("CONVERSE_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("CONVERSE_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("CONVERSE_MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if cfg.LimitMaxConcurrentStreams < 0 {
		return Config{}, fmt.Errorf("CONVERSE_MAX_STREAMS_PER_USER must be >= 0")
	}

	switch cfg.LLMProvider {
	case ProviderOpenAI:
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return Config{}, fmt.Errorf("CONVERSE_GEMINI_API_KEY must be set when CONVERSE_LLM_PROVIDER=gemini")
		}
	default:
		return Config{}, fmt.Errorf("CONVERSE_LLM_PROVIDER must be one of openai|gemini")
	}
	// Speech and transcription always go through OpenAI.
	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("CONVERSE_OPENAI_API_KEY (or OPENAI_API_KEY) must be set")
	}
	if cfg.ContextMessages <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_CONTEXT_MESSAGES must be > 0")
	}
	if cfg.MaxTokens <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_MAX_TOKENS must be > 0")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return Config{}, fmt.Errorf("CONVERSE_TEMPERATURE must be within [0, 2]")
	}
	if cfg.CompletionTimeout <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_COMPLETION_TIMEOUT must be > 0")
	}
	if cfg.SpeechMaxInFlight <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_SPEECH_MAX_IN_FLIGHT must be > 0")
	}
	if cfg.SpeechTimeout <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_SPEECH_TIMEOUT must be > 0")
	}

	switch cfg.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("CONVERSE_DATABASE_URL must be set when CONVERSE_STORE=postgres")
		}
	case StoreSQLite:
		if cfg.SQLitePath == "" {
			return Config{}, fmt.Errorf("CONVERSE_SQLITE_PATH must be set when CONVERSE_STORE=sqlite")
		}
	default:
		return Config{}, fmt.Errorf("CONVERSE_STORE must be one of memory|postgres|sqlite")
	}
	if strings.TrimSpace(cfg.FrontendURL) == "" {
		return Config{}, fmt.Errorf("CONVERSE_FRONTEND_URL must not be empty")
	}
	if cfg.TokenTTL <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_VERIFICATION_TOKEN_TTL must be > 0")
	}

	if cfg.AnalysisWorkers <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_ANALYSIS_WORKERS must be > 0")
	}
	if cfg.AnalysisQueueSize <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_ANALYSIS_QUEUE_SIZE must be > 0")
	}
	if cfg.AnalysisTimeout <= 0 {
		return Config{}, fmt.Errorf("CONVERSE_ANALYSIS_TIMEOUT must be > 0")
	}
	if cfg.AnalysisMaxRetries < 0 {
		return Config{}, fmt.Errorf("CONVERSE_ANALYSIS_MAX_RETRIES must be >= 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("CONVERSE_API_KEYS must be set when CONVERSE_AUTH_MODE=required")
	}

	return cfg, nil
}

// UserIDs returns the distinct users named in the key table.
func (c Config) UserIDs() []string {
	seen := make(map[string]struct{}, len(c.APIKeys))
	out := make([]string, 0, len(c.APIKeys))
	for _, user := range c.APIKeys {
		if _, ok := seen[user]; ok {
			continue
		}
		seen[user] = struct{}{}
		out = append(out, user)
	}
	return out
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
