// Package upstream builds the outbound clients: the completion provider and
// the OpenAI speech and transcription providers.
package upstream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vango-go/vai-converse/pkg/core"
	"github.com/vango-go/vai-converse/pkg/core/providers/gemini"
	"github.com/vango-go/vai-converse/pkg/core/providers/openai"
	"github.com/vango-go/vai-converse/pkg/core/voice/stt"
	"github.com/vango-go/vai-converse/pkg/core/voice/tts"
	"github.com/vango-go/vai-converse/pkg/gateway/config"
)

// NewHTTPClient returns the client shared by every upstream call. There is no
// overall timeout; callers bound each request with a context.
func NewHTTPClient(cfg config.Config) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: cfg.UpstreamConnectTimeout,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamResponseHeaderTimeout,
		},
	}
}

// Providers are the upstreams a running service talks to.
type Providers struct {
	LLM core.Provider
	TTS tts.Provider
	STT stt.Provider
}

type Factory struct {
	HTTPClient *http.Client
}

// New builds providers for cfg. Speech and transcription always use OpenAI;
// completions use cfg.LLMProvider.
func (f Factory) New(ctx context.Context, cfg config.Config) (Providers, error) {
	client := f.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	oai := openai.NewClient(cfg.OpenAIAPIKey,
		openai.WithHTTPClient(client),
		openai.WithBaseURL(cfg.OpenAIBaseURL),
	)
	out := Providers{
		TTS: tts.NewOpenAI(oai, cfg.TTSModel),
		STT: stt.NewOpenAI(oai, cfg.STTModel),
	}

	switch cfg.LLMProvider {
	case config.ProviderOpenAI, "":
		out.LLM = openai.New(oai, cfg.OpenAIModel)
	case config.ProviderGemini:
		p, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, gemini.WithHTTPClient(client))
		if err != nil {
			return Providers{}, fmt.Errorf("gemini: %w", err)
		}
		out.LLM = p
	default:
		return Providers{}, fmt.Errorf("unknown provider %q", cfg.LLMProvider)
	}
	return out, nil
}
