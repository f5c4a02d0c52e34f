// Package gemini implements core.Provider on the Google Gemini API.
package gemini

import (
	"context"
	"errors"
	"io"
	"iter"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/vai-converse/pkg/core"
	"github.com/vango-go/vai-converse/pkg/core/types"
)

// DefaultMaxTokens is used when a request does not set one.
const DefaultMaxTokens = 150

// Option configures the client.
type Option func(*genai.ClientConfig)

// WithBaseURL sets the base URL for API requests.
func WithBaseURL(url string) Option {
	return func(c *genai.ClientConfig) {
		c.HTTPOptions.BaseURL = url
	}
}

// WithHTTPClient sets the HTTP client for API requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *genai.ClientConfig) {
		c.HTTPClient = client
	}
}

// Provider talks to one Gemini model.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a provider for model.
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Provider, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, model: model}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// Complete sends a non-streaming request and returns the reply text.
func (p *Provider) Complete(ctx context.Context, req *core.CompletionRequest) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, buildContents(req), buildConfig(req))
	if err != nil {
		return "", wrapError(err)
	}
	return resp.Text(), nil
}

// Stream sends a streaming request.
func (p *Provider) Stream(ctx context.Context, req *core.CompletionRequest) (core.TextStream, error) {
	seq := p.client.Models.GenerateContentStream(ctx, p.model, buildContents(req), buildConfig(req))
	next, stop := iter.Pull2(seq)
	return &textStream{next: next, stop: stop}, nil
}

// CompleteJSON requests an application/json response.
func (p *Provider) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}
	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return "", wrapError(err)
	}
	return resp.Text(), nil
}

func buildConfig(req *core.CompletionRequest) *genai.GenerateContentConfig {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.Temperature),
		MaxOutputTokens: int32(maxTokens),
	}
	if strings.TrimSpace(req.System) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	return cfg
}

func buildContents(req *core.CompletionRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		role := genai.Role(genai.RoleUser)
		if m.From == types.OriginAI {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	return append(contents, genai.NewContentFromText(req.UserText, genai.RoleUser))
}

type textStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
}

func (s *textStream) Next() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", wrapError(err)
		}
		if chunk := resp.Text(); chunk != "" {
			return chunk, nil
		}
	}
}

func (s *textStream) Close() error {
	s.stop()
	return nil
}

func wrapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.NewUpstreamError("gemini", err)
}
