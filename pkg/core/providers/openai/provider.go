// Package openai implements core.Provider on the OpenAI Chat Completions API.
package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/vango-go/vai-converse/pkg/core"
	"github.com/vango-go/vai-converse/pkg/core/types"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultMaxTokens is used when a request does not set one.
	DefaultMaxTokens = 150
)

// Option configures the shared OpenAI client.
type Option func(*openai.ClientConfig)

// WithBaseURL sets a custom base URL (for testing or proxying).
func WithBaseURL(url string) Option {
	return func(c *openai.ClientConfig) {
		if strings.TrimSpace(url) != "" {
			c.BaseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient sets the HTTP client used for every call.
func WithHTTPClient(client *http.Client) Option {
	return func(c *openai.ClientConfig) {
		if client != nil {
			c.HTTPClient = client
		}
	}
}

// NewClient builds the client shared by chat, speech and transcription.
func NewClient(apiKey string, opts ...Option) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	for _, opt := range opts {
		opt(&cfg)
	}
	return openai.NewClientWithConfig(cfg)
}

// Provider talks to one chat model.
type Provider struct {
	client *openai.Client
	model  string
}

// New creates a provider for model on client.
func New(client *openai.Client, model string) *Provider {
	return &Provider{client: client, model: model}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "openai"
}

// Complete sends a non-streaming request and returns the reply text.
func (p *Provider) Complete(ctx context.Context, req *core.CompletionRequest) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req))
	if err != nil {
		return "", wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", core.NewUpstreamError("openai", errors.New("no choices in response"))
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream sends a streaming request. Fragments are delivered in arrival order.
func (p *Provider) Stream(ctx context.Context, req *core.CompletionRequest) (core.TextStream, error) {
	chatReq := p.buildRequest(req)
	chatReq.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, wrapError(err)
	}
	return &textStream{stream: stream}, nil
}

// CompleteJSON requests a JSON object response.
func (p *Provider) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", core.NewUpstreamError("openai", errors.New("no choices in response"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *Provider) buildRequest(req *core.CompletionRequest) openai.ChatCompletionRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    roleOf(m.From),
			Content: m.Text,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserText,
	})

	return openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
}

func roleOf(from types.Origin) string {
	if from == types.OriginAI {
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}

type textStream struct {
	stream *openai.ChatCompletionStream
}

func (s *textStream) Next() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", wrapError(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if chunk := resp.Choices[0].Delta.Content; chunk != "" {
			return chunk, nil
		}
	}
}

func (s *textStream) Close() error {
	s.stream.Close()
	return nil
}

// wrapError converts client failures to core errors. Context errors pass
// through unchanged so callers can tell cancellation from upstream failure.
func wrapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.NewUpstreamError("openai", err)
}
