package stt

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is the recognition model used when none is configured.
const DefaultOpenAIModel = openai.Whisper1

// OpenAIProvider transcribes audio with the OpenAI audio API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a provider backed by client.
func NewOpenAI(client *openai.Client, model string) *OpenAIProvider {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIProvider{client: client, model: model}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error) {
	format := opts.Format
	if format == "" {
		format = DefaultFormat
	}

	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.model,
		Reader:   audio,
		FilePath: "audio." + format,
		Language: opts.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("create transcription: %w", err)
	}
	return &Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Duration: resp.Duration,
	}, nil
}
