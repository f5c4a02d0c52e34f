package tts

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is the speech model used when none is configured.
const DefaultOpenAIModel = "tts-1"

// OpenAIProvider synthesizes speech with the OpenAI audio API.
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

func (p *OpenAIProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	format := getFormat(opts.Format)

	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(p.model),
		Input:          text,
		Voice:          openai.SpeechVoice(getVoice(opts.Voice)),
		ResponseFormat: openai.SpeechResponseFormat(format),
		Speed:          opts.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	return &Synthesis{Audio: audio, Format: format}, nil
}
