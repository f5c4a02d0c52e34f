package core

import (
	"context"

	"github.com/vango-go/vai-converse/pkg/core/types"
)

// Provider is the text-completion collaborator. Implementations are opaque LLMs.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "gemini").
	Name() string

	// Complete returns the whole reply as a single string.
	Complete(ctx context.Context, req *CompletionRequest) (string, error)

	// Stream returns the reply as an ordered sequence of text fragments.
	Stream(ctx context.Context, req *CompletionRequest) (TextStream, error)

	// CompleteJSON asks for a JSON object and returns the raw document.
	CompleteJSON(ctx context.Context, system, user string) (string, error)
}

// TextStream is an iterator over completion fragments.
type TextStream interface {
	// Next returns the next non-empty fragment. Returns "", io.EOF when done.
	Next() (string, error)

	// Close releases resources.
	Close() error
}

// CompletionRequest is a single conversational turn.
type CompletionRequest struct {
	System      string
	History     []types.Message
	UserText    string
	MaxTokens   int
	Temperature float32
}
