// Package tts provides text-to-speech functionality.
package tts

import (
	"context"
	"errors"
)

// DefaultVoice is used when a request names no voice.
const DefaultVoice = "nova"

// ErrEmptyText is returned when there is nothing to speak.
var ErrEmptyText = errors.New("tts: empty text")

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to audio.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Voice  string  // Voice identifier
	Speed  float64 // Speed multiplier, 0 means provider default
	Format string  // Output format: "mp3", "wav", "opus", "aac", "flac" or "pcm"
}

// Synthesis is the result of synthesis.
type Synthesis struct {
	Audio  []byte
	Format string
}

func getFormat(format string) string {
	if format == "" {
		return "mp3"
	}
	return format
}

func getVoice(voice string) string {
	if voice == "" {
		return DefaultVoice
	}
	return voice
}
