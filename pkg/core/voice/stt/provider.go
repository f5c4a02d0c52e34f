// Package stt provides speech-to-text functionality.
package stt

import (
	"context"
	"io"
	"path/filepath"
	"strings"
)

// DefaultFormat is assumed when an upload carries no usable extension.
const DefaultFormat = "webm"

// Provider is the interface for speech-to-text services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts audio to text.
	Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error)
}

// TranscribeOptions configures transcription.
type TranscribeOptions struct {
	Language string // ISO language code, empty lets the service detect it
	Format   string // Audio container (webm, wav, mp3, m4a, ...)
}

// Transcript is the result of transcription.
type Transcript struct {
	Text     string  // Full transcribed text
	Language string  // Detected or specified language
	Duration float64 // Audio duration in seconds
}

// FormatFromFilename derives the container format from an upload's file name.
func FormatFromFilename(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(strings.TrimSpace(name))), ".")
	if ext == "" {
		return DefaultFormat
	}
	return ext
}
