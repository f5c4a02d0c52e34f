package stt

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
)

func TestFormatFromFilename(t *testing.T) {
	tests := map[string]string{
		"clip.WAV":      "wav",
		"recording.mp3": "mp3",
		"blob":          DefaultFormat,
		"":              DefaultFormat,
		"a.b.m4a":       "m4a",
	}
	for in, want := range tests {
		if got := FormatFromFilename(in); got != want {
			t.Errorf("FormatFromFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOpenAIProvider_Transcribe(t *testing.T) {
	var filename, model string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path=%q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		model = r.FormValue("model")
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		filename = hdr.Filename
		body, _ = io.ReadAll(f)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  hello world  ","language":"en","duration":1.5}`))
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	p := NewOpenAI(openai.NewClientWithConfig(cfg), "")

	tr, err := p.Transcribe(context.Background(), strings.NewReader("RIFF"), TranscribeOptions{Format: "wav"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "hello world" {
		t.Fatalf("text=%q", tr.Text)
	}
	if filename != "audio.wav" {
		t.Fatalf("filename=%q", filename)
	}
	if model != DefaultOpenAIModel {
		t.Fatalf("model=%q", model)
	}
	if string(body) != "RIFF" {
		t.Fatalf("body=%q", body)
	}
}
