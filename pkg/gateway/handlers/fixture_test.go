package handlers

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-converse/pkg/conversation"
	"github.com/vango-go/vai-converse/pkg/core"
	"github.com/vango-go/vai-converse/pkg/core/types"
	"github.com/vango-go/vai-converse/pkg/core/voice/stt"
	"github.com/vango-go/vai-converse/pkg/core/voice/tts"
	"github.com/vango-go/vai-converse/pkg/gateway/auth"
	"github.com/vango-go/vai-converse/pkg/gateway/config"
	"github.com/vango-go/vai-converse/pkg/store"
)

type fakeLLM struct {
	mu        sync.Mutex
	fragments []string
	err       error
	// jsonReplies are returned by CompleteJSON in order.
	jsonReplies []string
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Complete(ctx context.Context, req *core.CompletionRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return strings.Join(f.fragments, ""), nil
}

func (f *fakeLLM) Stream(ctx context.Context, req *core.CompletionRequest) (core.TextStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fakeStream{fragments: append([]string(nil), f.fragments...)}, nil
}

func (f *fakeLLM) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jsonReplies) == 0 {
		return "{}", nil
	}
	out := f.jsonReplies[0]
	f.jsonReplies = f.jsonReplies[1:]
	return out, nil
}

type fakeStream struct {
	fragments []string
}

func (s *fakeStream) Next() (string, error) {
	if len(s.fragments) == 0 {
		return "", io.EOF
	}
	f := s.fragments[0]
	s.fragments = s.fragments[1:]
	return f, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeTTS struct {
	mu     sync.Mutex
	voices []string
	err    error
	// delay holds each synthesis back, like a slow provider.
	delay time.Duration
}

func (f *fakeTTS) Name() string { return "fake-tts" }

func (f *fakeTTS) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOptions) (*tts.Synthesis, error) {
	f.mu.Lock()
	f.voices = append(f.voices, opts.Voice)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &tts.Synthesis{Audio: []byte("mp3:" + text), Format: "mp3"}, nil
}

type fakeSTT struct {
	text    string
	format  string
	payload string
	err     error
}

func (f *fakeSTT) Name() string { return "fake-stt" }

func (f *fakeSTT) Transcribe(ctx context.Context, audio io.Reader, opts stt.TranscribeOptions) (*stt.Transcript, error) {
	b, _ := io.ReadAll(audio)
	f.payload = string(b)
	f.format = opts.Format
	if f.err != nil {
		return nil, f.err
	}
	return &stt.Transcript{Text: f.text}, nil
}

type fixture struct {
	cfg   config.Config
	store *store.Memory
	llm   *fakeLLM
	tts   *fakeTTS
	svc   *conversation.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	for id, name := range map[string]string{"u1": "alice", "u2": "bob"} {
		if _, err := mem.EnsureUser(context.Background(), types.NewUser(id, name, time.Now())); err != nil {
			t.Fatalf("EnsureUser: %v", err)
		}
	}
	f := &fixture{
		cfg:   testConfig(),
		store: mem,
		llm:   &fakeLLM{fragments: []string{"Hello the", "re. How are", " you today?"}},
		tts:   &fakeTTS{},
	}
	f.svc = conversation.NewService(conversation.Config{
		Store:  mem,
		LLM:    f.llm,
		Speech: f.tts,
		Logger: discardLogger(),
	})
	return f
}

func (f *fixture) startSession(t *testing.T, userID string) string {
	t.Helper()
	sess, err := f.svc.StartSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return sess.ID
}

func testConfig() config.Config {
	return config.Config{
		AuthMode:             config.AuthModeDisabled,
		MaxBodyBytes:         1 << 20,
		MaxAudioBytes:        1 << 20,
		SSEMaxStreamDuration: time.Minute,
		WSPingInterval:       time.Second,
		WSWriteTimeout:       time.Second,
		WSMaxMessageBytes:    64 * 1024,
		WSMaxSessionDuration: time.Minute,
		HandlerTimeout:       time.Minute,
		CompletionTimeout:    time.Minute,
		SpeechTimeout:        time.Minute,
		AnalysisTimeout:      time.Minute,
		DefaultVoice:         "nova",
		StoreBackend:         config.StoreMemory,
		LLMProvider:          config.ProviderOpenAI,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func asUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(auth.WithPrincipal(r.Context(), &auth.Principal{UserID: userID}))
}

type sseFrame struct {
	event string
	data  string
}

func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var cur sseFrame
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.event != "":
			frames = append(frames, cur)
			cur = sseFrame{}
		}
	}
	return frames
}
