package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vango-go/vai-converse/pkg/core"
	"github.com/vango-go/vai-converse/pkg/core/types"
)

type chatBody struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	Stream      bool    `json:"stream"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

func newTestProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return New(NewClient("test-key", WithBaseURL(server.URL+"/v1")), "gpt-4o-mini")
}

func TestComplete_BuildsConversation(t *testing.T) {
	var got chatBody
	var gotPath, gotAuth string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Nice to meet you."}}]}`)
	})

	text, err := p.Complete(t.Context(), &core.CompletionRequest{
		System: "be kind",
		History: []types.Message{
			{From: types.OriginUser, Text: "hi"},
			{From: types.OriginAI, Text: "hello"},
		},
		UserText:    "how are you?",
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "Nice to meet you." {
		t.Fatalf("text = %q", text)
	}
	if gotPath != "/v1/chat/completions" || gotAuth != "Bearer test-key" {
		t.Fatalf("path=%q auth=%q", gotPath, gotAuth)
	}
	if got.Model != "gpt-4o-mini" || got.MaxTokens != DefaultMaxTokens || got.Stream {
		t.Fatalf("unexpected request %+v", got)
	}

	roles := make([]string, 0, len(got.Messages))
	for _, m := range got.Messages {
		roles = append(roles, m.Role)
	}
	if strings.Join(roles, ",") != "system,user,assistant,user" {
		t.Fatalf("roles = %v", roles)
	}
	if got.Messages[3].Content != "how are you?" {
		t.Fatalf("last message = %q", got.Messages[3].Content)
	}
}

func TestStream_YieldsNonEmptyFragments(t *testing.T) {
	var got chatBody
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{`{"role":"assistant"}`, `{"content":"Hel"}`, `{"content":""}`, `{"content":"lo."}`} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"model\":\"gpt-4o-mini\",\"choices\":[{\"index\":0,\"delta\":%s}]}\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := p.Stream(t.Context(), &core.CompletionRequest{UserText: "hi", MaxTokens: 42})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	var parts []string
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		parts = append(parts, chunk)
	}
	if strings.Join(parts, "|") != "Hel|lo." {
		t.Fatalf("fragments = %v", parts)
	}
	if !got.Stream || got.MaxTokens != 42 {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestCompleteJSON_RequestsJSONObject(t *testing.T) {
	var got chatBody
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"topics\":[\"music\"]}"}}]}`)
	})

	raw, err := p.CompleteJSON(t.Context(), "analyze", "transcript")
	if err != nil {
		t.Fatalf("CompleteJSON() error = %v", err)
	}
	if raw != `{"topics":["music"]}` {
		t.Fatalf("raw = %q", raw)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Fatalf("response_format = %+v", got.ResponseFormat)
	}
}

func TestComplete_UpstreamFailureIsTyped(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	})

	_, err := p.Complete(t.Context(), &core.CompletionRequest{UserText: "hi"})
	if !core.IsType(err, core.ErrUpstream) {
		t.Fatalf("expected upstream error, got %T %v", err, err)
	}
}
