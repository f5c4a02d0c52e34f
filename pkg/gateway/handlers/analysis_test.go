package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/vai-converse/pkg/analysis"
	"github.com/vango-go/vai-converse/pkg/conversation"
)

func TestAnalysisHandler_RunsAndStoresProfile(t *testing.T) {
	f := newFixture(t)
	id := f.startSession(t, "u1")
	if _, err := f.svc.SendMessage(t.Context(), conversation.TurnInput{SessionID: id, UserID: "u1", Text: "I like chess"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	f.llm.jsonReplies = []string{
		`{"topics":["chess"],"sentimentScore":0.8,"complexity":"Intermediate","userType":"curious"}`,
		`{"suggestions":["Ask about openings","Share a recent game","Discuss endgames","extra"]}`,
	}

	h := AnalysisHandler{Config: testConfig(), Analyzer: analysis.NewAnalyzer(f.store, f.llm, discardLogger()), Logger: discardLogger()}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, asUser(httptest.NewRequest(http.MethodPost, "/v1/analysis", nil), "u1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	var res struct {
		Metrics struct {
			Topics        []string `json:"topics"`
			Complexity    string   `json:"complexity"`
			TotalMessages int      `json:"totalMessages"`
		} `json:"metrics"`
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Metrics.Topics) != 1 || res.Metrics.Complexity != "intermediate" || res.Metrics.TotalMessages != 1 {
		t.Fatalf("unexpected profile %+v", res.Metrics)
	}
	if len(res.Suggestions) != 3 {
		t.Fatalf("suggestions=%v", res.Suggestions)
	}

	u, _ := f.store.GetUser(t.Context(), "u1")
	if len(u.Suggestions) != 3 || !u.HasProfile() {
		t.Fatalf("profile not stored: %+v", u)
	}
}

func TestAnalysisHandler_NoSessions(t *testing.T) {
	f := newFixture(t)
	h := AnalysisHandler{Config: testConfig(), Analyzer: analysis.NewAnalyzer(f.store, f.llm, discardLogger())}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, asUser(httptest.NewRequest(http.MethodPost, "/v1/analysis", nil), "u2"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}
