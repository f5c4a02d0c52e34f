package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vango-go/vai-converse/pkg/analysis"
	"github.com/vango-go/vai-converse/pkg/conversation"
	"github.com/vango-go/vai-converse/pkg/core/voice"
	"github.com/vango-go/vai-converse/pkg/gateway/principal"
)

func TestMetrics_RecordsThroughHooks(t *testing.T) {
	m := New("")
	hooks := m.ConversationHooks()
	hooks.OnTurn(conversation.ModeStream, "ok", 300*time.Millisecond)
	hooks.OnTurn(conversation.ModeStream, "ok", time.Second)
	hooks.OnSpeechJob(voice.JobFailed)
	m.RecordAnalysis(analysis.Job{UserID: "u1", Trigger: analysis.TriggerSessionEnd}, "ok", time.Second)
	m.RecordRateLimitHit(principal.KindUser)

	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("stream", "ok")); got != 2 {
		t.Fatalf("turns=%v", got)
	}
	if got := testutil.ToFloat64(m.SpeechJobsTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("speech=%v", got)
	}
	if got := testutil.ToFloat64(m.AnalysisRunsTotal.WithLabelValues("session_end", "ok")); got != 1 {
		t.Fatalf("analysis=%v", got)
	}
	if got := testutil.ToFloat64(m.RateLimitHits.WithLabelValues(string(principal.KindUser))); got != 1 {
		t.Fatalf("rate limit=%v", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New("converse")
	m.StreamOpened()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), "converse_streams_active 1") {
		t.Fatalf("metrics output missing gauge:\n%s", body)
	}
}
