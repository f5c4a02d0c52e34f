// Package metrics exposes Prometheus counters for conversation turns, speech
// synthesis, background analysis and rate limiting.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/vai-converse/pkg/analysis"
	"github.com/vango-go/vai-converse/pkg/conversation"
	"github.com/vango-go/vai-converse/pkg/core/voice"
	"github.com/vango-go/vai-converse/pkg/gateway/principal"
)

type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal    *prometheus.CounterVec
	TurnDuration  *prometheus.HistogramVec
	StreamsActive prometheus.Gauge

	SpeechJobsTotal *prometheus.CounterVec

	AnalysisRunsTotal *prometheus.CounterVec
	AnalysisDuration  prometheus.Histogram

	RateLimitHits *prometheus.CounterVec
}

// New registers every collector on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "converse"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by delivery mode and outcome",
		}, []string{"mode", "status"}),
		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Turn duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"mode"}),
		StreamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Streaming turns currently open",
		}),
		SpeechJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_jobs_total",
			Help:      "Sentence synthesis jobs by final status",
		}, []string{"status"}),
		AnalysisRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_runs_total",
			Help:      "Background profile analyses by trigger and outcome",
		}, []string{"trigger", "status"}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Profile analysis duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		RateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the rate limiter",
		}, []string{"principal"}),
	}

	registry.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.StreamsActive,
		m.SpeechJobsTotal,
		m.AnalysisRunsTotal,
		m.AnalysisDuration,
		m.RateLimitHits,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) RecordTurn(mode conversation.Mode, status string, elapsed time.Duration) {
	m.TurnsTotal.WithLabelValues(string(mode), status).Inc()
	m.TurnDuration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordSpeechJob(status voice.JobStatus) {
	m.SpeechJobsTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) RecordAnalysis(job analysis.Job, status string, elapsed time.Duration) {
	m.AnalysisRunsTotal.WithLabelValues(string(job.Trigger), status).Inc()
	m.AnalysisDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordRateLimitHit(kind principal.Kind) {
	m.RateLimitHits.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) StreamOpened() { m.StreamsActive.Inc() }
func (m *Metrics) StreamClosed() { m.StreamsActive.Dec() }

// ConversationHooks adapts the collectors to conversation.Hooks.
func (m *Metrics) ConversationHooks() conversation.Hooks {
	return conversation.Hooks{
		OnTurn:      m.RecordTurn,
		OnSpeechJob: m.RecordSpeechJob,
	}
}
