// Package metrics holds the Prometheus collectors for the ticket pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	DocumentsProcessed *prometheus.CounterVec
	DocumentsFailed    *prometheus.CounterVec
	ParserResults      *prometheus.CounterVec
	LLMCalls           *prometheus.CounterVec
	LLMTokens          *prometheus.CounterVec
	UsageDropped       prometheus.Counter
	ConfidenceScore    prometheus.Histogram
	ParseDuration      prometheus.Histogram
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		DocumentsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_processed_total",
			Help:      "Documents processed, by gate tier and result source",
		}, []string{"tier", "source"}),
		DocumentsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_failed_total",
			Help:      "Documents that produced no result, by reason",
		}, []string{"reason"}),
		ParserResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parser_results_total",
			Help:      "Deterministic results by parser",
		}, []string{"parser"}),
		LLMCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Generative extraction calls, by model tier and outcome",
		}, []string{"tier", "outcome"}),
		LLMTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens billed, by direction",
		}, []string{"direction"}),
		UsageDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_records_dropped_total",
			Help:      "Usage records dropped because the recorder queue was full",
		}),
		ConfidenceScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confidence_score",
			Help:      "Final confidence score of processed documents",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		ParseDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "parse_duration_seconds",
			Help:      "Time taken to process one document",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// ObserveDocument records a finished document.
func (m *Metrics) ObserveDocument(tier, source, parser string, score float64, d time.Duration) {
	if m == nil {
		return
	}
	m.DocumentsProcessed.WithLabelValues(tier, source).Inc()
	if parser != "" {
		m.ParserResults.WithLabelValues(parser).Inc()
	}
	m.ConfidenceScore.Observe(score)
	m.ParseDuration.Observe(d.Seconds())
}

// ObserveFailure records a document that produced no result.
func (m *Metrics) ObserveFailure(reason string) {
	if m == nil {
		return
	}
	m.DocumentsFailed.WithLabelValues(reason).Inc()
}

// ObserveLLM records one generative call.
func (m *Metrics) ObserveLLM(tier, outcome string, tokensIn, tokensOut int) {
	if m == nil {
		return
	}
	m.LLMCalls.WithLabelValues(tier, outcome).Inc()
	m.LLMTokens.WithLabelValues("in").Add(float64(tokensIn))
	m.LLMTokens.WithLabelValues("out").Add(float64(tokensOut))
}

// IncUsageDropped counts a dropped usage record.
func (m *Metrics) IncUsageDropped() {
	if m == nil {
		return
	}
	m.UsageDropped.Inc()
}
