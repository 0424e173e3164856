package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "deep_research"

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Research requests by outcome",
		},
		[]string{"outcome"}, // "completed", "rejected", "failed", "upstream_access"
	)

	IterationsPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iterations_per_run",
			Help:      "Planning rounds executed per research request",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	SearchQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_queries_total",
			Help:      "Search executor queries by result",
		},
		[]string{"result"}, // "ok", "empty", "failed"
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of a single search executor query",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		},
	)

	AggregationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_failures_total",
			Help:      "Aggregations that fell back to the empty result",
		},
	)

	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Total LLM API calls",
		},
		[]string{"provider", "model", "kind", "status"},
	)

	llmDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_duration_seconds",
			Help:      "Duration of LLM API calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
		[]string{"provider", "model", "kind"},
	)
)

// ObserveLLMCall starts timing a provider call. The returned func records
// the outcome; call it exactly once.
func ObserveLLMCall(provider, model, kind string) func(err error) {
	start := time.Now()
	return func(err error) {
		status := "ok"
		if err != nil {
			status = "error"
		}
		llmCallsTotal.WithLabelValues(provider, model, kind, status).Inc()
		llmDuration.WithLabelValues(provider, model, kind).Observe(time.Since(start).Seconds())
	}
}
