// Package metrics exposes Prometheus collectors for the routing pipeline.
// Collectors are package-level promauto registrations; recording helpers keep
// label handling in one place.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// routingDecisions counts routing decisions by method.
	routingDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbiter",
		Subsystem: "routing",
		Name:      "decisions_total",
		Help:      "Routing decisions by method",
	}, []string{"method"})

	// reasonLatency measures end-to-end reasoning latency per method.
	// Labels: method, status (ok, blocked, error)
	reasonLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arbiter",
		Subsystem: "routing",
		Name:      "reason_latency_seconds",
		Help:      "End-to-end reasoning latency in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"method", "status"})

	// responseConfidence tracks the distribution of final response confidence.
	responseConfidence = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arbiter",
		Subsystem: "routing",
		Name:      "confidence",
		Help:      "Distribution of response confidence scores",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
	}, []string{"brain"})

	// providerAttempts counts fallback chain attempts per provider.
	// Labels: provider, outcome (success, timeout, empty, error)
	providerAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbiter",
		Subsystem: "llm",
		Name:      "provider_attempts_total",
		Help:      "Fallback chain provider attempts by outcome",
	}, []string{"provider", "outcome"})

	// toolCycles tracks how many tool cycles each query consumed.
	toolCycles = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "arbiter",
		Subsystem: "tools",
		Name:      "cycles_per_query",
		Help:      "Tool execution cycles consumed per query",
		Buckets:   []float64{0, 1, 2, 3, 4, 5},
	})

	// reviews counts reviewer outcomes.
	// Labels: outcome (passed, revised, failed_open)
	reviews = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbiter",
		Subsystem: "review",
		Name:      "reviews_total",
		Help:      "Response reviews by outcome",
	}, []string{"outcome"})
)

// RecordDecision records one routing decision.
func RecordDecision(method string) {
	routingDecisions.WithLabelValues(method).Inc()
}

// RecordReasonLatency records one end-to-end reasoning pass.
// status is "ok", "blocked", or "error".
func RecordReasonLatency(method, status string, durationSec float64) {
	reasonLatency.WithLabelValues(method, status).Observe(durationSec)
}

// RecordConfidence records the confidence of a delivered response.
func RecordConfidence(brain string, confidence float64) {
	responseConfidence.WithLabelValues(brain).Observe(confidence)
}

// RecordProviderAttempt records one fallback chain attempt. outcome is
// "success", "timeout", "empty", or "error".
func RecordProviderAttempt(provider, outcome string) {
	providerAttempts.WithLabelValues(provider, outcome).Inc()
}

// RecordToolCycles records the tool cycles a query consumed.
func RecordToolCycles(cycles int) {
	toolCycles.Observe(float64(cycles))
}

// RecordReview records a reviewer outcome. outcome is "passed", "revised",
// or "failed_open".
func RecordReview(outcome string) {
	reviews.WithLabelValues(outcome).Inc()
}
