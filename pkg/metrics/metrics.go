// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// AdoptionRequestsTotal tracks requestAdoption calls by outcome
	// (created, existing, conflict, invalid_state, not_found, forbidden, error).
	AdoptionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adoption_requests_total",
			Help: "Adoption request attempts by outcome",
		},
		[]string{"outcome"},
	)

	// FinalizationsTotal tracks finalize calls by decision and result.
	FinalizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adoption_finalizations_total",
			Help: "Adoption finalizations by decision and result",
		},
		[]string{"decision", "result"},
	)

	// FinalizeRetriesTotal tracks retried finalize steps.
	FinalizeRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adoption_finalize_retries_total",
			Help: "Retried finalize steps",
		},
		[]string{"step"},
	)

	// InconsistenciesTotal tracks detected pet/request divergence by how it was handled.
	InconsistenciesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adoption_inconsistencies_total",
			Help: "Detected pet/request divergence",
		},
		[]string{"action"},
	)

	// ChatMessagesTotal tracks messages posted by sender party.
	ChatMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total negotiation chat messages",
		},
		[]string{"party"},
	)

	// MutualAcceptancesTotal tracks chats that reached mutual acceptance.
	MutualAcceptancesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_mutual_acceptances_total",
			Help: "Chats that reached mutual acceptance",
		},
	)

	// LongPollWaiters tracks clients currently parked on a chat long-poll.
	LongPollWaiters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_long_poll_waiters",
			Help: "Number of parked chat long-poll requests",
		},
	)

	// EventsPublishedTotal tracks negotiation events by type and result.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "negotiation_events_published_total",
			Help: "Negotiation events published to the event log",
		},
		[]string{"type", "result"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, route, status string, duration float64) {
	RequestDuration.WithLabelValues(method, route, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, route, status).Inc()
}

// RecordAdoptionRequest records the outcome of a requestAdoption call.
func RecordAdoptionRequest(outcome string) {
	AdoptionRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordFinalization records the result of a finalize call.
func RecordFinalization(decision, result string) {
	FinalizationsTotal.WithLabelValues(decision, result).Inc()
}

// IncrementLongPollWaiters increments the parked long-poll count.
func IncrementLongPollWaiters() {
	LongPollWaiters.Inc()
}

// DecrementLongPollWaiters decrements the parked long-poll count.
func DecrementLongPollWaiters() {
	LongPollWaiters.Dec()
}
