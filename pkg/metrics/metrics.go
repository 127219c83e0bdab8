package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cirkel"

var (
	EditsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "edits_applied_total", Help: "Number of edits committed to documents."},
	)
	EditConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "edit_conflicts_total", Help: "Number of edits rejected for overlapping a recent edit or stale content."},
	)
	EditDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: namespace, Name: "edit_duration_seconds", Help: "Time spent in the edit critical section.", Buckets: prometheus.DefBuckets},
	)
	Locks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "locks_total", Help: "Lock operations by result (acquired, busy, released)."},
		[]string{"result"},
	)
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Collaboration events published by type."},
		[]string{"type"},
	)
	ReviewTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "review_transitions_total", Help: "Document status transitions by target status."},
		[]string{"status"},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(
		EditsApplied,
		EditConflicts,
		EditDuration,
		Locks,
		EventsPublished,
		ReviewTransitions,
		RateLimitAllowed,
		RateLimitRejected,
	)
}
