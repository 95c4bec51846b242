package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_activity_sessions_created_total",
			Help: "Total number of sessions registered",
		},
	)

	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_activity_session_transitions_total",
			Help: "Session status transitions out of ACTIVE",
		},
		[]string{"status"},
	)

	SessionCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_activity_session_cache_lookups_total",
			Help: "Session cache lookups by result",
		},
		[]string{"result"}, // hit, miss, error
	)

	LastActivityFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_activity_last_activity_failures_total",
			Help: "Failed last-activity updates (logged, never surfaced)",
		},
	)

	// Activity recording metrics
	EventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_activity_events_recorded_total",
			Help: "Total number of activity events persisted",
		},
		[]string{"type", "successful"},
	)

	RecordFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_activity_record_failures_total",
			Help: "Activity events that could not be persisted",
		},
	)

	UnsanitizedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_activity_unsanitized_events_total",
			Help: "Events whose metadata carried sensitive values when handed to the recorder",
		},
		[]string{"type"},
	)

	SinkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_activity_sink_failures_total",
			Help: "Failed deliveries to downstream sinks",
		},
		[]string{"sink"},
	)

	TrackedRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telhawk_activity_tracked_request_duration_seconds",
			Help:    "Duration of requests wrapped by the tracking pipeline",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Impersonation metrics
	ImpersonationsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_activity_impersonations_started_total",
			Help: "Total number of impersonations started",
		},
	)

	ImpersonationsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_activity_impersonations_rejected_total",
			Help: "Impersonation attempts rejected by guard-rails",
		},
		[]string{"reason"},
	)

	ImpersonationsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_activity_impersonations_finished_total",
			Help: "Impersonations that reached a terminal state",
		},
		[]string{"status"},
	)

	// Sweep metrics
	SweepRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_activity_sweep_rows_total",
			Help: "Rows affected by periodic sweeps",
		},
		[]string{"sweep"},
	)

	SweepErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_activity_sweep_errors_total",
			Help: "Failed sweep runs",
		},
		[]string{"sweep"},
	)
)
