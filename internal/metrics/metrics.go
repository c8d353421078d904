package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task lifecycle metrics, labeled by processing type where the cardinality
// is bounded by the registry.
var (
	TasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imageforge_tasks_submitted_total",
		Help: "Tasks accepted for background processing.",
	}, []string{"processing_type"})

	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imageforge_tasks_completed_total",
		Help: "Tasks that reached the completed terminal state.",
	}, []string{"processing_type"})

	TasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imageforge_tasks_failed_total",
		Help: "Tasks that reached the failed terminal state.",
	}, []string{"processing_type"})

	FallbacksUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imageforge_fallbacks_total",
		Help: "Remote strategies that degraded to their local fallback.",
	}, []string{"processing_type"})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "imageforge_task_duration_seconds",
		Help:    "Wall-clock duration of background task execution.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"processing_type"})

	CreditsDebited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imageforge_credits_debited_total",
		Help: "Credits debited across all accounts.",
	})

	CreditsRefunded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imageforge_credits_refunded_total",
		Help: "Credits refunded across all accounts.",
	})
)
