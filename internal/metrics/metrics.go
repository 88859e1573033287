package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue metrics
	QueueMessagesEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worldd_queue_messages_enqueued_total",
			Help: "Total messages enqueued",
		},
	)

	QueueMessagesCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worldd_queue_messages_completed_total",
			Help: "Total messages completed",
		},
	)

	QueueMessagesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worldd_queue_messages_failed_total",
			Help: "Total messages terminally failed",
		},
	)

	QueueMessagesRetried = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worldd_queue_messages_retried_total",
			Help: "Total retry requeues (automatic and manual)",
		},
	)

	QueueMessagesStuck = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worldd_queue_messages_stuck_total",
			Help: "Total stuck messages reclaimed by the reaper",
		},
	)

	QueueCleanupDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worldd_queue_cleanup_deleted_total",
			Help: "Total terminal messages deleted by cleanup",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worldd_queue_depth",
			Help: "Pending messages per world",
		},
		[]string{"world"},
	)

	// Conversation metrics
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worldd_llm_calls_total",
			Help: "Total completion calls",
		},
		[]string{"outcome"}, // "ok" or "error"
	)

	LLMCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worldd_llm_call_duration_seconds",
			Help:    "Completion call duration",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	ResponsesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worldd_responses_published_total",
			Help: "Total agent responses published to the bus",
		},
	)

	ResponsesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worldd_responses_skipped_total",
			Help: "Responses not generated",
		},
		[]string{"reason"}, // "gate", "empty", "error"
	)

	MessageProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worldd_message_processing_duration_seconds",
			Help:    "End-to-end processing time per dequeued message",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)
