package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmitAttempts tracks every call to the queue's add operation
	SubmitAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuerunner_submit_attempts_total",
			Help: "Total number of item submission attempts",
		},
		[]string{"queue", "result"},
	)

	// ItemsSubmitted tracks the final outcome of each submitted item
	ItemsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuerunner_items_submitted_total",
			Help: "Total number of items submitted, by outcome",
		},
		[]string{"queue", "outcome"},
	)

	// ItemsSkipped tracks candidates dropped because their reference is already queued
	ItemsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuerunner_items_skipped_total",
			Help: "Total number of candidates skipped as duplicates",
		},
		[]string{"queue"},
	)

	// ItemsProcessed tracks the terminal state reached by processed items
	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuerunner_items_processed_total",
			Help: "Total number of items processed, by terminal state",
		},
		[]string{"queue", "state"},
	)

	// ItemDuration tracks business operation latency
	ItemDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queuerunner_item_duration_seconds",
			Help:    "Business operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	// ErrorBudgetUsed tracks process errors counted against the fatal-error budget
	ErrorBudgetUsed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queuerunner_error_budget_used",
			Help: "Process errors counted in the current processing run",
		},
		[]string{"queue"},
	)

	// EnvironmentResets tracks environment reset cycles
	EnvironmentResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queuerunner_environment_resets_total",
			Help: "Total number of environment resets",
		},
	)

	// NotificationsSent tracks error notification deliveries
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuerunner_notifications_total",
			Help: "Total number of error notifications, by result",
		},
		[]string{"result"},
	)

	// QueueItems tracks the number of queue items per state
	QueueItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queuerunner_queue_items",
			Help: "Number of queue items per lifecycle state",
		},
		[]string{"queue", "state"},
	)

	// DBConnectionPoolUsage tracks open connections as a percentage of the pool limit
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queuerunner_db_connection_pool_usage_percent",
			Help: "Database connection pool usage in percent",
		},
	)
)
