// Package metrics provides Prometheus metrics for the Atlas service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ObservationsProcessedTotal tracks processed observations by decision outcome
	ObservationsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "pipeline",
			Name:      "observations_total",
			Help:      "Total number of observations processed by decision outcome",
		},
		[]string{"source", "outcome"},
	)

	// ResolutionDuration tracks observation resolution duration in seconds
	ResolutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atlas",
			Subsystem: "pipeline",
			Name:      "resolution_duration_seconds",
			Help:      "Duration of observation resolution in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"source"},
	)

	// CandidatesGenerated tracks candidate set sizes per resolution
	CandidatesGenerated = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "atlas",
			Subsystem: "pipeline",
			Name:      "candidates_per_observation",
			Help:      "Number of candidate entities generated per observation",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	// MergesTotal tracks entity merges by trigger
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "identity",
			Name:      "merges_total",
			Help:      "Total number of entity merges by trigger",
		},
		[]string{"trigger"},
	)

	// SplitsTotal tracks entity splits
	SplitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "identity",
			Name:      "splits_total",
			Help:      "Total number of entity splits",
		},
	)

	// HouseholdCapDemotions tracks auto-matches demoted to review by the household cap
	HouseholdCapDemotions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "identity",
			Name:      "household_cap_demotions_total",
			Help:      "Total number of auto-matches demoted to review by the household cap",
		},
	)

	// ReviewQueueDepth tracks pending review items by tier
	ReviewQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "atlas",
			Subsystem: "review",
			Name:      "queue_depth",
			Help:      "Number of pending review items by tier",
		},
		[]string{"tier"},
	)

	// ReviewVerdictsTotal tracks review verdicts by outcome
	ReviewVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "review",
			Name:      "verdicts_total",
			Help:      "Total number of review verdicts by outcome",
		},
		[]string{"outcome"},
	)

	// QueueJobsProcessed tracks jobs processed from the queue
	QueueJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed from the queue",
		},
		[]string{"status"},
	)

	// QueueJobsInFlight tracks jobs currently being processed
	QueueJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "atlas",
			Subsystem: "queue",
			Name:      "jobs_in_flight",
			Help:      "Number of jobs currently being processed",
		},
	)

	// DLQJobsTotal tracks jobs sent to the dead letter queue
	DLQJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "dlq",
			Name:      "jobs_total",
			Help:      "Total number of jobs sent to dead letter queue",
		},
		[]string{"reason"},
	)

	// QuarantinedObservations tracks observations moved to quarantine
	QuarantinedObservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "quarantine",
			Name:      "observations_total",
			Help:      "Total number of observations moved to quarantine",
		},
		[]string{"reason"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaMessagesConsumed tracks Kafka messages consumed
	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "kafka",
			Name:      "messages_consumed_total",
			Help:      "Total number of messages consumed from Kafka",
		},
		[]string{"topic", "status"},
	)

	// DatabaseQueryDuration tracks database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atlas",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	// RedisOperationDuration tracks Redis operation duration
	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atlas",
			Subsystem: "redis",
			Name:      "operation_duration_seconds",
			Help:      "Duration of Redis operations in seconds",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
		[]string{"operation"},
	)
)

// RecordResolution records an observation resolution metric
func RecordResolution(source, outcome string, durationSeconds float64) {
	ObservationsProcessedTotal.WithLabelValues(source, outcome).Inc()
	ResolutionDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordMerge records an entity merge metric
func RecordMerge(trigger string) {
	MergesTotal.WithLabelValues(trigger).Inc()
}

// RecordQueueJob records a queue job processing metric
func RecordQueueJob(status string) {
	QueueJobsProcessed.WithLabelValues(status).Inc()
}

// RecordDLQJob records a dead letter queue job
func RecordDLQJob(reason string) {
	DLQJobsTotal.WithLabelValues(reason).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}

// SetReviewQueueDepth updates the pending review gauge for a tier
func SetReviewQueueDepth(tier string, depth int) {
	ReviewQueueDepth.WithLabelValues(tier).Set(float64(depth))
}
