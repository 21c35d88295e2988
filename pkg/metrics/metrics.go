package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchOutcomes tracks the result of every dispatch attempt
	// Labels: kind (event/sale), status (sent, sent_shadow, retry, failed, released, skipped)
	DispatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_dispatch_outcomes_total",
		Help: "Total number of dispatch attempts by outcome",
	}, []string{"kind", "status"})

	// DispatchLatency measures the external provider round trip
	DispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crmsync_dispatch_latency_seconds",
		Help:    "Latency of outbound provider calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind", "code"})

	// BatchDuration measures how long it takes to process an entire batch
	BatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crmsync_batch_duration_seconds",
		Help:    "Duration of batch processing in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// BatchSize tracks the number of items actually claimed in each batch
	BatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crmsync_batch_size",
		Help:    "Number of items claimed per batch",
		Buckets: []float64{1, 10, 50, 100, 500, 1000},
	}, []string{"kind"})

	// QueueBacklog is refreshed by the janitor. Pending rows are the primary lag indicator
	QueueBacklog = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crmsync_queue_backlog",
		Help: "Current number of queue rows per status",
	}, []string{"kind", "status"})

	// StaleRescued counts processing rows returned to pending by the janitor
	StaleRescued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_stale_rescued_total",
		Help: "Rows stuck in processing that were reset to pending",
	}, []string{"kind"})

	// RuleDecisions counts rule engine outcomes per event type
	RuleDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_rule_decisions_total",
		Help: "Rule engine decisions",
	}, []string{"event_type", "outcome"})

	// EventsCaptured counts outbound events enqueued by change capture
	EventsCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_events_captured_total",
		Help: "Outbound events inserted by change capture",
	}, []string{"event_type"})

	// BreakerState mirrors the provider circuit breaker (0 closed, 1 half-open, 2 open)
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crmsync_provider_breaker_state",
		Help: "Circuit breaker state per provider",
	}, []string{"provider"})

	// RabbitMQReconnections counts how many times the service had to restore the link
	RabbitMQReconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crmsync_rabbitmq_reconnections_total",
		Help: "Total number of RabbitMQ reconnection attempts",
	})

	// HealthStatus provides a binary 0/1 signal for the broker link
	HealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crmsync_broker_healthy",
		Help: "Current health status of the broker link (1 for healthy, 0 for unhealthy)",
	})
)
