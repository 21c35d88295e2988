package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InboundMessages tracks webhook ingestion per provider
	// result: inserted, duplicate, error
	InboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_inbound_messages_total",
		Help: "Inbound webhook messages by result",
	}, []string{"provider", "result"})

	// IngestDuration tracks the end-to-end latency of one webhook delivery
	IngestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crmsync_ingest_duration_seconds",
		Help:    "Time taken to ingest a webhook delivery",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"provider", "status"})

	// TriggersConsumed counts dispatch triggers received from the broker
	TriggersConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_triggers_consumed_total",
		Help: "Dispatch trigger messages consumed",
	}, []string{"status"})
)
