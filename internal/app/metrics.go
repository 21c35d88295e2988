package app

import (
	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/Guizzs26/go-crm-sync/pkg/metrics"
)

func recordStale(kind models.JobKind, n int64) {
	if n > 0 {
		metrics.StaleRescued.WithLabelValues(string(kind)).Add(float64(n))
	}
}

// recordBacklog sets every status so drained statuses drop to zero
func recordBacklog(kind models.JobKind, counts map[models.Status]int) {
	for _, s := range []models.Status{models.StatusPending, models.StatusProcessing, models.StatusSent, models.StatusSentShadow, models.StatusFailed} {
		metrics.QueueBacklog.WithLabelValues(string(kind), string(s)).Set(float64(counts[s]))
	}
}
