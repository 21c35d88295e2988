package app

import (
	"context"
	"sync"
	"time"

	"github.com/Guizzs26/go-crm-sync/internal/broker"
	"github.com/Guizzs26/go-crm-sync/internal/dispatch"
	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/Guizzs26/go-crm-sync/pkg/infra"
	"github.com/Guizzs26/go-crm-sync/pkg/metrics"
)

// batchRunner is the part of *dispatch.Worker the loop needs
type batchRunner interface {
	Kind() models.JobKind
	RunBatch(ctx context.Context, limit int) (dispatch.Summary, error)
}

// RunDispatcher drives every worker until ctx is done. Each worker runs a
// batch per poll interval, immediately again after a full batch, or as soon
// as a broker trigger arrives. The janitor runs on its own ticker.
func (a *App) RunDispatcher(ctx context.Context) {
	workers := a.Workers()
	wake := make(map[models.JobKind]chan struct{}, len(workers))
	for _, w := range workers {
		wake[w.Kind()] = make(chan struct{}, 1)
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.runLoop(ctx, w, wake[w.Kind()])
		}()
	}

	if a.Config.RabbitMQURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.listenTriggers(ctx, wake)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.runMaintenance(ctx)
	}()

	wg.Wait()
	a.Logger.Info("Dispatcher stopped")
}

func (a *App) runLoop(ctx context.Context, w batchRunner, wake <-chan struct{}) {
	backoff := infra.NewBackoff(time.Second, time.Minute, 2.0)
	logger := a.Logger.With("worker", w.Kind())

	for {
		if ctx.Err() != nil {
			return
		}

		sum, err := w.RunBatch(ctx, a.Config.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("Batch processing error", "attempt", backoff.Attempts()+1, "error", err)
			if backoff.Wait(ctx) != nil {
				return
			}
			continue
		}
		backoff.Reset()

		// a full batch means more is probably due
		if sum.Claimed >= a.Config.BatchSize {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-time.After(a.Config.PollInterval):
		}
	}
}

// listenTriggers keeps a trigger consumer alive, reconnecting with backoff
func (a *App) listenTriggers(ctx context.Context, wake map[models.JobKind]chan struct{}) {
	backoff := infra.NewBackoff(time.Second, time.Minute, 2.0)
	for ctx.Err() == nil {
		consumer, err := broker.NewTriggerConsumer(a.Config.RabbitMQURL, a.Logger)
		if err != nil {
			a.Logger.Error("RabbitMQ link failure, retrying", "error", err)
			if backoff.Wait(ctx) != nil {
				return
			}
			continue
		}
		backoff.Reset()

		err = consumer.Listen(ctx, wake)
		consumer.Close()
		if ctx.Err() != nil {
			return
		}
		metrics.RabbitMQReconnections.Inc()
		a.Logger.Warn("Trigger consumer stopped, reconnecting", "error", err)
		if backoff.Wait(ctx) != nil {
			return
		}
	}
}

func (a *App) runMaintenance(ctx context.Context) {
	ticker := time.NewTicker(a.Config.MaintenanceInterval)
	defer ticker.Stop()

	a.Janitor(ctx)
	for {
		select {
		case <-ticker.C:
			a.Janitor(ctx)
		case <-ctx.Done():
			a.Logger.Info("Janitor: stopping maintenance goroutine")
			return
		}
	}
}
