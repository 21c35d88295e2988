package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-crm-sync/internal/models"
)

// Replayer is the queue operation behind a manual replay
type Replayer interface {
	Replay(ctx context.Context, id string) error
	Kind() models.JobKind
}

// Trigger wakes up dispatch workers ahead of their next tick
type Trigger interface {
	Trigger(ctx context.Context, kind models.JobKind) error
}

// QueueAdmin exposes operator actions over the outbound queues
type QueueAdmin struct {
	queues  map[models.JobKind]Replayer
	trigger Trigger
	logger  *slog.Logger
}

func NewQueueAdmin(l *slog.Logger, trigger Trigger, queues ...Replayer) *QueueAdmin {
	m := make(map[models.JobKind]Replayer, len(queues))
	for _, q := range queues {
		m[q.Kind()] = q
	}
	return &QueueAdmin{queues: m, trigger: trigger, logger: l}
}

// Replay puts a failed or shadow-sent item back to pending with a fresh
// attempt budget. The trigger is best effort.
func (a *QueueAdmin) Replay(ctx context.Context, kind models.JobKind, id string) error {
	q, ok := a.queues[kind]
	if !ok {
		return fmt.Errorf("unknown queue %q", kind)
	}
	if err := q.Replay(ctx, id); err != nil {
		return err
	}
	a.logger.Info("Queue item replayed", "kind", kind, "id", id)

	if a.trigger != nil {
		if err := a.trigger.Trigger(ctx, kind); err != nil {
			a.logger.Warn("Failed to publish dispatch trigger", "kind", kind, "error", err)
		}
	}
	return nil
}
