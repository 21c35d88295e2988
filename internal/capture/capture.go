package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/Guizzs26/go-crm-sync/internal/rules"
	"github.com/Guizzs26/go-crm-sync/pkg/metrics"
	"github.com/google/uuid"
)

// Store is the transaction-bound persistence used while capturing
type Store interface {
	rules.RuleSource
	// ExternalStageID returns "" when the stage has no mapping
	ExternalStageID(ctx context.Context, sourceSystemID, stageID string) (string, error)
	// ExternalFieldKey returns "" when the field has no mapping
	ExternalFieldKey(ctx context.Context, sourceSystemID, field string) (string, error)
	InsertOutboundEvent(ctx context.Context, ev *models.OutboundEvent) error
}

// Mutation is one card write, tagged with who performed it
type Mutation struct {
	Old    models.Card
	New    models.Card
	Origin models.Origin
}

// Candidate is a change worth asking the rule engine about
type Candidate struct {
	EventType models.EventType
	Field     string
	Previous  any
	Value     any
}

type Options struct {
	MonitoredFields []string
	MaxAttempts     int
}

type Capturer struct {
	engine *rules.Engine
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewCapturer(engine *rules.Engine, opts Options, l *slog.Logger) *Capturer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Capturer{
		engine: engine,
		opts:   opts,
		logger: l,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Capture turns a mutation into zero or more pending outbound events.
// It runs inside the caller's transaction; any error must roll the write back.
func (c *Capturer) Capture(ctx context.Context, store Store, settings models.SyncSettings, m Mutation) ([]models.OutboundEvent, error) {
	if m.Origin.IsSystem() {
		return nil, nil
	}
	if !m.New.Linked() || !settings.OutboundEnabled {
		return nil, nil
	}

	l := c.logger.With("card_id", m.New.ID, "origin", m.Origin)
	source := m.New.IntegrationID

	var created []models.OutboundEvent
	for _, cand := range Diff(m.Old, m.New, c.opts.MonitoredFields) {
		if !settings.EventAllowed(cand.EventType) {
			continue
		}

		d, err := c.engine.EvaluateWith(ctx, store, rules.Input{
			SourceSystemID: source,
			PipelineID:     m.New.PipelineID,
			StageID:        m.New.StageID,
			OwnerID:        m.New.OwnerID,
			Status:         m.New.Status,
			EventType:      cand.EventType,
			FieldName:      cand.Field,
		})
		if err != nil {
			return nil, err
		}
		if !d.Allowed {
			continue
		}

		payload, err := c.payload(ctx, store, m, cand, d, settings)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}

		ev := models.OutboundEvent{
			ID:             uuid.NewString(),
			SourceSystemID: source,
			CardID:         m.New.ID,
			ExternalID:     m.New.ExternalID,
			IdempotencyKey: uuid.NewString(),
			EventType:      cand.EventType,
			Payload:        raw,
			Status:         models.StatusPending,
			MaxAttempts:    c.opts.MaxAttempts,
			AttemptsLog:    models.AttemptLog{},
			CreatedAt:      payload.CapturedAt,
			UpdatedAt:      payload.CapturedAt,
		}
		if err := store.InsertOutboundEvent(ctx, &ev); err != nil {
			return nil, fmt.Errorf("insert outbound event: %w", err)
		}

		metrics.EventsCaptured.WithLabelValues(string(ev.EventType)).Inc()
		l.Info("Outbound event queued",
			"event_id", ev.ID,
			"event_type", ev.EventType,
			"field", cand.Field,
			"rule", d.RuleName,
			"shadow", settings.ShadowMode,
		)
		created = append(created, ev)
	}
	return created, nil
}

func (c *Capturer) payload(ctx context.Context, store Store, m Mutation, cand Candidate, d rules.Decision, settings models.SyncSettings) (models.EventPayload, error) {
	p := models.EventPayload{
		CardID:          m.New.ID,
		Title:           m.New.Title,
		PipelineID:      m.New.PipelineID,
		StageID:         m.New.StageID,
		PreviousStageID: m.Old.StageID,
		Status:          m.New.Status,
		PreviousStatus:  m.Old.Status,
		Snapshot:        m.New.Snapshot(),
		MatchedRuleName: d.RuleName,
		ShadowMode:      settings.ShadowMode,
		CapturedAt:      c.now(),
	}

	target, err := store.ExternalStageID(ctx, m.New.IntegrationID, m.New.StageID)
	if err != nil {
		return p, fmt.Errorf("resolve stage mapping: %w", err)
	}
	p.TargetExternalStageID = target

	if cand.EventType == models.EventFieldUpdate {
		key, err := store.ExternalFieldKey(ctx, m.New.IntegrationID, cand.Field)
		if err != nil {
			return p, fmt.Errorf("resolve field mapping: %w", err)
		}
		if key == "" {
			key = DefaultFieldKey(cand.Field)
		}
		p.Field = cand.Field
		p.ExternalField = key
		p.Value = cand.Value
		p.PreviousValue = cand.Previous
	}
	return p, nil
}

// DefaultFieldKey is the standard-field key used when no mapping exists
func DefaultFieldKey(field string) string {
	return "deal[" + field + "]"
}

// Diff lists the candidate events between two versions of a card
func Diff(old, cur models.Card, monitored []string) []Candidate {
	var out []Candidate

	if cur.StageID != old.StageID {
		out = append(out, Candidate{EventType: models.EventStageChange, Previous: old.StageID, Value: cur.StageID})
	}

	if cur.Status != old.Status {
		switch cur.Status {
		case models.CardStatusWon:
			out = append(out, Candidate{EventType: models.EventWon, Previous: old.Status, Value: cur.Status})
		case models.CardStatusLost:
			out = append(out, Candidate{EventType: models.EventLost, Previous: old.Status, Value: cur.Status})
		}
	}

	before, after := old.Snapshot(), cur.Snapshot()
	for _, f := range monitored {
		if !reflect.DeepEqual(before[f], after[f]) {
			out = append(out, Candidate{EventType: models.EventFieldUpdate, Field: f, Previous: before[f], Value: after[f]})
		}
	}
	return out
}
