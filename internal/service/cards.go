package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/Guizzs26/go-crm-sync/internal/capture"
	"github.com/Guizzs26/go-crm-sync/internal/models"
)

var ErrInvalidPatch = errors.New("invalid card patch")

// CardStore is the transaction-bound persistence of a card mutation
type CardStore interface {
	capture.Store
	LockCard(ctx context.Context, id string) (models.Card, error)
	UpdateCard(ctx context.Context, id string, cols map[string]any) error
	SyncSettings(ctx context.Context) (models.SyncSettings, error)
}

// CardPatch lists the attributes to change. Nil pointers are left untouched
type CardPatch struct {
	Title      *string        `json:"title,omitempty"`
	PipelineID *string        `json:"pipeline_id,omitempty"`
	StageID    *string        `json:"stage_id,omitempty"`
	OwnerID    *string        `json:"owner_id,omitempty"`
	Status     *string        `json:"status,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

func (p CardPatch) Empty() bool {
	return p.Title == nil && p.PipelineID == nil && p.StageID == nil &&
		p.OwnerID == nil && p.Status == nil && len(p.Fields) == 0
}

// CardService applies card mutations and captures outbound events in the same transaction
type CardService struct {
	tx       TxRunner[CardStore]
	capturer *capture.Capturer
	logger   *slog.Logger
}

func NewCardService(tx TxRunner[CardStore], c *capture.Capturer, l *slog.Logger) *CardService {
	return &CardService{tx: tx, capturer: c, logger: l}
}

// Update locks the card, writes the patch and runs change capture. Nothing is
// persisted if capture fails.
func (s *CardService) Update(ctx context.Context, id string, patch CardPatch, origin models.Origin) (models.Card, []models.OutboundEvent, error) {
	if patch.Empty() {
		return models.Card{}, nil, fmt.Errorf("%w: nothing to update", ErrInvalidPatch)
	}
	if patch.Status != nil {
		switch *patch.Status {
		case models.CardStatusOpen, models.CardStatusWon, models.CardStatusLost:
		default:
			return models.Card{}, nil, fmt.Errorf("%w: unknown status %q", ErrInvalidPatch, *patch.Status)
		}
	}
	if origin == "" {
		origin = models.OriginUser
	}

	var (
		updated models.Card
		events  []models.OutboundEvent
	)
	err := s.tx(ctx, func(store CardStore) error {
		old, err := store.LockCard(ctx, id)
		if err != nil {
			return fmt.Errorf("lock card %s: %w", id, err)
		}

		cur, cols := apply(old, patch)
		if err := store.UpdateCard(ctx, id, cols); err != nil {
			return fmt.Errorf("update card %s: %w", id, err)
		}

		settings, err := store.SyncSettings(ctx)
		if err != nil {
			return err
		}

		events, err = s.capturer.Capture(ctx, store, settings, capture.Mutation{Old: old, New: cur, Origin: origin})
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		updated = cur
		return nil
	})
	if err != nil {
		return models.Card{}, nil, err
	}

	s.logger.Info("Card updated", "card_id", id, "origin", origin, "events", len(events))
	return updated, events, nil
}

// apply returns the patched card and the columns to write
func apply(old models.Card, p CardPatch) (models.Card, map[string]any) {
	cur := old
	cur.Fields = maps.Clone(old.Fields)
	cur.UpdatedAt = time.Now().UTC()

	cols := map[string]any{"updated_at": cur.UpdatedAt}
	set := func(dst *string, v *string, col string) {
		if v != nil {
			*dst = *v
			cols[col] = *v
		}
	}
	set(&cur.Title, p.Title, "title")
	set(&cur.PipelineID, p.PipelineID, "pipeline_id")
	set(&cur.StageID, p.StageID, "stage_id")
	set(&cur.OwnerID, p.OwnerID, "owner_id")
	set(&cur.Status, p.Status, "status")

	if len(p.Fields) > 0 {
		if cur.Fields == nil {
			cur.Fields = map[string]any{}
		}
		for k, v := range p.Fields {
			if v == nil {
				delete(cur.Fields, k)
				continue
			}
			cur.Fields[k] = v
		}
		cols["fields"] = map[string]any(cur.Fields)
	}
	return cur, cols
}
