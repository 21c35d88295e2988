package capture

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/Guizzs26/go-crm-sync/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	rules  []models.TriggerRule
	stages map[string]string
	fields map[string]string
	events []models.OutboundEvent
}

func (s *memStore) ActiveRules(_ context.Context, _ string) ([]models.TriggerRule, error) {
	return s.rules, nil
}

func (s *memStore) ExternalStageID(_ context.Context, _ string, stageID string) (string, error) {
	return s.stages[stageID], nil
}

func (s *memStore) ExternalFieldKey(_ context.Context, _ string, field string) (string, error) {
	return s.fields[field], nil
}

func (s *memStore) InsertOutboundEvent(_ context.Context, ev *models.OutboundEvent) error {
	s.events = append(s.events, *ev)
	return nil
}

func newCapturer() *Capturer {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCapturer(rules.NewEngine(nil, l), Options{MonitoredFields: []string{"title", "value"}, MaxAttempts: 5}, l)
}

func linkedCard() models.Card {
	return models.Card{
		ID:            "card-1",
		Title:         "Trip to Lisbon",
		PipelineID:    "p1",
		StageID:       "A",
		OwnerID:       "u1",
		Status:        models.CardStatusOpen,
		IntegrationID: "marketing",
		ExternalID:    "42",
		Fields:        map[string]any{"value": 1000.0},
	}
}

var enabled = models.SyncSettings{OutboundEnabled: true}

func TestCapture_StageChangeWithoutRules(t *testing.T) {
	store := &memStore{stages: map[string]string{"B": "7"}}
	old := linkedCard()
	cur := old
	cur.StageID = "B"

	evs, err := newCapturer().Capture(context.Background(), store, enabled, Mutation{Old: old, New: cur, Origin: models.OriginUser})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Len(t, store.events, 1)

	ev := store.events[0]
	assert.Equal(t, models.EventStageChange, ev.EventType)
	assert.Equal(t, models.StatusPending, ev.Status)
	assert.Equal(t, 5, ev.MaxAttempts)
	assert.Equal(t, "42", ev.ExternalID)
	assert.NotEmpty(t, ev.IdempotencyKey)

	var p models.EventPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	assert.Equal(t, "7", p.TargetExternalStageID)
	assert.Equal(t, "A", p.PreviousStageID)
	assert.False(t, p.ShadowMode)
}

func TestCapture_SystemOriginSuppressed(t *testing.T) {
	old := linkedCard()
	cur := old
	cur.StageID = "B"
	cur.Status = models.CardStatusWon

	for _, o := range []models.Origin{models.OriginSync, models.OriginIntegration} {
		store := &memStore{}
		evs, err := newCapturer().Capture(context.Background(), store, enabled, Mutation{Old: old, New: cur, Origin: o})
		require.NoError(t, err)
		assert.Empty(t, evs)
		assert.Empty(t, store.events)
	}
}

func TestCapture_NoOps(t *testing.T) {
	old := linkedCard()
	cur := old
	cur.StageID = "B"

	unlinked := cur
	unlinked.ExternalID = ""

	tests := []struct {
		name     string
		card     models.Card
		settings models.SyncSettings
	}{
		{"unlinked card", unlinked, enabled},
		{"outbound disabled", cur, models.SyncSettings{}},
		{"event type filtered", cur, models.SyncSettings{OutboundEnabled: true, AllowedEventTypes: []models.EventType{models.EventWon}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			_, err := newCapturer().Capture(context.Background(), store, tt.settings, Mutation{Old: old, New: tt.card, Origin: models.OriginUser})
			require.NoError(t, err)
			assert.Empty(t, store.events)
		})
	}
}

func TestCapture_BlockedByRule(t *testing.T) {
	store := &memStore{rules: []models.TriggerRule{{
		Name:           "block-b",
		SourceSystemID: "marketing",
		StageIDs:       []string{"B"},
		ActionMode:     models.ActionBlock,
		IsActive:       true,
	}}}
	old := linkedCard()
	cur := old
	cur.StageID = "B"

	evs, err := newCapturer().Capture(context.Background(), store, enabled, Mutation{Old: old, New: cur, Origin: models.OriginUser})
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestCapture_FieldUpdatesAndShadowFlag(t *testing.T) {
	store := &memStore{
		fields: map[string]string{"value": "12"},
		rules: []models.TriggerRule{{
			Name:           "value-only",
			SourceSystemID: "marketing",
			SyncFieldMode:  models.FieldModeSelected,
			SyncFields:     []string{"value"},
			ActionMode:     models.ActionAllow,
			IsActive:       true,
		}},
	}
	old := linkedCard()
	cur := old
	cur.Title = "Trip to Porto"
	cur.Fields = map[string]any{"value": 1500.0}

	settings := models.SyncSettings{OutboundEnabled: true, ShadowMode: true}
	evs, err := newCapturer().Capture(context.Background(), store, settings, Mutation{Old: old, New: cur, Origin: models.OriginUser})
	require.NoError(t, err)
	require.Len(t, evs, 1)

	var p models.EventPayload
	require.NoError(t, json.Unmarshal(evs[0].Payload, &p))
	assert.Equal(t, "value", p.Field)
	assert.Equal(t, "12", p.ExternalField)
	assert.Equal(t, 1500.0, p.Value)
	assert.Equal(t, "value-only", p.MatchedRuleName)
	assert.True(t, p.ShadowMode)
	assert.Equal(t, models.StatusPending, evs[0].Status)
}

func TestDiff(t *testing.T) {
	old := linkedCard()

	won := old
	won.Status = models.CardStatusWon
	cands := Diff(old, won, nil)
	require.Len(t, cands, 1)
	assert.Equal(t, models.EventWon, cands[0].EventType)

	reopened := won
	reopened.Status = models.CardStatusOpen
	assert.Empty(t, Diff(won, reopened, nil))

	titled := old
	titled.Title = "x"
	cands = Diff(old, titled, []string{"title", "value"})
	require.Len(t, cands, 1)
	assert.Equal(t, "title", cands[0].Field)
	assert.Equal(t, DefaultFieldKey("title"), "deal[title]")
}
