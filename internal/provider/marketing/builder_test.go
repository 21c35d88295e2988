package marketing

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventJob(t *testing.T, et models.EventType, p models.EventPayload) models.Job {
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return models.Job{
		ID:    "ev-1",
		Kind:  models.JobEvent,
		Event: &models.OutboundEvent{ID: "ev-1", ExternalID: "88", EventType: et, Payload: raw},
	}
}

func body(t *testing.T, v any) string {
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name    string
		et      models.EventType
		payload models.EventPayload
		want    string
	}{
		{"stage", models.EventStageChange, models.EventPayload{TargetExternalStageID: "5"}, `{"deal":{"stage":"5"}}`},
		{"won", models.EventWon, models.EventPayload{}, `{"deal":{"status":1}}`},
		{"lost", models.EventLost, models.EventPayload{}, `{"deal":{"status":2}}`},
		{"standard field", models.EventFieldUpdate, models.EventPayload{Field: "value", ExternalField: "deal[value]", Value: 1200.5}, `{"deal":{"value":1200.5}}`},
		{"custom field", models.EventFieldUpdate, models.EventPayload{Field: "destination", ExternalField: "17", Value: "Lisbon"}, `{"deal":{"fields":[{"customFieldId":17,"fieldValue":"Lisbon"}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewBuilder().Build(context.Background(), eventJob(t, tt.et, tt.payload))
			require.NoError(t, err)
			assert.Equal(t, http.MethodPut, req.Method)
			assert.Equal(t, "/api/3/deals/88", req.Path)
			assert.JSONEq(t, tt.want, body(t, req.Body))
		})
	}
}

func TestBuild_Errors(t *testing.T) {
	b := NewBuilder()

	_, err := b.Build(context.Background(), models.Job{})
	require.ErrorIs(t, err, ErrNoEvent)

	_, err = b.Build(context.Background(), eventJob(t, models.EventStageChange, models.EventPayload{StageID: "x"}))
	require.ErrorIs(t, err, ErrUnmappedStage)

	_, err = b.Build(context.Background(), eventJob(t, models.EventFieldUpdate, models.EventPayload{Field: "x", ExternalField: "custom-x"}))
	require.ErrorIs(t, err, ErrUnsupportedKey)

	j := eventJob(t, models.EventWon, models.EventPayload{})
	j.Event.ExternalID = ""
	_, err = b.Build(context.Background(), j)
	require.ErrorIs(t, err, ErrNoExternalID)
}

func TestReference(t *testing.T) {
	id, _ := NewBuilder().Reference([]byte(`{"deal":{"id":"88","stage":"5"}}`))
	assert.Equal(t, "88", id)

	id, _ = NewBuilder().Reference([]byte(`{"deal":{"id":91}}`))
	assert.Equal(t, "91", id)

	id, _ = NewBuilder().Reference([]byte(`not json`))
	assert.Empty(t, id)
}
