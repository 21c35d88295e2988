package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Guizzs26/go-crm-sync/internal/db"
	"github.com/Guizzs26/go-crm-sync/internal/inbound"
	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/Guizzs26/go-crm-sync/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func do(t *testing.T, r http.Handler, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

type fakeIngester struct {
	provider string
	err      error
	failures []string
}

func (f *fakeIngester) Ingest(_ context.Context, provider string, _ []byte) (inbound.Result, error) {
	f.provider = provider
	return inbound.Result{Accepted: f.err == nil, Provider: models.ProviderChatPro, Received: 1}, f.err
}

func (f *fakeIngester) RecordFailure(_ context.Context, provider string, cause error, _ []byte) {
	f.failures = append(f.failures, provider+": "+cause.Error())
}

func TestWebhook_AlwaysAcknowledgesValidJSON(t *testing.T) {
	ing := &fakeIngester{err: inbound.ErrInvalidPhone}
	r := NewRouter(Handlers{Webhook: NewWebhookHandler(ing, discard())}, discard())

	w, body := do(t, r, http.MethodPost, "/webhook/chatpro", `{"message_data":{}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["accepted"])
	assert.Equal(t, []string{"chatpro: " + inbound.ErrInvalidPhone.Error()}, ing.failures)
}

func TestWebhook_ProviderFromQuery(t *testing.T) {
	ing := &fakeIngester{}
	r := NewRouter(Handlers{Webhook: NewWebhookHandler(ing, discard())}, discard())

	w, body := do(t, r, http.MethodPost, "/webhook?provider=echo", `[{"data":{}}]`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, "echo", ing.provider)
}

func TestWebhook_RejectsBadInput(t *testing.T) {
	r := NewRouter(Handlers{Webhook: NewWebhookHandler(&fakeIngester{}, discard())}, discard())

	w, _ := do(t, r, http.MethodPost, "/webhook/chatpro", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodPost, "/webhook/telegram", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type fakeQueue struct {
	events   []models.OutboundEvent
	status   models.Status
	limit    int
	replayed string
	err      error
}

func (f *fakeQueue) List(_ context.Context, status models.Status, limit int) ([]models.OutboundEvent, error) {
	f.status, f.limit = status, limit
	return f.events, nil
}

func (f *fakeQueue) Get(_ context.Context, id string) (models.OutboundEvent, error) {
	for _, e := range f.events {
		if e.ID == id {
			return e, nil
		}
	}
	return models.OutboundEvent{}, db.ErrNotFound
}

func (f *fakeQueue) Replay(_ context.Context, _ models.JobKind, id string) error {
	if f.err != nil {
		return f.err
	}
	f.replayed = id
	return nil
}

type noSales struct{}

func (noSales) List(context.Context, models.Status, int) ([]models.Sale, error) { return nil, nil }
func (noSales) Get(context.Context, string) (models.Sale, error)                { return models.Sale{}, db.ErrNotFound }

func TestQueue_ListAndReplay(t *testing.T) {
	q := &fakeQueue{events: []models.OutboundEvent{{ID: "e1", Status: models.StatusFailed}}}
	r := NewRouter(Handlers{Queue: NewQueueHandler(q, noSales{}, q)}, discard())

	w, body := do(t, r, http.MethodGet, "/api/v1/queue/event?status=failed&limit=5000", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusFailed, q.status)
	assert.Equal(t, maxListLimit, q.limit)
	assert.Len(t, body["items"], 1)

	w, _ = do(t, r, http.MethodGet, "/api/v1/queue/event?status=weird", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/v1/queue/invoice", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/v1/queue/sale/s1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/queue/event/e1/replay", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "e1", q.replayed)

	q.err = db.ErrNotReplayable
	w, _ = do(t, r, http.MethodPost, "/api/v1/queue/event/e1/replay", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

type fakeSales struct{ err error }

func (f fakeSales) Create(_ context.Context, in service.CreateSaleInput) (*models.Sale, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Sale{ID: "s1", CardID: in.CardID, Status: models.StatusPending}, nil
}

func TestSales_Create(t *testing.T) {
	tests := []struct {
		name string
		err  error
		body string
		want int
	}{
		{"created", nil, `{"card_id":"c1"}`, http.StatusCreated},
		{"conflict", &service.ConflictError{Artifacts: []service.SoldArtifact{{Label: "Hotel"}}}, `{}`, http.StatusConflict},
		{"invalid", service.ErrInvalidSale, `{}`, http.StatusBadRequest},
		{"bad json", nil, `[`, http.StatusBadRequest},
		{"card missing", db.ErrNotFound, `{}`, http.StatusNotFound},
		{"store down", errors.New("boom"), `{}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(Handlers{Sales: NewSalesHandler(fakeSales{err: tt.err})}, discard())
			w, _ := do(t, r, http.MethodPost, "/api/v1/sales", tt.body)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

type fakeCards struct{ origin models.Origin }

func (f *fakeCards) Update(_ context.Context, id string, patch service.CardPatch, origin models.Origin) (models.Card, []models.OutboundEvent, error) {
	f.origin = origin
	if patch.Empty() {
		return models.Card{}, nil, service.ErrInvalidPatch
	}
	return models.Card{ID: id, StageID: *patch.StageID}, nil, nil
}

func TestCards_UpdatePassesOrigin(t *testing.T) {
	cards := &fakeCards{}
	r := NewRouter(Handlers{Cards: NewCardHandler(cards)}, discard())

	w, body := do(t, r, http.MethodPatch, "/api/v1/cards/c1", `{"stage_id":"B"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.OriginUser, cards.origin)
	assert.Equal(t, []any{}, body["events"])

	w, _ = do(t, r, http.MethodPatch, "/api/v1/cards/c1", `{"stage_id":"B"}`, OriginHeader, "sync")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.OriginSync, cards.origin)

	w, _ = do(t, r, http.MethodPatch, "/api/v1/cards/c1", `{"stage_id":"B"}`, OriginHeader, "robot")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodPatch, "/api/v1/cards/c1", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type memSettings struct {
	s    models.SyncSettings
	sets map[string]any
}

func (m *memSettings) SyncSettings(context.Context) (models.SyncSettings, error) { return m.s, nil }

func (m *memSettings) SetSetting(_ context.Context, key string, v any) error {
	m.sets[key] = v
	if key == models.SettingShadowMode {
		m.s.ShadowMode = v.(bool)
	}
	return nil
}

func TestSettings(t *testing.T) {
	store := &memSettings{s: models.SyncSettings{ShadowMode: true}, sets: map[string]any{}}
	r := NewRouter(Handlers{Settings: NewSettingsHandler(store)}, discard())

	w, body := do(t, r, http.MethodGet, "/api/v1/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["shadow_mode"])

	w, body = do(t, r, http.MethodPut, "/api/v1/settings", `{"shadow_mode":false,"allowed_event_types":["won"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["shadow_mode"])
	assert.Equal(t, []models.EventType{models.EventWon}, store.sets[models.SettingAllowedEventTypes])

	w, _ = do(t, r, http.MethodPut, "/api/v1/settings", `{"shadow_mode":"yes"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodPut, "/api/v1/settings", `{"allowed_event_types":["deleted"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodPut, "/api/v1/settings", `{"colour":"red"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealthAndMetrics(t *testing.T) {
	r := NewRouter(Handlers{Health: pinger{}}, discard())
	w, _ := do(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)

	r = NewRouter(Handlers{Health: pinger{err: errors.New("db down")}}, discard())
	w, _ = do(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
