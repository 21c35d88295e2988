package inbound

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"testing"
	"time"

	"github.com/Guizzs26/go-crm-sync/internal/db"
	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	settings  models.SyncSettings
	instances []models.Instance
	contacts  map[string]models.Contact
	messages  map[string]models.Message
	convs     map[string]models.Conversation
	touched   map[string]time.Time
	failures  []string
	notified  []string
}

func newMemStore() *memStore {
	return &memStore{
		settings: models.SyncSettings{InboundEnabled: true, AutoCreateContacts: true},
		instances: []models.Instance{
			{ID: "i-chat", Provider: models.ProviderChatPro, ExternalID: "chat-ext", IsPrimary: true, IsActive: true},
			{ID: "i-echo", Provider: models.ProviderEcho, ExternalID: "echo-ext", IsPrimary: true, IsActive: true},
		},
		contacts: map[string]models.Contact{},
		messages: map[string]models.Message{},
		convs:    map[string]models.Conversation{},
		touched:  map[string]time.Time{},
	}
}

func (s *memStore) runner(ctx context.Context, fn func(Store) error) error { return fn(s) }

func (s *memStore) SyncSettings(context.Context) (models.SyncSettings, error) { return s.settings, nil }

func (s *memStore) FindInstance(_ context.Context, ref string) (models.Instance, error) {
	for _, i := range s.instances {
		if i.ID == ref || i.ExternalID == ref {
			return i, nil
		}
	}
	return models.Instance{}, db.ErrNotFound
}

func (s *memStore) PrimaryInstance(_ context.Context, p models.Provider) (models.Instance, error) {
	for _, i := range s.instances {
		if i.Provider == p && i.IsPrimary {
			return i, nil
		}
	}
	return models.Instance{}, db.ErrNotFound
}

func (s *memStore) TouchInstance(_ context.Context, id string, at time.Time) error {
	s.touched[id] = at
	return nil
}

func (s *memStore) MessageExists(_ context.Context, instanceID, externalID string) (bool, error) {
	_, ok := s.messages[instanceID+"/"+externalID]
	return ok, nil
}

func (s *memStore) ContactByPhone(_ context.Context, phone string) (models.Contact, error) {
	c, ok := s.contacts[phone]
	if !ok {
		return c, db.ErrNotFound
	}
	return c, nil
}

func (s *memStore) CreateContact(_ context.Context, name, phone string) (models.Contact, error) {
	c := models.Contact{ID: "ct-" + phone, Name: name, Phone: phone}
	s.contacts[phone] = c
	return c, nil
}

func (s *memStore) UpsertConversation(_ context.Context, contactID, instanceID string, at time.Time) (models.Conversation, error) {
	key := contactID + "/" + instanceID
	c, ok := s.convs[key]
	if !ok {
		c = models.Conversation{ID: "cv-" + key, ContactID: contactID, InstanceID: instanceID}
	}
	if at.After(c.LastActivityAt) {
		c.LastActivityAt = at
	}
	s.convs[key] = c
	return c, nil
}

func (s *memStore) InsertMessage(_ context.Context, m *models.Message) (bool, error) {
	key := m.InstanceID + "/" + m.ExternalID
	if _, ok := s.messages[key]; ok {
		return false, nil
	}
	s.messages[key] = *m
	return true, nil
}

func (s *memStore) RecordIngestFailure(_ context.Context, _, reason string, _ []byte) error {
	s.failures = append(s.failures, reason)
	return nil
}

func (s *memStore) NotifyMessage(_ context.Context, m models.Message) error {
	s.notified = append(s.notified, m.ID)
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(s *memStore) *Service {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(s, s.runner, "55", l, WithNotifier(s), WithClock(func() time.Time { return fixedNow }))
}

const chatProPayload = `{"body":{"message_data":{"id":"M1","number":"11999998888","notify_name":"Ana","type":"chat","body":"oi"}}}`

func TestIngest_StoresMessage(t *testing.T) {
	store := newMemStore()
	res, err := newService(store).Ingest(context.Background(), "chatpro", []byte(chatProPayload))
	require.NoError(t, err)

	assert.True(t, res.Accepted)
	assert.Equal(t, models.ProviderChatPro, res.Provider)
	assert.Equal(t, 1, res.Inserted)
	require.Len(t, res.MessageIDs, 1)

	msg := store.messages["i-chat/M1"]
	assert.Equal(t, models.DirectionInbound, msg.Direction)
	assert.Equal(t, "ct-5511999998888", msg.ContactID)
	assert.Equal(t, "oi", msg.Body)
	assert.JSONEq(t, chatProPayload, string(msg.Metadata))
	assert.Equal(t, "Ana", store.contacts["5511999998888"].Name)
	assert.Equal(t, fixedNow, store.touched["i-chat"])
	assert.Equal(t, res.MessageIDs, store.notified)
}

func TestIngest_IdenticalPayloadTwiceStoresOnce(t *testing.T) {
	store := newMemStore()
	svc := newService(store)
	payload := []byte(`{"message_data":{"number":"11999998888","body":"no id here"}}`)

	first, err := svc.Ingest(context.Background(), "chatpro", payload)
	require.NoError(t, err)
	second, err := svc.Ingest(context.Background(), "chatpro", payload)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Inserted)
	assert.False(t, second.Accepted)
	assert.Equal(t, 1, second.Duplicates)
	assert.Len(t, store.messages, 1)
}

func TestIngest_DetectsChatProBatch(t *testing.T) {
	store := newMemStore()
	payload := `[
		{"message_data":{"id":"M1","number":"11999998888","body":"a"}},
		{"message_data":{"id":"M2","number":"11999998888","body":"b","from_me":true}},
		{"message_data":{"id":"M1","number":"11999998888","body":"a"}}
	]`
	res, err := newService(store).Ingest(context.Background(), "", []byte(payload))
	require.NoError(t, err)

	assert.Equal(t, models.ProviderChatPro, res.Provider)
	assert.Equal(t, 3, res.Received)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, models.DirectionOutbound, store.messages["i-chat/M2"].Direction)
	assert.Len(t, store.convs, 1)
}

func TestIngest_EchoEventQualifiedIDs(t *testing.T) {
	store := newMemStore()
	payload := `[
		{"event":"message","data":{"whatsapp_message_id":"w1","phone":"11999998888","text":"a"}},
		{"event":"delivered","data":{"whatsapp_message_id":"w1","phone":"11999998888"}},
		{"event":"message","data":{"whatsapp_message_id":"w1","phone":"11999998888","text":"a"}}
	]`
	res, err := newService(store).Ingest(context.Background(), "", []byte(payload))
	require.NoError(t, err)

	assert.Equal(t, models.ProviderEcho, res.Provider)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Duplicates)
	assert.Contains(t, store.messages, "i-echo/message:w1")
	assert.Contains(t, store.messages, "i-echo/delivered:w1")
}

func TestIngest_ExplicitInstanceWins(t *testing.T) {
	store := newMemStore()
	store.instances = append(store.instances, models.Instance{ID: "i-chat-2", Provider: models.ProviderChatPro, ExternalID: "second", IsActive: true})

	payload := `{"instance_id":"second","message_data":{"id":"M9","number":"11999998888"}}`
	_, err := newService(store).Ingest(context.Background(), "chatpro", []byte(payload))
	require.NoError(t, err)
	assert.Contains(t, store.messages, "i-chat-2/M9")
}

func TestIngest_Errors(t *testing.T) {
	t.Run("malformed json", func(t *testing.T) {
		_, err := newService(newMemStore()).Ingest(context.Background(), "chatpro", []byte(`{nope`))
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("unsupported provider", func(t *testing.T) {
		_, err := newService(newMemStore()).Ingest(context.Background(), "telegram", []byte(chatProPayload))
		assert.ErrorIs(t, err, ErrUnsupportedProvider)
	})

	t.Run("invalid phone", func(t *testing.T) {
		store := newMemStore()
		_, err := newService(store).Ingest(context.Background(), "chatpro", []byte(`{"message_data":{"id":"x","number":"123"}}`))
		assert.ErrorIs(t, err, ErrInvalidPhone)
		assert.Empty(t, store.messages)
	})

	t.Run("contact not found", func(t *testing.T) {
		store := newMemStore()
		store.settings.AutoCreateContacts = false
		_, err := newService(store).Ingest(context.Background(), "chatpro", []byte(chatProPayload))
		assert.ErrorIs(t, err, ErrContactNotFound)
		assert.Empty(t, store.messages)
	})

	t.Run("unknown instance", func(t *testing.T) {
		store := newMemStore()
		store.instances = nil
		_, err := newService(store).Ingest(context.Background(), "chatpro", []byte(chatProPayload))
		assert.ErrorIs(t, err, ErrUnknownInstance)
	})
}

func TestIngest_PausedIgnoresDelivery(t *testing.T) {
	store := newMemStore()
	store.settings.InboundEnabled = false

	res, err := newService(store).Ingest(context.Background(), "chatpro", []byte(chatProPayload))
	require.NoError(t, err)
	assert.True(t, res.Paused)
	assert.False(t, res.Accepted)
	assert.Empty(t, store.messages)
}

func TestRecordFailure(t *testing.T) {
	store := newMemStore()
	newService(store).RecordFailure(context.Background(), "chatpro", ErrInvalidPhone, []byte(`{}`))
	assert.Equal(t, []string{ErrInvalidPhone.Error()}, store.failures)
}

// racingStore reports every message as new, like a delivery that read before a
// concurrent twin committed, and rolls writes back when the tx callback fails.
type racingStore struct {
	*memStore
}

func (s racingStore) MessageExists(context.Context, string, string) (bool, error) { return false, nil }

func (s racingStore) runner(ctx context.Context, fn func(Store) error) error {
	contacts := maps.Clone(s.contacts)
	convs := maps.Clone(s.convs)
	if err := fn(s); err != nil {
		s.contacts = contacts
		s.convs = convs
		return err
	}
	return nil
}

func TestIngest_LostInsertRaceHasNoSideEffects(t *testing.T) {
	store := newMemStore()
	store.messages["i-chat/M1"] = models.Message{ID: "winner", InstanceID: "i-chat", ExternalID: "M1"}
	racing := racingStore{store}

	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(racing, racing.runner, "55", l, WithNotifier(store), WithClock(func() time.Time { return fixedNow }))

	res, err := svc.Ingest(context.Background(), "chatpro", []byte(chatProPayload))
	require.NoError(t, err)

	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 1, res.Duplicates)
	assert.Empty(t, store.contacts)
	assert.Empty(t, store.convs)
	assert.Empty(t, store.notified)
	assert.Equal(t, "winner", store.messages["i-chat/M1"].ID)
}
