package inbound

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-crm-sync/internal/db"
	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/Guizzs26/go-crm-sync/internal/service"
	"github.com/Guizzs26/go-crm-sync/pkg/encoding"
	"github.com/Guizzs26/go-crm-sync/pkg/metrics"
	"github.com/google/uuid"
)

var (
	ErrInvalidPhone        = errors.New("invalid phone number")
	ErrContactNotFound     = errors.New("contact not found and auto-create is disabled")
	ErrUnknownInstance     = errors.New("no instance matches the payload")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrMalformedPayload    = errors.New("malformed payload")

	// errDuplicate rolls back a delivery that lost the insert race
	errDuplicate = errors.New("duplicate message")
)

// Store is the persistence used by ingestion
type Store interface {
	SyncSettings(ctx context.Context) (models.SyncSettings, error)
	FindInstance(ctx context.Context, ref string) (models.Instance, error)
	PrimaryInstance(ctx context.Context, provider models.Provider) (models.Instance, error)
	TouchInstance(ctx context.Context, id string, at time.Time) error
	MessageExists(ctx context.Context, instanceID, externalID string) (bool, error)
	ContactByPhone(ctx context.Context, phone string) (models.Contact, error)
	CreateContact(ctx context.Context, name, phone string) (models.Contact, error)
	UpsertConversation(ctx context.Context, contactID, instanceID string, at time.Time) (models.Conversation, error)
	InsertMessage(ctx context.Context, m *models.Message) (bool, error)
	RecordIngestFailure(ctx context.Context, provider, reason string, payload []byte) error
}

// Notifier is told about every stored message
type Notifier interface {
	NotifyMessage(ctx context.Context, m models.Message) error
}

// Result summarises one webhook delivery
type Result struct {
	Accepted   bool            `json:"accepted"`
	Paused     bool            `json:"paused,omitempty"`
	Provider   models.Provider `json:"provider"`
	Received   int             `json:"received"`
	Inserted   int             `json:"inserted"`
	Duplicates int             `json:"duplicates"`
	MessageIDs []string        `json:"message_ids"`
}

type Service struct {
	store          Store
	tx             service.TxRunner[Store]
	defaultCountry string
	notifier       Notifier
	logger         *slog.Logger
	now            func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, tx service.TxRunner[Store], defaultCountry string, l *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:          store,
		tx:             tx,
		defaultCountry: defaultCountry,
		logger:         l,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Decode parses a webhook body into payload objects. Arrays are batches.
func Decode(raw []byte) ([]map[string]any, error) {
	raw = bytes.TrimSpace(encoding.ToUTF8(raw))
	if len(raw) > 0 && raw[0] == '[' {
		var batch []map[string]any
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return batch, nil
	}
	var one map[string]any
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return []map[string]any{one}, nil
}

// Ingest stores every new message of a webhook delivery. provider may be
// empty, in which case it is inferred from the payload shape. Per-message
// failures do not stop the batch and are returned joined.
func (s *Service) Ingest(ctx context.Context, provider string, raw []byte) (Result, error) {
	start := time.Now()
	items, err := Decode(raw)
	if err != nil {
		return Result{}, err
	}

	res := Result{Received: len(items), MessageIDs: []string{}}
	if len(items) == 0 {
		return res, nil
	}

	var parser Parser
	if provider == "" {
		parser = registry[Detect(items[0])]
	} else if parser, err = Lookup(provider); err != nil {
		return res, err
	}
	res.Provider = parser.Provider()
	logger := s.logger.With("provider", res.Provider)

	settings, err := s.store.SyncSettings(ctx)
	if err != nil {
		return res, fmt.Errorf("load settings: %w", err)
	}
	if !settings.InboundEnabled {
		logger.Info("Inbound ingestion paused, delivery ignored", "received", res.Received)
		res.Paused = true
		return res, nil
	}

	var (
		errs    []error
		touched = map[string]bool{}
	)
	for _, obj := range items {
		msg, inserted, err := s.ingestOne(ctx, parser, obj, settings)
		switch {
		case err != nil:
			metrics.InboundMessages.WithLabelValues(string(res.Provider), "error").Inc()
			logger.Warn("Failed to ingest message", "error", err)
			errs = append(errs, err)
			continue
		case !inserted:
			metrics.InboundMessages.WithLabelValues(string(res.Provider), "duplicate").Inc()
			res.Duplicates++
		default:
			metrics.InboundMessages.WithLabelValues(string(res.Provider), "inserted").Inc()
			res.Inserted++
			res.MessageIDs = append(res.MessageIDs, msg.ID)
			s.notify(ctx, logger, msg)
		}
		touched[msg.InstanceID] = true
	}

	for id := range touched {
		if err := s.store.TouchInstance(ctx, id, s.now()); err != nil {
			logger.Warn("Failed to touch instance", "instance_id", id, "error", err)
		}
	}

	res.Accepted = res.Inserted > 0
	status := "ok"
	if len(errs) > 0 {
		status = "error"
	}
	metrics.IngestDuration.WithLabelValues(string(res.Provider), status).Observe(time.Since(start).Seconds())
	logger.Info("Webhook ingested", "received", res.Received, "inserted", res.Inserted, "duplicates", res.Duplicates, "errors", len(errs))
	return res, errors.Join(errs...)
}

func (s *Service) ingestOne(ctx context.Context, parser Parser, obj map[string]any, settings models.SyncSettings) (models.Message, bool, error) {
	env, err := parser.Parse(obj)
	if err != nil {
		return models.Message{}, false, err
	}

	inst, err := s.resolveInstance(ctx, parser.Provider(), env, obj)
	if err != nil {
		return models.Message{}, false, err
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return models.Message{}, false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	externalID := env.MessageID
	if externalID == "" {
		sum := sha256.Sum256(raw)
		externalID = "sha256:" + hex.EncodeToString(sum[:])
	}

	msg := models.Message{InstanceID: inst.ID, ExternalID: externalID}
	exists, err := s.store.MessageExists(ctx, inst.ID, externalID)
	if err != nil {
		return msg, false, fmt.Errorf("check duplicate: %w", err)
	}
	if exists {
		return msg, false, nil
	}

	phone, err := NormalizePhone(env.Phone, s.defaultCountry)
	if err != nil {
		return msg, false, err
	}

	now := s.now()
	sentAt := env.SentAt
	if sentAt.IsZero() {
		sentAt = now
	}
	direction := models.DirectionInbound
	if env.FromMe {
		direction = models.DirectionOutbound
	}
	kind := env.Type
	if kind == "" {
		kind = "text"
	}

	msg = models.Message{
		ID:         uuid.NewString(),
		InstanceID: inst.ID,
		ExternalID: externalID,
		EventType:  env.EventType,
		Direction:  direction,
		Type:       kind,
		Body:       env.Body,
		MediaURL:   env.MediaURL,
		Metadata:   raw,
		SentAt:     sentAt,
		CreatedAt:  now,
	}

	err = s.tx(ctx, func(st Store) error {
		contact, err := st.ContactByPhone(ctx, phone)
		if errors.Is(err, db.ErrNotFound) {
			if !settings.AutoCreateContacts {
				return fmt.Errorf("%w: %s", ErrContactNotFound, phone)
			}
			name := env.Name
			if name == "" {
				name = phone
			}
			contact, err = st.CreateContact(ctx, name, phone)
		}
		if err != nil {
			return fmt.Errorf("resolve contact: %w", err)
		}

		conv, err := st.UpsertConversation(ctx, contact.ID, inst.ID, sentAt)
		if err != nil {
			return err
		}
		msg.ContactID = contact.ID
		msg.ConversationID = conv.ID

		inserted, err := st.InsertMessage(ctx, &msg)
		if err != nil {
			return err
		}
		if !inserted {
			return errDuplicate
		}
		return nil
	})
	if errors.Is(err, errDuplicate) {
		return msg, false, nil
	}
	return msg, err == nil, err
}

// resolveInstance tries the payload's explicit instance, then the provider's
// primary instance, then the primary of the provider the shape suggests.
func (s *Service) resolveInstance(ctx context.Context, provider models.Provider, env Envelope, obj map[string]any) (models.Instance, error) {
	if env.InstanceRef != "" {
		inst, err := s.store.FindInstance(ctx, env.InstanceRef)
		if err == nil {
			return inst, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return inst, fmt.Errorf("find instance: %w", err)
		}
	}

	candidates := []models.Provider{provider}
	if guessed := Detect(obj); guessed != provider {
		candidates = append(candidates, guessed)
	}
	for _, p := range candidates {
		inst, err := s.store.PrimaryInstance(ctx, p)
		if err == nil {
			return inst, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return inst, fmt.Errorf("primary instance: %w", err)
		}
	}
	return models.Instance{}, fmt.Errorf("%w: provider %s, instance %q", ErrUnknownInstance, provider, env.InstanceRef)
}

func (s *Service) notify(ctx context.Context, logger *slog.Logger, m models.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyMessage(ctx, m); err != nil {
		logger.Warn("Failed to publish message notification", "message_id", m.ID, "error", err)
	}
}

// RecordFailure persists a delivery that could not be ingested
func (s *Service) RecordFailure(ctx context.Context, provider string, cause error, raw []byte) {
	if err := s.store.RecordIngestFailure(ctx, provider, cause.Error(), raw); err != nil {
		s.logger.Error("Failed to record ingest failure", "provider", provider, "cause", cause, "error", err)
	}
}
