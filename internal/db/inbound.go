package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/jackc/pgx/v5"
)

const instanceColumns = `id::text, provider, external_id, name, is_primary, is_active, last_event_at`

func scanInstance(row pgx.Row) (models.Instance, error) {
	var (
		i        models.Instance
		provider string
	)
	err := row.Scan(&i.ID, &provider, &i.ExternalID, &i.Name, &i.IsPrimary, &i.IsActive, &i.LastEventAt)
	i.Provider = models.Provider(provider)
	return i, notFound(err)
}

// FindInstance looks an active instance up by its id or provider-side id
func (s *Store) FindInstance(ctx context.Context, ref string) (models.Instance, error) {
	return scanInstance(s.q.QueryRow(ctx, `
		SELECT `+instanceColumns+` FROM instances
		WHERE is_active AND (id::text = $1 OR external_id = $1)
		ORDER BY is_primary DESC
		LIMIT 1
	`, ref))
}

// PrimaryInstance returns the primary active instance of a provider
func (s *Store) PrimaryInstance(ctx context.Context, provider models.Provider) (models.Instance, error) {
	return scanInstance(s.q.QueryRow(ctx, `
		SELECT `+instanceColumns+` FROM instances
		WHERE provider = $1 AND is_primary AND is_active
	`, string(provider)))
}

// TouchInstance records the last webhook activity
func (s *Store) TouchInstance(ctx context.Context, id string, at time.Time) error {
	_, err := s.q.Exec(ctx, `UPDATE instances SET last_event_at = $2 WHERE id::text = $1`, id, at)
	return err
}

// MessageExists reports whether an (instance, external id) pair is already stored
func (s *Store) MessageExists(ctx context.Context, instanceID, externalID string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM messages WHERE instance_id::text = $1 AND external_id = $2)
	`, instanceID, externalID).Scan(&exists)
	return exists, err
}

// ContactByPhone finds a contact by normalized phone
func (s *Store) ContactByPhone(ctx context.Context, phone string) (models.Contact, error) {
	var c models.Contact
	err := s.q.QueryRow(ctx, `
		SELECT id::text, name, phone, created_at FROM contacts WHERE phone = $1
	`, phone).Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt)
	return c, notFound(err)
}

// CreateContact inserts a contact; a concurrent insert of the same phone returns the existing row
func (s *Store) CreateContact(ctx context.Context, name, phone string) (models.Contact, error) {
	query, args, err := builder.BuildInsert("contacts", map[string]any{"name": name, "phone": phone})
	if err != nil {
		return models.Contact{}, err
	}
	query += ` ON CONFLICT (phone) WHERE phone IS NOT NULL DO NOTHING RETURNING id::text, created_at`

	c := models.Contact{Name: name, Phone: phone}
	err = s.q.QueryRow(ctx, query, args...).Scan(&c.ID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.ContactByPhone(ctx, phone)
	}
	if err != nil {
		return c, fmt.Errorf("insert contact: %w", err)
	}
	return c, nil
}

// UpsertConversation returns the (contact, instance) conversation, bumping its activity
func (s *Store) UpsertConversation(ctx context.Context, contactID, instanceID string, at time.Time) (models.Conversation, error) {
	c := models.Conversation{ContactID: contactID, InstanceID: instanceID}
	err := s.q.QueryRow(ctx, `
		INSERT INTO conversations (contact_id, instance_id, last_activity_at)
		VALUES ($1::uuid, $2::uuid, $3)
		ON CONFLICT (contact_id, instance_id)
		DO UPDATE SET last_activity_at = GREATEST(conversations.last_activity_at, EXCLUDED.last_activity_at)
		RETURNING id::text, last_activity_at
	`, contactID, instanceID, at).Scan(&c.ID, &c.LastActivityAt)
	if err != nil {
		return c, fmt.Errorf("upsert conversation: %w", err)
	}
	return c, nil
}

// InsertMessage stores a message. Concurrent duplicates collapse and report false
func (s *Store) InsertMessage(ctx context.Context, m *models.Message) (bool, error) {
	metadata := []byte(m.Metadata)
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	tag, err := s.q.Exec(ctx, `
		INSERT INTO messages (id, instance_id, conversation_id, contact_id, external_id, event_type, direction,
			type, body, media_url, metadata, sent_at, created_at)
		VALUES ($1, $2::uuid, $3::uuid, $4::uuid, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (instance_id, external_id) DO NOTHING
	`, m.ID, m.InstanceID, m.ConversationID, m.ContactID, m.ExternalID, m.EventType, string(m.Direction),
		m.Type, m.Body, m.MediaURL, metadata, m.SentAt, m.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordIngestFailure keeps a failed delivery for later inspection
func (s *Store) RecordIngestFailure(ctx context.Context, provider, reason string, payload []byte) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO ingest_failures (provider, reason, payload) VALUES ($1, $2, $3)
	`, provider, reason, string(payload))
	return err
}
