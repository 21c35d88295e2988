package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Guizzs26/go-crm-sync/internal/mapper"
	"github.com/Guizzs26/go-crm-sync/internal/models"
)

// CardColumns are the card columns a mutation may write
var CardColumns = []string{"title", "pipeline_id", "stage_id", "owner_id", "status", "fields", "updated_at"}

var builder = mapper.NewSQLBuilder(map[string][]string{
	"cards":    append([]string{"id"}, CardColumns...),
	"contacts": {"name", "surname", "email", "phone", "document"},
})

const cardColumns = `id, title, pipeline_id, stage_id, owner_id, status, integration_id, external_id, fields, updated_at`

func (s *Store) getCard(ctx context.Context, id string, lock bool) (models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var (
		c      models.Card
		fields []byte
	)
	err := s.q.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.Title,
		&c.PipelineID,
		&c.StageID,
		&c.OwnerID,
		&c.Status,
		&c.IntegrationID,
		&c.ExternalID,
		&fields,
		&c.UpdatedAt,
	)
	if err != nil {
		return c, notFound(err)
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &c.Fields); err != nil {
			return c, fmt.Errorf("decode card fields: %w", err)
		}
	}
	return c, nil
}

// GetCard loads a card without locking it
func (s *Store) GetCard(ctx context.Context, id string) (models.Card, error) {
	return s.getCard(ctx, id, false)
}

// LockCard loads a card with SELECT ... FOR UPDATE
func (s *Store) LockCard(ctx context.Context, id string) (models.Card, error) {
	return s.getCard(ctx, id, true)
}

// UpdateCard writes the allow-listed columns of a card
func (s *Store) UpdateCard(ctx context.Context, id string, cols map[string]any) error {
	query, args, err := builder.BuildUpdate("cards", "id", id, cols)
	if err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertOutboundEvent enqueues a captured event
func (s *Store) InsertOutboundEvent(ctx context.Context, ev *models.OutboundEvent) error {
	log, err := json.Marshal(ev.AttemptsLog)
	if err != nil {
		return fmt.Errorf("encode attempts log: %w", err)
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO outbound_events (id, source_system_id, card_id, external_id, idempotency_key, event_type,
			payload, status, attempts, max_attempts, attempts_log, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, ev.ID, ev.SourceSystemID, ev.CardID, ev.ExternalID, ev.IdempotencyKey, string(ev.EventType),
		[]byte(ev.Payload), string(ev.Status), ev.Attempts, ev.MaxAttempts, log, ev.CreatedAt, ev.UpdatedAt)
	return err
}

// CardParties loads the main contact and the owner used as sale payer and agent
func (s *Store) CardParties(ctx context.Context, cardID string) (payer, agent *models.Party, err error) {
	var (
		contactID, name, surname, email, phone, document *string
		ownerID, ownerName, ownerEmail                   *string
	)
	err = s.q.QueryRow(ctx, `
		SELECT ct.id::text, ct.name, ct.surname, ct.email, ct.phone, ct.document,
		       p.id, p.name, p.email
		FROM cards c
		LEFT JOIN contacts ct ON ct.id = c.contact_id
		LEFT JOIN profiles p ON p.id = c.owner_id
		WHERE c.id = $1
	`, cardID).Scan(&contactID, &name, &surname, &email, &phone, &document, &ownerID, &ownerName, &ownerEmail)
	if err != nil {
		return nil, nil, notFound(err)
	}

	if contactID != nil {
		payer = &models.Party{
			ID:       *contactID,
			Name:     deref(name),
			Surname:  deref(surname),
			Email:    deref(email),
			Phone:    deref(phone),
			Document: deref(document),
		}
	}
	if ownerID != nil {
		agent = &models.Party{ID: *ownerID, Name: deref(ownerName), Email: deref(ownerEmail)}
	}
	return payer, agent, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
