package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrNotReplayable = errors.New("item is not in a replayable status")
	ErrNotClaimed    = errors.New("item is no longer in processing")
)

// queueTable holds the statements shared by outbound_events and sales
type queueTable struct {
	repo  *PostgresRepository
	table string
	kind  models.JobKind
}

func (q queueTable) claimWhere() string {
	return fmt.Sprintf(`
		UPDATE %[1]s SET status = 'processing', claim_id = $3, updated_at = now()
		WHERE id IN (
			SELECT id FROM %[1]s
			WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= $1)
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, q.table)
}

// Release returns claimed-but-unstarted items to pending without touching attempts
func (q queueTable) Release(ctx context.Context, claimID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.repo.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET status = 'pending', claim_id = NULL, updated_at = now()
		WHERE id::text = ANY($1) AND status = 'processing' AND claim_id::text = $2
	`, q.table), ids, claimID)
	if err != nil {
		return fmt.Errorf("release %s: %w", q.table, err)
	}
	return nil
}

// Heartbeat marks a claimed item as being worked on right now, so the janitor
// leaves it alone. ErrNotClaimed means the claim was lost and the item must not be sent.
func (q queueTable) Heartbeat(ctx context.Context, job models.Job) error {
	tag, err := q.repo.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET updated_at = now()
		WHERE id::text = $1 AND status = 'processing' AND claim_id::text = $2
	`, q.table), job.ID, job.ClaimID)
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", q.table, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

// ResetStale rescues rows left in processing by a crashed worker. Rows are
// stale once no heartbeat touched them for olderThan.
func (q queueTable) ResetStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := q.repo.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET status = 'pending', claim_id = NULL, updated_at = now()
		WHERE status = 'processing' AND updated_at < $1
	`, q.table), time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("reset stale %s: %w", q.table, err)
	}
	return tag.RowsAffected(), nil
}

// Counts returns the number of rows per status
func (q queueTable) Counts(ctx context.Context) (map[models.Status]int, error) {
	rows, err := q.repo.pool.Query(ctx, fmt.Sprintf(`SELECT status, count(*) FROM %s GROUP BY status`, q.table))
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", q.table, err)
	}
	defer rows.Close()

	out := map[models.Status]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[models.Status(status)] = n
	}
	return out, rows.Err()
}

// Replay resets a failed or shadow-sent item to a fresh pending state
func (q queueTable) Replay(ctx context.Context, id string) error {
	tag, err := q.repo.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = 'pending', attempts = 0, next_retry_at = NULL, error_message = '', claim_id = NULL, updated_at = now()
		WHERE id::text = $1 AND status IN ('failed', 'sent_shadow')
	`, q.table), id)
	if err != nil {
		return fmt.Errorf("replay %s: %w", q.table, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.repo.pool.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id::text = $1)`, q.table), id).Scan(&exists); err != nil {
		return fmt.Errorf("replay lookup: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrNotReplayable
}

func (q queueTable) Kind() models.JobKind { return q.kind }

// EventQueue serves outbound_events to the dispatch worker
type EventQueue struct {
	queueTable
}

func NewEventQueue(r *PostgresRepository) *EventQueue {
	return &EventQueue{queueTable{repo: r, table: "outbound_events", kind: models.JobEvent}}
}

const eventColumns = `id::text, source_system_id, card_id, external_id, idempotency_key::text, event_type, payload,
	status, attempts, max_attempts, next_retry_at, attempts_log, error_message, external_ref, response,
	created_at, updated_at`

func scanEvent(row pgx.Row) (models.OutboundEvent, error) {
	var (
		e         models.OutboundEvent
		eventType string
		status    string
		payload   []byte
		log       []byte
		response  []byte
	)
	err := row.Scan(
		&e.ID,
		&e.SourceSystemID,
		&e.CardID,
		&e.ExternalID,
		&e.IdempotencyKey,
		&eventType,
		&payload,
		&status,
		&e.Attempts,
		&e.MaxAttempts,
		&e.NextRetryAt,
		&log,
		&e.ErrorMessage,
		&e.ExternalRef,
		&response,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return e, err
	}
	e.EventType = models.EventType(eventType)
	e.Status = models.Status(status)
	e.Payload = payload
	e.Response = response
	if len(log) > 0 {
		if err := json.Unmarshal(log, &e.AttemptsLog); err != nil {
			return e, fmt.Errorf("decode attempts log: %w", err)
		}
	}
	return e, nil
}

// ClaimDue atomically moves up to limit due events to processing
func (q *EventQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	claimID := uuid.NewString()
	rows, err := q.repo.pool.Query(ctx, q.claimWhere()+` RETURNING `+eventColumns, now, limit, claimID)
	if err != nil {
		return nil, fmt.Errorf("claim events: %w", err)
	}
	defer rows.Close()

	var events []models.OutboundEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING does not keep the subquery order
	slices.SortFunc(events, func(a, b models.OutboundEvent) int { return a.CreatedAt.Compare(b.CreatedAt) })

	jobs := make([]models.Job, 0, len(events))
	for i := range events {
		e := &events[i]
		jobs = append(jobs, models.Job{
			ID:             e.ID,
			Kind:           models.JobEvent,
			ClaimID:        claimID,
			IdempotencyKey: e.IdempotencyKey,
			Attempts:       e.Attempts,
			MaxAttempts:    e.MaxAttempts,
			Log:            e.AttemptsLog,
			Event:          e,
		})
	}
	return jobs, nil
}

// Finish records the outcome of one attempt
func (q *EventQueue) Finish(ctx context.Context, job models.Job, t models.Transition) error {
	log, err := json.Marshal(t.Log)
	if err != nil {
		return fmt.Errorf("encode attempts log: %w", err)
	}
	tag, err := q.repo.pool.Exec(ctx, `
		UPDATE outbound_events
		SET status = $2, attempts = $3, next_retry_at = $4, attempts_log = $5, error_message = $6,
		    external_ref = COALESCE(NULLIF($7, ''), external_ref), response = COALESCE($8, response),
		    sent_at = COALESCE($9, sent_at), claim_id = NULL, updated_at = now()
		WHERE id::text = $1 AND status = 'processing' AND claim_id::text = $10
	`, job.ID, string(t.Status), t.Attempts, t.NextRetryAt, log, t.ErrorMessage, t.ExternalRef, nullJSON(t.Response), t.SentAt,
		job.ClaimID)
	if err != nil {
		return fmt.Errorf("finish event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

// List returns events filtered by status ("" for any), newest first
func (q *EventQueue) List(ctx context.Context, status models.Status, limit int) ([]models.OutboundEvent, error) {
	rows, err := q.repo.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM outbound_events
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []models.OutboundEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get loads a single event
func (q *EventQueue) Get(ctx context.Context, id string) (models.OutboundEvent, error) {
	e, err := scanEvent(q.repo.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM outbound_events WHERE id::text = $1`, id))
	return e, notFound(err)
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
