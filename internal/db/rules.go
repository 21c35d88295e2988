package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/jackc/pgx/v5"
)

const ruleColumns = `id::text, source_system_id, name, description, pipeline_ids, stage_ids, owner_ids,
	statuses, event_types, sync_field_mode, sync_fields, action_mode, priority, is_active, created_at`

// ActiveRules returns the active rules of a source in evaluation order
func (s *Store) ActiveRules(ctx context.Context, sourceSystemID string) ([]models.TriggerRule, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM trigger_rules
		WHERE source_system_id = $1 AND is_active
		ORDER BY priority ASC, created_at ASC
	`, sourceSystemID)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	return scanRules(rows)
}

// ListRules returns every rule, optionally filtered by source
func (s *Store) ListRules(ctx context.Context, sourceSystemID string) ([]models.TriggerRule, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM trigger_rules
		WHERE $1 = '' OR source_system_id = $1
		ORDER BY source_system_id, priority ASC, created_at ASC
	`, sourceSystemID)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	return scanRules(rows)
}

// ReplaceRules swaps the whole rule set of a source
func (s *Store) ReplaceRules(ctx context.Context, sourceSystemID string, rules []models.TriggerRule) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM trigger_rules WHERE source_system_id = $1`, sourceSystemID); err != nil {
		return fmt.Errorf("delete rules: %w", err)
	}
	for _, r := range rules {
		var eventTypes []string
		if r.EventTypes != nil {
			eventTypes = make([]string, 0, len(r.EventTypes))
			for _, t := range r.EventTypes {
				eventTypes = append(eventTypes, string(t))
			}
		}
		_, err := s.q.Exec(ctx, `
			INSERT INTO trigger_rules (source_system_id, name, description, pipeline_ids, stage_ids, owner_ids,
				statuses, event_types, sync_field_mode, sync_fields, action_mode, priority, is_active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, sourceSystemID, r.Name, r.Description, r.PipelineIDs, r.StageIDs, r.OwnerIDs,
			r.Statuses, eventTypes, string(r.SyncFieldMode), r.SyncFields, string(r.ActionMode),
			r.Priority, r.IsActive, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert rule %q: %w", r.Name, err)
		}
	}
	return nil
}

func scanRules(rows pgx.Rows) ([]models.TriggerRule, error) {
	defer rows.Close()

	var out []models.TriggerRule
	for rows.Next() {
		var (
			r          models.TriggerRule
			eventTypes []string
			fieldMode  string
			actionMode string
		)
		err := rows.Scan(
			&r.ID,
			&r.SourceSystemID,
			&r.Name,
			&r.Description,
			&r.PipelineIDs,
			&r.StageIDs,
			&r.OwnerIDs,
			&r.Statuses,
			&eventTypes,
			&fieldMode,
			&r.SyncFields,
			&actionMode,
			&r.Priority,
			&r.IsActive,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.SyncFieldMode = models.FieldSyncMode(fieldMode)
		r.ActionMode = models.ActionMode(actionMode)
		if eventTypes != nil {
			r.EventTypes = make([]models.EventType, 0, len(eventTypes))
			for _, t := range eventTypes {
				r.EventTypes = append(r.EventTypes, models.EventType(t))
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ExternalStageID resolves a local stage to the provider's stage id
func (s *Store) ExternalStageID(ctx context.Context, sourceSystemID, stageID string) (string, error) {
	var id string
	err := s.q.QueryRow(ctx, `
		SELECT external_stage_id FROM stage_mappings
		WHERE source_system_id = $1 AND stage_id = $2
	`, sourceSystemID, stageID).Scan(&id)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("query stage mapping: %w", err)
	}
	return id, nil
}

// ExternalFieldKey resolves a local field to the provider's field key
func (s *Store) ExternalFieldKey(ctx context.Context, sourceSystemID, field string) (string, error) {
	var key string
	err := s.q.QueryRow(ctx, `
		SELECT external_key FROM field_mappings
		WHERE source_system_id = $1 AND field = $2
	`, sourceSystemID, field).Scan(&key)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("query field mapping: %w", err)
	}
	return key, nil
}
