package models

import "time"

type FieldSyncMode string

const (
	FieldModeAll      FieldSyncMode = "all"
	FieldModeSelected FieldSyncMode = "selected"
	FieldModeExcluded FieldSyncMode = "excluded"
)

type ActionMode string

const (
	ActionAllow ActionMode = "allow"
	ActionBlock ActionMode = "block"
)

// TriggerRule is a prioritized outbound filter. A nil predicate slice matches any value
type TriggerRule struct {
	ID             string        `db:"id" json:"id" yaml:"id"`
	SourceSystemID string        `db:"source_system_id" json:"source_system_id" yaml:"source_system_id"`
	Name           string        `db:"name" json:"name" yaml:"name"`
	Description    string        `db:"description" json:"description,omitempty" yaml:"description,omitempty"`
	PipelineIDs    []string      `db:"pipeline_ids" json:"pipeline_ids,omitempty" yaml:"pipeline_ids,omitempty"`
	StageIDs       []string      `db:"stage_ids" json:"stage_ids,omitempty" yaml:"stage_ids,omitempty"`
	OwnerIDs       []string      `db:"owner_ids" json:"owner_ids,omitempty" yaml:"owner_ids,omitempty"`
	Statuses       []string      `db:"statuses" json:"statuses,omitempty" yaml:"statuses,omitempty"`
	EventTypes     []EventType   `db:"event_types" json:"event_types,omitempty" yaml:"event_types,omitempty"`
	SyncFieldMode  FieldSyncMode `db:"sync_field_mode" json:"sync_field_mode" yaml:"sync_field_mode"`
	SyncFields     []string      `db:"sync_fields" json:"sync_fields,omitempty" yaml:"sync_fields,omitempty"`
	ActionMode     ActionMode    `db:"action_mode" json:"action_mode" yaml:"action_mode"`
	Priority       int           `db:"priority" json:"priority" yaml:"priority"`
	IsActive       bool          `db:"is_active" json:"is_active" yaml:"is_active"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at" yaml:"-"`
}
