package rules

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"gopkg.in/yaml.v3"
)

var ErrInvalidRule = errors.New("invalid rule")

type ruleFile struct {
	SourceSystemID string      `yaml:"source_system_id"`
	Rules          []fileEntry `yaml:"rules"`
}

type fileEntry struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	PipelineIDs   []string `yaml:"pipeline_ids"`
	StageIDs      []string `yaml:"stage_ids"`
	OwnerIDs      []string `yaml:"owner_ids"`
	Statuses      []string `yaml:"statuses"`
	EventTypes    []string `yaml:"event_types"`
	SyncFieldMode string   `yaml:"sync_field_mode"`
	SyncFields    []string `yaml:"sync_fields"`
	ActionMode    string   `yaml:"action_mode"`
	Priority      *int     `yaml:"priority"`
	IsActive      *bool    `yaml:"is_active"`
}

// Set is the full rule list of one source system. An empty set is valid
// and means every event is allowed.
type Set struct {
	SourceSystemID string
	Rules          []models.TriggerRule
}

// LoadFile reads a YAML rule set
func LoadFile(path string) (Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("read rules file: %w", err)
	}
	return ParseSet(raw)
}

// Parse decodes and validates a YAML rule set. Omitted predicates stay nil.
func Parse(raw []byte) ([]models.TriggerRule, error) {
	s, err := ParseSet(raw)
	return s.Rules, err
}

func ParseSet(raw []byte) (Set, error) {
	var f ruleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Set{}, fmt.Errorf("decode rules: %w", err)
	}
	if f.SourceSystemID == "" {
		return Set{}, fmt.Errorf("%w: source_system_id is required", ErrInvalidRule)
	}

	now := time.Now().UTC()
	out := make([]models.TriggerRule, 0, len(f.Rules))
	for i, e := range f.Rules {
		r := models.TriggerRule{
			SourceSystemID: f.SourceSystemID,
			Name:           e.Name,
			Description:    e.Description,
			PipelineIDs:    e.PipelineIDs,
			StageIDs:       e.StageIDs,
			OwnerIDs:       e.OwnerIDs,
			Statuses:       e.Statuses,
			SyncFieldMode:  models.FieldSyncMode(e.SyncFieldMode),
			SyncFields:     e.SyncFields,
			ActionMode:     models.ActionMode(e.ActionMode),
			Priority:       100,
			IsActive:       true,
			// keep file order stable among equal priorities
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		}
		if e.Priority != nil {
			r.Priority = *e.Priority
		}
		if e.IsActive != nil {
			r.IsActive = *e.IsActive
		}
		if r.SyncFieldMode == "" {
			r.SyncFieldMode = models.FieldModeAll
		}
		if r.ActionMode == "" {
			r.ActionMode = models.ActionAllow
		}
		if e.EventTypes != nil {
			r.EventTypes = make([]models.EventType, 0, len(e.EventTypes))
			for _, t := range e.EventTypes {
				r.EventTypes = append(r.EventTypes, models.EventType(t))
			}
		}
		if err := Validate(r); err != nil {
			return Set{}, fmt.Errorf("rule %d (%q): %w", i, e.Name, err)
		}
		out = append(out, r)
	}
	return Set{SourceSystemID: f.SourceSystemID, Rules: out}, nil
}

// Validate checks the enumerations and required fields of a rule
func Validate(r models.TriggerRule) error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if r.SourceSystemID == "" {
		return fmt.Errorf("%w: source_system_id is required", ErrInvalidRule)
	}
	switch r.SyncFieldMode {
	case models.FieldModeAll:
	case models.FieldModeSelected, models.FieldModeExcluded:
		if len(r.SyncFields) == 0 {
			return fmt.Errorf("%w: sync_fields required for mode %s", ErrInvalidRule, r.SyncFieldMode)
		}
	default:
		return fmt.Errorf("%w: unknown sync_field_mode %q", ErrInvalidRule, r.SyncFieldMode)
	}
	if r.ActionMode != models.ActionAllow && r.ActionMode != models.ActionBlock {
		return fmt.Errorf("%w: unknown action_mode %q", ErrInvalidRule, r.ActionMode)
	}
	for _, t := range r.EventTypes {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown event type %q", ErrInvalidRule, t)
		}
	}
	return nil
}
