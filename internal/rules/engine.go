package rules

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/Guizzs26/go-crm-sync/pkg/metrics"
)

const (
	ReasonNoRules          = "no rules configured"
	ReasonNoMatch          = "no matching rule - block by default"
	ReasonFieldNotSelected = "field not in selected set"
	ReasonFieldExcluded    = "field in excluded set"
	ReasonAllowedByRule    = "allowed by rule"
	ReasonBlockedByRule    = "blocked by rule"
)

// Input carries the scope attributes of a candidate event
type Input struct {
	SourceSystemID string
	PipelineID     string
	StageID        string
	OwnerID        string
	Status         string
	EventType      models.EventType
	FieldName      string
}

// Decision is the outcome of evaluating a rule set against one Input
type Decision struct {
	Allowed       bool                 `json:"allowed"`
	RuleID        string               `json:"rule_id,omitempty"`
	RuleName      string               `json:"rule_name,omitempty"`
	ActionMode    models.ActionMode    `json:"action_mode,omitempty"`
	FieldSyncMode models.FieldSyncMode `json:"field_sync_mode,omitempty"`
	FieldSet      []string             `json:"field_set,omitempty"`
	Reason        string               `json:"reason"`
}

// Evaluate returns the decision of the first active rule for the source whose
// predicates all match, in (priority, created_at) order.
// No rules for the source allows everything; rules without a match block.
func Evaluate(rules []models.TriggerRule, in Input) Decision {
	candidates := make([]models.TriggerRule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive && r.SourceSystemID == in.SourceSystemID {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return Decision{Allowed: true, Reason: ReasonNoRules}
	}

	slices.SortStableFunc(candidates, func(a, b models.TriggerRule) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	for _, r := range candidates {
		if !matches(r, in) {
			continue
		}

		d := Decision{
			RuleID:        r.ID,
			RuleName:      r.Name,
			ActionMode:    r.ActionMode,
			FieldSyncMode: fieldMode(r),
			FieldSet:      r.SyncFields,
		}

		// a rule without a field list applies to every field
		if in.EventType == models.EventFieldUpdate && in.FieldName != "" && r.SyncFields != nil {
			switch d.FieldSyncMode {
			case models.FieldModeSelected:
				if !slices.Contains(r.SyncFields, in.FieldName) {
					d.Reason = ReasonFieldNotSelected
					return d
				}
			case models.FieldModeExcluded:
				if slices.Contains(r.SyncFields, in.FieldName) {
					d.Reason = ReasonFieldExcluded
					return d
				}
			}
		}

		d.Allowed = r.ActionMode == models.ActionAllow
		if d.Allowed {
			d.Reason = ReasonAllowedByRule
		} else {
			d.Reason = ReasonBlockedByRule
		}
		return d
	}

	return Decision{Allowed: false, Reason: ReasonNoMatch}
}

func matches(r models.TriggerRule, in Input) bool {
	return scoped(r.PipelineIDs, in.PipelineID) &&
		scoped(r.StageIDs, in.StageID) &&
		scoped(r.OwnerIDs, in.OwnerID) &&
		scoped(r.Statuses, in.Status) &&
		scoped(r.EventTypes, in.EventType)
}

// scoped treats a nil predicate as "any value"
func scoped[T comparable](set []T, v T) bool {
	if set == nil {
		return true
	}
	return slices.Contains(set, v)
}

func fieldMode(r models.TriggerRule) models.FieldSyncMode {
	if r.SyncFieldMode == "" {
		return models.FieldModeAll
	}
	return r.SyncFieldMode
}

// RuleSource loads the active rules configured for a source system
type RuleSource interface {
	ActiveRules(ctx context.Context, sourceSystemID string) ([]models.TriggerRule, error)
}

// Engine evaluates rules loaded from a RuleSource and records decision metrics
type Engine struct {
	src    RuleSource
	logger *slog.Logger
}

func NewEngine(src RuleSource, l *slog.Logger) *Engine {
	return &Engine{src: src, logger: l}
}

// Evaluate loads the rules from the engine's source
func (e *Engine) Evaluate(ctx context.Context, in Input) (Decision, error) {
	return e.EvaluateWith(ctx, e.src, in)
}

// EvaluateWith loads the rules from src, typically a transaction-bound store
func (e *Engine) EvaluateWith(ctx context.Context, src RuleSource, in Input) (Decision, error) {
	rules, err := src.ActiveRules(ctx, in.SourceSystemID)
	if err != nil {
		return Decision{}, fmt.Errorf("load rules for %s: %w", in.SourceSystemID, err)
	}

	d := Evaluate(rules, in)

	outcome := "blocked"
	if d.Allowed {
		outcome = "allowed"
	}
	metrics.RuleDecisions.WithLabelValues(string(in.EventType), outcome).Inc()

	e.logger.Debug("Rule decision",
		"source", in.SourceSystemID,
		"event_type", in.EventType,
		"field", in.FieldName,
		"allowed", d.Allowed,
		"rule", d.RuleName,
		"reason", d.Reason,
	)
	return d, nil
}
