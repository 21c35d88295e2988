package rules

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const src = "marketing"

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func rule(name string, prio int, mode models.ActionMode) models.TriggerRule {
	return models.TriggerRule{
		ID:             name,
		SourceSystemID: src,
		Name:           name,
		SyncFieldMode:  models.FieldModeAll,
		ActionMode:     mode,
		Priority:       prio,
		IsActive:       true,
		CreatedAt:      t0,
	}
}

func TestEvaluate_NoRulesAllows(t *testing.T) {
	for _, et := range models.AllEventTypes {
		d := Evaluate(nil, Input{SourceSystemID: src, EventType: et, FieldName: "value"})
		assert.True(t, d.Allowed, et)
		assert.Equal(t, ReasonNoRules, d.Reason)
	}
}

func TestEvaluate_IgnoresInactiveAndOtherSources(t *testing.T) {
	inactive := rule("off", 1, models.ActionBlock)
	inactive.IsActive = false
	other := rule("other", 1, models.ActionBlock)
	other.SourceSystemID = "erp"

	d := Evaluate([]models.TriggerRule{inactive, other}, Input{SourceSystemID: src, EventType: models.EventWon})
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonNoRules, d.Reason)
}

func TestEvaluate_NoMatchBlocks(t *testing.T) {
	r := rule("pipeline-a", 10, models.ActionAllow)
	r.PipelineIDs = []string{"A"}

	d := Evaluate([]models.TriggerRule{r}, Input{SourceSystemID: src, PipelineID: "B", EventType: models.EventStageChange})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoMatch, d.Reason)
	assert.Empty(t, d.RuleID)
}

func TestEvaluate_PriorityOrder(t *testing.T) {
	block := rule("block-stage-x", 10, models.ActionBlock)
	block.StageIDs = []string{"X"}
	block.EventTypes = []models.EventType{models.EventStageChange}

	allow := rule("allow-stage-changes", 20, models.ActionAllow)
	allow.EventTypes = []models.EventType{models.EventStageChange}

	// order in the slice must not matter
	for _, set := range [][]models.TriggerRule{{block, allow}, {allow, block}} {
		d := Evaluate(set, Input{SourceSystemID: src, StageID: "X", EventType: models.EventStageChange})
		assert.False(t, d.Allowed)
		assert.Equal(t, "block-stage-x", d.RuleName)
		assert.Equal(t, ReasonBlockedByRule, d.Reason)

		d = Evaluate(set, Input{SourceSystemID: src, StageID: "Y", EventType: models.EventStageChange})
		assert.True(t, d.Allowed)
		assert.Equal(t, "allow-stage-changes", d.RuleName)
	}
}

func TestEvaluate_CreatedAtBreaksTies(t *testing.T) {
	first := rule("first", 5, models.ActionBlock)
	second := rule("second", 5, models.ActionAllow)
	second.CreatedAt = t0.Add(time.Minute)

	d := Evaluate([]models.TriggerRule{second, first}, Input{SourceSystemID: src, EventType: models.EventWon})
	assert.Equal(t, "first", d.RuleName)
	assert.False(t, d.Allowed)
}

func TestEvaluate_FieldModes(t *testing.T) {
	selected := rule("selected", 1, models.ActionAllow)
	selected.SyncFieldMode = models.FieldModeSelected
	selected.SyncFields = []string{"value", "title"}

	excluded := rule("excluded", 1, models.ActionAllow)
	excluded.SyncFieldMode = models.FieldModeExcluded
	excluded.SyncFields = []string{"notes"}

	blockSelected := selected
	blockSelected.ActionMode = models.ActionBlock

	selectedNoList := rule("selected-no-list", 1, models.ActionAllow)
	selectedNoList.SyncFieldMode = models.FieldModeSelected

	excludedNoList := rule("excluded-no-list", 1, models.ActionAllow)
	excludedNoList.SyncFieldMode = models.FieldModeExcluded

	selectedEmpty := selected
	selectedEmpty.SyncFields = []string{}

	tests := []struct {
		name   string
		rule   models.TriggerRule
		field  string
		want   bool
		reason string
	}{
		{"selected member", selected, "value", true, ReasonAllowedByRule},
		{"selected outsider", selected, "notes", false, ReasonFieldNotSelected},
		{"excluded member", excluded, "notes", false, ReasonFieldExcluded},
		{"excluded outsider", excluded, "value", true, ReasonAllowedByRule},
		{"block rule still blocks after field check", blockSelected, "value", false, ReasonBlockedByRule},
		{"block rule rejects outsider on field mode", blockSelected, "notes", false, ReasonFieldNotSelected},
		{"selected without field list applies to all fields", selectedNoList, "notes", true, ReasonAllowedByRule},
		{"excluded without field list applies to all fields", excludedNoList, "notes", true, ReasonAllowedByRule},
		{"selected with empty field list selects nothing", selectedEmpty, "value", false, ReasonFieldNotSelected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate([]models.TriggerRule{tt.rule}, Input{
				SourceSystemID: src,
				EventType:      models.EventFieldUpdate,
				FieldName:      tt.field,
			})
			assert.Equal(t, tt.want, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.rule.Name, d.RuleName)
		})
	}
}

func TestEvaluate_FieldModeOnlyForFieldUpdates(t *testing.T) {
	r := rule("selected", 1, models.ActionAllow)
	r.SyncFieldMode = models.FieldModeSelected
	r.SyncFields = []string{"value"}

	d := Evaluate([]models.TriggerRule{r}, Input{SourceSystemID: src, EventType: models.EventStageChange, FieldName: "notes"})
	assert.True(t, d.Allowed)
}

func TestEvaluate_SelectedModeRejectsOutsidersRegardlessOfPriorityNoise(t *testing.T) {
	// a later allow-all rule never rescues a field rejected by the first match
	sel := rule("selected", 1, models.ActionAllow)
	sel.SyncFieldMode = models.FieldModeSelected
	sel.SyncFields = []string{"value"}
	all := rule("all", 2, models.ActionAllow)

	for _, f := range []string{"title", "notes", "owner", "x"} {
		d := Evaluate([]models.TriggerRule{sel, all}, Input{SourceSystemID: src, EventType: models.EventFieldUpdate, FieldName: f})
		assert.False(t, d.Allowed, f)
	}
}

func TestEvaluate_EmptyPredicateIsNotWildcard(t *testing.T) {
	r := rule("empty-stages", 1, models.ActionAllow)
	r.StageIDs = []string{}

	d := Evaluate([]models.TriggerRule{r}, Input{SourceSystemID: src, StageID: "X", EventType: models.EventStageChange})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoMatch, d.Reason)
}

func TestEvaluate_AllPredicates(t *testing.T) {
	r := rule("scoped", 1, models.ActionAllow)
	r.PipelineIDs = []string{"P"}
	r.StageIDs = []string{"S"}
	r.OwnerIDs = []string{"O"}
	r.Statuses = []string{"open"}
	r.EventTypes = []models.EventType{models.EventStageChange}

	in := Input{SourceSystemID: src, PipelineID: "P", StageID: "S", OwnerID: "O", Status: "open", EventType: models.EventStageChange}
	assert.True(t, Evaluate([]models.TriggerRule{r}, in).Allowed)

	miss := in
	miss.OwnerID = "other"
	assert.False(t, Evaluate([]models.TriggerRule{r}, miss).Allowed)

	miss = in
	miss.EventType = models.EventWon
	assert.False(t, Evaluate([]models.TriggerRule{r}, miss).Allowed)
}

func TestEvaluate_DoesNotReorderCallerSlice(t *testing.T) {
	a := rule("a", 20, models.ActionAllow)
	b := rule("b", 10, models.ActionAllow)
	set := []models.TriggerRule{a, b}

	Evaluate(set, Input{SourceSystemID: src, EventType: models.EventWon})
	assert.Equal(t, "a", set[0].Name)
}

type fakeSource struct {
	rules []models.TriggerRule
	err   error
}

func (f fakeSource) ActiveRules(_ context.Context, _ string) ([]models.TriggerRule, error) {
	return f.rules, f.err
}

func TestEngine_Evaluate(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	e := NewEngine(fakeSource{rules: []models.TriggerRule{rule("block", 1, models.ActionBlock)}}, logger)
	d, err := e.Evaluate(context.Background(), Input{SourceSystemID: src, EventType: models.EventLost})
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	boom := errors.New("db down")
	_, err = e.EvaluateWith(context.Background(), fakeSource{err: boom}, Input{SourceSystemID: src})
	require.ErrorIs(t, err, boom)
}
