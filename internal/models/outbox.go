package models

import (
	"encoding/json"
	"time"
)

// EventType is the fixed outbound event taxonomy
type EventType string

const (
	EventStageChange EventType = "stage_change"
	EventFieldUpdate EventType = "field_update"
	EventWon         EventType = "won"
	EventLost        EventType = "lost"
)

// AllEventTypes lists every event type in evaluation order
var AllEventTypes = []EventType{EventStageChange, EventWon, EventLost, EventFieldUpdate}

func (t EventType) Valid() bool {
	switch t {
	case EventStageChange, EventFieldUpdate, EventWon, EventLost:
		return true
	}
	return false
}

// Status is the delivery state shared by outbound events and sales
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusSentShadow Status = "sent_shadow"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no automatic transition leaves this status
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusSentShadow || s == StatusFailed
}

// Replayable reports whether an operator may reset the item to pending
func (s Status) Replayable() bool {
	return s == StatusFailed || s == StatusSentShadow
}

// OutboundEvent is a row of the outbound_events queue
type OutboundEvent struct {
	ID             string          `db:"id" json:"id"`
	SourceSystemID string          `db:"source_system_id" json:"source_system_id"`
	CardID         string          `db:"card_id" json:"card_id"`
	ExternalID     string          `db:"external_id" json:"external_id"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key"`
	EventType      EventType       `db:"event_type" json:"event_type"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	Status         Status          `db:"status" json:"status"`
	Attempts       int             `db:"attempts" json:"attempts"`
	MaxAttempts    int             `db:"max_attempts" json:"max_attempts"`
	NextRetryAt    *time.Time      `db:"next_retry_at" json:"next_retry_at,omitempty"`
	AttemptsLog    AttemptLog      `db:"attempts_log" json:"attempts_log"`
	ErrorMessage   string          `db:"error_message" json:"error_message,omitempty"`
	ExternalRef    string          `db:"external_ref" json:"external_ref,omitempty"`
	Response       json.RawMessage `db:"response" json:"response,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// EventPayload is the self-contained snapshot carried by an OutboundEvent.
// It holds current values so out-of-order delivery stays harmless
type EventPayload struct {
	CardID                string         `json:"card_id"`
	Title                 string         `json:"title,omitempty"`
	PipelineID            string         `json:"pipeline_id,omitempty"`
	StageID               string         `json:"stage_id,omitempty"`
	PreviousStageID       string         `json:"previous_stage_id,omitempty"`
	TargetExternalStageID string         `json:"target_external_stage_id,omitempty"`
	Status                string         `json:"status,omitempty"`
	PreviousStatus        string         `json:"previous_status,omitempty"`
	Field                 string         `json:"field,omitempty"`
	ExternalField         string         `json:"external_field,omitempty"`
	Value                 any            `json:"value,omitempty"`
	PreviousValue         any            `json:"previous_value,omitempty"`
	Snapshot              map[string]any `json:"snapshot,omitempty"`
	MatchedRuleName       string         `json:"matched_rule_name,omitempty"`
	ShadowMode            bool           `json:"shadow_mode"`
	CapturedAt            time.Time      `json:"captured_at"`
}

// EstimateBytes approximates the memory held by the row
func (e OutboundEvent) EstimateBytes() int {
	return len(e.Payload) + len(e.Response) + 256
}

// JobKind distinguishes the queues served by the dispatch worker
type JobKind string

const (
	JobEvent JobKind = "event"
	JobSale  JobKind = "sale"
)

// Job is a claimed queue item handed to the dispatch worker
type Job struct {
	ID   string
	Kind JobKind
	// ClaimID identifies the claim that moved the row to processing. Settling
	// and heartbeats only apply while the row still carries it.
	ClaimID        string
	IdempotencyKey string
	Attempts       int
	MaxAttempts    int
	Log            AttemptLog
	Event          *OutboundEvent
	Sale           *SaleBundle
}

// Transition is the state written back after one dispatch attempt
type Transition struct {
	Status         Status
	Attempts       int
	NextRetryAt    *time.Time
	ExternalRef    string
	ExternalNumber string
	Response       json.RawMessage
	ErrorMessage   string
	Log            AttemptLog
	SentAt         *time.Time
}
