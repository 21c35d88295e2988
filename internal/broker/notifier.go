package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/google/uuid"
)

// Routing keys on the crm.sync exchange
const (
	OutcomeKeyPrefix = "outbound."
	InboundKey       = "inbound.message"
	TriggerKeyPrefix = "dispatch.trigger."
)

// Publisher is satisfied by *RabbitMQClient
type Publisher interface {
	Publish(ctx context.Context, routingKey, messageID string, v any) error
}

// Outcome is published once a dispatch attempt settles
type Outcome struct {
	Kind        models.JobKind `json:"kind"`
	ID          string         `json:"id"`
	Status      models.Status  `json:"status"`
	Attempts    int            `json:"attempts"`
	ExternalRef string         `json:"external_ref,omitempty"`
	Error       string         `json:"error,omitempty"`
	NextRetryAt *time.Time     `json:"next_retry_at,omitempty"`
	At          time.Time      `json:"at"`
}

// MessageNotice announces a stored inbound message
type MessageNotice struct {
	MessageID      string           `json:"message_id"`
	InstanceID     string           `json:"instance_id"`
	ConversationID string           `json:"conversation_id"`
	ContactID      string           `json:"contact_id"`
	Direction      models.Direction `json:"direction"`
	Type           string           `json:"type"`
	SentAt         time.Time        `json:"sent_at"`
}

// Trigger asks dispatchers to run a batch now instead of waiting for the tick
type Trigger struct {
	Kind models.JobKind `json:"kind"`
	At   time.Time      `json:"at"`
}

// Notifier turns sync activity into broker messages
type Notifier struct {
	pub Publisher
}

func NewNotifier(p Publisher) *Notifier {
	return &Notifier{pub: p}
}

// NotifyOutcome publishes on outbound.<status>
func (n *Notifier) NotifyOutcome(ctx context.Context, kind models.JobKind, job models.Job, t models.Transition) error {
	msg := Outcome{
		Kind:        kind,
		ID:          job.ID,
		Status:      t.Status,
		Attempts:    t.Attempts,
		ExternalRef: t.ExternalRef,
		Error:       t.ErrorMessage,
		NextRetryAt: t.NextRetryAt,
		At:          time.Now().UTC(),
	}
	return n.pub.Publish(ctx, OutcomeKeyPrefix+string(t.Status), fmt.Sprintf("%s:%d", job.IdempotencyKey, t.Attempts), msg)
}

func (n *Notifier) NotifyMessage(ctx context.Context, m models.Message) error {
	msg := MessageNotice{
		MessageID:      m.ID,
		InstanceID:     m.InstanceID,
		ConversationID: m.ConversationID,
		ContactID:      m.ContactID,
		Direction:      m.Direction,
		Type:           m.Type,
		SentAt:         m.SentAt,
	}
	return n.pub.Publish(ctx, InboundKey, m.ID, msg)
}

// Trigger publishes on dispatch.trigger.<kind>
func (n *Notifier) Trigger(ctx context.Context, kind models.JobKind) error {
	return n.pub.Publish(ctx, TriggerKeyPrefix+string(kind), uuid.NewString(), Trigger{Kind: kind, At: time.Now().UTC()})
}
