package models

import (
	"encoding/json"
	"time"
)

// Provider identifies a messaging platform sending webhooks
type Provider string

const (
	ProviderChatPro Provider = "chatpro"
	ProviderEcho    Provider = "echo"
)

// Instance is a messaging account bound to a provider
type Instance struct {
	ID          string     `db:"id" json:"id"`
	Provider    Provider   `db:"provider" json:"provider"`
	ExternalID  string     `db:"external_id" json:"external_id"`
	Name        string     `db:"name" json:"name"`
	IsPrimary   bool       `db:"is_primary" json:"is_primary"`
	IsActive    bool       `db:"is_active" json:"is_active"`
	LastEventAt *time.Time `db:"last_event_at" json:"last_event_at,omitempty"`
}

type Contact struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Phone     string    `db:"phone" json:"phone"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Conversation struct {
	ID             string    `db:"id" json:"id"`
	ContactID      string    `db:"contact_id" json:"contact_id"`
	InstanceID     string    `db:"instance_id" json:"instance_id"`
	LastActivityAt time.Time `db:"last_activity_at" json:"last_activity_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is a persisted WhatsApp message
type Message struct {
	ID             string          `db:"id" json:"id"`
	InstanceID     string          `db:"instance_id" json:"instance_id"`
	ConversationID string          `db:"conversation_id" json:"conversation_id"`
	ContactID      string          `db:"contact_id" json:"contact_id"`
	ExternalID     string          `db:"external_id" json:"external_id"`
	EventType      string          `db:"event_type" json:"event_type"`
	Direction      Direction       `db:"direction" json:"direction"`
	Type           string          `db:"type" json:"type"`
	Body           string          `db:"body" json:"body,omitempty"`
	MediaURL       string          `db:"media_url" json:"media_url,omitempty"`
	Metadata       json.RawMessage `db:"metadata" json:"metadata"`
	SentAt         time.Time       `db:"sent_at" json:"sent_at"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}
