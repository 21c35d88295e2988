package inbound

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Guizzs26/go-crm-sync/internal/models"
)

// Envelope is a provider message reduced to what ingestion needs
type Envelope struct {
	InstanceRef string
	EventType   string
	MessageID   string
	Phone       string
	Name        string
	FromMe      bool
	Type        string
	Body        string
	MediaURL    string
	SentAt      time.Time
}

// Parser turns one provider payload object into an Envelope
type Parser interface {
	Provider() models.Provider
	Parse(obj map[string]any) (Envelope, error)
}

var registry = map[models.Provider]Parser{
	models.ProviderChatPro: chatPro{},
	models.ProviderEcho:    echo{},
}

// Lookup returns the parser registered for a provider name
func Lookup(name string) (Parser, error) {
	p, ok := registry[models.Provider(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
	return p, nil
}

// Detect guesses the provider from the payload shape. Echo has distinctive
// keys; anything else is treated as chatpro, the historical default.
func Detect(obj map[string]any) models.Provider {
	data := object(obj, "data")
	switch {
	case has(obj, "whatsapp_message_id"), has(obj, "conversation_id"):
		return models.ProviderEcho
	case data != nil && (has(data, "whatsapp_message_id") || has(data, "conversation_id")):
		return models.ProviderEcho
	case object(obj, "message") != nil && has(object(obj, "message"), "conversation"):
		return models.ProviderEcho
	}
	return models.ProviderChatPro
}

type chatPro struct{}

func (chatPro) Provider() models.Provider { return models.ProviderChatPro }

// Parse accepts the root shape and the {"body": {"message_data": ...}} wrapper
func (chatPro) Parse(obj map[string]any) (Envelope, error) {
	outer := obj
	if b := object(obj, "body"); b != nil {
		outer = b
	}
	msg := outer
	if md := object(outer, "message_data"); md != nil {
		msg = md
	}

	env := Envelope{
		InstanceRef: str(outer, "instance_id", "instance"),
		EventType:   str(outer, "event", "message_type"),
		MessageID:   str(msg, "id", "message_id"),
		Phone:       str(msg, "number", "phone", "from"),
		Name:        str(msg, "notify_name", "name", "push_name"),
		FromMe:      boolean(msg, "from_me", "fromMe"),
		Type:        str(msg, "type"),
		Body:        str(msg, "body", "message", "text"),
		MediaURL:    str(msg, "media_url", "url"),
		SentAt:      timestamp(msg, "timestamp", "ts_receive"),
	}
	if env.MessageID == "" {
		env.MessageID = str(outer, "message_id")
	}
	if env.InstanceRef == "" {
		env.InstanceRef = str(obj, "instance_id")
	}
	if env.EventType == "" {
		env.EventType = "message"
	}
	if env.Phone == "" {
		return env, fmt.Errorf("%w: chatpro message without sender number", ErrMalformedPayload)
	}
	return env, nil
}

type echo struct{}

func (echo) Provider() models.Provider { return models.ProviderEcho }

// Parse accepts flat payloads and the {"data": ...} envelope. Status updates
// share the message id, so the event type qualifies it.
func (echo) Parse(obj map[string]any) (Envelope, error) {
	data := obj
	if d := object(obj, "data"); d != nil {
		data = d
	}
	contact := object(data, "contact")

	env := Envelope{
		InstanceRef: str(data, "instance_id", "phone_number_id"),
		EventType:   str(data, "event", "type"),
		Name:        str(data, "name", "contact_name"),
		FromMe:      boolean(data, "from_me", "fromMe") || str(data, "direction") == "outbound",
		Type:        str(data, "message_type", "content_type"),
		Body:        str(data, "text", "body", "content"),
		MediaURL:    str(data, "media_url"),
		SentAt:      timestamp(data, "timestamp", "created_at"),
	}
	if env.InstanceRef == "" {
		env.InstanceRef = str(obj, "instance_id")
	}
	if env.EventType == "" {
		env.EventType = str(obj, "event")
	}
	if env.EventType == "" {
		env.EventType = "message"
	}

	env.Phone = str(data, "phone", "from", "contact_phone")
	if env.Phone == "" && contact != nil {
		env.Phone = str(contact, "phone", "phone_number")
	}
	if env.Name == "" && contact != nil {
		env.Name = str(contact, "name")
	}

	if id := str(data, "id", "whatsapp_message_id", "message_id"); id != "" {
		env.MessageID = env.EventType + ":" + id
	}
	if env.Phone == "" {
		return env, fmt.Errorf("%w: echo message without contact phone", ErrMalformedPayload)
	}
	return env, nil
}

func object(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

func has(m map[string]any, key string) bool {
	v, ok := m[key]
	return ok && v != nil && v != ""
}

// str returns the first key holding a string or number
func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func boolean(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := m[k].(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		}
	}
	return false
}

// timestamp reads unix seconds, unix millis or RFC3339
func timestamp(m map[string]any, keys ...string) time.Time {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			if v > 1e12 {
				return time.UnixMilli(int64(v)).UTC()
			}
			return time.Unix(int64(v), 0).UTC()
		case string:
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t.UTC()
			}
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return time.Unix(n, 0).UTC()
			}
		}
	}
	return time.Time{}
}
