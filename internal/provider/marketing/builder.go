package marketing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/Guizzs26/go-crm-sync/internal/provider"
)

// Deal statuses understood by the marketing platform
const (
	DealStatusWon  = 1
	DealStatusLost = 2
)

var (
	ErrNoEvent        = errors.New("job carries no outbound event")
	ErrNoExternalID   = errors.New("card has no external deal id")
	ErrUnmappedStage  = errors.New("stage has no external mapping")
	ErrUnmappedField  = errors.New("field has no external key")
	ErrUnsupportedKey = errors.New("unsupported external field key")
)

// Builder turns outbound events into deal updates
type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

// CustomFieldValue is one entry of the custom fields array
type CustomFieldValue struct {
	CustomFieldID int `json:"customFieldId"`
	FieldValue    any `json:"fieldValue"`
}

func (b *Builder) Build(_ context.Context, job models.Job) (provider.Request, error) {
	ev := job.Event
	if ev == nil {
		return provider.Request{}, ErrNoEvent
	}
	if ev.ExternalID == "" {
		return provider.Request{}, ErrNoExternalID
	}

	var p models.EventPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return provider.Request{}, fmt.Errorf("decode payload: %w", err)
	}

	deal := map[string]any{}
	switch ev.EventType {
	case models.EventStageChange:
		if p.TargetExternalStageID == "" {
			return provider.Request{}, fmt.Errorf("%w: %s", ErrUnmappedStage, p.StageID)
		}
		deal["stage"] = p.TargetExternalStageID
	case models.EventWon:
		deal["status"] = DealStatusWon
	case models.EventLost:
		deal["status"] = DealStatusLost
	case models.EventFieldUpdate:
		if err := applyField(deal, p); err != nil {
			return provider.Request{}, err
		}
	default:
		return provider.Request{}, fmt.Errorf("unsupported event type %q", ev.EventType)
	}

	return provider.Request{
		Method: http.MethodPut,
		Path:   "/api/3/deals/" + ev.ExternalID,
		Body:   map[string]any{"deal": deal},
	}, nil
}

// applyField maps "deal[x]" keys to standard deal attributes and numeric keys to custom fields
func applyField(deal map[string]any, p models.EventPayload) error {
	key := p.ExternalField
	if key == "" {
		return fmt.Errorf("%w: %s", ErrUnmappedField, p.Field)
	}

	if name, ok := strings.CutPrefix(key, "deal["); ok && strings.HasSuffix(name, "]") {
		deal[strings.TrimSuffix(name, "]")] = p.Value
		return nil
	}

	id, err := strconv.Atoi(key)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedKey, key)
	}
	deal["fields"] = []CustomFieldValue{{CustomFieldID: id, FieldValue: p.Value}}
	return nil
}

// Reference extracts the deal id from {"deal":{"id":...}}
func (b *Builder) Reference(body []byte) (string, string) {
	var out struct {
		Deal struct {
			ID json.RawMessage `json:"id"`
		} `json:"deal"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", ""
	}
	return strings.Trim(string(out.Deal.ID), `"`), ""
}
