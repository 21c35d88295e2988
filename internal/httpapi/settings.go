package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/gin-gonic/gin"
)

type SettingsStore interface {
	SyncSettings(ctx context.Context) (models.SyncSettings, error)
	SetSetting(ctx context.Context, key string, value any) error
}

type SettingsHandler struct {
	store SettingsStore
}

func NewSettingsHandler(s SettingsStore) *SettingsHandler {
	return &SettingsHandler{store: s}
}

func (h *SettingsHandler) Get(c *gin.Context) {
	s, err := h.store.SyncSettings(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// Update applies a partial document of switches, validating all keys first
func (h *SettingsHandler) Update(c *gin.Context) {
	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	values := make(map[string]any, len(body))
	for key, raw := range body {
		v, err := ParseSetting(key, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		values[key] = v
	}

	ctx := c.Request.Context()
	for key, v := range values {
		if err := h.store.SetSetting(ctx, key, v); err != nil {
			writeError(c, err)
			return
		}
	}
	h.Get(c)
}

// ParseSetting decodes and type-checks one switch value
func ParseSetting(key string, raw json.RawMessage) (any, error) {
	switch key {
	case models.SettingOutboundEnabled, models.SettingShadowMode, models.SettingAutoCreateContacts, models.SettingInboundEnabled:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("%s must be a boolean", key)
		}
		return b, nil
	case models.SettingAllowedEventTypes:
		var types []models.EventType
		if err := json.Unmarshal(raw, &types); err != nil {
			return nil, fmt.Errorf("%s must be a list of event types", key)
		}
		for _, t := range types {
			if !t.Valid() {
				return nil, fmt.Errorf("unknown event type %q", t)
			}
		}
		if types == nil {
			types = []models.EventType{}
		}
		return types, nil
	}
	return nil, fmt.Errorf("unknown setting %q", key)
}
