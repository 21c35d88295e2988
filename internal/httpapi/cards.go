package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/Guizzs26/go-crm-sync/internal/service"
	"github.com/gin-gonic/gin"
)

// OriginHeader tags who performed the write. Integrations writing back
// into the CRM must send "sync" or "integration".
const OriginHeader = "X-Sync-Origin"

type CardUpdater interface {
	Update(ctx context.Context, id string, patch service.CardPatch, origin models.Origin) (models.Card, []models.OutboundEvent, error)
}

type CardHandler struct {
	cards CardUpdater
}

func NewCardHandler(u CardUpdater) *CardHandler {
	return &CardHandler{cards: u}
}

func (h *CardHandler) Update(c *gin.Context) {
	origin := models.Origin(c.GetHeader(OriginHeader))
	switch origin {
	case "":
		origin = models.OriginUser
	case models.OriginUser, models.OriginSync, models.OriginIntegration:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + OriginHeader})
		return
	}

	var patch service.CardPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	card, events, err := h.cards.Update(c.Request.Context(), c.Param("id"), patch, origin)
	if err != nil {
		if errors.Is(err, service.ErrInvalidPatch) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		writeError(c, err)
		return
	}
	if events == nil {
		events = []models.OutboundEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"card": card, "events": events})
}
