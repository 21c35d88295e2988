package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/Guizzs26/go-crm-sync/internal/inbound"
	"github.com/gin-gonic/gin"
)

const maxWebhookBytes = 2 << 20

type Ingester interface {
	Ingest(ctx context.Context, provider string, raw []byte) (inbound.Result, error)
	RecordFailure(ctx context.Context, provider string, cause error, raw []byte)
}

type WebhookHandler struct {
	ingest Ingester
	logger *slog.Logger
}

func NewWebhookHandler(i Ingester, l *slog.Logger) *WebhookHandler {
	return &WebhookHandler{ingest: i, logger: l}
}

// Handle acknowledges every syntactically valid delivery with 200 so the
// provider does not retry. Processing failures are recorded instead.
func (h *WebhookHandler) Handle(c *gin.Context) {
	ctx := c.Request.Context()

	provider := c.Param("provider")
	if provider == "" {
		provider = c.Query("provider")
	}
	if provider != "" {
		if _, err := inbound.Lookup(provider); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if _, err := inbound.Decode(raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	res, err := h.ingest.Ingest(ctx, provider, raw)
	if err != nil {
		h.logger.Warn("Webhook processing failed", "provider", provider, "error", err)
		name := provider
		if name == "" {
			name = string(res.Provider)
		}
		h.ingest.RecordFailure(context.WithoutCancel(ctx), name, err, raw)

		c.JSON(http.StatusOK, gin.H{"accepted": res.Accepted, "result": res, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": res.Accepted, "result": res})
}
