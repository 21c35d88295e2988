package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/Guizzs26/go-crm-sync/internal/db"
	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type EventReader interface {
	List(ctx context.Context, status models.Status, limit int) ([]models.OutboundEvent, error)
	Get(ctx context.Context, id string) (models.OutboundEvent, error)
}

type SaleReader interface {
	List(ctx context.Context, status models.Status, limit int) ([]models.Sale, error)
	Get(ctx context.Context, id string) (models.Sale, error)
}

type Replayer interface {
	Replay(ctx context.Context, kind models.JobKind, id string) error
}

// QueueHandler serves queue inspection and manual replay
type QueueHandler struct {
	events EventReader
	sales  SaleReader
	admin  Replayer
}

func NewQueueHandler(e EventReader, s SaleReader, a Replayer) *QueueHandler {
	return &QueueHandler{events: e, sales: s, admin: a}
}

func (h *QueueHandler) kind(c *gin.Context) (models.JobKind, bool) {
	switch k := models.JobKind(c.Param("kind")); k {
	case models.JobEvent, models.JobSale:
		return k, true
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown queue"})
	return "", false
}

func (h *QueueHandler) List(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}

	status := models.Status(c.Query("status"))
	switch status {
	case "", models.StatusPending, models.StatusProcessing, models.StatusSent, models.StatusSentShadow, models.StatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxListLimit)
	}

	ctx := c.Request.Context()
	var (
		items any
		err   error
	)
	if kind == models.JobEvent {
		items, err = h.events.List(ctx, status, limit)
	} else {
		items, err = h.sales.List(ctx, status, limit)
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": kind, "items": items})
}

func (h *QueueHandler) Get(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var (
		item any
		err  error
	)
	if kind == models.JobEvent {
		item, err = h.events.Get(ctx, c.Param("id"))
	} else {
		item, err = h.sales.Get(ctx, c.Param("id"))
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *QueueHandler) Replay(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := h.admin.Replay(c.Request.Context(), kind, id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": models.StatusPending})
}

// writeError maps store sentinels to status codes
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, db.ErrNotReplayable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
