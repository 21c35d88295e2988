package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/Guizzs26/go-crm-sync/internal/service"
	"github.com/gin-gonic/gin"
)

type SaleCreator interface {
	Create(ctx context.Context, in service.CreateSaleInput) (*models.Sale, error)
}

type SalesHandler struct {
	sales SaleCreator
}

func NewSalesHandler(s SaleCreator) *SalesHandler {
	return &SalesHandler{sales: s}
}

// Create answers 201 with the pending sale, 409 when an artifact was
// already sold, 400 on invalid input.
func (h *SalesHandler) Create(c *gin.Context) {
	var in service.CreateSaleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sale, err := h.sales.Create(c.Request.Context(), in)
	var conflict *service.ConflictError
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, sale)
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error(), "artifacts": conflict.Artifacts})
	case errors.Is(err, service.ErrInvalidSale):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		writeError(c, err)
	}
}
