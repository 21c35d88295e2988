package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers groups everything the router mounts. Nil handlers are skipped
type Handlers struct {
	Webhook  *WebhookHandler
	Queue    *QueueHandler
	Sales    *SalesHandler
	Cards    *CardHandler
	Settings *SettingsHandler
	Health   Pinger
}

func NewRouter(h Handlers, l *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(l))

	router.GET("/health", func(c *gin.Context) {
		if h.Health != nil {
			if err := h.Health.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if h.Webhook != nil {
		router.POST("/webhook", h.Webhook.Handle)
		router.POST("/webhook/:provider", h.Webhook.Handle)
	}

	v1 := router.Group("/api/v1")
	{
		if h.Queue != nil {
			q := v1.Group("/queue/:kind")
			q.GET("", h.Queue.List)
			q.GET("/:id", h.Queue.Get)
			q.POST("/:id/replay", h.Queue.Replay)
		}
		if h.Sales != nil {
			v1.POST("/sales", h.Sales.Create)
		}
		if h.Cards != nil {
			v1.PATCH("/cards/:id", h.Cards.Update)
		}
		if h.Settings != nil {
			v1.GET("/settings", h.Settings.Get)
			v1.PUT("/settings", h.Settings.Update)
		}
	}
	return router
}
