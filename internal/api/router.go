package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"notification-relay/internal/logging"
)

func NewRouter(h *Handler, logger *logging.Logger, basePath string, metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	r.GET("/health", h.Health)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	api := r.Group(basePath)
	{
		api.GET("/status", h.Status)
		api.POST("/candidates", h.PushCandidate)
		api.POST("/dismiss", h.ReportDismissal)
		api.GET("/deliveries", h.GetDeliveries)
	}
	return r
}
