package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"notification-relay/internal/db"
	"notification-relay/internal/logging"
	"notification-relay/internal/models"
	"notification-relay/internal/relay"
)

// Relay is the part of the orchestrator the HTTP surface drives.
type Relay interface {
	Status() relay.Status
	ReportDismissal() bool
}

// CandidateSink accepts pushed candidates; capture.Buffer satisfies it.
type CandidateSink interface {
	Push(cands ...models.CandidateEvent)
}

// DeliveryStore lists journaled deliveries.
type DeliveryStore interface {
	RecentDeliveries(ctx context.Context, limit int) ([]models.Delivery, error)
}

type Handler struct {
	relay      Relay
	sink       CandidateSink
	deliveries DeliveryStore
	logger     *logging.Logger
}

// NewHandler builds the handlers. deliveries may be nil when no journal is
// configured.
func NewHandler(r Relay, sink CandidateSink, deliveries DeliveryStore, logger *logging.Logger) *Handler {
	return &Handler{relay: r, sink: sink, deliveries: deliveries, logger: logger}
}

type candidateRequest struct {
	SourceApp  string    `json:"source_app"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	CapturedAt time.Time `json:"captured_at"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.relay.Status())
}

func (h *Handler) PushCandidate(c *gin.Context) {
	var req candidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid request body for candidate: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.SourceApp+req.Title+req.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_app, title or body is required"})
		return
	}
	if req.CapturedAt.IsZero() {
		req.CapturedAt = time.Now()
	}

	h.sink.Push(models.CandidateEvent{
		SourceApp:  req.SourceApp,
		Title:      req.Title,
		Body:       req.Body,
		CapturedAt: req.CapturedAt,
	})
	h.logger.Debugf("Accepted pushed candidate from %s", req.SourceApp)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *Handler) ReportDismissal(c *gin.Context) {
	if !h.relay.ReportDismissal() {
		c.JSON(http.StatusOK, gin.H{"queued": false, "reason": "dismissal follows a remote dismiss"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

func (h *Handler) GetDeliveries(c *gin.Context) {
	if h.deliveries == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Delivery journal is not configured"})
		return
	}

	limit := db.DefaultDeliveriesLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	deliveries, err := h.deliveries.RecentDeliveries(c.Request.Context(), limit)
	if err != nil {
		h.logger.Errorf("Failed to get deliveries: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get deliveries"})
		return
	}
	c.JSON(http.StatusOK, deliveries)
}
