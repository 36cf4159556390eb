package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"payment-sessions-service/logging"
	"payment-sessions-service/models"
	"payment-sessions-service/realtime"
)

// GatewayHandler receives outcome webhooks from the payment gateway
type GatewayHandler struct {
	hub *realtime.Hub
}

// NewGatewayHandler creates a new gateway handler
func NewGatewayHandler(hub *realtime.Hub) *GatewayHandler {
	return &GatewayHandler{hub: hub}
}

// Outcome publishes a gateway outcome event to the session waiting on it
func (h *GatewayHandler) Outcome(c *gin.Context) {
	var ev models.OutcomeEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch ev.Type {
	case models.OutcomeSuccess, models.OutcomeFailure, models.OutcomeExpired, models.OutcomeError:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown outcome type"})
		return
	}

	if ev.OrderID == "" && ev.PaymentResponse != nil {
		ev.OrderID = ev.PaymentResponse.OrderID
	}
	if ev.OrderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required"})
		return
	}

	if err := h.hub.Publish(ev); err != nil {
		if errors.Is(err, realtime.ErrNoSubscriber) {
			// The session may already be terminal or disposed; the gateway
			// does not need to retry.
			c.JSON(http.StatusOK, gin.H{"delivered": false})
			return
		}
		logging.Error("Failed to publish gateway outcome",
			zap.Error(err),
			zap.String("order_id", ev.OrderID),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "publish failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"delivered": true})
}
