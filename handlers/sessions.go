package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"payment-sessions-service/logging"
	"payment-sessions-service/models"
	"payment-sessions-service/session"
)

// SessionHandler handles HTTP requests for payment sessions
type SessionHandler struct {
	manager *session.Manager
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(manager *session.Manager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

// Create registers and starts a payment session for an already-created order
func (h *SessionHandler) Create(c *gin.Context) {
	span := trace.SpanFromContext(c.Request.Context())

	var req session.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.manager.Create(req)
	if err != nil {
		if errors.Is(err, session.ErrOrderActive) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logger := logging.WithTraceContext(span)
		logger.Error("Failed to create payment session",
			zap.Error(err),
			zap.String("order_id", req.OrderID),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.AddEvent("payment_session_created")
	c.JSON(http.StatusCreated, sess)
}

// Get returns a session snapshot and its disposition if one was delivered
func (h *SessionHandler) Get(c *gin.Context) {
	sess, disp, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "disposition": disp})
}

// Stream pushes view commands, advisories, and the terminal disposition to
// the device as server-sent events
func (h *SessionHandler) Stream(c *gin.Context) {
	link, err := h.manager.Link(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-link.Events():
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Data)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// Navigation ingests a checkout-view navigation change reported by the device
func (h *SessionHandler) Navigation(c *gin.Context) {
	coord, err := h.manager.Coordinator(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	var ev models.NavigationEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	coord.OnNavigationChanged(ev)
	c.JSON(http.StatusAccepted, gin.H{"status": string(coord.Status())})
}

// LoadError ingests a checkout-view load failure reported by the device
func (h *SessionHandler) LoadError(c *gin.Context) {
	coord, err := h.manager.Coordinator(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	var ev models.LoadError
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	coord.OnLoadError(ev)
	c.JSON(http.StatusAccepted, gin.H{"status": string(coord.Status())})
}

// HTTPError ingests a checkout-view HTTP status error reported by the device
func (h *SessionHandler) HTTPError(c *gin.Context) {
	coord, err := h.manager.Coordinator(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	var ev models.HTTPError
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	coord.OnHTTPError(ev)
	c.JSON(http.StatusAccepted, gin.H{"status": string(coord.Status())})
}

type connectivityRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// Connectivity ingests a device-reported online/offline edge
func (h *SessionHandler) Connectivity(c *gin.Context) {
	coord, err := h.manager.Coordinator(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	var req connectivityRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Online == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "online is required"})
		return
	}

	coord.OnConnectivityChanged(*req.Online)
	c.JSON(http.StatusAccepted, gin.H{"status": string(coord.Status())})
}

type cancelRequest struct {
	Confirmed bool `json:"confirmed"`
}

// Cancel cancels a session after explicit user confirmation
func (h *SessionHandler) Cancel(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Confirmed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cancellation requires confirmation"})
		return
	}

	won, err := h.manager.Cancel(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	coord, err := h.manager.Coordinator(c.Param("id"))
	status := models.StatusCancelled
	if err == nil {
		status = coord.Status()
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": won, "status": string(status)})
}

// Dispose tears a session down without a disposition (device unmount)
func (h *SessionHandler) Dispose(c *gin.Context) {
	if err := h.manager.Dispose(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// HealthCheck handles health check requests
func (h *SessionHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
