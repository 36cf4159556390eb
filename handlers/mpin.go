package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"payment-sessions-service/logging"
	"payment-sessions-service/models"
	"payment-sessions-service/mpin"
)

// MpinHandler handles MPIN verification requests
type MpinHandler struct {
	registry    *mpin.Registry
	maxAttempts int
}

// NewMpinHandler creates a new MPIN handler
func NewMpinHandler(registry *mpin.Registry, maxAttempts int) *MpinHandler {
	return &MpinHandler{registry: registry, maxAttempts: maxAttempts}
}

// Verify submits a candidate MPIN through the attempt guard
func (h *MpinHandler) Verify(c *gin.Context) {
	ctx := c.Request.Context()
	span := trace.SpanFromContext(ctx)

	var req models.MpinVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MobileNumber == "" || req.Mpin == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mobile_number and mpin are required"})
		return
	}

	guard := h.registry.Get(req.MobileNumber)
	res, err := guard.Submit(ctx, req.MobileNumber, req.Mpin)

	switch {
	case err == nil:
		// Successful auth ends this attempt series.
		h.registry.Drop(req.MobileNumber)
		span.AddEvent("mpin_verified")
		c.JSON(http.StatusOK, models.MpinVerifyResponse{
			Success:        true,
			Token:          res.Token,
			TokenExpiresAt: res.TokenExpiresAt,
			User:           res.User,
			Message:        res.Message,
			AttemptsLeft:   h.maxAttempts,
		})

	case errors.Is(err, mpin.ErrLocked):
		st := guard.Status()
		c.JSON(http.StatusLocked, models.MpinVerifyResponse{
			Success:          false,
			Locked:           true,
			RemainingSeconds: st.RemainingSeconds,
			Message:          "Too many incorrect attempts. Try again later.",
		})

	case errors.Is(err, mpin.ErrRejected):
		st := guard.Status()
		if st.Locked {
			c.JSON(http.StatusLocked, models.MpinVerifyResponse{
				Success:          false,
				Locked:           true,
				RemainingSeconds: st.RemainingSeconds,
				Message:          "Too many incorrect attempts. Try again later.",
			})
			return
		}
		c.JSON(http.StatusUnauthorized, models.MpinVerifyResponse{
			Success:      false,
			AttemptsLeft: st.AttemptsLeft,
			Message:      "Incorrect MPIN",
		})

	default:
		// Verify infrastructure trouble; the attempt was not counted.
		logger := logging.WithTraceContext(span)
		logger.Warn("MPIN verify call failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, models.MpinVerifyResponse{
			Success: false,
			Message: "Could not verify MPIN right now. Please try again.",
		})
	}
}

type mpinResetRequest struct {
	MobileNumber string `json:"mobile_number" binding:"required"`
}

// Reset clears the attempt counter. An active lock stays in place.
func (h *MpinHandler) Reset(c *gin.Context) {
	var req mpinResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.registry.Get(req.MobileNumber).Reset()
	c.Status(http.StatusNoContent)
}

// Status returns the attempt-guard state for a mobile number
func (h *MpinHandler) Status(c *gin.Context) {
	mobile := c.Query("mobile_number")
	if mobile == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mobile_number is required"})
		return
	}
	c.JSON(http.StatusOK, h.registry.Get(mobile).Status())
}
