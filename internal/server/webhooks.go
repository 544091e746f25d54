package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/smallbiznis/disburse/internal/webhook/domain"
)

const riseSignatureHeader = "x-rise-signature"

// HandleRiseWebhook verifies and ingests provider callbacks. Processing
// failures after signature verification still acknowledge with 200 so the
// provider does not redeliver an event we have already recorded.
func (s *Server) HandleRiseWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	result, err := s.webhookSvc.HandleRise(c.Request.Context(), rawBody, c.GetHeader(riseSignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, webhookdomain.ErrSecretNotSet):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook secret not configured"})
		case errors.Is(err, webhookdomain.ErrMissingSignature):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing signature"})
		case errors.Is(err, webhookdomain.ErrInvalidSignature):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		case errors.Is(err, webhookdomain.ErrInvalidJSON):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received":   true,
		"event_id":   result.EventID,
		"event_type": result.EventType,
		"duplicate":  result.Duplicate,
	})
}
