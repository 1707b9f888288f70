package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	paymentdomain "github.com/stackforge/tenantry/internal/payment/domain"
)

const maxWebhookBody = 1 << 20

// PaymentWebhook ingests provider notifications. The response is 200 for
// anything the provider should not retry, including replays.
func (s *Server) PaymentWebhook(c *gin.Context) {
	provider := c.Param("provider")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil || len(body) == 0 {
		AbortWithError(c, paymentdomain.ErrInvalidWebhook)
		return
	}

	signature := c.GetHeader("X-Razorpay-Signature")
	if signature == "" {
		signature = c.GetHeader("X-Webhook-Signature")
	}

	if err := s.webhooks.Ingest(c.Request.Context(), provider, body, signature); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"received": true}})
}
