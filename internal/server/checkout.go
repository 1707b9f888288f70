package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	subscriptiondomain "github.com/stackforge/tenantry/internal/subscription/domain"
	"github.com/stackforge/tenantry/pkg/tenantctx"
)

// CreateCheckout opens the provider order for the tenant's pending
// payment without the client having to carry the payment id around.
func (s *Server) CreateCheckout(c *gin.Context) {
	tenantID, ok := tenantctx.TenantID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	sub, err := s.subscriptionSvc.Get(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if sub.PendingPaymentID == nil {
		AbortWithError(c, subscriptiondomain.ErrPaymentNotFound)
		return
	}

	order, err := s.subscriptionSvc.StartCheckout(c.Request.Context(), tenantID, *sub.PendingPaymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

type startCheckoutRequest struct {
	PaymentID snowflake.ID `json:"paymentId" binding:"required"`
}

// StartCheckout creates or replays the provider order for an explicit
// payment. Retries return the same order.
func (s *Server) StartCheckout(c *gin.Context) {
	tenantID, ok := tenantctx.TenantID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req startCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	order, err := s.subscriptionSvc.StartCheckout(c.Request.Context(), tenantID, req.PaymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) VerifyCheckout(c *gin.Context) {
	tenantID, ok := tenantctx.TenantID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req subscriptiondomain.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	sub, err := s.subscriptionSvc.VerifyPayment(c.Request.Context(), tenantID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}
