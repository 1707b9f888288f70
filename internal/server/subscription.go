package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	subscriptiondomain "github.com/stackforge/tenantry/internal/subscription/domain"
	"github.com/stackforge/tenantry/pkg/tenantctx"
)

// GetSubscription returns the tenant's subscription. Users without a
// tenant get a soft 200 so onboarding clients can branch on it.
func (s *Server) GetSubscription(c *gin.Context) {
	tenantID, ok := tenantctx.TenantID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"data":                gin.H{"status": "NO_TENANT"},
			"requiresTenantSetup": true,
		})
		return
	}

	sub, err := s.subscriptionSvc.Get(c.Request.Context(), tenantID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrNoSubscription) {
			c.JSON(http.StatusOK, gin.H{"data": nil})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) SelectPlan(c *gin.Context) {
	tenantID, ok := tenantctx.TenantID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"error":               gin.H{"type": "NO_TENANT"},
			"requiresTenantSetup": true,
		})
		return
	}

	var req subscriptiondomain.SelectPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.subscriptionSvc.SelectPlan(c.Request.Context(), tenantID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ChangeSubscription(c *gin.Context) {
	tenantID, ok := tenantctx.TenantID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req subscriptiondomain.ChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.subscriptionSvc.Change(c.Request.Context(), tenantID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) CancelDowngrade(c *gin.Context) {
	tenantID, ok := tenantctx.TenantID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	sub, err := s.subscriptionSvc.CancelDowngrade(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) CancelPendingUpgrade(c *gin.Context) {
	tenantID, ok := tenantctx.TenantID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	sub, err := s.subscriptionSvc.CancelPendingUpgrade(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	tenantID, ok := tenantctx.TenantID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	sub, err := s.subscriptionSvc.Cancel(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}
