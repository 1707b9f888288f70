package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	tenantdomain "github.com/stackforge/tenantry/internal/tenant/domain"
	"github.com/stackforge/tenantry/pkg/tenantctx"
)

// CreateTenant onboards a tenant owned by the calling user. Billing
// country is fixed at creation and drives plan visibility from then on.
func (s *Server) CreateTenant(c *gin.Context) {
	identity, ok := tenantctx.IdentityFromContext(c.Request.Context())
	if !ok || identity.UserID == 0 {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req tenantdomain.CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	tenant, err := s.tenantSvc.Create(c.Request.Context(), identity.UserID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tenant})
}

type issueAPIKeyRequest struct {
	Name string `json:"name" binding:"required"`
}

// IssueAPIKey mints a tenant API key. The plaintext appears in this
// response only; afterwards only the hash exists.
func (s *Server) IssueAPIKey(c *gin.Context) {
	identity, ok := tenantctx.IdentityFromContext(c.Request.Context())
	if !ok || !identity.HasTenant() {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req issueAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	plaintext, key, err := s.tenantSvc.IssueAPIKey(c.Request.Context(), identity.TenantID, identity.UserID, req.Name)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"key":       plaintext,
		"id":        key.ID,
		"name":      key.Name,
		"createdAt": key.CreatedAt,
	}})
}
