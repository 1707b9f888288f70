package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	plandomain "github.com/stackforge/tenantry/internal/plan/domain"
	"github.com/stackforge/tenantry/pkg/tenantctx"
)

// ListPlans is public. The country filter comes from the query string,
// falling back to the caller's billing country when authenticated.
func (s *Server) ListPlans(c *gin.Context) {
	country := strings.ToUpper(strings.TrimSpace(c.Query("country")))
	if country == "" {
		country = tenantctx.CountryCode(c.Request.Context())
	}

	plans, err := s.planSvc.ListPublic(c.Request.Context(), plandomain.ListPlansRequest{CountryCode: country})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plans})
}

// Quote prices a plan change without touching any state.
func (s *Server) Quote(c *gin.Context) {
	var req plandomain.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.CountryCode == "" {
		req.CountryCode = tenantctx.CountryCode(c.Request.Context())
	}

	quote, err := s.planSvc.Quote(c.Request.Context(), req, s.nowUTC())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quote})
}
