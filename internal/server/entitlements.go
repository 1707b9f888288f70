package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	addondomain "github.com/stackforge/tenantry/internal/addon/domain"
	"github.com/stackforge/tenantry/pkg/tenantctx"
)

// CheckAddon answers the add-on entitlement question for one capability.
// `?op=write` evaluates the verdict under write semantics, which matters
// for installs in their grace window.
func (s *Server) CheckAddon(c *gin.Context) {
	tenantID, ok := tenantctx.TenantID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	op := addondomain.OpRead
	if c.Query("op") == "write" {
		op = addondomain.OpWrite
	}

	verdict, err := s.addonSvc.Check(c.Request.Context(), tenantID, c.Param("slug"), addondomain.CheckOptions{
		Operation: op,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": verdict})
}

func (s *Server) CheckFeature(c *gin.Context) {
	tenantID, ok := tenantctx.TenantID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	code := c.Param("code")
	enabled, err := s.featureSvc.IsEnabled(c.Request.Context(), tenantID, code)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"code": code, "enabled": enabled}})
}

func (s *Server) ListEffectiveFeatures(c *gin.Context) {
	tenantID, ok := tenantctx.TenantID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	features, err := s.featureSvc.EffectiveFeatures(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	enabled := make([]string, 0, len(features))
	for code, on := range features {
		if on {
			enabled = append(enabled, code)
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"features": enabled}})
}

type featureOverrideRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetFeatureOverride flips a per-tenant override. Global flags cannot be
// overridden.
func (s *Server) SetFeatureOverride(c *gin.Context) {
	tenantID, ok := tenantctx.TenantID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req featureOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.featureSvc.SetOverride(c.Request.Context(), tenantID, c.Param("code"), *req.Enabled); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"code": c.Param("code"), "enabled": *req.Enabled}})
}

func (s *Server) ClearFeatureOverride(c *gin.Context) {
	tenantID, ok := tenantctx.TenantID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.featureSvc.ClearOverride(c.Request.Context(), tenantID, c.Param("code")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"code": c.Param("code"), "cleared": true}})
}
