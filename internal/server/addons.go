package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stackforge/tenantry/pkg/tenantctx"
)

func (s *Server) ListAddonCatalog(c *gin.Context) {
	addons, err := s.addonSvc.ListCatalog(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": addons})
}

func (s *Server) ListInstalledAddons(c *gin.Context) {
	tenantID, ok := tenantctx.TenantID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	installs, err := s.addonSvc.ListInstalls(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": installs})
}

func (s *Server) InstallAddon(c *gin.Context) {
	tenantID, ok := tenantctx.TenantID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	install, err := s.addonSvc.Install(c.Request.Context(), tenantID, c.Param("slug"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": install})
}

func (s *Server) CancelAddon(c *gin.Context) {
	tenantID, ok := tenantctx.TenantID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	install, err := s.addonSvc.Cancel(c.Request.Context(), tenantID, c.Param("slug"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": install})
}
