package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	tenantdomain "github.com/stackforge/tenantry/internal/tenant/domain"
	"github.com/stackforge/tenantry/pkg/tenantctx"
)

// AuthMiddleware resolves the caller into a typed identity. API keys win
// over the user header; requests with neither pass through anonymous and
// fail later wherever identity is required.
func AuthMiddleware(tenants tenantdomain.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if rawKey := apiKeyFromRequest(c); rawKey != "" {
			identity, err := tenants.ResolveAPIKey(ctx, rawKey)
			if err != nil {
				AbortWithError(c, tenantdomain.ErrInvalidAPIKey)
				return
			}
			c.Request = c.Request.WithContext(tenantctx.WithIdentity(ctx, identity))
			c.Next()
			return
		}

		if rawUser := strings.TrimSpace(c.GetHeader("X-User-ID")); rawUser != "" {
			userID, err := snowflake.ParseString(rawUser)
			if err != nil || userID == 0 {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			identity, err := tenants.ResolveUser(ctx, userID)
			if err != nil {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			c.Request = c.Request.WithContext(tenantctx.WithIdentity(ctx, identity))
		}

		c.Next()
	}
}

func apiKeyFromRequest(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader("X-API-Key")); key != "" {
		return key
	}
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(auth, "Bearer tk_") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// RequireIdentity rejects anonymous requests.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := tenantctx.IdentityFromContext(c.Request.Context())
		if !ok || identity.UserID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
