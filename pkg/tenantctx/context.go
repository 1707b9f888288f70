// Package tenantctx carries the authenticated tenant identity through a
// request. Handlers and the access gate read from here instead of poking
// loosely typed values onto the request.
package tenantctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type identityKey struct{}

// Identity is the fully resolved caller produced by authentication and
// tenant resolution. UserID is the acting user; TenantID is zero when the
// user has not completed tenant setup yet.
type Identity struct {
	UserID      snowflake.ID
	TenantID    snowflake.ID
	CountryCode string
	Role        string
}

// HasTenant reports whether the caller is bound to a tenant.
func (id Identity) HasTenant() bool {
	return id.TenantID != 0
}

// WithIdentity stores the resolved identity in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the resolved identity, if present.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// TenantID returns the active tenant id from context, if set.
func TenantID(ctx context.Context) (snowflake.ID, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok || id.TenantID == 0 {
		return 0, false
	}
	return id.TenantID, true
}

// CountryCode returns the tenant billing country, upper-cased.
func CountryCode(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return strings.ToUpper(strings.TrimSpace(id.CountryCode))
}
