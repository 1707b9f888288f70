package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/stackforge/tenantry/pkg/tenantctx"
)

var (
	ErrTenantNotFound     = errors.New("tenant_not_found")
	ErrUserNotFound       = errors.New("user_not_found")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInvalidAPIKey      = errors.New("invalid_api_key")
	ErrTenantNameRequired = errors.New("tenant_name_required")
	ErrInvalidCountryCode = errors.New("invalid_country_code")
)

type CreateTenantRequest struct {
	Name        string `json:"name" binding:"required"`
	CountryCode string `json:"countryCode" binding:"required"`
}

// Service manages tenant records and resolves credentials into the typed
// request identity.
type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Tenant, error)
	Create(ctx context.Context, ownerUserID snowflake.ID, req CreateTenantRequest) (*Tenant, error)

	// ResolveAPIKey maps a raw API key to the identity it represents,
	// stamping last_used_at as a side effect.
	ResolveAPIKey(ctx context.Context, rawKey string) (tenantctx.Identity, error)
	// ResolveUser builds the identity for an authenticated user id,
	// including tenant membership and billing country.
	ResolveUser(ctx context.Context, userID snowflake.ID) (tenantctx.Identity, error)

	// IssueAPIKey mints a new key for a tenant and returns the plaintext
	// once; only the hash is stored.
	IssueAPIKey(ctx context.Context, tenantID, userID snowflake.ID, name string) (string, *APIKey, error)
}
