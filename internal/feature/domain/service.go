package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/stackforge/tenantry/internal/plan/domain"
)

var (
	ErrFeatureNotFound     = errors.New("feature_not_found")
	ErrFeatureGlobalLocked = errors.New("feature_global_locked")
	ErrFeatureNotEntitled  = errors.New("feature_not_entitled")
)

// TierLookup reports a tenant's current plan tier. Implemented by the
// subscription lifecycle manager; accepted here to keep the resolver free
// of a direct dependency on it.
type TierLookup interface {
	CurrentTier(ctx context.Context, tenantID snowflake.ID) (plandomain.Tier, error)
}

// Resolver computes a tenant's effective feature set.
type Resolver interface {
	// EffectiveFeatures returns the enabled feature codes for the tenant.
	// Results are cached; any subscription or override change invalidates
	// the tenant's entry synchronously.
	EffectiveFeatures(ctx context.Context, tenantID snowflake.ID) (map[string]bool, error)
	IsEnabled(ctx context.Context, tenantID snowflake.ID, code string) (bool, error)

	SetOverride(ctx context.Context, tenantID snowflake.ID, code string, enabled bool) error
	ClearOverride(ctx context.Context, tenantID snowflake.ID, code string) error

	ListFlags(ctx context.Context) ([]Flag, error)
}
