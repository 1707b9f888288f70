package feature

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/stackforge/tenantry/internal/cache"
	"github.com/stackforge/tenantry/internal/feature/domain"
	"github.com/stackforge/tenantry/internal/feature/repository"
	"github.com/stackforge/tenantry/internal/feature/service"
	subscriptiondomain "github.com/stackforge/tenantry/internal/subscription/domain"
)

var Module = fx.Module("feature",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(ProvideTierLookup),
	fx.Provide(ProvideCacheInvalidator),
)

// ProvideTierLookup exposes the subscription manager's tier answer to the
// resolver.
func ProvideTierLookup(subs subscriptiondomain.Service) domain.TierLookup {
	return subs
}

type cacheInvalidator struct {
	store cache.FeatureSetStore
	log   *zap.Logger
}

// ProvideCacheInvalidator drops cached feature sets when entitlements
// change. It wraps the store directly so the subscription manager does
// not depend on the resolver.
func ProvideCacheInvalidator(store cache.FeatureSetStore, log *zap.Logger) subscriptiondomain.FeatureCacheInvalidator {
	return &cacheInvalidator{store: store, log: log.Named("feature.invalidator")}
}

func (i *cacheInvalidator) InvalidateTenant(ctx context.Context, tenantID snowflake.ID) {
	if err := i.store.Invalidate(ctx, tenantID.String()); err != nil {
		i.log.Warn("feature cache invalidation failed",
			zap.Int64("tenant_id", int64(tenantID)), zap.Error(err))
	}
}
