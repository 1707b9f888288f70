package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stackforge/tenantry/internal/cache"
	"github.com/stackforge/tenantry/internal/clock"
	"github.com/stackforge/tenantry/internal/config"
	"github.com/stackforge/tenantry/internal/feature/domain"
	"github.com/stackforge/tenantry/internal/observability/metrics"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Node        *snowflake.Node
	Repo        domain.Repository
	Store       cache.FeatureSetStore
	Tiers       domain.TierLookup
	Entitlement *config.EntitlementConfigHolder
	Clock       clock.Clock
	Metrics     *metrics.Metrics
	Log         *zap.Logger
}

type resolverImpl struct {
	db          *gorm.DB
	node        *snowflake.Node
	repo        domain.Repository
	store       cache.FeatureSetStore
	tiers       domain.TierLookup
	entitlement *config.EntitlementConfigHolder
	clock       clock.Clock
	metrics     *metrics.Metrics
	log         *zap.Logger
}

func New(p Params) domain.Resolver {
	return &resolverImpl{
		db:          p.DB,
		node:        p.Node,
		repo:        p.Repo,
		store:       p.Store,
		tiers:       p.Tiers,
		entitlement: p.Entitlement,
		clock:       p.Clock,
		metrics:     p.Metrics,
		log:         p.Log.Named("feature.resolver"),
	}
}

func (s *resolverImpl) EffectiveFeatures(ctx context.Context, tenantID snowflake.ID) (map[string]bool, error) {
	key := tenantID.String()
	if cached, ok, err := s.store.Get(ctx, key); err == nil && ok {
		s.metrics.ObserveFeatureCache(true)
		return cached, nil
	}
	s.metrics.ObserveFeatureCache(false)

	features, err := s.compute(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	ttl := s.entitlement.Current().FeatureCacheTTL
	if err := s.store.Set(ctx, key, features, ttl); err != nil {
		// Serving the computed set matters more than caching it.
		s.log.Warn("feature cache write failed", zap.String("tenant_id", key), zap.Error(err))
	}
	return features, nil
}

// compute builds the effective set from scratch: global flags, then tier
// defaults, then overrides. Global flags cannot be overridden off.
func (s *resolverImpl) compute(ctx context.Context, tenantID snowflake.ID) (map[string]bool, error) {
	flags, err := s.repo.ListFlags(ctx, s.db)
	if err != nil {
		return nil, err
	}
	tier, err := s.tiers.CurrentTier(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	overrides, err := s.repo.ListOverrides(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}

	byCode := make(map[string]domain.Flag, len(flags))
	features := make(map[string]bool)
	for _, flag := range flags {
		byCode[flag.Code] = flag
		if flag.Global {
			features[flag.Code] = true
			continue
		}
		if flag.DefaultEnabled && tier.Rank() >= flag.MinTier.Rank() {
			features[flag.Code] = true
		}
	}

	for _, o := range overrides {
		flag, known := byCode[o.Code]
		if !known {
			continue
		}
		if flag.Global {
			continue
		}
		if o.Enabled {
			features[o.Code] = true
		} else {
			delete(features, o.Code)
		}
	}
	return features, nil
}

func (s *resolverImpl) IsEnabled(ctx context.Context, tenantID snowflake.ID, code string) (bool, error) {
	features, err := s.EffectiveFeatures(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return features[code], nil
}

func (s *resolverImpl) SetOverride(ctx context.Context, tenantID snowflake.ID, code string, enabled bool) error {
	flag, err := s.repo.FindFlagByCode(ctx, s.db, code)
	if err != nil {
		return err
	}
	if flag == nil {
		return domain.ErrFeatureNotFound
	}
	if flag.Global {
		return domain.ErrFeatureGlobalLocked
	}

	now := s.clock.Now()
	override := &domain.Override{
		ID:        s.node.Generate(),
		TenantID:  tenantID,
		Code:      code,
		Enabled:   enabled,
		UpdatedAt: now,
	}
	if err := s.repo.UpsertOverride(ctx, s.db, override); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID)
	return nil
}

func (s *resolverImpl) ClearOverride(ctx context.Context, tenantID snowflake.ID, code string) error {
	if err := s.repo.DeleteOverride(ctx, s.db, tenantID, code); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID)
	return nil
}

func (s *resolverImpl) ListFlags(ctx context.Context) ([]domain.Flag, error) {
	return s.repo.ListFlags(ctx, s.db)
}

func (s *resolverImpl) invalidate(ctx context.Context, tenantID snowflake.ID) {
	if err := s.store.Invalidate(ctx, tenantID.String()); err != nil {
		s.log.Warn("feature cache invalidation failed",
			zap.Int64("tenant_id", int64(tenantID)), zap.Error(err))
	}
}
