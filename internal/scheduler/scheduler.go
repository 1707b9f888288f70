// Package scheduler runs the periodic sweeps: scheduled downgrades that
// have reached their effective time, and add-on installs lapsing into
// grace or expiry. A redis lock keeps concurrent replicas from sweeping
// the same batch.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	addondomain "github.com/stackforge/tenantry/internal/addon/domain"
	"github.com/stackforge/tenantry/internal/clock"
	"github.com/stackforge/tenantry/internal/observability/metrics"
	"github.com/stackforge/tenantry/internal/ratelimit"
	subscriptiondomain "github.com/stackforge/tenantry/internal/subscription/domain"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

const sweepLockKey = "tenantry:sweep"

type Config struct {
	RunInterval time.Duration
	BatchSize   int
	LockTTL     time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   50,
		LockTTL:     5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

type Params struct {
	fx.In

	Log             *zap.Logger
	SubscriptionSvc subscriptiondomain.Service
	AddonSvc        addondomain.Resolver
	Locker          *ratelimit.Locker
	Metrics         *metrics.Metrics
	Clock           clock.Clock
	Config          Config `optional:"true"`
}

type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	subscriptionSvc subscriptiondomain.Service
	addonSvc        addondomain.Resolver
	locker          *ratelimit.Locker
	metrics         *metrics.Metrics
	clock           clock.Clock
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.SubscriptionSvc == nil || p.AddonSvc == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:             p.Log.Named("scheduler"),
		cfg:             p.Config.withDefaults(),
		subscriptionSvc: p.SubscriptionSvc,
		addonSvc:        p.AddonSvc,
		locker:          p.Locker,
		metrics:         p.Metrics,
		clock:           p.Clock,
	}, nil
}

// RunForever ticks until the context is cancelled. Each tick runs one
// sweep under the process lock; a replica that loses the lock skips the
// tick instead of waiting.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *Scheduler) RunOnce(ctx context.Context) {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.LockTTL)
		if err != nil {
			s.log.Warn("sweep lock unavailable, running unlocked", zap.Error(err))
		} else if !ok {
			return
		} else {
			defer func() {
				if err := s.locker.Release(ctx, sweepLockKey, token); err != nil {
					s.log.Warn("sweep lock release failed", zap.Error(err))
				}
			}()
		}
	}

	s.sweepDowngrades(ctx)
	s.sweepAddons(ctx)
}

func (s *Scheduler) sweepDowngrades(ctx context.Context) {
	started := s.clock.Now()
	applied, err := s.subscriptionSvc.ApplyDueDowngrades(ctx, s.cfg.BatchSize)
	if err != nil {
		s.metrics.ObserveSweep("downgrade", "error")
		s.log.Error("downgrade sweep failed", zap.Error(err))
		return
	}
	s.metrics.ObserveSweep("downgrade", "ok")
	if applied > 0 {
		s.log.Info("downgrade sweep applied",
			zap.Int("count", applied),
			zap.Duration("took", s.clock.Now().Sub(started)),
		)
	}
}

func (s *Scheduler) sweepAddons(ctx context.Context) {
	started := s.clock.Now()
	transitioned, err := s.addonSvc.Sweep(ctx)
	if err != nil {
		s.metrics.ObserveSweep("addon", "error")
		s.log.Error("addon sweep failed", zap.Error(err))
		return
	}
	s.metrics.ObserveSweep("addon", "ok")
	if transitioned > 0 {
		s.log.Info("addon sweep transitioned",
			zap.Int("count", transitioned),
			zap.Duration("took", s.clock.Now().Sub(started)),
		)
	}
}
