package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stackforge/tenantry/internal/addon/domain"
	"github.com/stackforge/tenantry/internal/clock"
	"github.com/stackforge/tenantry/internal/config"
	subscriptiondomain "github.com/stackforge/tenantry/internal/subscription/domain"
)

// Default paid term for an install without country-specific settings.
const defaultTermMonths = 1

type Params struct {
	fx.In

	DB          *gorm.DB
	Node        *snowflake.Node
	Repo        domain.Repository
	Entitlement *config.EntitlementConfigHolder
	Clock       clock.Clock
	Invalidator subscriptiondomain.FeatureCacheInvalidator
	Log         *zap.Logger
}

type resolverImpl struct {
	db          *gorm.DB
	node        *snowflake.Node
	repo        domain.Repository
	entitlement *config.EntitlementConfigHolder
	clock       clock.Clock
	invalidator subscriptiondomain.FeatureCacheInvalidator
	log         *zap.Logger
}

func New(p Params) domain.Resolver {
	return &resolverImpl{
		db:          p.DB,
		node:        p.Node,
		repo:        p.Repo,
		entitlement: p.Entitlement,
		clock:       p.Clock,
		invalidator: p.Invalidator,
		log:         p.Log.Named("addon.resolver"),
	}
}

func (s *resolverImpl) Check(ctx context.Context, tenantID snowflake.ID, code string, opts domain.CheckOptions) (*domain.Verdict, error) {
	return s.check(ctx, tenantID, slug.Make(code), opts, map[string]bool{})
}

func (s *resolverImpl) check(ctx context.Context, tenantID snowflake.ID, code string, opts domain.CheckOptions, visited map[string]bool) (*domain.Verdict, error) {
	if visited[code] {
		// Dependency cycle in the catalog; treat the repeated node as
		// satisfied so resolution terminates.
		return &domain.Verdict{Entitled: true}, nil
	}
	visited[code] = true

	if code == domain.DirectoryCapability {
		return s.checkDirectory(ctx, tenantID, opts, visited)
	}

	addon, err := s.repo.FindAddonByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if addon == nil {
		return nil, domain.ErrAddonNotFound
	}

	deps := append([]string{}, addon.DependsOn...)
	deps = append(deps, opts.ExtraDependencies...)
	for _, dep := range deps {
		depOpts := domain.CheckOptions{Operation: opts.Operation, Grace: opts.Grace}
		verdict, err := s.check(ctx, tenantID, slug.Make(dep), depOpts, visited)
		if err != nil {
			return nil, err
		}
		if !verdict.Entitled {
			reason := domain.ReasonDependencyMissing
			if verdict.Reason == domain.ReasonExpired || verdict.Reason == domain.ReasonTrialExpired ||
				verdict.Reason == domain.ReasonInGrace {
				reason = domain.ReasonDependencyExpired
			}
			return &domain.Verdict{
				Entitled:   false,
				Reason:     reason,
				Dependency: dep,
			}, nil
		}
	}

	install, err := s.repo.FindInstall(ctx, s.db, tenantID, code)
	if err != nil {
		return nil, err
	}
	return s.verdictFor(install, opts), nil
}

// checkDirectory grants the directory capability when any provider addon
// is entitled. The first provider's verdict is reported when none are.
func (s *resolverImpl) checkDirectory(ctx context.Context, tenantID snowflake.ID, opts domain.CheckOptions, visited map[string]bool) (*domain.Verdict, error) {
	var first *domain.Verdict
	for _, provider := range domain.DirectoryProviders {
		verdict, err := s.check(ctx, tenantID, provider, opts, visited)
		if err != nil {
			return nil, err
		}
		if verdict.Entitled {
			return verdict, nil
		}
		if first == nil {
			first = verdict
		}
	}
	return first, nil
}

// verdictFor evaluates expiry against the clock, not just the stored
// state, so a trial or term that lapsed between sweeps denies (or drops
// to grace) immediately instead of waiting for the next sweep.
func (s *resolverImpl) verdictFor(install *domain.Install, opts domain.CheckOptions) *domain.Verdict {
	if install == nil {
		return &domain.Verdict{Entitled: false, Reason: domain.ReasonNotInstalled}
	}

	now := s.clock.Now()
	verdict := &domain.Verdict{State: install.State}
	switch install.State {
	case domain.InstallTrial, domain.InstallActive:
		expiry := install.ExpiresAt
		if install.State == domain.InstallTrial && install.TrialEndsAt != nil {
			expiry = install.TrialEndsAt
		}
		if expiry == nil || expiry.After(now) {
			verdict.Entitled = true
			verdict.ValidUntil = expiry
			return verdict
		}
		// Lapsed but not yet swept: the sweep would move it into grace.
		graceUntil := expiry.AddDate(0, 0, s.entitlement.Current().AddonGraceDays)
		if graceUntil.After(now) {
			verdict.Reason = domain.ReasonInGrace
			verdict.ValidUntil = &graceUntil
			verdict.Entitled = opts.Grace.Allows(opts.Operation)
			return verdict
		}
		verdict.Reason = expiredReason(install)
	case domain.InstallGrace:
		if install.GraceUntil != nil && !install.GraceUntil.After(now) {
			verdict.Reason = expiredReason(install)
			return verdict
		}
		verdict.ValidUntil = install.GraceUntil
		verdict.Reason = domain.ReasonInGrace
		verdict.Entitled = opts.Grace.Allows(opts.Operation)
	case domain.InstallExpired:
		verdict.Reason = expiredReason(install)
	case domain.InstallCancelled:
		verdict.Reason = domain.ReasonCancelled
	default:
		verdict.Reason = domain.ReasonDisabled
	}
	return verdict
}

// expiredReason distinguishes a trial that ran out from a paid term that
// ran out. The trial case is recognizable by the term ending at the trial
// end.
func expiredReason(install *domain.Install) domain.ReasonCode {
	if install.TrialEndsAt != nil && install.ExpiresAt != nil && !install.ExpiresAt.After(*install.TrialEndsAt) {
		return domain.ReasonTrialExpired
	}
	return domain.ReasonExpired
}

func (s *resolverImpl) Install(ctx context.Context, tenantID snowflake.ID, code string) (*domain.Install, error) {
	code = slug.Make(code)
	now := s.clock.Now()

	addon, err := s.repo.FindAddonByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if addon == nil {
		return nil, domain.ErrAddonNotFound
	}
	if addon.Status != domain.AddonPublished {
		return nil, domain.ErrAddonNotPublished
	}

	for _, dep := range addon.DependsOn {
		verdict, err := s.check(ctx, tenantID, slug.Make(dep), domain.CheckOptions{}, map[string]bool{code: true})
		if err != nil {
			return nil, err
		}
		if !verdict.Entitled {
			if verdict.Reason == domain.ReasonExpired || verdict.Reason == domain.ReasonTrialExpired ||
				verdict.Reason == domain.ReasonInGrace || verdict.Reason == domain.ReasonDependencyExpired {
				return nil, domain.ErrAddonDependencyExpired
			}
			return nil, domain.ErrAddonDependencyMissing
		}
	}

	var install *domain.Install
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindInstall(ctx, tx, tenantID, code)
		if err != nil {
			return err
		}
		if existing != nil && existing.Usable(true) {
			return domain.ErrAddonAlreadyInstalled
		}

		if existing != nil {
			// Reinstall after expiry or cancel. No second trial.
			expires := now.AddDate(0, defaultTermMonths, 0)
			existing.State = domain.InstallActive
			existing.PeriodStart = &now
			existing.TrialEndsAt = nil
			existing.ExpiresAt = &expires
			existing.GraceUntil = nil
			existing.UpdatedAt = now
			install = existing
			return s.repo.SaveInstall(ctx, tx, existing)
		}

		install = &domain.Install{
			ID:          s.node.Generate(),
			TenantID:    tenantID,
			AddonCode:   code,
			PeriodStart: &now,
		}
		if addon.TrialDays > 0 {
			trialEnd := now.AddDate(0, 0, addon.TrialDays)
			install.State = domain.InstallTrial
			install.TrialEndsAt = &trialEnd
			install.ExpiresAt = &trialEnd
		} else {
			expires := now.AddDate(0, defaultTermMonths, 0)
			install.State = domain.InstallActive
			install.ExpiresAt = &expires
		}
		return s.repo.CreateInstall(ctx, tx, install)
	})
	if err != nil {
		return nil, err
	}

	s.invalidator.InvalidateTenant(ctx, tenantID)
	s.log.Info("addon installed",
		zap.Int64("tenant_id", int64(tenantID)),
		zap.String("addon", code),
		zap.String("state", string(install.State)))
	return install, nil
}

func (s *resolverImpl) Cancel(ctx context.Context, tenantID snowflake.ID, code string) (*domain.Install, error) {
	code = slug.Make(code)
	now := s.clock.Now()

	var install *domain.Install
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindInstall(ctx, tx, tenantID, code)
		if err != nil {
			return err
		}
		if existing == nil {
			return domain.ErrAddonNotInstalled
		}
		existing.State = domain.InstallCancelled
		existing.GraceUntil = nil
		existing.UpdatedAt = now
		install = existing
		return s.repo.SaveInstall(ctx, tx, existing)
	})
	if err != nil {
		return nil, err
	}

	s.invalidator.InvalidateTenant(ctx, tenantID)
	return install, nil
}

func (s *resolverImpl) ListInstalls(ctx context.Context, tenantID snowflake.ID) ([]domain.Install, error) {
	return s.repo.ListInstalls(ctx, s.db, tenantID)
}

func (s *resolverImpl) ListCatalog(ctx context.Context) ([]domain.Addon, error) {
	return s.repo.ListPublished(ctx, s.db)
}

func (s *resolverImpl) Sweep(ctx context.Context) (int, error) {
	now := s.clock.Now()
	graceDays := s.entitlement.Current().AddonGraceDays
	graceUntil := now.AddDate(0, 0, graceDays)

	var moved int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		intoGrace, err := s.repo.ExpireIntoGrace(ctx, tx, now, graceUntil)
		if err != nil {
			return err
		}
		expired, err := s.repo.ExpireGrace(ctx, tx, now)
		if err != nil {
			return err
		}
		moved = intoGrace + expired
		return nil
	})
	if err != nil {
		return 0, err
	}

	if moved > 0 {
		tenants, err := s.repo.TenantsWithInstallsIn(ctx, s.db,
			[]domain.InstallState{domain.InstallGrace, domain.InstallExpired}, now)
		if err == nil {
			for _, tid := range tenants {
				s.invalidator.InvalidateTenant(ctx, tid)
			}
		}
		s.log.Info("addon sweep transitioned installs", zap.Int64("count", moved))
	}
	return int(moved), nil
}
