package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/stackforge/tenantry/internal/addon/domain"
	"github.com/stackforge/tenantry/internal/addon/repository"
	"github.com/stackforge/tenantry/internal/clock"
	"github.com/stackforge/tenantry/internal/config"
)

type noopInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (n *noopInvalidator) InvalidateTenant(context.Context, snowflake.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
}

type harness struct {
	db       *gorm.DB
	resolver domain.Resolver
	clock    *clock.FakeClock
	node     *snowflake.Node
	tenantID snowflake.ID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Addon{}, &domain.Install{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	h := &harness{
		db:       db,
		clock:    clk,
		node:     node,
		tenantID: node.Generate(),
	}
	h.resolver = New(Params{
		DB:          db,
		Node:        node,
		Repo:        repository.Provide(),
		Entitlement: config.NewStaticEntitlementConfigHolder(config.EntitlementConfig{}),
		Clock:       clk,
		Invalidator: &noopInvalidator{},
		Log:         zap.NewNop(),
	})

	h.seedAddon(t, "hrms", nil, 0)
	h.seedAddon(t, "crm", nil, 0)
	h.seedAddon(t, "payroll", []string{"hrms"}, 0)
	h.seedAddon(t, "recruitment", []string{"hrms"}, 14)
	h.seedAddon(t, "helpdesk", []string{"directory"}, 0)
	return h
}

func (h *harness) seedAddon(t *testing.T, code string, deps []string, trialDays int) {
	t.Helper()
	require.NoError(t, h.db.Create(&domain.Addon{
		ID:        h.node.Generate(),
		Code:      code,
		Name:      code,
		Status:    domain.AddonPublished,
		DependsOn: datatypes.JSONSlice[string](deps),
		TrialDays: trialDays,
	}).Error)
}

func (h *harness) setInstallState(t *testing.T, code string, state domain.InstallState, until *time.Time) {
	t.Helper()
	updates := map[string]any{"state": state}
	if until != nil {
		updates["grace_until"] = *until
	}
	res := h.db.Model(&domain.Install{}).
		Where("tenant_id = ? AND addon_code = ?", h.tenantID, code).
		Updates(updates)
	require.NoError(t, res.Error)
	require.EqualValues(t, 1, res.RowsAffected)
}

func TestCheckNotInstalled(t *testing.T) {
	h := newHarness(t)

	verdict, err := h.resolver.Check(context.Background(), h.tenantID, "hrms", domain.CheckOptions{})
	require.NoError(t, err)
	require.False(t, verdict.Entitled)
	require.Equal(t, domain.ReasonNotInstalled, verdict.Reason)
}

func TestCheckUnknownAddon(t *testing.T) {
	h := newHarness(t)

	_, err := h.resolver.Check(context.Background(), h.tenantID, "nonexistent", domain.CheckOptions{})
	require.ErrorIs(t, err, domain.ErrAddonNotFound)
}

func TestInstallAndCheckActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	install, err := h.resolver.Install(ctx, h.tenantID, "hrms")
	require.NoError(t, err)
	require.Equal(t, domain.InstallActive, install.State)
	require.NotNil(t, install.ExpiresAt)

	verdict, err := h.resolver.Check(ctx, h.tenantID, "hrms", domain.CheckOptions{})
	require.NoError(t, err)
	require.True(t, verdict.Entitled)
	require.Equal(t, domain.InstallActive, verdict.State)
}

func TestInstallStartsTrialOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.resolver.Install(ctx, h.tenantID, "hrms")
	require.NoError(t, err)

	install, err := h.resolver.Install(ctx, h.tenantID, "recruitment")
	require.NoError(t, err)
	require.Equal(t, domain.InstallTrial, install.State)
	require.NotNil(t, install.TrialEndsAt)
	require.Equal(t, h.clock.Now().AddDate(0, 0, 14), *install.TrialEndsAt)

	// A reinstall after cancelling skips the trial.
	_, err = h.resolver.Cancel(ctx, h.tenantID, "recruitment")
	require.NoError(t, err)
	again, err := h.resolver.Install(ctx, h.tenantID, "recruitment")
	require.NoError(t, err)
	require.Equal(t, domain.InstallActive, again.State)
	require.Nil(t, again.TrialEndsAt)
}

func TestInstallRejectsDuplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.resolver.Install(ctx, h.tenantID, "hrms")
	require.NoError(t, err)

	_, err = h.resolver.Install(ctx, h.tenantID, "hrms")
	require.ErrorIs(t, err, domain.ErrAddonAlreadyInstalled)
}

func TestInstallRequiresDependency(t *testing.T) {
	h := newHarness(t)

	_, err := h.resolver.Install(context.Background(), h.tenantID, "payroll")
	require.ErrorIs(t, err, domain.ErrAddonDependencyMissing)
}

func TestDependencyChainDominatesOwnState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.resolver.Install(ctx, h.tenantID, "hrms")
	require.NoError(t, err)
	_, err = h.resolver.Install(ctx, h.tenantID, "payroll")
	require.NoError(t, err)

	// Payroll itself stays active, but its dependency expires.
	h.setInstallState(t, "hrms", domain.InstallExpired, nil)

	verdict, err := h.resolver.Check(ctx, h.tenantID, "payroll", domain.CheckOptions{})
	require.NoError(t, err)
	require.False(t, verdict.Entitled)
	require.Equal(t, domain.ReasonDependencyExpired, verdict.Reason)
	require.Equal(t, "hrms", verdict.Dependency)

	// An uninstalled dependency reads as missing, not expired.
	require.NoError(t, h.db.Where("tenant_id = ? AND addon_code = ?", h.tenantID, "hrms").
		Delete(&domain.Install{}).Error)
	verdict, err = h.resolver.Check(ctx, h.tenantID, "payroll", domain.CheckOptions{})
	require.NoError(t, err)
	require.False(t, verdict.Entitled)
	require.Equal(t, domain.ReasonDependencyMissing, verdict.Reason)
	require.Equal(t, "hrms", verdict.Dependency)
}

func TestDirectoryCapabilitySatisfiedByEitherProvider(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	verdict, err := h.resolver.Check(ctx, h.tenantID, "directory", domain.CheckOptions{})
	require.NoError(t, err)
	require.False(t, verdict.Entitled)

	// CRM alone satisfies the directory requirement.
	_, err = h.resolver.Install(ctx, h.tenantID, "crm")
	require.NoError(t, err)
	verdict, err = h.resolver.Check(ctx, h.tenantID, "directory", domain.CheckOptions{})
	require.NoError(t, err)
	require.True(t, verdict.Entitled)

	install, err := h.resolver.Install(ctx, h.tenantID, "helpdesk")
	require.NoError(t, err)
	require.Equal(t, domain.InstallActive, install.State)
}

func TestGracePolicyGatesWrites(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.resolver.Install(ctx, h.tenantID, "hrms")
	require.NoError(t, err)

	until := h.clock.Now().AddDate(0, 0, 7)
	h.setInstallState(t, "hrms", domain.InstallGrace, &until)

	read, err := h.resolver.Check(ctx, h.tenantID, "hrms", domain.CheckOptions{Operation: domain.OpRead})
	require.NoError(t, err)
	require.True(t, read.Entitled)
	require.Equal(t, domain.ReasonInGrace, read.Reason)

	write, err := h.resolver.Check(ctx, h.tenantID, "hrms", domain.CheckOptions{Operation: domain.OpWrite})
	require.NoError(t, err)
	require.False(t, write.Entitled)
	require.Equal(t, domain.ReasonInGrace, write.Reason)

	allow, err := h.resolver.Check(ctx, h.tenantID, "hrms", domain.CheckOptions{
		Operation: domain.OpWrite,
		Grace:     domain.GraceAllow,
	})
	require.NoError(t, err)
	require.True(t, allow.Entitled)

	deny, err := h.resolver.Check(ctx, h.tenantID, "hrms", domain.CheckOptions{
		Operation: domain.OpRead,
		Grace:     domain.GraceDeny,
	})
	require.NoError(t, err)
	require.False(t, deny.Entitled)
}

func TestExtraDependencies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.resolver.Install(ctx, h.tenantID, "crm")
	require.NoError(t, err)

	verdict, err := h.resolver.Check(ctx, h.tenantID, "crm", domain.CheckOptions{
		ExtraDependencies: []string{"hrms"},
	})
	require.NoError(t, err)
	require.False(t, verdict.Entitled)
	require.Equal(t, domain.ReasonDependencyMissing, verdict.Reason)
	require.Equal(t, "hrms", verdict.Dependency)
}

func TestCancelRequiresInstall(t *testing.T) {
	h := newHarness(t)

	_, err := h.resolver.Cancel(context.Background(), h.tenantID, "hrms")
	require.ErrorIs(t, err, domain.ErrAddonNotInstalled)
}

func TestSweepWalksGraceThenExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.resolver.Install(ctx, h.tenantID, "hrms")
	require.NoError(t, err)

	// Nothing due yet.
	moved, err := h.resolver.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, moved)

	// Past the paid period: active moves into grace.
	h.clock.Advance(32 * 24 * time.Hour)
	moved, err = h.resolver.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, moved)

	var install domain.Install
	require.NoError(t, h.db.First(&install, "tenant_id = ? AND addon_code = ?", h.tenantID, "hrms").Error)
	require.Equal(t, domain.InstallGrace, install.State)
	require.NotNil(t, install.GraceUntil)

	// Past the grace window: grace moves to expired.
	h.clock.Advance(8 * 24 * time.Hour)
	moved, err = h.resolver.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, moved)

	require.NoError(t, h.db.First(&install, "tenant_id = ? AND addon_code = ?", h.tenantID, "hrms").Error)
	require.Equal(t, domain.InstallExpired, install.State)

	verdict, err := h.resolver.Check(ctx, h.tenantID, "hrms", domain.CheckOptions{})
	require.NoError(t, err)
	require.False(t, verdict.Entitled)
	require.Equal(t, domain.ReasonExpired, verdict.Reason)
}

func TestCancelledInstallReportsCancelled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.resolver.Install(ctx, h.tenantID, "hrms")
	require.NoError(t, err)
	_, err = h.resolver.Cancel(ctx, h.tenantID, "hrms")
	require.NoError(t, err)

	verdict, err := h.resolver.Check(ctx, h.tenantID, "hrms", domain.CheckOptions{})
	require.NoError(t, err)
	require.False(t, verdict.Entitled)
	require.Equal(t, domain.ReasonCancelled, verdict.Reason)
}

func TestLapsedTrialDeniesBeforeSweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.resolver.Install(ctx, h.tenantID, "hrms")
	require.NoError(t, err)
	install, err := h.resolver.Install(ctx, h.tenantID, "recruitment")
	require.NoError(t, err)
	require.Equal(t, domain.InstallTrial, install.State)

	// One day past the 14-day trial, before any sweep ran: reads ride the
	// grace window, writes do not.
	h.clock.Advance(15 * 24 * time.Hour)
	read, err := h.resolver.Check(ctx, h.tenantID, "recruitment", domain.CheckOptions{Operation: domain.OpRead})
	require.NoError(t, err)
	require.True(t, read.Entitled)
	require.Equal(t, domain.ReasonInGrace, read.Reason)

	write, err := h.resolver.Check(ctx, h.tenantID, "recruitment", domain.CheckOptions{Operation: domain.OpWrite})
	require.NoError(t, err)
	require.False(t, write.Entitled)

	// Past the grace window the trial is gone outright, and the reason
	// says which kind of term ran out.
	h.clock.Advance(7 * 24 * time.Hour)
	verdict, err := h.resolver.Check(ctx, h.tenantID, "recruitment", domain.CheckOptions{Operation: domain.OpRead})
	require.NoError(t, err)
	require.False(t, verdict.Entitled)
	require.Equal(t, domain.ReasonTrialExpired, verdict.Reason)
}

func TestListCatalogOnlyPublished(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.Create(&domain.Addon{
		ID:     h.node.Generate(),
		Code:   "beta-thing",
		Name:   "Beta",
		Status: domain.AddonDraft,
	}).Error)

	catalog, err := h.resolver.ListCatalog(context.Background())
	require.NoError(t, err)
	codes := make([]string, 0, len(catalog))
	for _, a := range catalog {
		codes = append(codes, a.Code)
	}
	require.NotContains(t, codes, "beta-thing")
	require.Contains(t, codes, "hrms")
}
