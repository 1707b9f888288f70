package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stackforge/tenantry/internal/clock"
	"github.com/stackforge/tenantry/internal/tenant/domain"
	"github.com/stackforge/tenantry/internal/tenant/repository"
)

type tenantHarness struct {
	db    *gorm.DB
	svc   domain.Service
	node  *snowflake.Node
	clock *clock.FakeClock
}

func newTenantHarness(t *testing.T) *tenantHarness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Tenant{}, &domain.User{}, &domain.Member{}, &domain.APIKey{},
	))

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	svc := New(Params{
		DB:    db,
		Node:  node,
		Repo:  repository.Provide(),
		Clock: fake,
		Log:   zap.NewNop(),
	})
	return &tenantHarness{db: db, svc: svc, node: node, clock: fake}
}

func (h *tenantHarness) seedUser(t *testing.T, email string) *domain.User {
	t.Helper()
	user := &domain.User{ID: h.node.Generate(), Email: email}
	require.NoError(t, h.db.Create(user).Error)
	return user
}

func TestCreateValidatesInput(t *testing.T) {
	h := newTenantHarness(t)
	owner := h.seedUser(t, "owner@example.com")

	_, err := h.svc.Create(context.Background(), owner.ID, domain.CreateTenantRequest{
		Name: "  ", CountryCode: "US",
	})
	require.ErrorIs(t, err, domain.ErrTenantNameRequired)

	_, err = h.svc.Create(context.Background(), owner.ID, domain.CreateTenantRequest{
		Name: "Acme", CountryCode: "USA",
	})
	require.ErrorIs(t, err, domain.ErrInvalidCountryCode)
}

func TestCreateBindsOwnerMembership(t *testing.T) {
	h := newTenantHarness(t)
	owner := h.seedUser(t, "owner@example.com")

	tenant, err := h.svc.Create(context.Background(), owner.ID, domain.CreateTenantRequest{
		Name: " Acme ", CountryCode: "us",
	})
	require.NoError(t, err)
	require.Equal(t, "Acme", tenant.Name)
	require.Equal(t, "US", tenant.CountryCode)

	identity, err := h.svc.ResolveUser(context.Background(), owner.ID)
	require.NoError(t, err)
	require.Equal(t, tenant.ID, identity.TenantID)
	require.Equal(t, "US", identity.CountryCode)
	require.Equal(t, "owner", identity.Role)
}

func TestResolveUserWithoutTenant(t *testing.T) {
	h := newTenantHarness(t)
	user := h.seedUser(t, "solo@example.com")

	identity, err := h.svc.ResolveUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, user.ID, identity.UserID)
	require.Zero(t, identity.TenantID)

	_, err = h.svc.ResolveUser(context.Background(), h.node.Generate())
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestAPIKeyRoundTrip(t *testing.T) {
	h := newTenantHarness(t)
	owner := h.seedUser(t, "owner@example.com")
	tenant, err := h.svc.Create(context.Background(), owner.ID, domain.CreateTenantRequest{
		Name: "Acme", CountryCode: "US",
	})
	require.NoError(t, err)

	plain, key, err := h.svc.IssueAPIKey(context.Background(), tenant.ID, owner.ID, "ci")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(plain, "tk_"))
	require.Equal(t, domain.HashAPIKey(plain), key.KeyHash)

	identity, err := h.svc.ResolveAPIKey(context.Background(), plain)
	require.NoError(t, err)
	require.Equal(t, tenant.ID, identity.TenantID)
	require.Equal(t, owner.ID, identity.UserID)
	require.Equal(t, "US", identity.CountryCode)

	var stored domain.APIKey
	require.NoError(t, h.db.Where("id = ?", key.ID).First(&stored).Error)
	require.NotNil(t, stored.LastUsedAt)
}

func TestResolveAPIKeyRejections(t *testing.T) {
	h := newTenantHarness(t)
	owner := h.seedUser(t, "owner@example.com")
	tenant, err := h.svc.Create(context.Background(), owner.ID, domain.CreateTenantRequest{
		Name: "Acme", CountryCode: "US",
	})
	require.NoError(t, err)

	_, err = h.svc.ResolveAPIKey(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrInvalidAPIKey)

	_, err = h.svc.ResolveAPIKey(context.Background(), "tk_bogus")
	require.ErrorIs(t, err, domain.ErrInvalidAPIKey)

	plain, key, err := h.svc.IssueAPIKey(context.Background(), tenant.ID, owner.ID, "ci")
	require.NoError(t, err)

	expires := h.clock.Now().Add(time.Hour)
	require.NoError(t, h.db.Model(&domain.APIKey{}).
		Where("id = ?", key.ID).
		Update("expires_at", expires).Error)
	_, err = h.svc.ResolveAPIKey(context.Background(), plain)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Hour)
	_, err = h.svc.ResolveAPIKey(context.Background(), plain)
	require.ErrorIs(t, err, domain.ErrInvalidAPIKey)

	revoked, rkey, err := h.svc.IssueAPIKey(context.Background(), tenant.ID, owner.ID, "old")
	require.NoError(t, err)
	require.NoError(t, h.db.Model(&domain.APIKey{}).
		Where("id = ?", rkey.ID).
		Update("is_active", false).Error)
	_, err = h.svc.ResolveAPIKey(context.Background(), revoked)
	require.ErrorIs(t, err, domain.ErrInvalidAPIKey)
}
