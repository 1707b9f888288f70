package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stackforge/tenantry/internal/clock"
	"github.com/stackforge/tenantry/internal/payment/gateway"
	plandomain "github.com/stackforge/tenantry/internal/plan/domain"
	planrepository "github.com/stackforge/tenantry/internal/plan/repository"
	planservice "github.com/stackforge/tenantry/internal/plan/service"
	"github.com/stackforge/tenantry/internal/subscription/domain"
	"github.com/stackforge/tenantry/internal/subscription/repository"
	"github.com/stackforge/tenantry/pkg/tenantctx"
)

type recordingInvalidator struct {
	mu      sync.Mutex
	tenants []snowflake.ID
}

func (r *recordingInvalidator) InvalidateTenant(_ context.Context, tenantID snowflake.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants = append(r.tenants, tenantID)
}

func (r *recordingInvalidator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tenants)
}

type fixture struct {
	db          *gorm.DB
	svc         domain.Service
	plans       plandomain.Service
	clock       *clock.FakeClock
	invalidator *recordingInvalidator
	node        *snowflake.Node

	freePlan       *plandomain.Plan
	starterPlan    *plandomain.Plan
	proPlan        *plandomain.Plan
	enterprisePlan *plandomain.Plan
	foreignPlan    *plandomain.Plan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	// A plain :memory: DSN gives every pooled connection its own empty
	// database; a named shared-cache DSN keeps one database visible to all
	// connections, including the ones transactions pin.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&plandomain.Plan{},
		&plandomain.PlanPrice{},
		&plandomain.Coupon{},
		&domain.Subscription{},
		&domain.Payment{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	inv := &recordingInvalidator{}

	plans := planservice.New(planservice.Params{
		DB:   db,
		Log:  zap.NewNop(),
		Repo: planrepository.Provide(),
	})

	f := &fixture{
		db:          db,
		plans:       plans,
		clock:       clk,
		invalidator: inv,
		node:        node,
	}

	f.freePlan = f.seedPlan(t, "us-free", "US", plandomain.TierFree, 0, "USD")
	f.starterPlan = f.seedPlan(t, "us-starter", "US", plandomain.TierStarter, 2900, "USD")
	f.proPlan = f.seedPlan(t, "us-pro", "US", plandomain.TierPro, 9900, "USD")
	f.enterprisePlan = f.seedPlan(t, "us-enterprise", "US", plandomain.TierEnterprise, 19900, "USD")
	f.foreignPlan = f.seedPlan(t, "in-starter", "IN", plandomain.TierStarter, 99900, "INR")

	f.svc = New(Params{
		DB:          db,
		Node:        node,
		Repo:        repository.Provide(),
		Plans:       plans,
		Gateway:     gateway.NewMock(),
		Clock:       clk,
		Invalidator: inv,
		Log:         zap.NewNop(),
	})
	return f
}

func (f *fixture) seedPlan(t *testing.T, code, country string, tier plandomain.Tier, price int64, currency string) *plandomain.Plan {
	t.Helper()
	plan := &plandomain.Plan{
		ID:             f.node.Generate(),
		Code:           code,
		CountryCode:    country,
		Tier:           tier,
		Name:           code,
		BasePriceCents: price,
		Currency:       currency,
		Active:         true,
		Public:         true,
	}
	require.NoError(t, f.db.Create(plan).Error)
	return plan
}

func (f *fixture) ctx(tenantID snowflake.ID) context.Context {
	return tenantctx.WithIdentity(context.Background(), tenantctx.Identity{
		UserID:      f.node.Generate(),
		TenantID:    tenantID,
		CountryCode: "US",
		Role:        "owner",
	})
}

// activate walks a tenant through the full priced purchase so later tests
// can start from an active subscription.
func (f *fixture) activate(t *testing.T, tenantID snowflake.ID, planCode string) *domain.Subscription {
	t.Helper()
	ctx := f.ctx(tenantID)

	result, err := f.svc.SelectPlan(ctx, tenantID, domain.SelectPlanRequest{PlanCode: planCode})
	require.NoError(t, err)
	require.True(t, result.RequiresPayment)

	order, err := f.svc.StartCheckout(ctx, tenantID, result.Payment.ID)
	require.NoError(t, err)

	sub, err := f.svc.VerifyPayment(ctx, tenantID, domain.VerifyPaymentRequest{
		PaymentID:         result.Payment.ID,
		ProviderOrderID:   order.OrderID,
		ProviderPaymentID: "pay_" + result.Payment.ID.String(),
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, sub.Status)
	return sub
}

func TestSelectPlanFreeActivatesImmediately(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()

	result, err := f.svc.SelectPlan(f.ctx(tenantID), tenantID, domain.SelectPlanRequest{PlanCode: "us-free"})
	require.NoError(t, err)

	require.False(t, result.RequiresPayment)
	require.Nil(t, result.Payment)
	require.Equal(t, domain.StatusActive, result.Subscription.Status)
	require.Equal(t, f.freePlan.ID, result.Subscription.PlanID)

	// Free plans should effectively never expire.
	require.True(t, result.Subscription.CurrentPeriodEnd.After(f.clock.Now().AddDate(90, 0, 0)))
	require.Equal(t, 1, f.invalidator.count())
}

func TestSelectPlanPricedCreatesPendingPayment(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)

	result, err := f.svc.SelectPlan(ctx, tenantID, domain.SelectPlanRequest{PlanCode: "us-starter"})
	require.NoError(t, err)

	require.True(t, result.RequiresPayment)
	require.Equal(t, domain.StatusPendingPayment, result.Subscription.Status)
	require.Equal(t, domain.PaymentCreated, result.Payment.Status)
	require.Equal(t, int64(2900), result.Payment.AmountCents)
	require.NotNil(t, result.Subscription.PendingPaymentID)
	require.Equal(t, result.Payment.ID, *result.Subscription.PendingPaymentID)

	// Reselecting while pending reuses the open payment.
	again, err := f.svc.SelectPlan(ctx, tenantID, domain.SelectPlanRequest{PlanCode: "us-starter"})
	require.NoError(t, err)
	require.Equal(t, result.Payment.ID, again.Payment.ID)
}

func TestSelectPlanRejectsExistingSubscription(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)

	_, err := f.svc.SelectPlan(ctx, tenantID, domain.SelectPlanRequest{PlanCode: "us-free"})
	require.NoError(t, err)

	_, err = f.svc.SelectPlan(ctx, tenantID, domain.SelectPlanRequest{PlanCode: "us-starter"})
	require.ErrorIs(t, err, domain.ErrSubscriptionExists)
}

func TestSelectPlanCountryMismatch(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()

	_, err := f.svc.SelectPlan(f.ctx(tenantID), tenantID, domain.SelectPlanRequest{PlanCode: "in-starter"})
	require.ErrorIs(t, err, domain.ErrPlanCountryMismatch)
}

func TestSelectPlanFreeCancelsPendingPayment(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)

	pending, err := f.svc.SelectPlan(ctx, tenantID, domain.SelectPlanRequest{PlanCode: "us-starter"})
	require.NoError(t, err)

	result, err := f.svc.SelectPlan(ctx, tenantID, domain.SelectPlanRequest{PlanCode: "us-free"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, result.Subscription.Status)
	require.Nil(t, result.Subscription.PendingPaymentID)

	var payment domain.Payment
	require.NoError(t, f.db.First(&payment, "id = ?", pending.Payment.ID).Error)
	require.Equal(t, domain.PaymentCancelled, payment.Status)
}

func TestStartCheckoutReplaysSameOrder(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)

	result, err := f.svc.SelectPlan(ctx, tenantID, domain.SelectPlanRequest{PlanCode: "us-starter"})
	require.NoError(t, err)

	first, err := f.svc.StartCheckout(ctx, tenantID, result.Payment.ID)
	require.NoError(t, err)
	second, err := f.svc.StartCheckout(ctx, tenantID, result.Payment.ID)
	require.NoError(t, err)

	require.Equal(t, first.OrderID, second.OrderID)
	require.Equal(t, first.AmountCents, second.AmountCents)
}

func TestStartCheckoutRejectsForeignPayment(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	other := f.node.Generate()
	ctx := f.ctx(tenantID)

	result, err := f.svc.SelectPlan(ctx, tenantID, domain.SelectPlanRequest{PlanCode: "us-starter"})
	require.NoError(t, err)

	_, err = f.svc.StartCheckout(f.ctx(other), other, result.Payment.ID)
	require.ErrorIs(t, err, domain.ErrPaymentMismatch)
}

func TestVerifyPaymentActivatesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)

	result, err := f.svc.SelectPlan(ctx, tenantID, domain.SelectPlanRequest{PlanCode: "us-starter"})
	require.NoError(t, err)
	order, err := f.svc.StartCheckout(ctx, tenantID, result.Payment.ID)
	require.NoError(t, err)

	req := domain.VerifyPaymentRequest{
		PaymentID:         result.Payment.ID,
		ProviderOrderID:   order.OrderID,
		ProviderPaymentID: "pay_001",
	}

	sub, err := f.svc.VerifyPayment(ctx, tenantID, req)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, sub.Status)
	require.Equal(t, f.starterPlan.ID, sub.PlanID)
	require.Nil(t, sub.PendingPaymentID)
	require.Equal(t, f.clock.Now().AddDate(0, 1, 0), sub.CurrentPeriodEnd)

	// Same identifiers: idempotent success, no state change.
	again, err := f.svc.VerifyPayment(ctx, tenantID, req)
	require.NoError(t, err)
	require.WithinDuration(t, sub.CurrentPeriodEnd, again.CurrentPeriodEnd, time.Second)

	// A different capture id for a paid payment is a conflict.
	conflicting := req
	conflicting.ProviderPaymentID = "pay_002"
	_, err = f.svc.VerifyPayment(ctx, tenantID, conflicting)
	require.ErrorIs(t, err, domain.ErrPaymentAlreadyCaptured)
}

func TestVerifyPaymentOrderMismatch(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)

	result, err := f.svc.SelectPlan(ctx, tenantID, domain.SelectPlanRequest{PlanCode: "us-starter"})
	require.NoError(t, err)
	_, err = f.svc.StartCheckout(ctx, tenantID, result.Payment.ID)
	require.NoError(t, err)

	_, err = f.svc.VerifyPayment(ctx, tenantID, domain.VerifyPaymentRequest{
		PaymentID:         result.Payment.ID,
		ProviderOrderID:   "order_someone_elses",
		ProviderPaymentID: "pay_001",
	})
	require.ErrorIs(t, err, domain.ErrPaymentMismatch)
}

func TestVerifyPaymentCancelledPaymentNeverCaptures(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)

	result, err := f.svc.SelectPlan(ctx, tenantID, domain.SelectPlanRequest{PlanCode: "us-starter"})
	require.NoError(t, err)
	order, err := f.svc.StartCheckout(ctx, tenantID, result.Payment.ID)
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&domain.Payment{}).
		Where("id = ?", result.Payment.ID).
		Update("status", domain.PaymentCancelled).Error)

	_, err = f.svc.VerifyPayment(ctx, tenantID, domain.VerifyPaymentRequest{
		PaymentID:         result.Payment.ID,
		ProviderOrderID:   order.OrderID,
		ProviderPaymentID: "pay_001",
	})
	require.ErrorIs(t, err, domain.ErrInvalidPaymentState)
}

func TestChangeUpgradeGoesThroughCheckout(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)
	f.activate(t, tenantID, "us-starter")

	result, err := f.svc.Change(ctx, tenantID, domain.ChangeRequest{PlanCode: "us-pro"})
	require.NoError(t, err)
	require.True(t, result.RequiresPayment)
	require.False(t, result.Scheduled)
	require.Equal(t, int64(9900), result.Payment.AmountCents)

	// Until the payment captures, the current plan stays authoritative.
	sub, err := f.svc.Get(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, f.starterPlan.ID, sub.PlanID)

	order, err := f.svc.StartCheckout(ctx, tenantID, result.Payment.ID)
	require.NoError(t, err)
	upgraded, err := f.svc.VerifyPayment(ctx, tenantID, domain.VerifyPaymentRequest{
		PaymentID:         result.Payment.ID,
		ProviderOrderID:   order.OrderID,
		ProviderPaymentID: "pay_upgrade",
	})
	require.NoError(t, err)
	require.Equal(t, f.proPlan.ID, upgraded.PlanID)
	require.Equal(t, domain.StatusActive, upgraded.Status)
}

func TestChangeDowngradeIsScheduled(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)
	active := f.activate(t, tenantID, "us-pro")

	result, err := f.svc.Change(ctx, tenantID, domain.ChangeRequest{PlanCode: "us-starter"})
	require.NoError(t, err)
	require.True(t, result.Scheduled)
	require.False(t, result.RequiresPayment)
	require.Equal(t, domain.StatusDowngrading, result.Subscription.Status)
	require.True(t, result.Subscription.CancelAtPeriodEnd)
	require.WithinDuration(t, active.CurrentPeriodEnd, *result.EffectiveAt, time.Second)

	// The pro plan keeps serving until period end.
	sub, err := f.svc.Get(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, f.proPlan.ID, sub.PlanID)
	require.True(t, sub.InGoodStanding())
}

func TestStaleUpgradePaymentCannotCapture(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)
	f.activate(t, tenantID, "us-starter")

	first, err := f.svc.Change(ctx, tenantID, domain.ChangeRequest{PlanCode: "us-pro"})
	require.NoError(t, err)
	staleOrder, err := f.svc.StartCheckout(ctx, tenantID, first.Payment.ID)
	require.NoError(t, err)

	second, err := f.svc.Change(ctx, tenantID, domain.ChangeRequest{PlanCode: "us-enterprise"})
	require.NoError(t, err)
	require.NotEqual(t, first.Payment.ID, second.Payment.ID)
	require.Equal(t, second.Payment.ID, *second.Subscription.PendingPaymentID)

	// The replaced payment was released, not left capturable.
	var stale domain.Payment
	require.NoError(t, f.db.First(&stale, "id = ?", first.Payment.ID).Error)
	require.Equal(t, domain.PaymentCancelled, stale.Status)

	// Even if the old payment somehow stayed open, the subscription no
	// longer tracks it, so capturing it must not move the plan.
	require.NoError(t, f.db.Model(&domain.Payment{}).
		Where("id = ?", first.Payment.ID).
		Update("status", domain.PaymentCreated).Error)
	_, err = f.svc.VerifyPayment(ctx, tenantID, domain.VerifyPaymentRequest{
		PaymentID:         first.Payment.ID,
		ProviderOrderID:   staleOrder.OrderID,
		ProviderPaymentID: "pay_stale",
	})
	require.ErrorIs(t, err, domain.ErrPaymentMismatch)

	sub, err := f.svc.Get(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, f.starterPlan.ID, sub.PlanID)

	// The tracked payment still captures and lands the right plan.
	order, err := f.svc.StartCheckout(ctx, tenantID, second.Payment.ID)
	require.NoError(t, err)
	upgraded, err := f.svc.VerifyPayment(ctx, tenantID, domain.VerifyPaymentRequest{
		PaymentID:         second.Payment.ID,
		ProviderOrderID:   order.OrderID,
		ProviderPaymentID: "pay_real",
	})
	require.NoError(t, err)
	require.Equal(t, f.enterprisePlan.ID, upgraded.PlanID)
}

func TestDowngradeReplacesPendingUpgrade(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)
	f.activate(t, tenantID, "us-pro")

	upgrade, err := f.svc.Change(ctx, tenantID, domain.ChangeRequest{PlanCode: "us-enterprise"})
	require.NoError(t, err)
	require.True(t, upgrade.RequiresPayment)

	result, err := f.svc.Change(ctx, tenantID, domain.ChangeRequest{PlanCode: "us-starter"})
	require.NoError(t, err)
	require.True(t, result.Scheduled)

	// Only the downgrade group may stay populated.
	sub := result.Subscription
	require.Nil(t, sub.PendingPaymentID)
	require.Nil(t, sub.PendingPlanID)
	require.NotNil(t, sub.DowngradePlanID)
	require.True(t, sub.CancelAtPeriodEnd)

	var payment domain.Payment
	require.NoError(t, f.db.First(&payment, "id = ?", upgrade.Payment.ID).Error)
	require.Equal(t, domain.PaymentCancelled, payment.Status)
}

func TestChangeActionMustMatchDirection(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)
	f.activate(t, tenantID, "us-pro")

	_, err := f.svc.Change(ctx, tenantID, domain.ChangeRequest{
		PlanCode: "us-starter",
		Action:   domain.ChangeActionUpgrade,
	})
	require.ErrorIs(t, err, domain.ErrInvalidUpgrade)

	_, err = f.svc.Change(ctx, tenantID, domain.ChangeRequest{
		PlanCode: "us-enterprise",
		Action:   domain.ChangeActionDowngrade,
	})
	require.ErrorIs(t, err, domain.ErrInvalidDowngrade)

	_, err = f.svc.Change(ctx, tenantID, domain.ChangeRequest{
		PlanCode: "us-starter",
		Action:   "sideways",
	})
	require.ErrorIs(t, err, domain.ErrInvalidChangeAction)

	// A correctly declared downgrade still schedules.
	result, err := f.svc.Change(ctx, tenantID, domain.ChangeRequest{
		PlanCode: "us-starter",
		Action:   domain.ChangeActionDowngrade,
	})
	require.NoError(t, err)
	require.True(t, result.Scheduled)
}

func TestChangeSamePlanAndCycleRejected(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)
	f.activate(t, tenantID, "us-starter")

	_, err := f.svc.Change(ctx, tenantID, domain.ChangeRequest{PlanCode: "us-starter"})
	require.ErrorIs(t, err, domain.ErrInvalidUpgrade)
}

func TestChangeWithoutSubscription(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()

	_, err := f.svc.Change(f.ctx(tenantID), tenantID, domain.ChangeRequest{PlanCode: "us-pro"})
	require.ErrorIs(t, err, domain.ErrNoSubscription)
}

func TestCancelDowngradeRestoresActive(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)
	f.activate(t, tenantID, "us-pro")

	_, err := f.svc.Change(ctx, tenantID, domain.ChangeRequest{PlanCode: "us-starter"})
	require.NoError(t, err)

	sub, err := f.svc.CancelDowngrade(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, sub.Status)
	require.Nil(t, sub.DowngradePlanID)
	require.False(t, sub.CancelAtPeriodEnd)

	_, err = f.svc.CancelDowngrade(ctx, tenantID)
	require.ErrorIs(t, err, domain.ErrNoPendingDowngrade)
}

func TestCancelPendingUpgradeReleasesPayment(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)
	f.activate(t, tenantID, "us-starter")

	result, err := f.svc.Change(ctx, tenantID, domain.ChangeRequest{PlanCode: "us-pro"})
	require.NoError(t, err)

	sub, err := f.svc.CancelPendingUpgrade(ctx, tenantID)
	require.NoError(t, err)
	require.Nil(t, sub.PendingPaymentID)
	require.Equal(t, domain.StatusActive, sub.Status)

	var payment domain.Payment
	require.NoError(t, f.db.First(&payment, "id = ?", result.Payment.ID).Error)
	require.Equal(t, domain.PaymentCancelled, payment.Status)
}

func TestCancelPendingUpgradeAfterCapture(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)
	f.activate(t, tenantID, "us-starter")

	result, err := f.svc.Change(ctx, tenantID, domain.ChangeRequest{PlanCode: "us-pro"})
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&domain.Payment{}).
		Where("id = ?", result.Payment.ID).
		Update("status", domain.PaymentPaid).Error)

	_, err = f.svc.CancelPendingUpgrade(ctx, tenantID)
	require.ErrorIs(t, err, domain.ErrPaymentAlreadyCaptured)
}

func TestCancelFreePlanIsImmediate(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)

	_, err := f.svc.SelectPlan(ctx, tenantID, domain.SelectPlanRequest{PlanCode: "us-free"})
	require.NoError(t, err)

	sub, err := f.svc.Cancel(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, sub.Status)
	require.NotNil(t, sub.CancelledAt)
}

func TestCancelPaidPlanRunsOutPeriod(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)
	f.activate(t, tenantID, "us-pro")

	sub, err := f.svc.Cancel(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, sub.Status)
	require.True(t, sub.CancelAtPeriodEnd)
	require.NotNil(t, sub.CancelledAt)
}

func TestCurrentTier(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)

	tier, err := f.svc.CurrentTier(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, plandomain.TierFree, tier)

	f.activate(t, tenantID, "us-pro")
	tier, err = f.svc.CurrentTier(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, plandomain.TierPro, tier)
}

func TestApplyDueDowngrades(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)
	active := f.activate(t, tenantID, "us-pro")

	_, err := f.svc.Change(ctx, tenantID, domain.ChangeRequest{PlanCode: "us-starter"})
	require.NoError(t, err)

	// Nothing due before the period ends.
	applied, err := f.svc.ApplyDueDowngrades(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, applied)

	f.clock.Advance(active.CurrentPeriodEnd.Sub(f.clock.Now()) + time.Hour)

	applied, err = f.svc.ApplyDueDowngrades(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	sub, err := f.svc.Get(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, f.starterPlan.ID, sub.PlanID)
	require.Equal(t, domain.StatusActive, sub.Status)
	require.Nil(t, sub.DowngradePlanID)
	require.False(t, sub.CancelAtPeriodEnd)
}

func TestDowngradeToFreeGetsOpenEndedPeriod(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()
	ctx := f.ctx(tenantID)
	active := f.activate(t, tenantID, "us-starter")

	_, err := f.svc.Change(ctx, tenantID, domain.ChangeRequest{PlanCode: "us-free"})
	require.NoError(t, err)

	f.clock.Advance(active.CurrentPeriodEnd.Sub(f.clock.Now()) + time.Hour)
	applied, err := f.svc.ApplyDueDowngrades(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	sub, err := f.svc.Get(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, f.freePlan.ID, sub.PlanID)
	require.True(t, sub.CurrentPeriodEnd.After(f.clock.Now().AddDate(90, 0, 0)))
}
