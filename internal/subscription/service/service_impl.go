package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stackforge/tenantry/internal/clock"
	paymentdomain "github.com/stackforge/tenantry/internal/payment/domain"
	plandomain "github.com/stackforge/tenantry/internal/plan/domain"
	"github.com/stackforge/tenantry/internal/subscription/domain"
	"github.com/stackforge/tenantry/pkg/tenantctx"
)

// Free plans never expire; the period end is set far enough out that no
// sweep will ever touch it.
const freePlanPeriod = 100 * 365 * 24 * time.Hour

const downgradeBatchLimit = 100

type Params struct {
	fx.In

	DB          *gorm.DB
	Node        *snowflake.Node
	Repo        domain.Repository
	Plans       plandomain.Service
	Gateway     paymentdomain.Gateway
	Clock       clock.Clock
	Invalidator domain.FeatureCacheInvalidator
	Log         *zap.Logger
}

type serviceImpl struct {
	db          *gorm.DB
	node        *snowflake.Node
	repo        domain.Repository
	plans       plandomain.Service
	gateway     paymentdomain.Gateway
	clock       clock.Clock
	invalidator domain.FeatureCacheInvalidator
	log         *zap.Logger
	entropy     *ulid.MonotonicEntropy
}

func New(p Params) domain.Service {
	return &serviceImpl{
		db:          p.DB,
		node:        p.Node,
		repo:        p.Repo,
		plans:       p.Plans,
		gateway:     p.Gateway,
		clock:       p.Clock,
		invalidator: p.Invalidator,
		log:         p.Log.Named("subscription.service"),
		entropy:     ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

func (s *serviceImpl) Get(ctx context.Context, tenantID snowflake.ID) (*domain.Subscription, error) {
	sub, err := s.repo.FindByTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrNoSubscription
	}
	return sub, nil
}

// resolvePlan loads the plan and enforces the country match against the
// caller's tenant country.
func (s *serviceImpl) resolvePlan(ctx context.Context, code string) (*plandomain.Plan, error) {
	plan, err := s.plans.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if country := tenantctx.CountryCode(ctx); country != "" && plan.CountryCode != country {
		return nil, domain.ErrPlanCountryMismatch
	}
	return plan, nil
}

func normalizeCycle(c plandomain.BillingCycle) (plandomain.BillingCycle, error) {
	if c == "" {
		return plandomain.CycleMonthly, nil
	}
	if !c.Valid() {
		return "", plandomain.ErrInvalidCycle
	}
	return c, nil
}

func (s *serviceImpl) SelectPlan(ctx context.Context, tenantID snowflake.ID, req domain.SelectPlanRequest) (*domain.SelectPlanResult, error) {
	plan, err := s.resolvePlan(ctx, req.PlanCode)
	if err != nil {
		return nil, err
	}
	cycle, err := normalizeCycle(req.BillingCycle)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var result domain.SelectPlanResult

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByTenantForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if sub != nil && sub.InGoodStanding() {
			return domain.ErrSubscriptionExists
		}

		if plan.IsFree() {
			return s.activateFree(ctx, tx, tenantID, sub, plan, cycle, now, &result)
		}
		return s.startPending(ctx, tx, tenantID, sub, plan, cycle, now, &result)
	})
	if err != nil {
		return nil, err
	}

	s.invalidator.InvalidateTenant(ctx, tenantID)
	s.log.Info("plan selected",
		zap.Int64("tenant_id", int64(tenantID)),
		zap.String("plan_code", plan.Code),
		zap.Bool("requires_payment", result.RequiresPayment))
	return &result, nil
}

func (s *serviceImpl) activateFree(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, sub *domain.Subscription, plan *plandomain.Plan, cycle plandomain.BillingCycle, now time.Time, out *domain.SelectPlanResult) error {
	if sub == nil {
		sub = &domain.Subscription{
			ID:       s.node.Generate(),
			TenantID: tenantID,
		}
	}
	if err := s.releasePendingPayment(ctx, tx, sub, 0, "superseded_by_free_plan"); err != nil {
		return err
	}

	sub.PlanID = plan.ID
	sub.Status = domain.StatusActive
	sub.BillingCycle = cycle
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = now.Add(freePlanPeriod)
	clearPending(sub)
	clearDowngrade(sub)
	sub.CancelAtPeriodEnd = false
	sub.CancelledAt = nil
	sub.UpdatedAt = now

	if err := s.repo.Save(ctx, tx, sub); err != nil {
		return err
	}
	out.Subscription = sub
	return nil
}

func (s *serviceImpl) startPending(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, sub *domain.Subscription, plan *plandomain.Plan, cycle plandomain.BillingCycle, now time.Time, out *domain.SelectPlanResult) error {
	amount, err := s.plans.PriceFor(ctx, plan, cycle)
	if err != nil {
		return err
	}

	if sub == nil {
		sub = &domain.Subscription{
			ID:                 s.node.Generate(),
			TenantID:           tenantID,
			PlanID:             plan.ID,
			BillingCycle:       cycle,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   now,
		}
		sub.Status = domain.StatusPendingPayment
		if err := s.repo.Create(ctx, tx, sub); err != nil {
			return err
		}
	} else {
		sub.Status = domain.StatusPendingPayment
		sub.UpdatedAt = now
	}

	payment, err := s.ensurePayment(ctx, tx, sub, plan, cycle, amount, now)
	if err != nil {
		return err
	}
	if err := s.releasePendingPayment(ctx, tx, sub, payment.ID, "superseded_by_new_checkout"); err != nil {
		return err
	}

	pendingPlan := plan.ID
	pendingCycle := cycle
	pendingPayment := payment.ID
	sub.PendingPlanID = &pendingPlan
	sub.PendingBillingCycle = &pendingCycle
	sub.PendingPaymentID = &pendingPayment
	if err := s.repo.Save(ctx, tx, sub); err != nil {
		return err
	}

	out.Subscription = sub
	out.RequiresPayment = true
	out.Payment = payment
	return nil
}

// releasePendingPayment cancels the subscription's current created payment
// when a newer change replaces it. keepID guards against cancelling the
// payment that is about to become the pending one. A pending payment that
// already captured cannot be released; the caller must not overwrite it.
func (s *serviceImpl) releasePendingPayment(ctx context.Context, tx *gorm.DB, sub *domain.Subscription, keepID snowflake.ID, reason string) error {
	if sub.PendingPaymentID == nil || *sub.PendingPaymentID == keepID {
		return nil
	}
	payment, err := s.repo.FindPayment(ctx, tx, *sub.PendingPaymentID)
	if err != nil {
		return err
	}
	if payment != nil {
		if payment.Status == domain.PaymentPaid {
			return domain.ErrPaymentAlreadyCaptured
		}
		if _, err := s.repo.CancelCreatedPayment(ctx, tx, payment.ID, reason); err != nil {
			return err
		}
	}
	return nil
}

// ensurePayment reuses an open payment for the same plan and cycle so that
// abandoned checkouts do not pile up rows.
func (s *serviceImpl) ensurePayment(ctx context.Context, tx *gorm.DB, sub *domain.Subscription, plan *plandomain.Plan, cycle plandomain.BillingCycle, amount int64, now time.Time) (*domain.Payment, error) {
	existing, err := s.repo.FindReusablePayment(ctx, tx, sub.ID, plan.ID, string(cycle))
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.AmountCents == amount {
		return existing, nil
	}

	payment := &domain.Payment{
		ID:             s.node.Generate(),
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID,
		PlanID:         plan.ID,
		BillingCycle:   cycle,
		Provider:       s.gateway.Provider(),
		Status:         domain.PaymentCreated,
		AmountCents:    amount,
		Currency:       plan.Currency,
		ReceiptRef:     ulid.MustNew(ulid.Timestamp(now), s.entropy).String(),
	}
	if err := s.repo.CreatePayment(ctx, tx, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *serviceImpl) StartCheckout(ctx context.Context, tenantID, paymentID snowflake.ID) (*domain.CheckoutOrder, error) {
	payment, err := s.repo.FindPayment(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	if payment.TenantID != tenantID {
		return nil, domain.ErrPaymentMismatch
	}
	if payment.Status != domain.PaymentCreated {
		return nil, domain.ErrInvalidPaymentState
	}

	// Retried checkouts replay the provider order already opened.
	if payment.ProviderOrderID != nil {
		return &domain.CheckoutOrder{
			PaymentID:   payment.ID,
			Provider:    payment.Provider,
			OrderID:     *payment.ProviderOrderID,
			AmountCents: payment.AmountCents,
			Currency:    payment.Currency,
			KeyID:       s.gateway.KeyID(),
		}, nil
	}

	order, err := s.gateway.CreateOrder(ctx, paymentdomain.CreateOrderRequest{
		AmountCents: payment.AmountCents,
		Currency:    payment.Currency,
		Receipt:     payment.ReceiptRef,
		Notes: map[string]string{
			"tenant_id":  tenantID.String(),
			"payment_id": payment.ID.String(),
		},
	})
	if err != nil {
		return nil, err
	}

	payment.ProviderOrderID = &order.OrderID
	if err := s.repo.SavePayment(ctx, s.db, payment); err != nil {
		return nil, err
	}

	return &domain.CheckoutOrder{
		PaymentID:   payment.ID,
		Provider:    payment.Provider,
		OrderID:     order.OrderID,
		AmountCents: payment.AmountCents,
		Currency:    payment.Currency,
		KeyID:       order.KeyID,
	}, nil
}

func (s *serviceImpl) VerifyPayment(ctx context.Context, tenantID snowflake.ID, req domain.VerifyPaymentRequest) (*domain.Subscription, error) {
	payment, err := s.repo.FindPayment(ctx, s.db, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	if payment.TenantID != tenantID {
		return nil, domain.ErrPaymentMismatch
	}

	if s.gateway.RequiresSignature() {
		if req.Signature == "" {
			return nil, domain.ErrSignatureRequired
		}
		if err := s.gateway.VerifySignature(req.ProviderOrderID, req.ProviderPaymentID, req.Signature); err != nil {
			return nil, err
		}
	}

	return s.capture(ctx, payment, req.ProviderOrderID, req.ProviderPaymentID, req.Signature)
}

func (s *serviceImpl) VerifyWebhookCapture(ctx context.Context, provider, providerOrderID, providerPaymentID string) (*domain.Subscription, error) {
	payment, err := s.repo.FindPaymentByProviderOrder(ctx, s.db, provider, providerOrderID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return s.capture(ctx, payment, providerOrderID, providerPaymentID, "")
}

// capture applies the verification guards in order, then promotes the
// payment and the pending plan change inside one transaction.
//
// Guard 1: the payment must be in a capturable state. failed and
// cancelled payments can never become paid.
// Guard 2: the provider order id must match the one this payment opened.
// Guard 3: a payment already captured is an idempotent success only when
// the provider payment id matches; a different capture id is a conflict.
// Guard 4: when the subscription tracks a pending payment, only that
// payment may capture; anything else was superseded by a later change.
func (s *serviceImpl) capture(ctx context.Context, payment *domain.Payment, providerOrderID, providerPaymentID, signature string) (*domain.Subscription, error) {
	switch payment.Status {
	case domain.PaymentCreated, domain.PaymentPaid:
	default:
		return nil, domain.ErrInvalidPaymentState
	}

	if payment.ProviderOrderID == nil || *payment.ProviderOrderID != providerOrderID {
		return nil, domain.ErrPaymentMismatch
	}

	if payment.Status == domain.PaymentPaid {
		if payment.ProviderPaymentID != nil && *payment.ProviderPaymentID == providerPaymentID {
			return s.repo.FindByTenant(ctx, s.db, payment.TenantID)
		}
		return nil, domain.ErrPaymentAlreadyCaptured
	}

	now := s.clock.Now()
	var sub *domain.Subscription

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, err := s.repo.MarkPaymentPaid(ctx, tx, payment.ID, providerPaymentID, signature, now)
		if err != nil {
			return err
		}
		if !won {
			// Lost the race. Re-read and fall back to the idempotence rule.
			fresh, err := s.repo.FindPayment(ctx, tx, payment.ID)
			if err != nil {
				return err
			}
			if fresh == nil || fresh.Status != domain.PaymentPaid {
				return domain.ErrInvalidPaymentState
			}
			if fresh.ProviderPaymentID == nil || *fresh.ProviderPaymentID != providerPaymentID {
				return domain.ErrPaymentAlreadyCaptured
			}
			sub, err = s.repo.FindByTenant(ctx, tx, payment.TenantID)
			return err
		}

		sub, err = s.repo.FindByTenantForUpdate(ctx, tx, payment.TenantID)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrNoSubscription
		}
		if sub.PendingPaymentID != nil && *sub.PendingPaymentID != payment.ID {
			return domain.ErrPaymentMismatch
		}
		return s.applyPaidChange(ctx, tx, sub, payment, now)
	})
	if err != nil {
		return nil, err
	}

	s.invalidator.InvalidateTenant(ctx, payment.TenantID)
	s.log.Info("payment captured",
		zap.Int64("tenant_id", int64(payment.TenantID)),
		zap.Int64("payment_id", int64(payment.ID)),
		zap.String("provider_payment_id", providerPaymentID))
	return sub, nil
}

// applyPaidChange moves the subscription onto the plan the payment was
// opened for and starts a fresh billing period.
func (s *serviceImpl) applyPaidChange(ctx context.Context, tx *gorm.DB, sub *domain.Subscription, payment *domain.Payment, now time.Time) error {
	sub.PlanID = payment.PlanID
	sub.BillingCycle = payment.BillingCycle
	sub.Status = domain.StatusActive
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = now.AddDate(0, payment.BillingCycle.Months(), 0)
	clearPending(sub)
	clearDowngrade(sub)
	sub.CancelAtPeriodEnd = false
	sub.CancelledAt = nil
	sub.UpdatedAt = now
	return s.repo.Save(ctx, tx, sub)
}

func (s *serviceImpl) Change(ctx context.Context, tenantID snowflake.ID, req domain.ChangeRequest) (*domain.ChangeResult, error) {
	if !req.Action.Valid() {
		return nil, domain.ErrInvalidChangeAction
	}
	target, err := s.resolvePlan(ctx, req.PlanCode)
	if err != nil {
		return nil, err
	}
	cycle, err := normalizeCycle(req.BillingCycle)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var result domain.ChangeResult

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByTenantForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrNoSubscription
		}
		if !sub.InGoodStanding() {
			return domain.ErrInvalidSubscriptionStatus
		}

		current, err := s.plans.GetByID(ctx, sub.PlanID)
		if err != nil {
			return err
		}

		currentMonthly, err := s.monthlyPrice(ctx, current, sub.BillingCycle)
		if err != nil {
			return err
		}
		targetMonthly, err := s.monthlyPrice(ctx, target, cycle)
		if err != nil {
			return err
		}

		switch {
		case target.ID == current.ID && cycle == sub.BillingCycle:
			return domain.ErrInvalidUpgrade
		case targetMonthly > currentMonthly:
			if req.Action == domain.ChangeActionDowngrade {
				return domain.ErrInvalidDowngrade
			}
			if target.Tier.Rank() < current.Tier.Rank() {
				return domain.ErrInvalidDowngrade
			}
			return s.startUpgrade(ctx, tx, sub, target, cycle, now, &result)
		case targetMonthly < currentMonthly:
			if req.Action == domain.ChangeActionUpgrade {
				return domain.ErrInvalidUpgrade
			}
			if target.Tier.Rank() > current.Tier.Rank() {
				return domain.ErrInvalidUpgrade
			}
			return s.scheduleDowngrade(ctx, tx, sub, target, cycle, &result)
		default:
			// Same price in a different cycle or plan is a lateral move;
			// it keeps what was paid for until period end, so a declared
			// upgrade cannot land here.
			if req.Action == domain.ChangeActionUpgrade {
				return domain.ErrInvalidUpgrade
			}
			return s.scheduleDowngrade(ctx, tx, sub, target, cycle, &result)
		}
	})
	if err != nil {
		return nil, err
	}

	if !result.RequiresPayment {
		s.invalidator.InvalidateTenant(ctx, tenantID)
	}
	return &result, nil
}

// monthlyPrice normalizes a plan's cycle price to a per-month figure so
// prices across different cycles compare.
func (s *serviceImpl) monthlyPrice(ctx context.Context, plan *plandomain.Plan, cycle plandomain.BillingCycle) (int64, error) {
	if plan.IsFree() {
		return 0, nil
	}
	total, err := s.plans.PriceFor(ctx, plan, cycle)
	if err != nil {
		return 0, err
	}
	return total / int64(cycle.Months()), nil
}

func (s *serviceImpl) startUpgrade(ctx context.Context, tx *gorm.DB, sub *domain.Subscription, target *plandomain.Plan, cycle plandomain.BillingCycle, now time.Time, out *domain.ChangeResult) error {
	amount, err := s.plans.PriceFor(ctx, target, cycle)
	if err != nil {
		return err
	}
	payment, err := s.ensurePayment(ctx, tx, sub, target, cycle, amount, now)
	if err != nil {
		return err
	}
	if err := s.releasePendingPayment(ctx, tx, sub, payment.ID, "superseded_by_new_checkout"); err != nil {
		return err
	}

	pendingPlan := target.ID
	pendingCycle := cycle
	pendingPayment := payment.ID
	sub.PendingPlanID = &pendingPlan
	sub.PendingBillingCycle = &pendingCycle
	sub.PendingPaymentID = &pendingPayment
	clearDowngrade(sub)
	if sub.Status == domain.StatusDowngrading {
		sub.Status = domain.StatusActive
	}
	sub.UpdatedAt = now
	if err := s.repo.Save(ctx, tx, sub); err != nil {
		return err
	}

	out.Subscription = sub
	out.RequiresPayment = true
	out.Payment = payment
	return nil
}

func (s *serviceImpl) scheduleDowngrade(ctx context.Context, tx *gorm.DB, sub *domain.Subscription, target *plandomain.Plan, cycle plandomain.BillingCycle, out *domain.ChangeResult) error {
	// A downgrade replaces any in-flight upgrade. The pending payment is
	// cancelled so only the downgrade group stays populated.
	if err := s.releasePendingPayment(ctx, tx, sub, 0, "superseded_by_downgrade"); err != nil {
		return err
	}
	clearPending(sub)

	effective := sub.CurrentPeriodEnd
	targetID := target.ID
	targetCycle := cycle
	sub.Status = domain.StatusDowngrading
	sub.DowngradePlanID = &targetID
	sub.DowngradeBillingCycle = &targetCycle
	sub.DowngradeEffectiveAt = &effective
	sub.CancelAtPeriodEnd = true
	if err := s.repo.Save(ctx, tx, sub); err != nil {
		return err
	}

	out.Subscription = sub
	out.Scheduled = true
	out.EffectiveAt = &effective
	return nil
}

func (s *serviceImpl) CancelDowngrade(ctx context.Context, tenantID snowflake.ID) (*domain.Subscription, error) {
	var sub *domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sub, err = s.repo.FindByTenantForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrNoSubscription
		}
		if sub.Status != domain.StatusDowngrading || sub.DowngradePlanID == nil {
			return domain.ErrNoPendingDowngrade
		}
		clearDowngrade(sub)
		sub.Status = domain.StatusActive
		sub.CancelAtPeriodEnd = false
		return s.repo.Save(ctx, tx, sub)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *serviceImpl) CancelPendingUpgrade(ctx context.Context, tenantID snowflake.ID) (*domain.Subscription, error) {
	var sub *domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sub, err = s.repo.FindByTenantForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrNoSubscription
		}
		if sub.PendingPaymentID == nil {
			return domain.ErrNoPendingUpgrade
		}

		payment, err := s.repo.FindPayment(ctx, tx, *sub.PendingPaymentID)
		if err != nil {
			return err
		}
		if payment != nil {
			if payment.Status == domain.PaymentPaid {
				return domain.ErrPaymentAlreadyCaptured
			}
			if _, err := s.repo.CancelCreatedPayment(ctx, tx, payment.ID, "upgrade_cancelled"); err != nil {
				return err
			}
		}

		clearPending(sub)
		if sub.Status == domain.StatusPendingPayment {
			sub.Status = domain.StatusCancelled
		}
		return s.repo.Save(ctx, tx, sub)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *serviceImpl) Cancel(ctx context.Context, tenantID snowflake.ID) (*domain.Subscription, error) {
	now := s.clock.Now()
	var sub *domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sub, err = s.repo.FindByTenantForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrNoSubscription
		}
		if !sub.InGoodStanding() {
			return domain.ErrInvalidSubscriptionStatus
		}

		plan, err := s.plans.GetByID(ctx, sub.PlanID)
		if err != nil {
			return err
		}
		if plan.IsFree() {
			sub.Status = domain.StatusCancelled
			sub.CancelledAt = &now
		} else {
			// Paid plans run out the period already paid for.
			sub.CancelAtPeriodEnd = true
			sub.CancelledAt = &now
		}
		clearDowngrade(sub)
		sub.UpdatedAt = now
		return s.repo.Save(ctx, tx, sub)
	})
	if err != nil {
		return nil, err
	}

	s.invalidator.InvalidateTenant(ctx, tenantID)
	return sub, nil
}

func (s *serviceImpl) CurrentTier(ctx context.Context, tenantID snowflake.ID) (plandomain.Tier, error) {
	sub, err := s.repo.FindByTenant(ctx, s.db, tenantID)
	if err != nil {
		return plandomain.TierFree, err
	}
	if sub == nil || !sub.InGoodStanding() {
		return plandomain.TierFree, nil
	}
	plan, err := s.plans.GetByID(ctx, sub.PlanID)
	if err != nil {
		return plandomain.TierFree, err
	}
	return plan.Tier, nil
}

func (s *serviceImpl) ApplyDueDowngrades(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = downgradeBatchLimit
	}
	now := s.clock.Now()
	applied := 0
	var tenants []snowflake.ID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		due, err := s.repo.ClaimDueDowngrades(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		for i := range due {
			sub := &due[i]
			if sub.DowngradePlanID == nil || sub.DowngradeBillingCycle == nil {
				continue
			}
			sub.PlanID = *sub.DowngradePlanID
			sub.BillingCycle = *sub.DowngradeBillingCycle
			sub.Status = domain.StatusActive
			sub.CancelAtPeriodEnd = false
			sub.CurrentPeriodStart = now
			sub.CurrentPeriodEnd = now.AddDate(0, sub.BillingCycle.Months(), 0)

			target, err := s.plans.GetByID(ctx, sub.PlanID)
			if err == nil && target.IsFree() {
				sub.CurrentPeriodEnd = now.Add(freePlanPeriod)
			}

			clearDowngrade(sub)
			sub.UpdatedAt = now
			if err := s.repo.Save(ctx, tx, sub); err != nil {
				return fmt.Errorf("apply downgrade for tenant %d: %w", sub.TenantID, err)
			}
			tenants = append(tenants, sub.TenantID)
			applied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, tid := range tenants {
		s.invalidator.InvalidateTenant(ctx, tid)
	}
	if applied > 0 {
		s.log.Info("applied scheduled downgrades", zap.Int("count", applied))
	}
	return applied, nil
}

func clearPending(sub *domain.Subscription) {
	sub.PendingPlanID = nil
	sub.PendingBillingCycle = nil
	sub.PendingPaymentID = nil
}

func clearDowngrade(sub *domain.Subscription) {
	sub.DowngradePlanID = nil
	sub.DowngradeBillingCycle = nil
	sub.DowngradeEffectiveAt = nil
}
