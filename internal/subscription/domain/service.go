package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/stackforge/tenantry/internal/plan/domain"
)

var (
	ErrNoSubscription            = errors.New("no_subscription")
	ErrSubscriptionExists        = errors.New("subscription_exists")
	ErrInvalidSubscriptionStatus = errors.New("invalid_subscription_status")
	ErrPlanCountryMismatch       = errors.New("plan_country_mismatch")
	ErrInvalidUpgrade            = errors.New("invalid_upgrade")
	ErrInvalidDowngrade          = errors.New("invalid_downgrade")
	ErrNoPendingDowngrade        = errors.New("no_pending_downgrade")
	ErrNoPendingUpgrade          = errors.New("no_pending_upgrade")
	ErrPaymentNotFound           = errors.New("payment_not_found")
	ErrInvalidPaymentState       = errors.New("invalid_payment_state")
	ErrPaymentMismatch           = errors.New("payment_mismatch")
	ErrPaymentAlreadyCaptured    = errors.New("payment_already_captured")
	ErrSignatureRequired         = errors.New("signature_required")
	ErrInvalidChangeAction       = errors.New("invalid_change_action")
)

// FeatureCacheInvalidator drops a tenant's cached feature set after any
// subscription change that can alter entitlements. Implemented by the
// feature resolver; accepted here to avoid an import cycle.
type FeatureCacheInvalidator interface {
	InvalidateTenant(ctx context.Context, tenantID snowflake.ID)
}

// SelectPlanRequest starts or replaces a tenant's subscription.
type SelectPlanRequest struct {
	PlanCode     string                  `json:"planCode" binding:"required"`
	BillingCycle plandomain.BillingCycle `json:"billingCycle"`
}

// SelectPlanResult tells the caller whether the plan activated immediately
// or a checkout must follow.
type SelectPlanResult struct {
	Subscription    *Subscription `json:"subscription"`
	RequiresPayment bool          `json:"requiresPayment"`
	Payment         *Payment      `json:"payment,omitempty"`
}

// CheckoutOrder is the provider-side order the client completes payment
// against.
type CheckoutOrder struct {
	PaymentID   snowflake.ID `json:"paymentId"`
	Provider    string       `json:"provider"`
	OrderID     string       `json:"orderId"`
	AmountCents int64        `json:"amountCents"`
	Currency    string       `json:"currency"`
	KeyID       string       `json:"keyId,omitempty"`
}

// VerifyPaymentRequest carries the provider's capture identifiers back to
// the server. Signature is required for real gateways.
type VerifyPaymentRequest struct {
	PaymentID         snowflake.ID `json:"paymentId"`
	ProviderOrderID   string       `json:"providerOrderId"`
	ProviderPaymentID string       `json:"providerPaymentId" binding:"required"`
	Signature         string       `json:"signature"`
}

// ChangeAction is the caller's declared direction for a plan change. When
// set, it must agree with the price comparison or the change is rejected.
type ChangeAction string

const (
	ChangeActionUpgrade   ChangeAction = "upgrade"
	ChangeActionDowngrade ChangeAction = "downgrade"
)

// Valid accepts the two known actions plus empty, which lets the server
// classify the change by price alone.
func (a ChangeAction) Valid() bool {
	return a == "" || a == ChangeActionUpgrade || a == ChangeActionDowngrade
}

// ChangeRequest moves a subscription to another plan or cycle. Upgrades go
// through checkout; downgrades are scheduled for period end.
type ChangeRequest struct {
	PlanCode     string                  `json:"planCode" binding:"required"`
	Action       ChangeAction            `json:"action"`
	BillingCycle plandomain.BillingCycle `json:"billingCycle"`
}

// ChangeResult reports which path the change took.
type ChangeResult struct {
	Subscription    *Subscription `json:"subscription"`
	RequiresPayment bool          `json:"requiresPayment"`
	Payment         *Payment      `json:"payment,omitempty"`
	Scheduled       bool          `json:"scheduled"`
	EffectiveAt     *time.Time    `json:"effectiveAt,omitempty"`
}

// Service is the subscription lifecycle manager.
type Service interface {
	Get(ctx context.Context, tenantID snowflake.ID) (*Subscription, error)

	// SelectPlan activates a free plan immediately or creates a pending
	// subscription plus a created payment for a priced plan.
	SelectPlan(ctx context.Context, tenantID snowflake.ID, req SelectPlanRequest) (*SelectPlanResult, error)

	// StartCheckout creates (or replays) the provider order for a created
	// payment. Retrying returns the same order.
	StartCheckout(ctx context.Context, tenantID, paymentID snowflake.ID) (*CheckoutOrder, error)

	// VerifyPayment captures a payment and applies its plan change. It is
	// idempotent: re-verifying a paid payment with matching identifiers
	// succeeds without side effects.
	VerifyPayment(ctx context.Context, tenantID snowflake.ID, req VerifyPaymentRequest) (*Subscription, error)

	// VerifyWebhookCapture is the webhook-driven variant: the payment is
	// resolved from the provider order id, the tenant from the payment
	// row, and no signature is rechecked (the webhook body was already
	// authenticated).
	VerifyWebhookCapture(ctx context.Context, provider, providerOrderID, providerPaymentID string) (*Subscription, error)

	Change(ctx context.Context, tenantID snowflake.ID, req ChangeRequest) (*ChangeResult, error)
	CancelDowngrade(ctx context.Context, tenantID snowflake.ID) (*Subscription, error)
	CancelPendingUpgrade(ctx context.Context, tenantID snowflake.ID) (*Subscription, error)
	Cancel(ctx context.Context, tenantID snowflake.ID) (*Subscription, error)

	// CurrentTier reports the tenant's plan tier for entitlement checks.
	// Tenants without a subscription in good standing are free tier.
	CurrentTier(ctx context.Context, tenantID snowflake.ID) (plandomain.Tier, error)

	// ApplyDueDowngrades executes scheduled downgrades that have reached
	// their effective time. Returns the number applied.
	ApplyDueDowngrades(ctx context.Context, limit int) (int, error)
}
