// Package domain contains the subscription and payment records owned by
// the lifecycle manager. No other component writes these tables.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/stackforge/tenantry/internal/plan/domain"
)

// Status is a subscription's billing state.
type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusActive         Status = "ACTIVE"
	StatusTrialing       Status = "TRIALING"
	StatusDowngrading    Status = "DOWNGRADING"
	StatusCancelled      Status = "CANCELLED"
)

// Subscription is a tenant's billing agreement. One row per tenant; the
// unique index enforces the invariant.
type Subscription struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	TenantID snowflake.ID `gorm:"not null;uniqueIndex"`
	PlanID   snowflake.ID `gorm:"not null;index"`
	Status   Status       `gorm:"type:text;not null"`

	BillingCycle       plandomain.BillingCycle `gorm:"type:text;not null"`
	CurrentPeriodStart time.Time               `gorm:"not null"`
	CurrentPeriodEnd   time.Time               `gorm:"not null"`

	// Pending fields are set only while a priced plan change awaits
	// payment. PendingPaymentID must reference a created payment on this
	// subscription.
	PendingPlanID       *snowflake.ID            `gorm:""`
	PendingBillingCycle *plandomain.BillingCycle `gorm:"type:text"`
	PendingPaymentID    *snowflake.ID            `gorm:""`

	// Downgrade fields are set only while a downgrade is scheduled.
	// At most one of the pending/downgrade groups is populated at a time.
	DowngradePlanID       *snowflake.ID            `gorm:""`
	DowngradeBillingCycle *plandomain.BillingCycle `gorm:"type:text"`
	DowngradeEffectiveAt  *time.Time               `gorm:""`

	CancelAtPeriodEnd bool       `gorm:"not null;default:false"`
	CancelledAt       *time.Time `gorm:""`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Subscription) TableName() string { return "subscriptions" }

// InGoodStanding reports whether the subscription currently grants plan
// entitlements.
func (s *Subscription) InGoodStanding() bool {
	switch s.Status {
	case StatusActive, StatusTrialing, StatusDowngrading:
		return true
	default:
		return false
	}
}

// PaymentStatus is a payment's capture state. created transitions only to
// paid, failed or cancelled; paid is terminal.
type PaymentStatus string

const (
	PaymentCreated   PaymentStatus = "created"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Payment is one charge attempt against a subscription. Rows are
// append-mostly: status moves in place, rows are never deleted.
type Payment struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	TenantID       snowflake.ID `gorm:"not null;index"`
	SubscriptionID snowflake.ID `gorm:"not null;index"`
	PlanID         snowflake.ID `gorm:"not null"`

	BillingCycle plandomain.BillingCycle `gorm:"type:text;not null"`
	Provider     string                  `gorm:"type:text;not null"`
	Status       PaymentStatus           `gorm:"type:text;not null"`

	AmountCents int64  `gorm:"not null"`
	Currency    string `gorm:"type:text;not null"`
	ReceiptRef  string `gorm:"type:text;not null"`

	ProviderOrderID   *string `gorm:"type:text"`
	ProviderPaymentID *string `gorm:"type:text"`
	ProviderSignature *string `gorm:"type:text"`

	PaidAt        *time.Time `gorm:""`
	FailureReason *string    `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Payment) TableName() string { return "payments" }
