package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists subscriptions and payments. Callers pass the *gorm.DB
// so service methods can run several calls inside one transaction.
type Repository interface {
	FindByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Subscription, error)
	// FindByTenantForUpdate locks the row for the duration of the
	// surrounding transaction.
	FindByTenantForUpdate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Subscription, error)
	Create(ctx context.Context, db *gorm.DB, sub *Subscription) error
	Save(ctx context.Context, db *gorm.DB, sub *Subscription) error

	FindPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindPaymentByProviderOrder(ctx context.Context, db *gorm.DB, provider, orderID string) (*Payment, error)
	// FindReusablePayment returns an existing created payment for the same
	// subscription, plan and cycle, if one exists.
	FindReusablePayment(ctx context.Context, db *gorm.DB, subID, planID snowflake.ID, cycle string) (*Payment, error)
	CreatePayment(ctx context.Context, db *gorm.DB, p *Payment) error
	SavePayment(ctx context.Context, db *gorm.DB, p *Payment) error

	// MarkPaymentPaid performs a conditional UPDATE moving the payment from
	// created to paid. It returns true when this call won the transition;
	// false means another writer already moved the row.
	MarkPaymentPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, providerPaymentID, signature string, paidAt time.Time) (bool, error)
	// CancelCreatedPayment conditionally moves created to cancelled.
	CancelCreatedPayment(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) (bool, error)

	// ClaimDueDowngrades locks and returns up to limit subscriptions whose
	// scheduled downgrade is due, skipping rows locked by other workers.
	ClaimDueDowngrades(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)
}
