package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stackforge/tenantry/internal/subscription/domain"
)

type repositoryImpl struct{}

// Provide constructs the gorm-backed subscription repository.
func Provide() domain.Repository { return &repositoryImpl{} }

func (r *repositoryImpl) FindByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repositoryImpl) FindByTenantForUpdate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*domain.Subscription, error) {
	q := db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	// sqlite has no row locks; the write transaction serializes instead.
	if db.Dialector.Name() == "postgres" || db.Dialector.Name() == "mysql" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var sub domain.Subscription
	err := q.First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repositoryImpl) Create(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Create(sub).Error
}

func (r *repositoryImpl) Save(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Save(sub).Error
}

func (r *repositoryImpl) FindPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var p domain.Payment
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repositoryImpl) FindPaymentByProviderOrder(ctx context.Context, db *gorm.DB, provider, orderID string) (*domain.Payment, error) {
	var p domain.Payment
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_order_id = ?", provider, orderID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repositoryImpl) FindReusablePayment(ctx context.Context, db *gorm.DB, subID, planID snowflake.ID, cycle string) (*domain.Payment, error) {
	var p domain.Payment
	err := db.WithContext(ctx).
		Where("subscription_id = ? AND plan_id = ? AND billing_cycle = ? AND status = ?",
			subID, planID, cycle, domain.PaymentCreated).
		Order("created_at DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repositoryImpl) CreatePayment(ctx context.Context, db *gorm.DB, p *domain.Payment) error {
	return db.WithContext(ctx).Create(p).Error
}

func (r *repositoryImpl) SavePayment(ctx context.Context, db *gorm.DB, p *domain.Payment) error {
	return db.WithContext(ctx).Save(p).Error
}

func (r *repositoryImpl) MarkPaymentPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, providerPaymentID, signature string, paidAt time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ? AND status = ?", id, domain.PaymentCreated).
		Updates(map[string]any{
			"status":              domain.PaymentPaid,
			"provider_payment_id": providerPaymentID,
			"provider_signature":  signature,
			"paid_at":             paidAt,
			"updated_at":          paidAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repositoryImpl) CancelCreatedPayment(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ? AND status = ?", id, domain.PaymentCreated).
		Updates(map[string]any{
			"status":         domain.PaymentCancelled,
			"failure_reason": reason,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repositoryImpl) ClaimDueDowngrades(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	q := db.WithContext(ctx).
		Where("status = ? AND downgrade_effective_at IS NOT NULL AND downgrade_effective_at <= ?",
			domain.StatusDowngrading, now).
		Order("downgrade_effective_at ASC").
		Limit(limit)
	if db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	if err := q.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}
