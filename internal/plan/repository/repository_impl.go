package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/stackforge/tenantry/internal/plan/domain"
	"gorm.io/gorm"
)

type repository struct{}

func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).Where("id = ?", id).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).Where("code = ?", strings.TrimSpace(code)).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) ListPublic(ctx context.Context, db *gorm.DB, countryCode string) ([]domain.Plan, error) {
	var plans []domain.Plan
	err := db.WithContext(ctx).
		Where("country_code = ? AND active = ? AND public = ? AND archived = ?", countryCode, true, true, false).
		Order("base_price_cents asc").
		Find(&plans).Error
	return plans, err
}

func (r *repository) ListPrices(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]domain.PlanPrice, error) {
	var prices []domain.PlanPrice
	err := db.WithContext(ctx).
		Where("plan_id = ? AND enabled = ?", planID, true).
		Find(&prices).Error
	return prices, err
}

func (r *repository) FindCoupon(ctx context.Context, db *gorm.DB, code string) (*domain.Coupon, error) {
	var coupon domain.Coupon
	err := db.WithContext(ctx).Where("code = ?", strings.TrimSpace(code)).First(&coupon).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &coupon, nil
}
