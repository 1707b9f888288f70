package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)
	ListPublic(ctx context.Context, db *gorm.DB, countryCode string) ([]Plan, error)
	ListPrices(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]PlanPrice, error)
	FindCoupon(ctx context.Context, db *gorm.DB, code string) (*Coupon, error)
}
