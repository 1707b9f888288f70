package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	ListFlags(ctx context.Context, db *gorm.DB) ([]Flag, error)
	FindFlagByCode(ctx context.Context, db *gorm.DB, code string) (*Flag, error)

	ListOverrides(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]Override, error)
	UpsertOverride(ctx context.Context, db *gorm.DB, override *Override) error
	DeleteOverride(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, code string) error
}
