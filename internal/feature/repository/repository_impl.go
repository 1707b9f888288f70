package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stackforge/tenantry/internal/feature/domain"
)

type repositoryImpl struct{}

func Provide() domain.Repository { return &repositoryImpl{} }

func (r *repositoryImpl) ListFlags(ctx context.Context, db *gorm.DB) ([]domain.Flag, error) {
	var flags []domain.Flag
	if err := db.WithContext(ctx).Order("code ASC").Find(&flags).Error; err != nil {
		return nil, err
	}
	return flags, nil
}

func (r *repositoryImpl) FindFlagByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Flag, error) {
	var flag domain.Flag
	err := db.WithContext(ctx).
		Where("code = ?", code).
		First(&flag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &flag, nil
}

func (r *repositoryImpl) ListOverrides(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]domain.Override, error) {
	var overrides []domain.Override
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Find(&overrides).Error
	if err != nil {
		return nil, err
	}
	return overrides, nil
}

func (r *repositoryImpl) UpsertOverride(ctx context.Context, db *gorm.DB, override *domain.Override) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "config", "updated_at"}),
		}).
		Create(override).Error
}

func (r *repositoryImpl) DeleteOverride(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, code string) error {
	return db.WithContext(ctx).
		Where("tenant_id = ? AND code = ?", tenantID, code).
		Delete(&domain.Override{}).Error
}
