package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/stackforge/tenantry/internal/addon/domain"
)

type repositoryImpl struct{}

func Provide() domain.Repository { return &repositoryImpl{} }

func (r *repositoryImpl) FindAddonByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Addon, error) {
	var addon domain.Addon
	err := db.WithContext(ctx).
		Where("code = ?", code).
		First(&addon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &addon, nil
}

func (r *repositoryImpl) ListPublished(ctx context.Context, db *gorm.DB) ([]domain.Addon, error) {
	var addons []domain.Addon
	err := db.WithContext(ctx).
		Where("status = ?", domain.AddonPublished).
		Order("code ASC").
		Find(&addons).Error
	if err != nil {
		return nil, err
	}
	return addons, nil
}

func (r *repositoryImpl) FindInstall(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, code string) (*domain.Install, error) {
	var install domain.Install
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND addon_code = ?", tenantID, code).
		First(&install).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &install, nil
}

func (r *repositoryImpl) ListInstalls(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]domain.Install, error) {
	var installs []domain.Install
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("addon_code ASC").
		Find(&installs).Error
	if err != nil {
		return nil, err
	}
	return installs, nil
}

func (r *repositoryImpl) CreateInstall(ctx context.Context, db *gorm.DB, install *domain.Install) error {
	return db.WithContext(ctx).Create(install).Error
}

func (r *repositoryImpl) SaveInstall(ctx context.Context, db *gorm.DB, install *domain.Install) error {
	return db.WithContext(ctx).Save(install).Error
}

func (r *repositoryImpl) ExpireIntoGrace(ctx context.Context, db *gorm.DB, now time.Time, graceUntil time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Install{}).
		Where("state IN ? AND expires_at IS NOT NULL AND expires_at <= ?",
			[]domain.InstallState{domain.InstallActive, domain.InstallTrial}, now).
		Updates(map[string]any{
			"state":       domain.InstallGrace,
			"grace_until": graceUntil,
			"updated_at":  now,
		})
	return res.RowsAffected, res.Error
}

func (r *repositoryImpl) ExpireGrace(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Install{}).
		Where("state = ? AND grace_until IS NOT NULL AND grace_until <= ?",
			domain.InstallGrace, now).
		Updates(map[string]any{
			"state":      domain.InstallExpired,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *repositoryImpl) TenantsWithInstallsIn(ctx context.Context, db *gorm.DB, states []domain.InstallState, since time.Time) ([]snowflake.ID, error) {
	var tenants []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.Install{}).
		Where("state IN ? AND updated_at >= ?", states, since).
		Distinct().
		Pluck("tenant_id", &tenants).Error
	if err != nil {
		return nil, err
	}
	return tenants, nil
}
