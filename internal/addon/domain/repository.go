package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindAddonByCode(ctx context.Context, db *gorm.DB, code string) (*Addon, error)
	ListPublished(ctx context.Context, db *gorm.DB) ([]Addon, error)

	FindInstall(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, code string) (*Install, error)
	ListInstalls(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]Install, error)
	CreateInstall(ctx context.Context, db *gorm.DB, install *Install) error
	SaveInstall(ctx context.Context, db *gorm.DB, install *Install) error

	// ExpireIntoGrace moves active and trial installs whose term has
	// lapsed into grace, stamping grace_until. Returns rows moved.
	ExpireIntoGrace(ctx context.Context, db *gorm.DB, now time.Time, graceUntil time.Time) (int64, error)
	// ExpireGrace moves grace installs whose window has passed to
	// expired. Returns rows moved.
	ExpireGrace(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
	// TenantsWithInstallsIn lists tenants holding installs in the given
	// states, for cache invalidation after a sweep.
	TenantsWithInstallsIn(ctx context.Context, db *gorm.DB, states []InstallState, since time.Time) ([]snowflake.ID, error)
}
