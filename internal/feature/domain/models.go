// Package domain contains the feature flag catalog and per-tenant
// overrides.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/stackforge/tenantry/internal/plan/domain"
	"gorm.io/datatypes"
)

// Flag is one feature in the catalog. Global flags are on for every
// tenant and cannot be overridden off. Non-global flags default on for
// tenants at or above MinTier.
type Flag struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	Code     string       `gorm:"type:text;not null;uniqueIndex"`
	Category string       `gorm:"type:text;not null;default:''"`

	Global         bool            `gorm:"not null;default:false"`
	DefaultEnabled bool            `gorm:"not null;default:false"`
	MinTier        plandomain.Tier `gorm:"type:text;not null;default:'free'"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Flag) TableName() string { return "feature_flags" }

// Override is a per-tenant enable or disable of one flag.
type Override struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	TenantID snowflake.ID `gorm:"not null;index:ux_feature_overrides_tenant_code,unique,priority:1"`
	Code     string       `gorm:"type:text;not null;index:ux_feature_overrides_tenant_code,unique,priority:2"`

	Enabled bool              `gorm:"not null"`
	Config  datatypes.JSONMap `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Override) TableName() string { return "feature_overrides" }
