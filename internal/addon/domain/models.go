// Package domain contains the add-on catalog and per-tenant install
// records.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AddonStatus is an add-on's catalog lifecycle state. Only published
// add-ons can be installed.
type AddonStatus string

const (
	AddonDraft     AddonStatus = "draft"
	AddonPublished AddonStatus = "published"
	AddonArchived  AddonStatus = "archived"
)

// Addon is one installable capability. DependsOn lists the codes of
// add-ons that must be entitled before this one grants anything.
type Addon struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	Code     string       `gorm:"type:text;not null;uniqueIndex"`
	Name     string       `gorm:"type:text;not null"`
	Category string       `gorm:"type:text;not null;default:''"`

	Status    AddonStatus                 `gorm:"type:text;not null;default:'draft'"`
	DependsOn datatypes.JSONSlice[string] `gorm:"type:jsonb"`

	// CountryConfigs keys are country codes; values hold per-country
	// pricing and trial settings.
	CountryConfigs datatypes.JSONMap `gorm:"type:jsonb"`

	TrialDays int `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Addon) TableName() string { return "addons" }

// InstallState is a tenant install's lifecycle state.
type InstallState string

const (
	InstallTrial     InstallState = "trial"
	InstallActive    InstallState = "active"
	InstallGrace     InstallState = "grace"
	InstallExpired   InstallState = "expired"
	InstallCancelled InstallState = "cancelled"
	InstallDisabled  InstallState = "disabled"
)

// Install is one tenant's subscription to an add-on.
type Install struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	TenantID  snowflake.ID `gorm:"not null;index:ux_addon_installs_tenant_code,unique,priority:1"`
	AddonCode string       `gorm:"type:text;not null;index:ux_addon_installs_tenant_code,unique,priority:2"`

	State InstallState `gorm:"type:text;not null"`

	PeriodStart *time.Time `gorm:""`
	TrialEndsAt *time.Time `gorm:""`
	ExpiresAt   *time.Time `gorm:""`
	// ProviderSubscriptionID links a recurring provider mandate, when the
	// add-on bills through the gateway.
	ProviderSubscriptionID *string `gorm:"type:text"`
	// GraceUntil is set when the install enters grace; reads may still be
	// allowed until it passes.
	GraceUntil *time.Time `gorm:""`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Install) TableName() string { return "addon_installs" }

// Usable reports whether the install currently grants the add-on at all,
// counting grace as usable for callers that allow it.
func (i *Install) Usable(allowGrace bool) bool {
	switch i.State {
	case InstallTrial, InstallActive:
		return true
	case InstallGrace:
		return allowGrace
	default:
		return false
	}
}
