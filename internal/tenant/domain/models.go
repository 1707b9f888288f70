// Package domain contains the thin tenant records the entitlement engine
// needs: the tenant itself, its members, and hashed API credentials.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Tenant struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Name        string       `gorm:"type:text;not null"`
	CountryCode string       `gorm:"type:text;not null"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Tenant) TableName() string { return "tenants" }

type User struct {
	ID    snowflake.ID `gorm:"primaryKey"`
	Email string       `gorm:"type:text;not null;uniqueIndex"`
	// PasswordHash is a bcrypt hash. Empty for API-only users.
	PasswordHash string `gorm:"type:text;not null;default:''"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (User) TableName() string { return "users" }

// Member binds a user to a tenant with a role. The role names feed the
// permission checker.
type Member struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	TenantID snowflake.ID `gorm:"not null;index:ux_tenant_members_tenant_user,unique,priority:1"`
	UserID   snowflake.ID `gorm:"not null;index:ux_tenant_members_tenant_user,unique,priority:2"`
	Role     string       `gorm:"type:text;not null"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Member) TableName() string { return "tenant_members" }

// APIKey stores a hashed API credential scoped to a tenant. Only the
// SHA-256 of the raw key is persisted.
type APIKey struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	TenantID snowflake.ID `gorm:"not null;index"`
	UserID   snowflake.ID `gorm:"not null"`
	Name     string       `gorm:"type:text;not null"`
	KeyHash  string       `gorm:"type:text;not null;uniqueIndex"`

	IsActive   bool       `gorm:"not null;default:true"`
	LastUsedAt *time.Time `gorm:""`
	ExpiresAt  *time.Time `gorm:""`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (APIKey) TableName() string { return "api_keys" }

// HashAPIKey hashes a raw API key the same way key creation does.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
