// Package domain contains the audit trail records. Writes are
// best-effort: losing an audit row must never fail the audited request.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeAPIKey ActorType = "api_key"
	ActorTypeSystem ActorType = "system"
)

type AuditLog struct {
	ID       snowflake.ID  `gorm:"primaryKey"`
	TenantID *snowflake.ID `gorm:"index"`

	ActorType string  `gorm:"type:text;not null"`
	ActorID   *string `gorm:"type:text"`

	Action     string  `gorm:"type:text;not null;index"`
	TargetType string  `gorm:"type:text;not null"`
	TargetID   *string `gorm:"type:text"`

	Metadata datatypes.JSONMap `gorm:"type:jsonb"`

	IPAddress *string `gorm:"type:text"`
	UserAgent *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;index"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// AuditCursor orders keyset pagination over audit rows.
type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

// ListFilter narrows an audit listing.
type ListFilter struct {
	TenantID   snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
