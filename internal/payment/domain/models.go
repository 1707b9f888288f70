package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ProcessedEvent records a webhook event already handled. The unique
// index makes replay detection a plain insert; processing failures stay
// on the row for later inspection.
type ProcessedEvent struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	Provider string       `gorm:"type:text;not null;index:ux_payment_events_provider_event,unique,priority:1"`
	EventID  string       `gorm:"type:text;not null;index:ux_payment_events_provider_event,unique,priority:2"`
	Type     string       `gorm:"type:text;not null"`

	Payload datatypes.JSON `gorm:"type:jsonb"`

	ReceivedAt   time.Time  `gorm:"not null"`
	ProcessedAt  *time.Time `gorm:""`
	ProcessError *string    `gorm:"type:text"`
}

func (ProcessedEvent) TableName() string { return "payment_events" }
