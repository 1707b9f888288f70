// Package domain contains the pricing-plan catalog models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Tier is a plan's feature-eligibility rank.
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

var tierRank = map[Tier]int{
	TierFree:       0,
	TierStarter:    1,
	TierPro:        2,
	TierEnterprise: 3,
}

// Rank returns the tier's position on the ladder; unknown tiers rank below free.
func (t Tier) Rank() int {
	rank, ok := tierRank[t]
	if !ok {
		return -1
	}
	return rank
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// BillingCycle is the recurrence period of a plan's price.
type BillingCycle string

const (
	CycleMonthly    BillingCycle = "monthly"
	CycleQuarterly  BillingCycle = "quarterly"
	CycleHalfYearly BillingCycle = "half_yearly"
	CycleYearly     BillingCycle = "yearly"
)

// Months returns the cycle length in months.
func (c BillingCycle) Months() int {
	switch c {
	case CycleMonthly:
		return 1
	case CycleQuarterly:
		return 3
	case CycleHalfYearly:
		return 6
	case CycleYearly:
		return 12
	default:
		return 0
	}
}

// Valid reports whether c is a known billing cycle.
func (c BillingCycle) Valid() bool {
	return c.Months() > 0
}

// Plan is one sellable pricing plan scoped to a billing country.
// CountryCode is the authoritative country scope; the country prefix in
// Code is only a naming convention.
type Plan struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Code        string       `gorm:"type:text;not null;uniqueIndex"`
	CountryCode string       `gorm:"type:text;not null;index"`
	Tier        Tier         `gorm:"type:text;not null"`
	Name        string       `gorm:"type:text;not null"`

	BasePriceCents int64             `gorm:"not null"`
	Currency       string            `gorm:"type:text;not null"`
	LocalPrices    datatypes.JSONMap `gorm:"type:jsonb"`
	TaxRateBps     int               `gorm:"not null;default:0"`

	Active   bool `gorm:"not null;default:true"`
	Public   bool `gorm:"not null;default:true"`
	Archived bool `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Plan) TableName() string { return "plans" }

// IsFree reports whether selecting the plan requires no payment.
func (p *Plan) IsFree() bool {
	return p.Tier == TierFree || p.BasePriceCents == 0
}

// PlanPrice is the per-cycle price row for a plan. Cycles without a row
// fall back to the plan's base price.
type PlanPrice struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	PlanID     snowflake.ID `gorm:"not null;index:ux_plan_prices_plan_cycle,unique,priority:1"`
	Cycle      BillingCycle `gorm:"type:text;not null;index:ux_plan_prices_plan_cycle,unique,priority:2"`
	PriceCents int64        `gorm:"not null"`
	Enabled    bool         `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PlanPrice) TableName() string { return "plan_prices" }

// Coupon is a quote-time discount. Coupons never mutate subscriptions;
// they only shape the quoted total.
type Coupon struct {
	ID   snowflake.ID `gorm:"primaryKey"`
	Code string       `gorm:"type:text;not null;uniqueIndex"`

	PercentOff     *int   `gorm:""`
	AmountOffCents *int64 `gorm:""`

	ValidFrom  *time.Time `gorm:""`
	ValidUntil *time.Time `gorm:""`
	Active     bool       `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Coupon) TableName() string { return "coupons" }
