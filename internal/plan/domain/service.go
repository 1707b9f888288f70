package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type ListPlansRequest struct {
	CountryCode string
}

type PlanResponse struct {
	ID          string        `json:"id"`
	Code        string        `json:"code"`
	CountryCode string        `json:"country_code"`
	Tier        Tier          `json:"tier"`
	Name        string        `json:"name"`
	Currency    string        `json:"currency"`
	BasePrice   int64         `json:"base_price_cents"`
	TaxRateBps  int           `json:"tax_rate_bps"`
	Cycles      []CycleOption `json:"cycles"`
}

type CycleOption struct {
	Cycle      BillingCycle `json:"cycle"`
	PriceCents int64        `json:"price_cents"`
}

type QuoteRequest struct {
	PlanCode    string       `json:"planCode"`
	Cycle       BillingCycle `json:"billingCycle"`
	CouponCode  string       `json:"couponCode,omitempty"`
	CountryCode string       `json:"countryCode,omitempty"`
}

// Quote is a pure pricing breakdown; computing one never mutates state.
type Quote struct {
	PlanCode      string       `json:"plan_code"`
	Cycle         BillingCycle `json:"billing_cycle"`
	Currency      string       `json:"currency"`
	SubtotalCents int64        `json:"subtotal_cents"`
	DiscountCents int64        `json:"discount_cents"`
	TaxCents      int64        `json:"tax_cents"`
	TotalCents    int64        `json:"total_cents"`
}

type Service interface {
	ListPublic(ctx context.Context, req ListPlansRequest) ([]PlanResponse, error)
	GetByCode(ctx context.Context, code string) (*Plan, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Plan, error)
	// PriceFor resolves the charge amount for a plan and cycle, falling
	// back to the base price when the cycle has no dedicated row.
	PriceFor(ctx context.Context, p *Plan, cycle BillingCycle) (int64, error)
	Quote(ctx context.Context, req QuoteRequest, now time.Time) (*Quote, error)
}

var (
	ErrPlanNotFound   = errors.New("plan_not_found")
	ErrPlanArchived   = errors.New("plan_archived")
	ErrPlanNotPublic  = errors.New("plan_not_public")
	ErrInvalidCycle   = errors.New("invalid_billing_cycle")
	ErrInvalidCountry = errors.New("invalid_country")
	ErrCouponInvalid  = errors.New("coupon_invalid")
)
