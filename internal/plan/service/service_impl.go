package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stackforge/tenantry/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("plan.service"),
		repo: p.Repo,
	}
}

func (s *Service) ListPublic(ctx context.Context, req domain.ListPlansRequest) ([]domain.PlanResponse, error) {
	country := strings.ToUpper(strings.TrimSpace(req.CountryCode))
	if len(country) != 2 {
		return nil, domain.ErrInvalidCountry
	}

	plans, err := s.repo.ListPublic(ctx, s.db, country)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.PlanResponse, 0, len(plans))
	for i := range plans {
		item, err := s.toResponse(ctx, &plans[i])
		if err != nil {
			return nil, err
		}
		resp = append(resp, item)
	}
	return resp, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (*domain.Plan, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.ErrPlanNotFound
	}

	plan, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.Active {
		return nil, domain.ErrPlanNotFound
	}
	if plan.Archived {
		return nil, domain.ErrPlanArchived
	}
	// Codes come from tenant-facing requests; hidden plans are not
	// selectable by code even when active.
	if !plan.Public {
		return nil, domain.ErrPlanNotPublic
	}
	return plan, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Plan, error) {
	if id == 0 {
		return nil, domain.ErrPlanNotFound
	}

	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.Active {
		return nil, domain.ErrPlanNotFound
	}
	if plan.Archived {
		return nil, domain.ErrPlanArchived
	}
	return plan, nil
}

// PriceFor implements domain.Service.
func (s *Service) PriceFor(ctx context.Context, p *domain.Plan, cycle domain.BillingCycle) (int64, error) {
	if !cycle.Valid() {
		return 0, domain.ErrInvalidCycle
	}
	if p.IsFree() {
		return 0, nil
	}

	prices, err := s.repo.ListPrices(ctx, s.db, p.ID)
	if err != nil {
		return 0, err
	}
	for _, price := range prices {
		if price.Cycle == cycle {
			return price.PriceCents, nil
		}
	}

	// Cycle not separately configured: charge the base price scaled to
	// the cycle length.
	return p.BasePriceCents * int64(cycle.Months()), nil
}

func (s *Service) Quote(ctx context.Context, req domain.QuoteRequest, now time.Time) (*domain.Quote, error) {
	plan, err := s.GetByCode(ctx, req.PlanCode)
	if err != nil {
		return nil, err
	}

	cycle := req.Cycle
	if cycle == "" {
		cycle = domain.CycleMonthly
	}
	if !cycle.Valid() {
		return nil, domain.ErrInvalidCycle
	}

	subtotal, err := s.PriceFor(ctx, plan, cycle)
	if err != nil {
		return nil, err
	}

	// A pre-signup caller may quote for another country the plan carries a
	// local price for.
	if country := strings.ToUpper(strings.TrimSpace(req.CountryCode)); country != "" && country != plan.CountryCode {
		local, ok := localPriceCents(plan, country)
		if !ok {
			return nil, domain.ErrInvalidCountry
		}
		subtotal = local * int64(cycle.Months())
	}

	discount := int64(0)
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		coupon, err := s.repo.FindCoupon(ctx, s.db, code)
		if err != nil {
			return nil, err
		}
		discount, err = couponDiscount(coupon, subtotal, now)
		if err != nil {
			return nil, err
		}
	}

	taxable := subtotal - discount
	if taxable < 0 {
		taxable = 0
	}
	tax := taxable * int64(plan.TaxRateBps) / 10_000

	return &domain.Quote{
		PlanCode:      plan.Code,
		Cycle:         cycle,
		Currency:      plan.Currency,
		SubtotalCents: subtotal,
		DiscountCents: discount,
		TaxCents:      tax,
		TotalCents:    taxable + tax,
	}, nil
}

func (s *Service) toResponse(ctx context.Context, p *domain.Plan) (domain.PlanResponse, error) {
	prices, err := s.repo.ListPrices(ctx, s.db, p.ID)
	if err != nil {
		return domain.PlanResponse{}, err
	}

	cycles := make([]domain.CycleOption, 0, len(prices))
	for _, price := range prices {
		cycles = append(cycles, domain.CycleOption{Cycle: price.Cycle, PriceCents: price.PriceCents})
	}

	return domain.PlanResponse{
		ID:          p.ID.String(),
		Code:        p.Code,
		CountryCode: p.CountryCode,
		Tier:        p.Tier,
		Name:        p.Name,
		Currency:    p.Currency,
		BasePrice:   p.BasePriceCents,
		TaxRateBps:  p.TaxRateBps,
		Cycles:      cycles,
	}, nil
}

func localPriceCents(p *domain.Plan, country string) (int64, bool) {
	if p.LocalPrices == nil {
		return 0, false
	}
	raw, ok := p.LocalPrices[country]
	if !ok {
		return 0, false
	}
	switch value := raw.(type) {
	case float64:
		return int64(value), true
	case int64:
		return value, true
	default:
		return 0, false
	}
}

func couponDiscount(coupon *domain.Coupon, subtotal int64, now time.Time) (int64, error) {
	if coupon == nil || !coupon.Active {
		return 0, domain.ErrCouponInvalid
	}
	if coupon.ValidFrom != nil && now.Before(*coupon.ValidFrom) {
		return 0, domain.ErrCouponInvalid
	}
	if coupon.ValidUntil != nil && now.After(*coupon.ValidUntil) {
		return 0, domain.ErrCouponInvalid
	}

	var discount int64
	switch {
	case coupon.PercentOff != nil:
		percent := *coupon.PercentOff
		if percent <= 0 || percent > 100 {
			return 0, domain.ErrCouponInvalid
		}
		discount = subtotal * int64(percent) / 100
	case coupon.AmountOffCents != nil:
		discount = *coupon.AmountOffCents
	default:
		return 0, domain.ErrCouponInvalid
	}

	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	return discount, nil
}
