// Package seed populates a fresh database with a usable catalog and, for
// self-hosted deployments, a default tenant and owner.
package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	addondomain "github.com/stackforge/tenantry/internal/addon/domain"
	"github.com/stackforge/tenantry/internal/config"
	featuredomain "github.com/stackforge/tenantry/internal/feature/domain"
	plandomain "github.com/stackforge/tenantry/internal/plan/domain"
	tenantdomain "github.com/stackforge/tenantry/internal/tenant/domain"
)

const (
	defaultTenantName    = "Main"
	defaultCountryCode   = "US"
	defaultAdminPassword = "admin"
)

type planSeed struct {
	Code        string
	CountryCode string
	Tier        plandomain.Tier
	Name        string
	PriceCents  int64
	Currency    string
	TaxRateBps  int
}

var defaultPlans = []planSeed{
	{"us-free", "US", plandomain.TierFree, "Free", 0, "USD", 0},
	{"us-starter", "US", plandomain.TierStarter, "Starter", 2900, "USD", 0},
	{"us-pro", "US", plandomain.TierPro, "Pro", 9900, "USD", 0},
	{"in-free", "IN", plandomain.TierFree, "Free", 0, "INR", 0},
	{"in-starter", "IN", plandomain.TierStarter, "Starter", 99900, "INR", 1800},
	{"in-pro", "IN", plandomain.TierPro, "Pro", 299900, "INR", 1800},
}

type featureSeed struct {
	Code           string
	Category       string
	Global         bool
	DefaultEnabled bool
	MinTier        plandomain.Tier
}

var defaultFeatures = []featureSeed{
	{"dashboard", "core", true, true, plandomain.TierFree},
	{"reports", "analytics", false, true, plandomain.TierStarter},
	{"advanced_reports", "analytics", false, true, plandomain.TierPro},
	{"api_access", "platform", false, true, plandomain.TierPro},
	{"bulk_export", "platform", false, true, plandomain.TierStarter},
}

type addonSeed struct {
	Code      string
	Name      string
	Category  string
	DependsOn []string
	TrialDays int
}

var defaultAddons = []addonSeed{
	{"hrms", "HR Management", "suite", nil, 14},
	{"crm", "Customer Relations", "suite", nil, 14},
	{"payroll", "Payroll", "finance", []string{"hrms"}, 7},
	{"recruitment", "Recruitment", "suite", []string{"hrms"}, 7},
	{"helpdesk", "Helpdesk", "support", []string{"directory"}, 7},
}

// EnsureCatalog seeds plans, feature flags and the add-on catalog,
// skipping rows that already exist.
func EnsureCatalog(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensurePlans(ctx, tx, node); err != nil {
			return err
		}
		if err := ensureFeatures(ctx, tx, node); err != nil {
			return err
		}
		return ensureAddons(ctx, tx, node)
	})
}

func ensurePlans(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	for _, p := range defaultPlans {
		var existing plandomain.Plan
		err := tx.WithContext(ctx).Where("code = ?", p.Code).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		plan := plandomain.Plan{
			ID:             node.Generate(),
			Code:           p.Code,
			CountryCode:    p.CountryCode,
			Tier:           p.Tier,
			Name:           p.Name,
			BasePriceCents: p.PriceCents,
			Currency:       p.Currency,
			TaxRateBps:     p.TaxRateBps,
			Active:         true,
			Public:         true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.WithContext(ctx).Create(&plan).Error; err != nil {
			return err
		}

		if p.PriceCents > 0 {
			// Yearly buyers get two months free.
			yearly := plandomain.PlanPrice{
				ID:         node.Generate(),
				PlanID:     plan.ID,
				Cycle:      plandomain.CycleYearly,
				PriceCents: p.PriceCents * 10,
				Enabled:    true,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.WithContext(ctx).Create(&yearly).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func ensureFeatures(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	for _, f := range defaultFeatures {
		var existing featuredomain.Flag
		err := tx.WithContext(ctx).Where("code = ?", f.Code).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		flag := featuredomain.Flag{
			ID:             node.Generate(),
			Code:           f.Code,
			Category:       f.Category,
			Global:         f.Global,
			DefaultEnabled: f.DefaultEnabled,
			MinTier:        f.MinTier,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.WithContext(ctx).Create(&flag).Error; err != nil {
			return err
		}
	}
	return nil
}

func ensureAddons(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	for _, a := range defaultAddons {
		var existing addondomain.Addon
		err := tx.WithContext(ctx).Where("code = ?", a.Code).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		addon := addondomain.Addon{
			ID:        node.Generate(),
			Code:      a.Code,
			Name:      a.Name,
			Category:  a.Category,
			Status:    addondomain.AddonPublished,
			DependsOn: datatypes.NewJSONSlice(a.DependsOn),
			TrialDays: a.TrialDays,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&addon).Error; err != nil {
			return err
		}
	}
	return nil
}

// EnsureDefaultTenantAndOwner seeds the default tenant and admin user so
// a self-hosted install is usable immediately after first boot.
func EnsureDefaultTenantAndOwner(db *gorm.DB, bootstrap config.BootstrapConfig) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	email := strings.ToLower(strings.TrimSpace(bootstrap.AdminEmail))
	if email == "" {
		email = "admin@localhost"
	}
	password := bootstrap.AdminPassword
	if password == "" {
		password = defaultAdminPassword
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user tenantdomain.User
		err := tx.WithContext(ctx).Where("email = ?", email).First(&user).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			user = tenantdomain.User{
				ID:           node.Generate(),
				Email:        email,
				PasswordHash: string(hashed),
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := tx.WithContext(ctx).Create(&user).Error; err != nil {
				return err
			}
		}

		var tenant tenantdomain.Tenant
		err = tx.WithContext(ctx).Where("name = ?", defaultTenantName).First(&tenant).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			now := time.Now().UTC()
			tenant = tenantdomain.Tenant{
				ID:          node.Generate(),
				Name:        defaultTenantName,
				CountryCode: defaultCountryCode,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.WithContext(ctx).Create(&tenant).Error; err != nil {
				return err
			}
		}

		var member tenantdomain.Member
		err = tx.WithContext(ctx).
			Where("tenant_id = ? AND user_id = ?", tenant.ID, user.ID).
			First(&member).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			member = tenantdomain.Member{
				ID:        node.Generate(),
				TenantID:  tenant.ID,
				UserID:    user.ID,
				Role:      "owner",
				CreatedAt: time.Now().UTC(),
			}
			if err := tx.WithContext(ctx).Create(&member).Error; err != nil {
				return err
			}
		}

		return nil
	})
}
