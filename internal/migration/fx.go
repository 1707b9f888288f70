package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	addondomain "github.com/stackforge/tenantry/internal/addon/domain"
	auditdomain "github.com/stackforge/tenantry/internal/audit/domain"
	"github.com/stackforge/tenantry/internal/config"
	featuredomain "github.com/stackforge/tenantry/internal/feature/domain"
	paymentdomain "github.com/stackforge/tenantry/internal/payment/domain"
	plandomain "github.com/stackforge/tenantry/internal/plan/domain"
	"github.com/stackforge/tenantry/internal/seed"
	subscriptiondomain "github.com/stackforge/tenantry/internal/subscription/domain"
	tenantdomain "github.com/stackforge/tenantry/internal/tenant/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// sqlite and mysql are dev conveniences; AutoMigrate keeps
			// them in sync with the models without versioned SQL.
			if err := conn.AutoMigrate(
				&tenantdomain.Tenant{},
				&tenantdomain.User{},
				&tenantdomain.Member{},
				&tenantdomain.APIKey{},
				&plandomain.Plan{},
				&plandomain.PlanPrice{},
				&plandomain.Coupon{},
				&subscriptiondomain.Subscription{},
				&subscriptiondomain.Payment{},
				&paymentdomain.ProcessedEvent{},
				&addondomain.Addon{},
				&addondomain.Install{},
				&featuredomain.Flag{},
				&featuredomain.Override{},
				&auditdomain.AuditLog{},
			); err != nil {
				return err
			}
		}

		if cfg.Bootstrap.SeedCatalog {
			if err := seed.EnsureCatalog(conn); err != nil {
				return err
			}
		}
		if cfg.Bootstrap.EnsureDefaultTenantAndOwner {
			return seed.EnsureDefaultTenantAndOwner(conn, cfg.Bootstrap)
		}
		return nil
	}),
)
