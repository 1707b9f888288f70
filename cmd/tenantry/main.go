package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/stackforge/tenantry/internal/addon"
	"github.com/stackforge/tenantry/internal/audit"
	"github.com/stackforge/tenantry/internal/authorization"
	"github.com/stackforge/tenantry/internal/cache"
	"github.com/stackforge/tenantry/internal/clock"
	"github.com/stackforge/tenantry/internal/config"
	"github.com/stackforge/tenantry/internal/feature"
	"github.com/stackforge/tenantry/internal/gate"
	"github.com/stackforge/tenantry/internal/migration"
	"github.com/stackforge/tenantry/internal/observability"
	"github.com/stackforge/tenantry/internal/payment"
	"github.com/stackforge/tenantry/internal/plan"
	"github.com/stackforge/tenantry/internal/ratelimit"
	"github.com/stackforge/tenantry/internal/scheduler"
	"github.com/stackforge/tenantry/internal/server"
	"github.com/stackforge/tenantry/internal/subscription"
	"github.com/stackforge/tenantry/internal/tenant"
	"github.com/stackforge/tenantry/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		ratelimit.Module,
		migration.Module,

		// Domains
		authorization.Module,
		tenant.Module,
		plan.Module,
		payment.Module,
		subscription.Module,
		addon.Module,
		feature.Module,
		audit.Module,
		gate.Module,

		// Surfaces
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
