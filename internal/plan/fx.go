package plan

import (
	"github.com/stackforge/tenantry/internal/plan/repository"
	"github.com/stackforge/tenantry/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
