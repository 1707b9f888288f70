package tenant

import (
	"go.uber.org/fx"

	"github.com/stackforge/tenantry/internal/tenant/repository"
	"github.com/stackforge/tenantry/internal/tenant/service"
)

var Module = fx.Module("tenant",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
