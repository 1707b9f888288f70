package addon

import (
	"go.uber.org/fx"

	"github.com/stackforge/tenantry/internal/addon/repository"
	"github.com/stackforge/tenantry/internal/addon/service"
)

var Module = fx.Module("addon",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
