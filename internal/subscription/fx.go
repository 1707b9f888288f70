package subscription

import (
	"go.uber.org/fx"

	"github.com/stackforge/tenantry/internal/subscription/repository"
	"github.com/stackforge/tenantry/internal/subscription/service"
)

var Module = fx.Module("subscription",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
