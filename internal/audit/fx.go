package audit

import (
	"go.uber.org/fx"

	"github.com/stackforge/tenantry/internal/audit/repository"
	"github.com/stackforge/tenantry/internal/audit/service"
)

var Module = fx.Module("audit",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
