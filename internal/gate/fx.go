package gate

import "go.uber.org/fx"

var Module = fx.Module("gate",
	fx.Provide(New),
)
