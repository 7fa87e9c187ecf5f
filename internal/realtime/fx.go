package realtime

import "go.uber.org/fx"

var Module = fx.Module("realtime.hub",
	fx.Provide(NewHub),
)
