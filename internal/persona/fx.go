package persona

import "go.uber.org/fx"

var Module = fx.Module("persona",
	fx.Provide(DefaultRegistry),
	fx.Provide(NewSelector),
)
