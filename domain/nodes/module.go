package nodes

import (
	"go.uber.org/fx"
)

var Module = fx.Module("nodes",
	fx.Provide(NewService),
)
