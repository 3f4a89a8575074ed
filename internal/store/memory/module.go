package memory

import (
	"go.uber.org/fx"

	"github.com/loreweave/loreweave/internal/store"
)

var Module = fx.Module("store-memory",
	fx.Provide(
		fx.Annotate(
			New,
			fx.As(new(store.Store)),
		),
	),
)
