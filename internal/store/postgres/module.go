package postgres

import (
	"go.uber.org/fx"

	"github.com/loreweave/loreweave/internal/store"
)

var Module = fx.Module("store-postgres",
	fx.Provide(
		fx.Annotate(
			New,
			fx.As(new(store.Store)),
		),
	),
)
