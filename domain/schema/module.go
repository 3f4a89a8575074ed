package schema

import (
	"context"

	"go.uber.org/fx"

	"github.com/loreweave/loreweave/internal/config"
)

var Module = fx.Module("schema",
	fx.Provide(NewRegistry),
	fx.Invoke(func(lc fx.Lifecycle, r *Registry, cfg *config.Config) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := r.Load(ctx); err != nil {
					return err
				}
				return r.Seed(ctx, cfg.Schema.SeedPath)
			},
		})
	}),
)
