package relationships

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/loreweave/loreweave/domain/events"
	"github.com/loreweave/loreweave/internal/config"
	"github.com/loreweave/loreweave/internal/store"
)

var Module = fx.Module("relationships",
	fx.Provide(
		func(st store.Store, cfg *config.Config, log *slog.Logger) *Cache {
			return NewCache(st, cfg.Cache.TTL, log)
		},
		NewService,
	),
	// The cache listens for edge events so a new type pairing becomes
	// visible before the TTL expires.
	fx.Invoke(func(lc fx.Lifecycle, bus *events.Service, cache *Cache) {
		var unsubscribe func()
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				unsubscribe = bus.Subscribe("relationship-cache", cache.OnEvent)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				if unsubscribe != nil {
					unsubscribe()
				}
				return nil
			},
		})
	}),
)
