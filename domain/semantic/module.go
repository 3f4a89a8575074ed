package semantic

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/loreweave/loreweave/domain/events"
	"github.com/loreweave/loreweave/domain/nodes"
	"github.com/loreweave/loreweave/domain/schema"
	"github.com/loreweave/loreweave/internal/config"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/embeddings"
)

// Module wires the semantic index pipeline.
var Module = fx.Module("semantic",
	fx.Provide(
		func(st store.Store, reg *schema.Registry, ns *nodes.Service, cfg *config.Config) *Aggregator {
			return NewAggregator(st, reg, ns, cfg.Embeddings.InputLimit)
		},
		func(cfg *config.Config, log *slog.Logger) (*Index, error) {
			return NewIndex(cfg.Indexer.IndexPath, cfg.Embeddings.Dimension, log)
		},
		func(st store.Store, agg *Aggregator, index *Index, embedder *embeddings.Service, cfg *config.Config, log *slog.Logger) *Service {
			return NewService(st, agg, index, embedder, ServiceConfig{
				Model:           cfg.Embeddings.Model,
				VectorCacheSize: cfg.Indexer.VectorCacheSize,
				Indexer: IndexerConfig{
					QueueSize:      cfg.Indexer.QueueSize,
					Debounce:       cfg.Indexer.Debounce,
					MaxAttempts:    cfg.Indexer.MaxAttempts,
					RetryBaseDelay: cfg.Indexer.RetryBaseDelay,
				},
			}, log)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, svc *Service, index *Index, bus *events.Service) {
		var unsubscribe func()
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := index.Init(ctx); err != nil {
					return err
				}
				unsubscribe = bus.Subscribe("semantic-indexer", svc.OnEvent)
				return svc.Indexer().Start(ctx)
			},
			OnStop: func(ctx context.Context) error {
				if unsubscribe != nil {
					unsubscribe()
				}
				if err := svc.Indexer().Stop(ctx); err != nil {
					return err
				}
				return index.Close()
			},
		})
	}),
)
