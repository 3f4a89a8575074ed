// Package main is the entry point for the loreweave content store server.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/loreweave/loreweave/domain/events"
	"github.com/loreweave/loreweave/domain/nodes"
	"github.com/loreweave/loreweave/domain/relationships"
	"github.com/loreweave/loreweave/domain/schema"
	"github.com/loreweave/loreweave/domain/semantic"
	"github.com/loreweave/loreweave/internal/config"
	"github.com/loreweave/loreweave/internal/database"
	"github.com/loreweave/loreweave/internal/migrate"
	"github.com/loreweave/loreweave/internal/server"
	"github.com/loreweave/loreweave/internal/store/memory"
	"github.com/loreweave/loreweave/internal/store/postgres"
	"github.com/loreweave/loreweave/pkg/embeddings"
	"github.com/loreweave/loreweave/pkg/logger"
)

func main() {
	// Load .env files if present (for local development). Load() won't
	// overwrite existing vars, Overload() will.
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	opts := []fx.Option{
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure
		logger.Module,
		config.Module,
		server.Module,

		// Domain
		embeddings.Module,
		events.Module,
		schema.Module,
		nodes.Module,
		relationships.Module,
		semantic.Module,
	}

	// The store backend is decided before the fx graph is built so only
	// the selected backend's constructors are registered.
	opts = append(opts, storeOptions()...)

	fx.New(opts...).Run()
}

// storeOptions selects the store backend modules from the environment.
// config.NewConfig validates the same value again inside the graph.
func storeOptions() []fx.Option {
	backend := os.Getenv("STORE_BACKEND")
	if backend == "" {
		backend = config.BackendMemory
	}

	if backend != config.BackendPostgres {
		return []fx.Option{memory.Module}
	}

	return []fx.Option{
		database.Module,
		postgres.Module,
		migrate.Module,
		fx.Invoke(func(m *migrate.Migrator, cfg *config.Config) error {
			if !cfg.Database.AutoMigrate {
				return nil
			}
			return m.Up(context.Background())
		}),
	}
}
