// Command reindex rebuilds the semantic vector index from the node
// store. The index is derived state, so a full rebuild is always safe.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/loreweave/loreweave/domain/events"
	"github.com/loreweave/loreweave/domain/nodes"
	"github.com/loreweave/loreweave/domain/schema"
	"github.com/loreweave/loreweave/domain/semantic"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/internal/store/postgres"
	"github.com/loreweave/loreweave/pkg/embeddings"
	"github.com/loreweave/loreweave/pkg/embeddings/genai"
)

func main() {
	var (
		indexPath  string
		model      string
		dimension  int
		inputLimit int
		dryRun     bool
	)
	flag.StringVar(&indexPath, "index-path", "loreweave-index.db", "SQLite file backing the vector index")
	flag.StringVar(&model, "model", genai.DefaultModel, "Embedding model name")
	flag.IntVar(&dimension, "dimension", embeddings.DefaultDimension, "Embedding vector dimension")
	flag.IntVar(&inputLimit, "input-limit", 2000, "Model input budget in runes")
	flag.BoolVar(&dryRun, "dry-run", false, "List roots without embedding or writing")
	flag.Parse()

	_ = godotenv.Load(".env")

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx := context.Background()

	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" && !dryRun {
		fmt.Fprintln(os.Stderr, "Error: GOOGLE_API_KEY must be set (or use -dry-run)")
		os.Exit(1)
	}

	sqldb, err := sql.Open("pgx", databaseURL())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer sqldb.Close()
	if err := sqldb.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "Error pinging database: %v\n", err)
		os.Exit(1)
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	st := postgres.New(db, log)
	reg := schema.NewRegistry(st, log)
	if err := reg.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading schemas: %v\n", err)
		os.Exit(1)
	}

	roots, err := collectRoots(ctx, st, reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error collecting roots: %v\n", err)
		os.Exit(1)
	}
	log.Info("collected root aggregates", slog.Int("count", len(roots)))

	if dryRun {
		for _, r := range roots {
			fmt.Printf("%s\t%s\n", r.ID, r.Type)
		}
		return
	}

	client, err := genai.NewClient(ctx, genai.Config{
		APIKey:    apiKey,
		Model:     model,
		Dimension: dimension,
	}, genai.WithLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating embedding client: %v\n", err)
		os.Exit(1)
	}

	index, err := semantic.NewIndex(indexPath, dimension, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening vector index: %v\n", err)
		os.Exit(1)
	}
	defer index.Close()
	if err := index.Init(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing vector index: %v\n", err)
		os.Exit(1)
	}

	bus := events.NewService(log)
	defer bus.Close()
	ns := nodes.NewService(st, reg, bus, log)
	agg := semantic.NewAggregator(st, reg, ns, inputLimit)
	svc := semantic.NewService(st, agg, index, embeddings.NewServiceWithClient(client, log), semantic.ServiceConfig{
		Model: model,
	}, log)

	var succeeded, failed int
	for _, r := range roots {
		if err := svc.ReindexRoot(ctx, r.ID); err != nil {
			failed++
			log.Error("failed to reindex root",
				slog.String("root_id", r.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		succeeded++
	}

	log.Info("reindex complete",
		slog.Int("succeeded", succeeded),
		slog.Int("failed", failed),
	)
	if failed > 0 {
		os.Exit(1)
	}
}

// collectRoots lists every root aggregate: parentless nodes plus all
// nodes of container types.
func collectRoots(ctx context.Context, st store.Store, reg *schema.Registry) ([]*store.Node, error) {
	seen := make(map[string]struct{})
	var roots []*store.Node

	add := func(ns []*store.Node) {
		for _, n := range ns {
			if _, ok := seen[n.ID]; ok {
				continue
			}
			seen[n.ID] = struct{}{}
			roots = append(roots, n)
		}
	}

	parentless, err := st.QueryNodes(ctx, store.Query{
		Filters: []store.Filter{store.Eq(store.FieldParentID, nil)},
	})
	if err != nil {
		return nil, err
	}
	add(parentless)

	for _, ts := range reg.Types() {
		if !ts.Container {
			continue
		}
		containers, err := st.QueryNodes(ctx, store.Query{
			Filters: []store.Filter{store.Eq(store.FieldType, ts.Name)},
		})
		if err != nil {
			return nil, err
		}
		add(containers)
	}

	return roots, nil
}

func databaseURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "loreweave")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := getEnv("POSTGRES_DB", "loreweave")
	ssl := getEnv("POSTGRES_SSL_MODE", "disable")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, name, ssl)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
