package embeddings

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/loreweave/loreweave/internal/config"
	"github.com/loreweave/loreweave/pkg/embeddings/genai"
	"github.com/loreweave/loreweave/pkg/logger"
)

// Module provides the embeddings fx.Module.
var Module = fx.Module("embeddings",
	fx.Provide(NewService),
)

// Service provides embedding generation with automatic client selection.
// Without a configured backend it degrades to a noop client so the rest
// of the application can treat embeddings as always present.
type Service struct {
	client  Client
	log     *slog.Logger
	enabled bool
}

// NewService creates the embeddings service. The real client is dialed
// on startup so construction stays side-effect free.
func NewService(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) *Service {
	log = log.With(logger.Scope("embeddings"))
	embCfg := cfg.Embeddings

	svc := &Service{
		client:  NewNoopClient(),
		log:     log,
		enabled: false,
	}

	if !embCfg.IsEnabled() {
		log.Info("embeddings disabled - no backend configured")
		return svc
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			client, err := genai.NewClient(ctx, genai.Config{
				APIKey:    embCfg.GoogleAPIKey,
				Model:     embCfg.Model,
				Dimension: embCfg.Dimension,
			}, genai.WithLogger(log))
			if err != nil {
				// Degrade to noop rather than failing startup.
				log.Error("failed to initialize embeddings client", logger.Error(err))
				return nil
			}
			svc.client = client
			svc.enabled = true
			log.Info("embeddings client initialized", slog.String("model", embCfg.Model))
			return nil
		},
	})

	return svc
}

// NewNoopService creates a disabled service, used in tests.
func NewNoopService(log *slog.Logger) *Service {
	return &Service{
		client:  NewNoopClient(),
		log:     log,
		enabled: false,
	}
}

// NewServiceWithClient wraps an explicit client, used in tests.
func NewServiceWithClient(client Client, log *slog.Logger) *Service {
	return &Service{
		client:  client,
		log:     log,
		enabled: true,
	}
}

// IsEnabled reports whether a real embedding backend is configured.
func (s *Service) IsEnabled() bool {
	return s.enabled
}

// EmbedQuery generates an embedding for a single query.
func (s *Service) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return s.client.EmbedQuery(ctx, query)
}

// EmbedDocuments generates embeddings for multiple documents.
func (s *Service) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	return s.client.EmbedDocuments(ctx, documents)
}
