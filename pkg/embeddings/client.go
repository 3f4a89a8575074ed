// Package embeddings provides embedding generation for semantic indexing.
package embeddings

import (
	"context"
)

// DefaultDimension is the default embedding dimension.
const DefaultDimension = 768

// Client generates embedding vectors. Query and document texts are
// encoded asymmetrically: the two methods must use matching models.
type Client interface {
	// EmbedQuery generates an embedding vector for a search query.
	EmbedQuery(ctx context.Context, query string) ([]float32, error)

	// EmbedDocuments generates embedding vectors for stored content.
	EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error)
}

// NoopClient returns nil embeddings. Used when embeddings are disabled.
type NoopClient struct{}

// NewNoopClient creates a NoopClient.
func NewNoopClient() *NoopClient {
	return &NoopClient{}
}

func (c *NoopClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return nil, nil
}

func (c *NoopClient) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	return nil, nil
}
