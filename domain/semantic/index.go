package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/liliang-cn/cortexdb/v2/pkg/core"

	"github.com/loreweave/loreweave/pkg/logger"
)

// Metadata keys stored with every chunk embedding.
const (
	metaNodeType    = "node_type"
	metaModel       = "model"
	metaContentHash = "content_hash"
	metaModifiedAt  = "modified_at"
)

// Index persists chunk embeddings in a SQLite-backed vector store. All
// chunks of one root share docID = root id so a root can be replaced or
// removed as a unit. The index is derived state: it can be rebuilt from
// the node store at any time.
type Index struct {
	store *core.SQLiteStore
	log   *slog.Logger
}

// ChunkRecord is one chunk embedding to be written for a root.
type ChunkRecord struct {
	Ordinal    int
	Text       string
	Hash       string
	Vector     []float32
	NodeType   string
	Model      string
	ModifiedAt time.Time
}

// Hit is a search result before root-level deduplication.
type Hit struct {
	RootID     string
	NodeType   string
	Content    string
	Score      float64
	ModifiedAt time.Time
}

// NewIndex opens the vector index at path. An empty path selects an
// in-memory database that does not survive restarts.
func NewIndex(path string, dimension int, log *slog.Logger) (*Index, error) {
	if path == "" {
		path = ":memory:"
	}

	cfg := core.DefaultConfig()
	cfg.Path = path
	cfg.VectorDim = dimension

	st, err := core.NewWithConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("open vector index %q: %w", path, err)
	}

	return &Index{
		store: st,
		log:   log.With(logger.Scope("semantic-index")),
	}, nil
}

// Init creates the index tables.
func (ix *Index) Init(ctx context.Context) error {
	return ix.store.Init(ctx)
}

// ReplaceRoot atomically swaps the stored chunks for rootID: existing
// chunks are removed and the given records written in their place.
func (ix *Index) ReplaceRoot(ctx context.Context, rootID string, records []ChunkRecord) error {
	if err := ix.store.DeleteByDocID(ctx, rootID); err != nil {
		return fmt.Errorf("clear chunks for root %s: %w", rootID, err)
	}

	embs := make([]*core.Embedding, 0, len(records))
	for _, rec := range records {
		embs = append(embs, &core.Embedding{
			ID:      fmt.Sprintf("%s#%d", rootID, rec.Ordinal),
			DocID:   rootID,
			Vector:  rec.Vector,
			Content: rec.Text,
			Metadata: map[string]string{
				metaNodeType:    rec.NodeType,
				metaModel:       rec.Model,
				metaContentHash: rec.Hash,
				metaModifiedAt:  rec.ModifiedAt.UTC().Format(time.RFC3339Nano),
			},
		})
	}
	if len(embs) == 0 {
		return nil
	}

	if err := ix.store.UpsertBatch(ctx, embs); err != nil {
		return fmt.Errorf("upsert chunks for root %s: %w", rootID, err)
	}
	return nil
}

// DeleteRoot removes all chunks stored for rootID.
func (ix *Index) DeleteRoot(ctx context.Context, rootID string) error {
	return ix.store.DeleteByDocID(ctx, rootID)
}

// Search returns the chunks nearest to the query vector by cosine
// similarity. typeFilter restricts hits to one node type when non-empty.
func (ix *Index) Search(ctx context.Context, query []float32, topK int, typeFilter string) ([]Hit, error) {
	opts := core.SearchOptions{TopK: topK}
	if typeFilter != "" {
		opts.Filter = map[string]string{metaNodeType: typeFilter}
	}

	scored, err := ix.store.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(scored))
	for _, s := range scored {
		hit := Hit{
			RootID:   s.DocID,
			NodeType: s.Metadata[metaNodeType],
			Content:  s.Content,
			Score:    s.Score,
		}
		if raw := s.Metadata[metaModifiedAt]; raw != "" {
			if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				hit.ModifiedAt = ts
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the number of stored chunk embeddings.
func (ix *Index) Count(ctx context.Context) (int64, error) {
	stats, err := ix.store.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.Count, nil
}

// Close releases the underlying database.
func (ix *Index) Close() error {
	return ix.store.Close()
}
