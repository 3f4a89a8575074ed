package semantic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loreweave/loreweave/domain/events"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/embeddings"
	"github.com/loreweave/loreweave/pkg/logger"
)

// Service maintains the semantic index: it watches domain events,
// attributes each mutation to its root aggregate, and re-embeds the
// root's chunks through a debounced background worker. Indexing is
// best-effort relative to the node store; an embedding failure never
// fails the originating mutation.
type Service struct {
	store    store.Store
	agg      *Aggregator
	index    *Index
	embedder *embeddings.Service
	cache    *vectorCache
	indexer  *Indexer
	model    string
	log      *slog.Logger
}

// ServiceConfig carries the tunables the semantic service needs.
type ServiceConfig struct {
	Model           string
	VectorCacheSize int
	Indexer         IndexerConfig
}

// NewService wires the semantic pipeline against an opened index.
func NewService(st store.Store, agg *Aggregator, index *Index, embedder *embeddings.Service, cfg ServiceConfig, log *slog.Logger) *Service {
	if cfg.VectorCacheSize <= 0 {
		cfg.VectorCacheSize = 2048
	}

	s := &Service{
		store:    st,
		agg:      agg,
		index:    index,
		embedder: embedder,
		cache:    newVectorCache(cfg.VectorCacheSize),
		model:    cfg.Model,
		log:      log.With(logger.Scope("semantic")),
	}
	s.indexer = NewIndexer(cfg.Indexer, log, s.processRoot)
	return s
}

// Indexer exposes the work queue, for lifecycle wiring and stats.
func (s *Service) Indexer() *Indexer {
	return s.indexer
}

// OnEvent attributes a node mutation to its nearest root aggregate and
// enqueues that root for re-indexing. Edge events do not affect content
// and are ignored.
func (s *Service) OnEvent(ev events.Event) {
	switch ev.Kind {
	case events.KindCreated, events.KindUpdated, events.KindMoved:
		s.enqueueRootOf(ev.NodeID)
	case events.KindDeleted:
		// The node is gone; its own chunks go, and the surviving
		// parent's root (if any) shrinks.
		if err := s.index.DeleteRoot(context.Background(), ev.NodeID); err != nil {
			s.log.Warn("failed to drop deleted root from index",
				slog.String("node_id", ev.NodeID), logger.Error(err))
		}
		if ev.ParentID != nil {
			s.enqueueRootOf(*ev.ParentID)
		}
	}
}

func (s *Service) enqueueRootOf(nodeID string) {
	root, err := s.agg.RootFor(context.Background(), nodeID)
	if err != nil {
		s.log.Warn("failed to resolve root aggregate",
			slog.String("node_id", nodeID), logger.Error(err))
		return
	}
	s.indexer.Enqueue(root.ID)
}

// ReindexRoot synchronously recomputes one root's chunk embeddings,
// bypassing the queue. Used by the offline rebuild command.
func (s *Service) ReindexRoot(ctx context.Context, rootID string) error {
	return s.processRoot(ctx, rootID)
}

// processRoot recomputes and stores the chunk embeddings for one root.
// Called by the worker; errors here are retried, then dropped.
func (s *Service) processRoot(ctx context.Context, rootID string) error {
	if !s.embedder.IsEnabled() {
		return nil
	}

	root, err := s.store.GetNode(ctx, rootID)
	if err != nil {
		return err
	}
	if root == nil {
		// Deleted while queued.
		return s.index.DeleteRoot(ctx, rootID)
	}

	chunks, err := s.agg.Aggregate(ctx, root)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return s.index.DeleteRoot(ctx, rootID)
	}

	vectors, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}

	records := make([]ChunkRecord, 0, len(chunks))
	for i, c := range chunks {
		records = append(records, ChunkRecord{
			Ordinal:    c.Ordinal,
			Text:       c.Text,
			Hash:       c.Hash,
			Vector:     vectors[i],
			NodeType:   root.Type,
			Model:      s.model,
			ModifiedAt: root.ModifiedAt,
		})
	}

	if err := s.index.ReplaceRoot(ctx, rootID, records); err != nil {
		return err
	}

	s.log.Debug("root re-indexed",
		slog.String("root_id", rootID),
		slog.Int("chunks", len(records)),
	)
	return nil
}

// embedChunks resolves each chunk's vector, via the content-hash cache
// when the text is unchanged and the model otherwise.
func (s *Service) embedChunks(ctx context.Context, chunks []Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	var missTexts []string
	var missIdx []int
	for i, c := range chunks {
		if v, ok := s.cache.get(c.Hash); ok {
			embedCacheHits.Inc()
			vectors[i] = v
			continue
		}
		embedCacheMisses.Inc()
		missTexts = append(missTexts, c.Text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	fresh, err := s.embedder.EmbedDocuments(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("embedding backend returned %d vectors for %d texts", len(fresh), len(missTexts))
	}

	for j, i := range missIdx {
		vectors[i] = fresh[j]
		s.cache.put(chunks[i].Hash, fresh[j])
	}
	return vectors, nil
}
