package semantic

import (
	"context"
	"sort"
	"time"

	"github.com/loreweave/loreweave/pkg/apperror"
)

// SearchResult is one root aggregate matched by a semantic query.
type SearchResult struct {
	NodeID     string    `json:"node_id"`
	NodeType   string    `json:"node_type"`
	Score      float64   `json:"score"`
	Snippet    string    `json:"snippet"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Over-fetch factor so root-level deduplication still fills topK.
const searchFetchFactor = 4

// Search encodes query with the query-side model prefix and returns the
// topK nearest root aggregates by cosine similarity. typeFilter
// restricts results to one node type when non-empty. An unconfigured
// embedding backend or an index with nothing in it yields
// ErrIndexUnavailable, distinct from a search that matched nothing.
func (s *Service) Search(ctx context.Context, query string, topK int, typeFilter string) ([]SearchResult, error) {
	if !s.embedder.IsEnabled() {
		return nil, apperror.ErrIndexUnavailable
	}
	if topK <= 0 {
		topK = 10
	}

	count, err := s.index.Count(ctx)
	if err != nil {
		return nil, apperror.ErrIndexUnavailable.WithMessage("vector index unavailable").WithInternal(err)
	}
	if count == 0 {
		return nil, apperror.ErrIndexUnavailable.WithMessage("vector index holds no embeddings")
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, apperror.ErrIndexUnavailable.WithMessage("query embedding failed").WithInternal(err)
	}
	if len(vector) == 0 {
		return nil, apperror.ErrIndexUnavailable
	}

	hits, err := s.index.Search(ctx, vector, topK*searchFetchFactor, typeFilter)
	if err != nil {
		return nil, apperror.ErrIndexUnavailable.WithMessage("vector index query failed").WithInternal(err)
	}

	// Collapse chunk hits to their root, keeping each root's best chunk.
	best := make(map[string]SearchResult)
	for _, h := range hits {
		cur, seen := best[h.RootID]
		if !seen || h.Score > cur.Score {
			best[h.RootID] = SearchResult{
				NodeID:     h.RootID,
				NodeType:   h.NodeType,
				Score:      h.Score,
				Snippet:    h.Content,
				ModifiedAt: h.ModifiedAt,
			}
		}
	}

	results := make([]SearchResult, 0, len(best))
	for _, r := range best {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].ModifiedAt.Equal(results[j].ModifiedAt) {
			return results[i].ModifiedAt.After(results[j].ModifiedAt)
		}
		return results[i].NodeID < results[j].NodeID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}
