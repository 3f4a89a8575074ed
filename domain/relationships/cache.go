// Package relationships manages typed edges between nodes and the
// derived relationship-type cache that answers "which (source type,
// relationship) pairs point at this node type".
package relationships

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loreweave/loreweave/domain/events"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/logger"
)

// RelPair is one inbound relationship: edges named Name arriving from
// nodes of SourceType.
type RelPair struct {
	SourceType string `json:"source_type"`
	Name       string `json:"relationship_name"`
}

// snapshot is an immutable index built from a full edge-metadata scan.
// It is swapped atomically as a whole; readers never see it half built.
type snapshot struct {
	byTarget map[string]map[RelPair]struct{}
	builtAt  time.Time
}

func (s *snapshot) has(t store.EdgeTypeTriple) bool {
	pairs, ok := s.byTarget[t.TargetType]
	if !ok {
		return false
	}
	_, ok = pairs[RelPair{SourceType: t.SourceType, Name: t.Name}]
	return ok
}

// Cache serves inbound relationship pairs with bounded staleness: a read
// older than the TTL rebuilds synchronously, and edge events whose type
// pairing is new (or may have vanished) invalidate it early.
type Cache struct {
	store store.Store
	ttl   time.Duration
	log   *slog.Logger

	cur atomic.Pointer[snapshot]

	// rebuildMu serializes rebuilds so a thundering herd of expired
	// readers produces one scan; losers reuse the winner's snapshot.
	rebuildMu sync.Mutex
}

// NewCache creates an empty cache; the first read populates it.
func NewCache(st store.Store, ttl time.Duration, log *slog.Logger) *Cache {
	return &Cache{
		store: st,
		ttl:   ttl,
		log:   log.With(logger.Scope("relationships.cache")),
	}
}

// InboundRelationships returns the (source type, relationship name)
// pairs with at least one edge targeting the given node type, sorted
// for determinism.
func (c *Cache) InboundRelationships(ctx context.Context, targetType string) ([]RelPair, error) {
	snap := c.cur.Load()
	if snap == nil || time.Since(snap.builtAt) > c.ttl {
		cacheMisses.Inc()
		var err error
		snap, err = c.rebuild(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		cacheHits.Inc()
	}
	cacheAge.Set(time.Since(snap.builtAt).Seconds())

	pairs := make([]RelPair, 0, len(snap.byTarget[targetType]))
	for p := range snap.byTarget[targetType] {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].SourceType != pairs[j].SourceType {
			return pairs[i].SourceType < pairs[j].SourceType
		}
		return pairs[i].Name < pairs[j].Name
	})
	return pairs, nil
}

// Age returns how old the current snapshot is; false when cold.
func (c *Cache) Age() (time.Duration, bool) {
	snap := c.cur.Load()
	if snap == nil {
		return 0, false
	}
	return time.Since(snap.builtAt), true
}

// OnEvent invalidates the snapshot when an edge event changes the set
// of represented type pairings: a created edge with an unseen pairing,
// or a deleted edge whose pairing may now be gone. The next read
// rebuilds; unrelated events cost nothing.
func (c *Cache) OnEvent(ev events.Event) {
	if ev.Edge == nil {
		return
	}
	snap := c.cur.Load()
	if snap == nil {
		return
	}
	triple := store.EdgeTypeTriple{
		SourceType: ev.Edge.SourceType,
		Name:       ev.Edge.Name,
		TargetType: ev.Edge.TargetType,
	}

	switch ev.Kind {
	case events.KindEdgeCreated:
		if snap.has(triple) {
			return
		}
	case events.KindEdgeDeleted:
		if !snap.has(triple) {
			return
		}
	default:
		return
	}

	c.cur.Store(nil)
	c.log.Debug("relationship cache invalidated",
		slog.String("kind", string(ev.Kind)),
		slog.String("relationship", triple.Name),
	)
}

// rebuild scans edge metadata and swaps in a fresh snapshot.
func (c *Cache) rebuild(ctx context.Context) (*snapshot, error) {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	// Another reader may have rebuilt while this one waited.
	if snap := c.cur.Load(); snap != nil && time.Since(snap.builtAt) <= c.ttl {
		return snap, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	triples, err := c.store.ListEdgeTypeTriples(ctx)
	if err != nil {
		return nil, err
	}

	byTarget := make(map[string]map[RelPair]struct{})
	for _, t := range triples {
		pairs, ok := byTarget[t.TargetType]
		if !ok {
			pairs = make(map[RelPair]struct{})
			byTarget[t.TargetType] = pairs
		}
		pairs[RelPair{SourceType: t.SourceType, Name: t.Name}] = struct{}{}
	}

	snap := &snapshot{byTarget: byTarget, builtAt: time.Now()}
	c.cur.Store(snap)
	cacheRebuilds.Inc()
	c.log.Debug("relationship cache rebuilt", slog.Int("triples", len(triples)))
	return snap, nil
}
