// Package memory provides the in-memory store backend. It is the default
// backend for a single-process deployment and the reference implementation
// for query semantics in tests.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/apperror"
	"github.com/loreweave/loreweave/pkg/logger"
)

// Store is a mutex-guarded map-backed implementation of store.Store.
type Store struct {
	mu      sync.RWMutex
	nodes   map[string]*store.Node
	edges   map[edgeKey]*store.Edge
	schemas map[string]*store.TypeSchemaRecord
	log     *slog.Logger
}

type edgeKey struct {
	source string
	target string
	name   string
}

// New creates an empty in-memory store.
func New(log *slog.Logger) *Store {
	return &Store{
		nodes:   make(map[string]*store.Node),
		edges:   make(map[edgeKey]*store.Edge),
		schemas: make(map[string]*store.TypeSchemaRecord),
		log:     log.With(logger.Scope("store.memory")),
	}
}

var _ store.Store = (*Store)(nil)

// CreateNode persists a new node, failing on duplicate ids.
func (s *Store) CreateNode(ctx context.Context, n *store.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[n.ID]; exists {
		return apperror.NewConflict("node", n.ID, fmt.Sprintf("node %q already exists", n.ID))
	}
	s.nodes[n.ID] = n.Clone()
	return nil
}

// GetNode returns (nil, nil) for a missing id.
func (s *Store) GetNode(ctx context.Context, id string) (*store.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.nodes[id].Clone(), nil
}

// UpdateNode persists n under optimistic version control.
func (s *Store) UpdateNode(ctx context.Context, n *store.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.updateLocked(n); err != nil {
		return err
	}
	return nil
}

// updateLocked applies a version-checked update; the caller holds the
// write lock. On success the caller's node carries the bumped version.
func (s *Store) updateLocked(n *store.Node) error {
	current, exists := s.nodes[n.ID]
	if !exists {
		return apperror.NewNotFound("node", n.ID)
	}
	if current.Version != n.Version {
		return apperror.NewConflict("node", n.ID,
			fmt.Sprintf("stale version %d for node %q (current %d)", n.Version, n.ID, current.Version))
	}
	n.Version++
	s.nodes[n.ID] = n.Clone()
	return nil
}

// DeleteNode reports whether a node was removed.
func (s *Store) DeleteNode(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[id]; !exists {
		return false, nil
	}
	delete(s.nodes, id)
	return true, nil
}

// QueryNodes evaluates the query against every node. Results carry the
// requested order followed by the id tie-break.
func (s *Store) QueryNodes(ctx context.Context, q store.Query) ([]*store.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	matched := make([]*store.Node, 0)
	for _, n := range s.nodes {
		if store.Matches(n, q.Filters) {
			matched = append(matched, n.Clone())
		}
	}
	s.mu.RUnlock()

	store.SortNodes(matched, q.Sort)
	return store.Paginate(matched, q.Limit, q.Offset), nil
}

// ApplyChainUpdate applies the whole mutation inside one critical
// section: concurrent readers observe either none or all of it. Version
// and parent-cycle checks run before any write so a rejected update
// leaves the store untouched.
func (s *Store) ApplyChainUpdate(ctx context.Context, cu store.ChainUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range cu.Creates {
		if _, exists := s.nodes[n.ID]; exists {
			return apperror.NewConflict("node", n.ID, fmt.Sprintf("node %q already exists", n.ID))
		}
	}
	for _, n := range cu.Updates {
		current, exists := s.nodes[n.ID]
		if !exists {
			return apperror.NewNotFound("node", n.ID)
		}
		if current.Version != n.Version {
			return apperror.NewConflict("node", n.ID,
				fmt.Sprintf("stale version %d for node %q (current %d)", n.Version, n.ID, current.Version))
		}
	}
	if err := s.checkAcyclicLocked(cu); err != nil {
		return err
	}

	for _, n := range cu.Creates {
		s.nodes[n.ID] = n.Clone()
	}
	for _, n := range cu.Updates {
		n.Version++
		s.nodes[n.ID] = n.Clone()
	}
	for _, id := range cu.Deletes {
		delete(s.nodes, id)
		s.deleteEdgesForLocked(id)
	}
	return nil
}

// maxParentHops bounds post-state ancestor walks; the tree never gets
// this deep, so exceeding it means a parent loop.
const maxParentHops = 4096

// checkAcyclicLocked verifies the parent graph stays acyclic once cu is
// applied. Any cycle a chain update could introduce passes through a
// created or updated node, so walking ancestors from each of those over
// the post-state view is exhaustive. The caller holds the write lock.
func (s *Store) checkAcyclicLocked(cu store.ChainUpdate) error {
	override := make(map[string]*store.Node, len(cu.Creates)+len(cu.Updates))
	for _, n := range cu.Creates {
		override[n.ID] = n
	}
	for _, n := range cu.Updates {
		override[n.ID] = n
	}
	deleted := make(map[string]struct{}, len(cu.Deletes))
	for _, id := range cu.Deletes {
		deleted[id] = struct{}{}
	}
	lookup := func(id string) *store.Node {
		if _, gone := deleted[id]; gone {
			return nil
		}
		if n, ok := override[id]; ok {
			return n
		}
		return s.nodes[id]
	}

	for id := range override {
		seen := make(map[string]struct{})
		cur := lookup(id)
		for hops := 0; cur != nil; hops++ {
			if _, dup := seen[cur.ID]; dup || hops > maxParentHops {
				return apperror.ErrCycleDetected.
					WithMessagef("update would create a parent cycle through node %q", cur.ID).
					WithDetails(map[string]any{"id": cur.ID})
			}
			seen[cur.ID] = struct{}{}
			if cur.ParentID == nil {
				break
			}
			cur = lookup(*cur.ParentID)
		}
	}
	return nil
}

// CreateEdge persists an edge, failing on a duplicate triple.
func (s *Store) CreateEdge(ctx context.Context, e *store.Edge) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := edgeKey{e.SourceID, e.TargetID, e.Name}
	if _, exists := s.edges[key]; exists {
		return apperror.NewConflict("edge", edgeID(e),
			fmt.Sprintf("edge %s already exists", edgeID(e)))
	}
	copied := *e
	s.edges[key] = &copied
	return nil
}

// DeleteEdge reports whether an edge was removed.
func (s *Store) DeleteEdge(ctx context.Context, sourceID, targetID, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := edgeKey{sourceID, targetID, name}
	if _, exists := s.edges[key]; !exists {
		return false, nil
	}
	delete(s.edges, key)
	return true, nil
}

// QueryEdges returns edges matching all non-empty query fields, ordered
// by (source, target, name) for determinism.
func (s *Store) QueryEdges(ctx context.Context, q store.EdgeQuery) ([]*store.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*store.Edge, 0)
	for _, e := range s.edges {
		if q.SourceID != "" && e.SourceID != q.SourceID {
			continue
		}
		if q.TargetID != "" && e.TargetID != q.TargetID {
			continue
		}
		if q.Name != "" && e.Name != q.Name {
			continue
		}
		copied := *e
		out = append(out, &copied)
	}
	sortEdges(out)
	return out, nil
}

// DeleteEdgesForNode removes every edge touching the node.
func (s *Store) DeleteEdgesForNode(ctx context.Context, nodeID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteEdgesForLocked(nodeID), nil
}

func (s *Store) deleteEdgesForLocked(nodeID string) int {
	removed := 0
	for key, e := range s.edges {
		if e.SourceID == nodeID || e.TargetID == nodeID {
			delete(s.edges, key)
			removed++
		}
	}
	return removed
}

// ListEdgeTypeTriples joins the edge table against node types and
// returns the distinct triples. Edges whose endpoints are gone are
// skipped rather than reported.
func (s *Store) ListEdgeTypeTriples(ctx context.Context) ([]store.EdgeTypeTriple, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[store.EdgeTypeTriple]struct{})
	for _, e := range s.edges {
		src, sok := s.nodes[e.SourceID]
		dst, dok := s.nodes[e.TargetID]
		if !sok || !dok {
			continue
		}
		seen[store.EdgeTypeTriple{
			SourceType: src.Type,
			Name:       e.Name,
			TargetType: dst.Type,
		}] = struct{}{}
	}

	out := make([]store.EdgeTypeTriple, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out, nil
}

// GetTypeSchema returns (nil, nil) for a missing name.
func (s *Store) GetTypeSchema(ctx context.Context, name string) (*store.TypeSchemaRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.schemas[name]
	if !exists {
		return nil, nil
	}
	copied := *rec
	copied.Doc = append([]byte(nil), rec.Doc...)
	return &copied, nil
}

// PutTypeSchema inserts or replaces a schema record.
func (s *Store) PutTypeSchema(ctx context.Context, rec *store.TypeSchemaRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *rec
	copied.Doc = append([]byte(nil), rec.Doc...)
	copied.UpdatedAt = time.Now().UTC()
	s.schemas[rec.Name] = &copied
	return nil
}

// ListTypeSchemas returns all schema records ordered by name.
func (s *Store) ListTypeSchemas(ctx context.Context) ([]*store.TypeSchemaRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*store.TypeSchemaRecord, 0, len(s.schemas))
	for _, rec := range s.schemas {
		copied := *rec
		copied.Doc = append([]byte(nil), rec.Doc...)
		out = append(out, &copied)
	}
	sortSchemas(out)
	return out, nil
}

func edgeID(e *store.Edge) string {
	return fmt.Sprintf("%s->%s[%s]", e.SourceID, e.TargetID, e.Name)
}

func sortEdges(edges []*store.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		return a.Name < b.Name
	})
}

func sortSchemas(recs []*store.TypeSchemaRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })
}
