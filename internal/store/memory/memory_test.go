package memory

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/apperror"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(slog.New(slog.DiscardHandler))
}

func strPtr(s string) *string { return &s }

func makeNode(id, nodeType, content string) *store.Node {
	now := time.Now().UTC()
	return &store.Node{
		ID:         id,
		Type:       nodeType,
		Content:    content,
		Props:      map[string]any{},
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

func TestCreateAndGetNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := makeNode("n1", "task", "write report")
	n.Props["status"] = "open"
	require.NoError(t, s.CreateNode(ctx, n))

	got, err := s.GetNode(ctx, "n1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "task", got.Type)
	assert.Equal(t, "write report", got.Content)
	assert.Equal(t, "open", got.Props["status"])

	// Mutating the returned node must not affect the stored copy.
	got.Content = "mutated"
	got.Props["status"] = "closed"
	again, err := s.GetNode(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "write report", again.Content)
	assert.Equal(t, "open", again.Props["status"])
}

func TestGetNodeMissingReturnsNilNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetNode(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreateNodeDuplicateConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateNode(ctx, makeNode("n1", "task", "a")))
	err := s.CreateNode(ctx, makeNode("n1", "task", "b"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestUpdateNodeVersionCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := makeNode("n1", "task", "a")
	require.NoError(t, s.CreateNode(ctx, n))

	n.Content = "b"
	require.NoError(t, s.UpdateNode(ctx, n))
	assert.Equal(t, int64(1), n.Version)

	stale := makeNode("n1", "task", "c")
	stale.Version = 0
	err := s.UpdateNode(ctx, stale)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrConflict)

	got, err := s.GetNode(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Content)
	assert.Equal(t, int64(1), got.Version)
}

func TestUpdateNodeMissing(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateNode(context.Background(), makeNode("ghost", "task", "x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestDeleteNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateNode(ctx, makeNode("n1", "task", "a")))

	removed, err := s.DeleteNode(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.DeleteNode(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func seedQueryFixture(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []struct {
		id       string
		nodeType string
		content  string
		parent   *string
		props    map[string]any
		offset   time.Duration
	}{
		{"proj-1", "project", "Project Alpha", nil, map[string]any{"priority": 1}, 0},
		{"task-1", "task", "Draft outline", strPtr("proj-1"), map[string]any{"priority": 3, "status": "open"}, time.Minute},
		{"task-2", "task", "Review outline", strPtr("proj-1"), map[string]any{"priority": 2, "status": "open"}, 2 * time.Minute},
		{"task-3", "task", "Archive notes", strPtr("proj-1"), map[string]any{"priority": 2, "status": "done"}, 3 * time.Minute},
		{"note-1", "note", "Outline ideas", strPtr("task-1"), map[string]any{"tags": map[string]any{"topic": "writing"}}, 4 * time.Minute},
	}
	for _, r := range rows {
		n := makeNode(r.id, r.nodeType, r.content)
		n.ParentID = r.parent
		n.Props = r.props
		n.CreatedAt = base.Add(r.offset)
		n.ModifiedAt = n.CreatedAt
		require.NoError(t, s.CreateNode(ctx, n))
	}
}

func TestQueryNodesByTypeAndParent(t *testing.T) {
	s := newTestStore(t)
	seedQueryFixture(t, s)

	got, err := s.QueryNodes(context.Background(), store.Query{
		Filters: []store.Filter{
			store.Eq(store.FieldType, "task"),
			store.Eq(store.FieldParentID, "proj-1"),
		},
		Sort: []store.SortKey{store.SortBy(store.FieldCreatedAt, false)},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "task-1", got[0].ID)
	assert.Equal(t, "task-2", got[1].ID)
	assert.Equal(t, "task-3", got[2].ID)
}

func TestQueryNodesContains(t *testing.T) {
	s := newTestStore(t)
	seedQueryFixture(t, s)

	got, err := s.QueryNodes(context.Background(), store.Query{
		Filters: []store.Filter{store.Contains(store.FieldContent, "outline")},
	})
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, n := range got {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"task-1", "task-2", "note-1"}, ids)
}

func TestQueryNodesPropertyPath(t *testing.T) {
	s := newTestStore(t)
	seedQueryFixture(t, s)
	ctx := context.Background()

	got, err := s.QueryNodes(ctx, store.Query{
		Filters: []store.Filter{
			store.PropFilter([]string{"status"}, store.OpEq, "open"),
		},
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.QueryNodes(ctx, store.Query{
		Filters: []store.Filter{
			store.PropFilter([]string{"tags", "topic"}, store.OpEq, "writing"),
		},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "note-1", got[0].ID)
}

func TestQueryNodesNumericRange(t *testing.T) {
	s := newTestStore(t)
	seedQueryFixture(t, s)

	got, err := s.QueryNodes(context.Background(), store.Query{
		Filters: []store.Filter{
			store.Eq(store.FieldType, "task"),
			store.PropFilter([]string{"priority"}, store.OpGte, 2),
			store.PropFilter([]string{"priority"}, store.OpLt, 3),
		},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestQueryNodesSortTieBreakAndPagination(t *testing.T) {
	s := newTestStore(t)
	seedQueryFixture(t, s)
	ctx := context.Background()

	// task-2 and task-3 share priority 2; the id tie-break makes the
	// order stable across pages.
	q := store.Query{
		Filters: []store.Filter{store.Eq(store.FieldType, "task")},
		Sort:    []store.SortKey{{Field: store.FieldProperty, Path: []string{"priority"}, Desc: true}},
		Limit:   2,
	}
	page1, err := s.QueryNodes(ctx, q)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "task-1", page1[0].ID)
	assert.Equal(t, "task-2", page1[1].ID)

	q.Offset = 2
	page2, err := s.QueryNodes(ctx, q)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, "task-3", page2[0].ID)
}

func TestApplyChainUpdateAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := makeNode("a", "task", "a")
	b := makeNode("b", "task", "b")
	require.NoError(t, s.CreateNode(ctx, a))
	require.NoError(t, s.CreateNode(ctx, b))

	// Stale version on b: nothing may be applied.
	aCopy := a.Clone()
	aCopy.Content = "a2"
	bStale := b.Clone()
	bStale.Version = 99
	err := s.ApplyChainUpdate(ctx, store.ChainUpdate{
		Creates: []*store.Node{makeNode("c", "task", "c")},
		Updates: []*store.Node{aCopy, bStale},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrConflict)

	got, err := s.GetNode(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Content)
	got, err = s.GetNode(ctx, "c")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Valid chain applies everything, including edge cleanup for deletes.
	require.NoError(t, s.CreateEdge(ctx, &store.Edge{SourceID: "a", TargetID: "b", Name: "blocks"}))
	aCopy = a.Clone()
	aCopy.Content = "a2"
	err = s.ApplyChainUpdate(ctx, store.ChainUpdate{
		Creates: []*store.Node{makeNode("c", "task", "c")},
		Updates: []*store.Node{aCopy},
		Deletes: []string{"b"},
	})
	require.NoError(t, err)

	got, err = s.GetNode(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a2", got.Content)
	assert.Equal(t, int64(1), got.Version)
	got, err = s.GetNode(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = s.GetNode(ctx, "c")
	require.NoError(t, err)
	require.NotNil(t, got)

	edges, err := s.QueryEdges(ctx, store.EdgeQuery{SourceID: "a"})
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestApplyChainUpdateRejectsParentCycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := makeNode("p", "text", "p")
	q := makeNode("q", "text", "q")
	x := makeNode("x", "text", "x")
	x.ParentID = strPtr("p")
	y := makeNode("y", "text", "y")
	y.ParentID = strPtr("q")
	for _, n := range []*store.Node{p, q, x, y} {
		require.NoError(t, s.CreateNode(ctx, n))
	}

	// Two moves that each look fine in isolation but together would make
	// x and y each other's parent. The store must refuse the write.
	xMoved := x.Clone()
	xMoved.ParentID = strPtr("y")
	yMoved := y.Clone()
	yMoved.ParentID = strPtr("x")
	err := s.ApplyChainUpdate(ctx, store.ChainUpdate{Updates: []*store.Node{xMoved, yMoved}})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrCycleDetected)

	got, err := s.GetNode(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "p", *got.ParentID, "rejected update leaves the store untouched")

	// A node made its own parent is the degenerate loop.
	selfLoop := p.Clone()
	selfLoop.ParentID = strPtr("p")
	err = s.ApplyChainUpdate(ctx, store.ChainUpdate{Updates: []*store.Node{selfLoop}})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrCycleDetected)
}

func TestEdgeLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &store.Edge{SourceID: "a", TargetID: "b", Name: "references", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateEdge(ctx, e))

	err := s.CreateEdge(ctx, &store.Edge{SourceID: "a", TargetID: "b", Name: "references"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrConflict)

	// Same endpoints under a different name is a distinct edge.
	require.NoError(t, s.CreateEdge(ctx, &store.Edge{SourceID: "a", TargetID: "b", Name: "blocks"}))

	edges, err := s.QueryEdges(ctx, store.EdgeQuery{SourceID: "a", TargetID: "b"})
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "blocks", edges[0].Name)
	assert.Equal(t, "references", edges[1].Name)

	removed, err := s.DeleteEdge(ctx, "a", "b", "blocks")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.DeleteEdge(ctx, "a", "b", "blocks")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDeleteEdgesForNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateEdge(ctx, &store.Edge{SourceID: "a", TargetID: "b", Name: "references"}))
	require.NoError(t, s.CreateEdge(ctx, &store.Edge{SourceID: "c", TargetID: "a", Name: "blocks"}))
	require.NoError(t, s.CreateEdge(ctx, &store.Edge{SourceID: "c", TargetID: "b", Name: "blocks"}))

	removed, err := s.DeleteEdgesForNode(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	edges, err := s.QueryEdges(ctx, store.EdgeQuery{})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "c", edges[0].SourceID)
	assert.Equal(t, "b", edges[0].TargetID)
}

func TestListEdgeTypeTriples(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateNode(ctx, makeNode("p", "person", "Ada")))
	require.NoError(t, s.CreateNode(ctx, makeNode("t1", "task", "x")))
	require.NoError(t, s.CreateNode(ctx, makeNode("t2", "task", "y")))
	require.NoError(t, s.CreateEdge(ctx, &store.Edge{SourceID: "p", TargetID: "t1", Name: "assigned_to"}))
	require.NoError(t, s.CreateEdge(ctx, &store.Edge{SourceID: "p", TargetID: "t2", Name: "assigned_to"}))
	// Dangling edge: target node never created.
	require.NoError(t, s.CreateEdge(ctx, &store.Edge{SourceID: "p", TargetID: "ghost", Name: "assigned_to"}))

	triples, err := s.ListEdgeTypeTriples(ctx)
	require.NoError(t, err)
	require.Len(t, triples, 1)
	assert.Equal(t, store.EdgeTypeTriple{SourceType: "person", Name: "assigned_to", TargetType: "task"}, triples[0])
}

func TestTypeSchemaRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetTypeSchema(ctx, "task")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.PutTypeSchema(ctx, &store.TypeSchemaRecord{Name: "task", Doc: []byte(`{"fields":{}}`)}))
	require.NoError(t, s.PutTypeSchema(ctx, &store.TypeSchemaRecord{Name: "note", Doc: []byte(`{}`)}))

	got, err = s.GetTypeSchema(ctx, "task")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"fields":{}}`, string(got.Doc))
	assert.False(t, got.UpdatedAt.IsZero())

	all, err := s.ListTypeSchemas(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "note", all[0].Name)
	assert.Equal(t, "task", all[1].Name)
}

func TestContextCancellation(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.CreateNode(ctx, makeNode("n", "task", "x")))
	_, err := s.QueryNodes(ctx, store.Query{})
	assert.Error(t, err)
}
