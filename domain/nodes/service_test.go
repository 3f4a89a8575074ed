package nodes

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loreweave/loreweave/domain/events"
	"github.com/loreweave/loreweave/domain/schema"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/internal/store/memory"
	"github.com/loreweave/loreweave/pkg/apperror"
)

type fixture struct {
	svc   *Service
	store *memory.Store
	bus   *events.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	st := memory.New(log)
	reg := schema.NewRegistry(st, log)
	require.NoError(t, reg.Seed(context.Background(), ""))
	bus := events.NewService(log)
	t.Cleanup(bus.Close)
	return &fixture{svc: NewService(st, reg, bus, log), store: st, bus: bus}
}

func childIDs(t *testing.T, svc *Service, parentID string) []string {
	t.Helper()
	children, err := svc.Children(context.Background(), &parentID)
	require.NoError(t, err)
	ids := make([]string, 0, len(children))
	for _, c := range children {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestCreateNodeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		params CreateParams
	}{
		{
			name:   "unknown type",
			params: CreateParams{Type: "widget", Content: "x"},
		},
		{
			name:   "missing content",
			params: CreateParams{Type: "task", Content: "   "},
		},
		{
			name: "protected property",
			params: CreateParams{Type: "task", Content: "x",
				Props: map[string]any{"completed_at": "2026-01-01"}},
		},
		{
			name: "uncoercible property",
			params: CreateParams{Type: "task", Content: "x",
				Props: map[string]any{"priority": "urgent-ish"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateNode(ctx, tt.params)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperror.ErrValidation)
		})
	}
}

func TestCreateNodeMissingParent(t *testing.T) {
	f := newFixture(t)

	ghost := "ghost"
	_, err := f.svc.CreateNode(context.Background(), CreateParams{
		Type: "task", Content: "x", ParentID: &ghost,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestSiblingOrderScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alpha, err := f.svc.CreateNode(ctx, CreateParams{Type: "text", Content: "Project Alpha"})
	require.NoError(t, err)

	task1, err := f.svc.CreateNode(ctx, CreateParams{
		Type: "task", Content: "Task 1", ParentID: &alpha.ID,
	})
	require.NoError(t, err)
	assert.Nil(t, task1.BeforeSiblingID)

	task2, err := f.svc.CreateNode(ctx, CreateParams{
		Type: "task", Content: "Task 2", ParentID: &alpha.ID, InsertAfterID: &task1.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{task1.ID, task2.ID}, childIDs(t, f.svc, alpha.ID))

	require.NoError(t, f.svc.MoveNode(ctx, MoveParams{
		ID: task1.ID, NewParentID: &alpha.ID, InsertAfterID: &task2.ID,
	}))

	assert.Equal(t, []string{task2.ID, task1.ID}, childIDs(t, f.svc, alpha.ID))

	// The chain stays well formed: one head, every predecessor unique.
	children, err := f.svc.Children(ctx, &alpha.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Nil(t, children[0].BeforeSiblingID)
	require.NotNil(t, children[1].BeforeSiblingID)
	assert.Equal(t, children[0].ID, *children[1].BeforeSiblingID)
}

func TestInsertInMiddleRetargetsSuccessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root, err := f.svc.CreateNode(ctx, CreateParams{Type: "text", Content: "root"})
	require.NoError(t, err)
	a, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "a", ParentID: &root.ID})
	require.NoError(t, err)
	b, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "b", ParentID: &root.ID})
	require.NoError(t, err)

	// Insert between a and b.
	mid, err := f.svc.CreateNode(ctx, CreateParams{
		Type: "task", Content: "mid", ParentID: &root.ID, InsertAfterID: &a.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{a.ID, mid.ID, b.ID}, childIDs(t, f.svc, root.ID))
}

func TestInsertAfterForeignSiblingFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root1, err := f.svc.CreateNode(ctx, CreateParams{Type: "text", Content: "r1"})
	require.NoError(t, err)
	root2, err := f.svc.CreateNode(ctx, CreateParams{Type: "text", Content: "r2"})
	require.NoError(t, err)
	other, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "t", ParentID: &root2.ID})
	require.NoError(t, err)

	_, err = f.svc.CreateNode(ctx, CreateParams{
		Type: "task", Content: "x", ParentID: &root1.ID, InsertAfterID: &other.ID,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestMoveNodeCycleDetected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root, err := f.svc.CreateNode(ctx, CreateParams{Type: "text", Content: "root"})
	require.NoError(t, err)
	child, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "child", ParentID: &root.ID})
	require.NoError(t, err)
	grandchild, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "gc", ParentID: &child.ID})
	require.NoError(t, err)

	// Self-parenting.
	err = f.svc.MoveNode(ctx, MoveParams{ID: root.ID, NewParentID: &root.ID})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrCycleDetected)

	// Under a descendant.
	err = f.svc.MoveNode(ctx, MoveParams{ID: root.ID, NewParentID: &grandchild.ID})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrCycleDetected)

	// Failed moves leave the store untouched.
	got, err := f.svc.Get(ctx, root.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ParentID)
	assert.Equal(t, int64(0), got.Version)
	assert.Equal(t, []string{child.ID}, childIDs(t, f.svc, root.ID))
}

func TestConcurrentOpposingMovesNeverCommitCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Opposing moves under different parents take disjoint lock stripes,
	// so both can pass the service-level ancestor walk; the store's
	// commit-time check is what must hold the invariant.
	for i := 0; i < 50; i++ {
		p, err := f.svc.CreateNode(ctx, CreateParams{Type: "text", Content: "p"})
		require.NoError(t, err)
		q, err := f.svc.CreateNode(ctx, CreateParams{Type: "text", Content: "q"})
		require.NoError(t, err)
		x, err := f.svc.CreateNode(ctx, CreateParams{Type: "text", Content: "x", ParentID: &p.ID})
		require.NoError(t, err)
		y, err := f.svc.CreateNode(ctx, CreateParams{Type: "text", Content: "y", ParentID: &q.ID})
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = f.svc.MoveNode(ctx, MoveParams{ID: x.ID, NewParentID: &y.ID})
		}()
		go func() {
			defer wg.Done()
			_ = f.svc.MoveNode(ctx, MoveParams{ID: y.ID, NewParentID: &x.ID})
		}()
		wg.Wait()

		// Whichever interleaving won, the parent chain from each node
		// must terminate.
		for _, id := range []string{x.ID, y.ID} {
			seen := make(map[string]bool)
			cur, err := f.svc.Get(ctx, id)
			require.NoError(t, err)
			for cur.ParentID != nil {
				require.False(t, seen[cur.ID], "iteration %d: parent cycle through %q", i, cur.ID)
				seen[cur.ID] = true
				cur, err = f.svc.Get(ctx, *cur.ParentID)
				require.NoError(t, err)
			}
		}
	}
}

func TestMoveAcrossParents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p1, err := f.svc.CreateNode(ctx, CreateParams{Type: "text", Content: "p1"})
	require.NoError(t, err)
	p2, err := f.svc.CreateNode(ctx, CreateParams{Type: "text", Content: "p2"})
	require.NoError(t, err)
	a, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "a", ParentID: &p1.ID})
	require.NoError(t, err)
	b, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "b", ParentID: &p1.ID})
	require.NoError(t, err)
	c, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "c", ParentID: &p2.ID})
	require.NoError(t, err)

	// Move the head of p1's chain under p2, after c.
	require.NoError(t, f.svc.MoveNode(ctx, MoveParams{
		ID: a.ID, NewParentID: &p2.ID, InsertAfterID: &c.ID,
	}))

	assert.Equal(t, []string{b.ID}, childIDs(t, f.svc, p1.ID))
	assert.Equal(t, []string{c.ID, a.ID}, childIDs(t, f.svc, p2.ID))

	moved, err := f.svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, moved.ParentID)
	assert.Equal(t, p2.ID, *moved.ParentID)

	// The old chain's head repair: b is now first.
	gotB, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, gotB.BeforeSiblingID)
}

func TestContainerResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// "project" is a container type; "task" and "note" are not.
	proj, err := f.svc.CreateNode(ctx, CreateParams{Type: "project", Content: "Home"})
	require.NoError(t, err)
	assert.Equal(t, proj.ID, proj.ContainerID)

	task, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "fix", ParentID: &proj.ID})
	require.NoError(t, err)
	assert.Equal(t, proj.ID, task.ContainerID)

	note, err := f.svc.CreateNode(ctx, CreateParams{Type: "note", Content: "n", ParentID: &task.ID})
	require.NoError(t, err)
	assert.Equal(t, proj.ID, note.ContainerID)

	// A node with no container ancestor refers to itself.
	solo, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "solo"})
	require.NoError(t, err)
	assert.Equal(t, solo.ID, solo.ContainerID)
}

func TestMoveRecomputesContainersForSubtree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	projA, err := f.svc.CreateNode(ctx, CreateParams{Type: "project", Content: "A"})
	require.NoError(t, err)
	projB, err := f.svc.CreateNode(ctx, CreateParams{Type: "project", Content: "B"})
	require.NoError(t, err)
	task, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "t", ParentID: &projA.ID})
	require.NoError(t, err)
	sub, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "s", ParentID: &task.ID})
	require.NoError(t, err)

	require.NoError(t, f.svc.MoveNode(ctx, MoveParams{ID: task.ID, NewParentID: &projB.ID}))

	gotTask, err := f.svc.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, projB.ID, gotTask.ContainerID)

	gotSub, err := f.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, projB.ID, gotSub.ContainerID)
}

func TestDeleteNodeCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alpha, err := f.svc.CreateNode(ctx, CreateParams{Type: "text", Content: "Project Alpha"})
	require.NoError(t, err)
	t1, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "Task 1", ParentID: &alpha.ID})
	require.NoError(t, err)
	t2, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "Task 2", ParentID: &alpha.ID})
	require.NoError(t, err)

	removed, err := f.svc.DeleteNode(ctx, alpha.ID, "")
	require.NoError(t, err)
	assert.True(t, removed)

	for _, id := range []string{alpha.ID, t1.ID, t2.ID} {
		got, err := f.store.GetNode(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got, "node %s should be cascade-deleted", id)
	}

	removed, err = f.svc.DeleteNode(ctx, alpha.ID, "")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDeleteNodeRepairsSiblingChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root, err := f.svc.CreateNode(ctx, CreateParams{Type: "text", Content: "root"})
	require.NoError(t, err)
	a, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "a", ParentID: &root.ID})
	require.NoError(t, err)
	b, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "b", ParentID: &root.ID})
	require.NoError(t, err)
	c, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "c", ParentID: &root.ID})
	require.NoError(t, err)

	removed, err := f.svc.DeleteNode(ctx, b.ID, "")
	require.NoError(t, err)
	assert.True(t, removed)

	assert.Equal(t, []string{a.ID, c.ID}, childIDs(t, f.svc, root.ID))
}

func TestDeleteNodeRemovesEdges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "a"})
	require.NoError(t, err)
	b, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "b"})
	require.NoError(t, err)
	require.NoError(t, f.store.CreateEdge(ctx, &store.Edge{
		SourceID: a.ID, TargetID: b.ID, Name: "blocks",
	}))

	_, err = f.svc.DeleteNode(ctx, a.ID, "")
	require.NoError(t, err)

	edges, err := f.store.QueryEdges(ctx, store.EdgeQuery{})
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestUpdateNode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.svc.CreateNode(ctx, CreateParams{
		Type: "task", Content: "draft",
		Props: map[string]any{"priority": 1},
	})
	require.NoError(t, err)

	content := "draft v2"
	updated, err := f.svc.UpdateNode(ctx, UpdateParams{
		ID: n.ID, Content: &content,
		Props: map[string]any{"status": "active"},
	})
	require.NoError(t, err)
	assert.Equal(t, "draft v2", updated.Content)
	assert.Equal(t, "active", updated.Props["status"])
	assert.Equal(t, float64(1), updated.Props["priority"], "patch keeps untouched keys")
	assert.Greater(t, updated.Version, n.Version)

	// Stale version from a concurrent reader conflicts.
	_, err = f.svc.UpdateNode(ctx, UpdateParams{
		ID: n.ID, Props: map[string]any{"status": "stale"}, Version: &n.Version,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestUpdateNodeStaleVersionZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Freshly created nodes live at version zero, so zero must behave as
	// a real version in the conflict check, not as "unspecified".
	n, err := f.svc.CreateNode(ctx, CreateParams{Type: "task", Content: "draft"})
	require.NoError(t, err)
	require.Equal(t, int64(0), n.Version)

	fresh := "draft v2"
	_, err = f.svc.UpdateNode(ctx, UpdateParams{ID: n.ID, Content: &fresh})
	require.NoError(t, err)

	stale := "stale write"
	_, err = f.svc.UpdateNode(ctx, UpdateParams{
		ID: n.ID, Content: &stale, Version: &n.Version,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrConflict)

	got, err := f.svc.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft v2", got.Content)
}

func TestSingletonIDDerivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	day, err := f.svc.CreateNode(ctx, CreateParams{Type: "date", Content: "2026-03-01"})
	require.NoError(t, err)
	assert.Equal(t, "date:2026-03-01", day.ID)

	// The same day again is a conflict, not a second node.
	_, err = f.svc.CreateNode(ctx, CreateParams{Type: "date", Content: "2026-03-01"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrConflict)

	_, err = f.svc.CreateNode(ctx, CreateParams{Type: "date", Content: "!!!"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestCreateNodeDuplicateID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateNode(ctx, CreateParams{Type: "text", Content: "anchor"})
	require.NoError(t, err)

	parent, err := f.svc.CreateNode(ctx, CreateParams{Type: "text", Content: "parent"})
	require.NoError(t, err)

	// A caller-supplied id colliding under a different parent must read
	// as a conflict, not as chain corruption.
	_, err = f.svc.CreateNode(ctx, CreateParams{
		ID: a.ID, Type: "text", Content: "imposter", ParentID: &parent.ID,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestEventsEmittedAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	received := make(chan events.Event, 16)
	f.bus.Subscribe("test", func(ev events.Event) { received <- ev })

	n, err := f.svc.CreateNode(ctx, CreateParams{
		Type: "task", Content: "x", ClientID: "client-7",
	})
	require.NoError(t, err)

	ev := <-received
	assert.Equal(t, events.KindCreated, ev.Kind)
	assert.Equal(t, n.ID, ev.NodeID)
	assert.Equal(t, "task", ev.NodeType)
	assert.Equal(t, "client-7", ev.SourceClientID)

	_, err = f.svc.DeleteNode(ctx, n.ID, "client-7")
	require.NoError(t, err)

	ev = <-received
	assert.Equal(t, events.KindDeleted, ev.Kind)
	assert.Equal(t, n.ID, ev.NodeID)
}

func TestChainInvariantUnderManyOps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root, err := f.svc.CreateNode(ctx, CreateParams{Type: "text", Content: "root"})
	require.NoError(t, err)

	var made []*store.Node
	for i := 0; i < 8; i++ {
		n, err := f.svc.CreateNode(ctx, CreateParams{
			Type: "task", Content: "t", ParentID: &root.ID,
		})
		require.NoError(t, err)
		made = append(made, n)
	}

	// Shuffle things around: move the head behind the old tail, re-append
	// another node, delete from the middle.
	require.NoError(t, f.svc.MoveNode(ctx, MoveParams{
		ID: made[0].ID, NewParentID: &root.ID, InsertAfterID: &made[7].ID,
	}))
	require.NoError(t, f.svc.MoveNode(ctx, MoveParams{
		ID: made[7].ID, NewParentID: &root.ID,
	}))
	_, err = f.svc.DeleteNode(ctx, made[3].ID, "")
	require.NoError(t, err)

	children, err := f.svc.Children(ctx, &root.ID)
	require.NoError(t, err)
	require.Len(t, children, 7)

	// Exactly one head, unique predecessors, chain covers every child —
	// Children would have failed otherwise, but assert explicitly.
	heads := 0
	preds := map[string]int{}
	for _, c := range children {
		if c.BeforeSiblingID == nil {
			heads++
		} else {
			preds[*c.BeforeSiblingID]++
		}
	}
	assert.Equal(t, 1, heads)
	for pred, count := range preds {
		assert.Equal(t, 1, count, "predecessor %s shared", pred)
	}
}
