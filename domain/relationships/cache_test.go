package relationships

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loreweave/loreweave/domain/events"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/internal/store/memory"
)

func seedEdge(t *testing.T, st *memory.Store, sourceID, sourceType, targetID, targetType, name string) {
	t.Helper()
	ctx := context.Background()
	if n, _ := st.GetNode(ctx, sourceID); n == nil {
		require.NoError(t, st.CreateNode(ctx, &store.Node{ID: sourceID, Type: sourceType}))
	}
	if n, _ := st.GetNode(ctx, targetID); n == nil {
		require.NoError(t, st.CreateNode(ctx, &store.Node{ID: targetID, Type: targetType}))
	}
	require.NoError(t, st.CreateEdge(ctx, &store.Edge{SourceID: sourceID, TargetID: targetID, Name: name}))
}

func TestCacheInboundRelationships(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	st := memory.New(log)
	cache := NewCache(st, time.Minute, log)
	ctx := context.Background()

	seedEdge(t, st, "p1", "person", "t1", "task", "assigned_to")
	seedEdge(t, st, "n1", "note", "t1", "task", "references")
	seedEdge(t, st, "n1", "note", "n2", "note", "references")

	pairs, err := cache.InboundRelationships(ctx, "task")
	require.NoError(t, err)
	assert.Equal(t, []RelPair{
		{SourceType: "note", Name: "references"},
		{SourceType: "person", Name: "assigned_to"},
	}, pairs)

	pairs, err = cache.InboundRelationships(ctx, "person")
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestCacheSnapshotReuseWithinTTL(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	st := memory.New(log)
	cache := NewCache(st, time.Minute, log)
	ctx := context.Background()

	seedEdge(t, st, "p1", "person", "t1", "task", "assigned_to")

	_, err := cache.InboundRelationships(ctx, "task")
	require.NoError(t, err)

	// A new edge is invisible until TTL or invalidation: the snapshot
	// is immutable.
	seedEdge(t, st, "n1", "note", "t1", "task", "references")
	pairs, err := cache.InboundRelationships(ctx, "task")
	require.NoError(t, err)
	assert.Len(t, pairs, 1)

	age, ok := cache.Age()
	require.True(t, ok)
	assert.Less(t, age, time.Minute)
}

func TestCacheTTLExpiryRebuilds(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	st := memory.New(log)
	cache := NewCache(st, time.Nanosecond, log)
	ctx := context.Background()

	seedEdge(t, st, "p1", "person", "t1", "task", "assigned_to")
	_, err := cache.InboundRelationships(ctx, "task")
	require.NoError(t, err)

	seedEdge(t, st, "n1", "note", "t1", "task", "references")
	time.Sleep(time.Millisecond)

	pairs, err := cache.InboundRelationships(ctx, "task")
	require.NoError(t, err)
	assert.Len(t, pairs, 2)
}

func TestCacheEventInvalidation(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	st := memory.New(log)
	cache := NewCache(st, time.Hour, log)
	ctx := context.Background()

	seedEdge(t, st, "p1", "person", "t1", "task", "assigned_to")
	_, err := cache.InboundRelationships(ctx, "task")
	require.NoError(t, err)

	// An event for an unseen pairing invalidates immediately.
	seedEdge(t, st, "n1", "note", "t1", "task", "references")
	cache.OnEvent(events.Event{
		Kind: events.KindEdgeCreated,
		Edge: &events.EdgeRef{
			SourceID: "n1", TargetID: "t1", Name: "references",
			SourceType: "note", TargetType: "task",
		},
	})

	pairs, err := cache.InboundRelationships(ctx, "task")
	require.NoError(t, err)
	assert.Len(t, pairs, 2)

	// An event for an already-represented pairing is a no-op.
	before, ok := cache.Age()
	require.True(t, ok)
	cache.OnEvent(events.Event{
		Kind: events.KindEdgeCreated,
		Edge: &events.EdgeRef{
			SourceID: "n2", TargetID: "t1", Name: "references",
			SourceType: "note", TargetType: "task",
		},
	})
	after, ok := cache.Age()
	require.True(t, ok)
	assert.GreaterOrEqual(t, after, before)
}

func TestCacheNonEdgeEventsIgnored(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	st := memory.New(log)
	cache := NewCache(st, time.Hour, log)
	ctx := context.Background()

	seedEdge(t, st, "p1", "person", "t1", "task", "assigned_to")
	_, err := cache.InboundRelationships(ctx, "task")
	require.NoError(t, err)

	cache.OnEvent(events.Event{Kind: events.KindCreated, NodeID: "x"})

	_, ok := cache.Age()
	assert.True(t, ok, "node events must not invalidate the snapshot")
}
