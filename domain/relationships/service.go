package relationships

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loreweave/loreweave/domain/events"
	"github.com/loreweave/loreweave/domain/schema"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/apperror"
	"github.com/loreweave/loreweave/pkg/logger"
)

// Graph is every edge touching one node.
type Graph struct {
	Outgoing []*store.Edge `json:"outgoing"`
	Incoming []*store.Edge `json:"incoming"`
}

// Service manages relationship edges: schema and cardinality validation
// at write time, lookups, and edge events.
type Service struct {
	store  store.Store
	schema *schema.Registry
	bus    *events.Service
	cache  *Cache
	log    *slog.Logger
}

// NewService creates the relationship service.
func NewService(st store.Store, reg *schema.Registry, bus *events.Service, cache *Cache, log *slog.Logger) *Service {
	return &Service{
		store:  st,
		schema: reg,
		bus:    bus,
		cache:  cache,
		log:    log.With(logger.Scope("relationships")),
	}
}

// CreateEdge validates endpoints, relationship schema and cardinality,
// persists the edge and emits an edge_created event.
func (s *Service) CreateEdge(ctx context.Context, sourceID, targetID, name, clientID string) (*store.Edge, error) {
	rs, ok := s.schema.Relationship(name)
	if !ok {
		return nil, apperror.NewValidation("relationship_name",
			fmt.Sprintf("unknown relationship %q", name))
	}
	if sourceID == targetID {
		return nil, apperror.NewValidation("target_id", "an edge cannot relate a node to itself")
	}

	source, err := s.store.GetNode(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, apperror.NewNotFound("node", sourceID)
	}
	target, err := s.store.GetNode(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, apperror.NewNotFound("node", targetID)
	}

	if err := s.checkCardinality(ctx, rs, sourceID, targetID); err != nil {
		return nil, err
	}

	e := &store.Edge{
		SourceID:  sourceID,
		TargetID:  targetID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateEdge(ctx, e); err != nil {
		return nil, err
	}

	s.emitEdge(events.KindEdgeCreated, e, source.Type, target.Type, clientID)
	s.log.Debug("edge created",
		slog.String("source", sourceID),
		slog.String("target", targetID),
		slog.String("relationship", name),
	)
	return e, nil
}

// DeleteEdge removes an edge and emits an edge_deleted event; reports
// whether an edge existed.
func (s *Service) DeleteEdge(ctx context.Context, sourceID, targetID, name, clientID string) (bool, error) {
	// Resolve endpoint types before the delete so the event can carry
	// them; best-effort, the nodes may already be gone.
	var sourceType, targetType string
	if n, err := s.store.GetNode(ctx, sourceID); err == nil && n != nil {
		sourceType = n.Type
	}
	if n, err := s.store.GetNode(ctx, targetID); err == nil && n != nil {
		targetType = n.Type
	}

	removed, err := s.store.DeleteEdge(ctx, sourceID, targetID, name)
	if err != nil || !removed {
		return removed, err
	}

	e := &store.Edge{SourceID: sourceID, TargetID: targetID, Name: name}
	s.emitEdge(events.KindEdgeDeleted, e, sourceType, targetType, clientID)
	return true, nil
}

// Related returns the nodes reachable from nodeID over outgoing edges
// with the given relationship name, in edge order.
func (s *Service) Related(ctx context.Context, nodeID, name string) ([]*store.Node, error) {
	edges, err := s.store.QueryEdges(ctx, store.EdgeQuery{SourceID: nodeID, Name: name})
	if err != nil {
		return nil, err
	}
	out := make([]*store.Node, 0, len(edges))
	for _, e := range edges {
		n, err := s.store.GetNode(ctx, e.TargetID)
		if err != nil {
			return nil, err
		}
		if n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

// GetGraph returns every edge touching the node, split by direction.
func (s *Service) GetGraph(ctx context.Context, nodeID string) (*Graph, error) {
	out, err := s.store.QueryEdges(ctx, store.EdgeQuery{SourceID: nodeID})
	if err != nil {
		return nil, err
	}
	in, err := s.store.QueryEdges(ctx, store.EdgeQuery{TargetID: nodeID})
	if err != nil {
		return nil, err
	}
	return &Graph{Outgoing: out, Incoming: in}, nil
}

// InboundRelationships answers from the relationship-type cache.
func (s *Service) InboundRelationships(ctx context.Context, targetType string) ([]RelPair, error) {
	return s.cache.InboundRelationships(ctx, targetType)
}

// checkCardinality rejects edges that would exceed the relationship's
// declared cardinality: one_to_many admits one inbound edge per target,
// one_to_one additionally one outgoing edge per source.
func (s *Service) checkCardinality(ctx context.Context, rs *schema.RelationshipSchema, sourceID, targetID string) error {
	if rs.Cardinality == schema.ManyToMany {
		return nil
	}

	inbound, err := s.store.QueryEdges(ctx, store.EdgeQuery{TargetID: targetID, Name: rs.Name})
	if err != nil {
		return err
	}
	if len(inbound) > 0 {
		return apperror.NewConflict("edge", targetID,
			fmt.Sprintf("relationship %q allows a single inbound edge per target", rs.Name))
	}

	if rs.Cardinality == schema.OneToOne {
		outgoing, err := s.store.QueryEdges(ctx, store.EdgeQuery{SourceID: sourceID, Name: rs.Name})
		if err != nil {
			return err
		}
		if len(outgoing) > 0 {
			return apperror.NewConflict("edge", sourceID,
				fmt.Sprintf("relationship %q allows a single outgoing edge per source", rs.Name))
		}
	}
	return nil
}

func (s *Service) emitEdge(kind events.Kind, e *store.Edge, sourceType, targetType, clientID string) {
	s.bus.Emit(events.Event{
		Kind:   kind,
		NodeID: e.SourceID,
		Edge: &events.EdgeRef{
			SourceID:   e.SourceID,
			TargetID:   e.TargetID,
			Name:       e.Name,
			SourceType: sourceType,
			TargetType: targetType,
		},
		SourceClientID: clientID,
		Timestamp:      time.Now().UTC(),
	})
}
