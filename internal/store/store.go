// Package store defines the backend-agnostic persistence boundary for
// nodes, relationship edges and type schemas. Two backends implement it:
// an in-memory store and a PostgreSQL store. Callers above this boundary
// never depend on which backend executes an operation, and both backends
// honor the same query and ordering semantics.
package store

import (
	"context"
	"time"
)

// Node is the persisted node record. Structural references (parent,
// predecessor sibling, container) are weak: they hold ids, not ownership,
// and may dangle only transiently inside a multi-step mutation that the
// store applies atomically.
type Node struct {
	ID      string         `json:"id"`
	Type    string         `json:"node_type"`
	Content string         `json:"content"`
	Props   map[string]any `json:"properties"`

	// ParentID is nil for roots.
	ParentID *string `json:"parent_id,omitempty"`

	// ContainerID caches the nearest ancestor (or self) flagged as a
	// container. Recomputed whenever the ancestor chain changes.
	ContainerID string `json:"container_node_id"`

	// BeforeSiblingID points at the preceding sibling under the same
	// parent; nil means first child.
	BeforeSiblingID *string `json:"before_sibling_id,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`

	// Version increments on every write; updates carry the version they
	// read and fail with a conflict when it is stale.
	Version int64 `json:"version"`
}

// Clone returns a deep copy. Backends hand out clones so callers can
// mutate results freely.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.ParentID != nil {
		v := *n.ParentID
		out.ParentID = &v
	}
	if n.BeforeSiblingID != nil {
		v := *n.BeforeSiblingID
		out.BeforeSiblingID = &v
	}
	if n.Props != nil {
		out.Props = make(map[string]any, len(n.Props))
		for k, v := range n.Props {
			out.Props[k] = v
		}
	}
	return &out
}

// Edge is a typed directional relationship between two nodes, distinct
// from the parent/child hierarchy.
type Edge struct {
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Name      string    `json:"relationship_name"`
	CreatedAt time.Time `json:"created_at"`
}

// EdgeQuery filters edges; zero-valued fields match everything.
type EdgeQuery struct {
	SourceID string
	TargetID string
	Name     string
}

// EdgeTypeTriple is a distinct (source node type, relationship name,
// target node type) combination present in the edge table. The
// relationship cache is built from a full scan of these.
type EdgeTypeTriple struct {
	SourceType string
	Name       string
	TargetType string
}

// TypeSchemaRecord is an opaque schema document keyed by type name. The
// schema registry owns the document format; the store only persists it.
type TypeSchemaRecord struct {
	Name      string    `json:"name"`
	Doc       []byte    `json:"doc"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChainUpdate is an atomic structural write: all node updates and deletes
// (plus the edges of deleted nodes) commit together or not at all. It is
// how sibling-chain splices, moves and cascade deletes stay invisible to
// concurrent readers while in flight. Updates are version-checked like
// UpdateNode.
type ChainUpdate struct {
	Creates []*Node
	Updates []*Node
	Deletes []string
}

// Store is the persistence capability set. All operations are safe for
// concurrent use and may incur I/O latency; they must be called with a
// context and respect its cancellation.
type Store interface {
	// CreateNode persists a new node. Fails with a conflict when the id
	// already exists; the backend's uniqueness constraint is the final
	// backstop.
	CreateNode(ctx context.Context, n *Node) error

	// GetNode returns (nil, nil) when the id does not exist.
	GetNode(ctx context.Context, id string) (*Node, error)

	// UpdateNode persists n if the stored version still matches
	// n.Version, then increments n.Version. A stale version fails with a
	// conflict.
	UpdateNode(ctx context.Context, n *Node) error

	// DeleteNode reports whether a node was actually removed.
	DeleteNode(ctx context.Context, id string) (bool, error)

	// QueryNodes runs a structured query. Results are always ordered
	// deterministically: the requested sort keys followed by id.
	QueryNodes(ctx context.Context, q Query) ([]*Node, error)

	// ApplyChainUpdate applies a multi-node structural mutation
	// atomically.
	ApplyChainUpdate(ctx context.Context, cu ChainUpdate) error

	// CreateEdge fails with a conflict when the (source, target, name)
	// triple already exists.
	CreateEdge(ctx context.Context, e *Edge) error

	// DeleteEdge reports whether an edge was removed.
	DeleteEdge(ctx context.Context, sourceID, targetID, name string) (bool, error)

	QueryEdges(ctx context.Context, q EdgeQuery) ([]*Edge, error)

	// DeleteEdgesForNode removes every edge whose source or target is the
	// node; returns the number removed.
	DeleteEdgesForNode(ctx context.Context, nodeID string) (int, error)

	// ListEdgeTypeTriples returns the distinct type triples present in
	// the edge table, joined against node types.
	ListEdgeTypeTriples(ctx context.Context) ([]EdgeTypeTriple, error)

	// Schema passthrough. GetTypeSchema returns (nil, nil) when absent.
	GetTypeSchema(ctx context.Context, name string) (*TypeSchemaRecord, error)
	PutTypeSchema(ctx context.Context, rec *TypeSchemaRecord) error
	ListTypeSchemas(ctx context.Context) ([]*TypeSchemaRecord, error)
}
