package semantic

import (
	"context"
	"strings"

	"github.com/loreweave/loreweave/domain/nodes"
	"github.com/loreweave/loreweave/domain/schema"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/apperror"
	"github.com/loreweave/loreweave/pkg/textsplitter"
)

// Walk bound against corrupt parent pointers.
const maxAncestorHops = 4096

// Chunk is one embeddable slice of a root aggregate.
type Chunk struct {
	Ordinal int
	Text    string
	Hash    string
}

// Aggregator resolves root aggregates and flattens their subtrees into
// ordered, bounded chunks for embedding.
type Aggregator struct {
	store      store.Store
	schema     *schema.Registry
	nodes      *nodes.Service
	inputLimit int
}

// NewAggregator creates an aggregator. inputLimit is the embedding model
// input budget in runes.
func NewAggregator(st store.Store, reg *schema.Registry, ns *nodes.Service, inputLimit int) *Aggregator {
	if inputLimit <= 0 {
		inputLimit = textsplitter.DefaultConfig().ChunkSize
	}
	return &Aggregator{store: st, schema: reg, nodes: ns, inputLimit: inputLimit}
}

// IsRoot reports whether n is a root aggregate: a node with no parent,
// or one whose type is a container.
func (a *Aggregator) IsRoot(n *store.Node) bool {
	if n.ParentID == nil {
		return true
	}
	ts, ok := a.schema.NodeType(n.Type)
	return ok && ts.Container
}

// RootFor walks from nodeID to its nearest ancestor root (self when the
// node is a root). A dangling parent pointer ends the walk at the last
// reachable node.
func (a *Aggregator) RootFor(ctx context.Context, nodeID string) (*store.Node, error) {
	n, err := a.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, apperror.NewNotFound("node", nodeID)
	}

	for hops := 0; hops < maxAncestorHops; hops++ {
		if a.IsRoot(n) {
			return n, nil
		}
		parent, err := a.store.GetNode(ctx, *n.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return n, nil
		}
		n = parent
	}
	return nil, apperror.NewInternal("ancestor walk exceeded hop limit", nil)
}

// Aggregate flattens root's subtree into chunks: the root's content
// followed by embeddable descendants in sibling-chain depth-first order.
// Nested roots start their own aggregate and are not descended into.
func (a *Aggregator) Aggregate(ctx context.Context, root *store.Node) ([]Chunk, error) {
	var parts []string
	if strings.TrimSpace(root.Content) != "" {
		parts = append(parts, root.Content)
	}

	if err := a.collect(ctx, root.ID, &parts); err != nil {
		return nil, err
	}

	text := strings.Join(parts, "\n\n")
	pieces := textsplitter.Split(text, textsplitter.Config{ChunkSize: a.inputLimit})

	chunks := make([]Chunk, 0, len(pieces))
	for i, p := range pieces {
		chunks = append(chunks, Chunk{Ordinal: i, Text: p, Hash: ContentHash(p)})
	}
	return chunks, nil
}

func (a *Aggregator) collect(ctx context.Context, parentID string, parts *[]string) error {
	children, err := a.nodes.Children(ctx, &parentID)
	if err != nil {
		return err
	}

	for _, child := range children {
		if a.IsRoot(child) {
			continue
		}
		if a.isEmbeddable(child.Type) && strings.TrimSpace(child.Content) != "" {
			*parts = append(*parts, child.Content)
		}
		if err := a.collect(ctx, child.ID, parts); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) isEmbeddable(nodeType string) bool {
	ts, ok := a.schema.NodeType(nodeType)
	return ok && ts.Embeddable
}
