package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loreweave/loreweave/domain/events"
	"github.com/loreweave/loreweave/domain/schema"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/apperror"
	"github.com/loreweave/loreweave/pkg/logger"
)

// maxAncestorHops bounds ancestor walks; a chain longer than this is
// corruption, not a deep tree.
const maxAncestorHops = 4096

// Service orchestrates every node mutation. It owns the structural
// invariants: one parent per node, exactly one ordered sibling chain per
// parent, no parent cycles, container references kept in sync.
type Service struct {
	store  store.Store
	schema *schema.Registry
	bus    *events.Service
	log    *slog.Logger
	locks  parentLocks
}

// NewService creates the node service.
func NewService(st store.Store, reg *schema.Registry, bus *events.Service, log *slog.Logger) *Service {
	return &Service{
		store:  st,
		schema: reg,
		bus:    bus,
		log:    log.With(logger.Scope("nodes")),
	}
}

// Get returns a node or a not-found error.
func (s *Service) Get(ctx context.Context, id string) (*store.Node, error) {
	n, err := s.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, apperror.NewNotFound("node", id)
	}
	return n, nil
}

// Children returns the children of a parent in sibling-chain order.
// A nil parentID lists root nodes.
func (s *Service) Children(ctx context.Context, parentID *string) ([]*store.Node, error) {
	children, err := s.childrenOf(ctx, parentID)
	if err != nil {
		return nil, err
	}
	return orderChain(children)
}

// CreateNode validates, persists, and splices a new node into its
// parent's sibling chain, then emits a created event.
func (s *Service) CreateNode(ctx context.Context, p CreateParams) (*store.Node, error) {
	ts, ok := s.schema.NodeType(p.Type)
	if !ok {
		return nil, apperror.NewValidation("node_type", fmt.Sprintf("unknown node type %q", p.Type))
	}
	if strings.TrimSpace(p.Content) == "" && !ts.ContentOptional {
		return nil, apperror.NewValidation("content", fmt.Sprintf("content is required for type %q", p.Type))
	}
	props, err := schema.ValidateProperties(ts, p.Props, false)
	if err != nil {
		return nil, err
	}

	id := p.ID
	switch {
	case id != "":
	case ts.Singleton:
		id, err = singletonID(p.Type, p.Content)
		if err != nil {
			return nil, err
		}
	default:
		id = uuid.NewString()
	}

	if p.ParentID != nil {
		parent, err := s.store.GetNode(ctx, *p.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, apperror.NewNotFound("node", *p.ParentID)
		}
	}

	now := time.Now().UTC()
	n := &store.Node{
		ID:         id,
		Type:       p.Type,
		Content:    p.Content,
		Props:      props,
		ParentID:   cloneRef(p.ParentID),
		CreatedAt:  now,
		ModifiedAt: now,
	}

	container, err := s.containerFor(ctx, n)
	if err != nil {
		return nil, err
	}
	n.ContainerID = container

	unlock := s.locks.lock(p.ParentID)
	defer unlock()

	// Resolved ids can collide before the store sees the insert: singleton
	// ids are content-derived and caller-supplied ids are arbitrary. Check
	// here so the caller gets a conflict, not a corrupted-chain report from
	// re-validation against the existing node.
	existing, err := s.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperror.NewConflict("node", id, fmt.Sprintf("node %q already exists", id))
	}

	children, err := s.childrenOf(ctx, p.ParentID)
	if err != nil {
		return nil, err
	}

	pending := newUpdateSet()
	if err := s.splice(n, children, p.InsertAfterID, pending); err != nil {
		return nil, err
	}

	// Re-validate the resulting chain before committing anything.
	if _, err := orderChain(pending.effectiveChildren(children, n)); err != nil {
		return nil, err
	}

	cu := store.ChainUpdate{Creates: []*store.Node{n}, Updates: pending.list()}
	if err := s.store.ApplyChainUpdate(ctx, cu); err != nil {
		return nil, err
	}

	s.emit(events.KindCreated, n, p.ClientID)
	s.log.Debug("node created",
		slog.String("id", n.ID),
		slog.String("type", n.Type),
	)
	return n.Clone(), nil
}

// UpdateNode applies a content/property patch under optimistic
// versioning and emits an updated event.
func (s *Service) UpdateNode(ctx context.Context, p UpdateParams) (*store.Node, error) {
	n, err := s.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	ts, ok := s.schema.NodeType(n.Type)
	if !ok {
		return nil, apperror.NewValidation("node_type", fmt.Sprintf("unknown node type %q", n.Type))
	}

	if p.Content != nil {
		if strings.TrimSpace(*p.Content) == "" && !ts.ContentOptional {
			return nil, apperror.NewValidation("content", fmt.Sprintf("content is required for type %q", n.Type))
		}
		n.Content = *p.Content
	}
	if len(p.Props) > 0 {
		patch, err := schema.ValidateProperties(ts, p.Props, false)
		if err != nil {
			return nil, err
		}
		if n.Props == nil {
			n.Props = make(map[string]any, len(patch))
		}
		for k, v := range patch {
			n.Props[k] = v
		}
	}
	if p.Version != nil {
		n.Version = *p.Version
	}
	n.ModifiedAt = time.Now().UTC()

	if err := s.store.UpdateNode(ctx, n); err != nil {
		return nil, err
	}

	s.emit(events.KindUpdated, n, p.ClientID)
	return n.Clone(), nil
}

// MoveNode reparents a node: cycle check, detach from the old chain,
// splice into the new one, and recompute container references for the
// moved subtree. The whole move commits atomically.
func (s *Service) MoveNode(ctx context.Context, p MoveParams) error {
	n, err := s.Get(ctx, p.ID)
	if err != nil {
		return err
	}

	unlock := s.locks.lockPair(n.ParentID, p.NewParentID)
	defer unlock()

	// Re-read under the lock; the first read only chose the lock stripes.
	n, err = s.Get(ctx, p.ID)
	if err != nil {
		return err
	}

	if p.NewParentID != nil {
		if *p.NewParentID == n.ID {
			return apperror.NewCycleDetected(n.ID, *p.NewParentID)
		}
		parent, err := s.store.GetNode(ctx, *p.NewParentID)
		if err != nil {
			return err
		}
		if parent == nil {
			return apperror.NewNotFound("node", *p.NewParentID)
		}
		// Walk the new parent's ancestors; finding the moved node there
		// means the move would create a cycle. Two moves racing through
		// disjoint lock stripes can both pass this walk, so the store
		// re-verifies acyclicity inside ApplyChainUpdate.
		onPath, err := s.onAncestorPath(ctx, parent, n.ID)
		if err != nil {
			return err
		}
		if onPath {
			return apperror.NewCycleDetected(n.ID, *p.NewParentID)
		}
	}

	pending := newUpdateSet()

	// Detach: the old successor inherits the moved node's predecessor.
	oldChildren, err := s.childrenOf(ctx, n.ParentID)
	if err != nil {
		return err
	}
	for _, c := range oldChildren {
		if c.ID != n.ID && refEquals(c.BeforeSiblingID, &n.ID) {
			pending.get(c).BeforeSiblingID = cloneRef(n.BeforeSiblingID)
			break
		}
	}

	sameParent := refEquals(n.ParentID, p.NewParentID)
	n = pending.get(n)
	n.ParentID = cloneRef(p.NewParentID)
	n.BeforeSiblingID = nil

	newChildren := oldChildren
	if !sameParent {
		newChildren, err = s.childrenOf(ctx, p.NewParentID)
		if err != nil {
			return err
		}
	}
	siblings := make([]*store.Node, 0, len(newChildren))
	for _, c := range newChildren {
		if c.ID != n.ID {
			siblings = append(siblings, pending.peek(c))
		}
	}
	if err := s.splice(n, siblings, p.InsertAfterID, pending); err != nil {
		return err
	}
	if _, err := orderChain(pending.effectiveChildren(siblings, n)); err != nil {
		return err
	}

	// Container references change with the ancestor chain, for the node
	// and for every descendant whose nearest container was above it.
	inherited, err := s.inheritedContainer(ctx, p.NewParentID)
	if err != nil {
		return err
	}
	if err := s.recomputeContainers(ctx, n, inherited, pending); err != nil {
		return err
	}

	n.ModifiedAt = time.Now().UTC()

	if err := s.store.ApplyChainUpdate(ctx, store.ChainUpdate{Updates: pending.list()}); err != nil {
		return err
	}

	s.emit(events.KindMoved, n, p.ClientID)
	s.log.Debug("node moved",
		slog.String("id", n.ID),
		slog.Any("new_parent", p.NewParentID),
	)
	return nil
}

// DeleteNode removes a node and, by policy, its whole subtree, together
// with every edge referencing a deleted node. The former neighbors'
// chain is repaired in the same atomic write. Returns whether anything
// was removed.
func (s *Service) DeleteNode(ctx context.Context, id, clientID string) (bool, error) {
	n, err := s.store.GetNode(ctx, id)
	if err != nil {
		return false, err
	}
	if n == nil {
		return false, nil
	}

	unlock := s.locks.lock(n.ParentID)
	defer unlock()

	pending := newUpdateSet()
	siblings, err := s.childrenOf(ctx, n.ParentID)
	if err != nil {
		return false, err
	}
	for _, c := range siblings {
		if c.ID != n.ID && refEquals(c.BeforeSiblingID, &n.ID) {
			pending.get(c).BeforeSiblingID = cloneRef(n.BeforeSiblingID)
			break
		}
	}

	// Descendants are deleted with their ancestor (cascade policy).
	doomed, err := s.collectSubtree(ctx, n)
	if err != nil {
		return false, err
	}

	ids := make([]string, 0, len(doomed))
	for _, d := range doomed {
		ids = append(ids, d.ID)
	}
	cu := store.ChainUpdate{Updates: pending.list(), Deletes: ids}
	if err := s.store.ApplyChainUpdate(ctx, cu); err != nil {
		return false, err
	}

	for _, d := range doomed {
		s.emit(events.KindDeleted, d, clientID)
	}
	s.log.Debug("node deleted",
		slog.String("id", id),
		slog.Int("subtree_size", len(doomed)),
	)
	return true, nil
}

// splice links n into the chain formed by siblings: after the named
// sibling, or after the current tail when insertAfterID is nil. The
// displaced successor, if any, is retargeted through pending.
func (s *Service) splice(n *store.Node, siblings []*store.Node, insertAfterID *string, pending *updateSet) error {
	if insertAfterID != nil {
		var after *store.Node
		for _, c := range siblings {
			if c.ID == *insertAfterID {
				after = c
				break
			}
		}
		if after == nil {
			return apperror.NewValidation("insert_after_node_id",
				fmt.Sprintf("node %q is not a child of the target parent", *insertAfterID))
		}
		for _, c := range siblings {
			if refEquals(c.BeforeSiblingID, &after.ID) {
				pending.get(c).BeforeSiblingID = &n.ID
				break
			}
		}
		n.BeforeSiblingID = &after.ID
		return nil
	}

	// Tail append: walk the chain from the head. O(children); fine for
	// the moderate fan-out this store is built for.
	ordered, err := orderChain(siblings)
	if err != nil {
		return err
	}
	if len(ordered) == 0 {
		n.BeforeSiblingID = nil
		return nil
	}
	tail := ordered[len(ordered)-1]
	n.BeforeSiblingID = &tail.ID
	return nil
}

func (s *Service) childrenOf(ctx context.Context, parentID *string) ([]*store.Node, error) {
	var v any
	if parentID != nil {
		v = *parentID
	}
	return s.store.QueryNodes(ctx, store.Query{
		Filters: []store.Filter{store.Eq(store.FieldParentID, v)},
	})
}

// containerFor resolves the nearest container ancestor (inclusive) of a
// node that is not yet persisted, falling back to the node itself.
func (s *Service) containerFor(ctx context.Context, n *store.Node) (string, error) {
	if s.isContainerType(n.Type) {
		return n.ID, nil
	}
	inherited, err := s.inheritedContainer(ctx, n.ParentID)
	if err != nil {
		return "", err
	}
	if inherited != "" {
		return inherited, nil
	}
	return n.ID, nil
}

// inheritedContainer walks up from parentID and returns the id of the
// nearest container node, or "" when the chain holds none.
func (s *Service) inheritedContainer(ctx context.Context, parentID *string) (string, error) {
	seen := make(map[string]struct{})
	cur := parentID
	for hops := 0; cur != nil; hops++ {
		if hops > maxAncestorHops {
			return "", apperror.NewInternal("ancestor chain exceeds depth bound", nil)
		}
		if _, dup := seen[*cur]; dup {
			return "", apperror.NewInternal(fmt.Sprintf("ancestor cycle through %q", *cur), nil)
		}
		seen[*cur] = struct{}{}

		anc, err := s.store.GetNode(ctx, *cur)
		if err != nil {
			return "", err
		}
		if anc == nil {
			// Weak reference: a dangling parent simply ends the walk.
			return "", nil
		}
		if s.isContainerType(anc.Type) {
			return anc.ID, nil
		}
		cur = anc.ParentID
	}
	return "", nil
}

// onAncestorPath reports whether target appears on from's ancestor
// chain (inclusive of from itself).
func (s *Service) onAncestorPath(ctx context.Context, from *store.Node, target string) (bool, error) {
	seen := make(map[string]struct{})
	cur := from
	for hops := 0; cur != nil; hops++ {
		if hops > maxAncestorHops {
			return false, apperror.NewInternal("ancestor chain exceeds depth bound", nil)
		}
		if cur.ID == target {
			return true, nil
		}
		if _, dup := seen[cur.ID]; dup {
			return false, apperror.NewInternal(fmt.Sprintf("ancestor cycle through %q", cur.ID), nil)
		}
		seen[cur.ID] = struct{}{}
		if cur.ParentID == nil {
			return false, nil
		}
		next, err := s.store.GetNode(ctx, *cur.ParentID)
		if err != nil {
			return false, err
		}
		cur = next
	}
	return false, nil
}

// recomputeContainers updates container references for n's descendants
// after n's ancestor chain changed. inherited is the nearest container
// above n, or "". Subtrees rooted at container nodes are pruned: their
// references cannot have changed.
func (s *Service) recomputeContainers(ctx context.Context, n *store.Node, inherited string, pending *updateSet) error {
	container := n.ID
	if !s.isContainerType(n.Type) && inherited != "" {
		container = inherited
	}
	if n.ContainerID != container {
		pending.get(n).ContainerID = container
	}
	if s.isContainerType(n.Type) {
		return nil
	}

	below := inherited
	children, err := s.childrenOf(ctx, &n.ID)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := s.recomputeContainers(ctx, pending.peek(c), below, pending); err != nil {
			return err
		}
	}
	return nil
}

// collectSubtree returns n and all its descendants, breadth-first.
func (s *Service) collectSubtree(ctx context.Context, n *store.Node) ([]*store.Node, error) {
	out := []*store.Node{n}
	queue := []*store.Node{n}
	seen := map[string]struct{}{n.ID: {}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		children, err := s.childrenOf(ctx, &cur.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if _, dup := seen[c.ID]; dup {
				return nil, apperror.NewInternal(fmt.Sprintf("parent cycle through %q", c.ID), nil)
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out, nil
}

func (s *Service) isContainerType(name string) bool {
	ts, ok := s.schema.NodeType(name)
	return ok && ts.Container
}

func (s *Service) emit(kind events.Kind, n *store.Node, clientID string) {
	s.bus.Emit(events.Event{
		Kind:           kind,
		NodeID:         n.ID,
		NodeType:       n.Type,
		ParentID:       n.ParentID,
		SourceClientID: clientID,
		Timestamp:      time.Now().UTC(),
	})
}

var singletonKeyScrub = regexp.MustCompile(`[^a-z0-9]+`)

// singletonID derives a stable content-addressed id, e.g. a calendar
// day node gets "date:2026-03-01" regardless of who creates it first.
func singletonID(nodeType, content string) (string, error) {
	key := strings.Trim(singletonKeyScrub.ReplaceAllString(strings.ToLower(content), "-"), "-")
	if key == "" {
		return "", apperror.NewValidation("content", "content is required to derive a singleton id")
	}
	return nodeType + ":" + key, nil
}

// updateSet accumulates working copies of nodes touched by one
// structural mutation, so a node repaired twice (detach then splice)
// yields a single version-checked update.
type updateSet struct {
	m     map[string]*store.Node
	order []string
}

func newUpdateSet() *updateSet {
	return &updateSet{m: make(map[string]*store.Node)}
}

// peek returns the working copy for n when one exists, without
// registering n as pending.
func (u *updateSet) peek(n *store.Node) *store.Node {
	if wc, ok := u.m[n.ID]; ok {
		return wc
	}
	return n
}

// get returns the working copy for n, creating it on first touch.
func (u *updateSet) get(n *store.Node) *store.Node {
	if wc, ok := u.m[n.ID]; ok {
		return wc
	}
	wc := n.Clone()
	u.m[n.ID] = wc
	u.order = append(u.order, n.ID)
	return wc
}

func (u *updateSet) list() []*store.Node {
	out := make([]*store.Node, 0, len(u.order))
	for _, id := range u.order {
		out = append(out, u.m[id])
	}
	return out
}

// effectiveChildren is the chain as it will look after the pending
// updates plus the new node are applied.
func (u *updateSet) effectiveChildren(children []*store.Node, added *store.Node) []*store.Node {
	out := make([]*store.Node, 0, len(children)+1)
	for _, c := range children {
		if wc, ok := u.m[c.ID]; ok {
			out = append(out, wc)
		} else {
			out = append(out, c)
		}
	}
	return append(out, added)
}

func cloneRef(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func refEquals(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
