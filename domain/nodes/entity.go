// Package nodes is the orchestrator for the node hierarchy: it validates
// input against the schema registry, maintains the sibling chains and
// container references through atomic store writes, and emits domain
// events after every committed mutation.
package nodes

// CreateParams describes a node to create. ID is optional: singleton
// types derive it from content, everything else gets a UUID.
type CreateParams struct {
	ID      string
	Type    string
	Content string
	Props   map[string]any

	// ParentID is nil for a root node.
	ParentID *string

	// InsertAfterID places the node after an existing sibling; nil
	// appends after the current tail.
	InsertAfterID *string

	// ClientID tags the emitted event with the originating client so
	// subscribers can suppress their own echoes.
	ClientID string
}

// UpdateParams is a partial update: nil Content leaves content alone,
// Props patches only the given keys.
type UpdateParams struct {
	ID      string
	Content *string
	Props   map[string]any

	// Version enables optimistic concurrency from the caller's side.
	// Nodes start life at version zero, so "unset" has to be nil rather
	// than a zero value; nil means "against the current version".
	Version *int64

	ClientID string
}

// MoveParams reparents a node and places it in the new sibling chain.
type MoveParams struct {
	ID            string
	NewParentID   *string
	InsertAfterID *string
	ClientID      string
}
