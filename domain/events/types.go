// Package events carries domain events from committed store mutations to
// in-process subscribers (relationship cache, embedding queue, external
// notification). Events have no authority over the store: mutation always
// precedes emission, and a lost event costs freshness, never correctness.
package events

import "time"

// Kind tags what happened to the node or edge.
type Kind string

const (
	KindCreated     Kind = "created"
	KindUpdated     Kind = "updated"
	KindDeleted     Kind = "deleted"
	KindMoved       Kind = "moved"
	KindEdgeCreated Kind = "edge_created"
	KindEdgeDeleted Kind = "edge_deleted"
)

// EdgeRef identifies the edge an edge event refers to, with the endpoint
// node types resolved so subscribers need no store read.
type EdgeRef struct {
	SourceID   string `json:"source_id"`
	TargetID   string `json:"target_id"`
	Name       string `json:"relationship_name"`
	SourceType string `json:"source_type"`
	TargetType string `json:"target_type"`
}

// Event is a notification of a committed mutation. SourceClientID names
// the originating client so a subscriber can suppress events it caused
// itself.
type Event struct {
	Kind           Kind      `json:"kind"`
	NodeID         string    `json:"node_id"`
	NodeType       string    `json:"node_type,omitempty"`
	ParentID       *string   `json:"parent_id,omitempty"`
	Edge           *EdgeRef  `json:"edge,omitempty"`
	SourceClientID string    `json:"source_client_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
