package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/loreweave/loreweave/internal/store"
)

type nodeRow struct {
	bun.BaseModel `bun:"table:nodes,alias:n"`

	ID              string         `bun:"id,pk"`
	Type            string         `bun:"node_type,notnull"`
	Content         string         `bun:"content,notnull"`
	Props           map[string]any `bun:"properties,type:jsonb,notnull,default:'{}'"`
	ParentID        *string        `bun:"parent_id"`
	ContainerID     string         `bun:"container_node_id,notnull"`
	BeforeSiblingID *string        `bun:"before_sibling_id"`
	CreatedAt       time.Time      `bun:"created_at,notnull,default:now()"`
	ModifiedAt      time.Time      `bun:"modified_at,notnull,default:now()"`
	Version         int64          `bun:"version,notnull,default:0"`
}

func toNodeRow(n *store.Node) *nodeRow {
	props := n.Props
	if props == nil {
		props = map[string]any{}
	}
	return &nodeRow{
		ID:              n.ID,
		Type:            n.Type,
		Content:         n.Content,
		Props:           props,
		ParentID:        n.ParentID,
		ContainerID:     n.ContainerID,
		BeforeSiblingID: n.BeforeSiblingID,
		CreatedAt:       n.CreatedAt,
		ModifiedAt:      n.ModifiedAt,
		Version:         n.Version,
	}
}

func (r *nodeRow) toNode() *store.Node {
	return &store.Node{
		ID:              r.ID,
		Type:            r.Type,
		Content:         r.Content,
		Props:           r.Props,
		ParentID:        r.ParentID,
		ContainerID:     r.ContainerID,
		BeforeSiblingID: r.BeforeSiblingID,
		CreatedAt:       r.CreatedAt,
		ModifiedAt:      r.ModifiedAt,
		Version:         r.Version,
	}
}

type edgeRow struct {
	bun.BaseModel `bun:"table:edges,alias:e"`

	SourceID  string    `bun:"source_id,pk"`
	TargetID  string    `bun:"target_id,pk"`
	Name      string    `bun:"relationship_name,pk"`
	CreatedAt time.Time `bun:"created_at,notnull,default:now()"`
}

func toEdgeRow(e *store.Edge) *edgeRow {
	return &edgeRow{
		SourceID:  e.SourceID,
		TargetID:  e.TargetID,
		Name:      e.Name,
		CreatedAt: e.CreatedAt,
	}
}

func (r *edgeRow) toEdge() *store.Edge {
	return &store.Edge{
		SourceID:  r.SourceID,
		TargetID:  r.TargetID,
		Name:      r.Name,
		CreatedAt: r.CreatedAt,
	}
}

type typeSchemaRow struct {
	bun.BaseModel `bun:"table:type_schemas,alias:ts"`

	Name      string    `bun:"name,pk"`
	Doc       []byte    `bun:"doc,type:jsonb,notnull,default:'{}'"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:now()"`
}
