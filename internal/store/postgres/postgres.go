// Package postgres provides the PostgreSQL store backend on top of Bun.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/loreweave/loreweave/internal/database"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/apperror"
	"github.com/loreweave/loreweave/pkg/logger"
	"github.com/loreweave/loreweave/pkg/pgutils"
)

// Store implements store.Store against PostgreSQL.
type Store struct {
	db  bun.IDB
	log *slog.Logger
}

// New creates a Postgres-backed store.
func New(db bun.IDB, log *slog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With(logger.Scope("store.postgres")),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) CreateNode(ctx context.Context, n *store.Node) error {
	return s.createNode(ctx, s.db, n)
}

func (s *Store) createNode(ctx context.Context, db bun.IDB, n *store.Node) error {
	_, err := db.NewInsert().
		Model(toNodeRow(n)).
		Exec(ctx)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return apperror.NewConflict("node", n.ID, fmt.Sprintf("node %q already exists", n.ID))
		}
		return apperror.NewBackendUnavailable("create node", err)
	}
	return nil
}

func (s *Store) GetNode(ctx context.Context, id string) (*store.Node, error) {
	row := new(nodeRow)
	err := s.db.NewSelect().
		Model(row).
		Where("n.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperror.NewBackendUnavailable("get node", err)
	}
	return row.toNode(), nil
}

func (s *Store) UpdateNode(ctx context.Context, n *store.Node) error {
	if err := s.updateNode(ctx, s.db, n); err != nil {
		return err
	}
	return nil
}

// updateNode applies an optimistic-concurrency update: the row is only
// written when the stored version still matches the caller's.
func (s *Store) updateNode(ctx context.Context, db bun.IDB, n *store.Node) error {
	row := toNodeRow(n)
	row.Version = n.Version + 1

	res, err := db.NewUpdate().
		Model(row).
		WherePK().
		Where("n.version = ?", n.Version).
		Exec(ctx)
	if err != nil {
		return apperror.NewBackendUnavailable("update node", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperror.NewBackendUnavailable("update node", err)
	}
	if affected == 0 {
		exists, err := db.NewSelect().
			Model((*nodeRow)(nil)).
			Where("n.id = ?", n.ID).
			Exists(ctx)
		if err != nil {
			return apperror.NewBackendUnavailable("update node", err)
		}
		if !exists {
			return apperror.NewNotFound("node", n.ID)
		}
		return apperror.NewConflict("node", n.ID,
			fmt.Sprintf("stale version %d for node %q", n.Version, n.ID))
	}
	n.Version = row.Version
	return nil
}

func (s *Store) DeleteNode(ctx context.Context, id string) (bool, error) {
	res, err := s.db.NewDelete().
		Model((*nodeRow)(nil)).
		Where("n.id = ?", id).
		Exec(ctx)
	if err != nil {
		return false, apperror.NewBackendUnavailable("delete node", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, apperror.NewBackendUnavailable("delete node", err)
	}
	return affected > 0, nil
}

func (s *Store) QueryNodes(ctx context.Context, query store.Query) ([]*store.Node, error) {
	var rows []*nodeRow
	q := s.db.NewSelect().Model(&rows)

	q, err := applyQuery(q, query)
	if err != nil {
		return nil, apperror.ErrValidation.WithMessage(err.Error())
	}
	if err := q.Scan(ctx); err != nil {
		return nil, apperror.NewBackendUnavailable("query nodes", err)
	}

	nodes := make([]*store.Node, 0, len(rows))
	for _, row := range rows {
		nodes = append(nodes, row.toNode())
	}
	return nodes, nil
}

// ApplyChainUpdate runs the whole mutation in one serializable
// transaction. Version mismatches and introduced parent cycles roll
// everything back; the acyclicity walk only sees a consistent hierarchy
// under SERIALIZABLE, so two racing moves cannot both slip past it.
func (s *Store) ApplyChainUpdate(ctx context.Context, cu store.ChainUpdate) error {
	tx, err := database.BeginSafeTxOpts(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return apperror.NewBackendUnavailable("begin chain update", err)
	}
	defer tx.Rollback()

	for _, n := range cu.Creates {
		if err := s.createNode(ctx, tx, n); err != nil {
			return err
		}
	}
	for _, n := range cu.Updates {
		if err := s.updateNode(ctx, tx, n); err != nil {
			return err
		}
	}
	for _, n := range cu.Creates {
		if err := assertAcyclic(ctx, tx, n.ID); err != nil {
			return err
		}
	}
	for _, n := range cu.Updates {
		if err := assertAcyclic(ctx, tx, n.ID); err != nil {
			return err
		}
	}
	for _, id := range cu.Deletes {
		if _, err := tx.NewDelete().
			Model((*nodeRow)(nil)).
			Where("n.id = ?", id).
			Exec(ctx); err != nil {
			return apperror.NewBackendUnavailable("delete node", err)
		}
		if _, err := tx.NewDelete().
			Model((*edgeRow)(nil)).
			Where("e.source_id = ? OR e.target_id = ?", id, id).
			Exec(ctx); err != nil {
			return apperror.NewBackendUnavailable("delete node edges", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if pgutils.IsSerializationFailure(err) {
			return apperror.ErrConflict.
				WithMessage("chain update lost a serialization race, retry").
				WithInternal(err)
		}
		return apperror.NewBackendUnavailable("commit chain update", err)
	}
	return nil
}

// maxParentDepth bounds the recursive ancestor walk; the tree never
// gets this deep, so the limit only stops runaway recursion on a loop.
const maxParentDepth = 4096

// assertAcyclic walks id's ancestor chain in the transaction's view and
// fails when the walk revisits a node. Any cycle a chain update could
// introduce passes through a written node, so checking each one covers
// concurrent moves that slipped past the service-level walk.
func assertAcyclic(ctx context.Context, db bun.IDB, id string) error {
	var cyclic bool
	err := db.NewRaw(`
		WITH RECURSIVE ancestors AS (
			SELECT n.id, n.parent_id, 0 AS depth
			FROM nodes n WHERE n.id = ?
			UNION ALL
			SELECT p.id, p.parent_id, a.depth + 1
			FROM nodes p
			JOIN ancestors a ON p.id = a.parent_id
			WHERE a.depth < ?
		)
		SELECT count(*) > count(DISTINCT id) FROM ancestors`, id, maxParentDepth).
		Scan(ctx, &cyclic)
	if err != nil {
		return apperror.NewBackendUnavailable("verify node hierarchy", err)
	}
	if cyclic {
		return apperror.ErrCycleDetected.
			WithMessagef("update would create a parent cycle through node %q", id).
			WithDetails(map[string]any{"id": id})
	}
	return nil
}

func (s *Store) CreateEdge(ctx context.Context, e *store.Edge) error {
	_, err := s.db.NewInsert().
		Model(toEdgeRow(e)).
		Exec(ctx)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			id := fmt.Sprintf("%s->%s[%s]", e.SourceID, e.TargetID, e.Name)
			return apperror.NewConflict("edge", id, fmt.Sprintf("edge %s already exists", id))
		}
		return apperror.NewBackendUnavailable("create edge", err)
	}
	return nil
}

func (s *Store) DeleteEdge(ctx context.Context, sourceID, targetID, name string) (bool, error) {
	res, err := s.db.NewDelete().
		Model((*edgeRow)(nil)).
		Where("e.source_id = ?", sourceID).
		Where("e.target_id = ?", targetID).
		Where("e.relationship_name = ?", name).
		Exec(ctx)
	if err != nil {
		return false, apperror.NewBackendUnavailable("delete edge", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, apperror.NewBackendUnavailable("delete edge", err)
	}
	return affected > 0, nil
}

func (s *Store) QueryEdges(ctx context.Context, q store.EdgeQuery) ([]*store.Edge, error) {
	var rows []*edgeRow
	sel := s.db.NewSelect().Model(&rows)
	if q.SourceID != "" {
		sel = sel.Where("e.source_id = ?", q.SourceID)
	}
	if q.TargetID != "" {
		sel = sel.Where("e.target_id = ?", q.TargetID)
	}
	if q.Name != "" {
		sel = sel.Where("e.relationship_name = ?", q.Name)
	}
	sel = sel.Order("source_id ASC", "target_id ASC", "relationship_name ASC")

	if err := sel.Scan(ctx); err != nil {
		return nil, apperror.NewBackendUnavailable("query edges", err)
	}

	edges := make([]*store.Edge, 0, len(rows))
	for _, row := range rows {
		edges = append(edges, row.toEdge())
	}
	return edges, nil
}

func (s *Store) DeleteEdgesForNode(ctx context.Context, nodeID string) (int, error) {
	res, err := s.db.NewDelete().
		Model((*edgeRow)(nil)).
		Where("e.source_id = ? OR e.target_id = ?", nodeID, nodeID).
		Exec(ctx)
	if err != nil {
		return 0, apperror.NewBackendUnavailable("delete edges for node", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, apperror.NewBackendUnavailable("delete edges for node", err)
	}
	return int(affected), nil
}

func (s *Store) ListEdgeTypeTriples(ctx context.Context) ([]store.EdgeTypeTriple, error) {
	var triples []store.EdgeTypeTriple
	err := s.db.NewSelect().
		ColumnExpr("DISTINCT src.node_type AS source_type").
		ColumnExpr("e.relationship_name AS name").
		ColumnExpr("dst.node_type AS target_type").
		TableExpr("edges AS e").
		Join("JOIN nodes AS src ON src.id = e.source_id").
		Join("JOIN nodes AS dst ON dst.id = e.target_id").
		Scan(ctx, &triples)
	if err != nil {
		return nil, apperror.NewBackendUnavailable("list edge type triples", err)
	}
	return triples, nil
}

func (s *Store) GetTypeSchema(ctx context.Context, name string) (*store.TypeSchemaRecord, error) {
	row := new(typeSchemaRow)
	err := s.db.NewSelect().
		Model(row).
		Where("ts.name = ?", name).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperror.NewBackendUnavailable("get type schema", err)
	}
	return &store.TypeSchemaRecord{Name: row.Name, Doc: row.Doc, UpdatedAt: row.UpdatedAt}, nil
}

func (s *Store) PutTypeSchema(ctx context.Context, rec *store.TypeSchemaRecord) error {
	row := &typeSchemaRow{Name: rec.Name, Doc: rec.Doc}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (name) DO UPDATE").
		Set("doc = EXCLUDED.doc").
		Set("updated_at = now()").
		Exec(ctx)
	if err != nil {
		return apperror.NewBackendUnavailable("put type schema", err)
	}
	return nil
}

func (s *Store) ListTypeSchemas(ctx context.Context) ([]*store.TypeSchemaRecord, error) {
	var rows []*typeSchemaRow
	err := s.db.NewSelect().
		Model(&rows).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.NewBackendUnavailable("list type schemas", err)
	}
	out := make([]*store.TypeSchemaRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, &store.TypeSchemaRecord{Name: row.Name, Doc: row.Doc, UpdatedAt: row.UpdatedAt})
	}
	return out, nil
}
