package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/loreweave/loreweave/internal/store"
)

// applyQuery translates a store.Query into SQL clauses. The translation
// must agree with store.Matches and store.SortNodes; the memory backend
// is the reference for the shared semantics.
func applyQuery(q *bun.SelectQuery, query store.Query) (*bun.SelectQuery, error) {
	for _, f := range query.Filters {
		var err error
		q, err = applyFilter(q, f)
		if err != nil {
			return nil, err
		}
	}

	for _, key := range query.Sort {
		dir := "ASC"
		if key.Desc {
			dir = "DESC"
		}
		if key.Field == store.FieldProperty {
			q = q.OrderExpr(fmt.Sprintf("n.properties #> ? %s", dir), pgdialect.Array(key.Path))
		} else {
			q = q.OrderExpr(fmt.Sprintf("n.%s %s", string(key.Field), dir))
		}
	}
	// Mandatory tie-break keeps pagination stable.
	q = q.OrderExpr("n.id ASC")

	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	if query.Offset > 0 {
		q = q.Offset(query.Offset)
	}
	return q, nil
}

func applyFilter(q *bun.SelectQuery, f store.Filter) (*bun.SelectQuery, error) {
	if f.Field == store.FieldProperty {
		return applyPropertyFilter(q, f)
	}

	col := "n." + string(f.Field)
	switch f.Op {
	case store.OpEq:
		if f.Value == nil {
			return q.Where(col + " IS NULL"), nil
		}
		return q.Where(col+" = ?", f.Value), nil
	case store.OpNe:
		if f.Value == nil {
			return q.Where(col + " IS NOT NULL"), nil
		}
		return q.Where(fmt.Sprintf("(%s IS NULL OR %s <> ?)", col, col), f.Value), nil
	case store.OpLt:
		return q.Where(col+" < ?", f.Value), nil
	case store.OpLte:
		return q.Where(col+" <= ?", f.Value), nil
	case store.OpGt:
		return q.Where(col+" > ?", f.Value), nil
	case store.OpGte:
		return q.Where(col+" >= ?", f.Value), nil
	case store.OpContains:
		s, ok := f.Value.(string)
		if !ok {
			return nil, fmt.Errorf("contains on field %q requires a string value", f.Field)
		}
		return q.Where(col+" ILIKE ?", "%"+s+"%"), nil
	default:
		return nil, fmt.Errorf("unsupported filter op %q", f.Op)
	}
}

func applyPropertyFilter(q *bun.SelectQuery, f store.Filter) (*bun.SelectQuery, error) {
	if len(f.Path) == 0 {
		return nil, fmt.Errorf("property filter requires a path")
	}
	path := pgdialect.Array(f.Path)

	switch f.Op {
	case store.OpEq, store.OpNe:
		doc, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("encode filter value: %w", err)
		}
		if f.Op == store.OpEq {
			return q.Where("n.properties #> ? = ?::jsonb", path, string(doc)), nil
		}
		return q.Where("(n.properties #> ? IS NULL OR n.properties #> ? <> ?::jsonb)",
			path, path, string(doc)), nil

	case store.OpLt, store.OpLte, store.OpGt, store.OpGte:
		op := map[store.Op]string{
			store.OpLt: "<", store.OpLte: "<=", store.OpGt: ">", store.OpGte: ">=",
		}[f.Op]
		if isNumeric(f.Value) {
			// jsonb stores all numbers as numeric; the cast keeps the
			// comparison numeric instead of lexicographic.
			return q.Where(fmt.Sprintf("(n.properties #>> ?)::numeric %s ?", op), path, f.Value), nil
		}
		return q.Where(fmt.Sprintf("n.properties #>> ? %s ?", op), path, fmt.Sprint(f.Value)), nil

	case store.OpContains:
		doc, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("encode filter value: %w", err)
		}
		if s, ok := f.Value.(string); ok {
			// Substring match on string values, membership on arrays.
			return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.
					WhereOr("n.properties #>> ? ILIKE ?", path, "%"+s+"%").
					WhereOr("jsonb_typeof(n.properties #> ?) = 'array' AND n.properties #> ? @> ?::jsonb",
						path, path, string(doc))
			}), nil
		}
		return q.Where("jsonb_typeof(n.properties #> ?) = 'array' AND n.properties #> ? @> ?::jsonb",
			path, path, string(doc)), nil

	default:
		return nil, fmt.Errorf("unsupported filter op %q", f.Op)
	}
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	default:
		return false
	}
}
