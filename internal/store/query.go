package store

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Field names a queryable node column. Property predicates additionally
// carry a path into the schemaless properties map.
type Field string

const (
	FieldID          Field = "id"
	FieldType        Field = "node_type"
	FieldContent     Field = "content"
	FieldParentID    Field = "parent_id"
	FieldContainerID Field = "container_node_id"
	FieldCreatedAt   Field = "created_at"
	FieldModifiedAt  Field = "modified_at"
	FieldProperty    Field = "properties"
)

// Op is a predicate operator.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpContains Op = "contains"
)

// Filter is one typed predicate. A query's filters are a conjunction.
type Filter struct {
	Field Field
	// Path addresses a nested property when Field is FieldProperty,
	// e.g. ["status"] or ["metadata", "priority"].
	Path  []string
	Op    Op
	Value any
}

// SortKey orders results by a field (or nested property) in one direction.
type SortKey struct {
	Field Field
	Path  []string
	Desc  bool
}

// Query composes filters, sort keys and pagination. Backends always append
// a final ascending id tie-break so paginated reads are stable across
// repeated calls, even under concurrent writes elsewhere in the store.
type Query struct {
	Filters []Filter
	Sort    []SortKey
	Limit   int
	Offset  int
}

// Convenience constructors used throughout the services and tests.

func Eq(f Field, v any) Filter       { return Filter{Field: f, Op: OpEq, Value: v} }
func Ne(f Field, v any) Filter       { return Filter{Field: f, Op: OpNe, Value: v} }
func Contains(f Field, v any) Filter { return Filter{Field: f, Op: OpContains, Value: v} }

func PropFilter(path []string, op Op, v any) Filter {
	return Filter{Field: FieldProperty, Path: path, Op: op, Value: v}
}

func SortBy(f Field, desc bool) SortKey { return SortKey{Field: f, Desc: desc} }

// fieldValue extracts the filterable value of a field from a node.
// Missing properties and nil parents yield nil.
func fieldValue(n *Node, f Field, path []string) any {
	switch f {
	case FieldID:
		return n.ID
	case FieldType:
		return n.Type
	case FieldContent:
		return n.Content
	case FieldParentID:
		if n.ParentID == nil {
			return nil
		}
		return *n.ParentID
	case FieldContainerID:
		return n.ContainerID
	case FieldCreatedAt:
		return n.CreatedAt
	case FieldModifiedAt:
		return n.ModifiedAt
	case FieldProperty:
		var cur any = n.Props
		for _, seg := range path {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil
			}
			cur, ok = m[seg]
			if !ok {
				return nil
			}
		}
		return cur
	default:
		return nil
	}
}

// Matches evaluates the full conjunction against a node. Both backends
// must agree with this reference semantics; the Postgres backend's SQL
// translation is tested against it.
func Matches(n *Node, filters []Filter) bool {
	for _, f := range filters {
		if !matchOne(n, f) {
			return false
		}
	}
	return true
}

func matchOne(n *Node, f Filter) bool {
	got := fieldValue(n, f.Field, f.Path)

	switch f.Op {
	case OpEq:
		if f.Value == nil {
			return got == nil
		}
		return got != nil && compareValues(got, f.Value) == 0
	case OpNe:
		if f.Value == nil {
			return got != nil
		}
		return got == nil || compareValues(got, f.Value) != 0
	case OpLt, OpLte, OpGt, OpGte:
		if got == nil {
			return false
		}
		c := compareValues(got, f.Value)
		switch f.Op {
		case OpLt:
			return c < 0
		case OpLte:
			return c <= 0
		case OpGt:
			return c > 0
		default:
			return c >= 0
		}
	case OpContains:
		gs, ok1 := got.(string)
		vs, ok2 := f.Value.(string)
		if ok1 && ok2 {
			return strings.Contains(strings.ToLower(gs), strings.ToLower(vs))
		}
		// Array membership for property lists.
		if arr, ok := got.([]any); ok {
			for _, item := range arr {
				if compareValues(item, f.Value) == 0 {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

// compareValues orders two values of loosely matching types: numbers
// compare numerically regardless of concrete type, times chronologically,
// strings and bools by their natural order. Mismatched types fall back to
// comparing formatted representations, which keeps ordering total and
// deterministic.
func compareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}

	if at, aok := a.(time.Time); aok {
		if bt, bok := b.(time.Time); bok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}

	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return strings.Compare(as, bs)
		}
	}

	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			switch {
			case ab == bb:
				return 0
			case bb:
				return -1
			default:
				return 1
			}
		}
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// SortNodes orders nodes by the sort keys followed by the mandatory id
// tie-break, in place.
func SortNodes(nodes []*Node, keys []SortKey) {
	sort.SliceStable(nodes, func(i, j int) bool {
		for _, k := range keys {
			c := compareValues(
				fieldValue(nodes[i], k.Field, k.Path),
				fieldValue(nodes[j], k.Field, k.Path),
			)
			if c != 0 {
				if k.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return nodes[i].ID < nodes[j].ID
	})
}

// Paginate applies offset/limit to an already sorted result.
func Paginate(nodes []*Node, limit, offset int) []*Node {
	if offset > 0 {
		if offset >= len(nodes) {
			return nil
		}
		nodes = nodes[offset:]
	}
	if limit > 0 && limit < len(nodes) {
		nodes = nodes[:limit]
	}
	return nodes
}
