package nodes

import (
	"fmt"

	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/apperror"
)

// orderChain arranges the children of one parent into sibling order by
// following before_sibling_id links from the head. A malformed chain
// (no head, several heads, shared predecessors, or links that do not
// cover every child) is corruption and is reported, never papered over.
func orderChain(children []*store.Node) ([]*store.Node, error) {
	if len(children) == 0 {
		return nil, nil
	}

	byPred := make(map[string]*store.Node, len(children))
	var head *store.Node
	for _, c := range children {
		if c.BeforeSiblingID == nil {
			if head != nil {
				return nil, chainCorruption(fmt.Sprintf(
					"two heads: %q and %q", head.ID, c.ID))
			}
			head = c
			continue
		}
		if prev, dup := byPred[*c.BeforeSiblingID]; dup {
			return nil, chainCorruption(fmt.Sprintf(
				"%q and %q share predecessor %q", prev.ID, c.ID, *c.BeforeSiblingID))
		}
		byPred[*c.BeforeSiblingID] = c
	}
	if head == nil {
		return nil, chainCorruption("no head")
	}

	ordered := make([]*store.Node, 0, len(children))
	for cur := head; cur != nil; cur = byPred[cur.ID] {
		ordered = append(ordered, cur)
		if len(ordered) > len(children) {
			return nil, chainCorruption("predecessor links form a loop")
		}
	}
	if len(ordered) != len(children) {
		return nil, chainCorruption(fmt.Sprintf(
			"chain covers %d of %d children", len(ordered), len(children)))
	}
	return ordered, nil
}

func chainCorruption(detail string) error {
	return apperror.NewInternal("sibling chain corrupted: "+detail, nil)
}
