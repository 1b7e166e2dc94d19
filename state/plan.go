package state

import (
	"cmp"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/arloliu/urlstate/errs"
)

// OrderPlan returns the plan nodes in canonical order: depth-first pre-order
// from the roots, siblings sorted by (Order, ID).
//
// Returns errs.ErrInvalidPlan if the arena is not a forest: an empty or
// duplicate id, a parent that does not exist, or a cycle.
func OrderPlan(nodes []PlanNode) ([]PlanNode, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	ids := make(map[string]struct{}, len(nodes))
	for i, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("%w: node %d has an empty id", errs.ErrInvalidPlan, i)
		}
		if !utf8.ValidString(n.ID) || !utf8.ValidString(n.ParentID) || !utf8.ValidString(n.Text) {
			return nil, fmt.Errorf("%w: node %q is not valid UTF-8", errs.ErrInvalidPlan, n.ID)
		}
		if _, dup := ids[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %q", errs.ErrInvalidPlan, n.ID)
		}
		ids[n.ID] = struct{}{}
	}

	children := make(map[string][]PlanNode, len(nodes))
	for _, n := range nodes {
		if n.ParentID != "" {
			if _, ok := ids[n.ParentID]; !ok {
				return nil, fmt.Errorf("%w: node %q refers to missing parent %q", errs.ErrInvalidPlan, n.ID, n.ParentID)
			}
		}
		children[n.ParentID] = append(children[n.ParentID], n)
	}
	for _, siblings := range children {
		slices.SortFunc(siblings, func(a, b PlanNode) int {
			return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.ID, b.ID))
		})
	}

	ordered := make([]PlanNode, 0, len(nodes))
	stack := slices.Clone(children[""])
	slices.Reverse(stack)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		ordered = append(ordered, n)

		kids := children[n.ID]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}

	// every node has one parent, so anything unreachable from a root sits on a cycle
	if len(ordered) != len(nodes) {
		return nil, fmt.Errorf("%w: %d nodes form a parent cycle", errs.ErrInvalidPlan, len(nodes)-len(ordered))
	}

	return ordered, nil
}
