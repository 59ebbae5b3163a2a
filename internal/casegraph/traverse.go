package casegraph

import "sort"

// ClaimVisitor is applied to every claim of a depth-first walk.
// siblingIndex counts the child's position among its siblings, starting at 0.
// parent is nil for the walk's root.
type ClaimVisitor func(siblingIndex int, claim, parent *PropertyClaim)

type claimFrame struct {
	claim        *PropertyClaim
	parent       *PropertyClaim
	siblingIndex int
}

// WalkClaims walks the sub-claim tree rooted at rootID depth first, siblings
// in insertion order. The walk is iterative; the attach-time cycle check
// bounds it, so no visited set is needed.
func (g *Graph) WalkClaims(rootID string, visit ClaimVisitor) error {
	root, ok := g.Claims[rootID]
	if !ok {
		return ErrNotFound
	}

	stack := []claimFrame{{claim: root}}
	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		visit(frame.siblingIndex, frame.claim, frame.parent)

		children := g.SubclaimsOf(frame.claim.ID)
		// push in reverse so the leftmost child is visited first
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, claimFrame{
				claim:        children[i],
				parent:       frame.claim,
				siblingIndex: i,
			})
		}
	}
	return nil
}

// CasePropertyClaims enumerates the case's claims: the top level (claims
// whose parent is one of the case's goals or strategies, in insertion order)
// and the ids of every descendant below the top level, sorted ascending.
func (g *Graph) CasePropertyClaims() (topLevel []string, descendants []string) {
	tops := g.TopLevelClaims()
	topLevel = make([]string, 0, len(tops))
	descendants = make([]string, 0)
	for _, top := range tops {
		topLevel = append(topLevel, top.ID)
		_ = g.WalkClaims(top.ID, func(_ int, claim, parent *PropertyClaim) {
			if parent != nil {
				descendants = append(descendants, claim.ID)
			}
		})
	}
	sort.Strings(descendants)
	return topLevel, descendants
}

// TopLevelClaims returns claims directly under the case's goals first (goal
// order, then insertion order), then claims under each strategy in strategy
// order. This is also the order the single P sequence is assigned in.
func (g *Graph) TopLevelClaims() []*PropertyClaim {
	out := make([]*PropertyClaim, 0)
	goals := g.GoalsOrdered()
	for _, goal := range goals {
		out = append(out, g.ClaimsOfGoal(goal.ID)...)
	}
	for _, goal := range goals {
		for _, s := range g.StrategiesOf(goal.ID) {
			out = append(out, g.ClaimsOfStrategy(s.ID)...)
		}
	}
	return out
}

// isAncestorClaim reports whether ancestorID lies on the parent chain of
// claimID (or equals it). Used to refuse attach edges that would close a
// cycle.
func (g *Graph) isAncestorClaim(ancestorID, claimID string) bool {
	for id := claimID; id != ""; {
		if id == ancestorID {
			return true
		}
		c, ok := g.Claims[id]
		if !ok || c.Parent.Kind() != KindPropertyClaim {
			return false
		}
		id = c.Parent.ID()
	}
	return false
}
