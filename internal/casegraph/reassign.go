package casegraph

import "strconv"

// ReassignIdentifiers renames every attached element of the case to the
// canonical least-increasing sequence. The walk is breadth first and left to
// right: goals, then under each goal its contexts, strategies and direct
// claims; under each strategy its claims; under each claim recursively its
// sub-claims; evidence in the order it is first encountered while walking
// claims. All top-level claims share one case-wide P sequence, goal-direct
// claims first. Sandboxed elements keep their names. The pass is idempotent.
func (g *Graph) ReassignIdentifiers() {
	for i, goal := range g.GoalsOrdered() {
		goal.Name = "G" + strconv.Itoa(i+1)
	}
	for _, goal := range g.GoalsOrdered() {
		for i, c := range g.ContextsOf(goal.ID) {
			c.Name = "C" + strconv.Itoa(i+1)
		}
		for i, s := range g.StrategiesOf(goal.ID) {
			s.Name = "S" + strconv.Itoa(i+1)
		}
	}

	evidenceIndex := 0
	named := make(map[string]struct{})
	nameEvidence := func(claimID string) {
		for _, e := range g.EvidenceOf(claimID) {
			if _, done := named[e.ID]; done {
				continue
			}
			named[e.ID] = struct{}{}
			evidenceIndex++
			e.Name = "E" + strconv.Itoa(evidenceIndex)
		}
	}

	for i, top := range g.TopLevelClaims() {
		top.Name = "P" + strconv.Itoa(i+1)
		_ = g.WalkClaims(top.ID, func(siblingIndex int, claim, parent *PropertyClaim) {
			if parent != nil {
				claim.Name = parent.Name + "." + strconv.Itoa(siblingIndex+1)
			}
			nameEvidence(claim.ID)
		})
	}
}
