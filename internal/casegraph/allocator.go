package casegraph

import "strconv"

// Identifier allocation. Each element kind has a scope (the set of names it
// must be unique within) and a prefix. The candidate index starts at the
// cardinality of the scope after the insertion and increments past any name
// already in use, so deleted elements leave gaps that a re-identification
// pass later closes.

func nextName(prefix string, used map[string]struct{}) string {
	candidate := len(used) + 1
	for {
		name := prefix + strconv.Itoa(candidate)
		if _, taken := used[name]; !taken {
			return name
		}
		candidate++
	}
}

// NextGoalName allocates over the goals of the case.
func (g *Graph) NextGoalName() string {
	used := make(map[string]struct{}, len(g.Goals))
	for _, goal := range g.Goals {
		used[goal.Name] = struct{}{}
	}
	return nextName("G", used)
}

// NextContextName allocates over the contexts of one goal.
func (g *Graph) NextContextName(goalID string) string {
	used := make(map[string]struct{})
	for _, c := range g.ContextsOf(goalID) {
		used[c.Name] = struct{}{}
	}
	return nextName("C", used)
}

// NextStrategyName allocates over the strategies of one goal.
func (g *Graph) NextStrategyName(goalID string) string {
	used := make(map[string]struct{})
	for _, s := range g.StrategiesOf(goalID) {
		used[s.Name] = struct{}{}
	}
	return nextName("S", used)
}

// NextClaimName allocates a property claim name. Top-level claims (parent is
// a goal or a strategy) share one case-wide scope: every claim directly under
// the case's goals plus every claim under any of the case's strategies. A
// sub-claim of claim X is scoped to X's children and prefixed "X.".
func (g *Graph) NextClaimName(parent ParentRef) string {
	if parent.Kind() == KindPropertyClaim {
		p, ok := g.Claims[parent.ID()]
		if !ok {
			return ""
		}
		used := make(map[string]struct{})
		for _, sub := range g.SubclaimsOf(p.ID) {
			used[sub.Name] = struct{}{}
		}
		return nextName(p.Name+".", used)
	}

	used := make(map[string]struct{})
	for _, c := range g.Claims {
		switch c.Parent.Kind() {
		case KindGoal, KindStrategy:
			used[c.Name] = struct{}{}
		}
	}
	return nextName("P", used)
}

// NextEvidenceName allocates over all evidence linked to any claim of the
// case.
func (g *Graph) NextEvidenceName() string {
	used := make(map[string]struct{})
	for _, e := range g.Evidence {
		if !e.InSandbox() {
			used[e.Name] = struct{}{}
		}
	}
	return nextName("E", used)
}

// Collision checks over the same scopes the allocators draw from. An element
// re-entering a scope may carry a name the allocator has since handed to a
// sibling; attach and rename consult these before committing.

func (g *Graph) contextNameTaken(goalID, selfID, name string) bool {
	for _, c := range g.ContextsOf(goalID) {
		if c.ID != selfID && c.Name == name {
			return true
		}
	}
	return false
}

func (g *Graph) strategyNameTaken(goalID, selfID, name string) bool {
	for _, s := range g.StrategiesOf(goalID) {
		if s.ID != selfID && s.Name == name {
			return true
		}
	}
	return false
}

func (g *Graph) claimNameTaken(parent ParentRef, selfID, name string) bool {
	if parent.Kind() == KindPropertyClaim {
		for _, sub := range g.SubclaimsOf(parent.ID()) {
			if sub.ID != selfID && sub.Name == name {
				return true
			}
		}
		return false
	}
	for _, c := range g.Claims {
		switch c.Parent.Kind() {
		case KindGoal, KindStrategy:
			if c.ID != selfID && c.Name == name {
				return true
			}
		}
	}
	return false
}

func (g *Graph) evidenceNameTaken(selfID, name string) bool {
	for _, e := range g.Evidence {
		if e.ID != selfID && !e.InSandbox() && e.Name == name {
			return true
		}
	}
	return false
}

// NameTaken reports whether giving the element the name would collide with
// another element of its current scope. Detached elements have no scope and
// never collide.
func (g *Graph) NameTaken(kind Kind, id, name string) bool {
	if name == "" {
		return false
	}
	switch kind {
	case KindGoal:
		for _, goal := range g.Goals {
			if goal.ID != id && goal.Name == name {
				return true
			}
		}
	case KindContext:
		c, ok := g.Contexts[id]
		if !ok || c.Parent.IsDetached() {
			return false
		}
		return g.contextNameTaken(c.Parent.ID(), id, name)
	case KindStrategy:
		s, ok := g.Strategies[id]
		if !ok || s.Parent.IsDetached() {
			return false
		}
		return g.strategyNameTaken(s.Parent.ID(), id, name)
	case KindPropertyClaim:
		c, ok := g.Claims[id]
		if !ok || c.Parent.IsDetached() {
			return false
		}
		return g.claimNameTaken(c.Parent, id, name)
	case KindEvidence:
		e, ok := g.Evidence[id]
		if !ok || e.InSandbox() {
			return false
		}
		return g.evidenceNameTaken(id, name)
	}
	return false
}
