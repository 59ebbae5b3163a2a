package casegraph

import "sort"

// Graph is the in-memory projection of a single case. All mutations on it
// happen under the owning case's exclusive lock; the graph itself performs no
// locking. Every mutation either commits with all invariants intact or
// returns an error and leaves the graph unchanged.
type Graph struct {
	CaseID     string
	Goals      map[string]*Goal
	Contexts   map[string]*Context
	Strategies map[string]*Strategy
	Claims     map[string]*PropertyClaim
	Evidence   map[string]*Evidence

	nextSeq int64
}

func New(caseID string) *Graph {
	return &Graph{
		CaseID:     caseID,
		Goals:      make(map[string]*Goal),
		Contexts:   make(map[string]*Context),
		Strategies: make(map[string]*Strategy),
		Claims:     make(map[string]*PropertyClaim),
		Evidence:   make(map[string]*Evidence),
	}
}

// Track registers a loaded element's sequence number so later inserts keep
// the insertion order total.
func (g *Graph) Track(seq int64) {
	if seq >= g.nextSeq {
		g.nextSeq = seq + 1
	}
}

func (g *Graph) allocSeq() int64 {
	seq := g.nextSeq
	g.nextSeq++
	return seq
}

// AddGoal inserts a goal. The name is always assigned by the allocator.
func (g *Graph) AddGoal(goal *Goal) error {
	if goal.CaseID != g.CaseID {
		return invariant("goal belongs to case %s, graph holds case %s", goal.CaseID, g.CaseID)
	}
	goal.Seq = g.allocSeq()
	goal.Name = g.NextGoalName()
	g.Goals[goal.ID] = goal
	return nil
}

func (g *Graph) AddContext(c *Context) error {
	if c.CaseID != g.CaseID {
		return invariant("context belongs to case %s, graph holds case %s", c.CaseID, g.CaseID)
	}
	if !c.Parent.IsDetached() {
		if c.Parent.Kind() != KindGoal {
			return invariant("context parent must be a goal")
		}
		if _, ok := g.Goals[c.Parent.ID()]; !ok {
			return ErrNotFound
		}
	}
	c.Seq = g.allocSeq()
	if !c.Parent.IsDetached() {
		c.Name = g.NextContextName(c.Parent.ID())
	}
	g.Contexts[c.ID] = c
	return nil
}

func (g *Graph) AddStrategy(s *Strategy) error {
	if s.CaseID != g.CaseID {
		return invariant("strategy belongs to case %s, graph holds case %s", s.CaseID, g.CaseID)
	}
	if !s.Parent.IsDetached() {
		if s.Parent.Kind() != KindGoal {
			return invariant("strategy parent must be a goal")
		}
		if _, ok := g.Goals[s.Parent.ID()]; !ok {
			return ErrNotFound
		}
	}
	s.Seq = g.allocSeq()
	if !s.Parent.IsDetached() {
		s.Name = g.NextStrategyName(s.Parent.ID())
	}
	g.Strategies[s.ID] = s
	return nil
}

func (g *Graph) AddClaim(c *PropertyClaim) error {
	if c.CaseID != g.CaseID {
		return invariant("property claim belongs to case %s, graph holds case %s", c.CaseID, g.CaseID)
	}
	if c.ClaimType == "" {
		c.ClaimType = ClaimTypeSystem
	}
	if c.ClaimType != ClaimTypeSystem && c.ClaimType != ClaimTypeProject {
		return invariant("unknown claim type %q", c.ClaimType)
	}
	level, err := g.claimLevelFor(c.Parent)
	if err != nil {
		return err
	}
	c.Level = level
	c.Seq = g.allocSeq()
	if !c.Parent.IsDetached() {
		c.Name = g.NextClaimName(c.Parent)
	}
	g.Claims[c.ID] = c
	return nil
}

// claimLevelFor validates a claim parent reference and computes the level the
// claim will hold under it. Detached claims keep level 1 until attached.
func (g *Graph) claimLevelFor(parent ParentRef) (int, error) {
	switch parent.Kind() {
	case "":
		return 1, nil
	case KindGoal:
		if _, ok := g.Goals[parent.ID()]; !ok {
			return 0, ErrNotFound
		}
		return 1, nil
	case KindStrategy:
		if _, ok := g.Strategies[parent.ID()]; !ok {
			return 0, ErrNotFound
		}
		return 1, nil
	case KindPropertyClaim:
		p, ok := g.Claims[parent.ID()]
		if !ok {
			return 0, ErrNotFound
		}
		return p.Level + 1, nil
	default:
		return 0, invariant("property claim parent must be a goal, strategy or property claim")
	}
}

// AddEvidence inserts evidence linked to the given claim. Evidence created
// directly in the sandbox passes an empty claim id.
func (g *Graph) AddEvidence(e *Evidence, claimID string) error {
	if e.CaseID != g.CaseID {
		return invariant("evidence belongs to case %s, graph holds case %s", e.CaseID, g.CaseID)
	}
	if claimID != "" {
		if _, ok := g.Claims[claimID]; !ok {
			return ErrNotFound
		}
		e.Claims = []string{claimID}
	}
	e.Seq = g.allocSeq()
	if len(e.Claims) > 0 {
		e.Name = g.NextEvidenceName()
	}
	g.Evidence[e.ID] = e
	return nil
}

// LinkEvidence associates existing evidence with an additional claim of the
// same case.
func (g *Graph) LinkEvidence(evidenceID, claimID string) error {
	e, ok := g.Evidence[evidenceID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := g.Claims[claimID]; !ok {
		return invariant("evidence may only be linked to property claims of its own case")
	}
	if e.linkedTo(claimID) {
		return nil
	}
	if e.InSandbox() && (e.Name == "" || g.evidenceNameTaken(e.ID, e.Name)) {
		e.Name = g.NextEvidenceName()
	}
	e.Claims = append(e.Claims, claimID)
	return nil
}

// DeleteGoal removes a goal and cascades through every descendant reachable
// over parent edges. Evidence survives with reduced claim sets per the
// cascade rule; it is only removed together with its case.
func (g *Graph) DeleteGoal(id string) error {
	goal, ok := g.Goals[id]
	if !ok {
		return ErrNotFound
	}
	for _, c := range g.ContextsOf(id) {
		delete(g.Contexts, c.ID)
	}
	for _, s := range g.StrategiesOf(id) {
		g.deleteStrategyCascade(s.ID)
	}
	for _, c := range g.ClaimsOfGoal(id) {
		g.deleteClaimCascade(c.ID)
	}
	delete(g.Goals, goal.ID)
	return nil
}

func (g *Graph) DeleteContext(id string) error {
	if _, ok := g.Contexts[id]; !ok {
		return ErrNotFound
	}
	delete(g.Contexts, id)
	return nil
}

func (g *Graph) DeleteStrategy(id string) error {
	if _, ok := g.Strategies[id]; !ok {
		return ErrNotFound
	}
	g.deleteStrategyCascade(id)
	return nil
}

func (g *Graph) deleteStrategyCascade(id string) {
	for _, c := range g.ClaimsOfStrategy(id) {
		g.deleteClaimCascade(c.ID)
	}
	delete(g.Strategies, id)
}

func (g *Graph) DeleteClaim(id string) error {
	if _, ok := g.Claims[id]; !ok {
		return ErrNotFound
	}
	g.deleteClaimCascade(id)
	return nil
}

func (g *Graph) deleteClaimCascade(id string) {
	for _, sub := range g.SubclaimsOf(id) {
		g.deleteClaimCascade(sub.ID)
	}
	for _, e := range g.Evidence {
		e.unlink(id)
	}
	delete(g.Claims, id)
}

func (e *Evidence) unlink(claimID string) {
	kept := e.Claims[:0]
	for _, id := range e.Claims {
		if id != claimID {
			kept = append(kept, id)
		}
	}
	e.Claims = kept
}

func (g *Graph) DeleteEvidence(id string) error {
	if _, ok := g.Evidence[id]; !ok {
		return ErrNotFound
	}
	delete(g.Evidence, id)
	return nil
}

// Child accessors. Siblings are always returned in insertion order, which the
// persisted sequence number makes total.

func (g *Graph) GoalsOrdered() []*Goal {
	out := make([]*Goal, 0, len(g.Goals))
	for _, goal := range g.Goals {
		out = append(out, goal)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (g *Graph) ContextsOf(goalID string) []*Context {
	out := make([]*Context, 0)
	for _, c := range g.Contexts {
		if !c.Parent.IsDetached() && c.Parent.ID() == goalID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (g *Graph) StrategiesOf(goalID string) []*Strategy {
	out := make([]*Strategy, 0)
	for _, s := range g.Strategies {
		if !s.Parent.IsDetached() && s.Parent.ID() == goalID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (g *Graph) ClaimsOfGoal(goalID string) []*PropertyClaim {
	return g.claimsUnder(KindGoal, goalID)
}

func (g *Graph) ClaimsOfStrategy(strategyID string) []*PropertyClaim {
	return g.claimsUnder(KindStrategy, strategyID)
}

func (g *Graph) SubclaimsOf(claimID string) []*PropertyClaim {
	return g.claimsUnder(KindPropertyClaim, claimID)
}

func (g *Graph) claimsUnder(kind Kind, id string) []*PropertyClaim {
	out := make([]*PropertyClaim, 0)
	for _, c := range g.Claims {
		if c.Parent.Kind() == kind && c.Parent.ID() == id {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (g *Graph) EvidenceOf(claimID string) []*Evidence {
	out := make([]*Evidence, 0)
	for _, e := range g.Evidence {
		if e.linkedTo(claimID) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Sandbox lists the detached elements of the case.
func (g *Graph) SandboxContexts() []*Context {
	out := make([]*Context, 0)
	for _, c := range g.Contexts {
		if c.Parent.IsDetached() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (g *Graph) SandboxStrategies() []*Strategy {
	out := make([]*Strategy, 0)
	for _, s := range g.Strategies {
		if s.Parent.IsDetached() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (g *Graph) SandboxClaims() []*PropertyClaim {
	out := make([]*PropertyClaim, 0)
	for _, c := range g.Claims {
		if c.Parent.IsDetached() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (g *Graph) SandboxEvidence() []*Evidence {
	out := make([]*Evidence, 0)
	for _, e := range g.Evidence {
		if e.InSandbox() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
