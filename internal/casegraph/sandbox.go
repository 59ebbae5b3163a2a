package casegraph

// Sandbox operations. Detaching clears the parent edge and leaves the element
// in its case; attaching re-establishes exactly one eligible parent edge.
// Both directions revalidate the affected invariants and reject without
// mutating on failure.

func (g *Graph) DetachContext(id string) error {
	c, ok := g.Contexts[id]
	if !ok {
		return ErrNotFound
	}
	if c.Parent.IsDetached() {
		return stateError("context %s is already detached", c.Name)
	}
	c.Parent = Detached()
	return nil
}

func (g *Graph) AttachContext(id, goalID string) error {
	c, ok := g.Contexts[id]
	if !ok {
		return ErrNotFound
	}
	if !c.Parent.IsDetached() {
		return stateError("context %s is already attached", c.Name)
	}
	if _, ok := g.Goals[goalID]; !ok {
		return ErrNotFound
	}
	if c.Name == "" || g.contextNameTaken(goalID, c.ID, c.Name) {
		c.Name = g.NextContextName(goalID)
	}
	c.Parent = ParentGoal(goalID)
	return nil
}

// DetachStrategy moves a strategy into the sandbox. Its property claims stay
// attached to it and migrate with it.
func (g *Graph) DetachStrategy(id string) error {
	s, ok := g.Strategies[id]
	if !ok {
		return ErrNotFound
	}
	if s.Parent.IsDetached() {
		return stateError("strategy %s is already detached", s.Name)
	}
	s.Parent = Detached()
	return nil
}

func (g *Graph) AttachStrategy(id, goalID string) error {
	s, ok := g.Strategies[id]
	if !ok {
		return ErrNotFound
	}
	if !s.Parent.IsDetached() {
		return stateError("strategy %s is already attached", s.Name)
	}
	if _, ok := g.Goals[goalID]; !ok {
		return ErrNotFound
	}
	if s.Name == "" || g.strategyNameTaken(goalID, s.ID, s.Name) {
		s.Name = g.NextStrategyName(goalID)
	}
	s.Parent = ParentGoal(goalID)
	return nil
}

func (g *Graph) DetachClaim(id string) error {
	c, ok := g.Claims[id]
	if !ok {
		return ErrNotFound
	}
	if c.Parent.IsDetached() {
		return stateError("property claim %s is already detached", c.Name)
	}
	c.Parent = Detached()
	c.Level = 1
	g.recomputeClaimLevels(c)
	return nil
}

// AttachClaim re-parents a sandboxed claim under a goal, strategy or another
// claim, recomputing its level and the level of every descendant.
func (g *Graph) AttachClaim(id string, parent ParentRef) error {
	c, ok := g.Claims[id]
	if !ok {
		return ErrNotFound
	}
	if !c.Parent.IsDetached() {
		return stateError("property claim %s is already attached", c.Name)
	}
	if parent.IsDetached() {
		return invariant("attach requires a parent")
	}
	if parent.Kind() == KindPropertyClaim {
		if parent.ID() == c.ID {
			return invariant("property claim cannot be its own parent")
		}
		if g.isAncestorClaim(c.ID, parent.ID()) {
			return conflict("property claim cannot be attached under its own descendant")
		}
	}
	level, err := g.claimLevelFor(parent)
	if err != nil {
		return err
	}
	if c.Name == "" || g.claimNameTaken(parent, c.ID, c.Name) {
		c.Name = g.NextClaimName(parent)
	}
	c.Parent = parent
	c.Level = level
	g.recomputeClaimLevels(c)
	return nil
}

// SetClaimParent is detach followed by attach in one step, applied to an
// attached claim.
func (g *Graph) SetClaimParent(id string, parent ParentRef) error {
	c, ok := g.Claims[id]
	if !ok {
		return ErrNotFound
	}
	if c.Parent.IsDetached() {
		return stateError("property claim %s is detached; attach it instead", c.Name)
	}
	previous := c.Parent
	c.Parent = Detached()
	if err := g.AttachClaim(id, parent); err != nil {
		c.Parent = previous
		return err
	}
	return nil
}

func (g *Graph) recomputeClaimLevels(root *PropertyClaim) {
	_ = g.WalkClaims(root.ID, func(_ int, claim, parent *PropertyClaim) {
		if parent != nil {
			claim.Level = parent.Level + 1
		}
	})
}

// DetachEvidence removes one claim link. The evidence enters the sandbox only
// when its claim set becomes empty.
func (g *Graph) DetachEvidence(id, claimID string) error {
	e, ok := g.Evidence[id]
	if !ok {
		return ErrNotFound
	}
	if e.InSandbox() {
		return stateError("evidence %s is already detached", e.Name)
	}
	if !e.linkedTo(claimID) {
		return stateError("evidence %s is not linked to that claim", e.Name)
	}
	e.unlink(claimID)
	return nil
}

func (g *Graph) AttachEvidence(id, claimID string) error {
	e, ok := g.Evidence[id]
	if !ok {
		return ErrNotFound
	}
	if !e.InSandbox() {
		return stateError("evidence %s is already attached", e.Name)
	}
	if _, ok := g.Claims[claimID]; !ok {
		return ErrNotFound
	}
	if e.Name == "" || g.evidenceNameTaken(e.ID, e.Name) {
		e.Name = g.NextEvidenceName()
	}
	e.Claims = []string{claimID}
	return nil
}
