package app

import (
	"context"
	"fmt"

	"casemark/api/internal/casegraph"
	"casemark/api/internal/permissions"
	"casemark/api/internal/util"
)

// ParentInfo is the wire form of a parent reference. At most one field may be
// set; which one is eligible depends on the element kind.
type ParentInfo struct {
	GoalID          string `json:"goal_id"`
	StrategyID      string `json:"strategy_id"`
	PropertyClaimID string `json:"property_claim_id"`
}

func (p ParentInfo) count() int {
	n := 0
	if p.GoalID != "" {
		n++
	}
	if p.StrategyID != "" {
		n++
	}
	if p.PropertyClaimID != "" {
		n++
	}
	return n
}

func (p ParentInfo) ref() casegraph.ParentRef {
	switch {
	case p.GoalID != "":
		return casegraph.ParentGoal(p.GoalID)
	case p.StrategyID != "":
		return casegraph.ParentStrategy(p.StrategyID)
	case p.PropertyClaimID != "":
		return casegraph.ParentClaim(p.PropertyClaimID)
	default:
		return casegraph.Detached()
	}
}

// NodeInput carries the writable fields of a create or update request. A
// caller-supplied name is ignored on create; the allocator always decides.
type NodeInput struct {
	Name          string `json:"name"`
	ShortDesc     string `json:"short_description"`
	LongDesc      string `json:"long_description"`
	Keywords      string `json:"keywords"`
	Assumption    bool   `json:"assumption"`
	Justification bool   `json:"justification"`
	ClaimType     string `json:"claim_type"`
	URL           string `json:"url"`
	CaseID        string `json:"case_id"`
	Version       int64  `json:"version"`
	ParentInfo
}

// nodeCase resolves which case a create request targets: the parent's case
// when a parent is given, the explicit case id for sandbox creation.
func (s *Service) nodeCase(ctx context.Context, input NodeInput) (string, error) {
	if input.count() > 1 {
		return "", errInvariant("at most one parent reference may be set")
	}
	ref := input.ref()
	if ref.IsDetached() {
		if input.CaseID == "" {
			return "", errValidation("case_id is required when no parent is given", nil)
		}
		return input.CaseID, nil
	}
	caseID, err := s.store.ElementCase(ctx, ref.Kind(), ref.ID())
	if err != nil {
		return "", storeError(err)
	}
	if input.CaseID != "" && input.CaseID != caseID {
		return "", errInvariant("parent belongs to a different case")
	}
	return caseID, nil
}

func (s *Service) CreateGoal(ctx context.Context, session Session, input NodeInput) (map[string]any, error) {
	if input.CaseID == "" {
		return nil, errValidation("case_id is required", nil)
	}
	if input.count() > 0 {
		return nil, errInvariant("goals attach directly to their case")
	}
	if _, err := s.requireCase(ctx, session, input.CaseID, permissions.CanWrite); err != nil {
		return nil, err
	}

	mu := s.caseLock(input.CaseID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.store.LoadCaseGraph(ctx, input.CaseID)
	if err != nil {
		return nil, fmt.Errorf("load case graph: %w", err)
	}
	goal := &casegraph.Goal{
		ID:         util.NewID("gl"),
		ShortDesc:  input.ShortDesc,
		LongDesc:   input.LongDesc,
		Keywords:   input.Keywords,
		Assumption: input.Assumption,
		CaseID:     input.CaseID,
	}
	if err := g.AddGoal(goal); err != nil {
		return nil, graphError(err)
	}
	if err := s.store.InsertGoal(ctx, goal); err != nil {
		return nil, fmt.Errorf("insert goal: %w", err)
	}
	s.finishMutation(ctx, input.CaseID, session, "goal_created", goal.ID)
	return goalJSON(goal), nil
}

func (s *Service) CreateContext(ctx context.Context, session Session, input NodeInput) (map[string]any, error) {
	if input.StrategyID != "" || input.PropertyClaimID != "" {
		return nil, errInvariant("context parent must be a goal")
	}
	caseID, err := s.nodeCase(ctx, input)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireCase(ctx, session, caseID, permissions.CanWrite); err != nil {
		return nil, err
	}

	mu := s.caseLock(caseID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.store.LoadCaseGraph(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case graph: %w", err)
	}
	c := &casegraph.Context{
		ID:        util.NewID("ctx"),
		ShortDesc: input.ShortDesc,
		LongDesc:  input.LongDesc,
		Parent:    input.ref(),
		CaseID:    caseID,
	}
	if err := g.AddContext(c); err != nil {
		return nil, graphError(err)
	}
	if err := s.store.InsertContext(ctx, c); err != nil {
		return nil, fmt.Errorf("insert context: %w", err)
	}
	s.finishMutation(ctx, caseID, session, "context_created", c.ID)
	return contextJSON(c), nil
}

func (s *Service) CreateStrategy(ctx context.Context, session Session, input NodeInput) (map[string]any, error) {
	if input.StrategyID != "" || input.PropertyClaimID != "" {
		return nil, errInvariant("strategy parent must be a goal")
	}
	caseID, err := s.nodeCase(ctx, input)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireCase(ctx, session, caseID, permissions.CanWrite); err != nil {
		return nil, err
	}

	mu := s.caseLock(caseID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.store.LoadCaseGraph(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case graph: %w", err)
	}
	st := &casegraph.Strategy{
		ID:            util.NewID("st"),
		ShortDesc:     input.ShortDesc,
		LongDesc:      input.LongDesc,
		Assumption:    input.Assumption,
		Justification: input.Justification,
		Parent:        input.ref(),
		CaseID:        caseID,
	}
	if err := g.AddStrategy(st); err != nil {
		return nil, graphError(err)
	}
	if err := s.store.InsertStrategy(ctx, st); err != nil {
		return nil, fmt.Errorf("insert strategy: %w", err)
	}
	s.finishMutation(ctx, caseID, session, "strategy_created", st.ID)
	return strategyJSON(st), nil
}

func (s *Service) CreateClaim(ctx context.Context, session Session, input NodeInput) (map[string]any, error) {
	caseID, err := s.nodeCase(ctx, input)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireCase(ctx, session, caseID, permissions.CanWrite); err != nil {
		return nil, err
	}

	mu := s.caseLock(caseID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.store.LoadCaseGraph(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case graph: %w", err)
	}
	c := &casegraph.PropertyClaim{
		ID:         util.NewID("pc"),
		ShortDesc:  input.ShortDesc,
		LongDesc:   input.LongDesc,
		Assumption: input.Assumption,
		ClaimType:  casegraph.ClaimType(input.ClaimType),
		Parent:     input.ref(),
		CaseID:     caseID,
	}
	if err := g.AddClaim(c); err != nil {
		return nil, graphError(err)
	}
	if err := s.store.InsertClaim(ctx, c); err != nil {
		return nil, fmt.Errorf("insert property claim: %w", err)
	}
	s.finishMutation(ctx, caseID, session, "property_claim_created", c.ID)
	return claimJSON(c), nil
}

func (s *Service) CreateEvidence(ctx context.Context, session Session, input NodeInput) (map[string]any, error) {
	if input.GoalID != "" || input.StrategyID != "" {
		return nil, errInvariant("evidence attaches to a property claim")
	}
	caseID, err := s.nodeCase(ctx, input)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireCase(ctx, session, caseID, permissions.CanWrite); err != nil {
		return nil, err
	}

	mu := s.caseLock(caseID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.store.LoadCaseGraph(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case graph: %w", err)
	}
	e := &casegraph.Evidence{
		ID:        util.NewID("ev"),
		ShortDesc: input.ShortDesc,
		LongDesc:  input.LongDesc,
		URL:       input.URL,
		CaseID:    caseID,
	}
	if err := g.AddEvidence(e, input.PropertyClaimID); err != nil {
		return nil, graphError(err)
	}
	if err := s.store.InsertEvidence(ctx, e); err != nil {
		return nil, fmt.Errorf("insert evidence: %w", err)
	}
	s.finishMutation(ctx, caseID, session, "evidence_created", e.ID)
	return evidenceJSON(e), nil
}

// ── reads ──

// GetNode returns a single element; property claims embed their subtree.
func (s *Service) GetNode(ctx context.Context, session Session, kind casegraph.Kind, id string) (map[string]any, error) {
	caseID, err := s.store.ElementCase(ctx, kind, id)
	if err != nil {
		return nil, storeError(err)
	}
	if _, err := s.requireCase(ctx, session, caseID, permissions.CanRead); err != nil {
		return nil, err
	}

	mu := s.caseLock(caseID)
	mu.RLock()
	defer mu.RUnlock()

	g, err := s.store.LoadCaseGraph(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case graph: %w", err)
	}
	switch kind {
	case casegraph.KindGoal:
		goal, ok := g.Goals[id]
		if !ok {
			return nil, errNotFound()
		}
		return assembleGoal(g, goal), nil
	case casegraph.KindContext:
		c, ok := g.Contexts[id]
		if !ok {
			return nil, errNotFound()
		}
		return contextJSON(c), nil
	case casegraph.KindStrategy:
		st, ok := g.Strategies[id]
		if !ok {
			return nil, errNotFound()
		}
		entry := strategyJSON(st)
		claims := make([]map[string]any, 0)
		for _, claim := range g.ClaimsOfStrategy(st.ID) {
			claims = append(claims, assembleClaim(g, claim))
		}
		entry["property_claims"] = claims
		return entry, nil
	case casegraph.KindPropertyClaim:
		c, ok := g.Claims[id]
		if !ok {
			return nil, errNotFound()
		}
		return assembleClaim(g, c), nil
	case casegraph.KindEvidence:
		e, ok := g.Evidence[id]
		if !ok {
			return nil, errNotFound()
		}
		return evidenceJSON(e), nil
	default:
		return nil, errNotFound()
	}
}

// ── updates ──

// NodePatch is a partial field update. Parent references cannot be changed
// here; detach and attach are the only re-parenting operations.
type NodePatch struct {
	Name          *string `json:"name"`
	ShortDesc     *string `json:"short_description"`
	LongDesc      *string `json:"long_description"`
	Keywords      *string `json:"keywords"`
	Assumption    *bool   `json:"assumption"`
	Justification *bool   `json:"justification"`
	ClaimType     *string `json:"claim_type"`
	URL           *string `json:"url"`
	Version       int64   `json:"version"`

	GoalID          *string `json:"goal_id"`
	StrategyID      *string `json:"strategy_id"`
	PropertyClaimID *string `json:"property_claim_id"`
}

func (p NodePatch) touchesParent() bool {
	return p.GoalID != nil || p.StrategyID != nil || p.PropertyClaimID != nil
}

func (s *Service) UpdateNode(ctx context.Context, session Session, kind casegraph.Kind, id string, patch NodePatch) (map[string]any, error) {
	if patch.touchesParent() {
		return nil, errValidation("parent references cannot be changed by update; use detach and attach", nil)
	}
	caseID, err := s.store.ElementCase(ctx, kind, id)
	if err != nil {
		return nil, storeError(err)
	}
	if _, err := s.requireCase(ctx, session, caseID, permissions.CanWrite); err != nil {
		return nil, err
	}

	mu := s.caseLock(caseID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.store.LoadCaseGraph(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case graph: %w", err)
	}
	if patch.Name != nil && g.NameTaken(kind, id, *patch.Name) {
		return nil, errConflict("name is already used by another element of the same scope")
	}

	var (
		changed bool
		payload map[string]any
	)
	switch kind {
	case casegraph.KindGoal:
		goal, ok := g.Goals[id]
		if !ok {
			return nil, errNotFound()
		}
		applyString(&goal.Name, patch.Name)
		applyString(&goal.ShortDesc, patch.ShortDesc)
		applyString(&goal.LongDesc, patch.LongDesc)
		applyString(&goal.Keywords, patch.Keywords)
		applyBool(&goal.Assumption, patch.Assumption)
		changed, err = s.store.UpdateGoal(ctx, goal, patch.Version)
		payload = goalJSON(goal)
	case casegraph.KindContext:
		c, ok := g.Contexts[id]
		if !ok {
			return nil, errNotFound()
		}
		applyString(&c.Name, patch.Name)
		applyString(&c.ShortDesc, patch.ShortDesc)
		applyString(&c.LongDesc, patch.LongDesc)
		changed, err = s.store.UpdateContext(ctx, c, patch.Version)
		payload = contextJSON(c)
	case casegraph.KindStrategy:
		st, ok := g.Strategies[id]
		if !ok {
			return nil, errNotFound()
		}
		applyString(&st.Name, patch.Name)
		applyString(&st.ShortDesc, patch.ShortDesc)
		applyString(&st.LongDesc, patch.LongDesc)
		applyBool(&st.Assumption, patch.Assumption)
		applyBool(&st.Justification, patch.Justification)
		changed, err = s.store.UpdateStrategy(ctx, st, patch.Version)
		payload = strategyJSON(st)
	case casegraph.KindPropertyClaim:
		c, ok := g.Claims[id]
		if !ok {
			return nil, errNotFound()
		}
		applyString(&c.Name, patch.Name)
		applyString(&c.ShortDesc, patch.ShortDesc)
		applyString(&c.LongDesc, patch.LongDesc)
		applyBool(&c.Assumption, patch.Assumption)
		if patch.ClaimType != nil {
			ct := casegraph.ClaimType(*patch.ClaimType)
			if ct != casegraph.ClaimTypeSystem && ct != casegraph.ClaimTypeProject {
				return nil, errValidation("claim_type must be System or Project", map[string]any{"claim_type": *patch.ClaimType})
			}
			c.ClaimType = ct
		}
		changed, err = s.store.UpdateClaim(ctx, c, patch.Version)
		payload = claimJSON(c)
	case casegraph.KindEvidence:
		e, ok := g.Evidence[id]
		if !ok {
			return nil, errNotFound()
		}
		applyString(&e.Name, patch.Name)
		applyString(&e.ShortDesc, patch.ShortDesc)
		applyString(&e.LongDesc, patch.LongDesc)
		applyString(&e.URL, patch.URL)
		changed, err = s.store.UpdateEvidence(ctx, e, patch.Version)
		payload = evidenceJSON(e)
	default:
		return nil, errNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", kind, err)
	}
	if !changed {
		return nil, errConflict("element was modified by someone else")
	}
	s.finishMutation(ctx, caseID, session, string(kind)+"_updated", id)
	return payload, nil
}

func applyString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func applyBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// ── deletes ──

// DeleteNode removes an element and every descendant reachable over parent
// edges. Evidence is never cascaded; it only dies with its case.
func (s *Service) DeleteNode(ctx context.Context, session Session, kind casegraph.Kind, id string) error {
	caseID, err := s.store.ElementCase(ctx, kind, id)
	if err != nil {
		return storeError(err)
	}
	if _, err := s.requireCase(ctx, session, caseID, permissions.CanWrite); err != nil {
		return err
	}

	mu := s.caseLock(caseID)
	mu.Lock()
	defer mu.Unlock()

	switch kind {
	case casegraph.KindGoal:
		err = s.store.DeleteGoal(ctx, id)
	case casegraph.KindContext:
		err = s.store.DeleteContext(ctx, id)
	case casegraph.KindStrategy:
		err = s.store.DeleteStrategy(ctx, id)
	case casegraph.KindPropertyClaim:
		err = s.store.DeleteClaim(ctx, id)
	case casegraph.KindEvidence:
		err = s.store.DeleteEvidence(ctx, id)
	default:
		return errNotFound()
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	s.finishMutation(ctx, caseID, session, string(kind)+"_deleted", id)
	return nil
}

// ── detach / attach ──

func (s *Service) DetachNode(ctx context.Context, session Session, kind casegraph.Kind, id string, info ParentInfo) (map[string]any, error) {
	caseID, err := s.store.ElementCase(ctx, kind, id)
	if err != nil {
		return nil, storeError(err)
	}
	if _, err := s.requireCase(ctx, session, caseID, permissions.CanWrite); err != nil {
		return nil, err
	}

	mu := s.caseLock(caseID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.store.LoadCaseGraph(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case graph: %w", err)
	}

	var payload map[string]any
	switch kind {
	case casegraph.KindContext:
		if err := g.DetachContext(id); err != nil {
			return nil, graphError(err)
		}
		c := g.Contexts[id]
		if err := s.store.SaveContextAttachment(ctx, c); err != nil {
			return nil, fmt.Errorf("save context attachment: %w", err)
		}
		payload = contextJSON(c)
	case casegraph.KindStrategy:
		if err := g.DetachStrategy(id); err != nil {
			return nil, graphError(err)
		}
		st := g.Strategies[id]
		if err := s.store.SaveStrategyAttachment(ctx, st); err != nil {
			return nil, fmt.Errorf("save strategy attachment: %w", err)
		}
		payload = strategyJSON(st)
	case casegraph.KindPropertyClaim:
		if err := g.DetachClaim(id); err != nil {
			return nil, graphError(err)
		}
		if err := s.persistClaimSubtree(ctx, g, id); err != nil {
			return nil, err
		}
		payload = claimJSON(g.Claims[id])
	case casegraph.KindEvidence:
		if info.PropertyClaimID == "" {
			return nil, errValidation("property_claim_id selects which evidence link is removed", nil)
		}
		if err := g.DetachEvidence(id, info.PropertyClaimID); err != nil {
			return nil, graphError(err)
		}
		if err := s.store.DeleteEvidenceLink(ctx, id, info.PropertyClaimID); err != nil {
			return nil, fmt.Errorf("delete evidence link: %w", err)
		}
		payload = evidenceJSON(g.Evidence[id])
	default:
		return nil, errValidation("goals cannot be detached", nil)
	}
	s.finishMutation(ctx, caseID, session, string(kind)+"_detached", id)
	return payload, nil
}

func (s *Service) AttachNode(ctx context.Context, session Session, kind casegraph.Kind, id string, info ParentInfo) (map[string]any, error) {
	if info.count() != 1 {
		return nil, errInvariant("attach requires exactly one parent reference")
	}
	caseID, err := s.store.ElementCase(ctx, kind, id)
	if err != nil {
		return nil, storeError(err)
	}
	if _, err := s.requireCase(ctx, session, caseID, permissions.CanWrite); err != nil {
		return nil, err
	}

	mu := s.caseLock(caseID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.store.LoadCaseGraph(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case graph: %w", err)
	}

	var payload map[string]any
	switch kind {
	case casegraph.KindContext:
		if info.GoalID == "" {
			return nil, errInvariant("context parent must be a goal")
		}
		if err := g.AttachContext(id, info.GoalID); err != nil {
			return nil, graphError(err)
		}
		c := g.Contexts[id]
		if err := s.store.SaveContextAttachment(ctx, c); err != nil {
			return nil, fmt.Errorf("save context attachment: %w", err)
		}
		payload = contextJSON(c)
	case casegraph.KindStrategy:
		if info.GoalID == "" {
			return nil, errInvariant("strategy parent must be a goal")
		}
		if err := g.AttachStrategy(id, info.GoalID); err != nil {
			return nil, graphError(err)
		}
		st := g.Strategies[id]
		if err := s.store.SaveStrategyAttachment(ctx, st); err != nil {
			return nil, fmt.Errorf("save strategy attachment: %w", err)
		}
		payload = strategyJSON(st)
	case casegraph.KindPropertyClaim:
		if err := g.AttachClaim(id, info.ref()); err != nil {
			return nil, graphError(err)
		}
		if err := s.persistClaimSubtree(ctx, g, id); err != nil {
			return nil, err
		}
		payload = claimJSON(g.Claims[id])
	case casegraph.KindEvidence:
		if info.PropertyClaimID == "" {
			return nil, errInvariant("evidence attaches to a property claim")
		}
		if err := g.AttachEvidence(id, info.PropertyClaimID); err != nil {
			return nil, graphError(err)
		}
		e := g.Evidence[id]
		if err := s.store.InsertEvidenceLink(ctx, id, info.PropertyClaimID); err != nil {
			return nil, fmt.Errorf("insert evidence link: %w", err)
		}
		if e.Name != "" {
			if _, err := s.store.UpdateEvidence(ctx, e, 0); err != nil {
				return nil, fmt.Errorf("save evidence name: %w", err)
			}
		}
		payload = evidenceJSON(e)
	default:
		return nil, errValidation("goals cannot be attached", nil)
	}
	s.finishMutation(ctx, caseID, session, string(kind)+"_attached", id)
	return payload, nil
}

// SetClaimParent re-parents an attached claim in one atomic step.
func (s *Service) SetClaimParent(ctx context.Context, session Session, id string, info ParentInfo) (map[string]any, error) {
	if info.count() != 1 {
		return nil, errInvariant("exactly one parent reference is required")
	}
	caseID, err := s.store.ElementCase(ctx, casegraph.KindPropertyClaim, id)
	if err != nil {
		return nil, storeError(err)
	}
	if _, err := s.requireCase(ctx, session, caseID, permissions.CanWrite); err != nil {
		return nil, err
	}

	mu := s.caseLock(caseID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.store.LoadCaseGraph(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case graph: %w", err)
	}
	if err := g.SetClaimParent(id, info.ref()); err != nil {
		return nil, graphError(err)
	}
	if err := s.persistClaimSubtree(ctx, g, id); err != nil {
		return nil, err
	}
	s.finishMutation(ctx, caseID, session, "property_claim_moved", id)
	return claimJSON(g.Claims[id]), nil
}

// LinkEvidence adds one more claim link to already attached evidence.
func (s *Service) LinkEvidence(ctx context.Context, session Session, evidenceID, claimID string) (map[string]any, error) {
	if claimID == "" {
		return nil, errValidation("property_claim_id is required", nil)
	}
	caseID, err := s.store.ElementCase(ctx, casegraph.KindEvidence, evidenceID)
	if err != nil {
		return nil, storeError(err)
	}
	if _, err := s.requireCase(ctx, session, caseID, permissions.CanWrite); err != nil {
		return nil, err
	}

	mu := s.caseLock(caseID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.store.LoadCaseGraph(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case graph: %w", err)
	}
	e, ok := g.Evidence[evidenceID]
	if !ok {
		return nil, errNotFound()
	}
	prevName := e.Name
	if err := g.LinkEvidence(evidenceID, claimID); err != nil {
		return nil, graphError(err)
	}
	if err := s.store.InsertEvidenceLink(ctx, evidenceID, claimID); err != nil {
		return nil, fmt.Errorf("insert evidence link: %w", err)
	}
	if e.Name != prevName {
		if _, err := s.store.UpdateEvidence(ctx, e, 0); err != nil {
			return nil, fmt.Errorf("save evidence name: %w", err)
		}
	}
	s.finishMutation(ctx, caseID, session, "evidence_linked", evidenceID)
	return evidenceJSON(e), nil
}

// persistClaimSubtree writes the root claim's attachment state and the
// recomputed levels of every claim below it in one store transaction.
func (s *Service) persistClaimSubtree(ctx context.Context, g *casegraph.Graph, rootID string) error {
	root := g.Claims[rootID]
	descendants := make([]*casegraph.PropertyClaim, 0)
	_ = g.WalkClaims(rootID, func(_ int, claim, parent *casegraph.PropertyClaim) {
		if parent != nil {
			descendants = append(descendants, claim)
		}
	})
	if err := s.store.SaveClaimSubtree(ctx, root, descendants); err != nil {
		return fmt.Errorf("save claim subtree: %w", err)
	}
	return nil
}

func (s *Service) finishMutation(ctx context.Context, caseID string, session Session, kind, elementID string) {
	_ = s.store.TouchCase(ctx, caseID)
	s.emitChange(caseID, session, kind, map[string]any{"case_id": caseID, "element_id": elementID})
}

// kindFromPath maps a URL collection segment to the element kind.
func kindFromPath(segment string) (casegraph.Kind, bool) {
	switch segment {
	case "goals":
		return casegraph.KindGoal, true
	case "contexts":
		return casegraph.KindContext, true
	case "strategies":
		return casegraph.KindStrategy, true
	case "property_claims":
		return casegraph.KindPropertyClaim, true
	case "evidence":
		return casegraph.KindEvidence, true
	default:
		return "", false
	}
}
