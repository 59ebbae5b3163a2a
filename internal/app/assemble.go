package app

import (
	"time"

	"casemark/api/internal/casegraph"
	"casemark/api/internal/store"
)

// Case assembly: the nested projection a reader receives. Sandboxed elements
// are excluded from the main tree and reported in the parallel sandbox view.

func caseSummaryJSON(c store.Case) map[string]any {
	out := map[string]any{
		"id":            c.ID,
		"name":          c.Name,
		"description":   c.Description,
		"color_profile": c.ColorProfile,
		"published":     c.Published,
		"version":       c.Version,
		"created_at":    c.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":    c.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if c.OwnerID != "" {
		out["owner"] = c.OwnerID
	} else {
		out["owner"] = nil
	}
	if c.PublishedAt != nil {
		out["published_at"] = c.PublishedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func assembleCase(c store.Case, g *casegraph.Graph) map[string]any {
	out := caseSummaryJSON(c)

	goals := make([]map[string]any, 0)
	for _, goal := range g.GoalsOrdered() {
		goals = append(goals, assembleGoal(g, goal))
	}
	out["goals"] = goals
	out["sandbox"] = assembleSandbox(g)
	return out
}

func assembleGoal(g *casegraph.Graph, goal *casegraph.Goal) map[string]any {
	contexts := make([]map[string]any, 0)
	for _, c := range g.ContextsOf(goal.ID) {
		contexts = append(contexts, contextJSON(c))
	}
	strategies := make([]map[string]any, 0)
	for _, st := range g.StrategiesOf(goal.ID) {
		claims := make([]map[string]any, 0)
		for _, claim := range g.ClaimsOfStrategy(st.ID) {
			claims = append(claims, assembleClaim(g, claim))
		}
		entry := strategyJSON(st)
		entry["property_claims"] = claims
		strategies = append(strategies, entry)
	}
	claims := make([]map[string]any, 0)
	for _, claim := range g.ClaimsOfGoal(goal.ID) {
		claims = append(claims, assembleClaim(g, claim))
	}

	entry := goalJSON(goal)
	entry["context"] = contexts
	entry["strategies"] = strategies
	entry["property_claims"] = claims
	return entry
}

// assembleClaim serializes a claim with its linked evidence and its sub-claim
// tree. Iterative: children are assembled before their parent is emitted.
func assembleClaim(g *casegraph.Graph, root *casegraph.PropertyClaim) map[string]any {
	type frame struct {
		claim    *casegraph.PropertyClaim
		children []*casegraph.PropertyClaim
		next     int
		entries  []map[string]any
	}

	assembleLeafless := func(c *casegraph.PropertyClaim, subs []map[string]any) map[string]any {
		entry := claimJSON(c)
		evidence := make([]map[string]any, 0)
		for _, e := range g.EvidenceOf(c.ID) {
			evidence = append(evidence, evidenceJSON(e))
		}
		entry["evidence"] = evidence
		entry["property_claims"] = subs
		return entry
	}

	stack := []*frame{{claim: root, children: g.SubclaimsOf(root.ID)}}
	for {
		top := stack[len(stack)-1]
		if top.next < len(top.children) {
			child := top.children[top.next]
			top.next++
			stack = append(stack, &frame{claim: child, children: g.SubclaimsOf(child.ID)})
			continue
		}
		entry := assembleLeafless(top.claim, ensureEntries(top.entries))
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			return entry
		}
		parent := stack[len(stack)-1]
		parent.entries = append(parent.entries, entry)
	}
}

func ensureEntries(entries []map[string]any) []map[string]any {
	if entries == nil {
		return make([]map[string]any, 0)
	}
	return entries
}

func assembleSandbox(g *casegraph.Graph) map[string]any {
	contexts := make([]map[string]any, 0)
	for _, c := range g.SandboxContexts() {
		contexts = append(contexts, contextJSON(c))
	}
	strategies := make([]map[string]any, 0)
	for _, st := range g.SandboxStrategies() {
		claims := make([]map[string]any, 0)
		for _, claim := range g.ClaimsOfStrategy(st.ID) {
			claims = append(claims, assembleClaim(g, claim))
		}
		entry := strategyJSON(st)
		entry["property_claims"] = claims
		strategies = append(strategies, entry)
	}
	claims := make([]map[string]any, 0)
	for _, claim := range g.SandboxClaims() {
		claims = append(claims, assembleClaim(g, claim))
	}
	evidence := make([]map[string]any, 0)
	for _, e := range g.SandboxEvidence() {
		evidence = append(evidence, evidenceJSON(e))
	}
	return map[string]any{
		"contexts":        contexts,
		"strategies":      strategies,
		"property_claims": claims,
		"evidence":        evidence,
	}
}

func goalJSON(goal *casegraph.Goal) map[string]any {
	return map[string]any{
		"id":         goal.ID,
		"type":       string(casegraph.KindGoal),
		"name":       goal.Name,
		"short_desc": goal.ShortDesc,
		"long_desc":  goal.LongDesc,
		"keywords":   goal.Keywords,
		"assumption": goal.Assumption,
		"case_id":    goal.CaseID,
		"shape":      string(casegraph.ShapeFor(casegraph.KindGoal)),
		"version":    goal.Version,
		"created_at": goal.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func contextJSON(c *casegraph.Context) map[string]any {
	out := map[string]any{
		"id":         c.ID,
		"type":       string(casegraph.KindContext),
		"name":       c.Name,
		"short_desc": c.ShortDesc,
		"long_desc":  c.LongDesc,
		"case_id":    c.CaseID,
		"in_sandbox": c.Parent.IsDetached(),
		"shape":      string(casegraph.ShapeFor(casegraph.KindContext)),
		"version":    c.Version,
		"created_at": c.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !c.Parent.IsDetached() {
		out["goal_id"] = c.Parent.ID()
	}
	return out
}

func strategyJSON(st *casegraph.Strategy) map[string]any {
	out := map[string]any{
		"id":            st.ID,
		"type":          string(casegraph.KindStrategy),
		"name":          st.Name,
		"short_desc":    st.ShortDesc,
		"long_desc":     st.LongDesc,
		"assumption":    st.Assumption,
		"justification": st.Justification,
		"case_id":       st.CaseID,
		"in_sandbox":    st.Parent.IsDetached(),
		"shape":         string(casegraph.ShapeFor(casegraph.KindStrategy)),
		"version":       st.Version,
		"created_at":    st.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !st.Parent.IsDetached() {
		out["goal_id"] = st.Parent.ID()
	}
	return out
}

func claimJSON(c *casegraph.PropertyClaim) map[string]any {
	out := map[string]any{
		"id":         c.ID,
		"type":       string(casegraph.KindPropertyClaim),
		"name":       c.Name,
		"short_desc": c.ShortDesc,
		"long_desc":  c.LongDesc,
		"assumption": c.Assumption,
		"claim_type": string(c.ClaimType),
		"level":      c.Level,
		"case_id":    c.CaseID,
		"in_sandbox": c.InSandbox(),
		"shape":      string(casegraph.ShapeFor(casegraph.KindPropertyClaim)),
		"version":    c.Version,
		"created_at": c.CreatedAt.UTC().Format(time.RFC3339),
	}
	switch c.Parent.Kind() {
	case casegraph.KindGoal:
		out["goal_id"] = c.Parent.ID()
	case casegraph.KindStrategy:
		out["strategy_id"] = c.Parent.ID()
	case casegraph.KindPropertyClaim:
		out["property_claim_id"] = c.Parent.ID()
	}
	return out
}

func evidenceJSON(e *casegraph.Evidence) map[string]any {
	claims := e.Claims
	if claims == nil {
		claims = []string{}
	}
	return map[string]any{
		"id":         e.ID,
		"type":       string(casegraph.KindEvidence),
		"name":       e.Name,
		"short_desc": e.ShortDesc,
		"long_desc":  e.LongDesc,
		"url":        e.URL,
		"case_id":    e.CaseID,
		"in_sandbox": e.InSandbox(),
		"claims":     claims,
		"shape":      string(casegraph.ShapeFor(casegraph.KindEvidence)),
		"version":    e.Version,
		"created_at": e.CreatedAt.UTC().Format(time.RFC3339),
	}
}
