package casegraph

import (
	"errors"
	"testing"
)

func TestDetachAttachClaimRoundTrip(t *testing.T) {
	g := newTestGraph()
	addGoal(t, g, "gl_1")
	claim := addClaim(t, g, "pc_1", ParentGoal("gl_1"))
	evidence := addEvidence(t, g, "ev_1", "pc_1")

	before := claim.Name
	if err := g.DetachClaim("pc_1"); err != nil {
		t.Fatalf("DetachClaim: %v", err)
	}
	if !claim.InSandbox() {
		t.Fatal("detached claim must be in sandbox")
	}
	if claim.CaseID != g.CaseID {
		t.Fatal("detached claim must keep its case")
	}
	// the evidence link survives detach and stays reachable via the sandbox view
	if !evidence.linkedTo("pc_1") {
		t.Fatal("evidence must stay linked to a detached claim")
	}

	if err := g.AttachClaim("pc_1", ParentGoal("gl_1")); err != nil {
		t.Fatalf("AttachClaim: %v", err)
	}
	if claim.InSandbox() {
		t.Fatal("attached claim must not be in sandbox")
	}
	if claim.Parent.Kind() != KindGoal || claim.Parent.ID() != "gl_1" {
		t.Fatalf("claim parent = %v/%v", claim.Parent.Kind(), claim.Parent.ID())
	}
	if claim.Name != before {
		t.Fatalf("round trip changed name %s -> %s", before, claim.Name)
	}
	if claim.Level != 1 {
		t.Fatalf("round trip level = %d, want 1", claim.Level)
	}
}

func TestDetachDetachedClaimIsStateError(t *testing.T) {
	g := newTestGraph()
	addGoal(t, g, "gl_1")
	addClaim(t, g, "pc_1", ParentGoal("gl_1"))
	if err := g.DetachClaim("pc_1"); err != nil {
		t.Fatalf("DetachClaim: %v", err)
	}
	err := g.DetachClaim("pc_1")
	var se *StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected StateError, got %v", err)
	}
}

func TestAttachClaimRefusesSelfParent(t *testing.T) {
	g := newTestGraph()
	addGoal(t, g, "gl_1")
	addClaim(t, g, "pc_1", ParentGoal("gl_1"))
	if err := g.DetachClaim("pc_1"); err != nil {
		t.Fatalf("DetachClaim: %v", err)
	}
	err := g.AttachClaim("pc_1", ParentClaim("pc_1"))
	var iv *InvariantViolation
	if !errors.As(err, &iv) {
		t.Fatalf("expected InvariantViolation, got %v", err)
	}
}

func TestAttachClaimRefusesDescendantParent(t *testing.T) {
	g := newTestGraph()
	addGoal(t, g, "gl_1")
	addClaim(t, g, "pc_1", ParentGoal("gl_1"))
	addClaim(t, g, "pc_2", ParentClaim("pc_1"))

	if err := g.DetachClaim("pc_1"); err != nil {
		t.Fatalf("DetachClaim: %v", err)
	}
	err := g.AttachClaim("pc_1", ParentClaim("pc_2"))
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestAttachClaimReallocatesCollidingName(t *testing.T) {
	g := newTestGraph()
	addGoal(t, g, "gl_1")
	original := addClaim(t, g, "pc_1", ParentGoal("gl_1"))
	if original.Name != "P1" {
		t.Fatalf("original name = %s, want P1", original.Name)
	}
	if err := g.DetachClaim("pc_1"); err != nil {
		t.Fatalf("DetachClaim: %v", err)
	}

	// the allocator skips detached claims, so the freed name is reused
	sibling := addClaim(t, g, "pc_2", ParentGoal("gl_1"))
	if sibling.Name != "P1" {
		t.Fatalf("sibling name = %s, want the reused P1", sibling.Name)
	}

	if err := g.AttachClaim("pc_1", ParentGoal("gl_1")); err != nil {
		t.Fatalf("AttachClaim: %v", err)
	}
	if original.Name == sibling.Name {
		t.Fatalf("two attached top-level claims named %s", original.Name)
	}
	if original.Name != "P2" {
		t.Errorf("re-attached name = %s, want P2", original.Name)
	}
}

func TestAttachContextReallocatesCollidingName(t *testing.T) {
	g := newTestGraph()
	addGoal(t, g, "gl_1")
	original := &Context{ID: "ct_1", CaseID: g.CaseID, Parent: ParentGoal("gl_1")}
	if err := g.AddContext(original); err != nil {
		t.Fatalf("AddContext: %v", err)
	}
	if err := g.DetachContext("ct_1"); err != nil {
		t.Fatalf("DetachContext: %v", err)
	}
	fresh := &Context{ID: "ct_2", CaseID: g.CaseID, Parent: ParentGoal("gl_1")}
	if err := g.AddContext(fresh); err != nil {
		t.Fatalf("AddContext: %v", err)
	}
	if fresh.Name != "C1" {
		t.Fatalf("fresh name = %s, want the reused C1", fresh.Name)
	}

	if err := g.AttachContext("ct_1", "gl_1"); err != nil {
		t.Fatalf("AttachContext: %v", err)
	}
	if original.Name != "C2" {
		t.Errorf("re-attached name = %s, want C2", original.Name)
	}
}

func TestAttachStrategyReallocatesCollidingName(t *testing.T) {
	g := newTestGraph()
	addGoal(t, g, "gl_1")
	original := addStrategy(t, g, "st_1", "gl_1")
	if err := g.DetachStrategy("st_1"); err != nil {
		t.Fatalf("DetachStrategy: %v", err)
	}
	fresh := addStrategy(t, g, "st_2", "gl_1")
	if fresh.Name != "S1" {
		t.Fatalf("fresh name = %s, want the reused S1", fresh.Name)
	}

	if err := g.AttachStrategy("st_1", "gl_1"); err != nil {
		t.Fatalf("AttachStrategy: %v", err)
	}
	if original.Name != "S2" {
		t.Errorf("re-attached name = %s, want S2", original.Name)
	}
}

func TestAttachEvidenceReallocatesCollidingName(t *testing.T) {
	g := newTestGraph()
	addGoal(t, g, "gl_1")
	addClaim(t, g, "pc_1", ParentGoal("gl_1"))
	original := addEvidence(t, g, "ev_1", "pc_1")
	if original.Name != "E1" {
		t.Fatalf("original name = %s, want E1", original.Name)
	}
	if err := g.DetachEvidence("ev_1", "pc_1"); err != nil {
		t.Fatalf("DetachEvidence: %v", err)
	}
	fresh := addEvidence(t, g, "ev_2", "pc_1")
	if fresh.Name != "E1" {
		t.Fatalf("fresh name = %s, want the reused E1", fresh.Name)
	}

	if err := g.AttachEvidence("ev_1", "pc_1"); err != nil {
		t.Fatalf("AttachEvidence: %v", err)
	}
	if original.Name != "E2" {
		t.Errorf("re-attached name = %s, want E2", original.Name)
	}
}

func TestLinkEvidenceReallocatesStaleName(t *testing.T) {
	g := newTestGraph()
	addGoal(t, g, "gl_1")
	addClaim(t, g, "pc_1", ParentGoal("gl_1"))
	original := addEvidence(t, g, "ev_1", "pc_1")
	if err := g.DetachEvidence("ev_1", "pc_1"); err != nil {
		t.Fatalf("DetachEvidence: %v", err)
	}
	addEvidence(t, g, "ev_2", "pc_1")

	// linking out of the sandbox must not revive the stale E1
	if err := g.LinkEvidence("ev_1", "pc_1"); err != nil {
		t.Fatalf("LinkEvidence: %v", err)
	}
	if original.Name != "E2" {
		t.Errorf("relinked name = %s, want E2", original.Name)
	}
}

func TestSetClaimParentRecomputesLevels(t *testing.T) {
	g := newTestGraph()
	addGoal(t, g, "gl_1")
	addClaim(t, g, "pc_1", ParentGoal("gl_1"))
	moved := addClaim(t, g, "pc_2", ParentGoal("gl_1"))
	sub := addClaim(t, g, "pc_3", ParentClaim("pc_2"))

	if err := g.SetClaimParent("pc_2", ParentClaim("pc_1")); err != nil {
		t.Fatalf("SetClaimParent: %v", err)
	}
	if moved.Level != 2 {
		t.Fatalf("moved claim level = %d, want 2", moved.Level)
	}
	if sub.Level != 3 {
		t.Fatalf("descendant level = %d, want 3", sub.Level)
	}
}

func TestDetachStrategyMigratesClaims(t *testing.T) {
	g := newTestGraph()
	addGoal(t, g, "gl_1")
	addStrategy(t, g, "st_1", "gl_1")
	claim := addClaim(t, g, "pc_1", ParentStrategy("st_1"))

	if err := g.DetachStrategy("st_1"); err != nil {
		t.Fatalf("DetachStrategy: %v", err)
	}
	// the claim stays attached to the now-sandboxed strategy
	if claim.InSandbox() {
		t.Fatal("claim must remain attached to its strategy")
	}
	if claim.Parent.ID() != "st_1" {
		t.Fatalf("claim parent = %s, want st_1", claim.Parent.ID())
	}
	sandbox := g.SandboxStrategies()
	if len(sandbox) != 1 || sandbox[0].ID != "st_1" {
		t.Fatalf("sandbox strategies = %v", sandbox)
	}
}

func TestDetachEvidenceRemovesSingleLink(t *testing.T) {
	g := newTestGraph()
	addGoal(t, g, "gl_1")
	addClaim(t, g, "pc_1", ParentGoal("gl_1"))
	addClaim(t, g, "pc_2", ParentGoal("gl_1"))
	e := addEvidence(t, g, "ev_1", "pc_1")
	if err := g.LinkEvidence("ev_1", "pc_2"); err != nil {
		t.Fatalf("LinkEvidence: %v", err)
	}

	if err := g.DetachEvidence("ev_1", "pc_1"); err != nil {
		t.Fatalf("DetachEvidence: %v", err)
	}
	if e.InSandbox() {
		t.Fatal("evidence with a remaining link must stay attached")
	}
	if err := g.DetachEvidence("ev_1", "pc_2"); err != nil {
		t.Fatalf("DetachEvidence: %v", err)
	}
	if !e.InSandbox() {
		t.Fatal("evidence with no links must enter the sandbox")
	}
}

func TestSandboxViews(t *testing.T) {
	g := newTestGraph()
	addGoal(t, g, "gl_1")
	if err := g.AddContext(&Context{ID: "ct_1", CaseID: g.CaseID, Parent: ParentGoal("gl_1")}); err != nil {
		t.Fatalf("AddContext: %v", err)
	}
	addClaim(t, g, "pc_1", ParentGoal("gl_1"))

	if err := g.DetachContext("ct_1"); err != nil {
		t.Fatalf("DetachContext: %v", err)
	}
	if err := g.DetachClaim("pc_1"); err != nil {
		t.Fatalf("DetachClaim: %v", err)
	}

	if len(g.SandboxContexts()) != 1 || len(g.SandboxClaims()) != 1 {
		t.Fatal("sandbox views missing detached elements")
	}
	if len(g.ContextsOf("gl_1")) != 0 || len(g.ClaimsOfGoal("gl_1")) != 0 {
		t.Fatal("detached elements still listed under their old parent")
	}
}
