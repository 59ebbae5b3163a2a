// Package casegraph holds the in-memory projection of an assurance case:
// the element types, the parent/child invariants, sandbox detach/attach,
// subtree traversal and the canonical identifier sequence. The graph is
// always scoped to a single case; persistence and permissions live above it.
package casegraph

import "time"

type Kind string

const (
	KindGoal          Kind = "goal"
	KindContext       Kind = "context"
	KindStrategy      Kind = "strategy"
	KindPropertyClaim Kind = "property_claim"
	KindEvidence      Kind = "evidence"
)

type ClaimType string

const (
	ClaimTypeSystem  ClaimType = "System"
	ClaimTypeProject ClaimType = "Project"
)

// Shape is the visual tag carried in response payloads. It plays no part in
// any invariant.
type Shape string

const (
	ShapeRectangle        Shape = "rectangle"
	ShapeRoundedRectangle Shape = "rounded-rectangle"
	ShapeCylinder         Shape = "cylinder"
)

func ShapeFor(kind Kind) Shape {
	switch kind {
	case KindContext, KindStrategy:
		return ShapeRoundedRectangle
	case KindEvidence:
		return ShapeCylinder
	default:
		return ShapeRectangle
	}
}

// ParentRef is the tagged parent variant of an element. The zero value means
// detached: the element sits in the case sandbox and carries its case
// reference explicitly. Constructing any other variant is only possible
// through the Parent* helpers, so an element can never hold two parents.
type ParentRef struct {
	kind Kind
	id   string
}

func Detached() ParentRef { return ParentRef{} }

func ParentGoal(id string) ParentRef     { return ParentRef{kind: KindGoal, id: id} }
func ParentStrategy(id string) ParentRef { return ParentRef{kind: KindStrategy, id: id} }
func ParentClaim(id string) ParentRef    { return ParentRef{kind: KindPropertyClaim, id: id} }

func (p ParentRef) IsDetached() bool { return p.kind == "" }
func (p ParentRef) Kind() Kind       { return p.kind }
func (p ParentRef) ID() string       { return p.id }

// Goal is the top-level normative claim of a case. Goals attach directly to
// the case and never enter the sandbox.
type Goal struct {
	ID         string
	Name       string
	ShortDesc  string
	LongDesc   string
	Keywords   string
	Assumption bool
	CaseID     string
	Seq        int64
	Version    int64
	CreatedAt  time.Time
}

type Context struct {
	ID        string
	Name      string
	ShortDesc string
	LongDesc  string
	Parent    ParentRef // goal or detached
	CaseID    string
	Seq       int64
	Version   int64
	CreatedAt time.Time
}

type Strategy struct {
	ID            string
	Name          string
	ShortDesc     string
	LongDesc      string
	Assumption    bool
	Justification bool
	Parent        ParentRef // goal or detached
	CaseID        string
	Seq           int64
	Version       int64
	CreatedAt     time.Time
}

type PropertyClaim struct {
	ID         string
	Name       string
	ShortDesc  string
	LongDesc   string
	Assumption bool
	ClaimType  ClaimType
	Level      int
	Parent     ParentRef // goal, strategy, claim or detached
	CaseID     string
	Seq        int64
	Version    int64
	CreatedAt  time.Time
}

func (c *PropertyClaim) InSandbox() bool { return c.Parent.IsDetached() }

// Evidence substantiates one or more property claims of the same case. It has
// no parent edge of its own; it is in the sandbox exactly when its claim set
// is empty.
type Evidence struct {
	ID        string
	Name      string
	ShortDesc string
	LongDesc  string
	URL       string
	CaseID    string
	Claims    []string // linked claim ids, ordered by first link
	Seq       int64
	Version   int64
	CreatedAt time.Time
}

func (e *Evidence) InSandbox() bool { return len(e.Claims) == 0 }

func (e *Evidence) linkedTo(claimID string) bool {
	for _, id := range e.Claims {
		if id == claimID {
			return true
		}
	}
	return false
}
