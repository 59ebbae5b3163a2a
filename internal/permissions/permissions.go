// Package permissions computes a user's permission level over a case from
// ownership and group membership.
package permissions

import "fmt"

type Level int

const (
	LevelNone Level = iota
	LevelView
	LevelReview
	LevelEdit
	LevelOwner
)

func (l Level) String() string {
	switch l {
	case LevelView:
		return "view"
	case LevelReview:
		return "review"
	case LevelEdit:
		return "edit"
	case LevelOwner:
		return "owner"
	default:
		return "none"
	}
}

// CaseACL is the permission-relevant slice of a case: its owner and the three
// group sets shared cases carry.
type CaseACL struct {
	OwnerID      string
	ViewGroups   []string
	ReviewGroups []string
	EditGroups   []string
}

// Resolve returns the level an authenticated user holds on a case.
// memberGroups is the set of group ids the user belongs to. A case without an
// owner is legacy data and grants owner to every authenticated user.
func Resolve(userID string, memberGroups []string, acl CaseACL) Level {
	if acl.OwnerID == "" {
		return LevelOwner
	}
	if userID == acl.OwnerID {
		return LevelOwner
	}
	member := make(map[string]struct{}, len(memberGroups))
	for _, id := range memberGroups {
		member[id] = struct{}{}
	}
	if intersects(member, acl.EditGroups) {
		return LevelEdit
	}
	if intersects(member, acl.ReviewGroups) {
		return LevelReview
	}
	if intersects(member, acl.ViewGroups) {
		return LevelView
	}
	return LevelNone
}

func intersects(member map[string]struct{}, groups []string) bool {
	for _, id := range groups {
		if _, ok := member[id]; ok {
			return true
		}
	}
	return false
}

func CanRead(l Level) bool    { return l >= LevelView }
func CanComment(l Level) bool { return l >= LevelView }
func CanWrite(l Level) bool   { return l >= LevelEdit }
func CanDelete(l Level) bool  { return l == LevelOwner }
func CanShare(l Level) bool   { return l == LevelOwner }

// ShareKind names one of the three canonical share-group slots of a case.
type ShareKind string

const (
	ShareView   ShareKind = "view"
	ShareReview ShareKind = "review"
	ShareEdit   ShareKind = "edit"
)

// CanonicalGroupName is the conventional name of the group holding one
// permission type for one case.
func CanonicalGroupName(ownerName, caseID string, kind ShareKind) string {
	return fmt.Sprintf("%s-case-%s-%s-group", ownerName, caseID, kind)
}
