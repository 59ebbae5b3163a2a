package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Group struct {
	ID        string
	Name      string
	OwnerID   string
	Members   []string
	CreatedAt time.Time
}

type Case struct {
	ID           string
	Name         string
	Description  string
	OwnerID      string // empty for legacy rows without an owner
	ColorProfile string
	Published    bool
	PublishedAt  *time.Time
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// canonical share groups by permission type
	ViewGroups   []string
	ReviewGroups []string
	EditGroups   []string
}

type Comment struct {
	ID         string
	CaseID     string
	AuthorID   string
	AuthorName string
	TargetKind string // case, goal, strategy, context, property_claim, evidence
	TargetID   string
	Content    string
	CreatedAt  time.Time
}

// PublishedSnapshot is the immutable record produced by publishing a case.
// The serialized tree is stored verbatim; later edits to the case never touch
// it.
type PublishedSnapshot struct {
	ID        string
	CaseID    string
	CaseName  string
	Tree      json.RawMessage
	CreatedBy string
	CreatedAt time.Time
}

// ConnectionRecord registers one live subscriber of a case topic. Reconnects
// for the same (user, case, channel) replace the previous record.
type ConnectionRecord struct {
	UserID     string
	UserName   string
	CaseID     string
	ChannelKey string
	Since      time.Time
}

// FeatureImage points at the stored feature image of a case.
type FeatureImage struct {
	CaseID      string
	ObjectKey   string
	ContentType string
	UpdatedAt   time.Time
}
