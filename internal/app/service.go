package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"casemark/api/internal/auth"
	"casemark/api/internal/authpw"
	"casemark/api/internal/casegraph"
	"casemark/api/internal/config"
	"casemark/api/internal/permissions"
	"casemark/api/internal/store"
	"casemark/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the slice of the persistence layer the service depends on.
type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(ctx context.Context, id string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	UserGroups(ctx context.Context, userID string) ([]string, error)

	CreateGroup(ctx context.Context, group store.Group) error
	GetGroupByName(ctx context.Context, name string) (store.Group, error)
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
	AddGroupMember(ctx context.Context, groupID, userID string) error
	RemoveGroupMember(ctx context.Context, groupID, userID string) error

	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	CreateCase(ctx context.Context, c store.Case) error
	GetCase(ctx context.Context, caseID string) (store.Case, error)
	ListCases(ctx context.Context, userID string) ([]store.Case, error)
	UpdateCase(ctx context.Context, caseID, name, description, colorProfile string, expectedVersion int64) (bool, error)
	TouchCase(ctx context.Context, caseID string) error
	MarkCasePublished(ctx context.Context, caseID string, at time.Time) error
	DeleteCase(ctx context.Context, caseID string) error
	SetCaseGroup(ctx context.Context, caseID, groupID, permission string) error

	InsertComment(ctx context.Context, c store.Comment) error
	ListComments(ctx context.Context, caseID string) ([]store.Comment, error)
	GetComment(ctx context.Context, commentID string) (store.Comment, error)
	DeleteComment(ctx context.Context, commentID string) error

	InsertSnapshot(ctx context.Context, snap store.PublishedSnapshot) error
	GetSnapshot(ctx context.Context, snapshotID string) (store.PublishedSnapshot, error)
	ListSnapshots(ctx context.Context, caseID string) ([]store.PublishedSnapshot, error)

	SaveFeatureImage(ctx context.Context, img store.FeatureImage) error
	GetFeatureImage(ctx context.Context, caseID string) (store.FeatureImage, error)

	LoadCaseGraph(ctx context.Context, caseID string) (*casegraph.Graph, error)
	ElementCase(ctx context.Context, kind casegraph.Kind, id string) (string, error)
	InsertGoal(ctx context.Context, goal *casegraph.Goal) error
	InsertContext(ctx context.Context, c *casegraph.Context) error
	InsertStrategy(ctx context.Context, st *casegraph.Strategy) error
	InsertClaim(ctx context.Context, c *casegraph.PropertyClaim) error
	InsertEvidence(ctx context.Context, e *casegraph.Evidence) error
	InsertEvidenceLink(ctx context.Context, evidenceID, claimID string) error
	DeleteEvidenceLink(ctx context.Context, evidenceID, claimID string) error
	UpdateGoal(ctx context.Context, goal *casegraph.Goal, expectedVersion int64) (bool, error)
	UpdateContext(ctx context.Context, c *casegraph.Context, expectedVersion int64) (bool, error)
	UpdateStrategy(ctx context.Context, st *casegraph.Strategy, expectedVersion int64) (bool, error)
	UpdateClaim(ctx context.Context, c *casegraph.PropertyClaim, expectedVersion int64) (bool, error)
	UpdateEvidence(ctx context.Context, e *casegraph.Evidence, expectedVersion int64) (bool, error)
	SaveContextAttachment(ctx context.Context, c *casegraph.Context) error
	SaveStrategyAttachment(ctx context.Context, st *casegraph.Strategy) error
	SaveClaimSubtree(ctx context.Context, root *casegraph.PropertyClaim, descendants []*casegraph.PropertyClaim) error
	ApplyRenames(ctx context.Context, renames []store.ElementRename) error
	DeleteGoal(ctx context.Context, id string) error
	DeleteContext(ctx context.Context, id string) error
	DeleteStrategy(ctx context.Context, id string) error
	DeleteClaim(ctx context.Context, id string) error
	DeleteEvidence(ctx context.Context, id string) error
}

// sessionStore keeps refresh tokens; the production backend is Redis.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// Broadcaster fans a message out to every live subscriber of a case topic.
type Broadcaster interface {
	Broadcast(caseID string, message any)
}

// Indexer mirrors cases into the search backend. Optional.
type Indexer interface {
	IndexCase(ctx context.Context, c store.Case) error
	DeindexCase(ctx context.Context, caseID string) error
}

// Publisher records published snapshots outside the relational store. Optional.
type Publisher interface {
	CommitSnapshot(ctx context.Context, caseID, snapshotID string, tree []byte) (string, error)
	History(ctx context.Context, caseID string) ([]map[string]any, error)
}

// Notifier delivers share notifications. Optional.
type Notifier interface {
	NotifyShared(ctx context.Context, toEmail, caseName, byName string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service

	broadcaster Broadcaster
	indexer     Indexer
	publisher   Publisher
	notifier    Notifier
	searcher    Searcher
	exporter    Exporter
	images      ImageStore

	lockMu sync.Mutex
	locks  map[string]*sync.RWMutex
}

func NewService(cfg config.Config, st dataStore, sessions sessionStore, pw *authpw.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		authpw:   pw,
		locks:    make(map[string]*sync.RWMutex),
	}
}

func (s *Service) SetBroadcaster(b Broadcaster) { s.broadcaster = b }
func (s *Service) SetIndexer(i Indexer)         { s.indexer = i }
func (s *Service) SetPublisher(p Publisher)     { s.publisher = p }
func (s *Service) SetNotifier(n Notifier)       { s.notifier = n }

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// caseLock returns the lock serializing access to one case: mutations take it
// exclusively, graph reads take it shared so they never observe a half-applied
// mutation across the store's separate queries.
func (s *Service) caseLock(caseID string) *sync.RWMutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	mu, ok := s.locks[caseID]
	if !ok {
		mu = &sync.RWMutex{}
		s.locks[caseID] = mu
	}
	return mu
}

// ── sessions ──

func (s *Service) CreateSession(ctx context.Context, user store.User) (Session, error) {
	jti := randomToken(8)
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue access token: %w", err)
	}

	refreshToken := randomToken(32)
	refreshExpiry := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user, refreshExpiry); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Refresh rotates the refresh token and issues a fresh access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	hash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, errUnauthorized()
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, fmt.Errorf("rotate refresh session: %w", err)
	}
	return s.CreateSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			return fmt.Errorf("revoke access token: %w", err)
		}
	}
	return nil
}

// ── access gate ──

// caseACL loads the case and resolves the caller's permission level on it.
// An unknown case id surfaces as NotFound before any permission distinction.
func (s *Service) caseACL(ctx context.Context, session Session, caseID string) (store.Case, permissions.Level, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return store.Case{}, permissions.LevelNone, storeError(err)
	}
	groups, err := s.store.UserGroups(ctx, session.UserID)
	if err != nil {
		return store.Case{}, permissions.LevelNone, fmt.Errorf("load user groups: %w", err)
	}
	level := permissions.Resolve(session.UserID, groups, permissions.CaseACL{
		OwnerID:      c.OwnerID,
		ViewGroups:   c.ViewGroups,
		ReviewGroups: c.ReviewGroups,
		EditGroups:   c.EditGroups,
	})
	return c, level, nil
}

func (s *Service) requireCase(ctx context.Context, session Session, caseID string, check func(permissions.Level) bool) (store.Case, error) {
	c, level, err := s.caseACL(ctx, session, caseID)
	if err != nil {
		return store.Case{}, err
	}
	if !check(level) {
		return store.Case{}, errForbidden()
	}
	return c, nil
}

// CanReadCase is the admission check used by the realtime subscription layer.
func (s *Service) CanReadCase(ctx context.Context, session Session, caseID string) error {
	_, err := s.requireCase(ctx, session, caseID, permissions.CanRead)
	return err
}

// ── cases ──

type CaseFilter struct {
	Owner  bool
	View   bool
	Edit   bool
	Review bool
}

func (f CaseFilter) active() bool { return f.Owner || f.View || f.Edit || f.Review }

func (f CaseFilter) admits(level permissions.Level) bool {
	switch {
	case f.Owner && level == permissions.LevelOwner:
		return true
	case f.Edit && level == permissions.LevelEdit:
		return true
	case f.Review && level == permissions.LevelReview:
		return true
	case f.View && level == permissions.LevelView:
		return true
	}
	return false
}

func (s *Service) ListCases(ctx context.Context, session Session, filter CaseFilter) ([]map[string]any, error) {
	cases, err := s.store.ListCases(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	groups, err := s.store.UserGroups(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user groups: %w", err)
	}

	items := make([]map[string]any, 0, len(cases))
	for _, c := range cases {
		if filter.active() {
			// group lists are only loaded per case when filtering needs them
			full, err := s.store.GetCase(ctx, c.ID)
			if err != nil {
				return nil, storeError(err)
			}
			level := permissions.Resolve(session.UserID, groups, permissions.CaseACL{
				OwnerID:      full.OwnerID,
				ViewGroups:   full.ViewGroups,
				ReviewGroups: full.ReviewGroups,
				EditGroups:   full.EditGroups,
			})
			if !filter.admits(level) {
				continue
			}
		}
		items = append(items, caseSummaryJSON(c))
	}
	return items, nil
}

func (s *Service) CreateCase(ctx context.Context, session Session, name, description, colorProfile string) (map[string]any, error) {
	if name == "" {
		return nil, errValidation("name is required", map[string]any{"name": "required"})
	}
	if colorProfile == "" {
		colorProfile = "default"
	}
	c := store.Case{
		ID:           util.NewID("cs"),
		Name:         name,
		Description:  description,
		OwnerID:      session.UserID,
		ColorProfile: colorProfile,
	}
	if err := s.store.CreateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("create case: %w", err)
	}
	created, err := s.store.GetCase(ctx, c.ID)
	if err != nil {
		return nil, storeError(err)
	}
	if s.indexer != nil {
		_ = s.indexer.IndexCase(ctx, created)
	}
	return caseSummaryJSON(created), nil
}

// GetCaseView returns the fully assembled nested tree plus the sandbox lists.
func (s *Service) GetCaseView(ctx context.Context, session Session, caseID string) (map[string]any, error) {
	c, err := s.requireCase(ctx, session, caseID, permissions.CanRead)
	if err != nil {
		return nil, err
	}

	mu := s.caseLock(caseID)
	mu.RLock()
	defer mu.RUnlock()

	g, err := s.store.LoadCaseGraph(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case graph: %w", err)
	}
	return assembleCase(c, g), nil
}

func (s *Service) GetCaseSandbox(ctx context.Context, session Session, caseID string) (map[string]any, error) {
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
	return assembleSandbox(g), nil
}

type CasePatch struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	ColorProfile *string `json:"color_profile"`
	Version      int64   `json:"version"`
}

func (s *Service) UpdateCase(ctx context.Context, session Session, caseID string, patch CasePatch) (map[string]any, error) {
	c, err := s.requireCase(ctx, session, caseID, permissions.CanWrite)
	if err != nil {
		return nil, err
	}

	mu := s.caseLock(caseID)
	mu.Lock()
	defer mu.Unlock()

	name := c.Name
	if patch.Name != nil {
		name = *patch.Name
	}
	if name == "" {
		return nil, errValidation("name is required", map[string]any{"name": "required"})
	}
	description := c.Description
	if patch.Description != nil {
		description = *patch.Description
	}
	colorProfile := c.ColorProfile
	if patch.ColorProfile != nil {
		colorProfile = *patch.ColorProfile
	}

	changed, err := s.store.UpdateCase(ctx, caseID, name, description, colorProfile, patch.Version)
	if err != nil {
		return nil, fmt.Errorf("update case: %w", err)
	}
	if !changed {
		return nil, errConflict("case was modified by someone else")
	}

	updated, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, storeError(err)
	}
	if s.indexer != nil {
		_ = s.indexer.IndexCase(ctx, updated)
	}
	s.emitChange(caseID, session, "case_updated", map[string]any{"case_id": caseID})
	return caseSummaryJSON(updated), nil
}

func (s *Service) DeleteCase(ctx context.Context, session Session, caseID string) error {
	if _, err := s.requireCase(ctx, session, caseID, permissions.CanDelete); err != nil {
		return err
	}

	mu := s.caseLock(caseID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.store.DeleteCase(ctx, caseID); err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	if s.indexer != nil {
		_ = s.indexer.DeindexCase(ctx, caseID)
	}
	s.emitChange(caseID, session, "case_deleted", map[string]any{"case_id": caseID})
	return nil
}

// ReassignIdentifiers runs the re-identification pass over the whole case and
// persists every rename in one transaction.
func (s *Service) ReassignIdentifiers(ctx context.Context, session Session, caseID string) (map[string]any, error) {
	c, err := s.requireCase(ctx, session, caseID, permissions.CanWrite)
	if err != nil {
		return nil, err
	}

	mu := s.caseLock(caseID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.store.LoadCaseGraph(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case graph: %w", err)
	}

	before := elementNames(g)
	g.ReassignIdentifiers()

	renames := make([]store.ElementRename, 0)
	for key, name := range elementNames(g) {
		if before[key] != name {
			renames = append(renames, store.ElementRename{Kind: key.kind, ID: key.id, Name: name})
		}
	}
	if len(renames) > 0 {
		if err := s.store.ApplyRenames(ctx, renames); err != nil {
			return nil, fmt.Errorf("apply renames: %w", err)
		}
		_ = s.store.TouchCase(ctx, caseID)
		s.emitChange(caseID, session, "identifiers_reassigned", map[string]any{"case_id": caseID, "renamed": len(renames)})
	}
	return assembleCase(c, g), nil
}

type nameKey struct {
	kind casegraph.Kind
	id   string
}

func elementNames(g *casegraph.Graph) map[nameKey]string {
	names := make(map[nameKey]string)
	for id, goal := range g.Goals {
		names[nameKey{casegraph.KindGoal, id}] = goal.Name
	}
	for id, c := range g.Contexts {
		names[nameKey{casegraph.KindContext, id}] = c.Name
	}
	for id, st := range g.Strategies {
		names[nameKey{casegraph.KindStrategy, id}] = st.Name
	}
	for id, c := range g.Claims {
		names[nameKey{casegraph.KindPropertyClaim, id}] = c.Name
	}
	for id, e := range g.Evidence {
		names[nameKey{casegraph.KindEvidence, id}] = e.Name
	}
	return names
}

// ── sharing ──

type ShareRequest struct {
	Email  string `json:"email"`
	View   *bool  `json:"view"`
	Edit   *bool  `json:"edit"`
	Review *bool  `json:"review"`
}

// ShareWith applies a batch of share requests. Each permission type has one
// canonical group per case, created on first use and owned by the case owner.
func (s *Service) ShareWith(ctx context.Context, session Session, caseID string, batch []ShareRequest) (map[string]any, error) {
	c, err := s.requireCase(ctx, session, caseID, permissions.CanShare)
	if err != nil {
		return nil, err
	}

	owner, err := s.store.GetUserByID(ctx, ownerOrSelf(c, session))
	if err != nil {
		return nil, storeError(err)
	}

	for _, req := range batch {
		if req.Email == "" {
			return nil, errValidation("email is required on every share entry", nil)
		}
		target, err := s.store.GetUserByEmail(ctx, req.Email)
		if err != nil {
			if store.IsNotFound(err) {
				return nil, errValidation(fmt.Sprintf("no account for %s", req.Email), map[string]any{"email": req.Email})
			}
			return nil, err
		}

		shared := false
		for kind, want := range map[permissions.ShareKind]*bool{
			permissions.ShareView:   req.View,
			permissions.ShareEdit:   req.Edit,
			permissions.ShareReview: req.Review,
		} {
			if want == nil {
				continue
			}
			group, err := s.ensureShareGroup(ctx, owner, c.ID, kind)
			if err != nil {
				return nil, err
			}
			if *want {
				if err := s.store.AddGroupMember(ctx, group.ID, target.ID); err != nil {
					return nil, fmt.Errorf("add group member: %w", err)
				}
				shared = true
			} else {
				if err := s.store.RemoveGroupMember(ctx, group.ID, target.ID); err != nil {
					return nil, fmt.Errorf("remove group member: %w", err)
				}
			}
		}
		if shared && s.notifier != nil {
			_ = s.notifier.NotifyShared(ctx, target.Email, c.Name, session.UserName)
		}
	}
	return s.ShareState(ctx, session, caseID)
}

// ShareState lists the members of each canonical share group.
func (s *Service) ShareState(ctx context.Context, session Session, caseID string) (map[string]any, error) {
	c, err := s.requireCase(ctx, session, caseID, permissions.CanShare)
	if err != nil {
		return nil, err
	}
	owner, err := s.store.GetUserByID(ctx, ownerOrSelf(c, session))
	if err != nil {
		return nil, storeError(err)
	}

	state := make(map[string]any, 3)
	for _, kind := range []permissions.ShareKind{permissions.ShareView, permissions.ShareReview, permissions.ShareEdit} {
		members := make([]map[string]any, 0)
		group, err := s.store.GetGroupByName(ctx, permissions.CanonicalGroupName(owner.DisplayName, caseID, kind))
		if err == nil {
			for _, userID := range group.Members {
				user, err := s.store.GetUserByID(ctx, userID)
				if err != nil {
					continue
				}
				members = append(members, map[string]any{"id": user.ID, "email": user.Email, "name": user.DisplayName})
			}
		} else if !store.IsNotFound(err) {
			return nil, err
		}
		state[string(kind)] = members
	}
	return state, nil
}

func (s *Service) ensureShareGroup(ctx context.Context, owner store.User, caseID string, kind permissions.ShareKind) (store.Group, error) {
	name := permissions.CanonicalGroupName(owner.DisplayName, caseID, kind)
	group, err := s.store.GetGroupByName(ctx, name)
	if err == nil {
		return group, nil
	}
	if !store.IsNotFound(err) {
		return store.Group{}, err
	}
	group = store.Group{ID: util.NewID("grp"), Name: name, OwnerID: owner.ID}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return store.Group{}, fmt.Errorf("create share group: %w", err)
	}
	if err := s.store.SetCaseGroup(ctx, caseID, group.ID, string(kind)); err != nil {
		return store.Group{}, fmt.Errorf("bind share group: %w", err)
	}
	return group, nil
}

// ownerOrSelf handles legacy ownerless cases, where the acting owner stands in.
func ownerOrSelf(c store.Case, session Session) string {
	if c.OwnerID != "" {
		return c.OwnerID
	}
	return session.UserID
}

// ── publishing ──

// PublishCase snapshots the assembled tree into an immutable record. Later
// edits to the case never touch the snapshot.
func (s *Service) PublishCase(ctx context.Context, session Session, caseID string) (map[string]any, error) {
	c, err := s.requireCase(ctx, session, caseID, permissions.CanWrite)
	if err != nil {
		return nil, err
	}

	mu := s.caseLock(caseID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.store.LoadCaseGraph(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case graph: %w", err)
	}
	tree, err := json.Marshal(assembleCase(c, g))
	if err != nil {
		return nil, fmt.Errorf("serialize case tree: %w", err)
	}

	snap := store.PublishedSnapshot{
		ID:        util.NewID("pub"),
		CaseID:    caseID,
		CaseName:  c.Name,
		Tree:      tree,
		CreatedBy: session.UserID,
	}
	if err := s.store.InsertSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}
	publishedAt := time.Now().UTC()
	if err := s.store.MarkCasePublished(ctx, caseID, publishedAt); err != nil {
		return nil, fmt.Errorf("mark case published: %w", err)
	}

	commit := ""
	if s.publisher != nil {
		if hash, err := s.publisher.CommitSnapshot(ctx, caseID, snap.ID, tree); err == nil {
			commit = hash
		}
	}

	s.emitChange(caseID, session, "case_published", map[string]any{"case_id": caseID, "snapshot_id": snap.ID})
	payload := map[string]any{
		"id":           snap.ID,
		"case_id":      caseID,
		"case_name":    c.Name,
		"published_at": publishedAt.Format(time.RFC3339),
	}
	if commit != "" {
		payload["commit"] = commit
	}
	return payload, nil
}

func (s *Service) GetSnapshot(ctx context.Context, snapshotID string) (map[string]any, error) {
	snap, err := s.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, storeError(err)
	}
	return map[string]any{
		"id":         snap.ID,
		"case_id":    snap.CaseID,
		"case_name":  snap.CaseName,
		"tree":       snap.Tree,
		"created_by": snap.CreatedBy,
		"created_at": snap.CreatedAt.UTC().Format(time.RFC3339),
	}, nil
}

func (s *Service) ListSnapshots(ctx context.Context, session Session, caseID string) ([]map[string]any, error) {
	if _, err := s.requireCase(ctx, session, caseID, permissions.CanRead); err != nil {
		return nil, err
	}
	snaps, err := s.store.ListSnapshots(ctx, caseID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(snaps))
	for _, snap := range snaps {
		items = append(items, map[string]any{
			"id":         snap.ID,
			"case_id":    snap.CaseID,
			"case_name":  snap.CaseName,
			"created_by": snap.CreatedBy,
			"created_at": snap.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return items, nil
}

func (s *Service) PublishHistory(ctx context.Context, session Session, caseID string) ([]map[string]any, error) {
	if _, err := s.requireCase(ctx, session, caseID, permissions.CanRead); err != nil {
		return nil, err
	}
	if s.publisher == nil {
		return []map[string]any{}, nil
	}
	return s.publisher.History(ctx, caseID)
}

// ── comments ──

var commentTargets = map[string]struct{}{
	"case": {}, "goal": {}, "context": {}, "strategy": {}, "property_claim": {}, "evidence": {},
}

func (s *Service) CreateComment(ctx context.Context, session Session, caseID, targetKind, targetID, content string) (map[string]any, error) {
	if _, err := s.requireCase(ctx, session, caseID, permissions.CanComment); err != nil {
		return nil, err
	}
	if content == "" {
		return nil, errValidation("content is required", map[string]any{"content": "required"})
	}
	if _, ok := commentTargets[targetKind]; !ok {
		return nil, errValidation("unknown comment target kind", map[string]any{"target_kind": targetKind})
	}
	if targetKind == "case" {
		targetID = caseID
	} else {
		elementCase, err := s.store.ElementCase(ctx, casegraph.Kind(targetKind), targetID)
		if err != nil {
			return nil, storeError(err)
		}
		if elementCase != caseID {
			return nil, errInvariant("comment target belongs to a different case")
		}
	}

	c := store.Comment{
		ID:         util.NewID("cm"),
		CaseID:     caseID,
		AuthorID:   session.UserID,
		TargetKind: targetKind,
		TargetID:   targetID,
		Content:    content,
	}
	if err := s.store.InsertComment(ctx, c); err != nil {
		return nil, fmt.Errorf("insert comment: %w", err)
	}
	s.emitChange(caseID, session, "comment_created", map[string]any{"comment_id": c.ID, "target_kind": targetKind, "target_id": targetID})
	return map[string]any{"id": c.ID, "case_id": caseID, "target_kind": targetKind, "target_id": targetID, "content": content}, nil
}

func (s *Service) ListCaseComments(ctx context.Context, session Session, caseID string) ([]map[string]any, error) {
	if _, err := s.requireCase(ctx, session, caseID, permissions.CanRead); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, caseID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(comments))
	for _, c := range comments {
		items = append(items, map[string]any{
			"id":          c.ID,
			"case_id":     c.CaseID,
			"author_id":   c.AuthorID,
			"author_name": c.AuthorName,
			"target_kind": c.TargetKind,
			"target_id":   c.TargetID,
			"content":     c.Content,
			"created_at":  c.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return items, nil
}

// DeleteComment allows the author or the case owner to remove a comment.
func (s *Service) DeleteComment(ctx context.Context, session Session, commentID string) error {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return storeError(err)
	}
	_, level, err := s.caseACL(ctx, session, comment.CaseID)
	if err != nil {
		return err
	}
	if comment.AuthorID != session.UserID && level != permissions.LevelOwner {
		return errForbidden()
	}
	if err := s.store.DeleteComment(ctx, commentID); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	s.emitChange(comment.CaseID, session, "comment_deleted", map[string]any{"comment_id": commentID})
	return nil
}

// ── change events ──

// emitChange publishes a mutation to the case topic after commit. Best effort;
// delivery failures never fail the mutation.
func (s *Service) emitChange(caseID string, origin Session, kind string, payload map[string]any) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Broadcast(caseID, map[string]any{
		"type":     "case_message",
		"content":  map[string]any{"event": kind, "payload": payload},
		"username": origin.UserName,
		"id":       origin.UserID,
		"datetime": time.Now().UTC().Format(time.RFC3339),
	})
}

func randomToken(size int) string {
	buf := make([]byte, size)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
