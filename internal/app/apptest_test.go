package app

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"casemark/api/internal/authpw"
	"casemark/api/internal/casegraph"
	"casemark/api/internal/config"
	"casemark/api/internal/store"
	"casemark/api/internal/util"
)

// memStore is an in-memory double of the persistence layer. Graphs are shared
// with the service under test, so graph mutations persist the same way the
// relational store would make them persist.
type memStore struct {
	mu        sync.Mutex
	users     map[string]store.User
	groups    map[string]*store.Group
	cases     map[string]*store.Case
	comments  map[string]store.Comment
	snapshots map[string]store.PublishedSnapshot
	images    map[string]store.FeatureImage
	graphs    map[string]*casegraph.Graph
	revoked   map[string]bool
	refresh   map[string]store.User

	// claim ids carried by each SaveClaimSubtree call, root first
	claimSubtrees [][]string
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]store.User),
		groups:    make(map[string]*store.Group),
		cases:     make(map[string]*store.Case),
		comments:  make(map[string]store.Comment),
		snapshots: make(map[string]store.PublishedSnapshot),
		images:    make(map[string]store.FeatureImage),
		graphs:    make(map[string]*casegraph.Graph),
		revoked:   make(map[string]bool),
		refresh:   make(map[string]store.User),
	}
}

func (m *memStore) Ping(ctx context.Context) error { return nil }

// ── users and groups ──

func (m *memStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) CreateUser(ctx context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *memStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	m.users[userID] = user
	return nil
}

func (m *memStore) UserGroups(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0)
	for _, group := range m.groups {
		for _, member := range group.Members {
			if member == userID {
				ids = append(ids, group.ID)
				break
			}
		}
	}
	return ids, nil
}

func (m *memStore) CreateGroup(ctx context.Context, group store.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := group
	m.groups[group.ID] = &g
	return nil
}

func (m *memStore) GetGroupByName(ctx context.Context, name string) (store.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, group := range m.groups {
		if group.Name == name {
			return *group, nil
		}
	}
	return store.Group{}, sql.ErrNoRows
}

func (m *memStore) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	group, ok := m.groups[groupID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return append([]string(nil), group.Members...), nil
}

func (m *memStore) AddGroupMember(ctx context.Context, groupID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	group, ok := m.groups[groupID]
	if !ok {
		return sql.ErrNoRows
	}
	for _, member := range group.Members {
		if member == userID {
			return nil
		}
	}
	group.Members = append(group.Members, userID)
	return nil
}

func (m *memStore) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	group, ok := m.groups[groupID]
	if !ok {
		return sql.ErrNoRows
	}
	kept := group.Members[:0]
	for _, member := range group.Members {
		if member != userID {
			kept = append(kept, member)
		}
	}
	group.Members = kept
	return nil
}

// ── tokens ──

func (m *memStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = true
	return nil
}

func (m *memStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[jti], nil
}

func (m *memStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[tokenHash] = user
	return nil
}

func (m *memStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.refresh[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refresh, tokenHash)
	return nil
}

// ── cases ──

func (m *memStore) CreateCase(ctx context.Context, c store.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now
	m.cases[c.ID] = &c
	m.graphs[c.ID] = casegraph.New(c.ID)
	return nil
}

func (m *memStore) GetCase(ctx context.Context, caseID string) (store.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[caseID]
	if !ok {
		return store.Case{}, sql.ErrNoRows
	}
	return *c, nil
}

func (m *memStore) ListCases(ctx context.Context, userID string) ([]store.Case, error) {
	m.mu.Lock()
	groups := make(map[string]struct{})
	for _, group := range m.groups {
		for _, member := range group.Members {
			if member == userID {
				groups[group.ID] = struct{}{}
				break
			}
		}
	}
	out := make([]store.Case, 0)
	for _, c := range m.cases {
		if c.OwnerID == "" || c.OwnerID == userID || anyIn(groups, c.ViewGroups) ||
			anyIn(groups, c.ReviewGroups) || anyIn(groups, c.EditGroups) {
			out = append(out, *c)
		}
	}
	m.mu.Unlock()
	return out, nil
}

func anyIn(set map[string]struct{}, ids []string) bool {
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

func (m *memStore) UpdateCase(ctx context.Context, caseID, name, description, colorProfile string, expectedVersion int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[caseID]
	if !ok {
		return false, sql.ErrNoRows
	}
	if expectedVersion != 0 && expectedVersion != c.Version {
		return false, nil
	}
	c.Name = name
	c.Description = description
	c.ColorProfile = colorProfile
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memStore) TouchCase(ctx context.Context, caseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cases[caseID]; ok {
		c.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *memStore) MarkCasePublished(ctx context.Context, caseID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[caseID]
	if !ok {
		return sql.ErrNoRows
	}
	c.Published = true
	c.PublishedAt = &at
	return nil
}

// DeleteCase drops the case, its graph and its comments. Snapshots stay; the
// publication record outlives the case.
func (m *memStore) DeleteCase(ctx context.Context, caseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cases, caseID)
	delete(m.graphs, caseID)
	for id, comment := range m.comments {
		if comment.CaseID == caseID {
			delete(m.comments, id)
		}
	}
	return nil
}

func (m *memStore) SetCaseGroup(ctx context.Context, caseID, groupID, permission string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[caseID]
	if !ok {
		return sql.ErrNoRows
	}
	switch permission {
	case "view":
		c.ViewGroups = append(c.ViewGroups, groupID)
	case "review":
		c.ReviewGroups = append(c.ReviewGroups, groupID)
	case "edit":
		c.EditGroups = append(c.EditGroups, groupID)
	default:
		return fmt.Errorf("unknown permission %q", permission)
	}
	return nil
}

// ── comments ──

func (m *memStore) InsertComment(ctx context.Context, c store.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.CreatedAt = time.Now().UTC()
	if author, ok := m.users[c.AuthorID]; ok {
		c.AuthorName = author.DisplayName
	}
	m.comments[c.ID] = c
	return nil
}

func (m *memStore) ListComments(ctx context.Context, caseID string) ([]store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Comment, 0)
	for _, c := range m.comments {
		if c.CaseID == caseID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) GetComment(ctx context.Context, commentID string) (store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[commentID]
	if !ok {
		return store.Comment{}, sql.ErrNoRows
	}
	return c, nil
}

func (m *memStore) DeleteComment(ctx context.Context, commentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.comments, commentID)
	return nil
}

// ── snapshots and images ──

func (m *memStore) InsertSnapshot(ctx context.Context, snap store.PublishedSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.CreatedAt = time.Now().UTC()
	m.snapshots[snap.ID] = snap
	return nil
}

func (m *memStore) GetSnapshot(ctx context.Context, snapshotID string) (store.PublishedSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[snapshotID]
	if !ok {
		return store.PublishedSnapshot{}, sql.ErrNoRows
	}
	return snap, nil
}

func (m *memStore) ListSnapshots(ctx context.Context, caseID string) ([]store.PublishedSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.PublishedSnapshot, 0)
	for _, snap := range m.snapshots {
		if snap.CaseID == caseID {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (m *memStore) SaveFeatureImage(ctx context.Context, img store.FeatureImage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img.UpdatedAt = time.Now().UTC()
	m.images[img.CaseID] = img
	return nil
}

func (m *memStore) GetFeatureImage(ctx context.Context, caseID string) (store.FeatureImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[caseID]
	if !ok {
		return store.FeatureImage{}, sql.ErrNoRows
	}
	return img, nil
}

// ── graph elements ──

func (m *memStore) LoadCaseGraph(ctx context.Context, caseID string) (*casegraph.Graph, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.graphs[caseID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return g, nil
}

func (m *memStore) ElementCase(ctx context.Context, kind casegraph.Kind, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for caseID, g := range m.graphs {
		var ok bool
		switch kind {
		case casegraph.KindGoal:
			_, ok = g.Goals[id]
		case casegraph.KindContext:
			_, ok = g.Contexts[id]
		case casegraph.KindStrategy:
			_, ok = g.Strategies[id]
		case casegraph.KindPropertyClaim:
			_, ok = g.Claims[id]
		case casegraph.KindEvidence:
			_, ok = g.Evidence[id]
		}
		if ok {
			return caseID, nil
		}
	}
	return "", sql.ErrNoRows
}

func (m *memStore) InsertGoal(ctx context.Context, goal *casegraph.Goal) error {
	goal.Version = 1
	goal.CreatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) InsertContext(ctx context.Context, c *casegraph.Context) error {
	c.Version = 1
	c.CreatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) InsertStrategy(ctx context.Context, st *casegraph.Strategy) error {
	st.Version = 1
	st.CreatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) InsertClaim(ctx context.Context, c *casegraph.PropertyClaim) error {
	c.Version = 1
	c.CreatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) InsertEvidence(ctx context.Context, e *casegraph.Evidence) error {
	e.Version = 1
	e.CreatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) InsertEvidenceLink(ctx context.Context, evidenceID, claimID string) error {
	return nil
}

func (m *memStore) DeleteEvidenceLink(ctx context.Context, evidenceID, claimID string) error {
	return nil
}

func checkVersion(current *int64, expected int64) bool {
	if expected != 0 && expected != *current {
		return false
	}
	*current++
	return true
}

func (m *memStore) UpdateGoal(ctx context.Context, goal *casegraph.Goal, expectedVersion int64) (bool, error) {
	return checkVersion(&goal.Version, expectedVersion), nil
}

func (m *memStore) UpdateContext(ctx context.Context, c *casegraph.Context, expectedVersion int64) (bool, error) {
	return checkVersion(&c.Version, expectedVersion), nil
}

func (m *memStore) UpdateStrategy(ctx context.Context, st *casegraph.Strategy, expectedVersion int64) (bool, error) {
	return checkVersion(&st.Version, expectedVersion), nil
}

func (m *memStore) UpdateClaim(ctx context.Context, c *casegraph.PropertyClaim, expectedVersion int64) (bool, error) {
	return checkVersion(&c.Version, expectedVersion), nil
}

func (m *memStore) UpdateEvidence(ctx context.Context, e *casegraph.Evidence, expectedVersion int64) (bool, error) {
	return checkVersion(&e.Version, expectedVersion), nil
}

func (m *memStore) SaveContextAttachment(ctx context.Context, c *casegraph.Context) error {
	return nil
}

func (m *memStore) SaveStrategyAttachment(ctx context.Context, st *casegraph.Strategy) error {
	return nil
}

// SaveClaimSubtree records which claims each call carried so tests can assert
// a moved subtree is persisted in one write.
func (m *memStore) SaveClaimSubtree(ctx context.Context, root *casegraph.PropertyClaim, descendants []*casegraph.PropertyClaim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []string{root.ID}
	for _, c := range descendants {
		ids = append(ids, c.ID)
	}
	m.claimSubtrees = append(m.claimSubtrees, ids)
	return nil
}

func (m *memStore) ApplyRenames(ctx context.Context, renames []store.ElementRename) error {
	return nil
}

func (m *memStore) graphOf(id string, kind casegraph.Kind) (*casegraph.Graph, error) {
	caseID, err := m.ElementCase(context.Background(), kind, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graphs[caseID], nil
}

func (m *memStore) DeleteGoal(ctx context.Context, id string) error {
	g, err := m.graphOf(id, casegraph.KindGoal)
	if err != nil {
		return err
	}
	return g.DeleteGoal(id)
}

func (m *memStore) DeleteContext(ctx context.Context, id string) error {
	g, err := m.graphOf(id, casegraph.KindContext)
	if err != nil {
		return err
	}
	return g.DeleteContext(id)
}

func (m *memStore) DeleteStrategy(ctx context.Context, id string) error {
	g, err := m.graphOf(id, casegraph.KindStrategy)
	if err != nil {
		return err
	}
	return g.DeleteStrategy(id)
}

func (m *memStore) DeleteClaim(ctx context.Context, id string) error {
	g, err := m.graphOf(id, casegraph.KindPropertyClaim)
	if err != nil {
		return err
	}
	return g.DeleteClaim(id)
}

func (m *memStore) DeleteEvidence(ctx context.Context, id string) error {
	g, err := m.graphOf(id, casegraph.KindEvidence)
	if err != nil {
		return err
	}
	return g.DeleteEvidence(id)
}

// ── harness ──

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []any
}

func (b *recordingBroadcaster) Broadcast(caseID string, message any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, message)
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

type testEnv struct {
	store   *memStore
	service *Service
	events  *recordingBroadcaster
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := newMemStore()
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}
	svc := NewService(cfg, st, st, authpw.NewService(st))
	events := &recordingBroadcaster{}
	svc.SetBroadcaster(events)
	return &testEnv{store: st, service: svc, events: events}
}

// addUser inserts a user directly; password is only hashed when sign-in tests
// need it.
func (e *testEnv) addUser(t *testing.T, name, email, password string) store.User {
	t.Helper()
	user := store.User{ID: util.NewID("usr"), DisplayName: name, Email: email}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		user.PasswordHash = string(hash)
	}
	if err := e.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func (e *testEnv) sessionFor(user store.User) Session {
	return Session{UserID: user.ID, UserName: user.DisplayName, Email: user.Email}
}

func (e *testEnv) mustCreateCase(t *testing.T, session Session, name string) string {
	t.Helper()
	payload, err := e.service.CreateCase(context.Background(), session, name, "", "")
	if err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}
	return payload["id"].(string)
}

func (e *testEnv) mustCreateGoal(t *testing.T, session Session, caseID string) map[string]any {
	t.Helper()
	payload, err := e.service.CreateGoal(context.Background(), session, NodeInput{
		ShortDesc: "top level goal",
		CaseID:    caseID,
	})
	if err != nil {
		t.Fatalf("CreateGoal() error = %v", err)
	}
	return payload
}

func domainCode(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	domainErr, ok := err.(*DomainError)
	if !ok {
		t.Fatalf("expected DomainError, got %T: %v", err, err)
	}
	return domainErr.Code
}
