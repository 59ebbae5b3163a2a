package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

type httpEnv struct {
	*testEnv
	ts *httptest.Server
}

func newHTTPEnv(t *testing.T) *httpEnv {
	t.Helper()
	env := newTestEnv(t)
	srv := NewHTTPServer(env.service, "http://localhost:3000")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &httpEnv{testEnv: env, ts: ts}
}

func (e *httpEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var payload map[string]any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("decode response %q: %v", raw, err)
		}
	}
	return resp, payload
}

// signUp registers a fresh account over the wire and returns its access token.
func (e *httpEnv) signUp(t *testing.T, name, email string) string {
	t.Helper()
	resp, payload := e.do(t, http.MethodPost, "/auth/signup", "", map[string]any{
		"email":        email,
		"password":     "correct horse",
		"display_name": name,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d, body %v", resp.StatusCode, payload)
	}
	return payload["token"].(string)
}

func TestHealthAndReady(t *testing.T) {
	env := newHTTPEnv(t)

	resp, payload := env.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK || payload["ok"] != true {
		t.Errorf("health = %d %v, want 200 ok", resp.StatusCode, payload)
	}

	resp, payload = env.do(t, http.MethodGet, "/ready", "", nil)
	if resp.StatusCode != http.StatusOK || payload["status"] != "ready" {
		t.Errorf("ready = %d %v, want 200 ready", resp.StatusCode, payload)
	}
}

func TestPatchIsRejected(t *testing.T) {
	env := newHTTPEnv(t)

	resp, payload := env.do(t, http.MethodPatch, "/cases/cs_1", "", map[string]any{"name": "x"})
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
	if payload["code"] != "METHOD_NOT_ALLOWED" {
		t.Errorf("code = %v, want METHOD_NOT_ALLOWED", payload["code"])
	}
}

func TestSignUpConflictOnDuplicateEmail(t *testing.T) {
	env := newHTTPEnv(t)
	env.signUp(t, "Olive", "olive@example.com")

	resp, payload := env.do(t, http.MethodPost, "/auth/signup", "", map[string]any{
		"email":        "olive@example.com",
		"password":     "another pass",
		"display_name": "Olive Again",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
	if payload["code"] != "EMAIL_EXISTS" {
		t.Errorf("code = %v, want EMAIL_EXISTS", payload["code"])
	}
}

func TestSignInAndBadPassword(t *testing.T) {
	env := newHTTPEnv(t)
	env.signUp(t, "Olive", "olive@example.com")

	resp, payload := env.do(t, http.MethodPost, "/auth/signin", "", map[string]any{
		"email":    "olive@example.com",
		"password": "correct horse",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin status = %d, body %v", resp.StatusCode, payload)
	}
	user := payload["user"].(map[string]any)
	if user["email"] != "olive@example.com" || user["name"] != "Olive" {
		t.Errorf("user = %v", user)
	}

	resp, payload = env.do(t, http.MethodPost, "/auth/signin", "", map[string]any{
		"email":    "olive@example.com",
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized || payload["code"] != "INVALID_CREDENTIALS" {
		t.Errorf("bad password = %d %v, want 401 INVALID_CREDENTIALS", resp.StatusCode, payload)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newHTTPEnv(t)
	resp, payload := env.do(t, http.MethodPost, "/auth/signup", "", map[string]any{
		"email":        "olive@example.com",
		"password":     "correct horse",
		"display_name": "Olive",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup: %d %v", resp.StatusCode, payload)
	}
	refresh := payload["refresh_token"].(string)

	resp, rotated := env.do(t, http.MethodPost, "/auth/refresh", "", map[string]any{"refresh_token": refresh})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d, body %v", resp.StatusCode, rotated)
	}
	if rotated["refresh_token"] == refresh {
		t.Error("refresh token was not rotated")
	}

	resp, _ = env.do(t, http.MethodPost, "/auth/refresh", "", map[string]any{"refresh_token": refresh})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("reused refresh token status = %d, want 401", resp.StatusCode)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	env := newHTTPEnv(t)
	token := env.signUp(t, "Olive", "olive@example.com")

	resp, _ := env.do(t, http.MethodGet, "/cases", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pre-logout list status = %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/auth/logout", token, map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}

	resp, payload := env.do(t, http.MethodGet, "/cases", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("post-logout status = %d %v, want 401", resp.StatusCode, payload)
	}
}

func TestSessionEndpoint(t *testing.T) {
	env := newHTTPEnv(t)

	resp, payload := env.do(t, http.MethodGet, "/session", "", nil)
	if resp.StatusCode != http.StatusOK || payload["authenticated"] != false {
		t.Errorf("anonymous session = %d %v, want 200 unauthenticated", resp.StatusCode, payload)
	}

	token := env.signUp(t, "Olive", "olive@example.com")
	resp, payload = env.do(t, http.MethodGet, "/session", token, nil)
	if resp.StatusCode != http.StatusOK || payload["authenticated"] != true {
		t.Fatalf("session = %d %v, want authenticated", resp.StatusCode, payload)
	}
	user := payload["user"].(map[string]any)
	if user["name"] != "Olive" {
		t.Errorf("user = %v, want Olive", user)
	}
}

func TestRequiresAuthorization(t *testing.T) {
	env := newHTTPEnv(t)

	resp, payload := env.do(t, http.MethodGet, "/cases", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if payload["code"] != "UNAUTHORIZED" || payload["error"] != "Unauthorized" {
		t.Errorf("envelope = %v, want code and error fields", payload)
	}
}

func TestBearerSchemeAccepted(t *testing.T) {
	env := newHTTPEnv(t)
	token := env.signUp(t, "Olive", "olive@example.com")

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/cases", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Bearer scheme status = %d, want 200", resp.StatusCode)
	}
}

func TestCaseLifecycleOverHTTP(t *testing.T) {
	env := newHTTPEnv(t)
	token := env.signUp(t, "Olive", "olive@example.com")

	resp, created := env.do(t, http.MethodPost, "/cases", token, map[string]any{"name": "Pump Controller"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create case = %d %v", resp.StatusCode, created)
	}
	caseID := created["id"].(string)

	resp, listed := env.do(t, http.MethodGet, "/cases", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list cases = %d", resp.StatusCode)
	}
	cases := listed["cases"].([]any)
	if len(cases) != 1 {
		t.Fatalf("cases = %v, want one", cases)
	}

	resp, goal := env.do(t, http.MethodPost, "/goals", token, map[string]any{
		"short_description": "pump shuts down on overheat",
		"case_id":           caseID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create goal = %d %v", resp.StatusCode, goal)
	}
	if goal["name"] != "G1" {
		t.Errorf("goal name = %v, want G1", goal["name"])
	}

	resp, view := env.do(t, http.MethodGet, "/cases/"+caseID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get case = %d", resp.StatusCode)
	}
	goals := view["goals"].([]any)
	if len(goals) != 1 {
		t.Errorf("case view goals = %v, want one", goals)
	}

	resp, _ = env.do(t, http.MethodDelete, "/cases/"+caseID, token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete case = %d, want 204", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/cases/"+caseID, token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get deleted case = %d, want 404", resp.StatusCode)
	}
}

func TestDetachWithEmptyBody(t *testing.T) {
	env := newHTTPEnv(t)
	token := env.signUp(t, "Olive", "olive@example.com")

	_, created := env.do(t, http.MethodPost, "/cases", token, map[string]any{"name": "Pump Controller"})
	caseID := created["id"].(string)
	_, goal := env.do(t, http.MethodPost, "/goals", token, map[string]any{"short_description": "g", "case_id": caseID})
	resp, ctxNode := env.do(t, http.MethodPost, "/contexts", token, map[string]any{
		"short_description": "operating envelope",
		"goal_id":           goal["id"],
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create context = %d %v", resp.StatusCode, ctxNode)
	}

	path := fmt.Sprintf("/contexts/%s/detach", ctxNode["id"])
	resp, detached := env.do(t, http.MethodPost, path, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detach = %d %v, empty body must be accepted", resp.StatusCode, detached)
	}
	if detached["in_sandbox"] != true {
		t.Errorf("in_sandbox = %v, want true", detached["in_sandbox"])
	}
}

func TestStaleCaseUpdateReturnsConflict(t *testing.T) {
	env := newHTTPEnv(t)
	token := env.signUp(t, "Olive", "olive@example.com")

	_, created := env.do(t, http.MethodPost, "/cases", token, map[string]any{"name": "Pump Controller"})
	caseID := created["id"].(string)

	resp, _ := env.do(t, http.MethodPut, "/cases/"+caseID, token, map[string]any{"name": "Renamed", "version": 1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first update = %d", resp.StatusCode)
	}
	resp, payload := env.do(t, http.MethodPut, "/cases/"+caseID, token, map[string]any{"name": "Again", "version": 1})
	if resp.StatusCode != http.StatusConflict || payload["code"] != "CONFLICT" {
		t.Errorf("stale update = %d %v, want 409 CONFLICT", resp.StatusCode, payload)
	}
}

func TestPublishedSnapshotVisibleToOtherAccounts(t *testing.T) {
	env := newHTTPEnv(t)
	author := env.signUp(t, "Olive", "olive@example.com")
	reader := env.signUp(t, "Rex", "rex@example.com")

	_, created := env.do(t, http.MethodPost, "/cases", author, map[string]any{"name": "Pump Controller"})
	caseID := created["id"].(string)

	resp, published := env.do(t, http.MethodPost, "/cases/"+caseID+"/publish", author, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("publish = %d %v", resp.StatusCode, published)
	}
	snapshotID := published["id"].(string)

	// The reader has no permission on the case itself.
	resp, _ = env.do(t, http.MethodGet, "/cases/"+caseID, reader, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("case read by stranger = %d, want 403", resp.StatusCode)
	}

	resp, snap := env.do(t, http.MethodGet, "/published_cases/"+snapshotID, reader, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("snapshot read = %d %v, publication widens visibility", resp.StatusCode, snap)
	}
	if snap["case_name"] != "Pump Controller" {
		t.Errorf("case_name = %v", snap["case_name"])
	}
}

func TestCommentsOverHTTP(t *testing.T) {
	env := newHTTPEnv(t)
	token := env.signUp(t, "Olive", "olive@example.com")

	_, created := env.do(t, http.MethodPost, "/cases", token, map[string]any{"name": "Pump Controller"})
	caseID := created["id"].(string)

	// target_kind defaults to the case itself
	resp, comment := env.do(t, http.MethodPost, "/cases/"+caseID+"/comments", token, map[string]any{"content": "first"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create comment = %d %v", resp.StatusCode, comment)
	}
	if comment["target_kind"] != "case" || comment["target_id"] != caseID {
		t.Errorf("comment target = %v/%v, want case/%s", comment["target_kind"], comment["target_id"], caseID)
	}

	resp, listed := env.do(t, http.MethodGet, "/cases/"+caseID+"/comments", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list comments = %d", resp.StatusCode)
	}
	comments := listed["comments"].([]any)
	if len(comments) != 1 {
		t.Fatalf("comments = %v, want one", comments)
	}

	resp, _ = env.do(t, http.MethodDelete, fmt.Sprintf("/comments/%s", comment["id"]), token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete comment = %d, want 204", resp.StatusCode)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	env := newHTTPEnv(t)
	token := env.signUp(t, "Olive", "olive@example.com")

	resp, payload := env.do(t, http.MethodGet, "/widgets/w_1", token, nil)
	if resp.StatusCode != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Errorf("unknown route = %d %v, want 404 NOT_FOUND", resp.StatusCode, payload)
	}
}
