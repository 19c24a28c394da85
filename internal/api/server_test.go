package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/serroba/collab-core/internal/acl"
	"github.com/serroba/collab-core/internal/activity"
	"github.com/serroba/collab-core/internal/api"
	"github.com/serroba/collab-core/internal/conflict"
	"github.com/serroba/collab-core/internal/lock"
	"github.com/serroba/collab-core/internal/presence"
	"github.com/serroba/collab-core/internal/session"
	"github.com/serroba/collab-core/internal/storage"
	"github.com/serroba/collab-core/internal/ws"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server    *api.Server
	handler   http.Handler
	store     *storage.MemoryStore
	permStore *acl.MemoryStore
	recorder  *activity.Recorder
	registry  *session.Registry
	hub       *ws.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := storage.NewMemoryStore()
	permStore := acl.NewMemoryStore()
	hub := ws.NewHub()

	recorder := activity.NewRecorder(activity.RecorderConfig{
		Store:     activity.NewMemoryStore(),
		Broadcast: hub,
	})

	registry := session.NewRegistry(session.RegistryConfig{
		Store:       store,
		Perms:       acl.NewChecker(permStore),
		Resolver:    conflict.NewResolver(conflict.ResolverConfig{}),
		Broadcast:   hub,
		GracePeriod: 50 * time.Millisecond,
	})

	server := api.NewServer(api.ServerConfig{
		Registry:       registry,
		Directory:      presence.NewDirectory(),
		Locks:          lock.NewManager(lock.ManagerConfig{}),
		Recorder:       recorder,
		Hub:            hub,
		PermStore:      permStore,
		DefaultLockTTL: time.Minute,
	})

	return &testEnv{
		server:    server,
		handler:   server.Handler(),
		store:     store,
		permStore: permStore,
		recorder:  recorder,
		registry:  registry,
		hub:       hub,
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestEndpointsRequireAuth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	for _, path := range []string{"/projects/p1/activity", "/files/f1/permissions", "/ws"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()

		env.handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 for %s without identity, got %d", path, rec.Code)
		}
	}
}

func TestActivityEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	env.recorder.Record("p1", "alice", presence.ProjectAndFile("f1"),
		activity.TypeFileEdit, "Alice edited the file", nil)
	env.recorder.Record("p1", "bob", presence.ProjectOnly(),
		activity.TypeUserJoin, "Bob joined the project", nil)

	req := httptest.NewRequest(http.MethodGet, "/projects/p1/activity?limit=10", nil)
	req.Header.Set("X-User-Id", "alice")

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ProjectID  string          `json:"projectId"`
		Activities []activity.Item `json:"activities"`
	}

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "p1", body.ProjectID)
	require.Len(t, body.Activities, 2)

	// Newest first.
	if body.Activities[0].Activity != activity.TypeUserJoin {
		t.Errorf("expected newest item first, got %q", body.Activities[0].Activity)
	}
}

func TestGrantPermission(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	// No grants yet, so anyone can manage; alice takes ownership.
	rec := postJSON(t, env.handler, "/files/f1/permissions", "alice",
		`{"userId":"alice","role":"owner"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Bob is now a viewer by default and cannot grant.
	rec = postJSON(t, env.handler, "/files/f1/permissions", "bob",
		`{"userId":"bob","role":"editor"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Alice grants bob editor.
	rec = postJSON(t, env.handler, "/files/f1/permissions", "alice",
		`{"userId":"bob","role":"editor"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	role, err := env.permStore.GetRole("f1", "bob")
	require.NoError(t, err)
	require.Equal(t, acl.Editor, role)
}

func TestGrantPermission_InvalidRole(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := postJSON(t, env.handler, "/files/f1/permissions", "alice",
		`{"userId":"bob","role":"superuser"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPermissions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	require.NoError(t, env.permStore.Grant("f1", "alice", acl.Owner))

	req := httptest.NewRequest(http.MethodGet, "/files/f1/permissions", nil)
	req.Header.Set("X-User-Id", "alice")

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"owner"`)
}

func postJSON(t *testing.T, handler http.Handler, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("X-User-Id", userID)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}
