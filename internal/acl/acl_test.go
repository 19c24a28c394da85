package acl_test

import (
	"errors"
	"testing"

	"github.com/serroba/collab-core/internal/acl"
	"github.com/stretchr/testify/require"
)

func TestRole_Parsing(t *testing.T) {
	t.Parallel()

	for _, want := range []acl.Role{acl.Viewer, acl.Editor, acl.Owner} {
		got, ok := acl.ParseRole(want.String())
		require.True(t, ok)
		require.Equal(t, want, got)
	}

	if _, ok := acl.ParseRole("admin"); ok {
		t.Error("unknown role string must not parse")
	}
}

func TestMemoryStore_GrantRevoke(t *testing.T) {
	t.Parallel()

	store := acl.NewMemoryStore()
	require.NoError(t, store.Grant("f1", "alice", acl.Editor))
	require.NoError(t, store.Grant("f1", "alice", acl.Owner)) // replaces

	role, err := store.GetRole("f1", "alice")
	require.NoError(t, err)
	require.Equal(t, acl.Owner, role)

	require.NoError(t, store.Revoke("f1", "alice"))

	_, err = store.GetRole("f1", "alice")
	if !errors.Is(err, acl.ErrPermissionNotFound) {
		t.Errorf("expected ErrPermissionNotFound, got %v", err)
	}

	err = store.Revoke("f1", "alice")
	if !errors.Is(err, acl.ErrPermissionNotFound) {
		t.Errorf("revoking twice should report ErrPermissionNotFound, got %v", err)
	}
}

func TestChecker_UnrestrictedFile(t *testing.T) {
	t.Parallel()

	checker := acl.NewChecker(acl.NewMemoryStore())

	// No grants at all: anyone may edit and manage.
	ok, err := checker.CanEdit("alice", "f1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = checker.CanManage("alice", "f1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestChecker_RestrictedFile(t *testing.T) {
	t.Parallel()

	store := acl.NewMemoryStore()
	require.NoError(t, store.Grant("f1", "alice", acl.Owner))
	require.NoError(t, store.Grant("f1", "bob", acl.Editor))

	checker := acl.NewChecker(store)

	ok, err := checker.CanEdit("bob", "f1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = checker.CanManage("bob", "f1")
	require.NoError(t, err)
	require.False(t, ok)

	// Granted users exist, so everyone else falls back to viewer.
	ok, err = checker.CanEdit("carol", "f1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStore_ListPermissions(t *testing.T) {
	t.Parallel()

	store := acl.NewMemoryStore()
	require.NoError(t, store.Grant("f1", "alice", acl.Owner))
	require.NoError(t, store.Grant("f1", "bob", acl.Viewer))
	require.NoError(t, store.Grant("f2", "alice", acl.Editor))

	perms, err := store.ListPermissions("f1")
	require.NoError(t, err)
	require.Len(t, perms, 2)

	for _, p := range perms {
		if p.FileID != "f1" {
			t.Errorf("permission leaked from another file: %+v", p)
		}
	}
}
