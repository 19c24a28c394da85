package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/serroba/collab-core/internal/ot"
	"github.com/serroba/collab-core/internal/session"
	"github.com/serroba/collab-core/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetOrCreateReusesSession(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry(session.RegistryConfig{
		Store:       storage.NewMemoryStore(),
		GracePeriod: time.Minute,
	})

	a, err := reg.GetOrCreate("f1")
	require.NoError(t, err)

	b, err := reg.GetOrCreate("f1")
	require.NoError(t, err)
	require.Same(t, a, b)

	other, err := reg.GetOrCreate("f2")
	require.NoError(t, err)

	if other == a {
		t.Error("distinct files must get distinct sessions")
	}

	require.Equal(t, 2, reg.Count())
	require.NoError(t, reg.CloseAll(context.Background()))
}

func TestRegistry_ReplacesStoppedSession(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry(session.RegistryConfig{
		Store:       storage.NewMemoryStore(),
		GracePeriod: 10 * time.Millisecond,
	})

	a, err := reg.GetOrCreate("f1")
	require.NoError(t, err)

	// Nobody joins, so the grace period expires and the session stops.
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("idle session did not shut down")
	}

	b, err := reg.GetOrCreate("f1")
	require.NoError(t, err)

	if a == b {
		t.Fatal("stopped session must be replaced")
	}

	_ = b.Close(context.Background())
}

func TestRegistry_GetReturnsNilForUnknownFile(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry(session.RegistryConfig{Store: storage.NewMemoryStore()})

	if s := reg.Get("missing"); s != nil {
		t.Errorf("expected nil for unknown file, got %v", s.FileID())
	}
}

func TestRegistry_CloseAllFlushes(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	reg := session.NewRegistry(session.RegistryConfig{
		Store:       store,
		GracePeriod: time.Minute,
	})

	s, err := reg.GetOrCreate("f1")
	require.NoError(t, err)

	ctx := context.Background()

	_, _, err = s.Join(ctx, "conn-a", "alice")
	require.NoError(t, err)

	_, err = s.Submit(ctx, "conn-a", "alice", ot.New().Insert("saved", "alice", testTime), 0)
	require.NoError(t, err)

	require.NoError(t, reg.CloseAll(ctx))
	require.Equal(t, 0, reg.Count())

	content, version, err := store.LoadFile("f1")
	require.NoError(t, err)
	require.Equal(t, "saved", content)
	require.Equal(t, 1, version)
}
