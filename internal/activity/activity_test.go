package activity_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/serroba/collab-core/internal/activity"
	"github.com/serroba/collab-core/internal/presence"
	"github.com/stretchr/testify/require"
)

func seedItems(t *testing.T, store *activity.MemoryStore, projectID string, n int) {
	t.Helper()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < n; i++ {
		require.NoError(t, store.Append(activity.Item{
			ID:        fmt.Sprintf("item-%d", i),
			ProjectID: projectID,
			UserID:    "alice",
			Activity:  activity.TypeFileEdit,
			Message:   fmt.Sprintf("edit %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
}

func TestListByProject_NewestFirst(t *testing.T) {
	t.Parallel()

	store := activity.NewMemoryStore()
	seedItems(t, store, "p1", 5)

	items, err := store.ListByProject("p1", 0, 10)
	require.NoError(t, err)
	require.Len(t, items, 5)

	if items[0].ID != "item-4" {
		t.Errorf("expected newest item first, got %q", items[0].ID)
	}

	if items[4].ID != "item-0" {
		t.Errorf("expected oldest item last, got %q", items[4].ID)
	}
}

func TestListByProject_Pagination(t *testing.T) {
	t.Parallel()

	store := activity.NewMemoryStore()
	seedItems(t, store, "p1", 10)

	page, err := store.ListByProject("p1", 3, 4)
	require.NoError(t, err)
	require.Len(t, page, 4)

	if page[0].ID != "item-6" {
		t.Errorf("expected item-6 at offset 3, got %q", page[0].ID)
	}

	// Offset past the end yields nothing.
	empty, err := store.ListByProject("p1", 50, 4)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestListByProject_ScopedToProject(t *testing.T) {
	t.Parallel()

	store := activity.NewMemoryStore()
	seedItems(t, store, "p1", 3)
	seedItems(t, store, "p2", 2)

	items, err := store.ListByProject("p2", 0, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
}

type captureBroadcast struct {
	projectID string
	item      activity.Item
	calls     int
}

func (c *captureBroadcast) ActivityUpdate(projectID string, item activity.Item) {
	c.projectID = projectID
	c.item = item
	c.calls++
}

func TestRecorder_AppendsAndBroadcasts(t *testing.T) {
	t.Parallel()

	store := activity.NewMemoryStore()
	capture := &captureBroadcast{}

	rec := activity.NewRecorder(activity.RecorderConfig{
		Store:     store,
		Broadcast: capture,
	})

	rec.Record("p1", "alice", presence.ProjectAndFile("f1"), activity.TypeUserJoin, "Alice joined", nil)

	require.Equal(t, 1, capture.calls)

	if capture.item.FileID != "f1" {
		t.Errorf("file scope should populate fileId, got %q", capture.item.FileID)
	}

	items, err := rec.List("p1", 0, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)

	if items[0].Activity != activity.TypeUserJoin {
		t.Errorf("expected user_join, got %q", items[0].Activity)
	}

	require.NotEmpty(t, items[0].ID)
}

func TestRecorder_ProjectOnlyScope(t *testing.T) {
	t.Parallel()

	store := activity.NewMemoryStore()

	rec := activity.NewRecorder(activity.RecorderConfig{Store: store})
	rec.Record("p1", "alice", presence.ProjectOnly(), activity.TypeUserLeave, "Alice left", nil)

	items, err := rec.List("p1", 0, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)

	if items[0].FileID != "" {
		t.Errorf("project-only scope must leave fileId empty, got %q", items[0].FileID)
	}
}
