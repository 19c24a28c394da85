// Package activity keeps the append-only log of collaboration events that
// feeds the activity UI. Items are never mutated after creation.
package activity

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/serroba/collab-core/internal/presence"
)

// Type enumerates the recorded activity kinds.
type Type string

const (
	TypeFileEdit         Type = "file_edit"
	TypeFileCreate       Type = "file_create"
	TypeFileDelete       Type = "file_delete"
	TypeFileRename       Type = "file_rename"
	TypeUserJoin         Type = "user_join"
	TypeUserLeave        Type = "user_leave"
	TypeUserInvite       Type = "user_invite"
	TypePermissionChange Type = "permission_change"
	TypeCommentAdd       Type = "comment_add"
	TypeCommentEdit      Type = "comment_edit"
	TypeCommentDelete    Type = "comment_delete"
	TypeLockAcquire      Type = "lock_acquire"
	TypeLockRelease      Type = "lock_release"
)

// Item is one activity row.
type Item struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"projectId"`
	UserID    string         `json:"userId"`
	FileID    string         `json:"fileId,omitempty"`
	Activity  Type           `json:"activityType"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Store persists activity rows.
type Store interface {
	// Append adds an item to the log.
	Append(item Item) error

	// ListByProject returns a project's items newest first, skipping
	// offset items and returning at most limit.
	ListByProject(projectID string, offset, limit int) ([]Item, error)
}

// MemoryStore is an in-memory activity store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]Item // by project id, append order
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string][]Item),
	}
}

// Append adds an item to the log.
func (m *MemoryStore) Append(item Item) error {
	if item.ID == "" {
		return errors.New("activity item requires an id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[item.ProjectID] = append(m.items[item.ProjectID], item)

	return nil
}

// ListByProject returns a project's items newest first.
func (m *MemoryStore) ListByProject(projectID string, offset, limit int) ([]Item, error) {
	if offset < 0 {
		offset = 0
	}

	if limit <= 0 {
		limit = 50
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.items[projectID]

	start := len(all) - 1 - offset
	if start < 0 {
		return nil, nil
	}

	out := make([]Item, 0, limit)

	for i := start; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}

	return out, nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// Broadcaster pushes new items to connected project members.
type Broadcaster interface {
	ActivityUpdate(projectID string, item Item)
}

// RecorderConfig holds configuration for creating a recorder.
type RecorderConfig struct {
	Store     Store
	Broadcast Broadcaster // Optional
	Logger    *slog.Logger
}

// Recorder appends activity rows and pushes them to project members.
// Recording is best effort: a failed append is logged, never surfaced to
// the user whose action triggered it.
type Recorder struct {
	store     Store
	broadcast Broadcaster
	logger    *slog.Logger
}

// NewRecorder creates a recorder.
func NewRecorder(cfg RecorderConfig) *Recorder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Recorder{
		store:     cfg.Store,
		broadcast: cfg.Broadcast,
		logger:    logger,
	}
}

// Record appends an activity item and broadcasts it to the project.
func (r *Recorder) Record(projectID, userID string, scope presence.FileScope, typ Type, message string, metadata map[string]any) {
	item := Item{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		UserID:    userID,
		Activity:  typ,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}

	if fileID, ok := scope.FileID(); ok {
		item.FileID = fileID
	}

	if err := r.store.Append(item); err != nil {
		r.logger.Error("failed to record activity",
			slog.String("projectId", projectID),
			slog.String("type", string(typ)),
			slog.Any("error", err))

		return
	}

	if r.broadcast != nil {
		r.broadcast.ActivityUpdate(projectID, item)
	}
}

// List returns a project's activity, newest first.
func (r *Recorder) List(projectID string, offset, limit int) ([]Item, error) {
	return r.store.ListByProject(projectID, offset, limit)
}
