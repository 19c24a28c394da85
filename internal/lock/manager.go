// Package lock provides optional per-file locking for projects that opt
// out of transform-based merging. Locks expire on a TTL and are released
// when their owning connection goes away.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLockConflict is the expected negative result when a lock cannot be
// granted because of existing holders.
var ErrLockConflict = errors.New("file lock conflict")

// Type is the locking mode.
type Type string

const (
	TypeExclusive Type = "exclusive"
	TypeShared    Type = "shared"
)

// Lock is an active or released lock row.
type Lock struct {
	ID        string    `json:"id"`
	FileID    string    `json:"fileId"`
	UserID    string    `json:"userId"`
	Type      Type      `json:"lockType"`
	SessionID string    `json:"sessionId"`
	LockedAt  time.Time `json:"lockedAt"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"` // Zero means no expiry
}

func (l *Lock) expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && now.After(l.ExpiresAt)
}

// fileEntry holds one file's locks behind its own lock, so acquire/release
// on different files never contend.
type fileEntry struct {
	mu    sync.Mutex
	locks []*Lock
}

// ManagerConfig holds configuration for creating a lock manager.
type ManagerConfig struct {
	Logger *slog.Logger
	Now    func() time.Time // Test hook; defaults to time.Now
}

// Manager tracks file locks. Expired locks are treated as released both
// lazily on the next acquire/release and by the background sweep.
type Manager struct {
	mu     sync.RWMutex
	files  map[string]*fileEntry
	now    func() time.Time
	logger *slog.Logger
}

// NewManager creates an empty lock manager.
func NewManager(cfg ManagerConfig) *Manager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		files:  make(map[string]*fileEntry),
		now:    now,
		logger: logger,
	}
}

func (m *Manager) file(fileID string, create bool) *fileEntry {
	m.mu.RLock()
	e, ok := m.files[fileID]
	m.mu.RUnlock()

	if ok || !create {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok = m.files[fileID]; ok {
		return e
	}

	e = &fileEntry{}
	m.files[fileID] = e

	return e
}

// pruneLocked drops expired locks from an entry.
func (e *fileEntry) pruneLocked(now time.Time) {
	kept := e.locks[:0]

	for _, l := range e.locks {
		if !l.expired(now) {
			kept = append(kept, l)
		}
	}

	e.locks = kept
}

// Acquire requests a lock on a file. An exclusive request fails while any
// lock is active; a shared request fails while an exclusive lock is
// active. A holder re-requesting its own lock gets it back with a
// refreshed expiry. ttl of zero means the lock does not expire.
func (m *Manager) Acquire(fileID, userID string, typ Type, sessionID string, ttl time.Duration) (*Lock, error) {
	e := m.file(fileID, true)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := m.now()
	e.pruneLocked(now)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	for _, l := range e.locks {
		if l.UserID == userID && l.SessionID == sessionID && l.Type == typ {
			l.ExpiresAt = expiresAt

			return l, nil
		}
	}

	if typ == TypeExclusive && len(e.locks) > 0 {
		return nil, ErrLockConflict
	}

	if typ == TypeShared {
		for _, l := range e.locks {
			if l.Type == TypeExclusive {
				return nil, ErrLockConflict
			}
		}
	}

	l := &Lock{
		ID:        uuid.New().String(),
		FileID:    fileID,
		UserID:    userID,
		Type:      typ,
		SessionID: sessionID,
		LockedAt:  now,
		ExpiresAt: expiresAt,
	}

	e.locks = append(e.locks, l)

	return l, nil
}

// Release removes a user's locks on a file. Releasing a lock that is
// already gone is not an error.
func (m *Manager) Release(fileID, userID string) {
	e := m.file(fileID, false)
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.pruneLocked(m.now())

	kept := e.locks[:0]

	for _, l := range e.locks {
		if l.UserID != userID {
			kept = append(kept, l)
		}
	}

	e.locks = kept
}

// ReleaseSession removes every lock held by a connection, returning the
// released locks so the caller can broadcast and record them. Used for
// disconnect cleanup.
func (m *Manager) ReleaseSession(sessionID string) []*Lock {
	m.mu.RLock()

	entries := make([]*fileEntry, 0, len(m.files))

	for _, e := range m.files {
		entries = append(entries, e)
	}

	m.mu.RUnlock()

	now := m.now()

	var released []*Lock

	for _, e := range entries {
		e.mu.Lock()
		e.pruneLocked(now)

		kept := e.locks[:0]

		for _, l := range e.locks {
			if l.SessionID == sessionID {
				released = append(released, l)
			} else {
				kept = append(kept, l)
			}
		}

		e.locks = kept
		e.mu.Unlock()
	}

	sort.Slice(released, func(i, j int) bool { return released[i].FileID < released[j].FileID })

	return released
}

// Active returns the active locks on a file.
func (m *Manager) Active(fileID string) []*Lock {
	e := m.file(fileID, false)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.pruneLocked(m.now())

	out := make([]*Lock, len(e.locks))
	copy(out, e.locks)

	return out
}

// Sweep runs the expiry sweep at the given interval until ctx is done.
func (m *Manager) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	m.mu.RLock()

	entries := make(map[string]*fileEntry, len(m.files))

	for id, e := range m.files {
		entries[id] = e
	}

	m.mu.RUnlock()

	now := m.now()

	for fileID, e := range entries {
		e.mu.Lock()

		before := len(e.locks)
		e.pruneLocked(now)

		if dropped := before - len(e.locks); dropped > 0 {
			m.logger.Debug("expired file locks",
				slog.String("fileId", fileID),
				slog.Int("count", dropped))
		}

		e.mu.Unlock()
	}
}
