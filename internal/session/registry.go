package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/serroba/collab-core/internal/conflict"
	"github.com/serroba/collab-core/internal/storage"
)

// RegistryConfig holds the shared dependencies handed to every session.
type RegistryConfig struct {
	Store       storage.FileStore
	Perms       PermissionChecker
	Resolver    *conflict.Resolver
	Broadcast   Broadcaster
	GracePeriod time.Duration
	HistorySize int
	Logger      *slog.Logger
}

// Registry maps file ids to running session actors. One registry is
// constructed at process start and passed to every connection handler.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      RegistryConfig
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
	}
}

// GetOrCreate returns the running session for a file, starting one if
// needed. Sessions that already shut down are replaced.
func (r *Registry) GetOrCreate(fileID string) (*Session, error) {
	r.mu.RLock()
	s, exists := r.sessions[fileID]
	r.mu.RUnlock()

	if exists && !stopped(s) {
		return s, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, exists = r.sessions[fileID]; exists && !stopped(s) {
		return s, nil
	}

	s = NewSession(Config{
		FileID:      fileID,
		Store:       r.cfg.Store,
		Perms:       r.cfg.Perms,
		Resolver:    r.cfg.Resolver,
		Broadcast:   r.cfg.Broadcast,
		GracePeriod: r.cfg.GracePeriod,
		HistorySize: r.cfg.HistorySize,
		Logger:      r.cfg.Logger,
		OnExit:      func() { r.remove(fileID, s) },
	})

	if err := s.Load(); err != nil {
		return nil, err
	}

	r.sessions[fileID] = s
	s.Start()

	return s, nil
}

// Get returns the running session for a file, or nil.
func (r *Registry) Get(fileID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.sessions[fileID]
	if !exists || stopped(s) {
		return nil
	}

	return s
}

// remove drops a session from the map if it is still the registered one.
func (r *Registry) remove(fileID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, exists := r.sessions[fileID]; exists && current == s {
		delete(r.sessions, fileID)
	}
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// CloseAll flushes and stops every session. Used on process shutdown.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))

	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}

	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var lastErr error

	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

func stopped(s *Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}
