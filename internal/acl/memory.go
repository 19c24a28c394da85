package acl

import "sync"

// MemoryStore is an in-memory implementation of the permission Store.
type MemoryStore struct {
	mu     sync.RWMutex
	grants map[string]map[string]Role // fileID -> userID -> role
}

// NewMemoryStore creates a new in-memory permission store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		grants: make(map[string]map[string]Role),
	}
}

// Grant gives a user a role on a file, replacing any existing grant.
func (m *MemoryStore) Grant(fileID, userID string, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.grants[fileID] == nil {
		m.grants[fileID] = make(map[string]Role)
	}

	m.grants[fileID][userID] = role

	return nil
}

// Revoke removes a user's permission on a file.
func (m *MemoryStore) Revoke(fileID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	users, ok := m.grants[fileID]
	if !ok {
		return ErrPermissionNotFound
	}

	if _, ok := users[userID]; !ok {
		return ErrPermissionNotFound
	}

	delete(users, userID)

	if len(users) == 0 {
		delete(m.grants, fileID)
	}

	return nil
}

// GetRole returns the user's role for a file.
func (m *MemoryStore) GetRole(fileID, userID string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	role, ok := m.grants[fileID][userID]
	if !ok {
		return 0, ErrPermissionNotFound
	}

	return role, nil
}

// ListPermissions returns all permissions for a file.
func (m *MemoryStore) ListPermissions(fileID string) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := m.grants[fileID]
	perms := make([]Permission, 0, len(users))

	for userID, role := range users {
		perms = append(perms, Permission{FileID: fileID, UserID: userID, Role: role})
	}

	return perms, nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
