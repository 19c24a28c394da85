package storage

import (
	"sync"
	"time"

	"github.com/serroba/collab-core/internal/ot"
)

// fileData holds everything persisted for one file.
type fileData struct {
	content    string
	version    int
	operations []VersionedOperation
}

// MemoryStore is an in-memory FileStore. Unknown files are provisioned
// empty on first load, which lets clients open fresh files without a
// separate create call.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string]*fileData
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: make(map[string]*fileData),
	}
}

// CreateFile seeds a file with initial content at version 0.
func (m *MemoryStore) CreateFile(fileID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.files[fileID]; exists {
		return ErrFileExists
	}

	m.files[fileID] = &fileData{content: content}

	return nil
}

// LoadFile returns the current content and version of a file, creating an
// empty file if it does not exist yet.
func (m *MemoryStore) LoadFile(fileID string) (string, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, exists := m.files[fileID]
	if !exists {
		f = &fileData{}
		m.files[fileID] = f
	}

	return f.content, f.version, nil
}

// SaveFile persists materialized content at the given version.
func (m *MemoryStore) SaveFile(fileID, content string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, exists := m.files[fileID]
	if !exists {
		return ErrFileNotFound
	}

	if version < f.version {
		return ErrVersionBehind
	}

	f.content = content
	f.version = version

	// Operations at or before the saved version are now covered by the
	// materialized content.
	kept := f.operations[:0]

	for _, op := range f.operations {
		if op.Version > version {
			kept = append(kept, op)
		}
	}

	f.operations = kept

	return nil
}

// AppendOperation records an accepted operation at the version it produced.
func (m *MemoryStore) AppendOperation(fileID string, version int, op ot.TextOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, exists := m.files[fileID]
	if !exists {
		return ErrFileNotFound
	}

	f.operations = append(f.operations, VersionedOperation{
		Version:   version,
		Op:        op,
		AppliedAt: time.Now(),
	})

	return nil
}

// Operations returns operations applied after the given version.
func (m *MemoryStore) Operations(fileID string, sinceVersion int) ([]VersionedOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, exists := m.files[fileID]
	if !exists {
		return nil, ErrFileNotFound
	}

	var result []VersionedOperation

	for _, op := range f.operations {
		if op.Version > sinceVersion {
			result = append(result, op)
		}
	}

	return result, nil
}

// Ensure MemoryStore implements FileStore.
var _ FileStore = (*MemoryStore)(nil)
