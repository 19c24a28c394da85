// Package storage defines the narrow interface through which the
// collaboration core reaches the external storage collaborator that owns
// document content, plus an in-memory implementation for development and
// tests.
package storage

import (
	"errors"
	"time"

	"github.com/serroba/collab-core/internal/ot"
)

// Common errors.
var (
	ErrFileNotFound = errors.New("file not found")
	ErrFileExists   = errors.New("file already exists")

	// ErrVersionBehind is returned when a save carries a version lower
	// than what is already stored.
	ErrVersionBehind = errors.New("save version is behind stored version")
)

// VersionedOperation is an accepted operation together with the document
// version it produced.
type VersionedOperation struct {
	Version   int
	Op        ot.TextOperation
	AppliedAt time.Time
}

// FileStore is the storage collaborator contract. LoadFile and SaveFile
// move materialized content; AppendOperation persists each accepted
// operation before it is broadcast, so a crash cannot desynchronize a
// connected peer from durable state.
type FileStore interface {
	// LoadFile returns the current content and version of a file.
	LoadFile(fileID string) (content string, version int, err error)

	// SaveFile persists materialized content at the given version.
	// Returns ErrFileNotFound for unknown files and ErrVersionBehind if
	// the stored version is already newer.
	SaveFile(fileID, content string, version int) error

	// AppendOperation records an accepted operation at the version it
	// produced. Returns ErrFileNotFound for unknown files.
	AppendOperation(fileID string, version int, op ot.TextOperation) error

	// Operations returns operations applied after the given version, in
	// order. Returns ErrFileNotFound for unknown files.
	Operations(fileID string, sinceVersion int) ([]VersionedOperation, error)
}
