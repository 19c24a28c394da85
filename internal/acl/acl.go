// Package acl is the default implementation of the permission collaborator
// consumed by the collaboration core. Deployments with their own
// authorization service implement the session.PermissionChecker interface
// instead.
package acl

import "errors"

// Common errors.
var (
	ErrPermissionNotFound = errors.New("permission not found")
	ErrAccessDenied       = errors.New("access denied")
)

// Role represents a user's access level for a file.
type Role int

const (
	// Viewer can read file content and presence.
	Viewer Role = iota
	// Editor can additionally submit operations.
	Editor
	// Owner can additionally change other users' permissions.
	Owner
)

// String returns the string representation of the role.
func (r Role) String() string {
	switch r {
	case Viewer:
		return "viewer"
	case Editor:
		return "editor"
	case Owner:
		return "owner"
	default:
		return "unknown"
	}
}

// ParseRole converts a string to a Role.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "viewer":
		return Viewer, true
	case "editor":
		return Editor, true
	case "owner":
		return Owner, true
	default:
		return 0, false
	}
}

// CanEdit returns true if the role allows submitting operations.
func (r Role) CanEdit() bool {
	return r >= Editor
}

// CanManage returns true if the role allows changing permissions.
func (r Role) CanManage() bool {
	return r >= Owner
}

// Permission represents a user's access to a specific file.
type Permission struct {
	FileID string
	UserID string
	Role   Role
}

// Store defines the interface for persisting file permissions.
type Store interface {
	// Grant gives a user a role on a file, replacing any existing grant.
	Grant(fileID, userID string, role Role) error

	// Revoke removes a user's permission on a file.
	// Returns ErrPermissionNotFound if no permission exists.
	Revoke(fileID, userID string) error

	// GetRole returns the user's role for a file.
	// Returns ErrPermissionNotFound if no permission exists.
	GetRole(fileID, userID string) (Role, error)

	// ListPermissions returns all permissions for a file.
	ListPermissions(fileID string) ([]Permission, error)
}

// Checker answers capability questions against a permission store.
//
// Files without any grants are treated as open for editing: the core is
// deployed behind project membership checks, and per-file grants are the
// opt-in restriction layer.
type Checker struct {
	store Store
}

// NewChecker creates a new permission checker.
func NewChecker(store Store) *Checker {
	return &Checker{store: store}
}

// CanEdit reports whether the user may submit operations against the file.
func (c *Checker) CanEdit(userID, fileID string) (bool, error) {
	role, err := c.role(fileID, userID)
	if err != nil {
		return false, err
	}

	return role.CanEdit(), nil
}

// CanManage reports whether the user may change permissions on the file.
func (c *Checker) CanManage(userID, fileID string) (bool, error) {
	role, err := c.role(fileID, userID)
	if err != nil {
		return false, err
	}

	return role.CanManage(), nil
}

func (c *Checker) role(fileID, userID string) (Role, error) {
	perms, err := c.store.ListPermissions(fileID)
	if err != nil {
		return 0, err
	}

	// No grants at all: the file is unrestricted.
	if len(perms) == 0 {
		return Owner, nil
	}

	role, err := c.store.GetRole(fileID, userID)
	if err != nil {
		if errors.Is(err, ErrPermissionNotFound) {
			return Viewer, nil
		}

		return 0, err
	}

	return role, nil
}
