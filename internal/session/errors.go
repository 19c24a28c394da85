package session

import (
	"errors"
	"fmt"

	"github.com/serroba/collab-core/internal/ot"
)

// Common errors. Everything here is local to the operation that triggered
// it; a rejected operation never touches session content or version.
var (
	// ErrSessionClosed is returned for any call against a session that has
	// flushed and shut down.
	ErrSessionClosed = errors.New("session is closed")

	// ErrSessionUnavailable is returned when the storage collaborator
	// fails; the operation was not applied and may be retried.
	ErrSessionUnavailable = errors.New("session storage unavailable")

	// ErrPermissionDenied is returned when a user without edit capability
	// submits an operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrVersionAhead is returned when a client claims a base version the
	// session has not reached.
	ErrVersionAhead = errors.New("base version is ahead of the session")

	// ErrVersionTooOld is returned when the base version predates the
	// retained history and the operation cannot be replay-transformed.
	ErrVersionTooOld = errors.New("base version too old, history unavailable")

	// ErrOperationDiscarded is returned when conflict resolution decided
	// the already-applied side wins and the incoming operation is dropped.
	ErrOperationDiscarded = errors.New("operation discarded by conflict resolution")
)

// UnresolvedConflictError carries both sides of a conflict no strategy
// could resolve, so the sender can prompt the user or retry against the
// latest version.
type UnresolvedConflictError struct {
	Incoming *ot.TextOperation
	Applied  *ot.TextOperation
}

func (e *UnresolvedConflictError) Error() string {
	return fmt.Sprintf("conflict requires manual resolution (incoming by %q, applied by %q)",
		e.Incoming.PrimaryAuthor(), e.Applied.PrimaryAuthor())
}
