package ws

import (
	"github.com/serroba/collab-core/internal/activity"
	"github.com/serroba/collab-core/internal/ot"
	"github.com/serroba/collab-core/internal/presence"
)

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	// Client to Server messages.
	MessageTypeJoinProject     MessageType = "join-project"
	MessageTypeLeaveProject    MessageType = "leave-project"
	MessageTypeOpenFile        MessageType = "open-file"
	MessageTypeCloseFile       MessageType = "close-file"
	MessageTypeOperation       MessageType = "operation"
	MessageTypeCursorMove      MessageType = "cursor-move"
	MessageTypeSelectionChange MessageType = "selection-change"
	MessageTypeLockAcquire     MessageType = "lock-acquire"
	MessageTypeLockRelease     MessageType = "lock-release"

	// Server to Client messages.
	MessageTypeProjectJoined   MessageType = "project-joined"
	MessageTypeUserJoined      MessageType = "user-joined"
	MessageTypeUserLeft        MessageType = "user-left"
	MessageTypeFileOpened      MessageType = "file-opened"
	MessageTypeUserJoinedFile  MessageType = "user-joined-file"
	MessageTypeUserLeftFile    MessageType = "user-left-file"
	MessageTypeOpApplied       MessageType = "operation-applied"
	MessageTypeOpAcknowledged  MessageType = "operation-acknowledged"
	MessageTypeCursorMoved     MessageType = "cursor-moved"
	MessageTypeSelectionMoved  MessageType = "selection-changed"
	MessageTypeActivityUpdate  MessageType = "activity-update"
	MessageTypeLockGranted     MessageType = "lock-granted"
	MessageTypeLockDenied      MessageType = "lock-denied"
	MessageTypeLockReleased    MessageType = "lock-released"
	MessageTypeError           MessageType = "error"
)

// Message is the envelope for all WebSocket communication.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// JoinProjectPayload subscribes the connection to a project.
type JoinProjectPayload struct {
	ProjectID string `json:"projectId"`
}

// LeaveProjectPayload unsubscribes the connection from a project.
type LeaveProjectPayload struct {
	ProjectID string `json:"projectId"`
}

// OpenFilePayload opens a file within a project.
type OpenFilePayload struct {
	ProjectID string `json:"projectId"`
	FileID    string `json:"fileId"`
}

// CloseFilePayload closes a previously opened file.
type CloseFilePayload struct {
	ProjectID string `json:"projectId"`
	FileID    string `json:"fileId"`
}

// OperationPayload is sent when a client submits an edit.
type OperationPayload struct {
	FileID      string            `json:"fileId"`
	Op          *ot.TextOperation `json:"op"`
	BaseVersion int               `json:"baseVersion"`
}

// CursorMovePayload reports the sender's new cursor position.
type CursorMovePayload struct {
	FileID string `json:"fileId"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// SelectionChangePayload reports the sender's new selection range.
type SelectionChangePayload struct {
	FileID      string `json:"fileId"`
	StartLine   int    `json:"startLine"`
	StartColumn int    `json:"startColumn"`
	EndLine     int    `json:"endLine"`
	EndColumn   int    `json:"endColumn"`
}

// LockAcquirePayload requests a file lock for the sender.
type LockAcquirePayload struct {
	FileID string `json:"fileId"`
	Type   string `json:"lockType"` // "exclusive" or "shared"
}

// LockReleasePayload releases the sender's lock on a file.
type LockReleasePayload struct {
	FileID string `json:"fileId"`
}

// ProjectJoinedPayload confirms a project join and lists who is there.
type ProjectJoinedPayload struct {
	ProjectID   string          `json:"projectId"`
	ActiveUsers []presence.User `json:"activeUsers"`
}

// UserJoinedPayload announces a user joining the project.
type UserJoinedPayload struct {
	ProjectID string        `json:"projectId"`
	User      presence.User `json:"user"`
}

// UserLeftPayload announces a user leaving the project.
type UserLeftPayload struct {
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
}

// FileOpenedPayload confirms a file open with the current document state.
type FileOpenedPayload struct {
	FileID      string          `json:"fileId"`
	Content     string          `json:"content"`
	Version     int             `json:"version"`
	ActiveUsers []presence.User `json:"activeUsers"`
}

// UserJoinedFilePayload announces a user opening a file.
type UserJoinedFilePayload struct {
	FileID string        `json:"fileId"`
	User   presence.User `json:"user"`
}

// UserLeftFilePayload announces a user closing a file.
type UserLeftFilePayload struct {
	FileID string `json:"fileId"`
	UserID string `json:"userId"`
}

// OpAppliedPayload pushes an accepted operation to a file's other editors.
type OpAppliedPayload struct {
	FileID  string            `json:"fileId"`
	Op      *ot.TextOperation `json:"operation"`
	UserID  string            `json:"userId"`
	Version int               `json:"newVersion"`
}

// OpAcknowledgedPayload confirms the sender's operation and its version.
type OpAcknowledgedPayload struct {
	FileID  string `json:"fileId"`
	Version int    `json:"version"`
}

// CursorMovedPayload pushes a peer's cursor position.
type CursorMovedPayload struct {
	FileID string `json:"fileId"`
	UserID string `json:"userId"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// SelectionChangedPayload pushes a peer's selection range.
type SelectionChangedPayload struct {
	FileID      string `json:"fileId"`
	UserID      string `json:"userId"`
	StartLine   int    `json:"startLine"`
	StartColumn int    `json:"startColumn"`
	EndLine     int    `json:"endLine"`
	EndColumn   int    `json:"endColumn"`
}

// ActivityUpdatePayload pushes a new activity item to project members.
type ActivityUpdatePayload struct {
	Activity activity.Item `json:"activity"`
}

// LockGrantedPayload confirms a lock request.
type LockGrantedPayload struct {
	FileID    string `json:"fileId"`
	LockID    string `json:"lockId"`
	Type      string `json:"lockType"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// LockDeniedPayload rejects a lock request held by someone else.
type LockDeniedPayload struct {
	FileID string `json:"fileId"`
	HeldBy string `json:"heldBy"`
}

// LockReleasedPayload announces a lock release to the file's editors.
type LockReleasedPayload struct {
	FileID string `json:"fileId"`
	UserID string `json:"userId"`
}

// ErrorPayload reports an error to the client. For unresolved conflicts
// both operations are attached so the client can prompt the user or retry
// against the latest version.
type ErrorPayload struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Incoming *ot.TextOperation `json:"incoming,omitempty"`
	Applied  *ot.TextOperation `json:"applied,omitempty"`
}

// Error codes.
const (
	ErrorCodePermissionDenied   = "permission_denied"
	ErrorCodeLockConflict       = "lock_conflict"
	ErrorCodeLengthMismatch     = "length_mismatch"
	ErrorCodeVersionConflict    = "version_conflict"
	ErrorCodeUnresolvedConflict = "unresolved_conflict"
	ErrorCodeStorageUnavailable = "storage_unavailable"
	ErrorCodeRateLimited        = "rate_limited"
	ErrorCodeInvalidMessage     = "invalid_message"
	ErrorCodeInternalError      = "internal_error"
)
