package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/serroba/collab-core/internal/activity"
	"github.com/serroba/collab-core/internal/lock"
	"github.com/serroba/collab-core/internal/ot"
	"github.com/serroba/collab-core/internal/presence"
	"github.com/serroba/collab-core/internal/session"
	"github.com/serroba/collab-core/internal/ws"
	"golang.org/x/time/rate"
)

// handleWebSocket handles GET /ws: one connection per collaborating user.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)

		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))

		return
	}

	var limiter *rate.Limiter
	if s.cursorRate > 0 {
		limiter = rate.NewLimiter(s.cursorRate, s.cursorBurst)
	}

	client := ws.NewClient(uuid.New().String(), user, conn, limiter)
	s.hub.Register(client)

	defer s.disconnect(client)

	s.logger.Info("client connected",
		slog.String("clientId", client.ID), slog.String("userId", user.ID))

	for {
		msg, err := client.Receive()
		if err != nil {
			return
		}

		s.dispatch(r.Context(), client, msg)
	}
}

func (s *Server) dispatch(ctx context.Context, client *ws.Client, msg ws.Message) {
	switch payload := msg.Payload.(type) {
	case ws.JoinProjectPayload:
		s.handleJoinProject(client, payload)
	case ws.LeaveProjectPayload:
		s.handleLeaveProject(ctx, client, payload)
	case ws.OpenFilePayload:
		s.handleOpenFile(ctx, client, payload)
	case ws.CloseFilePayload:
		s.handleCloseFile(ctx, client, payload.ProjectID, payload.FileID)
	case ws.OperationPayload:
		s.handleOperation(ctx, client, payload)
	case ws.CursorMovePayload:
		s.handleCursorMove(client, payload)
	case ws.SelectionChangePayload:
		s.handleSelectionChange(client, payload)
	case ws.LockAcquirePayload:
		s.handleLockAcquire(client, payload)
	case ws.LockReleasePayload:
		s.handleLockRelease(client, payload)
	default:
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "unexpected message type "+string(msg.Type))
	}
}

func (s *Server) handleJoinProject(client *ws.Client, p ws.JoinProjectPayload) {
	if p.ProjectID == "" {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "projectId is required")

		return
	}

	joined, activeUsers := s.directory.JoinProject(p.ProjectID, client.ID, client.User)
	s.hub.JoinProject(client, p.ProjectID)
	client.SetProjectID(p.ProjectID)

	_ = client.Send(ws.Message{
		Type: ws.MessageTypeProjectJoined,
		Payload: ws.ProjectJoinedPayload{
			ProjectID:   p.ProjectID,
			ActiveUsers: activeUsers,
		},
	})

	// A reconnecting user is already in the directory; peers were told the
	// first time.
	if !joined {
		return
	}

	s.hub.BroadcastProject(p.ProjectID, ws.Message{
		Type:    ws.MessageTypeUserJoined,
		Payload: ws.UserJoinedPayload{ProjectID: p.ProjectID, User: client.User},
	}, client.ID)

	s.recorder.Record(p.ProjectID, client.User.ID, presence.ProjectOnly(),
		activity.TypeUserJoin, client.User.Name+" joined the project", nil)
}

func (s *Server) handleLeaveProject(ctx context.Context, client *ws.Client, p ws.LeaveProjectPayload) {
	departure, ok := s.directory.LeaveProject(p.ProjectID, client.ID)
	if !ok {
		return
	}

	for _, fileID := range departure.OpenFiles {
		s.closeFileInternal(ctx, client, fileID)
	}

	s.hub.BroadcastProject(p.ProjectID, ws.Message{
		Type:    ws.MessageTypeUserLeft,
		Payload: ws.UserLeftPayload{ProjectID: p.ProjectID, UserID: client.User.ID},
	}, client.ID)

	s.hub.LeaveProject(client, p.ProjectID)
	client.SetProjectID("")

	s.recorder.Record(p.ProjectID, client.User.ID, presence.ProjectOnly(),
		activity.TypeUserLeave, client.User.Name+" left the project", nil)
}

func (s *Server) handleOpenFile(ctx context.Context, client *ws.Client, p ws.OpenFilePayload) {
	if p.ProjectID == "" || p.FileID == "" {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "projectId and fileId are required")

		return
	}

	sess, err := s.registry.GetOrCreate(p.FileID)
	if err != nil {
		s.sendMappedError(client, err)

		return
	}

	content, version, err := sess.Join(ctx, client.ID, client.User.ID)
	if err != nil {
		s.sendMappedError(client, err)

		return
	}

	opened, activeUsers := s.directory.OpenFile(p.ProjectID, p.FileID, client.ID)
	s.hub.SubscribeFile(client, p.FileID)
	client.TrackFile(p.FileID)

	_ = client.Send(ws.Message{
		Type: ws.MessageTypeFileOpened,
		Payload: ws.FileOpenedPayload{
			FileID:      p.FileID,
			Content:     content,
			Version:     version,
			ActiveUsers: activeUsers,
		},
	})

	if opened {
		s.hub.BroadcastFile(p.FileID, ws.Message{
			Type:    ws.MessageTypeUserJoinedFile,
			Payload: ws.UserJoinedFilePayload{FileID: p.FileID, User: client.User},
		}, client.ID)
	}
}

func (s *Server) handleCloseFile(ctx context.Context, client *ws.Client, projectID, fileID string) {
	if !s.directory.CloseFile(projectID, fileID, client.ID) {
		return
	}

	s.closeFileInternal(ctx, client, fileID)
}

// closeFileInternal tears down one open file for a client: session leave,
// room unsubscription, and the user-left-file announcement.
func (s *Server) closeFileInternal(ctx context.Context, client *ws.Client, fileID string) {
	if sess := s.registry.Get(fileID); sess != nil {
		if err := sess.Leave(ctx, client.ID); err != nil {
			s.logger.Warn("session leave failed",
				slog.String("fileId", fileID), slog.Any("error", err))
		}
	}

	s.hub.BroadcastFile(fileID, ws.Message{
		Type:    ws.MessageTypeUserLeftFile,
		Payload: ws.UserLeftFilePayload{FileID: fileID, UserID: client.User.ID},
	}, client.ID)

	s.hub.UnsubscribeFile(client, fileID)
	client.UntrackFile(fileID)
}

func (s *Server) handleOperation(ctx context.Context, client *ws.Client, p ws.OperationPayload) {
	if p.FileID == "" || p.Op == nil {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "fileId and op are required")

		return
	}

	// An exclusive lock held by someone else blocks the edit outright.
	for _, l := range s.locks.Active(p.FileID) {
		if l.Type == lock.TypeExclusive && l.UserID != client.User.ID {
			_ = client.SendError(ws.ErrorCodeLockConflict, "file is locked by "+l.UserID)

			return
		}
	}

	sess, err := s.registry.GetOrCreate(p.FileID)
	if err != nil {
		s.sendMappedError(client, err)

		return
	}

	version, err := sess.Submit(ctx, client.ID, client.User.ID, p.Op, p.BaseVersion)
	if err != nil {
		s.sendMappedError(client, err)

		return
	}

	// Peers get operation-applied from the session's broadcast; the sender
	// gets the acknowledgment with the assigned version.
	_ = client.Send(ws.Message{
		Type:    ws.MessageTypeOpAcknowledged,
		Payload: ws.OpAcknowledgedPayload{FileID: p.FileID, Version: version},
	})

	if projectID := client.ProjectID(); projectID != "" {
		s.recorder.Record(projectID, client.User.ID, presence.ProjectAndFile(p.FileID),
			activity.TypeFileEdit, client.User.Name+" edited the file",
			map[string]any{"version": version})
	}
}

func (s *Server) handleCursorMove(client *ws.Client, p ws.CursorMovePayload) {
	if !client.AllowCursor() {
		// Presence chatter over the limit is dropped, not errored: the
		// next update supersedes it anyway.
		return
	}

	projectID := client.ProjectID()

	cursor := presence.Cursor{Line: p.Line, Column: p.Column}
	if !s.directory.MoveCursor(projectID, p.FileID, client.ID, cursor) {
		return
	}

	s.hub.BroadcastFile(p.FileID, ws.Message{
		Type: ws.MessageTypeCursorMoved,
		Payload: ws.CursorMovedPayload{
			FileID: p.FileID,
			UserID: client.User.ID,
			Line:   p.Line,
			Column: p.Column,
		},
	}, client.ID)
}

func (s *Server) handleSelectionChange(client *ws.Client, p ws.SelectionChangePayload) {
	if !client.AllowCursor() {
		return
	}

	projectID := client.ProjectID()

	sel := presence.Selection{
		StartLine:   p.StartLine,
		StartColumn: p.StartColumn,
		EndLine:     p.EndLine,
		EndColumn:   p.EndColumn,
	}
	if !s.directory.ChangeSelection(projectID, p.FileID, client.ID, sel) {
		return
	}

	s.hub.BroadcastFile(p.FileID, ws.Message{
		Type: ws.MessageTypeSelectionMoved,
		Payload: ws.SelectionChangedPayload{
			FileID:      p.FileID,
			UserID:      client.User.ID,
			StartLine:   p.StartLine,
			StartColumn: p.StartColumn,
			EndLine:     p.EndLine,
			EndColumn:   p.EndColumn,
		},
	}, client.ID)
}

func (s *Server) handleLockAcquire(client *ws.Client, p ws.LockAcquirePayload) {
	typ := lock.Type(p.Type)
	if typ != lock.TypeExclusive && typ != lock.TypeShared {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "lockType must be exclusive or shared")

		return
	}

	l, err := s.locks.Acquire(p.FileID, client.User.ID, typ, client.ID, s.defaultLockTTL)
	if err != nil {
		heldBy := ""
		if active := s.locks.Active(p.FileID); len(active) > 0 {
			heldBy = active[0].UserID
		}

		_ = client.Send(ws.Message{
			Type:    ws.MessageTypeLockDenied,
			Payload: ws.LockDeniedPayload{FileID: p.FileID, HeldBy: heldBy},
		})

		return
	}

	granted := ws.LockGrantedPayload{
		FileID: p.FileID,
		LockID: l.ID,
		Type:   string(l.Type),
	}
	if !l.ExpiresAt.IsZero() {
		granted.ExpiresAt = l.ExpiresAt.UTC().Format(time.RFC3339)
	}

	_ = client.Send(ws.Message{Type: ws.MessageTypeLockGranted, Payload: granted})

	if projectID := client.ProjectID(); projectID != "" {
		s.recorder.Record(projectID, client.User.ID, presence.ProjectAndFile(p.FileID),
			activity.TypeLockAcquire, client.User.Name+" locked the file",
			map[string]any{"lockType": string(l.Type)})
	}
}

func (s *Server) handleLockRelease(client *ws.Client, p ws.LockReleasePayload) {
	s.locks.Release(p.FileID, client.User.ID)

	s.hub.BroadcastFile(p.FileID, ws.Message{
		Type:    ws.MessageTypeLockReleased,
		Payload: ws.LockReleasedPayload{FileID: p.FileID, UserID: client.User.ID},
	}, "")

	if projectID := client.ProjectID(); projectID != "" {
		s.recorder.Record(projectID, client.User.ID, presence.ProjectAndFile(p.FileID),
			activity.TypeLockRelease, client.User.Name+" unlocked the file", nil)
	}
}

// disconnect is the implicit leave: everything the connection held is
// released as if the client had sent the explicit messages.
func (s *Server) disconnect(client *ws.Client) {
	ctx := context.Background()

	for _, departure := range s.directory.Disconnect(client.ID) {
		for _, fileID := range departure.OpenFiles {
			s.closeFileInternal(ctx, client, fileID)
		}

		s.hub.BroadcastProject(departure.ProjectID, ws.Message{
			Type: ws.MessageTypeUserLeft,
			Payload: ws.UserLeftPayload{
				ProjectID: departure.ProjectID,
				UserID:    departure.User.ID,
			},
		}, client.ID)

		s.recorder.Record(departure.ProjectID, departure.User.ID, presence.ProjectOnly(),
			activity.TypeUserLeave, departure.User.Name+" left the project", nil)
	}

	for _, released := range s.locks.ReleaseSession(client.ID) {
		s.hub.BroadcastFile(released.FileID, ws.Message{
			Type: ws.MessageTypeLockReleased,
			Payload: ws.LockReleasedPayload{
				FileID: released.FileID,
				UserID: released.UserID,
			},
		}, client.ID)
	}

	// Files not tracked by any directory departure (directory and client
	// bookkeeping can drift if a join raced the disconnect).
	for _, fileID := range client.OpenFiles() {
		if sess := s.registry.Get(fileID); sess != nil {
			_ = sess.Leave(ctx, client.ID)
		}
	}

	s.hub.Unregister(client)
	_ = client.Close()

	s.logger.Info("client disconnected", slog.String("clientId", client.ID))
}

// sendMappedError translates internal errors into wire error codes.
func (s *Server) sendMappedError(client *ws.Client, err error) {
	var unresolved *session.UnresolvedConflictError

	switch {
	case errors.Is(err, session.ErrPermissionDenied):
		_ = client.SendError(ws.ErrorCodePermissionDenied, "you do not have edit access to this file")
	case errors.Is(err, ot.ErrLengthMismatch) || errors.Is(err, ot.ErrIncompatibleLengths):
		_ = client.SendError(ws.ErrorCodeLengthMismatch, "operation does not match document length")
	case errors.Is(err, session.ErrVersionAhead) || errors.Is(err, session.ErrVersionTooOld):
		_ = client.SendError(ws.ErrorCodeVersionConflict, err.Error())
	case errors.Is(err, session.ErrOperationDiscarded):
		_ = client.SendError(ws.ErrorCodeVersionConflict, "operation discarded by conflict resolution; resync and retry")
	case errors.As(err, &unresolved):
		_ = client.Send(ws.Message{
			Type: ws.MessageTypeError,
			Payload: ws.ErrorPayload{
				Code:     ws.ErrorCodeUnresolvedConflict,
				Message:  err.Error(),
				Incoming: unresolved.Incoming,
				Applied:  unresolved.Applied,
			},
		})
	case errors.Is(err, session.ErrSessionUnavailable):
		_ = client.SendError(ws.ErrorCodeStorageUnavailable, "storage unavailable, try again")
	case errors.Is(err, lock.ErrLockConflict):
		_ = client.SendError(ws.ErrorCodeLockConflict, "file is locked by another user")
	default:
		s.logger.Error("unhandled websocket error", slog.Any("error", err))
		_ = client.SendError(ws.ErrorCodeInternalError, "internal error")
	}
}
