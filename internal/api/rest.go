package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/serroba/collab-core/internal/acl"
	"github.com/serroba/collab-core/internal/activity"
	"github.com/serroba/collab-core/internal/presence"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleActivity serves GET /projects/{projectID}/activity with
// offset/limit pagination, newest first.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")

	offset := parseIntParam(r, "offset", 0)

	limit := parseIntParam(r, "limit", defaultActivityLimit)
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}

	items, err := s.recorder.List(projectID, offset, limit)
	if err != nil {
		http.Error(w, "failed to list activity", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"projectId":  projectID,
		"offset":     offset,
		"limit":      limit,
		"activities": items,
	})
}

// handleListPermissions serves GET /files/{fileID}/permissions.
func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("fileID")

	perms, err := s.permStore.ListPermissions(fileID)
	if err != nil {
		http.Error(w, "failed to list permissions", http.StatusInternalServerError)

		return
	}

	type permissionJSON struct {
		UserID string `json:"userId"`
		Role   string `json:"role"`
	}

	out := make([]permissionJSON, 0, len(perms))
	for _, p := range perms {
		out = append(out, permissionJSON{UserID: p.UserID, Role: p.Role.String()})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"fileId":      fileID,
		"permissions": out,
	})
}

// handleGrantPermission serves POST /files/{fileID}/permissions. Only a
// user who can manage the file may change grants.
func (s *Server) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("fileID")

	user, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)

		return
	}

	var body struct {
		UserID    string `json:"userId"`
		Role      string `json:"role"`
		ProjectID string `json:"projectId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	role, ok := acl.ParseRole(body.Role)
	if !ok {
		http.Error(w, "invalid role", http.StatusBadRequest)

		return
	}

	canManage, err := s.perms.CanManage(user.ID, fileID)
	if err != nil {
		http.Error(w, "permission check failed", http.StatusInternalServerError)

		return
	}

	if !canManage {
		http.Error(w, "forbidden", http.StatusForbidden)

		return
	}

	if err := s.permStore.Grant(fileID, body.UserID, role); err != nil {
		http.Error(w, "failed to grant permission", http.StatusInternalServerError)

		return
	}

	if body.ProjectID != "" {
		s.recorder.Record(body.ProjectID, user.ID, presence.ProjectAndFile(fileID),
			activity.TypePermissionChange,
			user.Name+" granted "+body.Role+" to "+body.UserID,
			map[string]any{"targetUserId": body.UserID, "role": body.Role})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"fileId": fileID,
		"userId": body.UserID,
		"role":   role.String(),
	})
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}

	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
