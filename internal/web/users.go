package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatehouse/internal/audit"
	"gatehouse/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type createUserRequest struct {
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	Password string    `json:"password"`
	Role     auth.Role `json:"role"`
}

type updateUserRequest struct {
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.userRepo.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates a new user account.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if !auth.IsValidEmail(req.Email) {
		writeBadRequest(w, "a valid email address is required")
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeBadRequest(w, "password must be at least 8 characters")
		return
	}

	if req.Role == "" {
		req.Role = auth.RoleUser
	}
	if !auth.IsValidRole(req.Role) {
		writeBadRequest(w, "invalid role: must be user or admin")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	p := principalFromContext(r.Context())
	user := &auth.User{
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: hash,
		Role:         req.Role,
		IsActive:     true,
	}

	if err := s.userRepo.Create(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrEmailExists) {
			writeConflict(w, "email already registered")
			return
		}
		s.logger.Error("create user failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "email", user.Email, "role", user.Role, "created_by", p.User.ID)
	s.auditLog(audit.ActionUserCreate, "user", user.ID, p.User.ID, map[string]any{
		"email": user.Email,
		"role":  user.Role,
	})

	writeJSON(w, http.StatusCreated, user)
}

// handleGetUser returns a single user by ID.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	user, err := s.userRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user failed", "error", err)
		writeInternalError(w, "failed to get user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser modifies a user's mutable fields.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p := principalFromContext(r.Context())

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, err := s.userRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user for update failed", "error", err)
		writeInternalError(w, "failed to update user")
		return
	}

	// Self-protection: cannot deactivate yourself
	if req.IsActive != nil && !*req.IsActive && id == p.User.ID {
		writeForbidden(w, auth.ErrSelfModification.Error())
		return
	}

	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	if err := s.userRepo.Update(r.Context(), user); err != nil {
		s.logger.Error("update user failed", "error", err)
		writeInternalError(w, "failed to update user")
		return
	}

	// Deactivation force-logs the user out everywhere.
	if req.IsActive != nil && !*req.IsActive {
		if err := s.sessionRepo.RevokeAllForUser(r.Context(), id); err != nil {
			s.logger.Error("revoke sessions after deactivation failed", "error", err)
		}
	}

	s.logger.Info("user updated", "user_id", id, "updated_by", p.User.ID)
	s.auditLog(audit.ActionUserUpdate, "user", id, p.User.ID, nil)

	writeJSON(w, http.StatusOK, user)
}

// handleDeleteUser removes a user account. Sessions and OAuth links
// cascade away with the row.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p := principalFromContext(r.Context())

	// Cannot delete yourself
	if id == p.User.ID {
		writeForbidden(w, auth.ErrSelfModification.Error())
		return
	}

	user, err := s.userRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user for delete failed", "error", err)
		writeInternalError(w, "failed to delete user")
		return
	}

	if err := s.userRepo.Delete(r.Context(), id); err != nil {
		s.logger.Error("delete user failed", "error", err)
		writeInternalError(w, "failed to delete user")
		return
	}

	s.logger.Info("user deleted", "user_id", id, "deleted_by", p.User.ID)
	s.auditLog(audit.ActionUserDelete, "user", id, p.User.ID, map[string]any{
		"email": user.Email,
	})

	w.WriteHeader(http.StatusNoContent)
}

// handlePromoteUser raises a user to the admin role. The change applies to
// new sessions and tokens immediately; existing browser sessions pick it up
// on their next request since the user record is re-read each time.
func (s *Server) handlePromoteUser(w http.ResponseWriter, r *http.Request) {
	s.changeRole(w, r, auth.RoleAdmin, audit.ActionPromote)
}

// handleDemoteUser lowers an admin back to the user role. Self-demotion is
// refused so the system cannot lose its last administrator by accident.
func (s *Server) handleDemoteUser(w http.ResponseWriter, r *http.Request) {
	s.changeRole(w, r, auth.RoleUser, audit.ActionDemote)
}

// changeRole applies a role transition with self-protection and audit.
func (s *Server) changeRole(w http.ResponseWriter, r *http.Request, target auth.Role, action string) {
	id := chi.URLParam(r, "id")
	p := principalFromContext(r.Context())

	if id == p.User.ID {
		writeForbidden(w, auth.ErrSelfModification.Error())
		return
	}

	user, err := s.userRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user for role change failed", "error", err)
		writeInternalError(w, "failed to change role")
		return
	}

	if user.Role == target {
		// Already there; report the current state rather than erroring.
		writeJSON(w, http.StatusOK, user)
		return
	}

	from := user.Role
	if err := s.userRepo.UpdateRole(r.Context(), id, target); err != nil {
		s.logger.Error("role change failed", "error", err)
		writeInternalError(w, "failed to change role")
		return
	}
	user.Role = target

	s.logger.Info("user role changed",
		"user_id", id,
		"from", from,
		"to", target,
		"changed_by", p.User.ID,
	)
	s.auditLog(action, "user", id, p.User.ID, map[string]any{
		"from": from,
		"to":   target,
	})
	if s.events != nil {
		s.events.WriteRoleChange(id, string(from), string(target), p.User.ID)
	}

	writeJSON(w, http.StatusOK, user)
}

// handleListUserSessions returns active sessions for a user.
func (s *Server) handleListUserSessions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sessions, err := s.sessionRepo.ListActiveByUser(r.Context(), id)
	if err != nil {
		s.logger.Error("list user sessions failed", "error", err)
		writeInternalError(w, "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleRevokeUserSessions revokes all sessions for a user (force logout).
func (s *Server) handleRevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p := principalFromContext(r.Context())

	if err := s.sessionRepo.RevokeAllForUser(r.Context(), id); err != nil {
		s.logger.Error("revoke user sessions failed", "error", err)
		writeInternalError(w, "failed to revoke sessions")
		return
	}

	s.logger.Info("user sessions revoked", "user_id", id, "revoked_by", p.User.ID)
	s.auditLog(audit.ActionRevoke, "user", id, p.User.ID, nil)

	writeJSON(w, http.StatusOK, map[string]string{"status": "sessions_revoked"})
}
