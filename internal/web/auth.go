package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gatehouse/internal/audit"
	"gatehouse/internal/auth"
	"gatehouse/internal/infrastructure/events"
)

// minPasswordLength is the minimum accepted password length.
const minPasswordLength = 8

// ─── Request/Response Types ────────────────────────────────────────

// loginRequest is the request body for POST /api/v1/auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response body for login and refresh. SessionToken
// doubles as the refresh credential; it is returned exactly once.
type loginResponse struct {
	AccessToken  string `json:"access_token"`
	SessionToken string `json:"session_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// sessionTokenRequest is the request body for refresh and logout.
type sessionTokenRequest struct {
	SessionToken string `json:"session_token"`
}

// ─── Shared sign-in plumbing ───────────────────────────────────────

// authenticate verifies an email/password pair against the user store.
// All credential failures collapse into ErrInvalidCredentials so responses
// never reveal whether an email is registered. Accounts created via OAuth
// with no password set always fail here.
func (s *Server) authenticate(ctx context.Context, email, password string) (*auth.User, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, err
	}

	if user.PasswordHash == "" {
		return nil, auth.ErrInvalidCredentials
	}

	ok, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return nil, auth.ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, auth.ErrUserInactive
	}

	return user, nil
}

// createSession mints a session for the user and stores its hash. The raw
// token is returned for the cookie or API client and never persisted.
func (s *Server) createSession(ctx context.Context, user *auth.User, r *http.Request) (string, *auth.Session, error) {
	raw, err := auth.GenerateSessionToken()
	if err != nil {
		return "", nil, err
	}

	session := &auth.Session{
		UserID:    user.ID,
		TokenHash: auth.HashToken(raw),
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
		ExpiresAt: time.Now().UTC().Add(s.cfg.SessionTTL()),
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return "", nil, err
	}

	return raw, session, nil
}

// setSessionCookie writes the session cookie. HttpOnly and SameSite=Lax
// keep the token out of scripts and cross-site POSTs.
func (s *Server) setSessionCookie(w http.ResponseWriter, rawToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Sessions.CookieName,
		Value:    rawToken,
		Path:     "/",
		MaxAge:   int(s.cfg.SessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.Sessions.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie expires the session cookie.
func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Sessions.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Sessions.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// redirectWithError sends the browser back to a form page with a flash message.
func redirectWithError(w http.ResponseWriter, r *http.Request, path, message string) {
	http.Redirect(w, r, path+"?error="+url.QueryEscape(message), http.StatusFound)
}

// ─── Page form handlers ────────────────────────────────────────────

// handleSignInForm processes the sign-in form and establishes a cookie session.
func (s *Server) handleSignInForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWithError(w, r, "/auth/sign-in", "invalid form submission")
		return
	}

	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")

	user, err := s.authenticate(r.Context(), email, password)
	if err != nil {
		s.writeEvent("sign_in", events.OutcomeFailure, "", "")
		s.auditLog(audit.ActionSignIn, "user", "", "", map[string]any{"outcome": "failure"})
		switch {
		case errors.Is(err, auth.ErrUserInactive):
			redirectWithError(w, r, "/auth/sign-in", "this account has been deactivated")
		case errors.Is(err, auth.ErrInvalidCredentials):
			redirectWithError(w, r, "/auth/sign-in", "invalid email or password")
		default:
			s.logger.Error("sign-in failed", "error", err)
			redirectWithError(w, r, "/auth/sign-in", "something went wrong, try again")
		}
		return
	}

	raw, session, err := s.createSession(r.Context(), user, r)
	if err != nil {
		s.logger.Error("creating session failed", "error", err)
		redirectWithError(w, r, "/auth/sign-in", "something went wrong, try again")
		return
	}

	s.setSessionCookie(w, raw)
	s.logger.Info("user signed in", "user_id", user.ID, "session_id", session.ID)
	s.auditLog(audit.ActionSignIn, "user", user.ID, user.ID, nil)
	s.writeEvent("sign_in", events.OutcomeSuccess, string(user.Role), user.ID)

	http.Redirect(w, r, auth.DashboardPath(user.Role), http.StatusFound)
}

// handleSignUpForm registers a new account and signs it in. New accounts
// always start with the user role; promotion is an admin action.
func (s *Server) handleSignUpForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWithError(w, r, "/auth/sign-up", "invalid form submission")
		return
	}

	name := strings.TrimSpace(r.PostFormValue("name"))
	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")

	switch {
	case name == "":
		redirectWithError(w, r, "/auth/sign-up", "name is required")
		return
	case !auth.IsValidEmail(email):
		redirectWithError(w, r, "/auth/sign-up", "a valid email address is required")
		return
	case len(password) < minPasswordLength:
		redirectWithError(w, r, "/auth/sign-up", "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		s.logger.Error("hashing password failed", "error", err)
		redirectWithError(w, r, "/auth/sign-up", "something went wrong, try again")
		return
	}

	user := &auth.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         auth.RoleUser,
		IsActive:     true,
	}

	if err := s.userRepo.Create(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrEmailExists) {
			redirectWithError(w, r, "/auth/sign-up", "that email is already registered")
			return
		}
		s.logger.Error("creating user failed", "error", err)
		redirectWithError(w, r, "/auth/sign-up", "something went wrong, try again")
		return
	}

	raw, _, err := s.createSession(r.Context(), user, r)
	if err != nil {
		// Account exists but the session failed; land on sign-in rather than erroring.
		s.logger.Error("creating session after sign-up failed", "error", err)
		http.Redirect(w, r, "/auth/sign-in?notice="+url.QueryEscape("account created, please sign in"), http.StatusFound)
		return
	}

	s.setSessionCookie(w, raw)
	s.logger.Info("user signed up", "user_id", user.ID, "email", user.Email)
	s.auditLog(audit.ActionSignUp, "user", user.ID, user.ID, nil)
	s.writeEvent("sign_up", events.OutcomeSuccess, string(user.Role), user.ID)

	http.Redirect(w, r, auth.DashboardPath(user.Role), http.StatusFound)
}

// handleSignOut revokes the current session and clears the cookie.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	if p != nil {
		if err := s.sessionRepo.Revoke(r.Context(), p.SessionID); err != nil {
			s.logger.Error("revoking session on sign-out failed", "error", err)
		}
		s.auditLog(audit.ActionSignOut, "user", p.User.ID, p.User.ID, nil)
		s.writeEvent("sign_out", events.OutcomeSuccess, string(p.User.Role), p.User.ID)
	}

	s.clearSessionCookie(w)
	http.Redirect(w, r, "/auth/sign-in?notice="+url.QueryEscape("signed out"), http.StatusFound)
}

// ─── API handlers ──────────────────────────────────────────────────

// handleLogin authenticates credentials and returns a JWT access token plus
// a session token for refresh.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, err := s.authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeEvent("login", events.OutcomeFailure, "", "")
		s.auditLog(audit.ActionSignIn, "user", "", "", map[string]any{"outcome": "failure", "channel": "api"})
		switch {
		case errors.Is(err, auth.ErrUserInactive):
			writeForbidden(w, "account is inactive")
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeUnauthorized(w, "invalid credentials")
		default:
			s.logger.Error("login failed", "error", err)
			writeInternalError(w, "login failed")
		}
		return
	}

	raw, session, err := s.createSession(r.Context(), user, r)
	if err != nil {
		s.logger.Error("creating session failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	access, err := auth.GenerateAccessToken(user, session.ID, s.cfg.Security.JWT.Secret, s.cfg.Security.JWT.AccessTokenTTL)
	if err != nil {
		s.logger.Error("generating access token failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	s.logger.Info("api login", "user_id", user.ID, "session_id", session.ID)
	s.auditLog(audit.ActionSignIn, "user", user.ID, user.ID, map[string]any{"channel": "api"})
	s.writeEvent("login", events.OutcomeSuccess, string(user.Role), user.ID)

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  access,
		SessionToken: raw,
		TokenType:    "Bearer",
		ExpiresIn:    s.cfg.Security.JWT.AccessTokenTTL * 60, // seconds
	})
}

// handleRefresh rotates a session token and mints a fresh access token.
// Presenting a revoked token is treated as theft: every session for the
// user is revoked and the client must sign in again.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) { //nolint:gocognit // refresh: reuse detection + rotation + token minting pipeline
	var req sessionTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionToken == "" {
		writeBadRequest(w, "session_token is required")
		return
	}

	session, err := s.sessionRepo.GetByTokenHash(r.Context(), auth.HashToken(req.SessionToken))
	if err != nil {
		writeUnauthorized(w, "invalid session token")
		return
	}

	if session.Revoked {
		if err := s.sessionRepo.RevokeAllForUser(r.Context(), session.UserID); err != nil {
			s.logger.Error("revoking sessions after token reuse failed", "error", err)
		}
		s.logger.Warn("revoked session token reused, all sessions revoked", "user_id", session.UserID)
		s.writeEvent("session_reuse", events.OutcomeDenied, "", session.UserID)
		writeUnauthorized(w, "session token has been revoked")
		return
	}

	if time.Now().After(session.ExpiresAt) {
		writeUnauthorized(w, "session has expired")
		return
	}

	user, err := s.userRepo.GetByID(r.Context(), session.UserID)
	if err != nil || !user.IsActive {
		writeUnauthorized(w, "account is unavailable")
		return
	}

	newRaw, err := auth.GenerateSessionToken()
	if err != nil {
		s.logger.Error("generating session token failed", "error", err)
		writeInternalError(w, "refresh failed")
		return
	}

	replacement := &auth.Session{
		UserID:    user.ID,
		TokenHash: auth.HashToken(newRaw),
		UserAgent: session.UserAgent,
		IP:        clientIP(r),
		ExpiresAt: time.Now().UTC().Add(s.cfg.SessionTTL()),
	}
	if err := s.sessionRepo.Rotate(r.Context(), session.ID, replacement); err != nil {
		s.logger.Error("rotating session failed", "error", err)
		writeInternalError(w, "refresh failed")
		return
	}

	access, err := auth.GenerateAccessToken(user, replacement.ID, s.cfg.Security.JWT.Secret, s.cfg.Security.JWT.AccessTokenTTL)
	if err != nil {
		s.logger.Error("generating access token failed", "error", err)
		writeInternalError(w, "refresh failed")
		return
	}

	s.writeEvent("refresh", events.OutcomeSuccess, string(user.Role), user.ID)

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  access,
		SessionToken: newRaw,
		TokenType:    "Bearer",
		ExpiresIn:    s.cfg.Security.JWT.AccessTokenTTL * 60, // seconds
	})
}

// handleLogout revokes the presented session token. Idempotent: unknown
// tokens return success so clients can always clear local state.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req sessionTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionToken == "" {
		writeBadRequest(w, "session_token is required")
		return
	}

	session, err := s.sessionRepo.GetByTokenHash(r.Context(), auth.HashToken(req.SessionToken))
	if err == nil {
		if err := s.sessionRepo.Revoke(r.Context(), session.ID); err != nil {
			s.logger.Error("revoking session on logout failed", "error", err)
			writeInternalError(w, "logout failed")
			return
		}
		s.auditLog(audit.ActionSignOut, "user", session.UserID, session.UserID, map[string]any{"channel": "api"})
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleMe returns the authenticated user and their effective permissions.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{
		"user":        p.User,
		"permissions": auth.PermissionsForRole(p.User.Role),
		"dashboard":   auth.DashboardPath(p.User.Role),
	})
}
