package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatehouse/internal/audit"
	"gatehouse/internal/auth"
	"gatehouse/internal/infrastructure/events"
)

// oauthStateCookie carries the anti-CSRF state value between the start of
// the OAuth dance and the provider callback.
const oauthStateCookie = "gatehouse_oauth_state"

// oauthStateBytes is the number of random bytes in the state value.
const oauthStateBytes = 16

// handleOAuthStart redirects the browser to the provider's consent page.
func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if s.accountRepo == nil {
		redirectWithError(w, r, "/auth/sign-in", "oauth sign-in is not configured")
		return
	}

	provider, err := s.oauth.Get(chi.URLParam(r, "provider"))
	if err != nil {
		redirectWithError(w, r, "/auth/sign-in", "unknown sign-in provider")
		return
	}

	b := make([]byte, oauthStateBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	state := hex.EncodeToString(b)

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/oauth",
		MaxAge:   300, //nolint:mnd // five minutes covers the provider round-trip
		HttpOnly: true,
		Secure:   s.cfg.Sessions.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusFound)
}

// handleOAuthCallback completes the provider dance: verify state, exchange
// the code, resolve the identity, link or create the local account, and
// establish a session.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) { //nolint:gocognit // callback: state check + exchange + identity resolution + account linking
	if s.accountRepo == nil {
		redirectWithError(w, r, "/auth/sign-in", "oauth sign-in is not configured")
		return
	}

	providerName := chi.URLParam(r, "provider")
	provider, err := s.oauth.Get(providerName)
	if err != nil {
		redirectWithError(w, r, "/auth/sign-in", "unknown sign-in provider")
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		s.logger.Warn("oauth state mismatch", "provider", providerName)
		redirectWithError(w, r, "/auth/sign-in", "sign-in attempt could not be verified, try again")
		return
	}

	// State is single-use
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/auth/oauth", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		redirectWithError(w, r, "/auth/sign-in", "sign-in was cancelled at the provider")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		redirectWithError(w, r, "/auth/sign-in", "provider did not return an authorisation code")
		return
	}

	token, err := provider.Exchange(r.Context(), code)
	if err != nil {
		s.logger.Error("oauth code exchange failed", "provider", providerName, "error", err)
		redirectWithError(w, r, "/auth/sign-in", "could not complete sign-in with the provider")
		return
	}

	identity, err := s.oauth.FetchIdentity(r.Context(), provider, token)
	if err != nil {
		s.logger.Error("oauth identity fetch failed", "provider", providerName, "error", err)
		redirectWithError(w, r, "/auth/sign-in", "could not read your profile from the provider")
		return
	}

	user, err := s.resolveOAuthUser(r.Context(), providerName, identity)
	if err != nil {
		if errors.Is(err, auth.ErrUserInactive) {
			redirectWithError(w, r, "/auth/sign-in", "this account has been deactivated")
			return
		}
		s.logger.Error("resolving oauth user failed", "provider", providerName, "error", err)
		redirectWithError(w, r, "/auth/sign-in", "something went wrong, try again")
		return
	}

	account := auth.AccountFromToken(providerName, identity, token)
	account.UserID = user.ID
	if err := s.accountRepo.Upsert(r.Context(), account); err != nil {
		s.logger.Error("upserting oauth account failed", "provider", providerName, "error", err)
		redirectWithError(w, r, "/auth/sign-in", "something went wrong, try again")
		return
	}

	raw, session, err := s.createSession(r.Context(), user, r)
	if err != nil {
		s.logger.Error("creating session after oauth failed", "error", err)
		redirectWithError(w, r, "/auth/sign-in", "something went wrong, try again")
		return
	}

	s.setSessionCookie(w, raw)
	s.logger.Info("oauth sign-in", "user_id", user.ID, "provider", providerName, "session_id", session.ID)
	s.auditLog(audit.ActionOAuthLink, "user", user.ID, user.ID, map[string]any{"provider": providerName})
	s.writeEvent("oauth_sign_in", events.OutcomeSuccess, string(user.Role), user.ID)

	http.Redirect(w, r, auth.DashboardPath(user.Role), http.StatusFound)
}

// resolveOAuthUser maps a provider identity to a local user. Precedence:
// an existing provider link wins; otherwise the identity's email joins an
// existing account or creates a fresh one with the user role.
func (s *Server) resolveOAuthUser(ctx context.Context, providerName string, identity *auth.Identity) (*auth.User, error) {
	if linked, err := s.accountRepo.GetByProviderAccount(ctx, providerName, identity.ProviderAccountID); err == nil {
		user, err := s.userRepo.GetByID(ctx, linked.UserID)
		if err != nil {
			return nil, err
		}
		if !user.IsActive {
			return nil, auth.ErrUserInactive
		}
		return user, nil
	} else if !errors.Is(err, auth.ErrAccountNotFound) {
		return nil, err
	}

	user, err := s.userRepo.GetByEmail(ctx, identity.Email)
	if err == nil {
		if !user.IsActive {
			return nil, auth.ErrUserInactive
		}
		return user, nil
	}
	if !errors.Is(err, auth.ErrUserNotFound) {
		return nil, err
	}

	// First sign-in via this provider: create the account. No password is
	// set, so credential sign-in stays closed until the user sets one.
	user = &auth.User{
		Email:    identity.Email,
		Name:     identity.Name,
		Role:     auth.RoleUser,
		IsActive: true,
	}
	if user.Name == "" {
		user.Name = identity.Email
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user created via oauth", "user_id", user.ID, "provider", providerName)
	s.auditLog(audit.ActionSignUp, "user", user.ID, user.ID, map[string]any{"provider": providerName})

	return user, nil
}
