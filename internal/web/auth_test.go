package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"gatehouse/internal/auth"
)

// postForm submits an HTML form to the router.
func postForm(t *testing.T, router http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// postJSON submits a JSON body to the router.
func postJSON(t *testing.T, router http.Handler, path, body, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// apiLogin logs in via the JSON API and returns the token pair.
func apiLogin(t *testing.T, router http.Handler, email string) loginResponse {
	t.Helper()

	w := postJSON(t, router, "/api/v1/auth/login", `{"email":"`+email+`","password":"`+testPassword+`"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp loginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}
	return resp
}

// ─── Sign-up Form Tests ────────────────────────────────────────────

func TestSignUpForm_CreatesUserAndSignsIn(t *testing.T) {
	srv, db := testServer(t)
	router := srv.buildRouter()

	w := postForm(t, router, "/auth/sign-up", url.Values{
		"name":     {"New Person"},
		"email":    {"new@example.com"},
		"password": {"long-enough-password"},
	})

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); loc != "/dashboard/user" {
		t.Errorf("location = %q, want /dashboard/user", loc)
	}

	cookieSet := false
	for _, c := range w.Result().Cookies() {
		if c.Name == "gatehouse_session" && c.Value != "" {
			cookieSet = true
		}
	}
	if !cookieSet {
		t.Error("expected sign-up to set a session cookie")
	}

	user, err := auth.NewUserRepository(db).GetByEmail(context.Background(), "new@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if user.Role != auth.RoleUser {
		t.Errorf("role = %q, want %q", user.Role, auth.RoleUser)
	}
	if !user.IsActive {
		t.Error("expected new account to be active")
	}
}

func TestSignUpForm_RejectsInvalidInput(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	tests := []struct {
		name string
		form url.Values
	}{
		{"missing name", url.Values{"email": {"a@example.com"}, "password": {"long-enough-password"}}},
		{"bad email", url.Values{"name": {"A"}, "email": {"not-an-email"}, "password": {"long-enough-password"}}},
		{"short password", url.Values{"name": {"A"}, "email": {"a@example.com"}, "password": {"short"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postForm(t, router, "/auth/sign-up", tt.form)

			if w.Code != http.StatusFound {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
			}
			loc := w.Header().Get("Location")
			if !strings.HasPrefix(loc, "/auth/sign-up?error=") {
				t.Errorf("location = %q, want sign-up redirect with error", loc)
			}
		})
	}
}

func TestSignUpForm_DuplicateEmail(t *testing.T) {
	srv, db := testServer(t)
	router := srv.buildRouter()
	seedUser(t, db, "taken@example.com", auth.RoleUser)

	w := postForm(t, router, "/auth/sign-up", url.Values{
		"name":     {"Someone Else"},
		"email":    {"taken@example.com"},
		"password": {"long-enough-password"},
	})

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	loc := w.Header().Get("Location")
	if !strings.HasPrefix(loc, "/auth/sign-up?error=") {
		t.Errorf("location = %q, want sign-up redirect with error", loc)
	}
}

// ─── Sign-in Form Tests ────────────────────────────────────────────

func TestSignInForm_WrongPassword(t *testing.T) {
	srv, db := testServer(t)
	router := srv.buildRouter()
	seedUser(t, db, "user@example.com", auth.RoleUser)

	w := postForm(t, router, "/auth/sign-in", url.Values{
		"email":    {"user@example.com"},
		"password": {"wrong-password"},
	})

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	loc := w.Header().Get("Location")
	if !strings.HasPrefix(loc, "/auth/sign-in?error=") {
		t.Errorf("location = %q, want sign-in redirect with error", loc)
	}
}

func TestSignInForm_UnknownEmail_SameResponse(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	// Unknown emails must be indistinguishable from wrong passwords.
	w := postForm(t, router, "/auth/sign-in", url.Values{
		"email":    {"nobody@example.com"},
		"password": {"whatever-password"},
	})

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	loc := w.Header().Get("Location")
	if !strings.Contains(loc, url.QueryEscape("invalid email or password")) {
		t.Errorf("location = %q, want generic credentials message", loc)
	}
}

func TestSignInForm_InactiveAccount(t *testing.T) {
	srv, db := testServer(t)
	router := srv.buildRouter()
	user := seedUser(t, db, "gone@example.com", auth.RoleUser)

	user.IsActive = false
	if err := auth.NewUserRepository(db).Update(context.Background(), user); err != nil {
		t.Fatalf("Update: %v", err)
	}

	w := postForm(t, router, "/auth/sign-in", url.Values{
		"email":    {"gone@example.com"},
		"password": {testPassword},
	})

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	loc := w.Header().Get("Location")
	if !strings.Contains(loc, url.QueryEscape("deactivated")) {
		t.Errorf("location = %q, want deactivation message", loc)
	}
}

// ─── Sign-out Tests ────────────────────────────────────────────────

func TestSignOut_RevokesSession(t *testing.T) {
	srv, db := testServer(t)
	router := srv.buildRouter()
	seedUser(t, db, "user@example.com", auth.RoleUser)
	cookie := signIn(t, router, "user@example.com")

	req := httptest.NewRequest(http.MethodPost, "/auth/sign-out", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}

	// The old cookie no longer authenticates.
	req = httptest.NewRequest(http.MethodGet, "/dashboard/user", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if loc := w.Header().Get("Location"); loc != "/auth/sign-in" {
		t.Errorf("location after sign-out = %q, want /auth/sign-in", loc)
	}
}

// ─── API Login Tests ───────────────────────────────────────────────

func TestAPILogin_ReturnsTokenPair(t *testing.T) {
	srv, db := testServer(t)
	router := srv.buildRouter()
	seedUser(t, db, "user@example.com", auth.RoleUser)

	resp := apiLogin(t, router, "user@example.com")

	if resp.AccessToken == "" {
		t.Error("expected access token")
	}
	if resp.SessionToken == "" {
		t.Error("expected session token")
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", resp.TokenType)
	}
	if resp.ExpiresIn != 15*60 {
		t.Errorf("expires_in = %d, want %d", resp.ExpiresIn, 15*60)
	}
}

func TestAPILogin_InvalidCredentials(t *testing.T) {
	srv, db := testServer(t)
	router := srv.buildRouter()
	seedUser(t, db, "user@example.com", auth.RoleUser)

	w := postJSON(t, router, "/api/v1/auth/login", `{"email":"user@example.com","password":"wrong-password"}`, "")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAPILogin_InactiveAccount(t *testing.T) {
	srv, db := testServer(t)
	router := srv.buildRouter()
	user := seedUser(t, db, "gone@example.com", auth.RoleUser)

	user.IsActive = false
	if err := auth.NewUserRepository(db).Update(context.Background(), user); err != nil {
		t.Fatalf("Update: %v", err)
	}

	w := postJSON(t, router, "/api/v1/auth/login", `{"email":"gone@example.com","password":"`+testPassword+`"}`, "")

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

// ─── API Refresh Tests ─────────────────────────────────────────────

func TestAPIRefresh_RotatesSession(t *testing.T) {
	srv, db := testServer(t)
	router := srv.buildRouter()
	seedUser(t, db, "user@example.com", auth.RoleUser)
	first := apiLogin(t, router, "user@example.com")

	w := postJSON(t, router, "/api/v1/auth/refresh", `{"session_token":"`+first.SessionToken+`"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var second loginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if second.SessionToken == first.SessionToken {
		t.Error("expected refresh to rotate the session token")
	}
	if second.AccessToken == "" {
		t.Error("expected a fresh access token")
	}

	// The rotated-out token is now revoked.
	w = postJSON(t, router, "/api/v1/auth/refresh", `{"session_token":"`+first.SessionToken+`"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("reused token status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAPIRefresh_ReuseRevokesAllSessions(t *testing.T) {
	srv, db := testServer(t)
	router := srv.buildRouter()
	user := seedUser(t, db, "user@example.com", auth.RoleUser)

	first := apiLogin(t, router, "user@example.com")

	// Rotate once, obtaining the live replacement.
	w := postJSON(t, router, "/api/v1/auth/refresh", `{"session_token":"`+first.SessionToken+`"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, want %d", w.Code, http.StatusOK)
	}
	var second loginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// Presenting the rotated-out token is treated as theft.
	w = postJSON(t, router, "/api/v1/auth/refresh", `{"session_token":"`+first.SessionToken+`"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("reuse status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	// Even the legitimate replacement is revoked.
	w = postJSON(t, router, "/api/v1/auth/refresh", `{"session_token":"`+second.SessionToken+`"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("replacement after reuse status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	active, err := auth.NewSessionRepository(db).ListActiveByUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("ListActiveByUser: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active sessions = %d, want 0 after reuse detection", len(active))
	}
}

func TestAPIRefresh_MissingToken(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	w := postJSON(t, router, "/api/v1/auth/refresh", `{}`, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ─── API Logout Tests ──────────────────────────────────────────────

func TestAPILogout_Idempotent(t *testing.T) {
	srv, db := testServer(t)
	router := srv.buildRouter()
	seedUser(t, db, "user@example.com", auth.RoleUser)
	resp := apiLogin(t, router, "user@example.com")

	for i := 0; i < 2; i++ {
		w := postJSON(t, router, "/api/v1/auth/logout", `{"session_token":"`+resp.SessionToken+`"}`, "")
		if w.Code != http.StatusOK {
			t.Errorf("logout attempt %d status = %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}

	// A logged-out token cannot refresh.
	w := postJSON(t, router, "/api/v1/auth/refresh", `{"session_token":"`+resp.SessionToken+`"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("refresh after logout status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// ─── /auth/me Tests ────────────────────────────────────────────────

func TestMe_ReturnsUserAndPermissions(t *testing.T) {
	srv, db := testServer(t)
	router := srv.buildRouter()
	seedUser(t, db, "admin@example.com", auth.RoleAdmin)
	resp := apiLogin(t, router, "admin@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var body struct {
		User        auth.User `json:"user"`
		Permissions []string  `json:"permissions"`
		Dashboard   string    `json:"dashboard"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if body.User.Email != "admin@example.com" {
		t.Errorf("email = %q, want admin@example.com", body.User.Email)
	}
	if body.Dashboard != "/dashboard/admin" {
		t.Errorf("dashboard = %q, want /dashboard/admin", body.Dashboard)
	}
	if len(body.Permissions) == 0 {
		t.Error("expected admin permissions to be listed")
	}
}

func TestMe_NoToken(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestMe_GarbageToken(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAPIAuth_DeactivatedUserRejected(t *testing.T) {
	srv, db := testServer(t)
	router := srv.buildRouter()
	user := seedUser(t, db, "user@example.com", auth.RoleUser)
	resp := apiLogin(t, router, "user@example.com")

	user.IsActive = false
	if err := auth.NewUserRepository(db).Update(context.Background(), user); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Deactivation takes effect within the token's lifetime.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
