package web

import (
	"embed"
	"html/template"
	"net/http"

	"gatehouse/internal/auth"
)

//go:embed templates/*.html
var templateFS embed.FS

// pageTemplates holds the parsed page templates. Each page defines its own
// content block against the shared layout.
var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// pageData is the payload passed to every page template.
type pageData struct {
	Title     string
	User      *auth.User
	Providers []string
	Error     string
	Notice    string
}

// renderPage executes a named page template. Render failures after the
// header is written can only be logged.
func (s *Server) renderPage(w http.ResponseWriter, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("rendering page failed", "template", name, "error", err)
	}
}

// handleHome routes the root path by authentication state: anonymous
// visitors go to sign-in, signed-in users land on their role's dashboard.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	if p == nil {
		http.Redirect(w, r, "/auth/sign-in", http.StatusFound)
		return
	}
	http.Redirect(w, r, auth.DashboardPath(p.User.Role), http.StatusFound)
}

// handleSignInPage renders the sign-in form. Already signed-in visitors
// are sent straight to their dashboard.
func (s *Server) handleSignInPage(w http.ResponseWriter, r *http.Request) {
	if p := principalFromContext(r.Context()); p != nil {
		http.Redirect(w, r, auth.DashboardPath(p.User.Role), http.StatusFound)
		return
	}

	s.renderPage(w, "sign_in.html", pageData{
		Title:     "Sign in",
		Providers: s.oauth.Names(),
		Error:     flashError(r),
		Notice:    flashNotice(r),
	})
}

// handleSignUpPage renders the registration form.
func (s *Server) handleSignUpPage(w http.ResponseWriter, r *http.Request) {
	if p := principalFromContext(r.Context()); p != nil {
		http.Redirect(w, r, auth.DashboardPath(p.User.Role), http.StatusFound)
		return
	}

	s.renderPage(w, "sign_up.html", pageData{
		Title:     "Create account",
		Providers: s.oauth.Names(),
		Error:     flashError(r),
	})
}

// handleDashboardUser renders the regular user dashboard.
func (s *Server) handleDashboardUser(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	s.renderPage(w, "dashboard_user.html", pageData{
		Title: "Dashboard",
		User:  p.User,
	})
}

// handleDashboardAdmin renders the admin dashboard.
func (s *Server) handleDashboardAdmin(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	s.renderPage(w, "dashboard_admin.html", pageData{
		Title: "Admin dashboard",
		User:  p.User,
	})
}

// Flash messages travel in query parameters; the sign-in flow redirects
// back with ?error= or ?notice= rather than holding server-side state.
// Values are escaped by html/template on render.

func flashError(r *http.Request) string {
	return r.URL.Query().Get("error")
}

func flashNotice(r *http.Request) string {
	return r.URL.Query().Get("notice")
}
