package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatehouse/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Browser-facing pages. The session middleware resolves the cookie
	// into a principal; per-route guards decide where visitors land.
	r.Group(func(r chi.Router) {
		r.Use(s.sessionMiddleware)

		r.Get("/", s.handleHome)

		r.Route("/auth", func(r chi.Router) {
			r.Get("/sign-in", s.handleSignInPage)
			r.Get("/sign-up", s.handleSignUpPage)

			r.Group(func(r chi.Router) {
				r.Use(s.rateLimitMiddleware)
				r.Post("/sign-in", s.handleSignInForm)
				r.Post("/sign-up", s.handleSignUpForm)
			})

			r.Post("/sign-out", s.handleSignOut)

			r.Get("/oauth/{provider}", s.handleOAuthStart)
			r.Get("/oauth/{provider}/callback", s.handleOAuthCallback)
		})

		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/user", s.requirePage(auth.PermDashboardUser, s.handleDashboardUser))
			r.Get("/admin", s.requirePage(auth.PermDashboardAdmin, s.handleDashboardAdmin))
		})
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Credential endpoints (no auth required, rate limited)
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)
		})

		r.Post("/auth/logout", s.handleLogout)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.apiAuthMiddleware)

			r.Get("/auth/me", s.handleMe)

			// User management (admin only)
			r.Route("/users", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermUserRead))

				r.Get("/", s.handleListUsers)

				r.Group(func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermUserManage))
					r.Post("/", s.handleCreateUser)
				})

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetUser)

					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermUserManage))
						r.Patch("/", s.handleUpdateUser)
						r.Delete("/", s.handleDeleteUser)
						r.Post("/promote", s.handlePromoteUser)
						r.Post("/demote", s.handleDemoteUser)
					})

					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermSessionRevoke))
						r.Get("/sessions", s.handleListUserSessions)
						r.Delete("/sessions", s.handleRevokeUserSessions)
					})
				})
			})

			// Audit trail (admin only)
			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermAuditRead))
				r.Get("/audit", s.handleListAuditLogs)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
