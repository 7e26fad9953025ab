// Package web implements the HTTP server for Gatehouse.
//
// It serves two surfaces from one router:
//   - Browser pages: sign-in, sign-up, OAuth provider flows, and the
//     role-gated dashboards, authenticated by an HttpOnly session cookie
//   - JSON API under /api/v1: login/refresh/logout, user management,
//     session revocation, and the audit trail, authenticated by JWT
//
// # Routing rules
//
// Anonymous visitors hitting any protected page are redirected to
// /auth/sign-in. Signed-in visitors land on the dashboard their role
// permits: admins on /dashboard/admin, everyone else on /dashboard/user.
// A non-admin requesting /dashboard/admin is redirected to their own
// dashboard rather than shown an error page. The API returns 401/403
// instead of redirecting.
//
// # Security
//
// Session cookies are HttpOnly, SameSite=Lax, and carry a random 256-bit
// token whose hash is stored server-side. API refresh rotates the session
// token; reuse of a rotated-away token revokes every session for that user.
// Credential endpoints are rate limited per IP.
//
// # Graceful degradation
//
// The audit trail, OAuth sign-in, and the telemetry sink are optional
// dependencies; the server runs without them with those features dark.
package web
