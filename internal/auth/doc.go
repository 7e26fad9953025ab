// Package auth provides authentication and authorisation for Gatehouse.
//
// It implements a 2-tier role model (user → admin) with:
//   - Argon2id password hashing (OWASP 2025 recommendation)
//   - JWT access tokens paired with database-backed rotating sessions
//   - Unified sessions: one record backs both browser cookies and API refresh
//   - OAuth provider sign-in (google, github, or any OIDC-shaped endpoint)
//   - Static role-permission mapping (compile-time, no database lookup)
//
// Session tokens are 256-bit random values; only their SHA-256 hashes ever
// touch the database. Reuse of a revoked session token revokes every session
// for that user, on the assumption the token leaked.
package auth
