package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"gatehouse/internal/auth"
	"gatehouse/internal/infrastructure/events"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// ctxKeyRequestID is the context key for the request ID.
	ctxKeyRequestID contextKey = "request_id"

	// ctxKeyPrincipal is the context key for the authenticated principal.
	ctxKeyPrincipal contextKey = "principal"
)

// principal is the authenticated identity attached to a request. Page
// requests carry a session-backed principal; API requests carry a
// JWT-backed one (SessionID names the session the token was minted from).
type principal struct {
	User      *auth.User
	SessionID string
}

// principalFromContext returns the authenticated principal, or nil for
// anonymous requests.
func principalFromContext(ctx context.Context) *principal {
	p, _ := ctx.Value(ctxKeyPrincipal).(*principal)
	return p
}

// requestIDMiddleware generates a unique request ID for each request.
// If the client sends an X-Request-ID header, it is used; otherwise one is generated.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each HTTP request with method, path, status, and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	})
}

// recoveryMiddleware catches panics in handlers and returns a 500 response.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", r.Context().Value(ctxKeyRequestID),
				)
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles Cross-Origin Resource Sharing headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", joinOrDefault(s.cfg.Server.CORS.AllowedMethods, "GET, POST, PUT, PATCH, DELETE, OPTIONS"))
			w.Header().Set("Access-Control-Allow-Headers", joinOrDefault(s.cfg.Server.CORS.AllowedHeaders, "Authorization, Content-Type, X-Request-ID"))
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		// Handle preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// bodySizeLimitMiddleware limits the size of incoming request bodies to prevent
// denial-of-service attacks via oversized payloads.
func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// ─── Session auth (pages) ────────────────────────────────────────────

// sessionMiddleware resolves the session cookie into a principal, if present.
// It never rejects: anonymous requests pass through without a principal so
// the sign-in pages stay reachable. Guards are applied per-route.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(s.cfg.Sessions.CookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, sessionID, err := s.resolveSessionToken(r.Context(), cookie.Value)
		if err != nil {
			if !isSessionError(err) && !errors.Is(err, auth.ErrUserNotFound) && !errors.Is(err, auth.ErrUserInactive) {
				s.logger.Error("resolving session failed", "error", err)
			}
			// Stale or revoked cookie. Clear it so the browser stops sending it.
			s.clearSessionCookie(w)
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, &principal{
			User:      user,
			SessionID: sessionID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveSessionToken validates a raw session token against the store and
// returns the owning user. Reuse of a revoked token revokes every session
// for that user, on the assumption the token leaked.
func (s *Server) resolveSessionToken(ctx context.Context, rawToken string) (*auth.User, string, error) {
	session, err := s.sessionRepo.GetByTokenHash(ctx, auth.HashToken(rawToken))
	if err != nil {
		return nil, "", err
	}

	if session.Revoked {
		if err := s.sessionRepo.RevokeAllForUser(ctx, session.UserID); err != nil {
			s.logger.Error("revoking sessions after token reuse failed", "error", err, "user_id", session.UserID)
		}
		s.logger.Warn("revoked session token reused, all sessions revoked", "user_id", session.UserID)
		s.writeEvent("session_reuse", events.OutcomeDenied, "", session.UserID)
		return nil, "", auth.ErrSessionRevoked
	}

	if time.Now().After(session.ExpiresAt) {
		return nil, "", auth.ErrSessionExpired
	}

	user, err := s.userRepo.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, "", err
	}
	if !user.IsActive {
		return nil, "", auth.ErrUserInactive
	}

	return user, session.ID, nil
}

// requirePage guards an HTML route: anonymous visitors are redirected to the
// sign-in page, and signed-in visitors lacking the permission are sent to
// their own dashboard rather than shown an error page.
func (s *Server) requirePage(perm auth.Permission, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := principalFromContext(r.Context())
		if p == nil {
			http.Redirect(w, r, "/auth/sign-in", http.StatusFound)
			return
		}
		if !auth.HasPermission(p.User.Role, perm) {
			http.Redirect(w, r, auth.DashboardPath(p.User.Role), http.StatusFound)
			return
		}
		next(w, r)
	}
}

// ─── Bearer auth (API) ───────────────────────────────────────────────

// apiAuthMiddleware validates JWT bearer tokens on protected API routes and
// attaches the principal. The user record is re-read so deactivation and
// demotion take effect within a token's lifetime.
func (s *Server) apiAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeUnauthorized(w, "missing bearer token")
			return
		}

		claims, err := auth.ParseToken(strings.TrimPrefix(header, "Bearer "), s.cfg.Security.JWT.Secret)
		if err != nil {
			writeUnauthorized(w, "invalid or expired token")
			return
		}

		user, err := s.userRepo.GetByID(r.Context(), claims.Subject)
		if err != nil {
			writeUnauthorized(w, "unknown user")
			return
		}
		if !user.IsActive {
			writeUnauthorized(w, "account is inactive")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, &principal{
			User:      user,
			SessionID: claims.SessionID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission guards an API route with a 403 on missing permission.
func (s *Server) requirePermission(perm auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := principalFromContext(r.Context())
			if p == nil {
				writeUnauthorized(w, "authentication required")
				return
			}
			if !auth.HasPermission(p.User.Role, perm) {
				writeForbidden(w, auth.ErrForbidden.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ─── Rate limiting ───────────────────────────────────────────────────

// rateLimiter applies a fixed-window per-IP limit to credential endpoints.
// Windows reset every minute; stale entries are swept by cleanLimiterLoop.
type rateLimiter struct {
	mu      sync.Mutex
	windows map[string]*limiterWindow
	limit   int
}

type limiterWindow struct {
	count   int
	resetAt time.Time
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	// allow always admits the first request of a window, so a limit
	// below one would silently behave as one per minute. Clamp instead.
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	return &rateLimiter{
		windows: make(map[string]*limiterWindow),
		limit:   requestsPerMinute,
	}
}

// allow records a request from the given key and reports whether it is
// within the window's budget.
func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	win, ok := rl.windows[key]
	if !ok || now.After(win.resetAt) {
		rl.windows[key] = &limiterWindow{count: 1, resetAt: now.Add(time.Minute)}
		return true
	}

	win.count++
	return win.count <= rl.limit
}

// sweep removes expired windows to bound memory.
func (rl *rateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, win := range rl.windows {
		if now.After(win.resetAt) {
			delete(rl.windows, key)
		}
	}
}

// rateLimitMiddleware rejects clients that exceed the per-IP budget on
// credential endpoints (sign-in, sign-up, login, refresh).
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Security.RateLimit.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if !s.limiter.allow(clientIP(r)) {
			s.logger.Warn("rate limit exceeded", "ip", clientIP(r), "path", r.URL.Path)
			writeTooManyRequests(w, "too many attempts, slow down")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// cleanLimiterLoop sweeps the rate limiter periodically until the context is cancelled.
func (s *Server) cleanLimiterLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.sweep()
		}
	}
}

// clientIP extracts the client address without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ─── Helpers ─────────────────────────────────────────────────────────

// isAllowedOrigin checks if the origin is in the allowed list.
// An empty list allows all origins (dev mode).
func (s *Server) isAllowedOrigin(origin string) bool {
	if len(s.cfg.Server.CORS.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.Server.CORS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// requestIDBytes is the number of random bytes used for request IDs.
const requestIDBytes = 8

// generateRequestID creates a random hex request ID.
func generateRequestID() string {
	b := make([]byte, requestIDBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// joinOrDefault joins a string slice with ", " or returns the default if empty.
func joinOrDefault(values []string, defaultVal string) string {
	if len(values) == 0 {
		return defaultVal
	}
	return strings.Join(values, ", ")
}

// isSessionError reports whether the error is an expected session failure
// rather than an infrastructure fault.
func isSessionError(err error) bool {
	return errors.Is(err, auth.ErrSessionInvalid) ||
		errors.Is(err, auth.ErrSessionExpired) ||
		errors.Is(err, auth.ErrSessionRevoked)
}
