package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gatehouse/internal/audit"
	"gatehouse/internal/auth"
	"gatehouse/internal/infrastructure/config"
	"gatehouse/internal/infrastructure/events"
	"gatehouse/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// sessionGCInterval is how often expired sessions are purged from the database.
const sessionGCInterval = time.Hour

// Deps holds the dependencies required by the web server.
type Deps struct {
	Config      *config.Config
	Logger      *logging.Logger
	UserRepo    auth.UserRepository
	SessionRepo auth.SessionRepository
	AccountRepo auth.AccountRepository
	AuditRepo   audit.Repository
	Events      *events.Client // optional telemetry sink
	Version     string
}

// Server is the HTTP server for Gatehouse.
//
// It serves both the browser-facing pages (sign-in, sign-up, dashboards)
// and the JSON API under /api/v1. The server is created with New() and
// started with Start().
type Server struct {
	cfg         *config.Config
	logger      *logging.Logger
	userRepo    auth.UserRepository
	sessionRepo auth.SessionRepository
	accountRepo auth.AccountRepository
	auditRepo   audit.Repository
	events      *events.Client
	oauth       *auth.OAuthRegistry
	limiter     *rateLimiter
	version     string
	server      *http.Server
	auditCh     chan *audit.AuditLog
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// auditChanSize is the buffer size for the async audit log channel.
// Entries beyond this are dropped (best-effort) to avoid back-pressure on requests.
const auditChanSize = 256

// New creates a new web server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.UserRepo == nil || deps.SessionRepo == nil {
		return nil, fmt.Errorf("user and session repositories are required")
	}
	// AccountRepo, AuditRepo, and Events are optional: OAuth sign-in,
	// the audit trail, and telemetry degrade gracefully without them.

	s := &Server{
		cfg:         deps.Config,
		logger:      deps.Logger,
		userRepo:    deps.UserRepo,
		sessionRepo: deps.SessionRepo,
		accountRepo: deps.AccountRepo,
		auditRepo:   deps.AuditRepo,
		events:      deps.Events,
		oauth:       auth.NewOAuthRegistry(deps.Config.OAuth, deps.Config.App.BaseURL),
		limiter:     newRateLimiter(deps.Config.Security.RateLimit.RequestsPerMinute),
		version:     deps.Version,
	}

	if deps.AuditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It builds the router, starts the background loops (audit drain, session
// garbage collection, rate limiter sweep), and launches the HTTP listener
// in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.auditCh != nil {
		go s.drainAuditLog(srvCtx)
	}
	go s.cleanLimiterLoop(srvCtx)
	go s.sessionGCLoop(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		var err error
		if s.cfg.Server.TLS.Enabled {
			s.logger.Info("web server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.Server.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		} else {
			s.logger.Info("web server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("web server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the web server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (audit drain, GC, limiter sweep)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("web server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down web server: %w", err)
	}
	return nil
}

// HealthCheck verifies the web server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("web health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("web server not started")
	}

	return nil
}

// sessionGCLoop purges expired sessions periodically and reports the active
// session count to the events sink.
func (s *Server) sessionGCLoop(ctx context.Context) {
	ticker := time.NewTicker(sessionGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.sessionRepo.DeleteExpired(ctx)
			if err != nil {
				s.logger.Error("session garbage collection failed", "error", err)
				continue
			}
			if deleted > 0 {
				s.logger.Info("expired sessions purged", "count", deleted)
			}

			if s.events != nil {
				if active, err := s.sessionRepo.CountActive(ctx); err == nil {
					s.events.WriteSessionGauge(active)
				}
			}
		}
	}
}

// writeEvent forwards an auth event to the telemetry sink, if configured.
func (s *Server) writeEvent(event, outcome, role, userID string) {
	if s.events == nil {
		return
	}
	s.events.WriteAuthEvent(event, outcome, role, userID)
}
