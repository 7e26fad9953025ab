// Gatehouse - Role-Based Authentication Service
//
// This is the main entry point for the Gatehouse application. Gatehouse
// provides browser sign-in/sign-up with role-aware dashboards, a JSON API
// with JWT access tokens and rotating session tokens, OAuth sign-in, and
// an audit trail of authentication activity.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	_ "gatehouse/migrations"

	"gatehouse/internal/audit"
	"gatehouse/internal/auth"
	"gatehouse/internal/infrastructure/config"
	"gatehouse/internal/infrastructure/database"
	"gatehouse/internal/infrastructure/events"
	"gatehouse/internal/infrastructure/logging"
	"gatehouse/internal/web"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Load .env if present. Real environments set variables directly, so a
	// missing file is not an error.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("loading .env: %w", err)
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gatehouse",
		"version", version,
		"commit", commit,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories
	userRepo := auth.NewUserRepository(db.DB)
	sessionRepo := auth.NewSessionRepository(db.DB)
	accountRepo := auth.NewAccountRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Seed the first admin account on an empty user table
	if _, seedErr := auth.SeedAdmin(ctx, userRepo, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin account: %w", seedErr)
	}

	// Connect to InfluxDB events sink (optional)
	var eventsClient *events.Client
	eventsClient, err = events.Connect(cfg.Events)
	switch {
	case errors.Is(err, events.ErrDisabled):
		log.Info("events telemetry disabled")
		eventsClient = nil
	case err != nil:
		return fmt.Errorf("connecting to events sink: %w", err)
	default:
		defer func() {
			log.Info("closing events sink")
			if closeErr := eventsClient.Close(); closeErr != nil {
				log.Error("error closing events sink", "error", closeErr)
			}
		}()
		log.Info("events sink connected",
			"url", cfg.Events.URL,
			"org", cfg.Events.Org,
			"bucket", cfg.Events.Bucket,
		)

		eventsClient.SetOnError(func(err error) {
			log.Error("events write error", "error", err)
		})
	}

	// Start the web server
	srv, err := web.New(web.Deps{
		Config:      cfg,
		Logger:      log,
		UserRepo:    userRepo,
		SessionRepo: sessionRepo,
		AccountRepo: accountRepo,
		AuditRepo:   auditRepo,
		Events:      eventsClient,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating web server: %w", err)
	}

	if startErr := srv.Start(ctx); startErr != nil {
		return fmt.Errorf("starting web server: %w", startErr)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing web server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, srv, eventsClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. Web server (drains in-flight requests)
	// 2. Events sink (if enabled)
	// 3. Database

	log.Info("Gatehouse stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GATEHOUSE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GATEHOUSE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, srv *web.Server, eventsClient *events.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := srv.HealthCheck(ctx); err != nil {
		return fmt.Errorf("web: %w", err)
	}

	if eventsClient != nil {
		if err := eventsClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("events: %w", err)
		}
	}

	return nil
}
