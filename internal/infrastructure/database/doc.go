// Package database provides SQLite connection management and schema
// migrations for Gatehouse.
//
// # Features
//
//   - WAL mode for concurrent reads during writes
//   - Busy timeout to avoid "database is locked" errors
//   - Foreign key enforcement
//   - Embedded SQL migrations applied at startup
//   - Health checks for readiness probes
//
// # Usage
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     true,
//	    BusyTimeout: 5,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded by the top-level migrations package via go:embed
// and registered through the MigrationsFS variable.
package database
