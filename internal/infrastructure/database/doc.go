// Package database provides the SQLite store behind the capability history.
//
// It manages:
//   - the connection, with WAL mode so history reads do not block writes
//   - versioned schema migrations embedded in the binary
//   - health checks, and status and rollback for the migrate command
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
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
// Migrations are additive: new columns are NULLable or carry a DEFAULT,
// and every .up.sql ships with a .down.sql. The database file is created
// with 0600 permissions.
package database
