package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/nerrad567/gray-logic-usbrole/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-usbrole/internal/infrastructure/database"
)

// MigrateCmd manages the history database schema.
type MigrateCmd struct {
	Status MigrateStatusCmd `cmd:"" default:"1" help:"List applied and pending migrations (default)."`
	Up     MigrateUpCmd     `cmd:"" help:"Apply pending migrations."`
	Down   MigrateDownCmd   `cmd:"" help:"Roll back the newest applied migrations."`
}

// MigrateStatusCmd prints the schema state.
type MigrateStatusCmd struct{}

// Run lists applied and pending migrations.
func (c *MigrateStatusCmd) Run(ctx context.Context, g *Globals) error {
	db, err := openSchema(ctx, g.Config)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Nothing written

	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	return printMigrations(os.Stdout, db.Path(), applied, pending)
}

// MigrateUpCmd applies pending migrations, as the daemon does at start.
type MigrateUpCmd struct{}

// Run migrates the database to the newest schema.
func (c *MigrateUpCmd) Run(ctx context.Context, g *Globals) error {
	db, err := openSchema(ctx, g.Config)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Migrate commits per migration

	_, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	for _, m := range pending {
		fmt.Fprintf(os.Stdout, "applied %s %s\n", m.Version, m.Name)
	}
	return nil
}

// MigrateDownCmd rolls back migrations, newest first.
type MigrateDownCmd struct {
	Steps int `default:"1" help:"Number of migrations to roll back."`
}

// Run rolls back up to Steps migrations. Stop the daemon first: it
// re-applies pending migrations when it starts.
func (c *MigrateDownCmd) Run(ctx context.Context, g *Globals) error {
	if c.Steps < 1 {
		return fmt.Errorf("--steps must be at least 1, got %d", c.Steps)
	}

	db, err := openSchema(ctx, g.Config)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Each rollback commits on its own

	for i := 0; i < c.Steps; i++ {
		m, ok, err := db.MigrateDown(ctx)
		if err != nil {
			return fmt.Errorf("rolling back: %w", err)
		}
		if !ok {
			fmt.Fprintln(os.Stdout, "no migrations applied")
			return nil
		}
		fmt.Fprintf(os.Stdout, "rolled back %s %s\n", m.Version, m.Name)
	}
	return nil
}

// openSchema opens the configured database without migrating it.
func openSchema(ctx context.Context, configPath string) (*database.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(ctx, databaseConfig(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// printMigrations writes one row per migration, oldest first.
func printMigrations(w io.Writer, path string, applied []database.MigrationRecord, pending []database.Migration) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "DATABASE %s\n", path)
	fmt.Fprintln(tw, "VERSION\tSTATE\tDETAIL")
	for _, r := range applied {
		fmt.Fprintf(tw, "%s\tapplied\t%s\n", r.Version, r.AppliedAt.Local().Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(tw, "%s\tpending\t%s\n", m.Version, m.Name)
	}

	return tw.Flush()
}
