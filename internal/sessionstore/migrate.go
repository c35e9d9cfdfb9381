package sessionstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for golang-migrate

	"github.com/marmos91/sessionfleet/internal/logger"
	"github.com/marmos91/sessionfleet/internal/sessionstore/migrations"
)

// RunMigrations applies the sessions/user_accounts schema to dsn. golang-migrate
// takes a Postgres advisory lock internally, so concurrent controller
// instances starting at once won't race on the schema.
func RunMigrations(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("sessionstore: opening migration connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("sessionstore: pinging migration connection: %w", err)
	}

	driver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{
		MigrationsTable: "schema_migrations",
		DatabaseName:    "sessionfleet",
	})
	if err != nil {
		return fmt.Errorf("sessionstore: creating postgres migrate driver: %w", err)
	}

	source, err := iofs.New(migrations.FS, "sql")
	if err != nil {
		return fmt.Errorf("sessionstore: creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("sessionstore: creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("sessionstore: applying migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("sessionstore: reading migration version: %w", err)
	}
	if dirty {
		logger.Warn("sessions schema is in a dirty migration state", "version", version)
	}

	return nil
}
