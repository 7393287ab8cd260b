// Package pgmigrate embeds and applies the relational schema for topics,
// source runs, bricks and prompts on startup.
package pgmigrate

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// Up applies every pending migration against dsn. It opens its own
// short-lived database/sql handle — the pool used by engine/pgstore for
// normal queries is separate and unaffected.
func Up(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("pgmigrate: open: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("pgmigrate: postgres driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("pgmigrate: source: %w", err)
	}
	defer src.Close()

	m, err := migrate.NewWithInstance("iofs", src, "nexus", driver)
	if err != nil {
		return fmt.Errorf("pgmigrate: instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("pgmigrate: up: %w", err)
	}
	return nil
}
