package internal

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Migrations ship inside the binary so a deploy is a single artifact; the
// accounts and commission_ledger schema is applied on startup before any
// request is served.
//
//go:embed migrations/*.sql
var migrations embed.FS

// RunMigrations brings the database schema up to date.
func RunMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
