// Package migrations holds the embedded schema for every supported database.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// Up applies all pending migrations for the given driver ("sqlite" or "postgres").
func Up(ctx context.Context, db *sql.DB, driver string) error {
	dialect, dir, err := resolve(driver)
	if err != nil {
		return err
	}

	sub, err := fs.Sub(files, dir)
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, sub)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func resolve(driver string) (goose.Dialect, string, error) {
	switch driver {
	case "sqlite":
		return goose.DialectSQLite3, "sqlite", nil
	case "postgres":
		return goose.DialectPostgres, "postgres", nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", driver)
	}
}
