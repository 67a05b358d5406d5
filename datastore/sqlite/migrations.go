package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	ds "github.com/kestrel-sync/bernard/datastore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrate applies every pending schema migration to db, tracked by goose's
// own version table rather than a hand-rolled one. Migrations are
// append-only SQL files under migrations/; once shipped, a file's contents
// never change, new schema changes land as a new, higher-numbered file.
func migrate(ctx context.Context, db *sql.DB) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration sub-filesystem: %w", ds.ErrDatabase)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", ds.ErrDatabase)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", ds.ErrDatabase)
	}

	return nil
}
