package postgres

import (
	"context"
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies pending migrations in file name order. Each file runs in
// its own transaction and is recorded in schema_migrations.
func Migrate(ctx context.Context, db *sql.DB, logger *zap.SugaredLogger) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return errors.Wrap(err, "read migrations")
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	applied := 0
	for _, name := range files {
		version, _, _ := strings.Cut(name, "_")

		var exists bool
		err := db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&exists)
		if err != nil {
			// schema_migrations is created by 000.
			if version != "000" {
				return errors.Wrapf(err, "check migration %s", name)
			}
		} else if exists {
			logger.Debugw("migration already applied", "migration", name)
			continue
		}

		body, err := migrations.ReadFile(path.Join("migrations", name))
		if err != nil {
			return errors.Wrapf(err, "read %s", name)
		}

		logger.Infow("applying migration", "migration", name)
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrapf(err, "begin %s", name)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "execute %s", name)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING", version); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "record %s", name)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit %s", name)
		}
		applied++
	}

	logger.Infow("migrations complete", "applied", applied, "total", len(files))
	return nil
}
