package store

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// runMigrations applies every pending migration for the dialect found under
// migrations/<dir>.
func runMigrations(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string) error {
	fsys, err := fs.Sub(migrationsFS, "migrations/"+dir)
	if err != nil {
		return eris.Wrapf(err, "store: migrations %s", dir)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return eris.Wrap(err, "store: create migration provider")
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return eris.Wrap(err, "store: apply migrations")
	}
	for _, r := range results {
		zap.L().Info("store: applied migration",
			zap.String("dialect", dir),
			zap.Int64("version", r.Source.Version),
			zap.Duration("duration", r.Duration),
		)
	}
	return nil
}
