// Package migrate is one migration runner (built on
// github.com/rakunlabs/muz) usable by every storage-backed schema:
// embedded SQL files plus a Driver, applied in ascending order,
// idempotent, with downgrade rejected by default.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/rakunlabs/muz"
)

// Config carries the migration-table identity and template values;
// datasource info is supplied by the caller, which already holds an
// open *sql.DB.
type Config struct {
	// Table is the name of the version-tracking table, conventionally
	// `<prefix>migrations`.
	Table string
	// Values are template substitutions available to migration SQL
	// files (e.g. TABLE_PREFIX).
	Values map[string]string
	// AllowDowngrade is never set true by any caller in this repo; it
	// exists only so the rejection below is an explicit decision, not
	// an accidental omission.
	AllowDowngrade bool
}

// Runner applies ordered migrations embedded in an fs.FS against an
// already-open database handle.
type Runner struct {
	db     *sql.DB
	fsys   fs.FS
	path   string
	driver string // "sqlite3" | "postgres", matches muz's driver constructors
	cfg    Config
}

// New builds a Runner. driver selects which muz driver constructor to
// use; path is the embedded directory holding *.sql migration files.
func New(db *sql.DB, fsys fs.FS, path, driver string, cfg Config) *Runner {
	if cfg.Table == "" {
		cfg.Table = "_migrations"
	}
	return &Runner{db: db, fsys: fsys, path: path, driver: driver, cfg: cfg}
}

// Run applies all pending migrations in ascending order. Re-running
// after full application is a no-op.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.AllowDowngrade {
		return fmt.Errorf("migrate: downgrade support is not implemented; reject by policy")
	}

	m := muz.Migrate{
		Path:      r.path,
		FS:        r.fsys,
		Extension: ".sql",
		Values:    r.cfg.Values,
	}

	var driver muz.Driver
	switch r.driver {
	case "sqlite3":
		driver = muz.NewSQLiteDriver(r.db, r.cfg.Table, slog.Default())
	case "postgres":
		driver = muz.NewPostgresDriver(r.db, r.cfg.Table, slog.Default())
	default:
		return fmt.Errorf("migrate: unknown driver %q", r.driver)
	}

	if err := m.Migrate(ctx, driver); err != nil {
		return fmt.Errorf("migrate: apply: %w", err)
	}

	return nil
}

// Version reports the highest applied migration version recorded in the
// tracking table, or "0" if none have been applied yet.
func (r *Runner) Version(ctx context.Context) (string, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COALESCE(MAX(version), '0') FROM %s", r.cfg.Table))
	var version string
	if err := row.Scan(&version); err != nil {
		return "0", nil //nolint:nilerr // table may not exist yet; treat as unmigrated
	}
	return version, nil
}
