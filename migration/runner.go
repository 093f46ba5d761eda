// Package migration applies plugin-supplied SQL migrations to the host
// database. Migrations are versioned per plugin, sorted and applied in
// ascending order, each exactly once inside its own transaction, tracked by
// a persisted record per applied version.
package migration

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/timewarden/pluginhost/sdk"
)

// Applied records a migration that has already been applied.
type Applied struct {
	PluginID  string
	Version   int
	Checksum  string
	AppliedAt time.Time
}

// Store persists records of applied migrations.
type Store interface {
	// Applied returns all applied migrations for the given plugin, ordered by version.
	Applied(ctx context.Context, pluginID string) ([]Applied, error)
	// Record stores an applied migration record.
	Record(ctx context.Context, pluginID string, version int, checksum string) error
}

// Runner applies pending plugin migrations against the host database.
type Runner struct {
	store  Store
	locker Lock
	logger *slog.Logger
}

// NewRunner creates a Runner. A nil logger falls back to slog.Default.
func NewRunner(store Store, locker Lock, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:  store,
		locker: locker,
		logger: logger,
	}
}

// Pending returns the migrations that have not yet been applied for the
// plugin, in ascending version order, without applying them.
func (r *Runner) Pending(ctx context.Context, pluginID string, migrations []sdk.Migration) ([]sdk.Migration, error) {
	applied, err := r.store.Applied(ctx, pluginID)
	if err != nil {
		return nil, fmt.Errorf("query applied for %s: %w", pluginID, err)
	}

	appliedVersions := make(map[int]bool, len(applied))
	for _, a := range applied {
		appliedVersions[a.Version] = true
	}

	sorted, err := sortMigrations(migrations)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", pluginID, err)
	}

	var pending []sdk.Migration
	for _, m := range sorted {
		if !appliedVersions[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Run applies all pending migrations for the plugin. Migrations are sorted
// into strictly ascending version order regardless of the order supplied,
// each runs in its own transaction, and each applied version is recorded
// before the next begins.
func (r *Runner) Run(ctx context.Context, db *sql.DB, pluginID string, migrations []sdk.Migration) error {
	release, err := r.locker.Acquire(ctx, "migrations:"+pluginID)
	if err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer release()

	pending, err := r.Pending(ctx, pluginID, migrations)
	if err != nil {
		return err
	}

	for _, m := range pending {
		r.logger.Info("applying migration",
			"plugin", pluginID, "version", m.Version, "name", m.Name)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for v%d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("plugin %s: execute v%d (%s): %w", pluginID, m.Version, m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit v%d: %w", m.Version, err)
		}

		if err := r.store.Record(ctx, pluginID, m.Version, checksumSQL(m.SQL)); err != nil {
			return fmt.Errorf("record v%d: %w", m.Version, err)
		}
	}
	return nil
}

// Status returns the applied migrations per plugin.
func (r *Runner) Status(ctx context.Context, pluginIDs ...string) (map[string][]Applied, error) {
	result := make(map[string][]Applied, len(pluginIDs))
	for _, id := range pluginIDs {
		applied, err := r.store.Applied(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("query applied for %s: %w", id, err)
		}
		result[id] = applied
	}
	return result, nil
}

// sortMigrations returns a copy sorted ascending by version. Duplicate or
// non-positive versions are rejected.
func sortMigrations(migrations []sdk.Migration) ([]sdk.Migration, error) {
	sorted := make([]sdk.Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	for i, m := range sorted {
		if m.Version <= 0 {
			return nil, fmt.Errorf("migration %q has non-positive version %d", m.Name, m.Version)
		}
		if i > 0 && sorted[i-1].Version == m.Version {
			return nil, fmt.Errorf("duplicate migration version %d", m.Version)
		}
	}
	return sorted, nil
}

// checksumSQL computes a short sha256 checksum for a SQL string.
func checksumSQL(sql string) string {
	h := sha256.Sum256([]byte(sql))
	return fmt.Sprintf("%x", h[:8])
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLiteStore and ensures the _migrations table exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS _migrations (
		plugin_id  TEXT NOT NULL,
		version    INTEGER NOT NULL,
		checksum   TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (plugin_id, version)
	)`)
	if err != nil {
		return nil, fmt.Errorf("create _migrations table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Applied returns all applied migrations for the given plugin, ordered by version.
func (s *SQLiteStore) Applied(ctx context.Context, pluginID string) ([]Applied, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT plugin_id, version, checksum, applied_at FROM _migrations WHERE plugin_id = ? ORDER BY version`,
		pluginID)
	if err != nil {
		return nil, fmt.Errorf("query _migrations: %w", err)
	}
	defer rows.Close()

	var result []Applied
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.PluginID, &a.Version, &a.Checksum, &a.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// Record stores an applied migration record.
func (s *SQLiteStore) Record(ctx context.Context, pluginID string, version int, checksum string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO _migrations (plugin_id, version, checksum) VALUES (?, ?, ?)`,
		pluginID, version, checksum)
	if err != nil {
		return fmt.Errorf("insert _migrations: %w", err)
	}
	return nil
}
