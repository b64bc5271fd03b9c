// Package migrate runs embedded SQL migrations against a configured
// storage backend, tracking applied files in a migrations table so Run
// is safe to call on every startup.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/relaybus/relaybus/log"
)

// Migrator applies the SQL files embedded under its configured path, in
// lexical order, recording each applied filename in a migrations table.
type Migrator struct {
	assets embed.FS
	engine string
	path   string
	db     *sql.DB
	logger log.Logger
}

// New creates a Migrator for the given storage engine, reading migration
// files from assetsFS. SetDB and SetPath configure the remaining state
// before Run is called.
func New(assetsFS embed.FS, engine string, logger log.Logger) *Migrator {
	return &Migrator{
		assets: assetsFS,
		engine: engine,
		logger: logger,
	}
}

// SetDB sets the database connection migrations are applied against.
func (m *Migrator) SetDB(db *sql.DB) {
	m.db = db
}

// SetPath sets the embed.FS subdirectory migration files are read from.
func (m *Migrator) SetPath(path string) {
	m.path = path
}

// Run creates the tracking table if needed, then applies every .sql file
// under the configured path that has not already been recorded. Each
// migration runs in its own transaction; Run is idempotent.
func (m *Migrator) Run(ctx context.Context) error {
	if m.db == nil {
		return fmt.Errorf("migrate: no database configured")
	}

	if err := m.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("migrate: cannot create migrations table: %w", err)
	}

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("migrate: cannot read applied migrations: %w", err)
	}

	entries, err := fs.ReadDir(m.assets, m.path)
	if err != nil {
		return fmt.Errorf("migrate: cannot read migrations directory %q: %w", m.path, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, name := range files {
		if applied[name] {
			continue
		}
		if err := m.apply(ctx, name); err != nil {
			return fmt.Errorf("migrate: cannot apply %s: %w", name, err)
		}
		m.logger.Info("Applied migration", "file", name)
	}

	return nil
}

func (m *Migrator) apply(ctx context.Context, name string) error {
	contents, err := m.assets.ReadFile(m.path + "/" + name)
	if err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO migrations (filename) VALUES ($1)`, name); err != nil {
		return err
	}

	return tx.Commit()
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			id SERIAL PRIMARY KEY,
			filename TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

func (m *Migrator) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT filename FROM migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
