// Package postgres is a reference durability backend for the queue
// engine and subscription tracker: plain database/sql over pgx, with
// hand-written SQL, ExecContext/QueryContext, and RowsAffected checks.
package postgres

import "embed"

// Migrations holds the SQL files that create this backend's tables.
// Callers pass it to migrate.New alongside their own application
// migrations, or run it standalone against a dedicated schema.
//
//go:embed migrations/*.sql
var Migrations embed.FS
