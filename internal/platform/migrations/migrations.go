// Package migrations applies the database schema at startup. Statements are
// idempotent and executed in order.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL DEFAULT 'member',
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id               TEXT PRIMARY KEY,
		title            TEXT NOT NULL,
		author           TEXT NOT NULL DEFAULT '',
		isbn             TEXT NOT NULL DEFAULT '',
		description      TEXT NOT NULL DEFAULT '',
		category_id      TEXT REFERENCES categories(id),
		total_copies     INTEGER NOT NULL DEFAULT 0,
		available_copies INTEGER NOT NULL DEFAULT 0 CHECK (available_copies >= 0),
		version          BIGINT NOT NULL DEFAULT 0,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL REFERENCES users(id),
		book_id     TEXT NOT NULL REFERENCES books(id),
		status      TEXT NOT NULL,
		borrowed_at TIMESTAMPTZ NOT NULL,
		returned_at TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	// Backstop for the duplicate-open-loan rule. The lending engine checks
	// inside its transaction; this index rejects anything that slips past.
	`CREATE UNIQUE INDEX IF NOT EXISTS loans_open_user_book_idx
		ON loans (user_id, book_id) WHERE status = 'open'`,
	`CREATE INDEX IF NOT EXISTS loans_user_idx ON loans (user_id, borrowed_at DESC)`,
}

// Apply executes all schema statements against db.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}
	return nil
}
