package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied statement by statement; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS shared_documents (
		id BIGSERIAL PRIMARY KEY,
		room_id TEXT NOT NULL UNIQUE,
		content TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS document_locks (
		id BIGSERIAL PRIMARY KEY,
		room_id TEXT NOT NULL UNIQUE,
		holder_session_id TEXT NOT NULL,
		locked_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS document_locks_expires_at_idx ON document_locks (expires_at)`,
	`CREATE INDEX IF NOT EXISTS document_locks_holder_session_id_idx ON document_locks (holder_session_id)`,
}

// Migrate creates the document and lock tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
