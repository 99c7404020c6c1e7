package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS media (
		id         TEXT PRIMARY KEY,
		owner_id   TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		title      TEXT NOT NULL,
		filename   TEXT NOT NULL DEFAULT '',
		media_type TEXT NOT NULL DEFAULT '',
		content    BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS media_owner_idx ON media (owner_id)`,
	`CREATE INDEX IF NOT EXISTS media_created_idx ON media (created_at DESC)`,
}

func (r *postgresRepository) ensureSchema() error {
	return r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		for _, stmt := range schemaStatements {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema statement: %w", err)
			}
		}
		return nil
	})
}
