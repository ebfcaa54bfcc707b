package usage

import (
	"database/sql"
	"fmt"
)

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS usage (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id        TEXT    NOT NULL,
		provider_id       TEXT    NOT NULL,
		model             TEXT    NOT NULL DEFAULT '',
		prompt_tokens     INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens      INTEGER NOT NULL DEFAULT 0,
		created_at        INTEGER NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_usage_created ON usage(created_at)`,

	`CREATE INDEX IF NOT EXISTS idx_usage_provider ON usage(provider_id, created_at)`,
}

// migrate applies the schema statements.
func migrate(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("usage: migrate: %w", err)
		}
	}
	return nil
}
