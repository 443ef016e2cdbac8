package state

import (
	"context"
	"database/sql"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS launches (
		id TEXT PRIMARY KEY,
		project_dir TEXT NOT NULL DEFAULT '',
		environment_id TEXT NOT NULL,
		app_id TEXT NOT NULL DEFAULT '',
		app_display_name TEXT NOT NULL DEFAULT '',
		player_url TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		ended_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_launches_started_at ON launches(started_at)`,
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", int(defaultBusyTimeout.Milliseconds())),
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("state: apply pragma %q: %w", pragma, err)
		}
	}

	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("state: apply schema: %w", err)
		}
	}
	return nil
}
