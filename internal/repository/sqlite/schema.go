package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate creates the generation_jobs table in-place.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS generation_jobs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			external_task_id TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL CHECK (category IN ('image', 'video', 'audio')),
			state TEXT NOT NULL DEFAULT 'pending'
				CHECK (state IN ('pending', 'processing', 'succeeded', 'failed')),
			raw_status TEXT,
			result_ref TEXT,
			-- all timestamps are naive UTC text, see timeutil.NaiveLayout
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			received_at TEXT,
			delivering_at TEXT,
			delivered_at TEXT,
			delivery_attempts INTEGER NOT NULL DEFAULT 0,
			last_delivery_error TEXT,
			CHECK (delivered_at IS NULL OR (received_at IS NOT NULL AND state = 'succeeded'))
		);`,
		`CREATE INDEX IF NOT EXISTS generation_jobs_undelivered_received_idx
			ON generation_jobs(received_at) WHERE delivered_at IS NULL;`,
		`CREATE INDEX IF NOT EXISTS generation_jobs_undelivered_state_idx
			ON generation_jobs(state, updated_at) WHERE delivered_at IS NULL;`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return tx.Commit()
}
