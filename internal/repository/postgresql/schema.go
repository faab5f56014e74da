package postgresql

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS generation_jobs (
		id                  uuid PRIMARY KEY,
		user_id             text NOT NULL,
		external_task_id    text NOT NULL UNIQUE,
		category            text NOT NULL CHECK (category IN ('image', 'video', 'audio')),
		state               text NOT NULL DEFAULT 'pending'
		                    CHECK (state IN ('pending', 'processing', 'succeeded', 'failed')),
		raw_status          text,
		result_ref          text,
		created_at          timestamptz NOT NULL DEFAULT now(),
		updated_at          timestamptz NOT NULL DEFAULT now(),
		received_at         timestamptz,
		delivering_at       timestamptz,
		delivered_at        timestamptz,
		delivery_attempts   integer NOT NULL DEFAULT 0,
		last_delivery_error text,
		CONSTRAINT generation_jobs_delivered_requires_success
			CHECK (delivered_at IS NULL OR (received_at IS NOT NULL AND state = 'succeeded'))
	);`,
	// Orphan sweep and lock acquisition only ever look at undelivered rows.
	`CREATE INDEX IF NOT EXISTS generation_jobs_undelivered_received_idx
		ON generation_jobs (received_at) WHERE delivered_at IS NULL;`,
	`CREATE INDEX IF NOT EXISTS generation_jobs_undelivered_state_idx
		ON generation_jobs (state, updated_at) WHERE delivered_at IS NULL;`,
}

// Migrate creates the generation_jobs table and its partial indexes.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return tx.Commit(ctx)
}
