package postgresql

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"job-delivery-service/internal/delivery"
	"job-delivery-service/internal/entity"
	"job-delivery-service/internal/timeutil"
)

const uniqueViolation = "23505"

const jobColumns = `id, user_id, external_task_id, category, state, raw_status, result_ref,
       created_at, updated_at, received_at, delivering_at, delivered_at,
       delivery_attempts, last_delivery_error`

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

var _ delivery.Store = (*JobRepository)(nil)

func (r *JobRepository) Create(ctx context.Context, job entity.NewJob) (uuid.UUID, error) {
	const q = `
INSERT INTO generation_jobs (id, user_id, external_task_id, category, state)
VALUES ($1, $2, $3, $4, 'pending')
RETURNING id;
`
	id := uuid.New()
	if err := r.pool.QueryRow(ctx, q, id, job.UserID, job.ExternalTaskID, string(job.Category)).Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return uuid.Nil, entity.ErrDuplicateTask
		}
		return uuid.Nil, err
	}
	return id, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.GenerationJob, error) {
	q := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1;`
	return scanJob(r.pool.QueryRow(ctx, q, id))
}

func (r *JobRepository) GetByExternalTaskID(ctx context.Context, externalTaskID string) (*entity.GenerationJob, error) {
	q := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE external_task_id = $1;`
	return scanJob(r.pool.QueryRow(ctx, q, strings.TrimSpace(externalTaskID)))
}

// ListPollable returns undelivered jobs that may still change upstream,
// least recently updated first.
func (r *JobRepository) ListPollable(ctx context.Context, createdAfter time.Time, limit int) ([]entity.GenerationJob, error) {
	q := `SELECT ` + jobColumns + `
FROM generation_jobs
WHERE delivered_at IS NULL
  AND state <> 'failed'
  AND created_at >= $1
ORDER BY updated_at ASC
LIMIT $2;`
	return r.list(ctx, q, createdAfter, limit)
}

// ListOrphans returns succeeded jobs received before receivedBefore that
// were never delivered, oldest first.
func (r *JobRepository) ListOrphans(ctx context.Context, receivedBefore time.Time, limit int) ([]entity.GenerationJob, error) {
	q := `SELECT ` + jobColumns + `
FROM generation_jobs
WHERE delivered_at IS NULL
  AND received_at IS NOT NULL
  AND state = 'succeeded'
  AND received_at < $1
ORDER BY received_at ASC
LIMIT $2;`
	return r.list(ctx, q, receivedBefore, limit)
}

// AcquireLease stamps and expires leases with the database clock so that
// instances on hosts with skewed clocks agree on the lock window. Only the
// timeout (now - staleBefore) is taken from the caller.
func (r *JobRepository) AcquireLease(ctx context.Context, jobID uuid.UUID, now, staleBefore time.Time) (entity.Lease, bool, error) {
	const q = `
UPDATE generation_jobs
SET delivering_at = now(), updated_at = now()
WHERE id = $1
  AND delivered_at IS NULL
  AND (delivering_at IS NULL OR delivering_at < now() - $2::double precision * interval '1 second')
RETURNING user_id, delivering_at;
`
	timeout := now.Sub(staleBefore).Seconds()
	lease := entity.Lease{JobID: jobID}
	var token time.Time
	if err := r.pool.QueryRow(ctx, q, jobID, timeout).Scan(&lease.UserID, &token); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entity.Lease{}, false, nil
		}
		return entity.Lease{}, false, err
	}
	lease.Token = token.UTC()
	return lease, true, nil
}

func (r *JobRepository) IsDelivered(ctx context.Context, jobID uuid.UUID) (bool, error) {
	const q = `SELECT delivered_at IS NOT NULL FROM generation_jobs WHERE id = $1;`

	var delivered bool
	if err := r.pool.QueryRow(ctx, q, jobID).Scan(&delivered); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, entity.ErrNotFound
		}
		return false, err
	}
	return delivered, nil
}

func (r *JobRepository) MarkDelivered(ctx context.Context, lease entity.Lease, resultRef string, now time.Time) (bool, error) {
	const q = `
UPDATE generation_jobs
SET delivered_at = $3::timestamptz,
    delivering_at = NULL,
    state = 'succeeded',
    result_ref = COALESCE(NULLIF($4::text, ''), result_ref),
    received_at = COALESCE(received_at, $3::timestamptz),
    updated_at = $3::timestamptz
WHERE id = $1
  AND delivering_at = $2
  AND delivered_at IS NULL;
`
	tag, err := r.pool.Exec(ctx, q, lease.JobID, lease.Token, now, resultRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepository) ReleaseLease(ctx context.Context, lease entity.Lease, reason string) (bool, error) {
	const q = `
UPDATE generation_jobs
SET delivering_at = NULL,
    delivery_attempts = delivery_attempts + 1,
    last_delivery_error = $3,
    updated_at = now()
WHERE id = $1
  AND delivering_at = $2
  AND delivered_at IS NULL;
`
	tag, err := r.pool.Exec(ctx, q, lease.JobID, lease.Token, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepository) RecordObservation(ctx context.Context, jobID uuid.UUID, obs entity.Observation) (bool, error) {
	// Terminal states are sticky and a delivered row is never touched.
	const q = `
UPDATE generation_jobs
SET state = $2::text,
    raw_status = $3,
    result_ref = CASE WHEN $2::text = 'succeeded' AND $4::text <> '' THEN $4::text ELSE result_ref END,
    received_at = CASE WHEN $2::text IN ('succeeded', 'failed') THEN COALESCE(received_at, $5::timestamptz) ELSE received_at END,
    updated_at = $5::timestamptz
WHERE id = $1
  AND delivered_at IS NULL
  AND state NOT IN ('succeeded', 'failed');
`
	tag, err := r.pool.Exec(ctx, q, jobID, string(obs.State), obs.RawStatus, obs.ResultRef, obs.At)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1 && obs.State.Terminal(), nil
}

func (r *JobRepository) list(ctx context.Context, q string, args ...any) ([]entity.GenerationJob, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*entity.GenerationJob, error) {
	var (
		job                              entity.GenerationJob
		category, state                  string
		createdAt, updatedAt             pgtype.Timestamptz
		receivedAt, deliveringAt, doneAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.ExternalTaskID,
		&category,
		&state,
		&job.RawStatus,
		&job.ResultRef,
		&createdAt,
		&updatedAt,
		&receivedAt,
		&deliveringAt,
		&doneAt,
		&job.DeliveryAttempts,
		&job.LastDeliveryError,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entity.ErrNotFound
		}
		return nil, err
	}

	job.Category = entity.Category(category)
	job.State = entity.JobState(state)
	job.CreatedAt = timeutil.MustUTC(createdAt)
	job.UpdatedAt = timeutil.MustUTC(updatedAt)
	job.ReceivedAt = optionalTime(receivedAt)
	job.DeliveringAt = optionalTime(deliveringAt)
	job.DeliveredAt = optionalTime(doneAt)
	return &job, nil
}

func optionalTime(v pgtype.Timestamptz) *time.Time {
	t, ok, err := timeutil.ToUTC(v)
	if err != nil || !ok {
		return nil
	}
	return &t
}
