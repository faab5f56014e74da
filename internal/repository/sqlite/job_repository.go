package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"job-delivery-service/internal/delivery"
	"job-delivery-service/internal/entity"
	"job-delivery-service/internal/timeutil"
)

const jobColumns = `id, user_id, external_task_id, category, state, raw_status, result_ref,
	created_at, updated_at, received_at, delivering_at, delivered_at,
	delivery_attempts, last_delivery_error`

type JobRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db, now: time.Now}
}

var _ delivery.Store = (*JobRepository)(nil)

// SetClock replaces the time source used for created_at and updated_at.
func (r *JobRepository) SetClock(now func() time.Time) {
	r.now = now
}

func (r *JobRepository) Create(ctx context.Context, job entity.NewJob) (uuid.UUID, error) {
	const q = `
INSERT INTO generation_jobs (id, user_id, external_task_id, category, state, created_at, updated_at)
VALUES (?, ?, ?, ?, 'pending', ?, ?);`

	id := uuid.New()
	now := ts(r.now())
	if _, err := r.db.ExecContext(ctx, q, id.String(), job.UserID, job.ExternalTaskID, string(job.Category), now, now); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return uuid.Nil, entity.ErrDuplicateTask
		}
		return uuid.Nil, err
	}
	return id, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.GenerationJob, error) {
	q := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = ?;`
	return scanJob(r.db.QueryRowContext(ctx, q, id.String()))
}

func (r *JobRepository) GetByExternalTaskID(ctx context.Context, externalTaskID string) (*entity.GenerationJob, error) {
	q := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE external_task_id = ?;`
	return scanJob(r.db.QueryRowContext(ctx, q, strings.TrimSpace(externalTaskID)))
}

func (r *JobRepository) ListPollable(ctx context.Context, createdAfter time.Time, limit int) ([]entity.GenerationJob, error) {
	q := `SELECT ` + jobColumns + `
FROM generation_jobs
WHERE delivered_at IS NULL
  AND state <> 'failed'
  AND created_at >= ?
ORDER BY updated_at ASC
LIMIT ?;`
	return r.list(ctx, q, ts(createdAfter), limit)
}

func (r *JobRepository) ListOrphans(ctx context.Context, receivedBefore time.Time, limit int) ([]entity.GenerationJob, error) {
	q := `SELECT ` + jobColumns + `
FROM generation_jobs
WHERE delivered_at IS NULL
  AND received_at IS NOT NULL
  AND state = 'succeeded'
  AND received_at < ?
ORDER BY received_at ASC
LIMIT ?;`
	return r.list(ctx, q, ts(receivedBefore), limit)
}

func (r *JobRepository) AcquireLease(ctx context.Context, jobID uuid.UUID, now, staleBefore time.Time) (entity.Lease, bool, error) {
	const q = `
UPDATE generation_jobs
SET delivering_at = ?1, updated_at = ?1
WHERE id = ?2
  AND delivered_at IS NULL
  AND (delivering_at IS NULL OR delivering_at < ?3)
RETURNING user_id, delivering_at;`

	lease := entity.Lease{JobID: jobID}
	var token string
	if err := r.db.QueryRowContext(ctx, q, ts(now), jobID.String(), ts(staleBefore)).Scan(&lease.UserID, &token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.Lease{}, false, nil
		}
		return entity.Lease{}, false, err
	}
	t, _, err := timeutil.ToUTC(token)
	if err != nil {
		return entity.Lease{}, false, err
	}
	lease.Token = t
	return lease, true, nil
}

func (r *JobRepository) IsDelivered(ctx context.Context, jobID uuid.UUID) (bool, error) {
	const q = `SELECT delivered_at IS NOT NULL FROM generation_jobs WHERE id = ?;`

	var delivered bool
	if err := r.db.QueryRowContext(ctx, q, jobID.String()).Scan(&delivered); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, entity.ErrNotFound
		}
		return false, err
	}
	return delivered, nil
}

func (r *JobRepository) MarkDelivered(ctx context.Context, lease entity.Lease, resultRef string, now time.Time) (bool, error) {
	const q = `
UPDATE generation_jobs
SET delivered_at = ?3,
    delivering_at = NULL,
    state = 'succeeded',
    result_ref = COALESCE(NULLIF(?4, ''), result_ref),
    received_at = COALESCE(received_at, ?3),
    updated_at = ?3
WHERE id = ?1
  AND delivering_at = ?2
  AND delivered_at IS NULL;`

	res, err := r.db.ExecContext(ctx, q, lease.JobID.String(), ts(lease.Token), ts(now), resultRef)
	return affectedOne(res, err)
}

func (r *JobRepository) ReleaseLease(ctx context.Context, lease entity.Lease, reason string) (bool, error) {
	const q = `
UPDATE generation_jobs
SET delivering_at = NULL,
    delivery_attempts = delivery_attempts + 1,
    last_delivery_error = ?3,
    updated_at = ?4
WHERE id = ?1
  AND delivering_at = ?2
  AND delivered_at IS NULL;`

	res, err := r.db.ExecContext(ctx, q, lease.JobID.String(), ts(lease.Token), reason, ts(r.now()))
	return affectedOne(res, err)
}

func (r *JobRepository) RecordObservation(ctx context.Context, jobID uuid.UUID, obs entity.Observation) (bool, error) {
	const q = `
UPDATE generation_jobs
SET state = ?2,
    raw_status = ?3,
    result_ref = CASE WHEN ?2 = 'succeeded' AND ?4 <> '' THEN ?4 ELSE result_ref END,
    received_at = CASE WHEN ?2 IN ('succeeded', 'failed') THEN COALESCE(received_at, ?5) ELSE received_at END,
    updated_at = ?5
WHERE id = ?1
  AND delivered_at IS NULL
  AND state NOT IN ('succeeded', 'failed');`

	res, err := r.db.ExecContext(ctx, q, jobID.String(), string(obs.State), obs.RawStatus, obs.ResultRef, ts(obs.At))
	updated, err := affectedOne(res, err)
	return updated && obs.State.Terminal(), err
}

func (r *JobRepository) list(ctx context.Context, q string, args ...any) ([]entity.GenerationJob, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*entity.GenerationJob, error) {
	var (
		job                              entity.GenerationJob
		id, category, state              string
		rawStatus, resultRef, lastErr    sql.NullString
		createdAt, updatedAt             string
		receivedAt, deliveringAt, doneAt sql.NullString
	)
	if err := row.Scan(
		&id,
		&job.UserID,
		&job.ExternalTaskID,
		&category,
		&state,
		&rawStatus,
		&resultRef,
		&createdAt,
		&updatedAt,
		&receivedAt,
		&deliveringAt,
		&doneAt,
		&job.DeliveryAttempts,
		&lastErr,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entity.ErrNotFound
		}
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	job.ID = parsed
	job.Category = entity.Category(category)
	job.State = entity.JobState(state)
	job.RawStatus = optionalString(rawStatus)
	job.ResultRef = optionalString(resultRef)
	job.LastDeliveryError = optionalString(lastErr)
	job.CreatedAt = timeutil.MustUTC(createdAt)
	job.UpdatedAt = timeutil.MustUTC(updatedAt)
	job.ReceivedAt = optionalTime(receivedAt)
	job.DeliveringAt = optionalTime(deliveringAt)
	job.DeliveredAt = optionalTime(doneAt)
	return &job, nil
}

func ts(t time.Time) string {
	return timeutil.FormatNaive(t)
}

func affectedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func optionalString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func optionalTime(v sql.NullString) *time.Time {
	t, ok, err := timeutil.ToUTC(v)
	if err != nil || !ok {
		return nil
	}
	return &t
}
