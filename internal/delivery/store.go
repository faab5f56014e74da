package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"

	"job-delivery-service/internal/entity"
)

// Store is the slice of the job store the coordinator writes through.
//
// Every method that touches delivering_at or delivered_at must be a single
// conditional statement. Implementations: postgresql.JobRepository and
// sqlite.JobRepository.
type Store interface {
	// AcquireLease sets delivering_at = now when the job is undelivered and
	// either unlocked or locked before staleBefore. acquired is false when
	// no row matched. A store with its own clock may use it for both values,
	// keeping the window now - staleBefore; lease.Token is always the stored
	// value.
	AcquireLease(ctx context.Context, jobID uuid.UUID, now, staleBefore time.Time) (lease entity.Lease, acquired bool, err error)

	// IsDelivered reports whether delivered_at is set. Unknown jobs return
	// entity.ErrNotFound.
	IsDelivered(ctx context.Context, jobID uuid.UUID) (bool, error)

	// MarkDelivered sets delivered_at only while delivering_at still equals
	// lease.Token.
	MarkDelivered(ctx context.Context, lease entity.Lease, resultRef string, now time.Time) (bool, error)

	// ReleaseLease clears delivering_at only while it still equals
	// lease.Token, and records the failed attempt.
	ReleaseLease(ctx context.Context, lease entity.Lease, reason string) (bool, error)

	// RecordObservation stores the latest upstream state. received_at is set
	// on the first terminal observation only. first reports whether this
	// call set it.
	RecordObservation(ctx context.Context, jobID uuid.UUID, obs entity.Observation) (first bool, err error)
}
