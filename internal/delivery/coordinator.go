package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"job-delivery-service/internal/entity"
)

const (
	DefaultLockTimeout     = 5 * time.Minute
	DefaultDispatchTimeout = 60 * time.Second

	finalizeTimeout  = 10 * time.Second
	finalizeAttempts = 3
	finalizeBackoff  = 200 * time.Millisecond
	maxReasonLen     = 500
)

type Options struct {
	// LockTimeout is how long a delivering_at lease stays exclusive.
	LockTimeout time.Duration
	// DispatchTimeout bounds a single MediaDispatcher call. It must be
	// shorter than LockTimeout.
	DispatchTimeout time.Duration
}

// Coordinator guarantees a job's result reaches its user at most once.
// It keeps no in-process state: the only mutual exclusion is the
// conditional update on the job row.
type Coordinator struct {
	store Store
	media MediaDispatcher
	log   zerolog.Logger

	lockTimeout     time.Duration
	dispatchTimeout time.Duration
	now             func() time.Time
}

func NewCoordinator(store Store, media MediaDispatcher, log zerolog.Logger, opts Options) *Coordinator {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.DispatchTimeout <= 0 || opts.DispatchTimeout >= opts.LockTimeout {
		opts.DispatchTimeout = min(DefaultDispatchTimeout, opts.LockTimeout/2)
	}
	return &Coordinator{
		store:           store,
		media:           media,
		log:             log.With().Str("component", "delivery").Logger(),
		lockTimeout:     opts.LockTimeout,
		dispatchTimeout: opts.DispatchTimeout,
		now:             time.Now,
	}
}

// SetClock replaces the coordinator's time source.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Coordinator) LockTimeout() time.Duration { return c.lockTimeout }

// Now returns the coordinator clock in UTC, truncated to the microsecond
// precision both stores keep.
func (c *Coordinator) Now() time.Time {
	return c.now().UTC().Truncate(time.Microsecond)
}

// DeliverResultAtomic delivers resultRef for jobID unless it was already
// delivered or another attempt holds the lock. Dispatch failures are
// reported as OutcomeFailedReleased; the returned error is set only when
// the store itself fails.
func (c *Coordinator) DeliverResultAtomic(ctx context.Context, jobID uuid.UUID, category entity.Category, resultRef string) (Outcome, error) {
	log := c.log.With().Str("job_id", jobID.String()).Str("category", string(category)).Logger()

	if strings.TrimSpace(resultRef) == "" {
		return "", entity.ErrNotDeliverable
	}

	now := c.Now()
	lease, acquired, err := c.store.AcquireLease(ctx, jobID, now, now.Add(-c.lockTimeout))
	if err != nil {
		return "", fmt.Errorf("acquire delivery lock: %w", err)
	}
	if !acquired {
		return c.explainMiss(ctx, log, jobID)
	}

	log = log.With().Time("delivering_at", lease.Token).Logger()
	log.Debug().Msg("delivery: lock acquired")

	start := time.Now()
	dispatchErr := c.dispatch(ctx, category, lease.UserID, resultRef)

	// The lock must be settled even when the caller has gone away.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if dispatchErr != nil {
		released, err := c.store.ReleaseLease(fctx, lease, truncateReason(dispatchErr.Error()))
		if err != nil {
			log.Error().Err(err).AnErr("dispatch_error", dispatchErr).
				Msg("delivery: release lock failed, lock will expire after timeout")
			return OutcomeFailedReleased, nil
		}
		if !released {
			log.Warn().AnErr("dispatch_error", dispatchErr).Msg("delivery: lock was taken over before release")
		}
		log.Warn().Err(dispatchErr).Dur("duration", time.Since(start)).
			Msg("delivery: dispatch failed, lock released for retry")
		return OutcomeFailedReleased, nil
	}

	marked, err := c.markDelivered(fctx, lease, resultRef)
	if err != nil {
		// The user has the result but the row does not say so. Once the lock
		// expires another trigger may send it again.
		log.Error().Err(err).Msg("delivery: dispatched but delivered_at not recorded")
		return "", fmt.Errorf("mark delivered: %w", err)
	}
	if !marked {
		log.Error().Dur("duration", time.Since(start)).Dur("lock_timeout", c.lockTimeout).
			Msg("delivery: dispatched after lock was lost, possible duplicate send")
		return c.explainMiss(fctx, log, jobID)
	}

	log.Info().Dur("duration", time.Since(start)).Msg("delivery: delivered")
	return OutcomeDelivered, nil
}

func (c *Coordinator) explainMiss(ctx context.Context, log zerolog.Logger, jobID uuid.UUID) (Outcome, error) {
	delivered, err := c.store.IsDelivered(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("read delivery status: %w", err)
	}
	if delivered {
		log.Info().Msg("delivery: already delivered, duplicate suppressed")
		return OutcomeAlreadyDelivered, nil
	}
	log.Debug().Msg("delivery: lock held by another attempt")
	return OutcomeLockLost, nil
}

func (c *Coordinator) dispatch(ctx context.Context, category entity.Category, userID, resultRef string) error {
	if c.media == nil {
		return errors.New("media dispatcher not configured")
	}
	dctx, cancel := context.WithTimeout(ctx, c.dispatchTimeout)
	defer cancel()
	return Dispatch(dctx, c.media, category, userID, resultRef)
}

func (c *Coordinator) markDelivered(ctx context.Context, lease entity.Lease, resultRef string) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= finalizeAttempts; attempt++ {
		marked, err := c.store.MarkDelivered(ctx, lease, resultRef, c.Now())
		if err == nil {
			return marked, nil
		}
		lastErr = err
		c.log.Warn().Err(err).Str("job_id", lease.JobID.String()).Int("attempt", attempt).
			Msg("delivery: mark delivered failed")

		select {
		case <-ctx.Done():
			return false, errors.Join(lastErr, ctx.Err())
		case <-time.After(finalizeBackoff * time.Duration(attempt)):
		}
	}
	return false, lastErr
}

func truncateReason(s string) string {
	if len(s) <= maxReasonLen {
		return s
	}
	return s[:maxReasonLen]
}
