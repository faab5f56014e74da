package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"job-delivery-service/internal/alert"
	"job-delivery-service/internal/delivery"
	"job-delivery-service/internal/entity"
	"job-delivery-service/internal/timeutil"
)

type OrphanStore interface {
	ListOrphans(ctx context.Context, receivedBefore time.Time, limit int) ([]entity.GenerationJob, error)
}

type Deliverer interface {
	DeliverResultAtomic(ctx context.Context, jobID uuid.UUID, category entity.Category, resultRef string) (delivery.Outcome, error)
}

type ReconcilerOptions struct {
	Interval  time.Duration
	Threshold time.Duration
	Batch     int
	// AlertAfterAttempts raises an alert for a job that has failed this many
	// dispatches even when the current sweep did not run it.
	AlertAfterAttempts int
}

// Reconciler finds jobs that succeeded upstream but were never delivered,
// retries them and raises alerts for the ones that keep failing.
type Reconciler struct {
	store     OrphanStore
	deliverer Deliverer
	alerts    alert.Sink
	opts      ReconcilerOptions
	log       zerolog.Logger
	now       func() time.Time
}

func NewReconciler(store OrphanStore, deliverer Deliverer, alerts alert.Sink, opts ReconcilerOptions, log zerolog.Logger) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 30 * time.Minute
	}
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	if opts.AlertAfterAttempts <= 0 {
		opts.AlertAfterAttempts = 3
	}
	l := log.With().Str("component", "reconciler").Logger()
	if alerts == nil {
		alerts = alert.NewLogSink(l)
	}
	return &Reconciler{
		store:     store,
		deliverer: deliverer,
		alerts:    alerts,
		opts:      opts,
		log:       l,
		now:       time.Now,
	}
}

func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

func (r *Reconciler) Run(ctx context.Context) {
	r.log.Info().
		Dur("interval", r.opts.Interval).
		Dur("threshold", r.opts.Threshold).
		Msg("reconciler started")
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		r.Sweep(ctx)
		select {
		case <-ctx.Done():
			r.log.Info().Msg("reconciler stopped")
			return
		case <-ticker.C:
		}
	}
}

type SweepStats struct {
	Found     int
	Delivered int
	Alerted   int
	Errors    int
}

// Sweep runs one pass over the orphan batch.
func (r *Reconciler) Sweep(ctx context.Context) SweepStats {
	var stats SweepStats
	now := r.now().UTC()

	orphans, err := r.store.ListOrphans(ctx, now.Add(-r.opts.Threshold), r.opts.Batch)
	if err != nil {
		r.log.Error().Err(err).Msg("reconciler: list orphans")
		return stats
	}
	stats.Found = len(orphans)

	for i := range orphans {
		if ctx.Err() != nil {
			break
		}
		job := &orphans[i]
		log := r.log.With().Str("job_id", job.ID.String()).Logger()

		age, err := timeutil.Age(now, job.ReceivedAt)
		if err != nil {
			stats.Errors++
			log.Warn().Err(err).Msg("reconciler: unreadable received_at, skipped")
			continue
		}

		outcome, err := r.deliverer.DeliverResultAtomic(ctx, job.ID, job.Category, job.Result())
		attempts := job.DeliveryAttempts
		switch {
		case errors.Is(err, entity.ErrNotDeliverable):
			outcome = "NO_RESULT"
		case err != nil:
			stats.Errors++
			log.Error().Err(err).Msg("reconciler: deliver")
			continue
		}

		log.Info().
			Str("outcome", string(outcome)).
			Dur("age", age).
			Int("delivery_attempts", attempts).
			Msg("reconciler: orphan retried")

		switch outcome {
		case delivery.OutcomeDelivered:
			stats.Delivered++
			continue
		case delivery.OutcomeAlreadyDelivered:
			continue
		case delivery.OutcomeFailedReleased:
			attempts++
		case delivery.OutcomeLockLost:
			if attempts < r.opts.AlertAfterAttempts {
				continue
			}
		}

		a := alert.OrphanAlert{
			JobID:      job.ID,
			UserID:     job.UserID,
			Category:   job.Category,
			ReceivedAt: *job.ReceivedAt,
			Age:        age,
			Attempts:   attempts,
			Outcome:    string(outcome),
			RaisedAt:   now,
		}
		if job.LastDeliveryError != nil {
			a.LastError = *job.LastDeliveryError
		}
		if err := r.alerts.Orphan(ctx, a); err != nil {
			log.Error().Err(err).Msg("reconciler: raise alert")
			continue
		}
		stats.Alerted++
	}

	if stats.Found > 0 {
		r.log.Info().
			Int("found", stats.Found).
			Int("delivered", stats.Delivered).
			Int("alerted", stats.Alerted).
			Int("errors", stats.Errors).
			Msg("reconciler: sweep done")
	}
	return stats
}
