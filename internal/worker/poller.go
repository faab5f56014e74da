package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"job-delivery-service/internal/delivery"
	"job-delivery-service/internal/entity"
	"job-delivery-service/internal/upstream"
)

type PollStore interface {
	ListPollable(ctx context.Context, createdAfter time.Time, limit int) ([]entity.GenerationJob, error)
}

type StatusSource interface {
	TaskStatus(ctx context.Context, externalTaskID string) (upstream.StatusReport, error)
}

type Observer interface {
	Observe(ctx context.Context, job *entity.GenerationJob, rep delivery.Report, src delivery.Source) (delivery.ObserveResult, error)
}

type PollerOptions struct {
	Interval time.Duration
	Batch    int
	// MaxAge stops polling jobs created longer ago. One that already reported
	// success is still retried by the orphan sweep; one that never reached a
	// terminal state is abandoned.
	MaxAge time.Duration
}

// Poller asks the upstream API for the status of every unfinished job on a
// fixed interval. It covers push notifications that never arrive.
type Poller struct {
	store    PollStore
	upstream StatusSource
	observer Observer
	opts     PollerOptions
	log      zerolog.Logger
	now      func() time.Time
}

func NewPoller(store PollStore, src StatusSource, observer Observer, opts PollerOptions, log zerolog.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	return &Poller{
		store:    store,
		upstream: src,
		observer: observer,
		opts:     opts,
		log:      log.With().Str("component", "poller").Logger(),
		now:      time.Now,
	}
}

func (p *Poller) SetClock(now func() time.Time) { p.now = now }

func (p *Poller) Run(ctx context.Context) {
	p.log.Info().Dur("interval", p.opts.Interval).Int("batch", p.opts.Batch).Msg("poller started")
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		p.Tick(ctx)
		select {
		case <-ctx.Done():
			p.log.Info().Msg("poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// PollStats summarizes one tick.
type PollStats struct {
	Checked   int
	Errors    int
	Delivered int
	Retry     int
}

// Tick polls one batch. Per-job failures are logged and skipped.
func (p *Poller) Tick(ctx context.Context) PollStats {
	var stats PollStats

	jobs, err := p.store.ListPollable(ctx, p.now().UTC().Add(-p.opts.MaxAge), p.opts.Batch)
	if err != nil {
		p.log.Error().Err(err).Msg("poller: list jobs")
		return stats
	}

	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		job := &jobs[i]
		stats.Checked++

		rep, err := p.upstream.TaskStatus(ctx, job.ExternalTaskID)
		if err != nil {
			stats.Errors++
			p.log.Warn().Err(err).
				Str("job_id", job.ID.String()).
				Str("external_task_id", job.ExternalTaskID).
				Msg("poller: upstream status")
			continue
		}

		res, err := p.observer.Observe(ctx, job, delivery.Report{
			RawStatus: rep.RawStatus,
			ResultRef: rep.ResultRef,
		}, delivery.SourcePoll)
		if err != nil {
			stats.Errors++
			p.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("poller: observe")
			continue
		}
		switch res.Outcome {
		case delivery.OutcomeDelivered:
			stats.Delivered++
		case delivery.OutcomeFailedReleased:
			stats.Retry++
		}
	}

	if stats.Checked > 0 {
		p.log.Debug().
			Int("checked", stats.Checked).
			Int("delivered", stats.Delivered).
			Int("retry", stats.Retry).
			Int("errors", stats.Errors).
			Msg("poller: tick done")
	}
	return stats
}
