package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"job-delivery-service/internal/delivery"
	"job-delivery-service/internal/entity"
	"job-delivery-service/internal/upstream"
)

type TaskLookup interface {
	GetByExternalTaskID(ctx context.Context, externalTaskID string) (*entity.GenerationJob, error)
}

type Observer interface {
	Observe(ctx context.Context, job *entity.GenerationJob, rep delivery.Report, src delivery.Source) (delivery.ObserveResult, error)
}

// CallbackQueue buffers push notifications between the HTTP intake and the
// worker pool.
type CallbackQueue interface {
	Enqueue(ctx context.Context, rep upstream.StatusReport) error
}

// CompletionListener handles upstream push notifications. Vendors deliver
// them at least once, so the same notification may arrive many times.
type CompletionListener struct {
	jobs     TaskLookup
	observer Observer
	queue    CallbackQueue
	log      zerolog.Logger
}

func NewCompletionListener(jobs TaskLookup, observer Observer, log zerolog.Logger) *CompletionListener {
	return &CompletionListener{
		jobs:     jobs,
		observer: observer,
		log:      log.With().Str("component", "completion_listener").Logger(),
	}
}

// WithQueue makes Accept enqueue notifications instead of handling them inline.
func (l *CompletionListener) WithQueue(q CallbackQueue) *CompletionListener {
	l.queue = q
	return l
}

// Queued reports whether Accept defers work to the queue.
func (l *CompletionListener) Queued() bool { return l.queue != nil }

// Accept is the intake entry point used by the callback endpoint.
func (l *CompletionListener) Accept(ctx context.Context, rep upstream.StatusReport) error {
	if l.queue != nil {
		if err := l.queue.Enqueue(ctx, rep); err != nil {
			return fmt.Errorf("enqueue callback: %w", err)
		}
		l.log.Debug().Str("external_task_id", rep.ExternalTaskID).Msg("callback: queued")
		return nil
	}
	_, err := l.Handle(ctx, rep)
	return err
}

// Handle resolves the notification to its job and runs the shared
// observation path.
func (l *CompletionListener) Handle(ctx context.Context, rep upstream.StatusReport) (delivery.ObserveResult, error) {
	job, err := l.jobs.GetByExternalTaskID(ctx, rep.ExternalTaskID)
	if errors.Is(err, entity.ErrNotFound) {
		l.log.Warn().
			Str("external_task_id", rep.ExternalTaskID).
			Str("raw_status", rep.RawStatus).
			Msg("callback: no job for external task")
		return delivery.ObserveResult{}, fmt.Errorf("%w: %s", entity.ErrUnknownTask, rep.ExternalTaskID)
	}
	if err != nil {
		return delivery.ObserveResult{}, fmt.Errorf("resolve external task: %w", err)
	}

	return l.observer.Observe(ctx, job, delivery.Report{
		RawStatus: rep.RawStatus,
		ResultRef: rep.ResultRef,
	}, delivery.SourceCallback)
}
