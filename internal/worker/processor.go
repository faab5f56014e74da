package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"job-delivery-service/internal/delivery"
	"job-delivery-service/internal/entity"
	"job-delivery-service/internal/service"
	"job-delivery-service/internal/upstream"
)

type CallbackHandler interface {
	Handle(ctx context.Context, rep upstream.StatusReport) (delivery.ObserveResult, error)
}

// Processor runs one queued push notification through the completion
// listener.
type Processor struct {
	handler CallbackHandler
	log     zerolog.Logger
}

func NewProcessor(handler CallbackHandler, log zerolog.Logger) *Processor {
	return &Processor{handler: handler, log: log.With().Str("component", "callback_processor").Logger()}
}

func (p *Processor) Process(ctx context.Context, msg service.QueuedReport) error {
	start := time.Now()
	log := p.log.With().
		Str("message_id", msg.ID).
		Str("external_task_id", msg.Report.ExternalTaskID).
		Str("raw_status", msg.Report.RawStatus).
		Logger()

	res, err := p.handler.Handle(ctx, msg.Report)
	if errors.Is(err, entity.ErrUnknownTask) {
		// Nothing to retry: the task was never registered here.
		return nil
	}
	if err != nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("callback: processing failed")
		return err
	}

	ev := log.Debug()
	if res.Outcome != "" {
		ev = log.Info().Str("outcome", string(res.Outcome))
	}
	ev.Str("state", string(res.State)).
		Bool("first_terminal", res.FirstTerminal).
		Dur("queue_latency", time.Since(msg.EnqueuedAt)).
		Dur("duration", time.Since(start)).
		Msg("callback: processed")
	return nil
}
