package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"job-delivery-service/internal/service"
)

// Pool consumes the callback queue with a fixed number of workers.
type Pool struct {
	queue      service.Queue
	processor  *Processor
	workers    int
	claimDelay time.Duration
	log        zerolog.Logger
}

func NewPool(queue service.Queue, processor *Processor, workers int, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		claimDelay: 5 * time.Second,
		log:        log.With().Str("component", "pool").Logger(),
	}
}

// Run blocks until ctx is cancelled and every worker has drained.
func (p *Pool) Run(ctx context.Context) {
	p.log.Info().Int("workers", p.workers).Msg("worker pool started")

	msgCh := make(chan service.QueuedReport)
	done := make(chan struct{})

	for i := 0; i < p.workers; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for msg := range msgCh {
				if err := p.processor.Process(ctx, msg); err != nil {
					// Left in the processing list; the reaper requeues it.
					p.log.Warn().Err(err).Int("worker", n).Str("message_id", msg.ID).Msg("process callback, not acked")
					continue
				}

				ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				if err := p.queue.Ack(ackCtx, msg); err != nil {
					p.log.Error().Err(err).Int("worker", n).Str("message_id", msg.ID).Msg("ack callback")
				}
				cancel()
			}
		}(i + 1)
	}

	p.claimLoop(ctx, msgCh)
	close(msgCh)
	for i := 0; i < p.workers; i++ {
		<-done
	}
	p.log.Info().Msg("worker pool stopped")
}

func (p *Pool) claimLoop(ctx context.Context, msgCh chan<- service.QueuedReport) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
		if err != nil {
			if !errors.Is(err, service.ErrQueueEmpty) && ctx.Err() == nil {
				p.log.Warn().Err(err).Msg("claim callback")
				// Back off so a Redis outage does not spin.
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
			continue
		}
		select {
		case msgCh <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// RunReaper periodically moves entries abandoned in the processing list back
// to the queue.
func RunReaper(ctx context.Context, queue service.Queue, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := queue.RequeueStale(ctx, 100)
			if err != nil {
				log.Error().Err(err).Msg("reaper: requeue failed")
				continue
			}
			if n > 0 {
				log.Warn().Int64("requeued", n).Msg("reaper: requeued callbacks from processing")
			}
		}
	}
}
