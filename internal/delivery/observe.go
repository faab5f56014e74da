package delivery

import (
	"context"
	"errors"
	"fmt"

	"job-delivery-service/internal/entity"
)

// Source names the trigger path that observed an upstream status.
type Source string

const (
	SourcePoll       Source = "poll"
	SourceCallback   Source = "callback"
	SourceReconciler Source = "reconciler"
	SourceManual     Source = "manual"
)

// NormalizeState maps a raw upstream status to the canonical enum and logs
// values the vocabulary table does not know yet.
func (c *Coordinator) NormalizeState(raw string) entity.JobState {
	state, ok := entity.ParseUpstreamState(raw)
	if !ok {
		c.log.Warn().Str("raw_status", raw).Msg("delivery: unrecognized upstream status, treating as processing")
	}
	return state
}

// Report is one upstream status report for a job.
type Report struct {
	RawStatus string
	ResultRef string
}

type ObserveResult struct {
	State entity.JobState
	// FirstTerminal is set when this report recorded received_at.
	FirstTerminal bool
	// Outcome is empty when no delivery was attempted.
	Outcome Outcome
}

// Observe applies an upstream report to job and, when the job succeeded and
// is not yet delivered, runs DeliverResultAtomic. It is the common path for
// the callback listener and the poller.
func (c *Coordinator) Observe(ctx context.Context, job *entity.GenerationJob, rep Report, src Source) (ObserveResult, error) {
	log := c.log.With().Str("job_id", job.ID.String()).Str("source", string(src)).Logger()

	state := c.NormalizeState(rep.RawStatus)
	res := ObserveResult{State: state}

	if job.Delivered() {
		if state == entity.StateSucceeded {
			log.Info().Time("delivered_at", *job.DeliveredAt).Msg("delivery: already delivered, duplicate suppressed")
			res.Outcome = OutcomeAlreadyDelivered
		}
		return res, nil
	}
	if job.State == entity.StateFailed {
		// Terminal states are sticky; a late success report is only logged.
		if state != entity.StateFailed {
			log.Warn().Str("raw_status", rep.RawStatus).Msg("delivery: report for failed job ignored")
		}
		return res, nil
	}

	resultRef := rep.ResultRef
	if resultRef == "" {
		resultRef = job.Result()
	}

	first, err := c.store.RecordObservation(ctx, job.ID, entity.Observation{
		State:     state,
		RawStatus: rep.RawStatus,
		ResultRef: resultRef,
		At:        c.Now(),
	})
	if err != nil {
		return res, fmt.Errorf("record observation: %w", err)
	}
	res.FirstTerminal = first
	if first {
		log.Info().Str("state", string(state)).Msg("delivery: terminal state received")
	}

	switch state {
	case entity.StateFailed:
		if first {
			log.Warn().Str("raw_status", rep.RawStatus).Msg("delivery: upstream job failed")
		}
		return res, nil
	case entity.StateSucceeded:
	default:
		log.Debug().Str("state", string(state)).Msg("delivery: job not finished yet")
		return res, nil
	}

	outcome, err := c.DeliverResultAtomic(ctx, job.ID, job.Category, resultRef)
	if errors.Is(err, entity.ErrNotDeliverable) {
		log.Warn().Msg("delivery: succeeded without a result reference")
		return res, nil
	}
	if err != nil {
		return res, err
	}
	res.Outcome = outcome

	switch outcome {
	case OutcomeDelivered:
		log.Info().Msg("delivery: result sent")
	case OutcomeAlreadyDelivered:
		log.Debug().Msg("delivery: duplicate completion ignored")
	case OutcomeLockLost:
		log.Debug().Msg("delivery: another attempt in flight, skipping")
	case OutcomeFailedReleased:
		log.Warn().Msg("delivery: dispatch failed, next trigger will retry")
	}
	return res, nil
}
