// Package alert carries observability alerts for jobs whose result could not
// be delivered.
package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"job-delivery-service/internal/entity"
)

// OrphanAlert describes a succeeded job that is still undelivered after the
// orphan threshold.
type OrphanAlert struct {
	JobID      uuid.UUID       `json:"job_id"`
	UserID     string          `json:"user_id"`
	Category   entity.Category `json:"category"`
	ReceivedAt time.Time       `json:"received_at"`
	Age        time.Duration   `json:"age_ns"`
	AgeText    string          `json:"age"`
	Attempts   int             `json:"delivery_attempts"`
	LastError  string          `json:"last_error,omitempty"`
	Outcome    string          `json:"outcome,omitempty"`
	RaisedAt   time.Time       `json:"raised_at"`
}

type Sink interface {
	Orphan(ctx context.Context, a OrphanAlert) error
}

// LogSink writes alerts as error-level log events.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "alert").Logger()}
}

func (s *LogSink) Orphan(_ context.Context, a OrphanAlert) error {
	s.log.Error().
		Str("alert", "orphan_job").
		Str("job_id", a.JobID.String()).
		Str("user_id", a.UserID).
		Str("category", string(a.Category)).
		Time("received_at", a.ReceivedAt).
		Dur("age", a.Age).
		Int("delivery_attempts", a.Attempts).
		Str("last_error", a.LastError).
		Str("outcome", a.Outcome).
		Msg("alert: job result not delivered")
	return nil
}
