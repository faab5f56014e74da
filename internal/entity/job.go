package entity

import (
	"time"

	"github.com/google/uuid"
)

// Category selects which media variant a job's result is delivered as.
type Category string

const (
	CategoryImage Category = "image"
	CategoryVideo Category = "video"
	CategoryAudio Category = "audio"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryImage, CategoryVideo, CategoryAudio:
		return true
	}
	return false
}

// JobState is the canonical lifecycle state of a generation job.
type JobState string

const (
	StatePending    JobState = "pending"
	StateProcessing JobState = "processing"
	StateSucceeded  JobState = "succeeded"
	StateFailed     JobState = "failed"
)

func (s JobState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// GenerationJob is one submitted generation request.
//
// DeliveredAt is the single source of truth for "user already notified".
// DeliveringAt is a time-bounded lease held by whichever process is
// currently dispatching the result.
type GenerationJob struct {
	ID             uuid.UUID `json:"id"`
	UserID         string    `json:"user_id"`
	ExternalTaskID string    `json:"external_task_id"`
	Category       Category  `json:"category"`
	State          JobState  `json:"state"`
	RawStatus      *string   `json:"raw_status,omitempty"`
	ResultRef      *string   `json:"result_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	ReceivedAt   *time.Time `json:"received_at,omitempty"`
	DeliveringAt *time.Time `json:"delivering_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`

	DeliveryAttempts  int     `json:"delivery_attempts"`
	LastDeliveryError *string `json:"last_delivery_error,omitempty"`
}

func (j *GenerationJob) Delivered() bool {
	return j != nil && j.DeliveredAt != nil
}

// Result returns the stored result reference or "".
func (j *GenerationJob) Result() string {
	if j == nil || j.ResultRef == nil {
		return ""
	}
	return *j.ResultRef
}

// NewJob holds the fields the submission path provides when it registers a job.
type NewJob struct {
	UserID         string
	ExternalTaskID string
	Category       Category
}

// Observation is the state recorded from a single upstream status report.
type Observation struct {
	State     JobState
	RawStatus string
	ResultRef string
	At        time.Time
}

// Lease is a held delivery lock. Token is the exact delivering_at value the
// store recorded when the lock was acquired.
type Lease struct {
	JobID  uuid.UUID
	UserID string
	Token  time.Time
}
