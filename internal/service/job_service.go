package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"job-delivery-service/internal/delivery"
	"job-delivery-service/internal/entity"
)

// JobRepository is the store port the job service needs (implemented by
// postgresql.JobRepository and sqlite.JobRepository).
type JobRepository interface {
	Create(ctx context.Context, job entity.NewJob) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.GenerationJob, error)
}

type Deliverer interface {
	DeliverResultAtomic(ctx context.Context, jobID uuid.UUID, category entity.Category, resultRef string) (delivery.Outcome, error)
}

type JobService struct {
	repo      JobRepository
	deliverer Deliverer
}

func NewJobService(repo JobRepository, deliverer Deliverer) *JobService {
	return &JobService{repo: repo, deliverer: deliverer}
}

type RegisterJobRequest struct {
	UserID         string
	ExternalTaskID string
	Category       entity.Category
}

// RegisterJob records a job the submission path has handed to the upstream
// API. The job starts in the pending state.
func (s *JobService) RegisterJob(ctx context.Context, req RegisterJobRequest) (uuid.UUID, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.ExternalTaskID = strings.TrimSpace(req.ExternalTaskID)
	req.Category = entity.Category(strings.ToLower(strings.TrimSpace(string(req.Category))))

	if req.UserID == "" {
		return uuid.Nil, errors.New("user_id is required")
	}
	if req.ExternalTaskID == "" {
		return uuid.Nil, errors.New("external_task_id is required")
	}
	if !req.Category.Valid() {
		return uuid.Nil, errors.New("category must be one of image, video, audio")
	}

	return s.repo.Create(ctx, entity.NewJob{
		UserID:         req.UserID,
		ExternalTaskID: req.ExternalTaskID,
		Category:       req.Category,
	})
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*entity.GenerationJob, error) {
	return s.repo.GetByID(ctx, id)
}

// Redeliver is the manual retry path. It goes through the same atomic
// delivery as every other trigger, so a delivered job reports
// ALREADY_DELIVERED instead of being sent twice.
func (s *JobService) Redeliver(ctx context.Context, id uuid.UUID) (delivery.Outcome, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if job.Delivered() {
		return delivery.OutcomeAlreadyDelivered, nil
	}
	if job.State != entity.StateSucceeded || job.Result() == "" {
		return "", entity.ErrNotDeliverable
	}
	return s.deliverer.DeliverResultAtomic(ctx, job.ID, job.Category, job.Result())
}
