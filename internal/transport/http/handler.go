package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"job-delivery-service/internal/delivery"
	"job-delivery-service/internal/entity"
	"job-delivery-service/internal/service"
	"job-delivery-service/internal/upstream"
)

const maxCallbackBody = 1 << 20

// CallbackIntake accepts upstream push notifications
// (service.CompletionListener).
type CallbackIntake interface {
	Accept(ctx context.Context, rep upstream.StatusReport) error
	Queued() bool
}

type Handler struct {
	jobSvc *service.JobService
	intake CallbackIntake
	log    zerolog.Logger
}

func NewHandler(jobSvc *service.JobService, intake CallbackIntake, log zerolog.Logger) *Handler {
	return &Handler{jobSvc: jobSvc, intake: intake, log: log.With().Str("component", "http").Logger()}
}

type registerJobDTO struct {
	UserID         string `json:"user_id"`
	ExternalTaskID string `json:"external_task_id"`
	Category       string `json:"category" enums:"image,video,audio"`
}

type registerJobResp struct {
	ID string `json:"id"`
}

type jobResp struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	ExternalTaskID    string          `json:"external_task_id"`
	Category          entity.Category `json:"category"`
	State             entity.JobState `json:"state"`
	RawStatus         *string         `json:"raw_status,omitempty"`
	ResultRef         *string         `json:"result_ref,omitempty"`
	CreatedAt         string          `json:"created_at"`
	UpdatedAt         string          `json:"updated_at"`
	ReceivedAt        *string         `json:"received_at,omitempty"`
	DeliveringAt      *string         `json:"delivering_at,omitempty"`
	DeliveredAt       *string         `json:"delivered_at,omitempty"`
	DeliveryAttempts  int             `json:"delivery_attempts"`
	LastDeliveryError *string         `json:"last_delivery_error,omitempty"`
}

type deliverResp struct {
	Outcome delivery.Outcome `json:"outcome"`
}

type callbackResp struct {
	Status string `json:"status"`
}

// CompletionCallback godoc
// @Summary Upstream completion callback
// @Description Receives a push notification from the compute vendor. Duplicates are expected and safe.
// @Tags callbacks
// @Accept json
// @Produce json
// @Param request body object true "vendor payload"
// @Success 200 {object} callbackResp
// @Success 202 {object} callbackResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /callbacks/completion [post]
func (h *Handler) CompletionCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, "unreadable body")
		return
	}
	rep, err := upstream.DecodeReport(body)
	if errors.Is(err, upstream.ErrMissingTaskID) {
		writeErr(w, r, http.StatusBadRequest, "missing task id")
		return
	}
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	err = h.intake.Accept(r.Context(), rep)
	switch {
	case errors.Is(err, entity.ErrUnknownTask):
		// Acknowledge so the vendor stops retrying a task we never registered.
		writeJSON(w, http.StatusOK, callbackResp{Status: "ignored"})
	case err != nil:
		h.log.Error().Err(err).Str("external_task_id", rep.ExternalTaskID).Msg("callback: accept failed")
		writeErr(w, r, http.StatusInternalServerError, "callback not processed")
	case h.intake.Queued():
		writeJSON(w, http.StatusAccepted, callbackResp{Status: "queued"})
	default:
		writeJSON(w, http.StatusOK, callbackResp{Status: "processed"})
	}
}

// RegisterJob godoc
// @Summary Register a submitted generation job
// @Description Records a job already handed to the upstream API so completions can be matched to it.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body registerJobDTO true "job"
// @Success 201 {object} registerJobResp
// @Failure 400 {object} apiError
// @Failure 409 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs [post]
func (h *Handler) RegisterJob(w http.ResponseWriter, r *http.Request) {
	var dto registerJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	id, err := h.jobSvc.RegisterJob(r.Context(), service.RegisterJobRequest{
		UserID:         dto.UserID,
		ExternalTaskID: dto.ExternalTaskID,
		Category:       entity.Category(dto.Category),
	})
	if errors.Is(err, entity.ErrDuplicateTask) {
		writeErr(w, r, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, registerJobResp{ID: id.String()})
}

// GetJob godoc
// @Summary Get job by id
// @Description Returns the job with its delivery bookkeeping.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, "invalid id")
		return
	}

	j, err := h.jobSvc.GetJob(r.Context(), id)
	if errors.Is(err, entity.ErrNotFound) {
		writeErr(w, r, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", id.String()).Msg("get job")
		writeErr(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toJobResp(j))
}

// RedeliverJob godoc
// @Summary Retry delivery of a job result
// @Description Runs the atomic delivery for a succeeded job. A delivered job answers ALREADY_DELIVERED and is not resent.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} deliverResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs/{id}/deliver [post]
func (h *Handler) RedeliverJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, "invalid id")
		return
	}

	outcome, err := h.jobSvc.Redeliver(r.Context(), id)
	switch {
	case errors.Is(err, entity.ErrNotFound):
		writeErr(w, r, http.StatusNotFound, "job not found")
	case errors.Is(err, entity.ErrNotDeliverable):
		writeErr(w, r, http.StatusConflict, "job has no deliverable result")
	case err != nil:
		h.log.Error().Err(err).Str("job_id", id.String()).Msg("redeliver job")
		writeErr(w, r, http.StatusInternalServerError, "internal error")
	default:
		h.log.Info().Str("job_id", id.String()).Str("outcome", string(outcome)).Msg("manual redelivery")
		writeJSON(w, http.StatusOK, deliverResp{Outcome: outcome})
	}
}

func toJobResp(j *entity.GenerationJob) jobResp {
	return jobResp{
		ID:                j.ID.String(),
		UserID:            j.UserID,
		ExternalTaskID:    j.ExternalTaskID,
		Category:          j.Category,
		State:             j.State,
		RawStatus:         j.RawStatus,
		ResultRef:         j.ResultRef,
		CreatedAt:         j.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         j.UpdatedAt.UTC().Format(time.RFC3339),
		ReceivedAt:        formatOptional(j.ReceivedAt),
		DeliveringAt:      formatOptional(j.DeliveringAt),
		DeliveredAt:       formatOptional(j.DeliveredAt),
		DeliveryAttempts:  j.DeliveryAttempts,
		LastDeliveryError: j.LastDeliveryError,
	}
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}
