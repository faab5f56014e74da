package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"job-delivery-service/internal/delivery"
	"job-delivery-service/internal/entity"
	"job-delivery-service/internal/service"
	"job-delivery-service/internal/upstream"
)

type fakeRepo struct {
	createCalled int
	lastJob      entity.NewJob
	createID     uuid.UUID
	createErr    error

	jobs map[uuid.UUID]*entity.GenerationJob
}

func (r *fakeRepo) Create(ctx context.Context, job entity.NewJob) (uuid.UUID, error) {
	r.createCalled++
	r.lastJob = job
	if r.createErr != nil {
		return uuid.Nil, r.createErr
	}
	return r.createID, nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.GenerationJob, error) {
	if job, ok := r.jobs[id]; ok {
		return job, nil
	}
	return nil, entity.ErrNotFound
}

func (r *fakeRepo) GetByExternalTaskID(ctx context.Context, externalTaskID string) (*entity.GenerationJob, error) {
	for _, job := range r.jobs {
		if job.ExternalTaskID == externalTaskID {
			return job, nil
		}
	}
	return nil, entity.ErrNotFound
}

type fakeDeliverer struct {
	calls   int
	lastRef string
	outcome delivery.Outcome
}

func (d *fakeDeliverer) DeliverResultAtomic(ctx context.Context, jobID uuid.UUID, category entity.Category, resultRef string) (delivery.Outcome, error) {
	d.calls++
	d.lastRef = resultRef
	return d.outcome, nil
}

func strPtr(s string) *string { return &s }

func TestJobService_RegisterJob_Normalizes(t *testing.T) {
	id := uuid.MustParse("66666666-6666-6666-6666-666666666666")
	repo := &fakeRepo{createID: id}
	svc := service.NewJobService(repo, &fakeDeliverer{})

	got, err := svc.RegisterJob(context.Background(), service.RegisterJobRequest{
		UserID:         " 42 ",
		ExternalTaskID: " task-9 ",
		Category:       "VIDEO",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got != id {
		t.Fatalf("expected id %s, got %s", id, got)
	}
	want := entity.NewJob{UserID: "42", ExternalTaskID: "task-9", Category: entity.CategoryVideo}
	if repo.lastJob != want {
		t.Fatalf("expected %+v, got %+v", want, repo.lastJob)
	}
}

func TestJobService_RegisterJob_Validation(t *testing.T) {
	repo := &fakeRepo{}
	svc := service.NewJobService(repo, &fakeDeliverer{})

	bad := []service.RegisterJobRequest{
		{ExternalTaskID: "t", Category: entity.CategoryImage},
		{UserID: "1", Category: entity.CategoryImage},
		{UserID: "1", ExternalTaskID: "t", Category: "gif"},
	}
	for _, req := range bad {
		if _, err := svc.RegisterJob(context.Background(), req); err == nil {
			t.Fatalf("expected error for %+v", req)
		}
	}
	if repo.createCalled != 0 {
		t.Fatalf("repo must not be called for invalid input, got %d calls", repo.createCalled)
	}
}

func TestJobService_Redeliver(t *testing.T) {
	now := time.Now().UTC()
	succeeded := &entity.GenerationJob{ID: uuid.New(), Category: entity.CategoryImage, State: entity.StateSucceeded, ResultRef: strPtr("ref")}
	delivered := &entity.GenerationJob{ID: uuid.New(), State: entity.StateSucceeded, ResultRef: strPtr("ref"), DeliveredAt: &now}
	running := &entity.GenerationJob{ID: uuid.New(), State: entity.StateProcessing}

	repo := &fakeRepo{jobs: map[uuid.UUID]*entity.GenerationJob{
		succeeded.ID: succeeded,
		delivered.ID: delivered,
		running.ID:   running,
	}}
	d := &fakeDeliverer{outcome: delivery.OutcomeDelivered}
	svc := service.NewJobService(repo, d)
	ctx := context.Background()

	out, err := svc.Redeliver(ctx, succeeded.ID)
	if err != nil || out != delivery.OutcomeDelivered || d.lastRef != "ref" {
		t.Fatalf("succeeded job: out=%s err=%v ref=%q", out, err, d.lastRef)
	}

	out, err = svc.Redeliver(ctx, delivered.ID)
	if err != nil || out != delivery.OutcomeAlreadyDelivered {
		t.Fatalf("delivered job: out=%s err=%v", out, err)
	}

	if _, err := svc.Redeliver(ctx, running.ID); !errors.Is(err, entity.ErrNotDeliverable) {
		t.Fatalf("running job: expected ErrNotDeliverable, got %v", err)
	}
	if _, err := svc.Redeliver(ctx, uuid.New()); !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("missing job: expected ErrNotFound, got %v", err)
	}
	if d.calls != 1 {
		t.Fatalf("expected 1 delivery call, got %d", d.calls)
	}
}

type fakeObserver struct {
	jobs    []*entity.GenerationJob
	reports []delivery.Report
	sources []delivery.Source
}

func (o *fakeObserver) Observe(ctx context.Context, job *entity.GenerationJob, rep delivery.Report, src delivery.Source) (delivery.ObserveResult, error) {
	o.jobs = append(o.jobs, job)
	o.reports = append(o.reports, rep)
	o.sources = append(o.sources, src)
	return delivery.ObserveResult{State: entity.StateSucceeded, Outcome: delivery.OutcomeDelivered}, nil
}

type fakeQueue struct {
	enqueued   []upstream.StatusReport
	enqueueErr error
}

func (q *fakeQueue) Enqueue(ctx context.Context, rep upstream.StatusReport) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.enqueued = append(q.enqueued, rep)
	return nil
}

func TestCompletionListener_HandleResolvesJob(t *testing.T) {
	job := &entity.GenerationJob{ID: uuid.New(), ExternalTaskID: "ext-1", Category: entity.CategoryAudio}
	repo := &fakeRepo{jobs: map[uuid.UUID]*entity.GenerationJob{job.ID: job}}
	obs := &fakeObserver{}
	l := service.NewCompletionListener(repo, obs, zerolog.Nop())

	res, err := l.Handle(context.Background(), upstream.StatusReport{ExternalTaskID: "ext-1", RawStatus: "SUCCESS", ResultRef: "ref"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Outcome != delivery.OutcomeDelivered {
		t.Fatalf("expected DELIVERED, got %s", res.Outcome)
	}
	if len(obs.jobs) != 1 || obs.jobs[0] != job || obs.sources[0] != delivery.SourceCallback {
		t.Fatalf("observer not called with job and callback source")
	}
	if obs.reports[0] != (delivery.Report{RawStatus: "SUCCESS", ResultRef: "ref"}) {
		t.Fatalf("unexpected report %+v", obs.reports[0])
	}
}

func TestCompletionListener_UnknownTask(t *testing.T) {
	obs := &fakeObserver{}
	l := service.NewCompletionListener(&fakeRepo{}, obs, zerolog.Nop())

	_, err := l.Handle(context.Background(), upstream.StatusReport{ExternalTaskID: "nope", RawStatus: "SUCCESS"})
	if !errors.Is(err, entity.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
	if len(obs.jobs) != 0 {
		t.Fatalf("observer must not run for unknown tasks")
	}
}

func TestCompletionListener_AcceptQueues(t *testing.T) {
	q := &fakeQueue{}
	obs := &fakeObserver{}
	l := service.NewCompletionListener(&fakeRepo{}, obs, zerolog.Nop()).WithQueue(q)

	if !l.Queued() {
		t.Fatal("expected queued listener")
	}
	rep := upstream.StatusReport{ExternalTaskID: "ext-1", RawStatus: "done"}
	if err := l.Accept(context.Background(), rep); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != rep {
		t.Fatalf("expected report enqueued, got %#v", q.enqueued)
	}
	if len(obs.jobs) != 0 {
		t.Fatal("queued accept must not observe inline")
	}

	q.enqueueErr = errors.New("redis down")
	if err := l.Accept(context.Background(), rep); err == nil {
		t.Fatal("expected enqueue error")
	}
}

func TestQueuedReport_EncodeDecode(t *testing.T) {
	raw, err := service.EncodeQueued(service.QueuedReport{
		ID:     "m-1",
		Report: upstream.StatusReport{ExternalTaskID: "ext-1", RawStatus: "SUCCESS", ResultRef: "ref"},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := service.DecodeQueued(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Raw != raw || msg.Report.ResultRef != "ref" {
		t.Fatalf("unexpected message %+v", msg)
	}

	if _, err := service.DecodeQueued(`{"id":"x","report":{}}`); !errors.Is(err, upstream.ErrMissingTaskID) {
		t.Fatalf("expected ErrMissingTaskID, got %v", err)
	}
	if _, err := service.DecodeQueued(`not json`); err == nil {
		t.Fatal("expected decode error")
	}
}
