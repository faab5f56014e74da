package worker_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-delivery-service/internal/alert"
	"job-delivery-service/internal/delivery"
	"job-delivery-service/internal/entity"
	"job-delivery-service/internal/repository/sqlite"
	"job-delivery-service/internal/service"
	"job-delivery-service/internal/upstream"
	"job-delivery-service/internal/worker"
)

type fakeMedia struct {
	mu    sync.Mutex
	sent  []string
	fails int
}

func (m *fakeMedia) SendImage(_ context.Context, _, ref string) error { return m.send(ref) }
func (m *fakeMedia) SendVideo(_ context.Context, _, ref string) error { return m.send(ref) }
func (m *fakeMedia) SendAudio(_ context.Context, _, ref string) error { return m.send(ref) }

func (m *fakeMedia) send(ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fails > 0 {
		m.fails--
		return errors.New("messenger: 429 too many requests")
	}
	m.sent = append(m.sent, ref)
	return nil
}

func (m *fakeMedia) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeUpstream struct {
	reports map[string]upstream.StatusReport
	errs    map[string]error
	calls   int
}

func (u *fakeUpstream) TaskStatus(_ context.Context, id string) (upstream.StatusReport, error) {
	u.calls++
	if err := u.errs[id]; err != nil {
		return upstream.StatusReport{}, err
	}
	rep, ok := u.reports[id]
	if !ok {
		return upstream.StatusReport{ExternalTaskID: id, RawStatus: "running"}, nil
	}
	return rep, nil
}

type recordingSink struct {
	alerts []alert.OrphanAlert
}

func (s *recordingSink) Orphan(_ context.Context, a alert.OrphanAlert) error {
	s.alerts = append(s.alerts, a)
	return nil
}

type env struct {
	repo  *sqlite.JobRepository
	media *fakeMedia
	coord *delivery.Coordinator
	now   time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	e := &env{
		repo:  sqlite.NewJobRepository(db),
		media: &fakeMedia{},
		now:   time.Date(2026, 1, 13, 7, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return e.now }
	e.repo.SetClock(clock)
	e.coord = delivery.NewCoordinator(e.repo, e.media, zerolog.Nop(), delivery.Options{
		LockTimeout:     5 * time.Minute,
		DispatchTimeout: time.Second,
	})
	e.coord.SetClock(clock)
	return e
}

func (e *env) job(t *testing.T, task string) uuid.UUID {
	t.Helper()
	id, err := e.repo.Create(context.Background(), entity.NewJob{UserID: "5", ExternalTaskID: task, Category: entity.CategoryImage})
	require.NoError(t, err)
	return id
}

func (e *env) get(t *testing.T, id uuid.UUID) *entity.GenerationJob {
	t.Helper()
	job, err := e.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return job
}

// The push notification never arrives; the poller alone delivers.
func TestPoller_DeliversWithoutCallback(t *testing.T) {
	e := newEnv(t)
	done := e.job(t, "task-done")
	running := e.job(t, "task-running")
	broken := e.job(t, "task-broken")

	up := &fakeUpstream{
		reports: map[string]upstream.StatusReport{
			"task-done": {ExternalTaskID: "task-done", RawStatus: "SUCCESS", ResultRef: "https://cdn/a.png"},
		},
		errs: map[string]error{"task-broken": errors.New("upstream: 503")},
	}
	p := worker.NewPoller(e.repo, up, e.coord, worker.PollerOptions{Batch: 10}, zerolog.Nop())
	p.SetClock(func() time.Time { return e.now })

	stats := p.Tick(context.Background())
	assert.Equal(t, 3, stats.Checked)
	assert.Equal(t, 1, stats.Delivered)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, []string{"https://cdn/a.png"}, e.media.sent)

	assert.NotNil(t, e.get(t, done).DeliveredAt)
	assert.Equal(t, entity.StateProcessing, e.get(t, running).State)
	assert.Equal(t, entity.StatePending, e.get(t, broken).State)

	// Delivered jobs drop out of the poll set.
	e.now = e.now.Add(15 * time.Second)
	stats = p.Tick(context.Background())
	assert.Equal(t, 2, stats.Checked)
	assert.Equal(t, 1, e.media.count())
}

func TestPoller_RetriesFailedDispatchNextTick(t *testing.T) {
	e := newEnv(t)
	e.media.fails = 1
	id := e.job(t, "task-1")
	up := &fakeUpstream{reports: map[string]upstream.StatusReport{
		"task-1": {ExternalTaskID: "task-1", RawStatus: "completed", ResultRef: "ref"},
	}}
	p := worker.NewPoller(e.repo, up, e.coord, worker.PollerOptions{}, zerolog.Nop())
	p.SetClock(func() time.Time { return e.now })

	stats := p.Tick(context.Background())
	assert.Equal(t, 1, stats.Retry)
	assert.Nil(t, e.get(t, id).DeliveredAt)

	e.now = e.now.Add(15 * time.Second)
	stats = p.Tick(context.Background())
	assert.Equal(t, 1, stats.Delivered)
	assert.Equal(t, 1, e.media.count())
	assert.Equal(t, 1, e.get(t, id).DeliveryAttempts)
}

func TestPoller_SkipsJobsPastMaxAge(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pending := e.job(t, "old")
	succeeded := e.job(t, "old-succeeded")
	_, err := e.repo.RecordObservation(ctx, succeeded, entity.Observation{State: entity.StateSucceeded, ResultRef: "ref", At: e.now})
	require.NoError(t, err)

	up := &fakeUpstream{}
	p := worker.NewPoller(e.repo, up, e.coord, worker.PollerOptions{MaxAge: time.Hour}, zerolog.Nop())

	e.now = e.now.Add(2 * time.Hour)
	p.SetClock(func() time.Time { return e.now })
	stats := p.Tick(ctx)
	assert.Zero(t, stats.Checked)
	assert.Zero(t, up.calls)

	// Only the job that reported success is left to the orphan sweep.
	r := worker.NewReconciler(e.repo, e.coord, &recordingSink{}, worker.ReconcilerOptions{Threshold: 30 * time.Minute}, zerolog.Nop())
	r.SetClock(func() time.Time { return e.now })
	sweep := r.Sweep(ctx)
	assert.Equal(t, 1, sweep.Found)
	assert.NotNil(t, e.get(t, succeeded).DeliveredAt)
	assert.Equal(t, entity.StatePending, e.get(t, pending).State)
}

// Both the callback and the poller saw success, but every dispatch failed.
// The orphan sweep retries once the threshold passes.
func TestReconciler_RetriesOrphan(t *testing.T) {
	e := newEnv(t)
	e.media.fails = 2
	id := e.job(t, "task-orphan")
	ctx := context.Background()

	job := e.get(t, id)
	res, err := e.coord.Observe(ctx, job, delivery.Report{RawStatus: "success", ResultRef: "ref"}, delivery.SourceCallback)
	require.NoError(t, err)
	require.Equal(t, delivery.OutcomeFailedReleased, res.Outcome)
	res, err = e.coord.Observe(ctx, e.get(t, id), delivery.Report{RawStatus: "success"}, delivery.SourcePoll)
	require.NoError(t, err)
	require.Equal(t, delivery.OutcomeFailedReleased, res.Outcome)

	sink := &recordingSink{}
	r := worker.NewReconciler(e.repo, e.coord, sink, worker.ReconcilerOptions{Threshold: 30 * time.Minute}, zerolog.Nop())
	r.SetClock(func() time.Time { return e.now })

	e.now = e.now.Add(10 * time.Minute)
	stats := r.Sweep(ctx)
	assert.Zero(t, stats.Found, "not an orphan before the threshold")

	e.now = e.now.Add(30 * time.Minute)
	stats = r.Sweep(ctx)
	assert.Equal(t, 1, stats.Found)
	assert.Equal(t, 1, stats.Delivered)
	assert.Empty(t, sink.alerts)
	assert.Equal(t, []string{"ref"}, e.media.sent)
	assert.NotNil(t, e.get(t, id).DeliveredAt)

	stats = r.Sweep(ctx)
	assert.Zero(t, stats.Found)
}

func TestReconciler_AlertsOnRepeatedFailure(t *testing.T) {
	e := newEnv(t)
	e.media.fails = 100
	id := e.job(t, "task-stuck")
	ctx := context.Background()

	_, err := e.repo.RecordObservation(ctx, id, entity.Observation{State: entity.StateSucceeded, ResultRef: "ref", At: e.now})
	require.NoError(t, err)

	sink := &recordingSink{}
	r := worker.NewReconciler(e.repo, e.coord, sink, worker.ReconcilerOptions{Threshold: 30 * time.Minute}, zerolog.Nop())
	r.SetClock(func() time.Time { return e.now })

	e.now = e.now.Add(40 * time.Minute)
	stats := r.Sweep(ctx)
	assert.Equal(t, 1, stats.Alerted)
	require.Len(t, sink.alerts, 1)

	a := sink.alerts[0]
	assert.Equal(t, id, a.JobID)
	assert.Equal(t, 40*time.Minute, a.Age)
	assert.Equal(t, 1, a.Attempts)
	assert.Equal(t, string(delivery.OutcomeFailedReleased), a.Outcome)

	// The next sweep retries again and raises exactly one more alert.
	e.now = e.now.Add(5 * time.Minute)
	stats = r.Sweep(ctx)
	assert.Equal(t, 1, stats.Found)
	assert.Equal(t, 1, stats.Alerted)
	require.Len(t, sink.alerts, 2)
	assert.Equal(t, id, sink.alerts[1].JobID)
	assert.Equal(t, 45*time.Minute, sink.alerts[1].Age)
	assert.Equal(t, 2, sink.alerts[1].Attempts)
	assert.Zero(t, e.media.count())
}

func TestReconciler_HeldLockAlertsOnlyPastAttemptLimit(t *testing.T) {
	e := newEnv(t)
	id := e.job(t, "task-held")
	ctx := context.Background()

	_, err := e.repo.RecordObservation(ctx, id, entity.Observation{State: entity.StateSucceeded, ResultRef: "ref", At: e.now})
	require.NoError(t, err)

	e.now = e.now.Add(40 * time.Minute)
	_, ok, err := e.repo.AcquireLease(ctx, id, e.now, e.now.Add(-5*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	sink := &recordingSink{}
	r := worker.NewReconciler(e.repo, e.coord, sink, worker.ReconcilerOptions{Threshold: 30 * time.Minute}, zerolog.Nop())
	r.SetClock(func() time.Time { return e.now })

	stats := r.Sweep(ctx)
	assert.Equal(t, 1, stats.Found)
	assert.Zero(t, stats.Alerted)
	assert.Zero(t, e.media.count())
}

type fakeQueue struct {
	mu     sync.Mutex
	msgs   []service.QueuedReport
	acked  []string
	want   int
	closed chan struct{}
}

func (q *fakeQueue) Enqueue(context.Context, upstream.StatusReport) error { return nil }

func (q *fakeQueue) ClaimBlocking(ctx context.Context, _ time.Duration) (service.QueuedReport, error) {
	q.mu.Lock()
	if len(q.msgs) > 0 {
		msg := q.msgs[0]
		q.msgs = q.msgs[1:]
		q.mu.Unlock()
		return msg, nil
	}
	q.mu.Unlock()
	select {
	case <-ctx.Done():
		return service.QueuedReport{}, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return service.QueuedReport{}, service.ErrQueueEmpty
	}
}

func (q *fakeQueue) Ack(_ context.Context, msg service.QueuedReport) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, msg.ID)
	if len(q.acked) == q.want && q.closed != nil {
		close(q.closed)
		q.closed = nil
	}
	return nil
}

func (q *fakeQueue) RequeueStale(context.Context, int64) (int64, error) { return 0, nil }

// Duplicate push notifications consumed concurrently send the result once.
func TestPool_DuplicateCallbacksSendOnce(t *testing.T) {
	e := newEnv(t)
	id := e.job(t, "task-dup")

	listener := service.NewCompletionListener(e.repo, e.coord, zerolog.Nop())
	rep := upstream.StatusReport{ExternalTaskID: "task-dup", RawStatus: "SUCCESS", ResultRef: "ref"}
	q := &fakeQueue{closed: make(chan struct{})}
	for i := 0; i < 5; i++ {
		q.msgs = append(q.msgs, service.QueuedReport{ID: uuid.NewString(), Report: rep, EnqueuedAt: e.now})
	}
	q.msgs = append(q.msgs, service.QueuedReport{ID: "unknown", Report: upstream.StatusReport{ExternalTaskID: "nope", RawStatus: "SUCCESS"}})
	q.want = len(q.msgs)
	allAcked := q.closed

	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.NewPool(q, worker.NewProcessor(listener, zerolog.Nop()), 3, zerolog.Nop())
	stopped := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(stopped)
	}()

	select {
	case <-allAcked:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not drain the queue")
	}
	cancel()
	<-stopped

	assert.Len(t, q.acked, 6)
	assert.Equal(t, 1, e.media.count())
	assert.NotNil(t, e.get(t, id).DeliveredAt)
}

type failingLookup struct {
	calls atomic.Int32
}

func (l *failingLookup) GetByExternalTaskID(context.Context, string) (*entity.GenerationJob, error) {
	l.calls.Add(1)
	return nil, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
}

// A store failure leaves the notification in the processing list for the
// reaper instead of dropping it.
func TestPool_StoreFailureIsNotAcked(t *testing.T) {
	e := newEnv(t)
	lookup := &failingLookup{}
	listener := service.NewCompletionListener(lookup, e.coord, zerolog.Nop())

	q := &fakeQueue{}
	q.msgs = append(q.msgs,
		service.QueuedReport{ID: "m1", Report: upstream.StatusReport{ExternalTaskID: "task-1", RawStatus: "SUCCESS", ResultRef: "ref"}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.NewPool(q, worker.NewProcessor(listener, zerolog.Nop()), 1, zerolog.Nop())
	stopped := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return lookup.calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-stopped

	assert.Empty(t, q.acked)
	assert.Zero(t, e.media.count())
}
