package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	config "trendharvest/configs"
	"trendharvest/pkg/coordination"
	"trendharvest/pkg/models"
	"trendharvest/pkg/storage"
)

// --- in-memory fakes ---

type fakeJobStore struct {
	jobs map[uuid.UUID]*models.Job
}

func newFakeJobStore(jobs ...*models.Job) *fakeJobStore {
	f := &fakeJobStore{jobs: make(map[uuid.UUID]*models.Job)}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeJobStore) CreateJob(ctx context.Context, job *models.Job) error {
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return job, nil
}

func (f *fakeJobStore) ListJobs(ctx context.Context, limit, offset int) ([]models.Job, error) {
	return nil, nil
}

func (f *fakeJobStore) ListDueJobs(ctx context.Context, limit int) ([]models.Job, error) {
	now := time.Now()
	var due []models.Job
	for _, j := range f.jobs {
		if j.Status == models.JobStatusActive && j.NextRunAt != nil && !j.NextRunAt.After(now) {
			due = append(due, *j)
		}
	}
	return due, nil
}

func (f *fakeJobStore) UpdateJob(ctx context.Context, job *models.Job) error {
	if _, ok := f.jobs[job.ID]; !ok {
		return storage.ErrNotFound
	}
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobStore) UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun time.Time) error {
	job, ok := f.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	job.NextRunAt = &nextRun
	return nil
}

func (f *fakeJobStore) ArchiveJob(ctx context.Context, id uuid.UUID) error {
	job, ok := f.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	job.Status = models.JobStatusArchived
	return nil
}

type fakeExecStore struct {
	created  []*models.Execution
	failures []models.Execution
	handled  map[uuid.UUID]bool
	orphans  int64
}

func newFakeExecStore() *fakeExecStore {
	return &fakeExecStore{handled: make(map[uuid.UUID]bool)}
}

func (f *fakeExecStore) CreateExecution(ctx context.Context, exec *models.Execution) error {
	f.created = append(f.created, exec)
	return nil
}

func (f *fakeExecStore) GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeExecStore) ListExecutionsByJob(ctx context.Context, jobID uuid.UUID, limit int) ([]models.Execution, error) {
	return nil, nil
}

func (f *fakeExecStore) UpdateRunState(ctx context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error {
	return nil
}

func (f *fakeExecStore) UpdateResult(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, exitCode int, failureStage, outputURI string) error {
	return nil
}

func (f *fakeExecStore) MarkOrphansAsFailed(ctx context.Context, activeNodeIDs []string) (int64, error) {
	return f.orphans, nil
}

func (f *fakeExecStore) ListRecentFailures(ctx context.Context, since time.Time, limit int) ([]models.Execution, error) {
	var out []models.Execution
	for _, e := range f.failures {
		if !f.handled[e.ID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeExecStore) MarkRetryHandled(ctx context.Context, id uuid.UUID) error {
	f.handled[id] = true
	return nil
}

type fakeQueue struct {
	pushed []*models.Execution
}

func (f *fakeQueue) Push(ctx context.Context, execution *models.Execution) error {
	f.pushed = append(f.pushed, execution)
	return nil
}

func (f *fakeQueue) Pop(ctx context.Context, group, consumer string) (string, *models.Execution, error) {
	return "", nil, nil
}

func (f *fakeQueue) Ack(ctx context.Context, group, msgID string) error { return nil }

func (f *fakeQueue) EnsureGroup(ctx context.Context, group string) error { return nil }

type fakeCoordinator struct {
	nodes []string
}

func (f *fakeCoordinator) NewElection(name string) coordination.Election { return nil }

func (f *fakeCoordinator) RegisterNode(ctx context.Context, nodeID string, ttl int) error {
	return nil
}

func (f *fakeCoordinator) GetActiveNodes(ctx context.Context) ([]string, error) {
	return f.nodes, nil
}

func (f *fakeCoordinator) Close() error { return nil }

// --- harness ---

func newTestCore(store *fakeJobStore, execStore *fakeExecStore, queue *fakeQueue) *Core {
	return NewCore(&config.Config{SchedulerInterval: "10s"},
		store, execStore, queue, &fakeCoordinator{}, zap.NewNop())
}

func activeJob(schedule string, nextRunAt time.Time) *models.Job {
	return &models.Job{
		ID:        uuid.New(),
		Name:      "poll-target",
		Schedule:  schedule,
		Command:   "echo hi",
		Type:      models.JobTypeShell,
		Status:    models.JobStatusActive,
		NextRunAt: &nextRunAt,
	}
}

// --- tests ---

func TestPollAndSchedule_DispatchesOncePerTick(t *testing.T) {
	job := activeJob("*/5 * * * *", time.Now().Add(-time.Second))
	store := newFakeJobStore(job)
	execStore := newFakeExecStore()
	queue := &fakeQueue{}
	c := newTestCore(store, execStore, queue)

	// Two polls against the same satisfied tick: advancing NextRunAt
	// on the first dispatch must keep the second poll empty.
	if err := c.PollAndSchedule(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.PollAndSchedule(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(execStore.created) != 1 {
		t.Fatalf("expected exactly 1 execution per tick, got %d", len(execStore.created))
	}
	if len(queue.pushed) != 1 {
		t.Fatalf("expected exactly 1 queue push per tick, got %d", len(queue.pushed))
	}

	exec := execStore.created[0]
	if exec.JobID != job.ID || exec.JobCommand != job.Command || exec.Attempt != 1 {
		t.Errorf("execution payload wrong: %+v", exec)
	}

	if !store.jobs[job.ID].NextRunAt.After(time.Now()) {
		t.Error("NextRunAt must be advanced past now after dispatch")
	}
}

func TestPollAndSchedule_NoDueJobsIsNoOp(t *testing.T) {
	job := activeJob("*/5 * * * *", time.Now().Add(time.Hour))
	store := newFakeJobStore(job)
	execStore := newFakeExecStore()
	queue := &fakeQueue{}
	c := newTestCore(store, execStore, queue)

	if err := c.PollAndSchedule(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(execStore.created) != 0 || len(queue.pushed) != 0 {
		t.Error("nothing should dispatch before the schedule is due")
	}
}

func TestPollAndSchedule_InvalidSchedulePausesJob(t *testing.T) {
	job := activeJob("not-a-cron", time.Now().Add(-time.Second))
	store := newFakeJobStore(job)
	execStore := newFakeExecStore()
	queue := &fakeQueue{}
	c := newTestCore(store, execStore, queue)

	if err := c.PollAndSchedule(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(execStore.created) != 0 || len(queue.pushed) != 0 {
		t.Error("an unparseable schedule must not dispatch")
	}
	if store.jobs[job.ID].Status != models.JobStatusPaused {
		t.Errorf("expected job to be paused, got %s", store.jobs[job.ID].Status)
	}

	// Paused, it must not come back as due on the next poll.
	if err := c.PollAndSchedule(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(execStore.created) != 0 {
		t.Error("paused job must not dispatch")
	}
}

func TestRetryFailures_OneRetryPerFailure(t *testing.T) {
	job := activeJob("*/5 * * * *", time.Now().Add(time.Hour))
	job.RetryPolicy = models.RetryPolicy{MaxRetries: 1, InitialInterval: "1s"}
	store := newFakeJobStore(job)
	execStore := newFakeExecStore()
	execStore.failures = []models.Execution{{
		ID:      uuid.New(),
		JobID:   job.ID,
		Status:  models.ExecutionFailed,
		Attempt: 1,
	}}
	queue := &fakeQueue{}
	c := newTestCore(store, execStore, queue)

	// The same failure stays inside the lookback window across
	// several reconcile ticks; it must be retried exactly once.
	for i := 0; i < 4; i++ {
		if err := c.RetryFailures(context.Background()); err != nil {
			t.Fatalf("unexpected error on pass %d: %v", i, err)
		}
	}

	if len(execStore.created) != 1 {
		t.Fatalf("expected 1 retry for MaxRetries=1, got %d", len(execStore.created))
	}
	if len(queue.pushed) != 1 {
		t.Fatalf("expected 1 retry push, got %d", len(queue.pushed))
	}
	if execStore.created[0].Attempt != 2 {
		t.Errorf("expected attempt 2, got %d", execStore.created[0].Attempt)
	}
}

func TestRetryFailures_BudgetExhausted(t *testing.T) {
	job := activeJob("*/5 * * * *", time.Now().Add(time.Hour))
	job.RetryPolicy = models.RetryPolicy{MaxRetries: 1}
	store := newFakeJobStore(job)
	execStore := newFakeExecStore()
	failureID := uuid.New()
	execStore.failures = []models.Execution{{
		ID:      failureID,
		JobID:   job.ID,
		Status:  models.ExecutionFailed,
		Attempt: 2, // the one allowed retry already failed
	}}
	queue := &fakeQueue{}
	c := newTestCore(store, execStore, queue)

	if err := c.RetryFailures(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(execStore.created) != 0 {
		t.Error("exhausted budget must not spawn another retry")
	}
	if !execStore.handled[failureID] {
		t.Error("exhausted failure must be marked handled so it is not rescanned")
	}
}

func TestRetryFailures_DeletedJobIsSkipped(t *testing.T) {
	store := newFakeJobStore()
	execStore := newFakeExecStore()
	failureID := uuid.New()
	execStore.failures = []models.Execution{{
		ID:      failureID,
		JobID:   uuid.New(), // no such job anymore
		Status:  models.ExecutionFailed,
		Attempt: 1,
	}}
	queue := &fakeQueue{}
	c := newTestCore(store, execStore, queue)

	if err := c.RetryFailures(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(execStore.created) != 0 {
		t.Error("deleted job must not be retried")
	}
	if !execStore.handled[failureID] {
		t.Error("failure of a deleted job must be marked handled")
	}
}

func TestReconcile_ReapsOrphans(t *testing.T) {
	store := newFakeJobStore()
	execStore := newFakeExecStore()
	execStore.orphans = 2
	c := newTestCore(store, execStore, &fakeQueue{})

	if err := c.Reconcile(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
