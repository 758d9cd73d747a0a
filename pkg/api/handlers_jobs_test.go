package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"trendharvest/pkg/api"
	"trendharvest/pkg/coordination"
	"trendharvest/pkg/models"
	"trendharvest/pkg/storage"
)

// --- in-memory fakes ---

type fakeJobStore struct {
	jobs map[uuid.UUID]*models.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[uuid.UUID]*models.Job)}
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
	var out []models.Job
	for _, j := range f.jobs {
		if j.Status != models.JobStatusArchived {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeJobStore) ListDueJobs(ctx context.Context, limit int) ([]models.Job, error) {
	return nil, nil
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
	execs map[uuid.UUID]*models.Execution
}

func newFakeExecStore() *fakeExecStore {
	return &fakeExecStore{execs: make(map[uuid.UUID]*models.Execution)}
}

func (f *fakeExecStore) CreateExecution(ctx context.Context, exec *models.Execution) error {
	f.execs[exec.ID] = exec
	return nil
}

func (f *fakeExecStore) GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	exec, ok := f.execs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return exec, nil
}

func (f *fakeExecStore) ListExecutionsByJob(ctx context.Context, jobID uuid.UUID, limit int) ([]models.Execution, error) {
	var out []models.Execution
	for _, e := range f.execs {
		if e.JobID == jobID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeExecStore) UpdateRunState(ctx context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error {
	return nil
}

func (f *fakeExecStore) UpdateResult(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, exitCode int, failureStage, outputURI string) error {
	exec, ok := f.execs[id]
	if !ok {
		return storage.ErrNotFound
	}
	exec.Status = status
	exec.ExitCode = exitCode
	exec.FailureStage = failureStage
	return nil
}

func (f *fakeExecStore) MarkOrphansAsFailed(ctx context.Context, activeNodeIDs []string) (int64, error) {
	return 0, nil
}

func (f *fakeExecStore) ListRecentFailures(ctx context.Context, since time.Time, limit int) ([]models.Execution, error) {
	return nil, nil
}

func (f *fakeExecStore) MarkRetryHandled(ctx context.Context, id uuid.UUID) error {
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

func (f *fakeCoordinator) NewElection(name string) coordination.Election { return &fakeElection{} }

func (f *fakeCoordinator) RegisterNode(ctx context.Context, nodeID string, ttl int) error {
	return nil
}

func (f *fakeCoordinator) GetActiveNodes(ctx context.Context) ([]string, error) {
	return f.nodes, nil
}

func (f *fakeCoordinator) Close() error { return nil }

type fakeElection struct{}

func (f *fakeElection) Campaign(ctx context.Context, value string) error { return nil }
func (f *fakeElection) Resign(ctx context.Context) error                 { return nil }
func (f *fakeElection) Leader(ctx context.Context) (string, error) {
	return "scheduler-1", nil
}

// --- harness ---

type testEnv struct {
	server *api.Server
	jobs   *fakeJobStore
	execs  *fakeExecStore
	queue  *fakeQueue
}

func newTestEnv() *testEnv {
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		jobs:  newFakeJobStore(),
		execs: newFakeExecStore(),
		queue: &fakeQueue{},
	}
	env.server = api.NewServer(api.Config{
		Port:        "0",
		JobStore:    env.jobs,
		ExecStore:   env.execs,
		Queue:       env.queue,
		Coordinator: &fakeCoordinator{nodes: []string{"node-a", "node-b"}},
		Election:    &fakeElection{},
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

// --- tests ---

func TestCreateJob(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"name":     "daily-diy-harvest",
		"schedule": "0 6 * * *",
		"type":     "HARVEST",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp api.JobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.NextRunAt == nil {
		t.Error("expected next_run_at to be computed from the schedule")
	}
	if resp.Status != models.JobStatusActive {
		t.Errorf("expected ACTIVE status, got %s", resp.Status)
	}
}

func TestCreateJob_InvalidSchedule(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"name":     "bad-schedule",
		"schedule": "not-a-cron",
		"command":  "echo hi",
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid cron, got %d", w.Code)
	}
}

func TestCreateJob_SixFieldScheduleRejected(t *testing.T) {
	env := newTestEnv()

	// Seconds-granularity expressions are not supported.
	w := env.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"name":     "six-fields",
		"schedule": "0 0 6 * * *",
		"command":  "echo hi",
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for 6-field cron, got %d", w.Code)
	}
}

func TestCreateJob_UnknownTypeRejected(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"name":     "docker-job",
		"schedule": "* * * * *",
		"command":  "echo hi",
		"type":     "DOCKER",
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown job type, got %d", w.Code)
	}
}

func TestCreateJob_ShellRequiresCommand(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"name":     "no-command",
		"schedule": "* * * * *",
		"type":     "SHELL",
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for SHELL job without command, got %d", w.Code)
	}
}

func TestTriggerJob_DoesNotTouchSchedule(t *testing.T) {
	env := newTestEnv()

	nextRun := time.Now().Add(time.Hour)
	job := &models.Job{
		ID:        uuid.New(),
		Name:      "manual-target",
		Schedule:  "0 6 * * *",
		Command:   "python3 fetch_and_store_perplexity.py",
		Type:      models.JobTypeScript,
		Status:    models.JobStatusActive,
		Secrets:   models.SecretNames{"PERPLEXITY_API_KEY", "SUPABASE_URL", "SUPABASE_API_KEY"},
		NextRunAt: &nextRun,
	}
	env.jobs.jobs[job.ID] = job

	w := env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID.String()+"/trigger", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	if len(env.queue.pushed) != 1 {
		t.Fatalf("expected 1 queued execution, got %d", len(env.queue.pushed))
	}
	exec := env.queue.pushed[0]
	if exec.JobID != job.ID {
		t.Errorf("execution bound to wrong job")
	}
	if exec.JobCommand != job.Command {
		t.Errorf("execution must carry the job command")
	}
	if len(exec.Secrets) != 3 {
		t.Errorf("execution must carry the job's secret bindings, got %v", exec.Secrets)
	}

	// A manual trigger runs alongside the cron schedule, not instead
	// of it.
	if !env.jobs.jobs[job.ID].NextRunAt.Equal(nextRun) {
		t.Error("manual trigger must not advance the scheduled next run")
	}
}

func TestTriggerJob_NotFound(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodPost, "/api/v1/jobs/"+uuid.NewString()+"/trigger", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestDeleteJob_Archives(t *testing.T) {
	env := newTestEnv()

	job := &models.Job{ID: uuid.New(), Name: "to-archive", Status: models.JobStatusActive}
	env.jobs.jobs[job.ID] = job

	w := env.do(t, http.MethodDelete, "/api/v1/jobs/"+job.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if env.jobs.jobs[job.ID].Status != models.JobStatusArchived {
		t.Error("expected job to be archived")
	}
}

func TestGetExecution_NotFound(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodGet, "/api/v1/executions/"+uuid.NewString(), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCancelExecution_FinishedConflicts(t *testing.T) {
	env := newTestEnv()

	exec := &models.Execution{ID: uuid.New(), JobID: uuid.New(), Status: models.ExecutionSuccess}
	env.execs.execs[exec.ID] = exec

	w := env.do(t, http.MethodPost, "/api/v1/executions/"+exec.ID.String()+"/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for finished execution, got %d", w.Code)
	}
}

func TestCancelExecution_Pending(t *testing.T) {
	env := newTestEnv()

	exec := &models.Execution{ID: uuid.New(), JobID: uuid.New(), Status: models.ExecutionPending}
	env.execs.execs[exec.ID] = exec

	w := env.do(t, http.MethodPost, "/api/v1/executions/"+exec.ID.String()+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if env.execs.execs[exec.ID].Status != models.ExecutionCancelled {
		t.Error("expected execution to be cancelled")
	}
}

func TestClusterEndpoints(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodGet, "/api/v1/cluster/nodes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var nodesResp struct {
		Nodes []string `json:"nodes"`
		Count int      `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &nodesResp); err != nil {
		t.Fatalf("bad nodes response: %v", err)
	}
	if nodesResp.Count != 2 {
		t.Errorf("expected 2 nodes, got %d", nodesResp.Count)
	}

	w = env.do(t, http.MethodGet, "/api/v1/cluster/leader", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected healthy, got %d", w.Code)
	}
}
