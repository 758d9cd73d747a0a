package executor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	config "trendharvest/configs"
	"trendharvest/pkg/coordination"
	"trendharvest/pkg/executor/runner"
	"trendharvest/pkg/metrics"
	"trendharvest/pkg/models"
	"trendharvest/pkg/perplexity"
	"trendharvest/pkg/pipeline"
	"trendharvest/pkg/secrets"
	"trendharvest/pkg/storage"
	"trendharvest/pkg/supabase"
)

const (
	ConsumerGroup     = "harvest-executors"
	heartbeatInterval = 5 * time.Second
	heartbeatTTL      = 10 // seconds, safe margin over the interval
	defaultJobTimeout = 5 * time.Minute
)

// Secret bindings the built-in harvest pipeline reads its credentials
// from. These are always required for HARVEST jobs; a job's own
// bindings are resolved in addition, never instead.
var harvestSecrets = models.SecretNames{
	"PERPLEXITY_API_KEY",
	"SUPABASE_URL",
	"SUPABASE_API_KEY",
}

// harvestRunner is satisfied by *pipeline.Harvester.
type harvestRunner interface {
	Run(ctx context.Context, spec models.HarvestSpec) (int, error)
}

type Executor struct {
	ID       string
	Hostname string

	// Node resources, reported for scheduling decisions.
	TotalCPU int
	TotalMem uint64 // in MB

	coordinator coordination.Coordinator
	queue       storage.Queue
	execStore   storage.ExecutionStore
	logStore    storage.LogStore
	secrets     secrets.Source

	shell     runner.JobRunner
	workspace *runner.WorkspaceRunner

	// newHarvester builds the pipeline from run-time resolved
	// credentials. Overridable in tests.
	newHarvester func(creds map[string]string) harvestRunner

	interval time.Duration
	log      *zap.Logger
}

func NewExecutor(cfg *config.Config, coord coordination.Coordinator, queue storage.Queue, execStore storage.ExecutionStore, logStore storage.LogStore, log *zap.Logger) *Executor {
	hostname, _ := os.Hostname()
	id := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	e := &Executor{
		ID:          id,
		Hostname:    hostname,
		TotalCPU:    runtime.NumCPU(),
		TotalMem:    detectTotalMemory(log),
		coordinator: coord,
		queue:       queue,
		execStore:   execStore,
		logStore:    logStore,
		secrets:     secrets.EnvSource{},
		shell:       runner.NewShellRunner(),
		workspace:   runner.NewWorkspaceRunner(),
		interval:    heartbeatInterval,
		log:         log,
	}
	e.newHarvester = func(creds map[string]string) harvestRunner {
		return pipeline.NewHarvester(
			perplexity.NewClient(creds["PERPLEXITY_API_KEY"]),
			supabase.NewClient(creds["SUPABASE_URL"], creds["SUPABASE_API_KEY"]),
			log,
		)
	}
	return e
}

func detectTotalMemory(log *zap.Logger) uint64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		log.Warn("failed to detect memory, defaulting to 1GB", zap.Error(err))
		return 1024
	}
	return v.Total / 1024 / 1024
}

// Start begins the executor's heartbeat and work loops. It blocks
// until the context is cancelled.
func (e *Executor) Start(ctx context.Context) {
	e.log.Info("executor starting",
		zap.String("node_id", e.ID),
		zap.Int("cpus", e.TotalCPU),
		zap.Uint64("mem_mb", e.TotalMem))

	if err := e.queue.EnsureGroup(ctx, ConsumerGroup); err != nil {
		e.log.Warn("failed to ensure consumer group", zap.Error(err))
	}

	go e.heartbeatLoop(ctx)

	// Bounded worker pool: at most one running job per CPU.
	sem := make(chan struct{}, e.TotalCPU)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			sem <- struct{}{}
			go func() {
				defer func() { <-sem }()
				e.consumeOne(ctx)
			}()
		}
	}
}

func (e *Executor) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.coordinator.RegisterNode(ctx, e.ID, heartbeatTTL); err != nil {
				e.log.Warn("heartbeat failed", zap.Error(err))
				continue
			}
			metrics.HeartbeatsSent.Inc()
		}
	}
}

func (e *Executor) consumeOne(ctx context.Context) {
	msgID, exec, err := e.queue.Pop(ctx, ConsumerGroup, e.ID)
	if err != nil {
		e.log.Error("failed to pop execution", zap.Error(err))
		time.Sleep(time.Second)
		return
	}
	if exec == nil {
		// Queue empty; brief pause to avoid spinning on the semaphore.
		time.Sleep(time.Second)
		return
	}

	metrics.ExecutorJobsRunning.Inc()
	defer metrics.ExecutorJobsRunning.Dec()

	e.log.Info("received execution",
		zap.String("execution_id", exec.ID.String()),
		zap.String("job", exec.JobName),
		zap.String("type", string(exec.JobType)))

	if err := e.execStore.UpdateRunState(ctx, exec.ID, e.ID, time.Now()); err != nil {
		e.log.Error("failed to report run state", zap.Error(err))
	}

	res := e.run(ctx, exec)

	status := models.ExecutionSuccess
	if !res.OK() {
		status = models.ExecutionFailed
		metrics.StageFailures.WithLabelValues(string(res.Stage)).Inc()
	}

	metrics.RecordExecution(exec.JobName, string(exec.JobType), string(status), res.Duration.Seconds())

	failureStage := ""
	if status == models.ExecutionFailed {
		failureStage = string(res.Stage)
		e.log.Warn("execution failed",
			zap.String("execution_id", exec.ID.String()),
			zap.String("stage", failureStage),
			zap.Int("exit_code", res.ExitCode),
			zap.Error(res.Error))
	} else {
		e.log.Info("execution finished",
			zap.String("execution_id", exec.ID.String()),
			zap.Int("exit_code", res.ExitCode),
			zap.Duration("duration", res.Duration))
	}

	outputURI := e.storeLogs(ctx, exec, res)

	if err := e.execStore.UpdateResult(ctx, exec.ID, status, res.ExitCode, failureStage, outputURI); err != nil {
		e.log.Error("failed to report result", zap.Error(err))
	}

	if err := e.queue.Ack(ctx, ConsumerGroup, msgID); err != nil {
		e.log.Error("failed to ack execution", zap.Error(err))
	}
}

// run dispatches by job type. Secret values are resolved here, handed
// to the child environment or the pipeline clients, and never logged.
func (e *Executor) run(ctx context.Context, exec *models.Execution) runner.Result {
	timeout := defaultJobTimeout
	if d, err := time.ParseDuration(exec.Runtime.Timeout); err == nil && d > 0 {
		timeout = d
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch exec.JobType {
	case models.JobTypeHarvest:
		return e.runHarvest(runCtx, exec)
	case models.JobTypeScript:
		return e.runScript(runCtx, exec)
	default:
		return e.runShell(runCtx, exec)
	}
}

func (e *Executor) runShell(ctx context.Context, exec *models.Execution) runner.Result {
	start := time.Now()
	env, err := e.resolveSecretEnv(exec.Secrets)
	if err != nil {
		return runner.Result{ExitCode: -1, Stage: runner.StageProvision, Duration: time.Since(start), Error: err}
	}

	return e.shell.Run(ctx, runner.Command{
		Name: "sh",
		Args: []string{"-c", exec.JobCommand},
		Env:  env,
	})
}

func (e *Executor) runScript(ctx context.Context, exec *models.Execution) runner.Result {
	start := time.Now()
	env, err := e.resolveSecretEnv(exec.Secrets)
	if err != nil {
		return runner.Result{ExitCode: -1, Stage: runner.StageProvision, Duration: time.Since(start), Error: err}
	}

	spec := runner.WorkspaceSpec{
		RepoURL:      exec.Runtime.RepoURL,
		Ref:          exec.Runtime.Ref,
		Runtime:      exec.Runtime.Runtime,
		Version:      exec.Runtime.Version,
		Dependencies: exec.Runtime.Dependencies,
	}
	return e.workspace.Execute(ctx, spec, exec.JobCommand, env)
}

func (e *Executor) runHarvest(ctx context.Context, exec *models.Execution) runner.Result {
	start := time.Now()

	// The pipeline looks its credentials up under the fixed binding
	// names, so those must resolve regardless of what the job
	// declares; otherwise the run would pass provisioning and fail
	// later with empty keys.
	names := mergeSecretNames(harvestSecrets, exec.Secrets)
	creds, err := e.secrets.Resolve(names)
	if err != nil {
		return runner.Result{ExitCode: -1, Stage: runner.StageProvision, Duration: time.Since(start), Error: err}
	}

	stored, err := e.newHarvester(creds).Run(ctx, exec.Harvest)
	res := runner.Result{
		Stage:    runner.StageExecute,
		Stdout:   fmt.Sprintf("stored %d rows\n", stored),
		Duration: time.Since(start),
	}
	if err != nil {
		res.ExitCode = 1
		res.Error = err
		res.Stderr = err.Error() + "\n"
	}
	return res
}

// mergeSecretNames combines required and declared binding names,
// dropping duplicates and preserving order.
func mergeSecretNames(required, declared models.SecretNames) models.SecretNames {
	seen := make(map[string]bool, len(required)+len(declared))
	merged := make(models.SecretNames, 0, len(required)+len(declared))
	for _, name := range append(append(models.SecretNames{}, required...), declared...) {
		if !seen[name] {
			seen[name] = true
			merged = append(merged, name)
		}
	}
	return merged
}

// resolveSecretEnv turns a job's secret binding names into KEY=VALUE
// pairs for the child environment. A missing binding fails the run
// before the process starts.
func (e *Executor) resolveSecretEnv(names models.SecretNames) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	values, err := e.secrets.Resolve(names)
	if err != nil {
		return nil, err
	}
	e.log.Debug("resolved secret bindings", zap.Strings("names", secrets.Names(values)))
	return secrets.Environ(values), nil
}

func (e *Executor) storeLogs(ctx context.Context, exec *models.Execution, res runner.Result) string {
	if e.logStore == nil {
		return ""
	}

	combined := fmt.Sprintf("STAGE: %s\nSTDOUT:\n%s\nSTDERR:\n%s", res.Stage, res.Stdout, res.Stderr)
	uri, err := e.logStore.Store(ctx, exec.ID.String(), []byte(combined))
	if err != nil {
		e.log.Error("failed to store logs", zap.Error(err))
		return ""
	}
	return uri
}
