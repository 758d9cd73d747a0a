package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	config "trendharvest/configs"
	"trendharvest/pkg/coordination"
	"trendharvest/pkg/metrics"
	"trendharvest/pkg/models"
	"trendharvest/pkg/storage"
)

const (
	dueJobBatchSize   = 50
	reconcileInterval = 30 * time.Second
	failureLookback   = 2 * time.Minute
	defaultRetryDelay = 10 * time.Second
)

type Core struct {
	store       storage.JobStore
	execStore   storage.ExecutionStore
	queue       storage.Queue
	coordinator coordination.Coordinator
	parser      cron.Parser
	interval    time.Duration
	log         *zap.Logger
}

func NewCore(cfg *config.Config, store storage.JobStore, execStore storage.ExecutionStore, queue storage.Queue, coord coordination.Coordinator, log *zap.Logger) *Core {
	interval, _ := time.ParseDuration(cfg.SchedulerInterval)
	if interval == 0 {
		interval = 10 * time.Second
	}

	return &Core{
		store:       store,
		execStore:   execStore,
		queue:       queue,
		coordinator: coord,
		parser:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval:    interval,
		log:         log,
	}
}

// Run starts the main scheduler loop. It blocks until the context is
// cancelled. Only the election leader dispatches work.
func (c *Core) Run(ctx context.Context, election coordination.Election) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	reconcileTicker := time.NewTicker(reconcileInterval)
	defer reconcileTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("scheduler shutting down")
			return

		case <-ticker.C:
			if _, err := election.Leader(ctx); err != nil {
				c.log.Warn("leadership check failed", zap.Error(err))
				continue
			}

			metrics.SchedulerPolls.Inc()
			if err := c.PollAndSchedule(ctx); err != nil {
				c.log.Error("schedule loop failed", zap.Error(err))
			}

		case <-reconcileTicker.C:
			if _, err := election.Leader(ctx); err != nil {
				continue
			}

			if err := c.Reconcile(ctx); err != nil {
				c.log.Error("reconcile loop failed", zap.Error(err))
			}
		}
	}
}

// PollAndSchedule fetches due jobs and dispatches exactly one
// execution per job. Advancing NextRunAt before the next poll is what
// guarantees at most one run per satisfied schedule tick.
func (c *Core) PollAndSchedule(ctx context.Context) error {
	jobs, err := c.store.ListDueJobs(ctx, dueJobBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list due jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	c.log.Info("jobs due for execution", zap.Int("count", len(jobs)))

	now := time.Now()

	for i := range jobs {
		job := &jobs[i]

		// Parse before dispatching: a job whose stored schedule cannot
		// be parsed can never have its NextRunAt advanced, so it would
		// re-dispatch on every poll. Pause it instead.
		schedule, err := c.parser.Parse(job.Schedule)
		if err != nil {
			c.log.Error("invalid cron schedule, pausing job",
				zap.String("job_id", job.ID.String()), zap.Error(err))
			job.Status = models.JobStatusPaused
			if err := c.store.UpdateJob(ctx, job); err != nil {
				c.log.Error("failed to pause job",
					zap.String("job_id", job.ID.String()), zap.Error(err))
			}
			continue
		}

		exec := models.NewExecutionForJob(job, *job.NextRunAt, 1)

		if err := c.execStore.CreateExecution(ctx, exec); err != nil {
			c.log.Error("failed to create execution",
				zap.String("job_id", job.ID.String()), zap.Error(err))
			continue
		}

		if err := c.queue.Push(ctx, exec); err != nil {
			c.log.Error("failed to push execution",
				zap.String("job_id", job.ID.String()), zap.Error(err))
			continue
		}

		nextRun := schedule.Next(now)
		if err := c.store.UpdateNextRun(ctx, job.ID, nextRun); err != nil {
			c.log.Error("failed to update next run",
				zap.String("job_id", job.ID.String()), zap.Error(err))
		}

		metrics.RecordDispatch(now.Sub(*job.NextRunAt).Seconds())
		c.log.Info("dispatched job",
			zap.String("job", job.Name),
			zap.String("execution_id", exec.ID.String()),
			zap.Time("next_run", nextRun))
	}

	return nil
}

// Reconcile fails executions stranded on dead nodes and schedules
// cross-trigger retries.
func (c *Core) Reconcile(ctx context.Context) error {
	nodes, err := c.coordinator.GetActiveNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to get active nodes: %w", err)
	}

	count, err := c.execStore.MarkOrphansAsFailed(ctx, nodes)
	if err != nil {
		return fmt.Errorf("failed to reap orphans: %w", err)
	}

	if count > 0 {
		metrics.OrphansReaped.Add(float64(count))
		c.log.Warn("reaped orphaned executions", zap.Int64("count", count))
	}

	if err := c.RetryFailures(ctx); err != nil {
		c.log.Error("failed to schedule retries", zap.Error(err))
	}

	return nil
}

// RetryFailures finds recently failed executions and reschedules them
// when the job's retry policy still has budget. A single trigger is
// never retried in place; retries are new executions with a bumped
// attempt counter. Each failure is decided exactly once: the decision
// is recorded via MarkRetryHandled so a failure sitting inside the
// lookback window cannot spawn a retry on every reconcile tick.
func (c *Core) RetryFailures(ctx context.Context) error {
	since := time.Now().Add(-failureLookback)
	failures, err := c.execStore.ListRecentFailures(ctx, since, 20)
	if err != nil {
		return err
	}

	for _, failure := range failures {
		job, err := c.store.GetJob(ctx, failure.JobID)
		if err != nil {
			if err == storage.ErrNotFound {
				// Job deleted since the failure; nothing to retry.
				c.markRetryHandled(ctx, failure.ID)
				continue
			}
			c.log.Error("failed to load job for retry",
				zap.String("job_id", failure.JobID.String()), zap.Error(err))
			continue
		}

		if failure.Attempt >= job.RetryPolicy.MaxRetries+1 {
			// Budget exhausted (attempt 1 is the original run).
			c.markRetryHandled(ctx, failure.ID)
			continue
		}

		delay := defaultRetryDelay
		if d, err := time.ParseDuration(job.RetryPolicy.InitialInterval); err == nil && d > 0 {
			delay = d
		}

		retry := models.NewExecutionForJob(job, time.Now().Add(delay), failure.Attempt+1)

		if err := c.execStore.CreateExecution(ctx, retry); err != nil {
			c.log.Error("failed to create retry execution",
				zap.String("job_id", job.ID.String()), zap.Error(err))
			continue
		}

		if err := c.queue.Push(ctx, retry); err != nil {
			c.log.Error("failed to push retry execution",
				zap.String("job_id", job.ID.String()), zap.Error(err))
			continue
		}

		c.markRetryHandled(ctx, failure.ID)

		metrics.RetriesTotal.WithLabelValues(job.Name).Inc()
		c.log.Info("scheduled retry",
			zap.String("job", job.Name),
			zap.Int("attempt", retry.Attempt),
			zap.Int("max_retries", job.RetryPolicy.MaxRetries))
	}
	return nil
}

func (c *Core) markRetryHandled(ctx context.Context, id uuid.UUID) {
	if err := c.execStore.MarkRetryHandled(ctx, id); err != nil {
		c.log.Error("failed to mark retry handled",
			zap.String("execution_id", id.String()), zap.Error(err))
	}
}
