package storage

import (
	"context"
	"errors"
	"time"

	"trendharvest/pkg/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// JobStore defines the data access layer for job management.
type JobStore interface {
	// CreateJob persists a new job.
	CreateJob(ctx context.Context, job *models.Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)

	// ListJobs returns non-archived jobs, newest first.
	ListJobs(ctx context.Context, limit, offset int) ([]models.Job, error)

	// ListDueJobs finds jobs that need to be scheduled (NextRunAt <= Now).
	ListDueJobs(ctx context.Context, limit int) ([]models.Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, job *models.Job) error

	// UpdateNextRun sets the next execution time for a job.
	UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun time.Time) error

	// ArchiveJob soft-deletes a job so the scheduler stops picking it up.
	ArchiveJob(ctx context.Context, id uuid.UUID) error
}

// Queue defines the mechanism for dispatching executions to executors.
type Queue interface {
	// Push adds an execution to the pending queue.
	Push(ctx context.Context, execution *models.Execution) error

	// Pop retrieves an execution from the queue for a consumer group.
	Pop(ctx context.Context, group string, consumer string) (string, *models.Execution, error)

	// Ack acknowledges an execution as processed.
	Ack(ctx context.Context, group string, msgID string) error

	// EnsureGroup ensures the consumer group exists.
	EnsureGroup(ctx context.Context, group string) error
}

// ExecutionStore defines the data access layer for execution history.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *models.Execution) error

	// GetExecution retrieves a single execution by ID.
	GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error)

	// ListExecutionsByJob returns the execution history of a job,
	// newest first.
	ListExecutionsByJob(ctx context.Context, jobID uuid.UUID, limit int) ([]models.Execution, error)

	// UpdateRunState marks an execution as running on a node.
	UpdateRunState(ctx context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error

	// UpdateResult marks an execution as finished. failureStage is
	// empty on success.
	UpdateResult(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, exitCode int, failureStage, outputURI string) error

	// MarkOrphansAsFailed updates executions stuck in RUNNING state on dead nodes.
	MarkOrphansAsFailed(ctx context.Context, activeNodeIDs []string) (int64, error)

	// ListRecentFailures returns failed executions since a given time
	// whose retry decision is still pending.
	ListRecentFailures(ctx context.Context, since time.Time, limit int) ([]models.Execution, error)

	// MarkRetryHandled records that the retry decision for a failed
	// execution has been made, excluding it from future
	// ListRecentFailures results.
	MarkRetryHandled(ctx context.Context, id uuid.UUID) error
}
