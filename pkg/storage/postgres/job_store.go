package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trendharvest/pkg/models"
	"trendharvest/pkg/storage"
)

type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore initializes the GORM connection and migrates schemas.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	config := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true, // Cache prepared statements
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.Job{}, &models.Execution{}); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateJob persists a new job.
func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	result := s.db.WithContext(ctx).Create(job)
	if result.Error != nil {
		return fmt.Errorf("failed to create job: %w", result.Error)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	result := s.db.WithContext(ctx).First(&job, "id = ?", id)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

// ListJobs returns non-archived jobs with pagination.
func (s *PostgresStore) ListJobs(ctx context.Context, limit, offset int) ([]models.Job, error) {
	var jobs []models.Job

	result := s.db.WithContext(ctx).
		Where("status != ?", models.JobStatusArchived).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&jobs)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", result.Error)
	}
	return jobs, nil
}

// ListDueJobs finds active jobs whose NextRunAt has passed.
func (s *PostgresStore) ListDueJobs(ctx context.Context, limit int) ([]models.Job, error) {
	var jobs []models.Job

	result := s.db.WithContext(ctx).
		Where("status = ?", models.JobStatusActive).
		Where("next_run_at <= ?", time.Now()).
		Order("next_run_at asc").
		Limit(limit).
		Find(&jobs)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list due jobs: %w", result.Error)
	}
	return jobs, nil
}

// UpdateJob persists changes to an existing job.
func (s *PostgresStore) UpdateJob(ctx context.Context, job *models.Job) error {
	result := s.db.WithContext(ctx).Save(job)
	if result.Error != nil {
		return fmt.Errorf("failed to update job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateNextRun updates the scheduling timestamp.
func (s *PostgresStore) UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", id).
		Update("next_run_at", nextRun)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ArchiveJob marks a job ARCHIVED so the scheduler stops dispatching it.
func (s *PostgresStore) ArchiveJob(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", id).
		Update("status", models.JobStatusArchived)

	if result.Error != nil {
		return fmt.Errorf("failed to archive job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateExecution records a new execution run.
func (s *PostgresStore) CreateExecution(ctx context.Context, exec *models.Execution) error {
	result := s.db.WithContext(ctx).Create(exec)
	if result.Error != nil {
		return fmt.Errorf("failed to create execution: %w", result.Error)
	}
	return nil
}

// GetExecution retrieves a single execution by ID.
func (s *PostgresStore) GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	var exec models.Execution
	result := s.db.WithContext(ctx).First(&exec, "id = ?", id)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &exec, nil
}

// ListExecutionsByJob returns the execution history of a job.
func (s *PostgresStore) ListExecutionsByJob(ctx context.Context, jobID uuid.UUID, limit int) ([]models.Execution, error) {
	var execs []models.Execution
	result := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("scheduled_at desc").
		Limit(limit).
		Find(&execs)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list executions: %w", result.Error)
	}
	return execs, nil
}

// UpdateRunState marks an execution as running with the assigned node.
func (s *PostgresStore) UpdateRunState(ctx context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.ExecutionRunning,
			"node_id":    nodeID,
			"started_at": startedAt,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update run state: %w", result.Error)
	}
	return nil
}

// UpdateResult marks an execution as finished.
func (s *PostgresStore) UpdateResult(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, exitCode int, failureStage, outputURI string) error {
	result := s.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"exit_code":     exitCode,
			"failure_stage": failureStage,
			"output_uri":    outputURI,
			"completed_at":  time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update result: %w", result.Error)
	}
	return nil
}

// MarkOrphansAsFailed updates executions stuck in RUNNING state on dead nodes.
func (s *PostgresStore) MarkOrphansAsFailed(ctx context.Context, activeNodeIDs []string) (int64, error) {
	query := s.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("status = ?", models.ExecutionRunning)

	if len(activeNodeIDs) > 0 {
		query = query.Where("node_id NOT IN ?", activeNodeIDs)
	}

	result := query.Updates(map[string]interface{}{
		"status":        models.ExecutionFailed,
		"exit_code":     -1,
		"failure_stage": "execute",
		"completed_at":  time.Now(),
	})
	return result.RowsAffected, result.Error
}

// ListRecentFailures returns executions that failed since a given
// time and have not had their retry decision made yet.
func (s *PostgresStore) ListRecentFailures(ctx context.Context, since time.Time, limit int) ([]models.Execution, error) {
	var execs []models.Execution
	result := s.db.WithContext(ctx).
		Where("status = ?", models.ExecutionFailed).
		Where("completed_at >= ?", since).
		Where("retry_handled = ?", false).
		Order("completed_at desc").
		Limit(limit).
		Find(&execs)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list recent failures: %w", result.Error)
	}
	return execs, nil
}

// MarkRetryHandled flags a failed execution as decided so it is acted
// on exactly once.
func (s *PostgresStore) MarkRetryHandled(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("id = ?", id).
		Update("retry_handled", true)

	if result.Error != nil {
		return fmt.Errorf("failed to mark retry handled: %w", result.Error)
	}
	return nil
}
