package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobType defines how the executor runs a job.
type JobType string

const (
	// JobTypeShell runs the command directly through the shell.
	JobTypeShell JobType = "SHELL"
	// JobTypeScript provisions a workspace (checkout, runtime,
	// dependencies) before running the script.
	JobTypeScript JobType = "SCRIPT"
	// JobTypeHarvest runs the built-in fetch-and-store pipeline.
	JobTypeHarvest JobType = "HARVEST"
)

// JobStatus represents the state of a job in the system.
type JobStatus string

const (
	JobStatusActive   JobStatus = "ACTIVE"
	JobStatusPaused   JobStatus = "PAUSED"
	JobStatusArchived JobStatus = "ARCHIVED"
)

// JSONB structures need to implement Scanner/Valuer for GORM

type RetryPolicy struct {
	MaxRetries      int    `json:"max_retries"`
	BackoffStrategy string `json:"backoff_strategy"`
	InitialInterval string `json:"initial_interval"`
	MaxInterval     string `json:"max_interval"`
}

func (r *RetryPolicy) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, r)
}

func (r RetryPolicy) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// RuntimeSpec describes the workspace a SCRIPT job needs before its
// script can run: the repository to check out, the runtime to pin and
// the packages to install into it.
type RuntimeSpec struct {
	RepoURL      string   `json:"repo_url"`
	Ref          string   `json:"ref"`
	Runtime      string   `json:"runtime"` // e.g. "python3"
	Version      string   `json:"version"` // e.g. "3.11"
	Dependencies []string `json:"dependencies"`
	Timeout      string   `json:"timeout"`
}

func (s *RuntimeSpec) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, s)
}

func (s RuntimeSpec) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// HarvestSpec configures the built-in Perplexity fetch-and-store
// pipeline for HARVEST jobs.
type HarvestSpec struct {
	Prompt    string `json:"prompt"`
	Table     string `json:"table"`
	MaxTokens int    `json:"max_tokens"`
}

func (h *HarvestSpec) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, h)
}

func (h HarvestSpec) Value() (driver.Value, error) {
	return json.Marshal(h)
}

// SecretNames lists the secret bindings a job requires. Only the
// binding names are stored; values are resolved from the executor's
// environment at run time.
type SecretNames []string

func (n *SecretNames) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, n)
}

func (n SecretNames) Value() (driver.Value, error) {
	return json.Marshal(n)
}

// Job represents a scheduled unit of work.
type Job struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Name        string         `json:"name" gorm:"not null"`
	Schedule    string         `json:"schedule" gorm:"not null"` // 5-field cron expression
	Command     string         `json:"command"`
	Type        JobType        `json:"type" gorm:"type:varchar(20);not null"`
	OwnerID     string         `json:"owner_id"`
	Runtime     RuntimeSpec    `json:"runtime" gorm:"type:jsonb"`
	Harvest     HarvestSpec    `json:"harvest" gorm:"type:jsonb"`
	Secrets     SecretNames    `json:"secrets" gorm:"type:jsonb"`
	RetryPolicy RetryPolicy    `json:"retry_policy" gorm:"type:jsonb"`
	Status      JobStatus      `json:"status" gorm:"type:varchar(20);default:'ACTIVE'"`
	NextRunAt   *time.Time     `json:"next_run_at" gorm:"index"` // Index for fast polling
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"` // Soft delete support
}

// BeforeCreate hook to generate UUID if not present
func (j *Job) BeforeCreate(tx *gorm.DB) (err error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return
}

type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionSuccess   ExecutionStatus = "SUCCESS"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionCancelled ExecutionStatus = "CANCELLED"
)

// Execution is one provision-and-run cycle of a job, ending in a
// single pass/fail result. ExitCode carries the child process exit
// status verbatim for SHELL/SCRIPT jobs.
type Execution struct {
	ID           uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	JobID        uuid.UUID       `json:"job_id" gorm:"type:uuid;not null;index:idx_job_scheduled,unique"`
	NodeID       *string         `json:"node_id"`
	ScheduledAt  time.Time       `json:"scheduled_at" gorm:"not null;index:idx_job_scheduled,unique"`
	StartedAt    *time.Time      `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at"`
	Status       ExecutionStatus `json:"status" gorm:"type:varchar(20);default:'PENDING'"`
	Attempt      int             `json:"attempt" gorm:"default:1"`
	ExitCode     int             `json:"exit_code"`
	FailureStage string          `json:"failure_stage"` // checkout / provision / install / execute
	OutputURI    string          `json:"output_uri"`

	// RetryHandled is set once the reconcile loop has decided this
	// failure's fate (retry dispatched or budget exhausted), so a
	// failure is acted on exactly once across reconcile ticks.
	RetryHandled bool `json:"retry_handled" gorm:"default:false;index"`

	// Transient job payload carried over the queue to the executor,
	// not stored on the execution row.
	JobName    string      `json:"job_name" gorm:"-"`
	JobType    JobType     `json:"job_type" gorm:"-"`
	JobCommand string      `json:"command" gorm:"-"`
	Runtime    RuntimeSpec `json:"runtime" gorm:"-"`
	Harvest    HarvestSpec `json:"harvest" gorm:"-"`
	Secrets    SecretNames `json:"secrets" gorm:"-"`
}

func (e *Execution) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return
}

// NewExecutionForJob builds a pending execution carrying the job's
// run payload.
func NewExecutionForJob(job *Job, scheduledAt time.Time, attempt int) *Execution {
	return &Execution{
		ID:          uuid.New(),
		JobID:       job.ID,
		ScheduledAt: scheduledAt,
		Status:      ExecutionPending,
		Attempt:     attempt,
		JobName:     job.Name,
		JobType:     job.Type,
		JobCommand:  job.Command,
		Runtime:     job.Runtime,
		Harvest:     job.Harvest,
		Secrets:     job.Secrets,
	}
}
