package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"trendharvest/pkg/models"
	"trendharvest/pkg/storage"
)

// cronParser accepts standard 5-field expressions (minute granularity).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// --- Request/Response DTOs ---

// CreateJobRequest is the payload for creating a new job.
type CreateJobRequest struct {
	Name        string             `json:"name" binding:"required"`
	Schedule    string             `json:"schedule" binding:"required"`
	Command     string             `json:"command"`
	Type        models.JobType     `json:"type"`
	OwnerID     string             `json:"owner_id"`
	Runtime     models.RuntimeSpec `json:"runtime"`
	Harvest     models.HarvestSpec `json:"harvest"`
	Secrets     models.SecretNames `json:"secrets"`
	RetryPolicy models.RetryPolicy `json:"retry_policy"`
}

// UpdateJobRequest is the payload for updating a job. Nil fields are
// left unchanged.
type UpdateJobRequest struct {
	Name        *string             `json:"name"`
	Schedule    *string             `json:"schedule"`
	Command     *string             `json:"command"`
	Status      *models.JobStatus   `json:"status"`
	Runtime     *models.RuntimeSpec `json:"runtime"`
	Harvest     *models.HarvestSpec `json:"harvest"`
	Secrets     *models.SecretNames `json:"secrets"`
	RetryPolicy *models.RetryPolicy `json:"retry_policy"`
}

// JobResponse is the API representation of a job.
type JobResponse struct {
	ID          uuid.UUID          `json:"id"`
	Name        string             `json:"name"`
	Schedule    string             `json:"schedule"`
	Command     string             `json:"command"`
	Type        models.JobType     `json:"type"`
	OwnerID     string             `json:"owner_id"`
	Runtime     models.RuntimeSpec `json:"runtime"`
	Harvest     models.HarvestSpec `json:"harvest"`
	Secrets     models.SecretNames `json:"secrets"`
	RetryPolicy models.RetryPolicy `json:"retry_policy"`
	Status      models.JobStatus   `json:"status"`
	NextRunAt   *time.Time         `json:"next_run_at"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// --- Job Handlers ---

// createJob handles POST /api/v1/jobs
func (s *Server) createJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobType := req.Type
	if jobType == "" {
		jobType = models.JobTypeShell
	}

	if err := s.validator.ValidateName(req.Name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.ValidateJobType(string(jobType)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Command != "" {
		if err := s.validator.ValidateCommand(req.Command); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if jobType != models.JobTypeHarvest && req.Command == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required for " + string(jobType) + " jobs"})
		return
	}

	schedule, err := cronParser.Parse(req.Schedule)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cron schedule: " + err.Error()})
		return
	}
	nextRun := schedule.Next(time.Now())

	job := &models.Job{
		ID:          uuid.New(),
		Name:        req.Name,
		Schedule:    req.Schedule,
		Command:     req.Command,
		Type:        jobType,
		OwnerID:     req.OwnerID,
		Runtime:     req.Runtime,
		Harvest:     req.Harvest,
		Secrets:     req.Secrets,
		RetryPolicy: req.RetryPolicy,
		Status:      models.JobStatusActive,
		NextRunAt:   &nextRun,
	}

	if err := s.jobStore.CreateJob(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, jobToResponse(job))
}

// listJobs handles GET /api/v1/jobs
func (s *Server) listJobs(c *gin.Context) {
	limit := 50
	offset := 0

	jobs, err := s.jobStore.ListJobs(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs: " + err.Error()})
		return
	}

	response := make([]JobResponse, len(jobs))
	for i, job := range jobs {
		response[i] = jobToResponse(&job)
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  response,
		"count": len(response),
	})
}

// getJob handles GET /api/v1/jobs/:id
func (s *Server) getJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job ID"})
		return
	}

	job, err := s.jobStore.GetJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

// updateJob handles PATCH /api/v1/jobs/:id
func (s *Server) updateJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job ID"})
		return
	}

	var req UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := s.jobStore.GetJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	if req.Name != nil {
		if err := s.validator.ValidateName(*req.Name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		job.Name = *req.Name
	}
	if req.Command != nil {
		if err := s.validator.ValidateCommand(*req.Command); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		job.Command = *req.Command
	}
	if req.Status != nil {
		job.Status = *req.Status
	}
	if req.Schedule != nil {
		schedule, err := cronParser.Parse(*req.Schedule)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cron schedule"})
			return
		}
		job.Schedule = *req.Schedule
		nextRun := schedule.Next(time.Now())
		job.NextRunAt = &nextRun
	}
	if req.Runtime != nil {
		job.Runtime = *req.Runtime
	}
	if req.Harvest != nil {
		job.Harvest = *req.Harvest
	}
	if req.Secrets != nil {
		job.Secrets = *req.Secrets
	}
	if req.RetryPolicy != nil {
		job.RetryPolicy = *req.RetryPolicy
	}

	if err := s.jobStore.UpdateJob(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update job"})
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

// deleteJob handles DELETE /api/v1/jobs/:id
func (s *Server) deleteJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job ID"})
		return
	}

	if err := s.jobStore.ArchiveJob(c.Request.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to archive job"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "job archived", "id": id})
}

// triggerJob handles POST /api/v1/jobs/:id/trigger
//
// A manual trigger dispatches immediately and independently of the
// cron schedule; it never advances the job's next scheduled run.
func (s *Server) triggerJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job ID"})
		return
	}

	job, err := s.jobStore.GetJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	exec := models.NewExecutionForJob(job, time.Now(), 1)

	if err := s.execStore.CreateExecution(c.Request.Context(), exec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create execution"})
		return
	}

	if err := s.queue.Push(c.Request.Context(), exec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue execution"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":      "job triggered",
		"execution_id": exec.ID,
	})
}

// listJobExecutions handles GET /api/v1/jobs/:id/executions
func (s *Server) listJobExecutions(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job ID"})
		return
	}

	if _, err := s.jobStore.GetJob(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	executions, err := s.execStore.ListExecutionsByJob(c.Request.Context(), id, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list executions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"executions": executions,
		"count":      len(executions),
		"job_id":     id,
	})
}

func jobToResponse(job *models.Job) JobResponse {
	return JobResponse{
		ID:          job.ID,
		Name:        job.Name,
		Schedule:    job.Schedule,
		Command:     job.Command,
		Type:        job.Type,
		OwnerID:     job.OwnerID,
		Runtime:     job.Runtime,
		Harvest:     job.Harvest,
		Secrets:     job.Secrets,
		RetryPolicy: job.RetryPolicy,
		Status:      job.Status,
		NextRunAt:   job.NextRunAt,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}
