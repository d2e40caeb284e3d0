package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell-backend/internal/services"
	"github.com/inkwell-ai/inkwell-backend/internal/store"
)

type JobsHandler struct {
	jobs *services.JobService
}

func NewJobsHandler(jobs *services.JobService) *JobsHandler {
	return &JobsHandler{jobs: jobs}
}

type startJobRequest struct {
	Pipeline string         `json:"pipeline" binding:"required"`
	Input    map[string]any `json:"input"`
}

// POST /api/jobs
func (h *JobsHandler) StartJob(c *gin.Context) {
	var req startJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	job, err := h.jobs.Start(c.Request.Context(), req.Pipeline, req.Input)
	if err != nil {
		if errors.Is(err, services.ErrUnknownPipeline) {
			RespondError(c, http.StatusBadRequest, "unknown_pipeline", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "start_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": gin.H{
		"id":          job.ID,
		"pipeline":    job.Pipeline,
		"status":      job.Status,
		"total_steps": job.TotalSteps,
	}})
}

// GET /api/jobs/:id
func (h *JobsHandler) GetJobByID(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	view, err := h.jobs.Status(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "status_failed", err)
		return
	}
	RespondOK(c, gin.H{"job": view})
}

type retryJobRequest struct {
	FromStep *int `json:"from_step"`
}

// POST /api/jobs/:id/retry
func (h *JobsHandler) RetryJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	var req retryJobRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	view, err := h.jobs.Retry(c.Request.Context(), jobID, req.FromStep)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			RespondError(c, http.StatusNotFound, "job_not_found", err)
		case errors.Is(err, services.ErrInvalidRetry):
			RespondError(c, http.StatusConflict, "invalid_retry", err)
		default:
			RespondError(c, http.StatusInternalServerError, "retry_failed", err)
		}
		return
	}
	RespondOK(c, gin.H{"job": view})
}

// GET /api/pipelines — names only; step lists are an implementation detail the
// status endpoint already exposes per job.
func (h *JobsHandler) ListPipelines(c *gin.Context) {
	RespondOK(c, gin.H{"pipelines": h.jobs.Pipelines()})
}
