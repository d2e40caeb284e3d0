package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell-backend/internal/chain"
	"github.com/inkwell-ai/inkwell-backend/internal/domain"
	"github.com/inkwell-ai/inkwell-backend/internal/pipeline"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
	"github.com/inkwell-ai/inkwell-backend/internal/store"
)

// ErrInvalidRetry marks a retry request the job's state cannot honor: the job
// is not failed, or the requested step index is out of range.
var ErrInvalidRetry = errors.New("job cannot be retried")

// ErrUnknownPipeline marks a start request naming a pipeline the registry does
// not have.
var ErrUnknownPipeline = errors.New("unknown pipeline")

// JobService is the HTTP-facing job API: start, inspect, retry. Execution
// itself happens on the queue path, never in a request handler.
type JobService struct {
	store    store.JobStore
	registry *pipeline.Registry
	chainer  *chain.Chainer
	log      *logger.Logger
}

func NewJobService(st store.JobStore, reg *pipeline.Registry, chainer *chain.Chainer, baseLog *logger.Logger) *JobService {
	return &JobService{
		store:    st,
		registry: reg,
		chainer:  chainer,
		log:      baseLog.With("service", "JobService"),
	}
}

// Start creates a job in running state and schedules its first step. The
// caller gets the job id back immediately; everything after that is
// asynchronous.
func (s *JobService) Start(ctx context.Context, pipelineName string, input map[string]any) (*domain.Job, error) {
	p, ok := s.registry.Get(pipelineName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, pipelineName)
	}
	job, err := s.store.CreateJob(ctx, p.Name, p.StepNames(), input)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.chainer.ScheduleStep(ctx, job.ID, 0, 0); err != nil {
		// The job row exists but nothing will run it; fail it so status does
		// not report a phantom running job.
		jobErr := domain.JobError{Step: "schedule", Message: err.Error(), StepIndex: 0}
		if fErr := s.store.FailJob(ctx, job.ID, jobErr); fErr != nil {
			s.log.Error("fail unscheduled job", "job_id", job.ID, "error", fErr)
		}
		return nil, err
	}
	s.log.Info("job started", "job_id", job.ID, "pipeline", p.Name, "total_steps", job.TotalSteps)
	return job, nil
}

// StepView is one entry of the status report.
type StepView struct {
	Name        string            `json:"name"`
	Status      domain.StepStatus `json:"status"`
	DurationMS  *int64            `json:"duration_ms,omitempty"`
	StartedAt   string            `json:"started_at,omitempty"`
	CompletedAt string            `json:"completed_at,omitempty"`
}

// JobView is the external status shape. Result appears only on completed
// jobs, Error only on failed ones.
type JobView struct {
	ID          uuid.UUID        `json:"id"`
	Pipeline    string           `json:"pipeline"`
	Status      domain.JobStatus `json:"status"`
	CurrentStep int              `json:"current_step"`
	TotalSteps  int              `json:"total_steps"`
	ProgressPct int              `json:"progress_pct"`
	Steps       []StepView       `json:"steps"`
	Result      map[string]any   `json:"result,omitempty"`
	Error       *domain.JobError `json:"error,omitempty"`
	CreatedAt   string           `json:"created_at"`
	UpdatedAt   string           `json:"updated_at"`
}

// Status returns the job's externally visible state.
func (s *JobService) Status(ctx context.Context, id uuid.UUID) (*JobView, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := job.DecodeSteps()
	if err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}

	view := &JobView{
		ID:          job.ID,
		Pipeline:    job.Pipeline,
		Status:      job.Status,
		CurrentStep: job.CurrentStep,
		TotalSteps:  job.TotalSteps,
		Steps:       make([]StepView, 0, len(steps)),
		CreatedAt:   job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	completed := 0
	for _, rec := range steps {
		sv := StepView{Name: rec.Name, Status: rec.Status, DurationMS: rec.DurationMS}
		if rec.StartedAt != nil {
			sv.StartedAt = rec.StartedAt.UTC().Format(time.RFC3339)
		}
		if rec.CompletedAt != nil {
			sv.CompletedAt = rec.CompletedAt.UTC().Format(time.RFC3339)
		}
		if rec.Status == domain.StepCompleted {
			completed++
		}
		view.Steps = append(view.Steps, sv)
	}
	if job.TotalSteps > 0 {
		view.ProgressPct = completed * 100 / job.TotalSteps
	}
	if job.Status == domain.JobCompleted {
		view.ProgressPct = 100
		result := map[string]any{}
		if len(job.Result) > 0 && string(job.Result) != "null" {
			if err := json.Unmarshal(job.Result, &result); err != nil {
				return nil, fmt.Errorf("decode result: %w", err)
			}
		}
		view.Result = result
	}
	if job.Status == domain.JobFailed {
		jobErr, err := job.DecodeError()
		if err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
		view.Error = jobErr
	}
	return view, nil
}

// Pipelines lists the names a start request may use.
func (s *JobService) Pipelines() []string {
	return s.registry.Names()
}

// Retry re-enters a failed job at fromStep. A nil fromStep means "the step
// that failed"; steps before it keep their results via the preserved context.
func (s *JobService) Retry(ctx context.Context, id uuid.UUID, fromStep *int) (*JobView, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobFailed {
		return nil, fmt.Errorf("%w: status is %s", ErrInvalidRetry, job.Status)
	}

	start := 0
	if fromStep != nil {
		start = *fromStep
	} else if jobErr, dErr := job.DecodeError(); dErr == nil && jobErr != nil {
		start = jobErr.StepIndex
	}
	if start < 0 || start >= job.TotalSteps {
		return nil, fmt.Errorf("%w: step %d out of range (total %d)", ErrInvalidRetry, start, job.TotalSteps)
	}

	if err := s.chainer.ScheduleRetry(ctx, id, start); err != nil {
		return nil, err
	}
	s.log.Info("job retry scheduled", "job_id", id, "from_step", start)
	return s.Status(ctx, id)
}
