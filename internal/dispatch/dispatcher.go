package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/inkwell-ai/inkwell-backend/internal/domain"
	"github.com/inkwell-ai/inkwell-backend/internal/pipeline"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
	"github.com/inkwell-ai/inkwell-backend/internal/store"
)

var (
	// ErrInvalidState: the job is terminal or the step already ran. Duplicate
	// queue deliveries land here; callers must not retry.
	ErrInvalidState = errors.New("job not dispatchable")
	// ErrLockConflict: another worker holds the job. Transient; queue
	// redelivery retries later.
	ErrLockConflict = errors.New("job locked by another worker")
)

// Chainer schedules the next step invocation asynchronously.
type Chainer interface {
	ScheduleStep(ctx context.Context, jobID uuid.UUID, stepIndex int, delay time.Duration) error
}

// Notifier receives job lifecycle events. Implementations must be best-effort;
// the dispatcher ignores notifier failures.
type Notifier interface {
	JobProgress(job *domain.Job, step string, progressPct int)
	JobCompleted(job *domain.Job)
	JobFailed(job *domain.Job, step string, message string)
}

// Dispatcher executes exactly one step of exactly one job under the job lock,
// then decides what runs next. Any worker instance can pick up any job; the
// only shared state is the job row.
type Dispatcher struct {
	store       store.JobStore
	registry    *pipeline.Registry
	chainer     Chainer
	notify      Notifier
	log         *logger.Logger
	ownerPrefix string
	stepTimeout time.Duration
}

func New(st store.JobStore, reg *pipeline.Registry, chainer Chainer, notify Notifier, baseLog *logger.Logger, stepTimeout time.Duration) *Dispatcher {
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	if stepTimeout <= 0 {
		stepTimeout = 10 * time.Minute
	}
	return &Dispatcher{
		store:       st,
		registry:    reg,
		chainer:     chainer,
		notify:      notify,
		log:         baseLog.With("component", "Dispatcher"),
		ownerPrefix: host,
		stepTimeout: stepTimeout,
	}
}

// RunStep loads the job, takes the lock, runs the step's agent, persists the
// merged context and either chains the next step or finalizes. The lock is
// always released on exit, success or failure, so a stalled worker can block a
// job no longer than the lock timeout.
func (d *Dispatcher) RunStep(ctx context.Context, jobID uuid.UUID, stepIndex int) error {
	ctx, span := otel.Tracer("dispatch").Start(ctx, "dispatch.RunStep")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", jobID.String()),
		attribute.Int("job.step_index", stepIndex),
	)

	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return fmt.Errorf("%w: status is %s", ErrInvalidState, job.Status)
	}

	owner := d.ownerPrefix + ":" + uuid.NewString()
	acquired, err := d.store.AcquireLock(ctx, jobID, owner)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		return ErrLockConflict
	}
	released := false
	defer func() {
		if !released {
			if rErr := d.store.ReleaseLock(context.WithoutCancel(ctx), jobID); rErr != nil {
				d.log.Warn("release lock failed", "job_id", jobID, "error", rErr)
			}
		}
	}()

	p, ok := d.registry.Get(job.Pipeline)
	if !ok {
		err := fmt.Errorf("unknown pipeline %q", job.Pipeline)
		return d.failJob(ctx, job, "resolve_pipeline", stepIndex, err, &released)
	}

	// Past the last step: the pipeline already ran; finish it. Duplicate
	// deliveries of the finalize message funnel here too.
	if stepIndex >= job.TotalSteps || stepIndex >= len(p.Steps) {
		return d.finalize(ctx, job, p, stepIndex, &released)
	}
	if stepIndex < 0 {
		return fmt.Errorf("%w: negative step index", ErrInvalidState)
	}

	steps, err := job.DecodeSteps()
	if err != nil {
		return d.failJob(ctx, job, "decode_steps", stepIndex, err, &released)
	}
	if steps[stepIndex].Status == domain.StepCompleted {
		// Duplicate delivery after the step committed; step status never
		// regresses, so this is a no-op.
		return fmt.Errorf("%w: step %d already completed", ErrInvalidState, stepIndex)
	}

	def := p.Steps[stepIndex]
	startedAt := time.Now().UTC()
	if err := d.store.UpdateStepStatus(ctx, jobID, stepIndex, domain.StepRunning, &startedAt, nil, nil); err != nil {
		return fmt.Errorf("mark step running: %w", err)
	}

	jobContext, err := job.DecodeContext()
	if err != nil {
		return d.failJob(ctx, job, def.Name, stepIndex, fmt.Errorf("decode context: %w", err), &released)
	}

	update, err := d.runAgents(ctx, def, jobContext)
	if err != nil {
		return d.failJob(ctx, job, def.Name, stepIndex, err, &released)
	}

	for k, v := range update {
		jobContext[k] = v
	}
	if err := d.store.SaveContext(ctx, jobID, jobContext); err != nil {
		return d.failJob(ctx, job, def.Name, stepIndex, fmt.Errorf("save context: %w", err), &released)
	}
	completedAt := time.Now().UTC()
	durationMS := completedAt.Sub(startedAt).Milliseconds()
	if err := d.store.UpdateStepStatus(ctx, jobID, stepIndex, domain.StepCompleted, nil, &completedAt, &durationMS); err != nil {
		return d.failJob(ctx, job, def.Name, stepIndex, fmt.Errorf("mark step completed: %w", err), &released)
	}
	d.log.Info("step completed",
		"job_id", jobID, "step", def.Name, "step_index", stepIndex, "duration_ms", durationMS)
	if d.notify != nil {
		d.notify.JobProgress(job, def.Name, progressPct(stepIndex+1, job.TotalSteps))
	}

	if stepIndex+1 < job.TotalSteps {
		if err := d.store.ReleaseLock(ctx, jobID); err != nil {
			return fmt.Errorf("release lock: %w", err)
		}
		released = true
		if err := d.chainer.ScheduleStep(ctx, jobID, stepIndex+1, 0); err != nil {
			// The step committed but no task will run the next one, and
			// redelivery of this message bounces off the completed-step
			// guard. Fail the job so the retry surface can re-enter the
			// chain at the unscheduled step.
			return d.failJob(ctx, job, "schedule", stepIndex+1, err, &released)
		}
		return nil
	}

	job.Context = domain.EncodeContext(jobContext)
	return d.finalize(ctx, job, p, stepIndex, &released)
}

// runAgents invokes the step's agent, or joins its declared-independent
// fan-out agents. Concurrent updates must write disjoint keys; a collision is
// a step failure, not a silent overwrite.
func (d *Dispatcher) runAgents(ctx context.Context, def pipeline.StepDef, jobContext map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, d.stepTimeout)
	defer cancel()

	if def.Agent != nil {
		return def.Agent.Process(ctx, jobContext)
	}

	updates := make([]map[string]any, len(def.FanOut))
	g, gctx := errgroup.WithContext(ctx)
	for i, agent := range def.FanOut {
		g.Go(func() error {
			u, err := agent.Process(gctx, cloneContext(jobContext))
			if err != nil {
				return fmt.Errorf("%s: %w", agent.Name(), err)
			}
			updates[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := map[string]any{}
	writer := map[string]string{}
	for i, u := range updates {
		name := def.FanOut[i].Name()
		for k, v := range u {
			if prev, dup := writer[k]; dup {
				return nil, fmt.Errorf("fan-out agents %s and %s both wrote context key %q", prev, name, k)
			}
			writer[k] = name
			merged[k] = v
		}
	}
	return merged, nil
}

// finalize applies the quality gate and completes the job.
func (d *Dispatcher) finalize(ctx context.Context, job *domain.Job, p *pipeline.Pipeline, stepIndex int, released *bool) error {
	jobContext, err := job.DecodeContext()
	if err != nil {
		return d.failJob(ctx, job, "finalize", stepIndex, fmt.Errorf("decode context: %w", err), released)
	}
	result := jobContext
	if p.Finalizer != nil {
		fctx, cancel := context.WithTimeout(ctx, d.stepTimeout)
		result, err = p.Finalizer.Finalize(fctx, jobContext)
		cancel()
		if err != nil {
			return d.failJob(ctx, job, "quality_gate", stepIndex, err, released)
		}
	}
	if err := d.store.CompleteJob(ctx, job.ID, result); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	*released = true // CompleteJob clears the lock
	job.Status = domain.JobCompleted
	job.Result = domain.EncodeContext(result)
	d.log.Info("job completed", "job_id", job.ID, "pipeline", job.Pipeline)
	if d.notify != nil {
		d.notify.JobCompleted(job)
	}
	return nil
}

// failJob records the terminal error, releases the lock and propagates the
// step error so queue-side observability sees it.
func (d *Dispatcher) failJob(ctx context.Context, job *domain.Job, stepName string, stepIndex int, cause error, released *bool) error {
	jobErr := domain.JobError{Step: stepName, Message: cause.Error(), StepIndex: stepIndex}
	if err := d.store.FailJob(context.WithoutCancel(ctx), job.ID, jobErr); err != nil {
		d.log.Error("fail job write failed", "job_id", job.ID, "error", err)
	} else {
		*released = true // FailJob clears the lock
	}
	job.Status = domain.JobFailed
	job.Error = domain.EncodeError(jobErr)
	d.log.Warn("step failed", "job_id", job.ID, "step", stepName, "step_index", stepIndex, "error", cause)
	if d.notify != nil {
		d.notify.JobFailed(job, stepName, cause.Error())
	}
	return fmt.Errorf("step %q (index %d): %w", stepName, stepIndex, cause)
}

func progressPct(completed, total int) int {
	if total <= 0 {
		return 0
	}
	pct := completed * 100 / total
	if pct > 100 {
		pct = 100
	}
	return pct
}

// cloneContext gives each fan-out agent its own shallow copy so concurrent
// readers never share a map with a writer.
func cloneContext(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
