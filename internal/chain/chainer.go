package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell-backend/internal/domain"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
	"github.com/inkwell-ai/inkwell-backend/internal/queue"
	"github.com/inkwell-ai/inkwell-backend/internal/store"
)

// StepMessage is the queue payload for one step invocation. Everything else
// the worker needs lives in the job row; the message only says which step of
// which job to run.
type StepMessage struct {
	JobID     uuid.UUID `json:"job_id"`
	StepIndex int       `json:"step_index"`
}

// Chainer turns "run step N of job J" into a queue task aimed at the step
// endpoint. One task per step; the dispatcher enqueues the next link after the
// current one commits.
type Chainer struct {
	queue    queue.Queue
	store    store.JobStore
	endpoint string
	log      *logger.Logger
}

func New(q queue.Queue, st store.JobStore, stepEndpoint string, baseLog *logger.Logger) *Chainer {
	return &Chainer{
		queue:    q,
		store:    st,
		endpoint: stepEndpoint,
		log:      baseLog.With("component", "Chainer"),
	}
}

func (c *Chainer) ScheduleStep(ctx context.Context, jobID uuid.UUID, stepIndex int, delay time.Duration) error {
	payload := map[string]any{
		"job_id":     jobID.String(),
		"step_index": stepIndex,
	}
	if err := c.queue.Enqueue(ctx, c.endpoint, payload, delay); err != nil {
		return fmt.Errorf("enqueue step %d for job %s: %w", stepIndex, jobID, err)
	}
	c.log.Debug("step scheduled", "job_id", jobID, "step_index", stepIndex, "delay", delay)
	return nil
}

// ScheduleRetry rewinds a failed job to fromStep and re-enters the chain
// there. The reset clears step records from fromStep on and flips the job back
// to running before the first task can arrive.
func (c *Chainer) ScheduleRetry(ctx context.Context, jobID uuid.UUID, fromStep int) error {
	if err := c.store.ResetSteps(ctx, jobID, fromStep); err != nil {
		return err
	}
	if err := c.ScheduleStep(ctx, jobID, fromStep, 0); err != nil {
		// The reset already flipped the job back to running; with no task
		// pending it would sit there and the failed-only guard would reject
		// another retry. Re-fail it so retry stays available.
		jobErr := domain.JobError{Step: "schedule", Message: err.Error(), StepIndex: fromStep}
		if fErr := c.store.FailJob(ctx, jobID, jobErr); fErr != nil {
			c.log.Error("re-fail unscheduled retry", "job_id", jobID, "error", fErr)
		}
		return err
	}
	return nil
}
