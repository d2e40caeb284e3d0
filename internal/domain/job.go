package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
)

// StepRecord is the per-step progress entry embedded in Job.Steps.
type StepRecord struct {
	Name        string     `json:"name"`
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  *int64     `json:"duration_ms,omitempty"`
}

// JobError is the terminal error recorded when a step fails.
type JobError struct {
	Step      string `json:"step"`
	Message   string `json:"message"`
	StepIndex int    `json:"step_index"`
}

// Job is one end-to-end pipeline execution. It is the only shared mutable
// resource in the system; every mutation goes through the job store while the
// row lock is held.
type Job struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Pipeline    string         `gorm:"column:pipeline;not null;index" json:"pipeline"`
	Status      JobStatus      `gorm:"column:status;not null;index" json:"status"`
	CurrentStep int            `gorm:"column:current_step;not null;default:0" json:"current_step"`
	TotalSteps  int            `gorm:"column:total_steps;not null" json:"total_steps"`
	Steps       datatypes.JSON `gorm:"column:steps;type:jsonb" json:"steps"`
	Context     datatypes.JSON `gorm:"column:context;type:jsonb" json:"context"`
	Result      datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	Error       datatypes.JSON `gorm:"column:error;type:jsonb" json:"error,omitempty"`

	LockOwner      string     `gorm:"column:lock_owner;not null;default:''" json:"lock_owner,omitempty"`
	LockAcquiredAt *time.Time `gorm:"column:lock_acquired_at" json:"lock_acquired_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;index" json:"updated_at"`
}

func (Job) TableName() string { return "job" }

// Terminal reports whether the job has left the running state. Dispatch on a
// terminal job is an invalid-state error, never a re-execution.
func (j *Job) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

func (j *Job) DecodeSteps() ([]StepRecord, error) {
	var out []StepRecord
	if len(j.Steps) == 0 || string(j.Steps) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(j.Steps, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *Job) DecodeContext() (map[string]any, error) {
	out := map[string]any{}
	if len(j.Context) == 0 || string(j.Context) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(j.Context, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *Job) DecodeError() (*JobError, error) {
	if len(j.Error) == 0 || string(j.Error) == "null" {
		return nil, nil
	}
	var out JobError
	if err := json.Unmarshal(j.Error, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func EncodeSteps(steps []StepRecord) datatypes.JSON {
	b, _ := json.Marshal(steps)
	return datatypes.JSON(b)
}

func EncodeContext(ctx map[string]any) datatypes.JSON {
	if ctx == nil {
		ctx = map[string]any{}
	}
	b, _ := json.Marshal(ctx)
	return datatypes.JSON(b)
}

func EncodeError(e JobError) datatypes.JSON {
	b, _ := json.Marshal(e)
	return datatypes.JSON(b)
}
