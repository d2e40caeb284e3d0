package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inkwell-ai/inkwell-backend/internal/domain"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
)

// ErrNotFound is returned when a referenced job does not exist. Callers must
// not retry on it.
var ErrNotFound = errors.New("job not found")

// JobStore is the single source of truth for job state. All lock operations
// are compare-and-swap style guarded updates so concurrent step workers can
// never both win.
type JobStore interface {
	CreateJob(ctx context.Context, pipeline string, stepNames []string, initialContext map[string]any) (*domain.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// AcquireLock returns true iff this owner now holds the job lock. A lock
	// older than the configured timeout is treated as abandoned and reclaimable.
	AcquireLock(ctx context.Context, id uuid.UUID, ownerID string) (bool, error)
	ReleaseLock(ctx context.Context, id uuid.UUID) error

	// UpdateStepStatus rewrites exactly one StepRecord plus current_step,
	// leaving context/result untouched.
	UpdateStepStatus(ctx context.Context, id uuid.UUID, stepIndex int, status domain.StepStatus, startedAt, completedAt *time.Time, durationMS *int64) error
	SaveContext(ctx context.Context, id uuid.UUID, jobContext map[string]any) error

	CompleteJob(ctx context.Context, id uuid.UUID, result map[string]any) error
	FailJob(ctx context.Context, id uuid.UUID, jobErr domain.JobError) error

	// ResetSteps returns a failed job to running with steps[fromStep:] pending
	// and the error cleared.
	ResetSteps(ctx context.Context, id uuid.UUID, fromStep int) error
}

type jobStore struct {
	db          *gorm.DB
	log         *logger.Logger
	lockTimeout time.Duration
}

func New(db *gorm.DB, baseLog *logger.Logger, lockTimeout time.Duration) JobStore {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Minute
	}
	return &jobStore{
		db:          db,
		log:         baseLog.With("component", "JobStore"),
		lockTimeout: lockTimeout,
	}
}

// Migrate creates the job table. Production uses SQL migrations; tests and
// local runs use this.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.Job{})
}

func (s *jobStore) CreateJob(ctx context.Context, pipeline string, stepNames []string, initialContext map[string]any) (*domain.Job, error) {
	if pipeline == "" {
		return nil, fmt.Errorf("missing pipeline")
	}
	if len(stepNames) == 0 {
		return nil, fmt.Errorf("pipeline %q has no steps", pipeline)
	}
	steps := make([]domain.StepRecord, 0, len(stepNames))
	for _, name := range stepNames {
		steps = append(steps, domain.StepRecord{Name: name, Status: domain.StepPending})
	}
	now := time.Now().UTC()
	job := &domain.Job{
		ID:          uuid.New(),
		Pipeline:    pipeline,
		Status:      domain.JobRunning,
		CurrentStep: 0,
		TotalSteps:  len(stepNames),
		Steps:       domain.EncodeSteps(steps),
		Context:     domain.EncodeContext(initialContext),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (s *jobStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *jobStore) AcquireLock(ctx context.Context, id uuid.UUID, ownerID string) (bool, error) {
	if ownerID == "" {
		return false, fmt.Errorf("missing lock owner")
	}
	now := time.Now().UTC()
	staleCutoff := now.Add(-s.lockTimeout)
	res := s.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobRunning).
		Where("lock_owner = '' OR lock_acquired_at IS NULL OR lock_acquired_at < ?", staleCutoff).
		Updates(map[string]interface{}{
			"lock_owner":       ownerID,
			"lock_acquired_at": now,
			"updated_at":       now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *jobStore) ReleaseLock(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"lock_owner":       "",
			"lock_acquired_at": nil,
			"updated_at":       time.Now().UTC(),
		}).Error
}

func (s *jobStore) UpdateStepStatus(ctx context.Context, id uuid.UUID, stepIndex int, status domain.StepStatus, startedAt, completedAt *time.Time, durationMS *int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job domain.Job
		if err := tx.Where("id = ?", id).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		steps, err := job.DecodeSteps()
		if err != nil {
			return fmt.Errorf("decode steps: %w", err)
		}
		if stepIndex < 0 || stepIndex >= len(steps) {
			return fmt.Errorf("step index %d out of range (total %d)", stepIndex, len(steps))
		}
		rec := &steps[stepIndex]
		rec.Status = status
		if startedAt != nil {
			rec.StartedAt = startedAt
		}
		if completedAt != nil {
			rec.CompletedAt = completedAt
		}
		if durationMS != nil {
			rec.DurationMS = durationMS
		}
		updates := map[string]interface{}{
			"steps":      domain.EncodeSteps(steps),
			"updated_at": time.Now().UTC(),
		}
		// current_step only moves forward while running.
		if stepIndex > job.CurrentStep {
			updates["current_step"] = stepIndex
		}
		return tx.Model(&domain.Job{}).Where("id = ?", id).Updates(updates).Error
	})
}

func (s *jobStore) SaveContext(ctx context.Context, id uuid.UUID, jobContext map[string]any) error {
	return s.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"context":    domain.EncodeContext(jobContext),
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *jobStore) CompleteJob(ctx context.Context, id uuid.UUID, result map[string]any) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobRunning).
		Updates(map[string]interface{}{
			"status":           domain.JobCompleted,
			"result":           domain.EncodeContext(result),
			"error":            nil,
			"lock_owner":       "",
			"lock_acquired_at": nil,
			"updated_at":       now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("complete job %s: not running", id)
	}
	return nil
}

func (s *jobStore) FailJob(ctx context.Context, id uuid.UUID, jobErr domain.JobError) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobRunning).
		Updates(map[string]interface{}{
			"status":           domain.JobFailed,
			"error":            domain.EncodeError(jobErr),
			"result":           nil,
			"lock_owner":       "",
			"lock_acquired_at": nil,
			"updated_at":       now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("fail job %s: not running", id)
	}
	return nil
}

func (s *jobStore) ResetSteps(ctx context.Context, id uuid.UUID, fromStep int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job domain.Job
		if err := tx.Where("id = ?", id).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		steps, err := job.DecodeSteps()
		if err != nil {
			return fmt.Errorf("decode steps: %w", err)
		}
		if fromStep < 0 || fromStep >= len(steps) {
			return fmt.Errorf("reset index %d out of range (total %d)", fromStep, len(steps))
		}
		for i := fromStep; i < len(steps); i++ {
			steps[i] = domain.StepRecord{Name: steps[i].Name, Status: domain.StepPending}
		}
		return tx.Model(&domain.Job{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":           domain.JobRunning,
			"current_step":     fromStep,
			"steps":            domain.EncodeSteps(steps),
			"error":            nil,
			"result":           nil,
			"lock_owner":       "",
			"lock_acquired_at": nil,
			"updated_at":       time.Now().UTC(),
		}).Error
	})
}
