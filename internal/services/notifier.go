package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inkwell-ai/inkwell-backend/internal/domain"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
)

// RedisNotifier publishes job lifecycle events to a per-job redis channel so
// interested clients can watch progress without polling the status endpoint.
// Publishing is fire-and-forget; a down redis never blocks a step.
type RedisNotifier struct {
	rdb *redis.Client
	log *logger.Logger
}

func NewRedisNotifier(rdb *redis.Client, baseLog *logger.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, log: baseLog.With("component", "RedisNotifier")}
}

func channelFor(job *domain.Job) string {
	return "inkwell:jobs:" + job.ID.String()
}

func (n *RedisNotifier) publish(job *domain.Job, event map[string]any) {
	event["job_id"] = job.ID.String()
	event["pipeline"] = job.Pipeline
	event["at"] = time.Now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.rdb.Publish(ctx, channelFor(job), payload).Err(); err != nil {
		n.log.Debug("notify publish failed", "job_id", job.ID, "error", err)
	}
}

func (n *RedisNotifier) JobProgress(job *domain.Job, step string, progressPct int) {
	n.publish(job, map[string]any{
		"event":        "progress",
		"step":         step,
		"progress_pct": progressPct,
	})
}

func (n *RedisNotifier) JobCompleted(job *domain.Job) {
	n.publish(job, map[string]any{"event": "completed"})
}

func (n *RedisNotifier) JobFailed(job *domain.Job, step string, message string) {
	n.publish(job, map[string]any{
		"event":   "failed",
		"step":    step,
		"message": message,
	})
}

// NopNotifier drops every event. Used in tests and when redis is not
// configured.
type NopNotifier struct{}

func (NopNotifier) JobProgress(*domain.Job, string, int)  {}
func (NopNotifier) JobCompleted(*domain.Job)              {}
func (NopNotifier) JobFailed(*domain.Job, string, string) {}
