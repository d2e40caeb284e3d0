package queue

import (
	"context"
	"errors"
	"time"
)

// Task is the unit of delivery: a small JSON payload pushed at an HTTP-style
// endpoint. Delivery is at-least-once with no ordering guarantee.
type Task struct {
	Endpoint string         `json:"endpoint"`
	Payload  map[string]any `json:"payload"`
	Attempts int            `json:"attempts"`
}

// Queue is the push-queue adapter. Enqueue is fire-and-forget; the queue's
// deliverer invokes the endpoint later, possibly more than once.
type Queue interface {
	Enqueue(ctx context.Context, endpoint string, payload map[string]any, delay time.Duration) error
}

// DeliverFunc hands one task to its endpoint. A nil return acknowledges the
// task; ErrDrop acknowledges without retrying; any other error triggers
// delayed redelivery.
type DeliverFunc func(ctx context.Context, task Task) error

// ErrDrop tells the deliverer the task is permanently undeliverable
// (e.g. the target job no longer exists).
var ErrDrop = errors.New("drop task")

// consumerWorkers bounds concurrent deliveries per queue instance. Each
// delivery waits out a full step execution, so a single consumer would
// serialize unrelated jobs behind one slow step.
const consumerWorkers = 4

// redeliveryDelay grows linearly per attempt; the dispatcher's lock is the
// real de-duplication mechanism, so aggressive redelivery is safe but noisy.
func redeliveryDelay(attempts int) time.Duration {
	d := time.Duration(attempts) * 2 * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	if d <= 0 {
		d = 2 * time.Second
	}
	return d
}
