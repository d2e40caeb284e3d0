package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
)

const memoryCapacity = 1024

var errQueueFull = errors.New("memory queue full")

// Memory is a single-process queue used for local runs and tests. It keeps the
// same at-least-once contract as the Redis queue: a failed delivery is
// re-enqueued with a delay until maxAttempts is reached.
type Memory struct {
	log         *logger.Logger
	tasks       chan Task
	maxAttempts int

	mu     sync.Mutex
	timers []*time.Timer
}

func NewMemory(baseLog *logger.Logger, maxAttempts int) *Memory {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Memory{
		log:         baseLog.With("component", "MemoryQueue"),
		tasks:       make(chan Task, memoryCapacity),
		maxAttempts: maxAttempts,
	}
}

func (m *Memory) Enqueue(_ context.Context, endpoint string, payload map[string]any, delay time.Duration) error {
	return m.push(Task{Endpoint: endpoint, Payload: payload}, delay)
}

// push reports errQueueFull instead of silently dropping, so the caller can
// surface a severed chain the same way a Redis enqueue failure would.
func (m *Memory) push(task Task, delay time.Duration) error {
	if delay <= 0 {
		select {
		case m.tasks <- task:
			return nil
		default:
			return errQueueFull
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers = append(m.timers, time.AfterFunc(delay, func() {
		select {
		case m.tasks <- task:
		default:
			m.log.Error("queue full, dropping delayed task", "endpoint", task.Endpoint)
		}
	}))
	return nil
}

// Start runs a pool of consumers until ctx is done. Blocking; run it in a
// goroutine.
func (m *Memory) Start(ctx context.Context, deliver DeliverFunc) {
	var wg sync.WaitGroup
	for i := 0; i < consumerWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.consume(ctx, deliver)
		}()
	}
	wg.Wait()
}

func (m *Memory) consume(ctx context.Context, deliver DeliverFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-m.tasks:
			m.handle(ctx, task, deliver)
		}
	}
}

func (m *Memory) handle(ctx context.Context, task Task, deliver DeliverFunc) {
	err := deliver(ctx, task)
	switch {
	case err == nil:
		return
	case err == ErrDrop:
		m.log.Info("task dropped", "endpoint", task.Endpoint, "attempts", task.Attempts)
		return
	default:
		task.Attempts++
		if task.Attempts >= m.maxAttempts {
			m.log.Error("task exhausted redelivery attempts",
				"endpoint", task.Endpoint, "attempts", task.Attempts, "error", err)
			return
		}
		m.log.Warn("delivery failed, re-enqueueing",
			"endpoint", task.Endpoint, "attempts", task.Attempts, "error", err)
		if pErr := m.push(task, redeliveryDelay(task.Attempts)); pErr != nil {
			m.log.Error("re-enqueue failed", "endpoint", task.Endpoint, "error", pErr)
		}
	}
}
