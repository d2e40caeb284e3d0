package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
)

func TestMemoryDeliversTask(t *testing.T) {
	q := NewMemory(logger.NewNop(), 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Task, 1)
	go q.Start(ctx, func(_ context.Context, task Task) error {
		got <- task
		return nil
	})

	payload := map[string]any{"job_id": "abc", "step_index": float64(2)}
	if err := q.Enqueue(ctx, "http://x/step", payload, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case task := <-got:
		if task.Endpoint != "http://x/step" || task.Payload["job_id"] != "abc" {
			t.Fatalf("task = %+v", task)
		}
	case <-time.After(time.Second):
		t.Fatal("task never delivered")
	}
}

func TestMemoryDropIsNotRedelivered(t *testing.T) {
	q := NewMemory(logger.NewNop(), 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	go q.Start(ctx, func(_ context.Context, _ Task) error {
		atomic.AddInt32(&calls, 1)
		return ErrDrop
	})

	_ = q.Enqueue(ctx, "http://x/step", nil, 0)
	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("deliveries = %d, want 1", n)
	}
}

func TestMemoryRedeliversUntilMaxAttempts(t *testing.T) {
	q := NewMemory(logger.NewNop(), 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	go q.Start(ctx, func(_ context.Context, _ Task) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("endpoint down")
	})

	_ = q.Enqueue(ctx, "http://x/step", nil, 0)

	deadline := time.After(5 * time.Second)
	for atomic.LoadInt32(&calls) < 2 {
		select {
		case <-deadline:
			t.Fatalf("deliveries = %d, want 2", atomic.LoadInt32(&calls))
		case <-time.After(50 * time.Millisecond):
		}
	}
	// Attempts hit the cap; no further redelivery may happen.
	time.Sleep(200 * time.Millisecond)
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("deliveries = %d, want exactly 2", n)
	}
}

func TestMemoryDelayedTask(t *testing.T) {
	q := NewMemory(logger.NewNop(), 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan time.Time, 1)
	go q.Start(ctx, func(_ context.Context, _ Task) error {
		got <- time.Now()
		return nil
	})

	start := time.Now()
	_ = q.Enqueue(ctx, "http://x/step", nil, 80*time.Millisecond)
	select {
	case at := <-got:
		if at.Sub(start) < 60*time.Millisecond {
			t.Fatalf("delivered after %v, want ~80ms delay", at.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never delivered")
	}
}

func TestMemorySlowTaskDoesNotBlockOthers(t *testing.T) {
	q := NewMemory(logger.NewNop(), 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	fast := make(chan string, 1)
	go q.Start(ctx, func(_ context.Context, task Task) error {
		if task.Endpoint == "http://x/slow" {
			<-release
			return nil
		}
		fast <- task.Endpoint
		return nil
	})
	defer close(release)

	_ = q.Enqueue(ctx, "http://x/slow", nil, 0)
	_ = q.Enqueue(ctx, "http://x/fast", nil, 0)

	select {
	case ep := <-fast:
		if ep != "http://x/fast" {
			t.Fatalf("endpoint = %q", ep)
		}
	case <-time.After(time.Second):
		t.Fatal("fast task stuck behind slow one")
	}
}

func TestMemoryEnqueueErrorsWhenFull(t *testing.T) {
	q := NewMemory(logger.NewNop(), 3)
	ctx := context.Background()

	// No consumer running: fill the buffer completely.
	for i := 0; i < memoryCapacity; i++ {
		if err := q.Enqueue(ctx, "http://x/step", nil, 0); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if err := q.Enqueue(ctx, "http://x/step", nil, 0); !errors.Is(err, errQueueFull) {
		t.Fatalf("err = %v, want errQueueFull", err)
	}
}
