package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
)

const (
	readyKey   = "inkwell:queue:ready"
	delayedKey = "inkwell:queue:delayed"
	deadKey    = "inkwell:queue:dead"
)

// Redis is the production push queue: a list for ready tasks and a sorted set
// (score = due unix millis) for delayed ones. A mover promotes due tasks; the
// consumer pops and delivers. Crashing between pop and deliver loses nothing
// the dispatcher can't absorb — duplicates bounce off the job lock, and a lost
// task is re-driven by the job retry surface.
type Redis struct {
	log         *logger.Logger
	rdb         *redis.Client
	maxAttempts int
}

func NewRedis(baseLog *logger.Logger, rdb *redis.Client, maxAttempts int) *Redis {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Redis{
		log:         baseLog.With("component", "RedisQueue"),
		rdb:         rdb,
		maxAttempts: maxAttempts,
	}
}

func (q *Redis) Enqueue(ctx context.Context, endpoint string, payload map[string]any, delay time.Duration) error {
	return q.put(ctx, Task{Endpoint: endpoint, Payload: payload}, delay)
}

func (q *Redis) put(ctx context.Context, task Task, delay time.Duration) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if delay <= 0 {
		return q.rdb.LPush(ctx, readyKey, raw).Err()
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	return q.rdb.ZAdd(ctx, delayedKey, redis.Z{Score: due, Member: raw}).Err()
}

// Start runs the mover loop and a pool of consumers until ctx is done.
func (q *Redis) Start(ctx context.Context, deliver DeliverFunc) {
	go q.moveLoop(ctx)
	var wg sync.WaitGroup
	for i := 0; i < consumerWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.consumeLoop(ctx, deliver)
		}()
	}
	wg.Wait()
}

func (q *Redis) moveLoop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.moveDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
				q.log.Warn("promote delayed tasks failed", "error", err)
			}
		}
	}
}

func (q *Redis) moveDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 100,
	}).Result()
	if err != nil {
		return err
	}
	for _, m := range members {
		// ZRem returning 0 means another instance already promoted it.
		n, err := q.rdb.ZRem(ctx, delayedKey, m).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, readyKey, m).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (q *Redis) consumeLoop(ctx context.Context, deliver DeliverFunc) {
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := q.rdb.BRPop(ctx, time.Second, readyKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			q.log.Warn("queue pop failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if len(res) != 2 {
			continue
		}
		var task Task
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			q.log.Error("malformed task payload, discarding", "error", err)
			continue
		}
		q.handle(ctx, task, deliver)
	}
}

func (q *Redis) handle(ctx context.Context, task Task, deliver DeliverFunc) {
	err := deliver(ctx, task)
	switch {
	case err == nil:
		return
	case errors.Is(err, ErrDrop):
		q.log.Info("task dropped", "endpoint", task.Endpoint, "attempts", task.Attempts)
		return
	default:
		task.Attempts++
		if task.Attempts >= q.maxAttempts {
			q.log.Error("task exhausted redelivery attempts",
				"endpoint", task.Endpoint, "attempts", task.Attempts, "error", err)
			if raw, mErr := json.Marshal(task); mErr == nil {
				_ = q.rdb.LPush(ctx, deadKey, raw).Err()
			}
			return
		}
		q.log.Warn("delivery failed, re-enqueueing",
			"endpoint", task.Endpoint, "attempts", task.Attempts, "error", err)
		if pErr := q.put(ctx, task, redeliveryDelay(task.Attempts)); pErr != nil {
			q.log.Error("re-enqueue failed", "endpoint", task.Endpoint, "error", pErr)
		}
	}
}
