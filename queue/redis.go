//go:build redis
// +build redis

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a LIST-based activation queue using Redis.
// Producer: LPUSH; consumer: BRPOP with timeout. Each delivered task is
// parked in a per-queue in-flight HASH keyed by task ID until it is acked
// (HDEL) or nacked (HDEL, optionally LPUSH back with its attempt count).
type RedisQueue struct {
	rdb   *redis.Client
	ns    string
	popTO time.Duration
}

// RedisConfig configures the RedisQueue.
type RedisConfig struct {
	Addr       string
	Username   string
	Password   string
	DB         int
	Namespace  string
	PopTimeout time.Duration
}

// NewRedisQueue creates a Redis-backed activation queue.
func NewRedisQueue(cfg RedisConfig) (*RedisQueue, error) {
	if cfg.PopTimeout == 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
	return &RedisQueue{rdb: rdb, ns: cfg.Namespace, popTO: cfg.PopTimeout}, nil
}

func (q *RedisQueue) keyTasks(queueName string) string {
	return fmt.Sprintf("%s:activations:%s", q.ns, queueName)
}
func (q *RedisQueue) keyInFlight(queueName string) string {
	return fmt.Sprintf("%s:inflight:%s", q.ns, queueName)
}

// Enqueue adds an activation task to the queue.
func (q *RedisQueue) Enqueue(ctx context.Context, queueName string, task *Task) error {
	if task == nil {
		return fmt.Errorf("nil task")
	}
	b, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.keyTasks(queueName), string(b)).Err()
}

// DequeueWithTimeout pops a task and parks it in the in-flight hash with its
// incremented attempt count, so a later Nack redelivers the same payload.
func (q *RedisQueue) DequeueWithTimeout(ctx context.Context, queueName string, timeout time.Duration) (*Task, error) {
	if timeout <= 0 {
		timeout = q.popTO
	}
	res, err := q.rdb.BRPop(ctx, timeout, q.keyTasks(queueName)).Result()
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP result")
	}
	var t Task
	if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
		return nil, err
	}
	t.Attempts++
	parked, err := json.Marshal(&t)
	if err != nil {
		return nil, err
	}
	if err := q.rdb.HSet(ctx, q.keyInFlight(queueName), t.ID, string(parked)).Err(); err != nil {
		return nil, fmt.Errorf("park in-flight task %s: %w", t.ID, err)
	}
	return &t, nil
}

// Dequeue is a convenience for DequeueWithTimeout with default timeout.
func (q *RedisQueue) Dequeue(ctx context.Context, queueName string) (*Task, error) {
	return q.DequeueWithTimeout(ctx, queueName, q.popTO)
}

// Ack drops the task from the in-flight hash.
func (q *RedisQueue) Ack(ctx context.Context, queueName string, taskID string) error {
	removed, err := q.rdb.HDel(ctx, q.keyInFlight(queueName), taskID).Result()
	if err != nil {
		return fmt.Errorf("ack task %s: %w", taskID, err)
	}
	if removed == 0 {
		return fmt.Errorf("task %s not found in flight", taskID)
	}
	return nil
}

// Nack removes the task from the in-flight hash and, when requeue is set,
// pushes the parked payload back onto the queue with its attempt count
// intact.
func (q *RedisQueue) Nack(ctx context.Context, queueName string, taskID string, requeue bool) error {
	parked, err := q.rdb.HGet(ctx, q.keyInFlight(queueName), taskID).Result()
	if err == redis.Nil {
		return fmt.Errorf("task %s not found in flight", taskID)
	}
	if err != nil {
		return fmt.Errorf("nack task %s: %w", taskID, err)
	}

	pipe := q.rdb.TxPipeline()
	if requeue {
		pipe.LPush(ctx, q.keyTasks(queueName), parked)
	}
	pipe.HDel(ctx, q.keyInFlight(queueName), taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("nack task %s: %w", taskID, err)
	}
	return nil
}

// Len returns pending activation count, excluding in-flight tasks.
func (q *RedisQueue) Len(ctx context.Context, queueName string) (int, error) {
	n, err := q.rdb.LLen(ctx, q.keyTasks(queueName)).Result()
	return int(n), err
}

// Close closes the Redis client.
func (q *RedisQueue) Close() error { return q.rdb.Close() }
