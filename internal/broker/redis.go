package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis is the out-of-process broker: a redis list used as a queue
// (LPUSH to enqueue, BRPOP to receive). The queue is bounded by an LLEN
// check at enqueue time, which keeps the backpressure semantics of the
// in-process broker under a single producer.
type Redis struct {
	client   *redis.Client
	queueKey string
	maxLen   int64
}

var _ Broker = (*Redis)(nil)

// NewRedis connects to the redis instance named by url.
func NewRedis(url, queueKey string, queueSize int) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing broker url: %w", err)
	}
	if queueKey == "" {
		queueKey = "framesight:tasks"
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Redis{
		client:   redis.NewClient(opts),
		queueKey: queueKey,
		maxLen:   int64(queueSize),
	}, nil
}

// Ping verifies the redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Enqueue pushes a JSON-encoded task, honoring the queue bound.
func (r *Redis) Enqueue(ctx context.Context, task Task) error {
	length, err := r.client.LLen(ctx, r.queueKey).Result()
	if err != nil {
		return fmt.Errorf("checking queue length: %w", err)
	}
	if length >= r.maxLen {
		return ErrQueueFull
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}
	if err := r.client.LPush(ctx, r.queueKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueueing task: %w", err)
	}
	return nil
}

// Receive blocks on BRPOP until a task arrives or the context ends.
func (r *Redis) Receive(ctx context.Context) (Task, error) {
	res, err := r.client.BRPop(ctx, 0, r.queueKey).Result()
	if err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return Task{}, ErrClosed
		}
		if ctx.Err() != nil {
			return Task{}, ctx.Err()
		}
		return Task{}, fmt.Errorf("receiving task: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return Task{}, fmt.Errorf("unexpected BRPOP reply: %v", res)
	}

	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return Task{}, fmt.Errorf("decoding task: %w", err)
	}
	return task, nil
}

// Close closes the redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
