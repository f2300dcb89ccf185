// Package broker abstracts the worker task transport. A single Broker
// interface covers the in-process bounded queue used for single-node
// deployments and the redis-backed queue used when workers run in
// separate processes.
package broker

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Task is one unit of work: process the identified video.
type Task struct {
	// ID is a ULID assigned at enqueue time.
	ID string `json:"id"`

	// VideoID is the job to process.
	VideoID string `json:"video_id"`

	// EnqueuedAt records when the task entered the queue.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewTask creates a task for the given video.
func NewTask(videoID string) Task {
	return Task{
		ID:         ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		VideoID:    videoID,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Broker queues tasks for workers. Delivery is at-least-once: redelivery
// after failures is permitted and consumers are expected to be idempotent.
type Broker interface {
	// Enqueue adds a task. Returns ErrQueueFull when the bounded queue is
	// at capacity; this is the backpressure signal and the caller must not
	// create a job record for the rejected submission.
	Enqueue(ctx context.Context, task Task) error

	// Receive blocks until a task is available, the context is cancelled,
	// or the broker is closed.
	Receive(ctx context.Context) (Task, error)

	// Close releases the broker. Pending Receive calls return ErrClosed.
	Close() error
}

// Broker errors.
var (
	// ErrQueueFull indicates the bounded queue is at capacity.
	ErrQueueFull = errors.New("task queue is full")

	// ErrClosed indicates the broker has been closed.
	ErrClosed = errors.New("broker is closed")
)

// New selects a broker implementation from the URL: empty selects the
// in-process queue, redis:// selects the redis adapter.
func New(url, queueKey string, queueSize int) (Broker, error) {
	if url == "" {
		return NewMemory(queueSize), nil
	}
	if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
		return NewRedis(url, queueKey, queueSize)
	}
	return nil, fmt.Errorf("unsupported broker url: %s", url)
}
