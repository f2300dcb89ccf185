package broker

import (
	"context"
	"sync"
)

// Memory is the in-process broker: a bounded channel. Enqueue never blocks;
// a full channel surfaces ErrQueueFull so submission can push back.
type Memory struct {
	tasks chan Task

	mu     sync.Mutex
	closed bool
}

var _ Broker = (*Memory)(nil)

// NewMemory creates an in-process broker holding at most size tasks.
func NewMemory(size int) *Memory {
	if size < 1 {
		size = 1
	}
	return &Memory{tasks: make(chan Task, size)}
}

// Enqueue adds a task or reports ErrQueueFull.
func (m *Memory) Enqueue(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// The lock prevents a send racing Close; the send itself never blocks.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	select {
	case m.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Receive blocks for the next task.
func (m *Memory) Receive(ctx context.Context) (Task, error) {
	select {
	case <-ctx.Done():
		return Task{}, ctx.Err()
	case task, ok := <-m.tasks:
		if !ok {
			return Task{}, ErrClosed
		}
		return task, nil
	}
}

// Close shuts the queue; queued tasks are still delivered to receivers.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.tasks)
	return nil
}
