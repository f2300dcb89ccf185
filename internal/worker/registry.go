// Package worker runs the processing pool: task consumption, job
// execution, startup recovery, and periodic maintenance.
package worker

import (
	"context"
	"sync"
)

// CancelRegistry tracks the cancel functions of jobs running in this
// process so the API layer can stop them by video id.
type CancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewCancelRegistry creates an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{cancels: make(map[string]context.CancelFunc)}
}

func (r *CancelRegistry) register(videoID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[videoID] = cancel
}

func (r *CancelRegistry) unregister(videoID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, videoID)
}

// Cancel signals the job's context and reports whether a running job was
// found. Satisfies the service layer's cancellation hook.
func (r *CancelRegistry) Cancel(videoID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[videoID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
