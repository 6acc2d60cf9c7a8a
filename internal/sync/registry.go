package sync

import (
	"context"
	"sync"
)

// registry tracks the cancellation handle of every in-flight sync, one
// per repository. Duplicate adds fail instead of queuing.
type registry struct {
	mu      sync.Mutex
	handles map[int64]context.CancelFunc
}

func newRegistry() *registry {
	return &registry{handles: make(map[int64]context.CancelFunc)}
}

// add registers a sync for the repository and returns its run context.
// The second return is false when a sync is already in flight.
func (r *registry) add(parent context.Context, repositoryID int64) (context.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[repositoryID]; exists {
		return nil, false
	}

	ctx, cancel := context.WithCancel(parent)
	r.handles[repositoryID] = cancel
	return ctx, true
}

// remove releases the handle. Called on every exit path, so no orphaned
// running state survives the sync routine.
func (r *registry) remove(repositoryID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cancel, exists := r.handles[repositoryID]; exists {
		cancel()
		delete(r.handles, repositoryID)
	}
}

func (r *registry) has(repositoryID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.handles[repositoryID]
	return exists
}

func (r *registry) cancel(repositoryID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cancel, exists := r.handles[repositoryID]
	if exists {
		cancel()
	}
	return exists
}
