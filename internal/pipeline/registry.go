package pipeline

import (
	"context"
	"errors"
	"sync"
)

// ErrRunActive indicates the user already has a pipeline run in flight.
var ErrRunActive = errors.New("a run is already active for this user")

// Registry tracks in-flight runs per user. A user gets at most one run
// at a time; a second request is rejected rather than queued.
type Registry struct {
	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]context.CancelFunc)}
}

func (r *Registry) begin(userID string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[userID]; ok {
		return ErrRunActive
	}

	r.active[userID] = cancel

	return nil
}

func (r *Registry) end(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.active, userID)
}

// Stop cancels the user's active run. It reports whether a run was
// actually cancelled.
func (r *Registry) Stop(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cancel, ok := r.active[userID]
	if ok {
		cancel()
	}

	return ok
}

// Running reports whether the user has an active run.
func (r *Registry) Running(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.active[userID]

	return ok
}
