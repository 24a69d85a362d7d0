// Package registry maps agent identifiers to invocable worker capabilities.
// The registry is agnostic to what a capability actually does: a worker is an
// opaque function from (task type, payload) to output or error.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/conductor-go/conductor/internal/bus"
)

// ErrUnknownAgent indicates a task named an agent ID that is not registered.
// This is a configuration error: the task is failed immediately, not retried.
var ErrUnknownAgent = errors.New("unknown agent")

// Invocation carries everything a worker needs to execute one task.
type Invocation struct {
	// TaskID identifies the task being executed.
	TaskID string
	// TaskType is the opaque task type the worker should interpret.
	TaskType string
	// Payload is the task's opaque input data.
	Payload map[string]any
	// Bus is the workflow-scoped message bus, usable as an auxiliary side
	// channel between workers. May be nil.
	Bus *bus.Bus
}

// Worker is an invocable capability. Invoke must honor ctx cancellation:
// when the task's timeout elapses the context is cancelled and the result
// is discarded.
type Worker interface {
	Invoke(ctx context.Context, inv Invocation) (any, error)
}

// WorkerFunc adapts a plain function to the Worker interface.
type WorkerFunc func(ctx context.Context, inv Invocation) (any, error)

// Invoke calls f.
func (f WorkerFunc) Invoke(ctx context.Context, inv Invocation) (any, error) {
	return f(ctx, inv)
}

// Registry provides thread-safe registration and lookup of workers by agent ID.
type Registry struct {
	mu sync.RWMutex
	// workers maps agent IDs to their capabilities.
	workers map[string]Worker
	// breakers tracks the per-agent circuit breakers, if enabled.
	breakers *breakerRegistry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		workers: make(map[string]Worker),
	}
}

// EnableBreakers turns on per-agent circuit breakers with the given settings.
// Must be called before the registry is shared with a running coordinator.
func (r *Registry) EnableBreakers(cfg BreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = newBreakerRegistry(cfg)
}

// Register adds a worker under the given agent ID, replacing any previous
// registration for that ID.
func (r *Registry) Register(agentID string, w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[agentID] = w
}

// Lookup resolves an agent ID to its worker.
// Returns ErrUnknownAgent if no worker is registered under the ID.
func (r *Registry) Lookup(agentID string) (Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return w, nil
}

// Count returns the number of registered workers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// AgentIDs returns the IDs of all registered workers.
func (r *Registry) AgentIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	return ids
}

// Invoke resolves the agent and executes the invocation, routing through the
// agent's circuit breaker when breakers are enabled.
func (r *Registry) Invoke(ctx context.Context, agentID string, inv Invocation) (any, error) {
	w, err := r.Lookup(agentID)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	breakers := r.breakers
	r.mu.RUnlock()

	if breakers == nil {
		return w.Invoke(ctx, inv)
	}
	return breakers.execute(ctx, agentID, w, inv)
}
