package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conductor-go/conductor/internal/bus"
	"github.com/conductor-go/conductor/internal/graph"
	"github.com/conductor-go/conductor/internal/registry"
	"github.com/conductor-go/conductor/internal/store"
	"github.com/conductor-go/conductor/pkg/models"
)

// ErrUnknownWorkflow indicates no workflow exists under the given ID.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// ErrEmptyWorkflow indicates a submission with no tasks.
var ErrEmptyWorkflow = errors.New("workflow has no tasks")

// PoolConfig contains configuration options for the Pool.
type PoolConfig struct {
	// Registry resolves agent IDs to workers. Required.
	Registry *registry.Registry
	// Coordinator is the per-workflow runtime policy.
	Coordinator Config
	// MessageHistoryCap bounds each workflow's message history.
	MessageHistoryCap int
	// StorePath is the result store DSN; empty means in-memory.
	StorePath string
	// EventBuffer sizes the aggregated event channel.
	EventBuffer int
}

// Pool is the workflow submission and status surface. It validates incoming
// task graphs before any dispatch, runs one coordinator per workflow, and
// aggregates their events. Finished workflows stay queryable until Stop.
type Pool struct {
	cfg PoolConfig

	mu sync.RWMutex
	// workflows maps workflow IDs to their coordinators.
	workflows map[string]*Coordinator

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a Pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:       cfg,
		workflows: make(map[string]*Coordinator),
		events:    make(chan Event, cfg.EventBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit validates the task list and starts a coordinator for it.
// Malformed graphs and dependency cycles are rejected here, before any task
// is dispatched. Returns the new workflow ID.
func (p *Pool) Submit(name string, tasks []*models.Task) (string, error) {
	if p.cfg.Registry == nil {
		return "", fmt.Errorf("pool has no registry")
	}
	if len(tasks) == 0 {
		return "", ErrEmptyWorkflow
	}

	now := time.Now()
	for _, t := range tasks {
		t.Status = models.TaskStatusPending
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
	}

	g := graph.New()
	if err := g.Build(tasks); err != nil {
		return "", err
	}

	st, err := store.Open(p.cfg.StorePath)
	if err != nil {
		return "", fmt.Errorf("open result store: %w", err)
	}

	wfID := uuid.New().String()[:8]
	wf := &models.Workflow{
		ID:        wfID,
		Name:      name,
		Tasks:     tasks,
		Status:    models.WorkflowStatusPending,
		CreatedAt: now,
	}

	b := bus.New(p.cfg.MessageHistoryCap)
	coord := New(wf, g, p.cfg.Registry, b, st, p.cfg.Coordinator)

	p.mu.Lock()
	p.workflows[wfID] = coord
	p.mu.Unlock()

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.forwardEvents(coord)
	}()
	go func() {
		defer p.wg.Done()
		_ = coord.Run(p.ctx)
		b.Close()
	}()

	return wfID, nil
}

// forwardEvents forwards one coordinator's events to the pool channel.
// Terminates when the coordinator closes its emitter.
func (p *Pool) forwardEvents(coord *Coordinator) {
	for event := range coord.Events() {
		select {
		case p.events <- event:
		case <-p.ctx.Done():
			return
		}
	}
}

// Events returns the aggregated event channel for all workflows.
func (p *Pool) Events() <-chan Event {
	return p.events
}

// Status returns a snapshot of the given workflow. Safe to call while the
// workflow runs; after completion repeated calls return identical snapshots.
func (p *Pool) Status(workflowID string) (Snapshot, error) {
	coord, err := p.get(workflowID)
	if err != nil {
		return Snapshot{}, err
	}
	return coord.Status(), nil
}

// Results returns the stored task results for the given workflow.
func (p *Pool) Results(workflowID string) ([]models.TaskResult, error) {
	coord, err := p.get(workflowID)
	if err != nil {
		return nil, err
	}
	return coord.Results().All()
}

// Send publishes a message on the given workflow's bus.
func (p *Pool) Send(workflowID, sender, receiver, content, msgType string, metadata map[string]any) error {
	coord, err := p.get(workflowID)
	if err != nil {
		return err
	}
	coord.Bus().Send(sender, receiver, content, msgType, metadata)
	return nil
}

// History returns the given workflow's retained message history.
func (p *Pool) History(workflowID string, limit int) ([]models.Message, error) {
	coord, err := p.get(workflowID)
	if err != nil {
		return nil, err
	}
	return coord.Bus().History(limit), nil
}

// Cancel aborts a running workflow. In-flight tasks are abandoned and the
// workflow finalizes as failed.
func (p *Pool) Cancel(workflowID string) error {
	coord, err := p.get(workflowID)
	if err != nil {
		return err
	}
	coord.Cancel()
	return nil
}

// Count returns the number of tracked workflows.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workflows)
}

// SystemStatus summarizes every workflow the pool has seen.
type SystemStatus struct {
	// Workflows tallies workflows by status.
	Workflows map[models.WorkflowStatus]int `json:"workflows"`
	// TotalTasks is the task count across all workflows.
	TotalTasks int `json:"total_tasks"`
	// SucceededTasks is the count of tasks that succeeded.
	SucceededTasks int `json:"succeeded_tasks"`
	// SuccessRate is SucceededTasks over terminal tasks, 0-100.
	SuccessRate float64 `json:"success_rate"`
}

// System returns an aggregate view across all workflows.
func (p *Pool) System() SystemStatus {
	p.mu.RLock()
	coords := make([]*Coordinator, 0, len(p.workflows))
	for _, c := range p.workflows {
		coords = append(coords, c)
	}
	p.mu.RUnlock()

	status := SystemStatus{Workflows: make(map[models.WorkflowStatus]int)}
	terminal := 0
	for _, c := range coords {
		snap := c.Status()
		status.Workflows[snap.Status]++
		status.TotalTasks += len(snap.Tasks)
		for _, t := range snap.Tasks {
			if t.Status == models.TaskStatusSucceeded {
				status.SucceededTasks++
			}
			if t.Status.Terminal() {
				terminal++
			}
		}
	}
	if terminal > 0 {
		status.SuccessRate = float64(status.SucceededTasks) / float64(terminal) * 100
	}
	return status
}

// Stop cancels all workflows, waits for their coordinators, and releases
// their stores. The pool is unusable afterwards.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	for _, coord := range p.workflows {
		_ = coord.Results().Close()
	}
	p.mu.Unlock()

	close(p.events)
}

func (p *Pool) get(workflowID string) (*Coordinator, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	coord, ok := p.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflowID)
	}
	return coord, nil
}
