// Package graph provides the dependency graph and ready-set computation for
// workflow scheduling.
package graph

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/conductor-go/conductor/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("dependency cycle detected")

// ErrDuplicateTask indicates two tasks share the same ID.
var ErrDuplicateTask = errors.New("duplicate task id")

// ErrUnknownDependency indicates a task depends on an ID not present in the workflow.
var ErrUnknownDependency = errors.New("dependency references unknown task")

// node is the per-task bookkeeping the resolver maintains.
type node struct {
	task *models.Task
	// index is the task's insertion order, used as the dispatch tie-break.
	index int
	// unmet is the count of dependencies that have not yet resolved.
	unmet int
	// resolved is true once the task has succeeded.
	resolved bool
}

// DependencyGraph is a directed acyclic graph of task dependencies.
// It computes the ready set incrementally: each completion decrements the
// unmet-dependency counters of its dependents rather than rescanning the
// whole graph.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to its bookkeeping node.
	nodes map[string]*node
	// order holds task IDs in insertion order.
	order []string
	// edges maps task ID to the IDs it depends on.
	edges map[string][]string
	// dependents maps task ID to the IDs that depend on it.
	dependents map[string][]string
	// readyIDs holds tasks whose unmet counter reached zero. Membership only
	// grows; Ready filters by task status so the set stays cheap to scan.
	readyIDs map[string]struct{}
	logger   *slog.Logger
}

// New creates an empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:      make(map[string]*node),
		edges:      make(map[string][]string),
		dependents: make(map[string][]string),
		readyIDs:   make(map[string]struct{}),
		logger:     slog.Default(),
	}
}

// SetLogger sets the logger used for debug tracing.
func (g *DependencyGraph) SetLogger(l *slog.Logger) {
	if l != nil {
		g.logger = l
	}
}

// Build constructs the graph from a slice of tasks. It fails with
// ErrDuplicateTask or ErrUnknownDependency for malformed input and with
// ErrCycleDetected for circular dependencies. No task may be dispatched
// before Build returns nil.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	// First pass: register all tasks as nodes.
	for i, task := range tasks {
		if _, exists := g.nodes[task.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
		}
		g.nodes[task.ID] = &node{task: task, index: i}
		g.order = append(g.order, task.ID)
		g.edges[task.ID] = nil
	}

	// Second pass: build edges from DependsOn fields.
	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("%w: task %s depends on %s", ErrUnknownDependency, task.ID, depID)
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
			g.dependents[depID] = append(g.dependents[depID], task.ID)
		}
		g.nodes[task.ID].unmet = len(task.DependsOn)
		if len(task.DependsOn) == 0 {
			g.readyIDs[task.ID] = struct{}{}
		}
	}

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}

	g.logger.Debug("dependency graph built", "tasks", len(g.nodes))
	return nil
}

// hasCycleLocked detects cycles with a depth-first traversal.
// Caller must hold g.mu.
func (g *DependencyGraph) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge: cycle.
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// Ready returns the tasks whose dependencies have all resolved and which have
// not yet been dispatched (status pending or ready), ordered by descending
// priority then ascending insertion order. The coordinator must honor this
// ordering when dispatch slots are scarce.
func (g *DependencyGraph) Ready() []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*node
	for id := range g.readyIDs {
		n := g.nodes[id]
		switch n.task.Status {
		case models.TaskStatusPending, models.TaskStatusReady:
			ready = append(ready, n)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].task.Priority != ready[j].task.Priority {
			return ready[i].task.Priority > ready[j].task.Priority
		}
		return ready[i].index < ready[j].index
	})

	tasks := make([]*models.Task, len(ready))
	for i, n := range ready {
		tasks[i] = n.task
	}
	return tasks
}

// MarkSucceeded records that a task succeeded and returns the IDs of
// dependents that became ready as a result.
func (g *DependencyGraph) MarkSucceeded(taskID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[taskID]
	if !ok || n.resolved {
		return nil
	}
	n.resolved = true

	var newlyReady []string
	for _, depID := range g.dependents[taskID] {
		dep := g.nodes[depID]
		dep.unmet--
		if dep.unmet == 0 {
			g.readyIDs[depID] = struct{}{}
			newlyReady = append(newlyReady, depID)
		}
	}

	g.logger.Debug("task resolved", "task", taskID, "newly_ready", newlyReady)
	return newlyReady
}

// Task returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) Task(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[taskID]
	if !ok {
		return nil
	}
	return n.task
}

// Tasks returns all tasks in insertion order.
func (g *DependencyGraph) Tasks() []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tasks := make([]*models.Task, 0, len(g.order))
	for _, id := range g.order {
		tasks = append(tasks, g.nodes[id].task)
	}
	return tasks
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the IDs of tasks that the given task depends on.
func (g *DependencyGraph) Dependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[taskID]...)
}

// Dependents returns the IDs of tasks that depend on the given task.
func (g *DependencyGraph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.dependents[taskID]...)
}
