package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/conductor-go/conductor/internal/bus"
	"github.com/conductor-go/conductor/internal/graph"
	"github.com/conductor-go/conductor/internal/registry"
	"github.com/conductor-go/conductor/internal/store"
	"github.com/conductor-go/conductor/pkg/models"
)

// Config holds the runtime policy for one coordinator.
type Config struct {
	// MaxConcurrency bounds the number of simultaneously running tasks.
	MaxConcurrency int
	// DefaultTimeout applies to tasks that declare no timeout of their own.
	DefaultTimeout time.Duration
	// Downstream selects how dependents of a failed task settle.
	Downstream DownstreamPolicy
	// Backoff configures the retry delay progression.
	Backoff BackoffConfig
	// EventBuffer sizes the event channel.
	EventBuffer int
}

// withDefaults fills unset fields with safe defaults.
func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Minute
	}
	if !c.Downstream.Valid() {
		c.Downstream = PolicySkip
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = DefaultBackoffConfig()
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	return c
}

// completion is delivered by an invocation goroutine back to the control loop.
// Workers never mutate task state directly; this channel is the only path.
type completion struct {
	taskID   string
	output   any
	err      error
	duration time.Duration
}

type invocationResult struct {
	output any
	err    error
}

// Coordinator drives one workflow: it is the sole writer of task status and
// the ready set, dispatches ready tasks to workers under the concurrency
// bound, applies retry and timeout policy, and finalizes the workflow.
type Coordinator struct {
	cfg      Config
	wf       *models.Workflow
	graph    *graph.DependencyGraph
	registry *registry.Registry
	bus      *bus.Bus
	store    *store.ResultStore
	emitter  *EventEmitter
	logger   *slog.Logger

	// mu guards task and workflow mutable state so Status() can snapshot
	// concurrently with the control loop. All mutations happen on the
	// control-loop goroutine.
	mu sync.RWMutex

	completions chan completion
	requeue     chan string

	// running is the count of in-flight invocations. Always <= MaxConcurrency.
	running int
	// waiting marks tasks sitting out a retry backoff; they are not
	// dispatchable until their requeue fires.
	waiting map[string]bool
	// terminal counts tasks that reached a terminal status.
	terminal int

	backoffs map[string]backoff.BackOff
	attempts map[string][]models.AttemptError

	cancel context.CancelFunc
}

// New creates a Coordinator for the given workflow. The graph must already be
// built from the workflow's tasks.
func New(wf *models.Workflow, g *graph.DependencyGraph, reg *registry.Registry, b *bus.Bus, st *store.ResultStore, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		cfg:         cfg,
		wf:          wf,
		graph:       g,
		registry:    reg,
		bus:         b,
		store:       st,
		emitter:     NewEventEmitter(cfg.EventBuffer),
		logger:      slog.Default().With("workflow", wf.ID),
		completions: make(chan completion, cfg.MaxConcurrency),
		requeue:     make(chan string, cfg.MaxConcurrency),
		waiting:     make(map[string]bool),
		backoffs:    make(map[string]backoff.BackOff),
		attempts:    make(map[string][]models.AttemptError),
	}
}

// Events returns the coordinator's event channel.
func (c *Coordinator) Events() <-chan Event {
	return c.emitter.Events()
}

// Bus returns the workflow-scoped message bus.
func (c *Coordinator) Bus() *bus.Bus {
	return c.bus
}

// Results returns the workflow's result store.
func (c *Coordinator) Results() *store.ResultStore {
	return c.store
}

// Cancel aborts the running workflow. In-flight tasks are abandoned with no
// further retries and the workflow finalizes as failed.
func (c *Coordinator) Cancel() {
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes the workflow to completion or cancellation. It returns the
// context error on cancellation; a workflow that merely has failed tasks
// finalizes with status failed and Run returns nil.
func (c *Coordinator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	now := time.Now()
	c.mu.Lock()
	c.cancel = cancel
	c.wf.Status = models.WorkflowStatusRunning
	c.wf.StartedAt = &now
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(runCtx)

	// Tasks with no dependencies start ready.
	for _, t := range c.graph.Ready() {
		c.setReady(t)
	}

	var runErr error
loop:
	for {
		c.dispatch(gctx, g)

		if c.done() {
			break
		}

		if c.stalled() {
			runErr = fmt.Errorf("workflow %s stalled: no runnable, retrying, or in-flight tasks remain", c.wf.ID)
			c.logger.Error("workflow stalled")
			break
		}

		select {
		case <-runCtx.Done():
			c.abort()
			runErr = runCtx.Err()
			break loop
		case comp := <-c.completions:
			c.handleCompletion(gctx, g, comp)
		case id := <-c.requeue:
			c.handleRequeue(id)
		}
	}

	c.finalize(runErr)

	// Stop backoff sleepers and abandoned invocations, then drain.
	cancel()
	_ = g.Wait()
	c.emitter.Close()

	return runErr
}

// done reports whether every task reached a terminal state.
func (c *Coordinator) done() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.terminal == len(c.wf.Tasks)
}

// stalled reports a control-loop invariant violation: non-terminal tasks
// remain but nothing is running, retrying, or dispatchable.
func (c *Coordinator) stalled() bool {
	c.mu.RLock()
	blocked := c.running == 0 && len(c.waiting) == 0
	c.mu.RUnlock()
	if !blocked {
		return false
	}
	return len(c.dispatchable()) == 0
}

// dispatchable returns ready tasks not sitting out a retry backoff, in the
// resolver's tie-break order.
func (c *Coordinator) dispatchable() []*models.Task {
	ready := c.graph.Ready()
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := ready[:0]
	for _, t := range ready {
		if !c.waiting[t.ID] {
			out = append(out, t)
		}
	}
	return out
}

// dispatch starts ready tasks while concurrency slots are available,
// honoring the priority/insertion tie-break.
func (c *Coordinator) dispatch(ctx context.Context, g *errgroup.Group) {
	c.mu.RLock()
	slots := c.cfg.MaxConcurrency - c.running
	c.mu.RUnlock()
	if slots <= 0 {
		return
	}

	for _, t := range c.dispatchable() {
		if slots <= 0 {
			return
		}
		c.start(ctx, g, t)
		slots--
	}
}

// start dispatches one task. Unknown agents are a configuration error: the
// task fails terminally without consuming a retry.
func (c *Coordinator) start(ctx context.Context, g *errgroup.Group, t *models.Task) {
	if _, err := c.registry.Lookup(t.AgentID); err != nil {
		c.logger.Warn("task references unregistered agent", "task", t.ID, "agent", t.AgentID)
		c.failTerminal(t, err, 0)
		return
	}

	now := time.Now()
	c.mu.Lock()
	t.Status = models.TaskStatusRunning
	if t.StartedAt == nil {
		t.StartedAt = &now
	}
	c.running++
	c.mu.Unlock()

	c.emitter.Emit(Event{
		Type:       EventTaskStarted,
		WorkflowID: c.wf.ID,
		TaskID:     t.ID,
		AgentID:    t.AgentID,
		Timestamp:  now,
	})
	c.logger.Info("task started", "task", t.ID, "agent", t.AgentID, "attempt", t.RetryCount+1)

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}

	inv := registry.Invocation{
		TaskID:   t.ID,
		TaskType: t.Type,
		Payload:  t.Payload,
		Bus:      c.bus,
	}
	taskID, agentID := t.ID, t.AgentID

	g.Go(func() error {
		started := time.Now()
		tctx, tcancel := context.WithTimeout(ctx, timeout)
		defer tcancel()

		// The worker runs in its own goroutine so a worker that never
		// returns cannot outlive its timeout from the coordinator's
		// point of view; its eventual result is discarded.
		resCh := make(chan invocationResult, 1)
		go func() {
			out, err := c.registry.Invoke(tctx, agentID, inv)
			resCh <- invocationResult{output: out, err: err}
		}()

		var comp completion
		select {
		case r := <-resCh:
			comp = completion{taskID: taskID, output: r.output, err: r.err, duration: time.Since(started)}
		case <-tctx.Done():
			comp = completion{taskID: taskID, err: tctx.Err(), duration: time.Since(started)}
		}

		select {
		case c.completions <- comp:
		case <-ctx.Done():
		}
		return nil
	})
}

// handleCompletion is the single entry point for worker outcomes.
func (c *Coordinator) handleCompletion(ctx context.Context, g *errgroup.Group, comp completion) {
	c.mu.Lock()
	t := c.graph.Task(comp.taskID)
	if t == nil || t.Status != models.TaskStatusRunning {
		// Stale completion from an abandoned invocation.
		c.mu.Unlock()
		return
	}
	c.running--
	c.mu.Unlock()

	if comp.err == nil {
		c.succeed(t, comp)
		return
	}
	c.failTransient(ctx, g, t, comp)
}

// succeed finalizes a successful task and readies its unblocked dependents.
func (c *Coordinator) succeed(t *models.Task, comp completion) {
	now := time.Now()
	c.mu.Lock()
	t.Status = models.TaskStatusSucceeded
	t.CompletedAt = &now
	c.terminal++
	attempts := c.attempts[t.ID]
	c.mu.Unlock()

	if err := c.store.Put(models.TaskResult{
		TaskID:        t.ID,
		Status:        models.TaskStatusSucceeded,
		Output:        comp.output,
		ExecutionTime: comp.duration,
		Attempts:      attempts,
	}); err != nil {
		c.logger.Error("store result", "task", t.ID, "error", err)
	}

	c.emitter.Emit(Event{
		Type:       EventTaskCompleted,
		WorkflowID: c.wf.ID,
		TaskID:     t.ID,
		AgentID:    t.AgentID,
		Timestamp:  now,
	})
	c.logger.Info("task succeeded", "task", t.ID, "duration", comp.duration)

	for _, id := range c.graph.MarkSucceeded(t.ID) {
		if dep := c.graph.Task(id); dep != nil {
			c.setReady(dep)
		}
	}
}

// failTransient applies retry policy to a failed or timed-out invocation.
func (c *Coordinator) failTransient(ctx context.Context, g *errgroup.Group, t *models.Task, comp completion) {
	now := time.Now()

	c.mu.Lock()
	c.attempts[t.ID] = append(c.attempts[t.ID], models.AttemptError{
		Attempt: t.RetryCount + 1,
		Error:   comp.err.Error(),
		At:      now,
	})
	canRetry := t.RetryCount < t.MaxRetries
	if canRetry {
		t.RetryCount++
		t.Status = models.TaskStatusPending
		c.waiting[t.ID] = true
	}
	attempts := c.attempts[t.ID]
	attempt := t.RetryCount
	c.mu.Unlock()

	if !canRetry {
		c.failTerminal(t, comp.err, comp.duration)
		return
	}

	// Interim record; overwritten by the terminal write later.
	if err := c.store.Put(models.TaskResult{
		TaskID:        t.ID,
		Status:        models.TaskStatusPending,
		Error:         comp.err.Error(),
		ExecutionTime: comp.duration,
		Attempts:      attempts,
	}); err != nil {
		c.logger.Error("store interim result", "task", t.ID, "error", err)
	}

	delay := c.nextBackoff(t.ID)
	c.emitter.Emit(Event{
		Type:       EventTaskRetried,
		WorkflowID: c.wf.ID,
		TaskID:     t.ID,
		AgentID:    t.AgentID,
		Attempt:    attempt,
		Error:      comp.err,
		Message:    fmt.Sprintf("retry %d/%d in %s", attempt, t.MaxRetries, delay),
		Timestamp:  now,
	})
	c.logger.Warn("task failed, retrying", "task", t.ID, "attempt", attempt, "max_retries", t.MaxRetries, "delay", delay, "error", comp.err)

	taskID := t.ID
	g.Go(func() error {
		select {
		case <-time.After(delay):
			select {
			case c.requeue <- taskID:
			case <-ctx.Done():
			}
		case <-ctx.Done():
		}
		return nil
	})
}

// handleRequeue returns a task to the ready set once its backoff elapsed.
func (c *Coordinator) handleRequeue(taskID string) {
	c.mu.Lock()
	t := c.graph.Task(taskID)
	if t == nil || !c.waiting[taskID] {
		c.mu.Unlock()
		return
	}
	delete(c.waiting, taskID)
	if !t.Status.Terminal() {
		t.Status = models.TaskStatusReady
	}
	c.mu.Unlock()
}

// nextBackoff returns the next retry delay for a task, creating its backoff
// policy on first failure.
func (c *Coordinator) nextBackoff(taskID string) time.Duration {
	c.mu.Lock()
	bo, ok := c.backoffs[taskID]
	if !ok {
		bo = c.cfg.Backoff.newBackoff()
		c.backoffs[taskID] = bo
	}
	c.mu.Unlock()

	d := bo.NextBackOff()
	if d == backoff.Stop {
		d = c.cfg.Backoff.MaxInterval
	}
	return d
}

// failTerminal marks a task failed for good, records its result, and settles
// everything downstream of it.
func (c *Coordinator) failTerminal(t *models.Task, cause error, duration time.Duration) {
	now := time.Now()
	c.mu.Lock()
	t.Status = models.TaskStatusFailed
	t.Error = cause.Error()
	t.CompletedAt = &now
	c.terminal++
	delete(c.waiting, t.ID)
	attempts := c.attempts[t.ID]
	c.mu.Unlock()

	if err := c.store.Put(models.TaskResult{
		TaskID:        t.ID,
		Status:        models.TaskStatusFailed,
		Error:         cause.Error(),
		ExecutionTime: duration,
		Attempts:      attempts,
	}); err != nil {
		c.logger.Error("store result", "task", t.ID, "error", err)
	}

	c.emitter.Emit(Event{
		Type:       EventTaskFailed,
		WorkflowID: c.wf.ID,
		TaskID:     t.ID,
		AgentID:    t.AgentID,
		Error:      cause,
		Timestamp:  now,
	})
	c.logger.Error("task failed terminally", "task", t.ID, "retries", t.RetryCount, "error", cause)

	c.settleDownstream(t.ID)
}

// settleDownstream walks the dependents of a terminally failed task and
// settles each per the downstream policy. Both policies make dependents
// terminal, so the walk guarantees the control loop terminates.
func (c *Coordinator) settleDownstream(failedID string) {
	type pending struct {
		id       string
		upstream string
	}

	queue := make([]pending, 0, 4)
	for _, id := range c.graph.Dependents(failedID) {
		queue = append(queue, pending{id: id, upstream: failedID})
	}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		t := c.graph.Task(next.id)
		if t == nil {
			continue
		}

		now := time.Now()
		reason := fmt.Sprintf("dependency %s failed", next.upstream)

		c.mu.Lock()
		if t.Status.Terminal() || t.Status == models.TaskStatusRunning {
			c.mu.Unlock()
			continue
		}
		status := models.TaskStatusSkipped
		if c.cfg.Downstream == PolicyFail {
			status = models.TaskStatusFailed
		}
		t.Status = status
		t.Error = reason
		t.CompletedAt = &now
		c.terminal++
		delete(c.waiting, t.ID)
		c.mu.Unlock()

		if err := c.store.Put(models.TaskResult{
			TaskID: t.ID,
			Status: status,
			Error:  reason,
		}); err != nil {
			c.logger.Error("store result", "task", t.ID, "error", err)
		}

		eventType := EventTaskSkipped
		if status == models.TaskStatusFailed {
			eventType = EventTaskFailed
		}
		c.emitter.Emit(Event{
			Type:       eventType,
			WorkflowID: c.wf.ID,
			TaskID:     t.ID,
			AgentID:    t.AgentID,
			Message:    reason,
			Timestamp:  now,
		})
		c.logger.Info("downstream task settled", "task", t.ID, "status", status, "upstream", next.upstream)

		for _, id := range c.graph.Dependents(t.ID) {
			queue = append(queue, pending{id: id, upstream: t.ID})
		}
	}
}

// setReady transitions an unblocked task to ready and announces it.
func (c *Coordinator) setReady(t *models.Task) {
	c.mu.Lock()
	if t.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	t.Status = models.TaskStatusReady
	c.mu.Unlock()

	c.emitter.Emit(Event{
		Type:       EventTaskQueued,
		WorkflowID: c.wf.ID,
		TaskID:     t.ID,
		AgentID:    t.AgentID,
		Timestamp:  time.Now(),
	})
}

// abort settles every non-terminal task after workflow cancellation.
// In-flight tasks are abandoned; nothing is retried.
func (c *Coordinator) abort() {
	now := time.Now()
	const reason = "workflow cancelled"

	var settled []*models.Task
	c.mu.Lock()
	for _, t := range c.wf.Tasks {
		if t.Status.Terminal() {
			continue
		}
		if t.Status == models.TaskStatusRunning {
			t.Status = models.TaskStatusFailed
		} else {
			t.Status = models.TaskStatusSkipped
		}
		t.Error = reason
		t.CompletedAt = &now
		c.terminal++
		settled = append(settled, t)
	}
	c.waiting = make(map[string]bool)
	c.mu.Unlock()

	for _, t := range settled {
		if err := c.store.Put(models.TaskResult{TaskID: t.ID, Status: t.Status, Error: reason}); err != nil {
			c.logger.Error("store result", "task", t.ID, "error", err)
		}
	}
	c.logger.Warn("workflow cancelled", "abandoned", len(settled))
}

// finalize stamps the workflow's terminal status exactly once.
func (c *Coordinator) finalize(runErr error) {
	now := time.Now()

	c.mu.Lock()
	status := models.WorkflowStatusCompleted
	for _, t := range c.wf.Tasks {
		if t.Status != models.TaskStatusSucceeded {
			status = models.WorkflowStatusFailed
			break
		}
	}
	c.wf.Status = status
	c.wf.CompletedAt = &now
	if runErr != nil {
		c.wf.ErrorMessage = runErr.Error()
	} else if status == models.WorkflowStatusFailed {
		c.wf.ErrorMessage = "one or more tasks failed"
	}
	c.mu.Unlock()

	c.emitter.Emit(Event{
		Type:       workflowEventType(status),
		WorkflowID: c.wf.ID,
		Message:    string(status),
		Timestamp:  now,
	})
	c.logger.Info("workflow finalized", "status", status)
}
