// Package coordinator implements the workflow control loop: it maintains
// per-task state, dispatches ready tasks to workers under a concurrency
// bound, applies retry and timeout policy, and derives the final workflow
// status.
package coordinator

import (
	"time"

	"github.com/conductor-go/conductor/pkg/models"
)

// EventType represents the type of coordinator event.
type EventType string

const (
	// EventTaskQueued indicates a task became ready for dispatch.
	EventTaskQueued EventType = "task_queued"
	// EventTaskStarted indicates a task was dispatched to its worker.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task succeeded.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskRetried indicates a transient failure scheduled for retry.
	EventTaskRetried EventType = "task_retried"
	// EventTaskFailed indicates a task failed terminally.
	EventTaskFailed EventType = "task_failed"
	// EventTaskSkipped indicates a task was skipped because a dependency failed.
	EventTaskSkipped EventType = "task_skipped"
	// EventWorkflowCompleted indicates every task succeeded.
	EventWorkflowCompleted EventType = "workflow_completed"
	// EventWorkflowFailed indicates the workflow finalized with failures.
	EventWorkflowFailed EventType = "workflow_failed"
)

// Event is a structured notification emitted by the coordinator. Events are a
// write-only side effect: the coordinator never depends on their consumption.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// WorkflowID is the ID of the workflow the event belongs to.
	WorkflowID string
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// AgentID is the agent assigned to the related task, if applicable.
	AgentID string
	// Attempt is the attempt number for retry events.
	Attempt int
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// workflowEventType maps a final workflow status to its event type.
func workflowEventType(status models.WorkflowStatus) EventType {
	if status == models.WorkflowStatusCompleted {
		return EventWorkflowCompleted
	}
	return EventWorkflowFailed
}
