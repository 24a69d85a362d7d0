package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting on dependencies.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates all dependencies are resolved and the task can be dispatched.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusRunning indicates the task is being executed by a worker.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusSucceeded indicates the task completed successfully.
	TaskStatusSucceeded TaskStatus = "succeeded"
	// TaskStatusFailed indicates the task failed and its retries are exhausted.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusSkipped indicates the task was not run because an upstream dependency failed.
	TaskStatusSkipped TaskStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusRunning,
		TaskStatusSucceeded, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions can occur from this status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Task represents a unit of work in a workflow.
type Task struct {
	// ID is the unique identifier for this task within its workflow.
	ID string `json:"id"`
	// Type is an opaque string interpreted by the worker that executes the task.
	Type string `json:"type"`
	// AgentID selects the worker that executes this task.
	AgentID string `json:"agent_id"`
	// Payload is opaque structured data handed to the worker.
	Payload map[string]any `json:"payload,omitempty"`
	// DependsOn lists task IDs that must succeed before this task runs.
	DependsOn []string `json:"depends_on,omitempty"`
	// Priority orders simultaneously-ready tasks; higher dispatches first.
	Priority int `json:"priority,omitempty"`
	// Timeout is the duration after which an in-flight invocation is forcibly failed.
	Timeout time.Duration `json:"timeout,omitempty"`
	// MaxRetries is the number of times a transient failure is retried.
	MaxRetries int `json:"max_retries,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// RetryCount is the number of retries consumed so far. Never exceeds MaxRetries.
	RetryCount int `json:"retry_count,omitempty"`
	// Error contains the error message if the task failed or was skipped.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the task was first dispatched, if it ever ran.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
