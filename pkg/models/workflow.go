package models

import "time"

// WorkflowStatus represents the aggregate state of a workflow.
type WorkflowStatus string

const (
	// WorkflowStatusPending indicates the workflow has been accepted but not started.
	WorkflowStatusPending WorkflowStatus = "pending"
	// WorkflowStatusRunning indicates the workflow is executing.
	WorkflowStatusRunning WorkflowStatus = "running"
	// WorkflowStatusCompleted indicates every task succeeded.
	WorkflowStatusCompleted WorkflowStatus = "completed"
	// WorkflowStatusFailed indicates at least one task failed terminally or the workflow was cancelled.
	WorkflowStatusFailed WorkflowStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusPending, WorkflowStatusRunning, WorkflowStatusCompleted, WorkflowStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the workflow has finalized.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed
}

// Workflow is an ordered collection of tasks plus aggregate run state.
// Task insertion order is used only as a dispatch tie-break.
type Workflow struct {
	// ID is the unique identifier for this workflow.
	ID string `json:"id"`
	// Name is an optional human-readable label.
	Name string `json:"name,omitempty"`
	// Tasks holds the workflow's tasks in insertion order.
	Tasks []*Task `json:"tasks"`
	// Status is the aggregate state of the workflow.
	Status WorkflowStatus `json:"status"`
	// ErrorMessage describes why the workflow failed, if it did.
	ErrorMessage string `json:"error_message,omitempty"`
	// CreatedAt is when the workflow was submitted.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when execution began.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the workflow finalized.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
