package coordinator

import (
	"time"

	"github.com/conductor-go/conductor/pkg/models"
)

// TaskSnapshot is a point-in-time view of one task.
type TaskSnapshot struct {
	// ID is the task's identifier.
	ID string `json:"id"`
	// AgentID is the agent assigned to the task.
	AgentID string `json:"agent_id"`
	// Status is the task's status at snapshot time.
	Status models.TaskStatus `json:"status"`
	// RetryCount is the number of retries consumed.
	RetryCount int `json:"retry_count"`
	// Error is the task's failure message, if any.
	Error string `json:"error,omitempty"`
	// Result is the stored result record, if one exists yet.
	Result *models.TaskResult `json:"result,omitempty"`
	// StartedAt is when the task was first dispatched.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Snapshot is a point-in-time view of a workflow, safe to take while the
// coordinator is running. Snapshots of a finalized workflow are identical
// across repeated calls.
type Snapshot struct {
	// WorkflowID identifies the workflow.
	WorkflowID string `json:"workflow_id"`
	// Name is the workflow's label, if any.
	Name string `json:"name,omitempty"`
	// Status is the aggregate workflow status.
	Status models.WorkflowStatus `json:"status"`
	// Progress is the fraction of terminal tasks, 0-100.
	Progress float64 `json:"progress"`
	// TaskCounts tallies tasks by status.
	TaskCounts map[models.TaskStatus]int `json:"task_counts"`
	// Tasks holds per-task snapshots in insertion order.
	Tasks []TaskSnapshot `json:"tasks"`
	// ErrorMessage describes the workflow failure, if any.
	ErrorMessage string `json:"error_message,omitempty"`
	// CreatedAt is when the workflow was submitted.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when execution began.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the workflow finalized.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Status returns a snapshot of the workflow and its tasks, joined with the
// stored result records.
func (c *Coordinator) Status() Snapshot {
	results := make(map[string]models.TaskResult)
	if all, err := c.store.All(); err == nil {
		for _, res := range all {
			results[res.TaskID] = res
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		WorkflowID:   c.wf.ID,
		Name:         c.wf.Name,
		Status:       c.wf.Status,
		TaskCounts:   make(map[models.TaskStatus]int),
		Tasks:        make([]TaskSnapshot, 0, len(c.wf.Tasks)),
		ErrorMessage: c.wf.ErrorMessage,
		CreatedAt:    c.wf.CreatedAt,
		StartedAt:    c.wf.StartedAt,
		CompletedAt:  c.wf.CompletedAt,
	}

	terminal := 0
	for _, t := range c.wf.Tasks {
		snap.TaskCounts[t.Status]++
		if t.Status.Terminal() {
			terminal++
		}

		ts := TaskSnapshot{
			ID:          t.ID,
			AgentID:     t.AgentID,
			Status:      t.Status,
			RetryCount:  t.RetryCount,
			Error:       t.Error,
			StartedAt:   t.StartedAt,
			CompletedAt: t.CompletedAt,
		}
		if res, ok := results[t.ID]; ok {
			ts.Result = &res
		}
		snap.Tasks = append(snap.Tasks, ts)
	}

	if len(c.wf.Tasks) > 0 {
		snap.Progress = float64(terminal) / float64(len(c.wf.Tasks)) * 100
	}
	return snap
}
