package models

import "time"

// AttemptError records one failed invocation attempt for a task.
type AttemptError struct {
	// Attempt is the 1-indexed attempt number.
	Attempt int `json:"attempt"`
	// Error is the error message from that attempt.
	Error string `json:"error"`
	// At is when the attempt failed.
	At time.Time `json:"at"`
}

// TaskResult is the per-task result record kept in the result store.
// While the task is non-terminal the record carries interim state (the latest
// attempt error); once the task is terminal the record is final.
type TaskResult struct {
	// TaskID identifies the task this result belongs to.
	TaskID string `json:"task_id"`
	// Status is the task status at the time of the write. Writes after a
	// terminal status are rejected by the store.
	Status TaskStatus `json:"status"`
	// Output is the worker's output, present on success.
	Output any `json:"output,omitempty"`
	// Error is the failure message. Present iff the task failed or was skipped.
	Error string `json:"error,omitempty"`
	// ExecutionTime is the wall-clock duration of the final invocation.
	ExecutionTime time.Duration `json:"execution_time,omitempty"`
	// Attempts is the retry history: one entry per failed attempt.
	Attempts []AttemptError `json:"attempts,omitempty"`
}
