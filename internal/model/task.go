package model

import (
	"fmt"
	"time"
)

// TaskState represents the state of a task.
type TaskState string

const (
	TaskStatePending  TaskState = "PENDING"
	TaskStateRunning  TaskState = "RUNNING"
	TaskStateSuccess  TaskState = "SUCCESS"
	TaskStateFailed   TaskState = "FAILED"
	TaskStateRetrying TaskState = "RETRYING"
	TaskStatePaused   TaskState = "PAUSED"
	TaskStateNeedUser TaskState = "NEED_USER"
)

// IsTerminal returns true when the state can't transition anymore.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateSuccess || s == TaskStateFailed
}

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
	StepStatusNotRun  StepStatus = "not_run"
)

// StepResult is the recorded outcome of a step execution.
type StepResult struct {
	Index      int        `json:"index"`
	StepID     string     `json:"stepId"`
	Tool       string     `json:"tool"`
	Status     StepStatus `json:"status"`
	Success    bool       `json:"success"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	ErrorType  ErrorType  `json:"errorType,omitempty"`
	Suggestion string     `json:"suggestion,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Attempts   int        `json:"attempts,omitempty"`
	Healed     bool       `json:"healed,omitempty"`
	Replayed   bool       `json:"replayed,omitempty"`
	StartedAt  time.Time  `json:"startedAt,omitzero"`
	FinishedAt time.Time  `json:"finishedAt,omitzero"`
}

// Settled returns true when the step will not be executed again in this attempt.
func (r *StepResult) Settled() bool {
	return r != nil && r.Status != StepStatusNotRun
}

// TaskOptions are the execution options of a task.
type TaskOptions struct {
	StopOnError *bool  `json:"stopOnError,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
}

// ShouldStopOnError returns the stop on error option, defaults to true.
func (o TaskOptions) ShouldStopOnError() bool {
	return o.StopOnError == nil || *o.StopOnError
}

// TaskTimeout returns the task timeout, zero means no timeout.
func (o TaskOptions) TaskTimeout() (time.Duration, error) {
	if o.Timeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(o.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid task timeout %q: %w", o.Timeout, ErrNotValid)
	}

	return d, nil
}

// TaskSnapshot is an in-memory snapshot of a task taken after a plan level settles.
type TaskSnapshot struct {
	Level       int            `json:"level"`
	CurrentStep int            `json:"currentStep"`
	State       TaskState      `json:"state"`
	Variables   map[string]any `json:"variables"`
	TakenAt     time.Time      `json:"takenAt"`
}

// Task is one execution of a step list.
type Task struct {
	ID          string
	GoalID      string
	Steps       []Step
	Plan        *ExecutionPlan
	State       TaskState
	CurrentStep int
	// Results are aligned with the plan nodes.
	Results     []*StepResult
	Variables   map[string]any
	Checkpoints []TaskSnapshot
	Options     TaskOptions
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Failed returns the results that failed.
func (t *Task) Failed() []*StepResult {
	var failed []*StepResult
	for _, r := range t.Results {
		if r != nil && r.Status == StepStatusFailed {
			failed = append(failed, r)
		}
	}
	return failed
}
