package model

import (
	"sort"
	"time"
)

// CheckpointVersion is the current checkpoint record schema version.
const CheckpointVersion = 2

// CheckpointState is the lifecycle state of the recovery record.
type CheckpointState string

const (
	CheckpointStateCreated   CheckpointState = "CREATED"
	CheckpointStateRunning   CheckpointState = "RUNNING"
	CheckpointStatePaused    CheckpointState = "PAUSED"
	CheckpointStateCompleted CheckpointState = "COMPLETED"
	CheckpointStateFailed    CheckpointState = "FAILED"
	CheckpointStateResuming  CheckpointState = "RESUMING"
)

// IsTerminal returns true if the checkpoint record will not be updated anymore by an executor.
func (s CheckpointState) IsTerminal() bool {
	return s == CheckpointStateCompleted || s == CheckpointStateFailed
}

// CheckpointProgress tracks the disjoint sets of settled step indexes.
type CheckpointProgress struct {
	Total          int   `json:"total"`
	CompletedSteps []int `json:"completedSteps"`
	FailedSteps    []int `json:"failedSteps"`
	SkippedSteps   []int `json:"skippedSteps"`
}

// IdempotencyRecord is the record stored for an idempotency key.
type IdempotencyRecord struct {
	StepIndex int       `json:"stepIndex"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// ResumeEntry is an audit entry of a resume operation.
type ResumeEntry struct {
	Timestamp       time.Time       `json:"timestamp"`
	ResumedFromStep int             `json:"resumedFromStep"`
	PreviousState   CheckpointState `json:"previousState"`
}

// CheckpointError is a step failure recorded in a checkpoint.
type CheckpointError struct {
	StepIndex int       `json:"stepIndex"`
	Tool      string    `json:"tool"`
	Message   string    `json:"message"`
	ErrorType ErrorType `json:"errorType,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Checkpoint is the durable and self-sufficient snapshot of a task.
type Checkpoint struct {
	Version         int                          `json:"version"`
	TaskID          string                       `json:"taskId"`
	GoalID          string                       `json:"goalId,omitempty"`
	State           CheckpointState              `json:"state"`
	TaskState       TaskState                    `json:"taskState,omitempty"`
	Steps           []Step                       `json:"steps"`
	Plan            *ExecutionPlan               `json:"plan,omitempty"`
	Options         TaskOptions                  `json:"options"`
	CurrentStep     int                          `json:"currentStep"`
	Progress        CheckpointProgress           `json:"progress"`
	Results         map[int]*StepResult          `json:"results"`
	Context         map[string]any               `json:"context"`
	Errors          []CheckpointError            `json:"errors"`
	ResumeHistory   []ResumeEntry                `json:"resumeHistory"`
	IdempotencyKeys map[string]IdempotencyRecord `json:"idempotencyKeys"`
	CreatedAt       time.Time                    `json:"createdAt"`
	UpdatedAt       time.Time                    `json:"updatedAt"`
	CompletedAt     *time.Time                   `json:"completedAt,omitempty"`
}

// Normalize defaults the missing collection fields of a loaded record, old or
// partial records must be usable by newer versions.
func (c *Checkpoint) Normalize() {
	if c.Results == nil {
		c.Results = map[int]*StepResult{}
	}
	if c.Context == nil {
		c.Context = map[string]any{}
	}
	if c.Errors == nil {
		c.Errors = []CheckpointError{}
	}
	if c.ResumeHistory == nil {
		c.ResumeHistory = []ResumeEntry{}
	}
	if c.IdempotencyKeys == nil {
		c.IdempotencyKeys = map[string]IdempotencyRecord{}
	}
	if c.Progress.CompletedSteps == nil {
		c.Progress.CompletedSteps = []int{}
	}
	if c.Progress.FailedSteps == nil {
		c.Progress.FailedSteps = []int{}
	}
	if c.Progress.SkippedSteps == nil {
		c.Progress.SkippedSteps = []int{}
	}
	if c.State == "" {
		c.State = CheckpointStateCreated
	}
	if c.Progress.Total == 0 {
		switch {
		case c.Plan != nil:
			c.Progress.Total = len(c.Plan.Nodes)
		default:
			c.Progress.Total = len(c.Steps)
		}
	}
	if c.Version == 0 {
		c.Version = CheckpointVersion
	}
}

// MarkStep moves a step index into the progress set of the status, keeping the sets disjoint.
func (c *Checkpoint) MarkStep(idx int, status StepStatus) {
	c.Progress.CompletedSteps = removeIndex(c.Progress.CompletedSteps, idx)
	c.Progress.FailedSteps = removeIndex(c.Progress.FailedSteps, idx)
	c.Progress.SkippedSteps = removeIndex(c.Progress.SkippedSteps, idx)

	switch status {
	case StepStatusSuccess:
		c.Progress.CompletedSteps = insertIndex(c.Progress.CompletedSteps, idx)
	case StepStatusFailed:
		c.Progress.FailedSteps = insertIndex(c.Progress.FailedSteps, idx)
	case StepStatusSkipped:
		c.Progress.SkippedSteps = insertIndex(c.Progress.SkippedSteps, idx)
	}
}

// PendingSteps returns all the step indexes that are not completed or skipped.
func (c *Checkpoint) PendingSteps() []int {
	done := map[int]bool{}
	for _, i := range c.Progress.CompletedSteps {
		done[i] = true
	}
	for _, i := range c.Progress.SkippedSteps {
		done[i] = true
	}

	pending := []int{}
	for i := 0; i < c.Progress.Total; i++ {
		if !done[i] {
			pending = append(pending, i)
		}
	}

	return pending
}

func removeIndex(s []int, idx int) []int {
	out := s[:0]
	for _, v := range s {
		if v != idx {
			out = append(out, v)
		}
	}
	return out
}

func insertIndex(s []int, idx int) []int {
	s = append(s, idx)
	sort.Ints(s)
	return s
}
