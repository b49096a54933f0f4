package model

import "time"

// EventType is the type of an execution event.
type EventType string

const (
	EventStepResult    EventType = "step_result"
	EventBatchComplete EventType = "batch_complete"
	EventGoalAttempt   EventType = "goal_attempt"
	EventGoalComplete  EventType = "goal_complete"
)

// Event is an execution progress notification streamed to the submitter.
type Event struct {
	Type       EventType  `json:"type"`
	TaskID     string     `json:"taskId,omitempty"`
	GoalID     string     `json:"goalId,omitempty"`
	StepIndex  int        `json:"stepIndex"`
	StepID     string     `json:"stepId,omitempty"`
	Tool       string     `json:"tool,omitempty"`
	Status     StepStatus `json:"status,omitempty"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
	ErrorType  ErrorType  `json:"errorType,omitempty"`
	Suggestion string     `json:"suggestion,omitempty"`
	State      TaskState  `json:"state,omitempty"`
	Attempt    int        `json:"attempt,omitempty"`
	Gaps       []Gap      `json:"gaps,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}
