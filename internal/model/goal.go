package model

import "time"

// CriterionType is the type of a goal success criterion.
type CriterionType string

const (
	CriterionFileExists            CriterionType = "file_exists"
	CriterionFileNotExists         CriterionType = "file_not_exists"
	CriterionFileContains          CriterionType = "file_contains"
	CriterionDirectoryExists       CriterionType = "directory_exists"
	CriterionCommandSucceeds       CriterionType = "command_succeeds"
	CriterionCommandOutputContains CriterionType = "command_output_contains"
	CriterionVariableEquals        CriterionType = "variable_equals"
)

// Criterion is a typed success predicate of a goal.
type Criterion struct {
	Type        CriterionType `json:"type"`
	Path        string        `json:"path,omitempty"`
	Content     string        `json:"content,omitempty"`
	Command     string        `json:"command,omitempty"`
	Variable    string        `json:"variable,omitempty"`
	Value       any           `json:"value,omitempty"`
	Description string        `json:"description,omitempty"`
}

// Gap is an unmet criterion with the step that could fix it.
type Gap struct {
	Criterion       Criterion `json:"criterion"`
	Reason          string    `json:"reason"`
	SuggestedAction *Step     `json:"suggestedAction,omitempty"`
}

// DefaultGoalMaxAttempts is used when a goal doesn't set the max attempts.
const DefaultGoalMaxAttempts = 3

// Goal is a task wrapped with an intent and the criteria that define its success.
type Goal struct {
	ID              string      `json:"goalId"`
	Description     string      `json:"description"`
	SuccessCriteria []Criterion `json:"successCriteria"`
	Plan            []Step      `json:"plan"`
	Options         TaskOptions `json:"options,omitempty"`
	Gaps            []Gap       `json:"gaps,omitempty"`
	MaxAttempts     int         `json:"maxAttempts,omitempty"`
	AutoAdjust      *bool       `json:"autoAdjust,omitempty"`
	State           TaskState   `json:"state,omitempty"`
	Attempts        int         `json:"attempts,omitempty"`
	TaskIDs         []string    `json:"taskIds,omitempty"`
	CreatedAt       time.Time   `json:"createdAt,omitzero"`
	UpdatedAt       time.Time   `json:"updatedAt,omitzero"`
	CompletedAt     *time.Time  `json:"completedAt,omitempty"`
}

// ShouldAutoAdjust returns the auto adjust option, defaults to true.
func (g Goal) ShouldAutoAdjust() bool {
	return g.AutoAdjust == nil || *g.AutoAdjust
}

// AttemptsLimit returns the max attempts, defaulted.
func (g Goal) AttemptsLimit() int {
	if g.MaxAttempts <= 0 {
		return DefaultGoalMaxAttempts
	}
	return g.MaxAttempts
}
