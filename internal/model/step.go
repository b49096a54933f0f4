package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Step is one declared unit of work of a task.
type Step struct {
	ID         string         `json:"id,omitempty"`
	Tool       string         `json:"tool"`
	Params     any            `json:"params,omitempty"`
	DependsOn  []StepRef      `json:"dependsOn,omitempty"`
	SaveAs     string         `json:"saveAs,omitempty"`
	When       *Condition     `json:"when,omitempty"`
	Parallel   bool           `json:"parallel,omitempty"`
	Foreach    any            `json:"foreach,omitempty"`
	ItemVar    string         `json:"itemVar,omitempty"`
	Required   *bool          `json:"required,omitempty"`
	MaxRetries int            `json:"maxRetries,omitempty"`
	Timeout    string         `json:"timeout,omitempty"`
	Confirm    bool           `json:"confirm,omitempty"`
	Verify     bool           `json:"verify,omitempty"`
	Scope      map[string]any `json:"scope,omitempty"`
}

// IsRequired returns if the step failure should be considered a task failure, defaults to true.
func (s Step) IsRequired() bool {
	return s.Required == nil || *s.Required
}

// StepTimeout returns the step timeout, zero means no timeout.
func (s Step) StepTimeout() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid step timeout %q: %w", s.Timeout, ErrNotValid)
	}

	return d, nil
}

// StepRef references another step by its index, id or saveAs name.
type StepRef struct {
	Index *int
	Name  string
}

// IndexRef returns a reference to a step by index.
func IndexRef(i int) StepRef { return StepRef{Index: &i} }

// NameRef returns a reference to a step by id or saveAs name.
func NameRef(name string) StepRef { return StepRef{Name: name} }

func (r StepRef) String() string {
	if r.Index != nil {
		return fmt.Sprintf("%d", *r.Index)
	}
	return r.Name
}

func (r StepRef) MarshalJSON() ([]byte, error) {
	if r.Index != nil {
		return json.Marshal(*r.Index)
	}
	return json.Marshal(r.Name)
}

func (r *StepRef) UnmarshalJSON(data []byte) error {
	var i int
	if err := json.Unmarshal(data, &i); err == nil {
		r.Index = &i
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("step reference must be an index or a name: %w", ErrNotValid)
	}
	r.Name = s

	return nil
}

// Condition shorthands.
const (
	ConditionSuccess = "success"
	ConditionFailure = "failure"
	ConditionAlways  = "always"
)

// Condition is the `when` of a step. It can be a string shorthand or a structured
// check against a named variable.
type Condition struct {
	Shorthand string `json:"-"`

	Variable string `json:"variable,omitempty"`
	Exists   *bool  `json:"exists,omitempty"`
	Equals   any    `json:"equals,omitempty"`
	Success  *bool  `json:"success,omitempty"`
	Contains any    `json:"contains,omitempty"`
	Regex    string `json:"regex,omitempty"`
	Not      bool   `json:"not,omitempty"`
}

type conditionJSON Condition

func (c Condition) MarshalJSON() ([]byte, error) {
	if c.Shorthand != "" {
		return json.Marshal(c.Shorthand)
	}
	return json.Marshal(conditionJSON(c))
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Condition{Shorthand: s}
		return nil
	}

	var cj conditionJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return fmt.Errorf("invalid condition: %w", err)
	}
	*c = Condition(cj)

	return nil
}
