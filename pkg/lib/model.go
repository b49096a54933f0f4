package lib

import (
	"errors"
	"time"

	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/tool/safety"
)

// Step is one declared unit of work of a task.
type Step = model.Step

// StepRef references a step by its index or by its id or saveAs name.
type StepRef = model.StepRef

// Condition gates the execution of a step.
type Condition = model.Condition

// Criterion is a typed success predicate of a goal.
type Criterion = model.Criterion

// TaskOptions are the execution options of a task.
type TaskOptions = model.TaskOptions

// Policy is the safety policy checked before every tool call.
type Policy = safety.Policy

// Event is an execution progress notification.
type Event = model.Event

// Gap is an unmet goal criterion with the step that could fix it.
type Gap = model.Gap

// IndexRef references a step by its index.
func IndexRef(i int) StepRef { return model.IndexRef(i) }

// NameRef references a step by its id or saveAs name.
func NameRef(name string) StepRef { return model.NameRef(name) }

// DefaultPolicy returns the policy used when [Config].Policy is not set.
func DefaultPolicy() Policy { return safety.DefaultPolicy() }

// Event types.
const (
	EventStepResult    = model.EventStepResult
	EventBatchComplete = model.EventBatchComplete
	EventGoalAttempt   = model.EventGoalAttempt
	EventGoalComplete  = model.EventGoalComplete
)

// TaskState is the state of a task.
type TaskState string

const (
	TaskStatePending  TaskState = "PENDING"
	TaskStateRunning  TaskState = "RUNNING"
	TaskStateSuccess  TaskState = "SUCCESS"
	TaskStateFailed   TaskState = "FAILED"
	TaskStateRetrying TaskState = "RETRYING"
	TaskStatePaused   TaskState = "PAUSED"
	// TaskStateNeedUser is set when a gated step waits for an approval, the task
	// can be resumed.
	TaskStateNeedUser TaskState = "NEED_USER"
)

// CheckpointState is the persisted state of a task checkpoint.
type CheckpointState string

const (
	CheckpointStateCreated   CheckpointState = "CREATED"
	CheckpointStateRunning   CheckpointState = "RUNNING"
	CheckpointStatePaused    CheckpointState = "PAUSED"
	CheckpointStateCompleted CheckpointState = "COMPLETED"
	CheckpointStateFailed    CheckpointState = "FAILED"
	CheckpointStateResuming  CheckpointState = "RESUMING"
)

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
	StepStatusNotRun  StepStatus = "not_run"
)

// TaskSpec is an ad-hoc batch of steps to run.
type TaskSpec struct {
	// ID identifies the task, a ULID is generated when empty. Running a
	// checkpointed ID with the same plan resumes it.
	ID        string
	Steps     []Step
	Variables map[string]any
	Options   TaskOptions
}

// GoalSpec is a plan wrapped with the criteria that define its success.
type GoalSpec struct {
	// ID identifies the goal, a ULID is generated when empty.
	ID          string
	Description string
	Criteria    []Criterion
	Plan        []Step
	// MaxAttempts defaults to 3.
	MaxAttempts int
	// AutoAdjust appends the gap remediations to the plan between attempts, defaults to true.
	AutoAdjust *bool
	Options    TaskOptions
}

// StepResult is the outcome of a plan node.
type StepResult struct {
	Index      int
	StepID     string
	Tool       string
	Status     StepStatus
	Result     any
	Error      string
	ErrorType  string
	Suggestion string
	Reason     string
	Attempts   int
	// Healed is true when an auto-heal strategy fixed the step.
	Healed bool
	// Replayed is true when the result was restored from the checkpoint.
	Replayed   bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Task is the outcome of a task execution.
type Task struct {
	ID     string
	GoalID string
	State  TaskState
	// Results are aligned with the plan nodes, nil for the nodes that never ran.
	Results   []*StepResult
	Variables map[string]any
	CreatedAt time.Time
}

// Checkpoint is the summary of a persisted task.
type Checkpoint struct {
	TaskID       string
	GoalID       string
	State        CheckpointState
	TaskState    TaskState
	Total        int
	Completed    int
	Failed       int
	Skipped      int
	PendingSteps []int
	Errors       []string
	ResumeCount  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// Goal is the state of a goal.
type Goal struct {
	ID          string
	Description string
	State       TaskState
	Attempts    int
	MaxAttempts int
	TaskIDs     []string
	Gaps        []Gap
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// GoalResult is the outcome of a goal execution.
type GoalResult struct {
	Goal    Goal
	Success bool
	// Tasks are the attempts, in order.
	Tasks []*Task
}

// Plan is the level structure of a step list.
type Plan struct {
	// Levels are the node ids of every level, the nodes of a level run concurrently.
	Levels      [][]string
	Fingerprint string
}

// Status is the state of a task or a goal.
type Status struct {
	// Checkpoint is set when the id is a task.
	Checkpoint *Checkpoint
	// Goal is set when the id is a goal or the task belongs to one.
	Goal *Goal
}

// ConfirmRequest is the information of a gated step waiting for an approval.
type ConfirmRequest struct {
	TaskID string
	StepID string
	Tool   string
	Params any
}

var (
	// ErrNotFound is returned when a task or goal does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a goal ID is taken or a task ID is
	// checkpointed with a different plan.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned on invalid documents, specs and operations.
	ErrNotValid = errors.New("not valid")
	// ErrNeedUser is returned when a task waits for the approval of a gated step.
	ErrNeedUser = errors.New("user confirmation required")
)

// --- Conversion helpers ---

func fromInternalStepResult(r *model.StepResult) *StepResult {
	if r == nil {
		return nil
	}
	return &StepResult{
		Index:      r.Index,
		StepID:     r.StepID,
		Tool:       r.Tool,
		Status:     StepStatus(r.Status),
		Result:     r.Result,
		Error:      r.Error,
		ErrorType:  string(r.ErrorType),
		Suggestion: r.Suggestion,
		Reason:     r.Reason,
		Attempts:   r.Attempts,
		Healed:     r.Healed,
		Replayed:   r.Replayed,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

func fromInternalTask(t *model.Task) *Task {
	if t == nil {
		return nil
	}
	results := make([]*StepResult, len(t.Results))
	for i, r := range t.Results {
		results[i] = fromInternalStepResult(r)
	}
	return &Task{
		ID:        t.ID,
		GoalID:    t.GoalID,
		State:     TaskState(t.State),
		Results:   results,
		Variables: t.Variables,
		CreatedAt: t.CreatedAt,
	}
}

func fromInternalCheckpoint(cp *model.Checkpoint) *Checkpoint {
	if cp == nil {
		return nil
	}
	errs := make([]string, 0, len(cp.Errors))
	for _, e := range cp.Errors {
		errs = append(errs, e.Message)
	}
	return &Checkpoint{
		TaskID:       cp.TaskID,
		GoalID:       cp.GoalID,
		State:        CheckpointState(cp.State),
		TaskState:    TaskState(cp.TaskState),
		Total:        cp.Progress.Total,
		Completed:    len(cp.Progress.CompletedSteps),
		Failed:       len(cp.Progress.FailedSteps),
		Skipped:      len(cp.Progress.SkippedSteps),
		PendingSteps: cp.PendingSteps(),
		Errors:       errs,
		ResumeCount:  len(cp.ResumeHistory),
		CreatedAt:    cp.CreatedAt,
		UpdatedAt:    cp.UpdatedAt,
		CompletedAt:  cp.CompletedAt,
	}
}

func fromInternalCheckpointList(cps []model.Checkpoint) []Checkpoint {
	result := make([]Checkpoint, len(cps))
	for i := range cps {
		result[i] = *fromInternalCheckpoint(&cps[i])
	}
	return result
}

func fromInternalGoal(g *model.Goal) *Goal {
	if g == nil {
		return nil
	}
	return &Goal{
		ID:          g.ID,
		Description: g.Description,
		State:       TaskState(g.State),
		Attempts:    g.Attempts,
		MaxAttempts: g.AttemptsLimit(),
		TaskIDs:     g.TaskIDs,
		Gaps:        g.Gaps,
		CreatedAt:   g.CreatedAt,
		CompletedAt: g.CompletedAt,
	}
}

func fromInternalGoalList(gs []model.Goal) []Goal {
	result := make([]Goal, len(gs))
	for i := range gs {
		result[i] = *fromInternalGoal(&gs[i])
	}
	return result
}

func fromInternalPlan(p *model.ExecutionPlan) *Plan {
	return &Plan{
		Levels:      p.Levels,
		Fingerprint: p.Fingerprint,
	}
}

func toInternalTask(s TaskSpec) *model.Task {
	return &model.Task{
		ID:        s.ID,
		Steps:     s.Steps,
		Variables: s.Variables,
		Options:   s.Options,
	}
}

func toInternalGoal(s GoalSpec) *model.Goal {
	return &model.Goal{
		ID:              s.ID,
		Description:     s.Description,
		SuccessCriteria: s.Criteria,
		Plan:            s.Plan,
		MaxAttempts:     s.MaxAttempts,
		AutoAdjust:      s.AutoAdjust,
		Options:         s.Options,
	}
}

func fromInternalGoalSpec(g *model.Goal) *GoalSpec {
	return &GoalSpec{
		ID:          g.ID,
		Description: g.Description,
		Criteria:    g.SuccessCriteria,
		Plan:        g.Plan,
		MaxAttempts: g.MaxAttempts,
		AutoAdjust:  g.AutoAdjust,
		Options:     g.Options,
	}
}

// --- Error mapping ---

func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		return joinErrors(err, ErrNotFound)
	case errors.Is(err, model.ErrAlreadyExists):
		return joinErrors(err, ErrAlreadyExists)
	case errors.Is(err, model.ErrNeedUser):
		return joinErrors(err, ErrNeedUser)
	case errors.Is(err, model.ErrNotValid), errors.Is(err, model.ErrCycle):
		return joinErrors(err, ErrNotValid)
	default:
		return err
	}
}

func joinErrors(original, sentinel error) error {
	return &mappedError{original: original, sentinel: sentinel}
}

type mappedError struct {
	original error
	sentinel error
}

func (e *mappedError) Error() string { return e.original.Error() }

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) Unwrap() error { return e.original }
