package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/stepflow/internal/model"
)

// JSONPrinter prints execution information in JSON format. Events are printed
// as JSON lines so they can be streamed.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// taskOutput represents a finished task.
type taskOutput struct {
	ID      string              `json:"id"`
	GoalID  string              `json:"goal_id,omitempty"`
	State   model.TaskState     `json:"state"`
	Results []*model.StepResult `json:"results"`
	Vars    map[string]any      `json:"variables,omitempty"`
}

// listItem represents a checkpoint in the list output (subset of fields).
type listItem struct {
	TaskID    string                `json:"task_id"`
	GoalID    string                `json:"goal_id,omitempty"`
	State     model.CheckpointState `json:"state"`
	Total     int                   `json:"total"`
	Completed int                   `json:"completed"`
	Failed    int                   `json:"failed"`
	Skipped   int                   `json:"skipped"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// goalItem represents a goal in the list output (subset of fields).
type goalItem struct {
	ID        string          `json:"id"`
	State     model.TaskState `json:"state"`
	Attempts  int             `json:"attempts"`
	Gaps      int             `json:"gaps"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type listOutput struct {
	Tasks []listItem `json:"tasks"`
	Goals []goalItem `json:"goals,omitempty"`
}

type statusOutput struct {
	Checkpoint *model.Checkpoint `json:"checkpoint,omitempty"`
	Goal       *model.Goal       `json:"goal,omitempty"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintEvent prints an event as a single JSON line.
func (j *JSONPrinter) PrintEvent(ev model.Event) error {
	ev.Timestamp = ev.Timestamp.UTC()
	return json.NewEncoder(j.writer).Encode(ev)
}

// PrintTask prints a task with all its step results.
func (j *JSONPrinter) PrintTask(task *model.Task) error {
	return j.encode(taskOutput{
		ID:      task.ID,
		GoalID:  task.GoalID,
		State:   task.State,
		Results: task.Results,
		Vars:    task.Variables,
	})
}

// PrintGoal prints a goal.
func (j *JSONPrinter) PrintGoal(g *model.Goal) error {
	return j.encode(g)
}

// PrintPlan prints an execution plan.
func (j *JSONPrinter) PrintPlan(p *model.ExecutionPlan) error {
	return j.encode(p)
}

// PrintList prints checkpoints and goals with a subset of fields.
func (j *JSONPrinter) PrintList(cps []model.Checkpoint, goals []model.Goal) error {
	out := listOutput{Tasks: make([]listItem, len(cps))}
	for i, cp := range cps {
		out.Tasks[i] = listItem{
			TaskID:    cp.TaskID,
			GoalID:    cp.GoalID,
			State:     cp.State,
			Total:     cp.Progress.Total,
			Completed: len(cp.Progress.CompletedSteps),
			Failed:    len(cp.Progress.FailedSteps),
			Skipped:   len(cp.Progress.SkippedSteps),
			UpdatedAt: cp.UpdatedAt.UTC(),
		}
	}
	for _, g := range goals {
		out.Goals = append(out.Goals, goalItem{
			ID:        g.ID,
			State:     g.State,
			Attempts:  g.Attempts,
			Gaps:      len(g.Gaps),
			UpdatedAt: g.UpdatedAt.UTC(),
		})
	}

	return j.encode(out)
}

// PrintStatus prints the full checkpoint and goal records.
func (j *JSONPrinter) PrintStatus(cp *model.Checkpoint, g *model.Goal) error {
	return j.encode(statusOutput{Checkpoint: cp, Goal: g})
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
