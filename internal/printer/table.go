package printer

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/slok/stepflow/internal/model"
)

// TablePrinter prints execution information in a human readable table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintEvent prints an execution event as a single progress line.
func (t *TablePrinter) PrintEvent(ev model.Event) error {
	switch ev.Type {
	case model.EventStepResult:
		line := fmt.Sprintf("[%d] %s (%s): %s", ev.StepIndex, ev.StepID, ev.Tool, ev.Status)
		if ev.Error != "" {
			line += ": " + ev.Error
		}
		fmt.Fprintln(t.writer, line)
		if ev.Suggestion != "" {
			fmt.Fprintf(t.writer, "    suggestion: %s\n", ev.Suggestion)
		}
	case model.EventBatchComplete:
		fmt.Fprintf(t.writer, "Task %s finished: %s\n", ev.TaskID, ev.State)
	case model.EventGoalAttempt:
		result := "not met"
		if ev.Success {
			result = "met"
		}
		fmt.Fprintf(t.writer, "Goal %s attempt %d: %s (%d gaps)\n", ev.GoalID, ev.Attempt, result, len(ev.Gaps))
		for _, g := range ev.Gaps {
			fmt.Fprintf(t.writer, "    gap: %s\n", g.Reason)
		}
	case model.EventGoalComplete:
		fmt.Fprintf(t.writer, "Goal %s finished: %s\n", ev.GoalID, ev.State)
	default:
		fmt.Fprintf(t.writer, "%s\n", ev.Type)
	}

	return nil
}

// PrintTask prints the step results of a task.
func (t *TablePrinter) PrintTask(task *model.Task) error {
	fmt.Fprintf(t.writer, "Task:       %s\n", task.ID)
	if task.GoalID != "" {
		fmt.Fprintf(t.writer, "Goal:       %s\n", task.GoalID)
	}
	fmt.Fprintf(t.writer, "State:      %s\n", task.State)

	if len(task.Results) == 0 {
		return nil
	}
	fmt.Fprintln(t.writer)

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "#\tSTEP\tTOOL\tSTATUS\tATTEMPTS\tDURATION\tDETAIL")
	for i, r := range task.Results {
		if r == nil {
			fmt.Fprintf(tw, "%d\t-\t-\tpending\t-\t-\t-\n", i)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.Index,
			r.StepID,
			r.Tool,
			resultStatus(r),
			r.Attempts,
			FormatDuration(r.StartedAt, r.FinishedAt),
			resultDetail(r),
		)
	}

	return nil
}

// PrintGoal prints the state of a goal.
func (t *TablePrinter) PrintGoal(g *model.Goal) error {
	fmt.Fprintf(t.writer, "Goal:       %s\n", g.ID)
	if g.Description != "" {
		fmt.Fprintf(t.writer, "Intent:     %s\n", g.Description)
	}
	fmt.Fprintf(t.writer, "State:      %s\n", g.State)
	fmt.Fprintf(t.writer, "Attempts:   %d/%d\n", g.Attempts, g.AttemptsLimit())
	if len(g.TaskIDs) > 0 {
		fmt.Fprintf(t.writer, "Tasks:      %s\n", strings.Join(g.TaskIDs, ", "))
	}
	if !g.CreatedAt.IsZero() {
		fmt.Fprintf(t.writer, "Created:    %s\n", FormatTimestamp(g.CreatedAt))
	}
	if g.CompletedAt != nil {
		fmt.Fprintf(t.writer, "Completed:  %s\n", FormatTimestamp(*g.CompletedAt))
	}

	if len(g.Gaps) > 0 {
		fmt.Fprintln(t.writer, "Gaps:")
		for _, gap := range g.Gaps {
			fmt.Fprintf(t.writer, "  - %s: %s\n", gap.Criterion.Type, gap.Reason)
		}
	}

	return nil
}

// PrintPlan prints an execution plan level by level.
func (t *TablePrinter) PrintPlan(p *model.ExecutionPlan) error {
	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "LEVEL\tNODE\tTOOL\tDEPENDS ON")
	for level, ids := range p.Levels {
		for _, id := range ids {
			n, ok := p.NodeByID(id)
			if !ok {
				continue
			}
			deps := "-"
			if len(n.DependsOn) > 0 {
				deps = strings.Join(n.DependsOn, ",")
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", level, n.ID, n.Step.Tool, deps)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(t.writer, "\nFingerprint: %s\n", p.Fingerprint)
	return nil
}

// PrintList prints checkpoints and goals in a table format.
func (t *TablePrinter) PrintList(cps []model.Checkpoint, goals []model.Goal) error {
	if len(cps) > 0 {
		tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TASK\tSTATE\tPROGRESS\tGOAL\tUPDATED")
		for _, cp := range cps {
			goal := cp.GoalID
			if goal == "" {
				goal = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", cp.TaskID, cp.State, progress(cp), goal, TimeAgo(cp.UpdatedAt))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(goals) > 0 {
		if len(cps) > 0 {
			fmt.Fprintln(t.writer)
		}
		tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "GOAL\tSTATE\tATTEMPTS\tGAPS\tUPDATED")
		for _, g := range goals {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", g.ID, g.State, g.Attempts, len(g.Gaps), TimeAgo(g.UpdatedAt))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	return nil
}

// PrintStatus prints the detailed status of a checkpoint and its goal.
func (t *TablePrinter) PrintStatus(cp *model.Checkpoint, g *model.Goal) error {
	if cp != nil {
		fmt.Fprintf(t.writer, "Task:       %s\n", cp.TaskID)
		fmt.Fprintf(t.writer, "State:      %s\n", cp.State)
		if cp.TaskState != "" {
			fmt.Fprintf(t.writer, "Result:     %s\n", cp.TaskState)
		}
		fmt.Fprintf(t.writer, "Progress:   %s\n", progress(*cp))
		if pending := cp.PendingSteps(); len(pending) > 0 && !cp.State.IsTerminal() {
			fmt.Fprintf(t.writer, "Pending:    %v\n", pending)
		}
		fmt.Fprintf(t.writer, "Created:    %s\n", FormatTimestamp(cp.CreatedAt))
		fmt.Fprintf(t.writer, "Updated:    %s\n", FormatTimestamp(cp.UpdatedAt))
		if cp.CompletedAt != nil {
			fmt.Fprintf(t.writer, "Completed:  %s\n", FormatTimestamp(*cp.CompletedAt))
		}
		if len(cp.ResumeHistory) > 0 {
			fmt.Fprintf(t.writer, "Resumed:    %d times\n", len(cp.ResumeHistory))
		}
		for _, e := range cp.Errors {
			fmt.Fprintf(t.writer, "Error:      [%d] %s: %s\n", e.StepIndex, e.Tool, e.Message)
		}
	}

	if g != nil {
		if cp != nil {
			fmt.Fprintln(t.writer)
		}
		return t.PrintGoal(g)
	}

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func progress(cp model.Checkpoint) string {
	return fmt.Sprintf("%d/%d (%d failed, %d skipped)",
		len(cp.Progress.CompletedSteps),
		cp.Progress.Total,
		len(cp.Progress.FailedSteps),
		len(cp.Progress.SkippedSteps),
	)
}

func resultStatus(r *model.StepResult) string {
	s := string(r.Status)
	switch {
	case r.Replayed:
		s += " (replayed)"
	case r.Healed:
		s += " (healed)"
	}
	return s
}

func resultDetail(r *model.StepResult) string {
	switch {
	case r.Error != "":
		return oneLine(r.Error)
	case r.Reason != "":
		return r.Reason
	}
	return ""
}

func oneLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
