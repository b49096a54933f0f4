package printer

import "github.com/slok/stepflow/internal/model"

// Printer knows how to print execution information in different formats.
type Printer interface {
	PrintEvent(ev model.Event) error
	PrintTask(task *model.Task) error
	PrintGoal(g *model.Goal) error
	PrintPlan(p *model.ExecutionPlan) error
	PrintList(cps []model.Checkpoint, goals []model.Goal) error
	PrintStatus(cp *model.Checkpoint, g *model.Goal) error
	PrintMessage(msg string) error
}
