package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	appplan "github.com/slok/stepflow/internal/app/plan"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/plan"
	"github.com/slok/stepflow/internal/utils/env"
)

type PlanCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	file   string
	vars   []string
	format string
}

// NewPlanCommand returns the plan command.
func NewPlanCommand(rootCmd *RootCommand, app *kingpin.Application) *PlanCommand {
	c := &PlanCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("plan", "Show the execution levels of a task or goal file without running it.")
	c.Cmd.Arg("file", "Task or goal file (YAML or JSON).").Required().StringVar(&c.file)
	c.Cmd.Flag("var", "Task variable override KEY=VALUE (repeatable).").Short('v').StringsVar(&c.vars)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c PlanCommand) Name() string { return c.Cmd.FullCommand() }

func (c PlanCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	sub, err := loadSubmission(ctx, c.file)
	if err != nil {
		return fmt.Errorf("could not load submission: %w", err)
	}

	var steps []model.Step
	var vars map[string]any
	if sub.Goal != nil {
		steps = sub.Goal.Plan
	} else {
		steps = sub.Task.Steps
		vars = sub.Task.Variables
	}
	overrides, err := env.ParseSpecs(c.vars)
	if err != nil {
		return fmt.Errorf("invalid variables: %w", err)
	}
	vars = env.MergeVariables(vars, overrides)

	builder, err := plan.NewBuilder(plan.BuilderConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create plan builder: %w", err)
	}
	svc, err := appplan.NewService(appplan.ServiceConfig{
		Builder: builder,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	p, err := svc.Run(ctx, appplan.Request{Steps: steps, Variables: vars})
	if err != nil {
		return err
	}

	if err := newPrinter(c.rootCmd, c.format).PrintPlan(p); err != nil {
		return fmt.Errorf("could not print plan: %w", err)
	}
	return nil
}
