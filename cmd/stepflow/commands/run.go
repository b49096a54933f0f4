package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/stepflow/internal/app/run"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/utils/env"
)

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	runtime runtimeFlags
	file    string
	id      string
	vars    []string
	verify  bool
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Run a task file, a checkpointed task with the same ID and plan is resumed.")
	c.Cmd.Arg("file", "Task file (YAML or JSON).").Required().StringVar(&c.file)
	c.Cmd.Flag("id", "Task ID (overrides the file one, generated when missing).").StringVar(&c.id)
	c.Cmd.Flag("var", "Task variable override KEY=VALUE (repeatable).").Short('v').StringsVar(&c.vars)
	c.Cmd.Flag("verify", "Check the effect of every successful file operation.").BoolVar(&c.verify)
	c.runtime.register(c.Cmd)

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	sub, err := loadSubmission(ctx, c.file)
	if err != nil {
		return fmt.Errorf("could not load task: %w", err)
	}
	if sub.Goal != nil {
		return fmt.Errorf("%s is a goal document, use the goal command: %w", c.file, model.ErrNotValid)
	}
	task := sub.Task

	if c.id != "" {
		task.ID = c.id
	}
	overrides, err := env.ParseSpecs(c.vars)
	if err != nil {
		return fmt.Errorf("invalid variables: %w", err)
	}
	task.Variables = env.MergeVariables(task.Variables, overrides)

	rt, err := newRuntime(ctx, c.rootCmd, c.runtime, c.verify)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			logger.Errorf("Could not close runtime: %s", err)
		}
	}()

	svc, err := run.NewService(run.ServiceConfig{
		Executor:   rt.executor,
		Builder:    rt.builder,
		Repository: rt.repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	resp, err := svc.Run(ctx, run.Request{Task: task})
	if resp != nil && resp.Task != nil {
		if perr := rt.printer.PrintTask(resp.Task); perr != nil {
			return fmt.Errorf("could not print task: %w", perr)
		}
	}
	if err != nil {
		return fmt.Errorf("could not run task: %w", err)
	}

	return taskResult(resp.Task)
}

// taskResult returns an error when the task did not succeed.
func taskResult(task *model.Task) error {
	if task.State != model.TaskStateSuccess {
		return fmt.Errorf("task %s finished as %s", task.ID, task.State)
	}
	return nil
}
