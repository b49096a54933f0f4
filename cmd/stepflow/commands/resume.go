package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/stepflow/internal/app/resume"
)

type ResumeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	runtime runtimeFlags
	taskID  string
	verify  bool
}

// NewResumeCommand returns the resume command.
func NewResumeCommand(rootCmd *RootCommand, app *kingpin.Application) *ResumeCommand {
	c := &ResumeCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("resume", "Resume a paused or interrupted task from its checkpoint.")
	c.Cmd.Arg("task-id", "Task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("verify", "Check the effect of every successful file operation.").BoolVar(&c.verify)
	c.runtime.register(c.Cmd)

	return c
}

func (c ResumeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ResumeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	rt, err := newRuntime(ctx, c.rootCmd, c.runtime, c.verify)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			logger.Errorf("Could not close runtime: %s", err)
		}
	}()

	svc, err := resume.NewService(resume.ServiceConfig{
		Executor: rt.executor,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	task, err := svc.Run(ctx, resume.Request{TaskID: c.taskID})
	if task != nil {
		if perr := rt.printer.PrintTask(task); perr != nil {
			return fmt.Errorf("could not print task: %w", perr)
		}
	}
	if err != nil {
		return fmt.Errorf("could not resume task: %w", err)
	}

	return taskResult(task)
}
