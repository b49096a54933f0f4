package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/stepflow/internal/app/goalexec"
	"github.com/slok/stepflow/internal/model"
)

type GoalCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	runtime     runtimeFlags
	file        string
	id          string
	maxAttempts int
}

// NewGoalCommand returns the goal command.
func NewGoalCommand(rootCmd *RootCommand, app *kingpin.Application) *GoalCommand {
	c := &GoalCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("goal", "Run a goal file until its success criteria are met or the attempts run out.")
	c.Cmd.Arg("file", "Goal file (YAML or JSON).").Required().StringVar(&c.file)
	c.Cmd.Flag("id", "Goal ID (overrides the file one, generated when missing).").StringVar(&c.id)
	c.Cmd.Flag("max-attempts", "Max attempts (overrides the file one).").IntVar(&c.maxAttempts)
	c.runtime.register(c.Cmd)

	return c
}

func (c GoalCommand) Name() string { return c.Cmd.FullCommand() }

func (c GoalCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	sub, err := loadSubmission(ctx, c.file)
	if err != nil {
		return fmt.Errorf("could not load goal: %w", err)
	}
	if sub.Goal == nil {
		return fmt.Errorf("%s is a task document, use the run command: %w", c.file, model.ErrNotValid)
	}
	g := sub.Goal

	if c.id != "" {
		g.ID = c.id
	}
	if c.maxAttempts > 0 {
		g.MaxAttempts = c.maxAttempts
	}

	// Goal attempts verify the effect of their file operations.
	rt, err := newRuntime(ctx, c.rootCmd, c.runtime, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			logger.Errorf("Could not close runtime: %s", err)
		}
	}()

	svc, err := goalexec.NewService(goalexec.ServiceConfig{
		Runner:     rt.goals,
		Repository: rt.repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	res, err := svc.Run(ctx, goalexec.Request{Goal: g})
	if g.State != "" {
		if perr := rt.printer.PrintGoal(g); perr != nil {
			return fmt.Errorf("could not print goal: %w", perr)
		}
	}
	if err != nil {
		return fmt.Errorf("could not execute goal: %w", err)
	}

	if !res.Success {
		return fmt.Errorf("goal %s not met after %d attempts", g.ID, res.Attempts)
	}
	return nil
}
