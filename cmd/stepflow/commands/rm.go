package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/stepflow/internal/app/remove"
)

type RemoveCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	id    string
	force bool
}

// NewRemoveCommand returns the rm command.
func NewRemoveCommand(rootCmd *RootCommand, app *kingpin.Application) *RemoveCommand {
	c := &RemoveCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("rm", "Remove a task checkpoint, or a goal with its task checkpoints.")
	c.Cmd.Arg("id", "Task or goal ID.").Required().StringVar(&c.id)
	c.Cmd.Flag("force", "Remove checkpoints still marked as running.").Short('f').BoolVar(&c.force)

	return c
}

func (c RemoveCommand) Name() string { return c.Cmd.FullCommand() }

func (c RemoveCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	repo, closeRepo, err := newRepository(ctx, c.rootCmd)
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}
	defer closeRepo()

	svc, err := remove.NewService(remove.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	removed, err := svc.Run(ctx, remove.Request{ID: c.id, Force: c.force})
	if err != nil {
		return fmt.Errorf("could not remove %s: %w", c.id, err)
	}

	p := newPrinter(c.rootCmd, formatTable)
	for _, id := range removed {
		if err := p.PrintMessage(fmt.Sprintf("Removed %s", id)); err != nil {
			return err
		}
	}
	return nil
}
