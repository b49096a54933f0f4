package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/stepflow/internal/app/list"
	"github.com/slok/stepflow/internal/model"
)

type ListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	stateFilter string
	goals       bool
	format      string
}

// NewListCommand returns the list command.
func NewListCommand(rootCmd *RootCommand, app *kingpin.Application) *ListCommand {
	c := &ListCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("list", "List the checkpointed tasks.")
	c.Cmd.Flag("state", "Filter by state (created, running, paused, completed, failed, resuming).").StringVar(&c.stateFilter)
	c.Cmd.Flag("goals", "Also list the goals.").BoolVar(&c.goals)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c ListCommand) Name() string { return c.Cmd.FullCommand() }

func (c ListCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	var stateFilter *model.CheckpointState
	if c.stateFilter != "" {
		state := model.CheckpointState(strings.ToUpper(c.stateFilter))
		switch state {
		case model.CheckpointStateCreated, model.CheckpointStateRunning, model.CheckpointStatePaused,
			model.CheckpointStateCompleted, model.CheckpointStateFailed, model.CheckpointStateResuming:
			stateFilter = &state
		default:
			return fmt.Errorf("invalid state filter: %s (must be: created, running, paused, completed, failed, resuming)", c.stateFilter)
		}
	}

	repo, closeRepo, err := newRepository(ctx, c.rootCmd)
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}
	defer closeRepo()

	svc, err := list.NewService(list.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	resp, err := svc.Run(ctx, list.Request{
		StateFilter:  stateFilter,
		IncludeGoals: c.goals,
	})
	if err != nil {
		return fmt.Errorf("could not list tasks: %w", err)
	}

	if err := newPrinter(c.rootCmd, c.format).PrintList(resp.Checkpoints, resp.Goals); err != nil {
		return fmt.Errorf("could not print list: %w", err)
	}
	return nil
}
