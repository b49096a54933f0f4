package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/stepflow/internal/app/cleanup"
	"github.com/slok/stepflow/internal/checkpoint"
)

type CleanupCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	retention  time.Duration
	maxRecords int
	format     string
}

// NewCleanupCommand returns the cleanup command.
func NewCleanupCommand(rootCmd *RootCommand, app *kingpin.Application) *CleanupCommand {
	c := &CleanupCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("cleanup", "Remove the completed checkpoints past the retention or over the max records.")
	c.Cmd.Flag("retention", "Max age of the completed checkpoints.").Default(checkpoint.DefaultRetention.String()).DurationVar(&c.retention)
	c.Cmd.Flag("max-records", "Max number of checkpoints kept.").Default(fmt.Sprint(checkpoint.DefaultMaxRecords)).IntVar(&c.maxRecords)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c CleanupCommand) Name() string { return c.Cmd.FullCommand() }

func (c CleanupCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	repo, closeRepo, err := newRepository(ctx, c.rootCmd)
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}
	defer closeRepo()

	manager, err := checkpoint.NewManager(checkpoint.ManagerConfig{
		Repository: repo,
		Retention:  c.retention,
		MaxRecords: c.maxRecords,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create checkpoint manager: %w", err)
	}

	svc, err := cleanup.NewService(cleanup.ServiceConfig{
		Cleaner: manager,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	removed, err := svc.Run(ctx)
	if err != nil {
		return fmt.Errorf("could not clean up checkpoints: %w", err)
	}

	p := newPrinter(c.rootCmd, c.format)
	if err := p.PrintMessage(fmt.Sprintf("Removed %d checkpoints", len(removed))); err != nil {
		return err
	}
	return nil
}
