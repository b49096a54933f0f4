package lib

import (
	"context"
	"fmt"

	"github.com/slok/stepflow/internal/app/cleanup"
	"github.com/slok/stepflow/internal/app/list"
	"github.com/slok/stepflow/internal/app/remove"
	"github.com/slok/stepflow/internal/app/status"
	"github.com/slok/stepflow/internal/model"
)

// ListTasksOpts are the options for [Client.ListTasks].
type ListTasksOpts struct {
	// State filters the checkpoints by state, nil lists all.
	State *CheckpointState
}

// ListTasks returns the checkpointed tasks.
func (c *Client) ListTasks(ctx context.Context, opts *ListTasksOpts) ([]Checkpoint, error) {
	req := list.Request{}
	if opts != nil && opts.State != nil {
		s := model.CheckpointState(*opts.State)
		req.StateFilter = &s
	}

	resp, err := c.list(ctx, req)
	if err != nil {
		return nil, err
	}
	return fromInternalCheckpointList(resp.Checkpoints), nil
}

// ListGoals returns the stored goals.
func (c *Client) ListGoals(ctx context.Context) ([]Goal, error) {
	resp, err := c.list(ctx, list.Request{IncludeGoals: true})
	if err != nil {
		return nil, err
	}
	return fromInternalGoalList(resp.Goals), nil
}

func (c *Client) list(ctx context.Context, req list.Request) (*list.Response, error) {
	svc, err := list.NewService(list.ServiceConfig{
		Repository: c.repo,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	resp, err := svc.Run(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}
	return resp, nil
}

// GetStatus returns the state of a task or a goal. Returns [ErrNotFound] when
// the id is neither.
func (c *Client) GetStatus(ctx context.Context, id string) (*Status, error) {
	svc, err := status.NewService(status.ServiceConfig{
		Repository: c.repo,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	resp, err := svc.Run(ctx, status.Request{ID: id})
	if err != nil {
		return nil, mapError(err)
	}

	return &Status{
		Checkpoint: fromInternalCheckpoint(resp.Checkpoint),
		Goal:       fromInternalGoal(resp.Goal),
	}, nil
}

// Remove removes a task checkpoint, or a goal and its task checkpoints. Tasks
// still marked as running are only removed with force. Returns the removed ids.
func (c *Client) Remove(ctx context.Context, id string, force bool) ([]string, error) {
	svc, err := remove.NewService(remove.ServiceConfig{
		Repository: c.repo,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	removed, err := svc.Run(ctx, remove.Request{ID: id, Force: force})
	if err != nil {
		return nil, mapError(err)
	}
	return removed, nil
}

// Cleanup removes the completed checkpoints older than 7 days and the oldest
// ones over 100 records. Returns the removed task ids.
func (c *Client) Cleanup(ctx context.Context) ([]string, error) {
	svc, err := cleanup.NewService(cleanup.ServiceConfig{
		Cleaner: c.manager,
		Logger:  c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	removed, err := svc.Run(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return removed, nil
}
