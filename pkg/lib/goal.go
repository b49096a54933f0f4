package lib

import (
	"context"
	"fmt"

	"github.com/slok/stepflow/internal/app/goalexec"
)

// RunGoal runs the goal plan, validates the criteria and adjusts the plan with
// the gap remediations until the goal is met or the attempts run out.
//
// An unmet goal is not an error, check [GoalResult].Success.
func (c *Client) RunGoal(ctx context.Context, spec GoalSpec) (*GoalResult, error) {
	svc, err := goalexec.NewService(goalexec.ServiceConfig{
		Runner:     c.goals,
		Repository: c.repo,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	g := toInternalGoal(spec)
	res, err := svc.Run(ctx, goalexec.Request{Goal: g})
	if res == nil {
		return nil, mapError(err)
	}

	out := &GoalResult{
		Goal:    *fromInternalGoal(g),
		Success: res.Success,
	}
	for _, t := range res.Tasks {
		out.Tasks = append(out.Tasks, fromInternalTask(t))
	}
	return out, mapError(err)
}
