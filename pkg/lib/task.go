package lib

import (
	"context"
	"fmt"

	appplan "github.com/slok/stepflow/internal/app/plan"
	"github.com/slok/stepflow/internal/app/resume"
	"github.com/slok/stepflow/internal/app/run"
	storageio "github.com/slok/stepflow/internal/storage/io"
)

// RunTask runs a task until it settles.
//
// A task that finishes FAILED is not an error, check [Task].State. A task
// paused by a gated step returns the task with [ErrNeedUser] and an interrupted
// one (context cancelled) returns the task paused, both can be continued with
// [Client.ResumeTask]. Running again a checkpointed task ID with the same plan
// resumes it.
func (c *Client) RunTask(ctx context.Context, spec TaskSpec) (*Task, error) {
	svc, err := run.NewService(run.ServiceConfig{
		Executor:   c.executor,
		Builder:    c.builder,
		Repository: c.repo,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	resp, err := svc.Run(ctx, run.Request{Task: toInternalTask(spec)})
	if resp == nil {
		return nil, mapError(err)
	}
	return fromInternalTask(resp.Task), mapError(err)
}

// ResumeTask continues a checkpointed task. The settled steps are replayed
// from the checkpoint and never executed again.
func (c *Client) ResumeTask(ctx context.Context, taskID string) (*Task, error) {
	svc, err := resume.NewService(resume.ServiceConfig{
		Executor: c.executor,
		Logger:   c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	task, err := svc.Run(ctx, resume.Request{TaskID: taskID})
	return fromInternalTask(task), mapError(err)
}

// Plan builds the execution levels of a step list without running it.
func (c *Client) Plan(ctx context.Context, steps []Step, vars map[string]any) (*Plan, error) {
	svc, err := appplan.NewService(appplan.ServiceConfig{
		Builder: c.builder,
		Logger:  c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	p, err := svc.Run(ctx, appplan.Request{Steps: steps, Variables: vars})
	if err != nil {
		return nil, mapError(err)
	}
	return fromInternalPlan(p), nil
}

// ParseDocument parses a YAML or JSON task or goal document. Exactly one of the
// returned specs is set.
func ParseDocument(data []byte) (*TaskSpec, *GoalSpec, error) {
	schemas, err := storageio.NewSchemas()
	if err != nil {
		return nil, nil, err
	}

	sub, err := schemas.ParseSubmission(data)
	if err != nil {
		return nil, nil, mapError(err)
	}

	if sub.Goal != nil {
		return nil, fromInternalGoalSpec(sub.Goal), nil
	}
	t := sub.Task
	return &TaskSpec{ID: t.ID, Steps: t.Steps, Variables: t.Variables, Options: t.Options}, nil, nil
}
