package run

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/storage"
)

// TaskExecutor executes and resumes tasks.
type TaskExecutor interface {
	Run(ctx context.Context, task *model.Task) error
	Resume(ctx context.Context, taskID string) (*model.Task, error)
}

// PlanBuilder builds the execution plan of a step list.
type PlanBuilder interface {
	Build(steps []model.Step, vars map[string]any) (*model.ExecutionPlan, error)
}

// ServiceConfig is the configuration for the run service.
type ServiceConfig struct {
	Executor   TaskExecutor
	Builder    PlanBuilder
	Repository storage.CheckpointRepository
	// NewID returns the ID of the tasks submitted without one.
	NewID  func() string
	Logger log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Executor == nil {
		return fmt.Errorf("executor is required")
	}
	if c.Builder == nil {
		return fmt.Errorf("plan builder is required")
	}
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.NewID == nil {
		c.NewID = func() string { return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String() }
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Run"})
	return nil
}

// Service runs submitted tasks.
type Service struct {
	executor TaskExecutor
	builder  PlanBuilder
	repo     storage.CheckpointRepository
	newID    func() string
	logger   log.Logger
}

// NewService creates a new run service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		executor: cfg.Executor,
		builder:  cfg.Builder,
		repo:     cfg.Repository,
		newID:    cfg.NewID,
		logger:   cfg.Logger,
	}, nil
}

// Request represents the run request parameters.
type Request struct {
	Task *model.Task
}

// Response is the outcome of a run.
type Response struct {
	Task *model.Task
	// Resumed is true when the task was already checkpointed with the same plan.
	Resumed bool
}

// Run executes a task. A task ID that is already checkpointed with the same plan
// is resumed instead of executed again, a different plan is rejected.
// The response is returned with the execution error when the task was started,
// paused and waiting tasks still have a state to report.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	task := req.Task
	if task == nil || len(task.Steps) == 0 {
		return nil, fmt.Errorf("task requires steps: %w", model.ErrNotValid)
	}
	if task.ID == "" {
		task.ID = s.newID()
	}
	logger := s.logger.WithValues(log.Kv{"task-id": task.ID})

	p, err := s.builder.Build(task.Steps, task.Variables)
	if err != nil {
		return nil, fmt.Errorf("could not build plan: %w", err)
	}

	cp, err := s.repo.GetCheckpoint(ctx, task.ID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		task.Plan = p
		logger.Debugf("Running new task with %d steps in %d levels", len(p.Nodes), len(p.Levels))
		err := s.executor.Run(ctx, task)
		return &Response{Task: task}, err
	case err != nil:
		return nil, fmt.Errorf("could not get checkpoint: %w", err)
	}

	if cp.Plan == nil || cp.Plan.Fingerprint != p.Fingerprint {
		return nil, fmt.Errorf("task %s already exists with a different plan: %w", task.ID, model.ErrAlreadyExists)
	}

	logger.Infof("Task already checkpointed with state %s, resuming", cp.State)
	resumed, err := s.executor.Resume(ctx, task.ID)
	if resumed == nil {
		return nil, fmt.Errorf("could not resume task: %w", err)
	}
	return &Response{Task: resumed, Resumed: true}, err
}
