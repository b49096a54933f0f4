package resume

import (
	"context"
	"fmt"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
)

// TaskResumer resumes checkpointed tasks.
type TaskResumer interface {
	Resume(ctx context.Context, taskID string) (*model.Task, error)
}

// ServiceConfig is the configuration for the resume service.
type ServiceConfig struct {
	Executor TaskResumer
	Logger   log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Executor == nil {
		return fmt.Errorf("executor is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service resumes interrupted tasks from their checkpoint.
type Service struct {
	executor TaskResumer
	logger   log.Logger
}

// NewService creates a new resume service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		executor: cfg.Executor,
		logger:   cfg.Logger,
	}, nil
}

// Request represents the resume request parameters.
type Request struct {
	TaskID string
}

// Run resumes a task. Like a run, the task is returned with the execution error
// when the execution started.
func (s *Service) Run(ctx context.Context, req Request) (*model.Task, error) {
	if req.TaskID == "" {
		return nil, fmt.Errorf("task id is required: %w", model.ErrNotValid)
	}

	s.logger.Debugf("resuming task: %s", req.TaskID)

	task, err := s.executor.Resume(ctx, req.TaskID)
	if task == nil {
		return nil, fmt.Errorf("could not resume task %s: %w", req.TaskID, err)
	}

	return task, err
}
