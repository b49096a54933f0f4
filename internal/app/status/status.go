package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/storage"
)

// ServiceConfig is the configuration for the status service.
type ServiceConfig struct {
	Repository storage.Repository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service retrieves the detailed status of a task or a goal.
type Service struct {
	repo   storage.Repository
	logger log.Logger
}

// NewService creates a new status service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the status request parameters.
type Request struct {
	// ID is the task or goal ID to query.
	ID string
}

// Response is the status of a task, a goal or both when the task belongs to a goal.
type Response struct {
	Checkpoint *model.Checkpoint
	Goal       *model.Goal
}

// Run retrieves the status by ID. It tries the task checkpoint first and then the goal.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	s.logger.Debugf("getting status for: %s", req.ID)

	cp, err := s.repo.GetCheckpoint(ctx, req.ID)
	if err == nil {
		resp := &Response{Checkpoint: cp}
		if cp.GoalID != "" {
			g, err := s.repo.GetGoal(ctx, cp.GoalID)
			switch {
			case err == nil:
				resp.Goal = g
			case !errors.Is(err, model.ErrNotFound):
				return nil, fmt.Errorf("could not get goal status: %w", err)
			}
		}
		return resp, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("could not get task status: %w", err)
	}

	s.logger.Debugf("task lookup failed, trying goal lookup")
	g, err := s.repo.GetGoal(ctx, req.ID)
	if err == nil {
		return &Response{Goal: g}, nil
	}

	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("task or goal not found: %s: %w", req.ID, model.ErrNotFound)
	}

	return nil, fmt.Errorf("could not get goal status: %w", err)
}
