package remove

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/storage"
)

// ServiceConfig is the configuration for the remove service.
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

// Service removes task checkpoints and goals.
type Service struct {
	repo   storage.Repository
	logger log.Logger
}

// NewService creates a new remove service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the remove request parameters.
type Request struct {
	// ID is the task or goal ID to remove.
	ID string
	// Force removes checkpoints that are still marked as running.
	Force bool
}

// Run removes a task checkpoint or a goal with all its task checkpoints and
// returns the removed IDs.
// Checkpoints marked as running or resuming are only removed with Force, a
// crashed executor leaves them in that state.
func (s *Service) Run(ctx context.Context, req Request) ([]string, error) {
	s.logger.Debugf("removing: %s (force: %v)", req.ID, req.Force)

	cp, err := s.repo.GetCheckpoint(ctx, req.ID)
	if err == nil {
		if err := s.removeCheckpoint(ctx, cp, req.Force); err != nil {
			return nil, err
		}
		s.logger.Infof("removed task: %s", cp.TaskID)
		return []string{cp.TaskID}, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("could not get checkpoint: %w", err)
	}

	g, err := s.repo.GetGoal(ctx, req.ID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("task or goal not found: %s: %w", req.ID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not get goal: %w", err)
	}

	removed := []string{}
	for _, taskID := range g.TaskIDs {
		cp, err := s.repo.GetCheckpoint(ctx, taskID)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("could not get checkpoint: %w", err)
		}
		if err := s.removeCheckpoint(ctx, cp, req.Force); err != nil {
			return nil, err
		}
		removed = append(removed, taskID)
	}

	if err := s.repo.DeleteGoal(ctx, g.ID); err != nil {
		return nil, fmt.Errorf("could not delete goal from repository: %w", err)
	}
	removed = append(removed, g.ID)

	s.logger.Infof("removed goal: %s (%d tasks)", g.ID, len(removed)-1)
	return removed, nil
}

func (s *Service) removeCheckpoint(ctx context.Context, cp *model.Checkpoint, force bool) error {
	if cp.State == model.CheckpointStateRunning || cp.State == model.CheckpointStateResuming {
		if !force {
			return fmt.Errorf("cannot remove running task %s without --force: %w", cp.TaskID, model.ErrNotValid)
		}
		s.logger.Warningf("force removing running task: %s", cp.TaskID)
	}

	if err := s.repo.DeleteCheckpoint(ctx, cp.TaskID); err != nil {
		return fmt.Errorf("could not delete checkpoint from repository: %w", err)
	}
	return nil
}
