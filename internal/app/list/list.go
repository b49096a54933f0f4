package list

import (
	"context"
	"fmt"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/storage"
)

// ServiceConfig is the configuration for the list service.
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

// Service lists checkpointed tasks and stored goals with optional filtering.
type Service struct {
	repo   storage.Repository
	logger log.Logger
}

// NewService creates a new list service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the list request parameters.
type Request struct {
	// StateFilter is an optional filter to only show checkpoints with this state.
	StateFilter *model.CheckpointState
	// IncludeGoals also lists the stored goals.
	IncludeGoals bool
}

// Response is the list result.
type Response struct {
	Checkpoints []model.Checkpoint
	Goals       []model.Goal
}

// Run lists all checkpoints, optionally filtered by state.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	s.logger.Debugf("listing checkpoints with filter: %v", req.StateFilter)

	cps, err := s.repo.ListCheckpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list checkpoints: %w", err)
	}

	if req.StateFilter != nil {
		filtered := make([]model.Checkpoint, 0, len(cps))
		for _, cp := range cps {
			if cp.State == *req.StateFilter {
				filtered = append(filtered, cp)
			}
		}
		cps = filtered
	}

	resp := &Response{Checkpoints: cps}
	if req.IncludeGoals {
		goals, err := s.repo.ListGoals(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not list goals: %w", err)
		}
		resp.Goals = goals
	}

	s.logger.Debugf("found %d checkpoints and %d goals", len(resp.Checkpoints), len(resp.Goals))
	return resp, nil
}
