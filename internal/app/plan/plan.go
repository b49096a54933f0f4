package plan

import (
	"context"
	"fmt"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
)

// Builder builds the execution plan of a step list.
type Builder interface {
	Build(steps []model.Step, vars map[string]any) (*model.ExecutionPlan, error)
}

// ServiceConfig is the configuration for the plan service.
type ServiceConfig struct {
	Builder Builder
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Builder == nil {
		return fmt.Errorf("plan builder is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service builds plans without executing them.
type Service struct {
	builder Builder
	logger  log.Logger
}

// NewService creates a new plan service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		builder: cfg.Builder,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the plan request parameters.
type Request struct {
	Steps     []model.Step
	Variables map[string]any
}

// Run builds the execution plan of the steps, cycles are returned as plan cycle errors.
func (s *Service) Run(ctx context.Context, req Request) (*model.ExecutionPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := s.builder.Build(req.Steps, req.Variables)
	if err != nil {
		return nil, fmt.Errorf("could not build plan: %w", err)
	}

	s.logger.Debugf("planned %d nodes in %d levels", len(p.Nodes), len(p.Levels))
	return p, nil
}
