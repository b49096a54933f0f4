package cleanup

import (
	"context"
	"fmt"

	"github.com/slok/stepflow/internal/log"
)

// Cleaner applies the checkpoint retention policy.
type Cleaner interface {
	Cleanup(ctx context.Context) ([]string, error)
}

// ServiceConfig is the configuration for the cleanup service.
type ServiceConfig struct {
	Cleaner Cleaner
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Cleaner == nil {
		return fmt.Errorf("cleaner is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service removes the checkpoints out of the retention policy.
type Service struct {
	cleaner Cleaner
	logger  log.Logger
}

// NewService creates a new cleanup service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		cleaner: cfg.Cleaner,
		logger:  cfg.Logger,
	}, nil
}

// Run removes the expired checkpoints and returns their task IDs.
func (s *Service) Run(ctx context.Context) ([]string, error) {
	removed, err := s.cleaner.Cleanup(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not clean up checkpoints: %w", err)
	}

	s.logger.Debugf("removed %d checkpoints", len(removed))
	return removed, nil
}
