package goalexec

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/stepflow/internal/goal"
	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/storage"
)

// GoalRunner runs the goal loop.
type GoalRunner interface {
	Execute(ctx context.Context, g *model.Goal) (*goal.Result, error)
}

// ServiceConfig is the configuration for the goal execution service.
type ServiceConfig struct {
	Runner     GoalRunner
	Repository storage.GoalRepository
	NewID      func() string
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Runner == nil {
		return fmt.Errorf("goal runner is required")
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.GoalExec"})
	return nil
}

// Service executes goals.
type Service struct {
	runner GoalRunner
	repo   storage.GoalRepository
	newID  func() string
	logger log.Logger
}

// NewService creates a new goal execution service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		runner: cfg.Runner,
		repo:   cfg.Repository,
		newID:  cfg.NewID,
		logger: cfg.Logger,
	}, nil
}

// Request represents the goal execution request parameters.
type Request struct {
	Goal *model.Goal
}

// Run executes a goal. Goal IDs are unique, a goal that was already stored
// (finished or waiting) can't be submitted again.
func (s *Service) Run(ctx context.Context, req Request) (*goal.Result, error) {
	g := req.Goal
	if g == nil || len(g.Plan) == 0 {
		return nil, fmt.Errorf("goal requires a plan: %w", model.ErrNotValid)
	}
	if g.ID == "" {
		g.ID = s.newID()
	}

	_, err := s.repo.GetGoal(ctx, g.ID)
	if err == nil {
		return nil, fmt.Errorf("goal %s: %w", g.ID, model.ErrAlreadyExists)
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("could not check goal uniqueness: %w", err)
	}

	s.logger.Infof("Executing goal %s with %d criteria", g.ID, len(g.SuccessCriteria))
	return s.runner.Execute(ctx, g)
}
