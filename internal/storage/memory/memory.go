package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.Repository.
// Records are stored encoded so callers never share memory with the store.
type Repository struct {
	checkpoints map[string][]byte
	goals       map[string][]byte
	mu          sync.RWMutex
	logger      log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		checkpoints: make(map[string][]byte),
		goals:       make(map[string][]byte),
		logger:      cfg.Logger,
	}, nil
}

// SaveCheckpoint creates or replaces a checkpoint.
func (r *Repository) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	if cp.TaskID == "" {
		return fmt.Errorf("task id is required: %w", model.ErrNotValid)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("could not encode checkpoint: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints[cp.TaskID] = data
	r.logger.Debugf("Saved checkpoint in repository: %s", cp.TaskID)

	return nil
}

// GetCheckpoint retrieves a checkpoint by task ID.
func (r *Repository) GetCheckpoint(ctx context.Context, taskID string) (*model.Checkpoint, error) {
	r.mu.RLock()
	data, ok := r.checkpoints[taskID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("checkpoint %s: %w", taskID, model.ErrNotFound)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("could not decode checkpoint: %w", err)
	}

	return &cp, nil
}

// ListCheckpoints returns all checkpoints, newest first.
func (r *Repository) ListCheckpoints(ctx context.Context) ([]model.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cps := make([]model.Checkpoint, 0, len(r.checkpoints))
	for _, data := range r.checkpoints {
		var cp model.Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			return nil, fmt.Errorf("could not decode checkpoint: %w", err)
		}
		cps = append(cps, cp)
	}
	sort.SliceStable(cps, func(i, j int) bool { return cps[i].CreatedAt.After(cps[j].CreatedAt) })

	return cps, nil
}

// DeleteCheckpoint deletes a checkpoint.
func (r *Repository) DeleteCheckpoint(ctx context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.checkpoints[taskID]; !ok {
		return fmt.Errorf("checkpoint %s: %w", taskID, model.ErrNotFound)
	}

	delete(r.checkpoints, taskID)
	r.logger.Debugf("Deleted checkpoint from repository: %s", taskID)

	return nil
}

// SaveGoal creates or replaces a goal.
func (r *Repository) SaveGoal(ctx context.Context, g model.Goal) error {
	if g.ID == "" {
		return fmt.Errorf("goal id is required: %w", model.ErrNotValid)
	}

	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("could not encode goal: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.goals[g.ID] = data
	r.logger.Debugf("Saved goal in repository: %s", g.ID)

	return nil
}

// GetGoal retrieves a goal by ID.
func (r *Repository) GetGoal(ctx context.Context, id string) (*model.Goal, error) {
	r.mu.RLock()
	data, ok := r.goals[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("goal %s: %w", id, model.ErrNotFound)
	}

	var g model.Goal
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("could not decode goal: %w", err)
	}

	return &g, nil
}

// ListGoals returns all goals, newest first.
func (r *Repository) ListGoals(ctx context.Context) ([]model.Goal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	goals := make([]model.Goal, 0, len(r.goals))
	for _, data := range r.goals {
		var g model.Goal
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("could not decode goal: %w", err)
		}
		goals = append(goals, g)
	}
	sort.SliceStable(goals, func(i, j int) bool { return goals[i].CreatedAt.After(goals[j].CreatedAt) })

	return goals, nil
}

// DeleteGoal deletes a goal.
func (r *Repository) DeleteGoal(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.goals[id]; !ok {
		return fmt.Errorf("goal %s: %w", id, model.ErrNotFound)
	}

	delete(r.goals, id)
	r.logger.Debugf("Deleted goal from repository: %s", id)

	return nil
}
