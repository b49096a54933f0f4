package storage

import (
	"context"

	"github.com/slok/stepflow/internal/model"
)

// CheckpointRepository is the durable store of checkpoint records, one per task.
type CheckpointRepository interface {
	// SaveCheckpoint creates or replaces the record of the checkpoint task.
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
	GetCheckpoint(ctx context.Context, taskID string) (*model.Checkpoint, error)
	ListCheckpoints(ctx context.Context) ([]model.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, taskID string) error
}

// GoalRepository is the archive of finished goals.
type GoalRepository interface {
	SaveGoal(ctx context.Context, g model.Goal) error
	GetGoal(ctx context.Context, id string) (*model.Goal, error)
	ListGoals(ctx context.Context) ([]model.Goal, error)
	DeleteGoal(ctx context.Context, id string) error
}

// Repository is a full stepflow store.
type Repository interface {
	CheckpointRepository
	GoalRepository
}
