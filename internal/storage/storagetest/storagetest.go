// Package storagetest has the behavior tests every storage.Repository implementation must pass.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/storage"
)

// CheckpointFixture returns a checkpoint ready to be stored.
func CheckpointFixture(taskID string, createdAt time.Time) model.Checkpoint {
	cp := model.Checkpoint{
		TaskID: taskID,
		State:  model.CheckpointStateRunning,
		Steps: []model.Step{
			{ID: "write", Tool: "write_file", Params: map[string]any{"path": "/tmp/x", "content": "hi"}, SaveAs: "w"},
			{ID: "read", Tool: "read_file", Params: map[string]any{"path": "/tmp/x"}},
		},
		Results: map[int]*model.StepResult{
			0: {Index: 0, StepID: "write", Tool: "write_file", Status: model.StepStatusSuccess, Success: true, Result: "ok"},
		},
		Context: map[string]any{"w": "ok"},
		IdempotencyKeys: map[string]model.IdempotencyRecord{
			`write_file::{"content":"hi","path":"/tmp/x"}`: {StepIndex: 0, Success: true, Timestamp: createdAt},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	cp.Normalize()
	cp.MarkStep(0, model.StepStatusSuccess)
	return cp
}

// TestRepository runs the repository behavior tests.
func TestRepository(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	t.Run("Checkpoints", func(t *testing.T) { testCheckpoints(t, newRepo(t)) })
	t.Run("Goals", func(t *testing.T) { testGoals(t, newRepo(t)) })
}

func testCheckpoints(t *testing.T, repo storage.Repository) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	_, err := repo.GetCheckpoint(ctx, "missing")
	assert.ErrorIs(err, model.ErrNotFound)

	require.NoError(repo.SaveCheckpoint(ctx, CheckpointFixture("task-1", t0)))
	require.NoError(repo.SaveCheckpoint(ctx, CheckpointFixture("task-2", t0.Add(time.Hour))))

	got, err := repo.GetCheckpoint(ctx, "task-1")
	require.NoError(err)
	assert.Equal("task-1", got.TaskID)
	assert.Equal(model.CheckpointStateRunning, got.State)
	assert.Equal([]int{0}, got.Progress.CompletedSteps)
	assert.Equal("ok", got.Context["w"])
	assert.True(got.Results[0].Success)
	assert.Len(got.IdempotencyKeys, 1)
	assert.True(t0.Equal(got.CreatedAt))

	// Saving again replaces the record.
	got.State = model.CheckpointStateCompleted
	got.MarkStep(1, model.StepStatusSuccess)
	require.NoError(repo.SaveCheckpoint(ctx, *got))
	got, err = repo.GetCheckpoint(ctx, "task-1")
	require.NoError(err)
	assert.Equal(model.CheckpointStateCompleted, got.State)
	assert.Equal([]int{0, 1}, got.Progress.CompletedSteps)

	all, err := repo.ListCheckpoints(ctx)
	require.NoError(err)
	require.Len(all, 2)
	assert.Equal("task-2", all[0].TaskID)
	assert.Equal("task-1", all[1].TaskID)

	require.NoError(repo.DeleteCheckpoint(ctx, "task-1"))
	_, err = repo.GetCheckpoint(ctx, "task-1")
	assert.ErrorIs(err, model.ErrNotFound)
	assert.ErrorIs(repo.DeleteCheckpoint(ctx, "task-1"), model.ErrNotFound)

	assert.ErrorIs(repo.SaveCheckpoint(ctx, model.Checkpoint{}), model.ErrNotValid)
}

func testGoals(t *testing.T, repo storage.Repository) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	g := model.Goal{
		ID:          "goal-1",
		Description: "create x",
		SuccessCriteria: []model.Criterion{
			{Type: model.CriterionFileExists, Path: "/tmp/x"},
		},
		Plan:      []model.Step{{Tool: "write_file", Params: map[string]any{"path": "/tmp/x"}}},
		State:     model.TaskStateSuccess,
		Attempts:  2,
		CreatedAt: t0,
		UpdatedAt: t0,
	}

	_, err := repo.GetGoal(ctx, "goal-1")
	assert.ErrorIs(err, model.ErrNotFound)

	require.NoError(repo.SaveGoal(ctx, g))
	got, err := repo.GetGoal(ctx, "goal-1")
	require.NoError(err)
	assert.Equal("create x", got.Description)
	assert.Equal(2, got.Attempts)
	assert.Equal(model.TaskStateSuccess, got.State)
	require.Len(got.SuccessCriteria, 1)
	assert.Equal(model.CriterionFileExists, got.SuccessCriteria[0].Type)

	g2 := g
	g2.ID = "goal-2"
	g2.CreatedAt = t0.Add(time.Minute)
	require.NoError(repo.SaveGoal(ctx, g2))

	all, err := repo.ListGoals(ctx)
	require.NoError(err)
	require.Len(all, 2)
	assert.Equal("goal-2", all[0].ID)

	require.NoError(repo.DeleteGoal(ctx, "goal-1"))
	assert.ErrorIs(repo.DeleteGoal(ctx, "goal-1"), model.ErrNotFound)
}
