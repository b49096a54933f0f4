package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/storage"
	"github.com/slok/stepflow/internal/storage/memory"
	"github.com/slok/stepflow/internal/storage/storagetest"
)

func newRepo(t *testing.T) storage.Repository {
	repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: log.Noop})
	require.NoError(t, err)
	return repo
}

func TestRepository(t *testing.T) {
	storagetest.TestRepository(t, newRepo)
}

func TestRepositoryDoesNotShareMemory(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	cp := storagetest.CheckpointFixture("task-1", time.Now())
	require.NoError(t, repo.SaveCheckpoint(ctx, cp))
	cp.Context["w"] = "mutated"

	got, err := repo.GetCheckpoint(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Context["w"])
}
