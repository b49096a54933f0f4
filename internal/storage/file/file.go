package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	fileutil "github.com/slok/stepflow/internal/utils/file"
)

const (
	checkpointsDir = "checkpoints"
	goalsDir       = "goals"
	recordExt      = ".json"
)

// RepositoryConfig is the configuration for the file repository.
type RepositoryConfig struct {
	// Dir is the root directory of the records.
	Dir    string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Dir == "" {
		return fmt.Errorf("dir is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.File"})
	return nil
}

// Repository stores one JSON file per record. Files are replaced atomically
// with a rename so a crash never leaves a partial record.
type Repository struct {
	dir    string
	logger log.Logger
}

// NewRepository creates a new file repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	for _, d := range []string{checkpointsDir, goalsDir} {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, d), 0o755); err != nil {
			return nil, fmt.Errorf("could not create %s directory: %w", d, err)
		}
	}

	return &Repository{dir: cfg.Dir, logger: cfg.Logger}, nil
}

func (r *Repository) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	if err := validID(cp.TaskID); err != nil {
		return err
	}
	if err := r.write(r.path(checkpointsDir, cp.TaskID), cp); err != nil {
		return fmt.Errorf("could not save checkpoint: %w", err)
	}
	r.logger.Debugf("Saved checkpoint in repository: %s", cp.TaskID)
	return nil
}

func (r *Repository) GetCheckpoint(ctx context.Context, taskID string) (*model.Checkpoint, error) {
	if err := validID(taskID); err != nil {
		return nil, err
	}

	var cp model.Checkpoint
	if err := r.read(r.path(checkpointsDir, taskID), &cp); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", taskID, err)
	}
	return &cp, nil
}

func (r *Repository) ListCheckpoints(ctx context.Context) ([]model.Checkpoint, error) {
	ids, err := r.ids(checkpointsDir)
	if err != nil {
		return nil, err
	}

	cps := make([]model.Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := r.GetCheckpoint(ctx, id)
		if err != nil {
			r.logger.Warningf("Ignoring unreadable checkpoint %s: %s", id, err)
			continue
		}
		cps = append(cps, *cp)
	}
	sort.SliceStable(cps, func(i, j int) bool { return cps[i].CreatedAt.After(cps[j].CreatedAt) })

	return cps, nil
}

func (r *Repository) DeleteCheckpoint(ctx context.Context, taskID string) error {
	if err := validID(taskID); err != nil {
		return err
	}
	if err := remove(r.path(checkpointsDir, taskID)); err != nil {
		return fmt.Errorf("checkpoint %s: %w", taskID, err)
	}
	r.logger.Debugf("Deleted checkpoint from repository: %s", taskID)
	return nil
}

func (r *Repository) SaveGoal(ctx context.Context, g model.Goal) error {
	if err := validID(g.ID); err != nil {
		return err
	}
	if err := r.write(r.path(goalsDir, g.ID), g); err != nil {
		return fmt.Errorf("could not save goal: %w", err)
	}
	r.logger.Debugf("Saved goal in repository: %s", g.ID)
	return nil
}

func (r *Repository) GetGoal(ctx context.Context, id string) (*model.Goal, error) {
	if err := validID(id); err != nil {
		return nil, err
	}

	var g model.Goal
	if err := r.read(r.path(goalsDir, id), &g); err != nil {
		return nil, fmt.Errorf("goal %s: %w", id, err)
	}
	return &g, nil
}

func (r *Repository) ListGoals(ctx context.Context) ([]model.Goal, error) {
	ids, err := r.ids(goalsDir)
	if err != nil {
		return nil, err
	}

	goals := make([]model.Goal, 0, len(ids))
	for _, id := range ids {
		g, err := r.GetGoal(ctx, id)
		if err != nil {
			r.logger.Warningf("Ignoring unreadable goal %s: %s", id, err)
			continue
		}
		goals = append(goals, *g)
	}
	sort.SliceStable(goals, func(i, j int) bool { return goals[i].CreatedAt.After(goals[j].CreatedAt) })

	return goals, nil
}

func (r *Repository) DeleteGoal(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := remove(r.path(goalsDir, id)); err != nil {
		return fmt.Errorf("goal %s: %w", id, err)
	}
	r.logger.Debugf("Deleted goal from repository: %s", id)
	return nil
}

func (r *Repository) path(kind, id string) string {
	return filepath.Join(r.dir, kind, id+recordExt)
}

func (r *Repository) ids(kind string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.dir, kind))
	if err != nil {
		return nil, fmt.Errorf("could not list %s: %w", kind, err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), recordExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), recordExt))
	}
	return ids, nil
}

func (r *Repository) write(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode record: %w", err)
	}

	return fileutil.WriteAtomic(path, data, 0o644)
}

func (r *Repository) read(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.ErrNotFound
		}
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("could not decode record: %w", err)
	}
	return nil
}

func remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.ErrNotFound
	}
	return err
}

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid record id %q: %w", id, model.ErrNotValid)
	}
	return nil
}
