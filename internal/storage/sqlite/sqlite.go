package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.Repository. Records are
// stored as JSON documents with a few indexed columns.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

// NewRepository creates a new SQLite repository.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s", cfg.DBPath)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// SaveCheckpoint creates or replaces a checkpoint.
func (r *Repository) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	if cp.TaskID == "" {
		return fmt.Errorf("task id is required: %w", model.ErrNotValid)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("could not encode checkpoint: %w", err)
	}

	query := `
		INSERT INTO checkpoints (task_id, goal_id, state, version, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			goal_id = excluded.goal_id,
			state = excluded.state,
			version = excluded.version,
			data = excluded.data,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		cp.TaskID,
		cp.GoalID,
		cp.State,
		cp.Version,
		string(data),
		cp.CreatedAt.UnixNano(),
		cp.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("could not save checkpoint: %w", err)
	}

	r.logger.Debugf("Saved checkpoint in repository: %s", cp.TaskID)
	return nil
}

// GetCheckpoint retrieves a checkpoint by task ID.
func (r *Repository) GetCheckpoint(ctx context.Context, taskID string) (*model.Checkpoint, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM checkpoints WHERE task_id = ?`, taskID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("checkpoint %s: %w", taskID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query checkpoint: %w", err)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return nil, fmt.Errorf("could not decode checkpoint %s: %w", taskID, err)
	}

	return &cp, nil
}

// ListCheckpoints returns all checkpoints, newest first.
func (r *Repository) ListCheckpoints(ctx context.Context) ([]model.Checkpoint, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT task_id, data FROM checkpoints ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("could not query checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []model.Checkpoint
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}

		var cp model.Checkpoint
		if err := json.Unmarshal([]byte(data), &cp); err != nil {
			r.logger.Warningf("Ignoring unreadable checkpoint %s: %s", id, err)
			continue
		}
		cps = append(cps, cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return cps, nil
}

// DeleteCheckpoint deletes a checkpoint.
func (r *Repository) DeleteCheckpoint(ctx context.Context, taskID string) error {
	return r.delete(ctx, `DELETE FROM checkpoints WHERE task_id = ?`, "checkpoint", taskID)
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

	query := `
		INSERT INTO goals (id, state, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			data = excluded.data,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, query, g.ID, g.State, string(data), g.CreatedAt.UnixNano(), g.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("could not save goal: %w", err)
	}

	r.logger.Debugf("Saved goal in repository: %s", g.ID)
	return nil
}

// GetGoal retrieves a goal by ID.
func (r *Repository) GetGoal(ctx context.Context, id string) (*model.Goal, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM goals WHERE id = ?`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("goal %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query goal: %w", err)
	}

	var g model.Goal
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return nil, fmt.Errorf("could not decode goal %s: %w", id, err)
	}

	return &g, nil
}

// ListGoals returns all goals, newest first.
func (r *Repository) ListGoals(ctx context.Context) ([]model.Goal, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, data FROM goals ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("could not query goals: %w", err)
	}
	defer rows.Close()

	var goals []model.Goal
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}

		var g model.Goal
		if err := json.Unmarshal([]byte(data), &g); err != nil {
			r.logger.Warningf("Ignoring unreadable goal %s: %s", id, err)
			continue
		}
		goals = append(goals, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return goals, nil
}

// DeleteGoal deletes a goal.
func (r *Repository) DeleteGoal(ctx context.Context, id string) error {
	return r.delete(ctx, `DELETE FROM goals WHERE id = ?`, "goal", id)
}

func (r *Repository) delete(ctx context.Context, query, kind, id string) error {
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("could not delete %s: %w", kind, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
	}

	r.logger.Debugf("Deleted %s from repository: %s", kind, id)
	return nil
}
