package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/plan"
	"github.com/slok/stepflow/internal/storage"
)

// Defaults.
const (
	DefaultAutoSaveInterval = 5 * time.Second
	DefaultRetention        = 7 * 24 * time.Hour
	DefaultMaxRecords       = 100
)

// ManagerConfig is the configuration of the checkpoint manager.
type ManagerConfig struct {
	Repository       storage.CheckpointRepository
	AutoSaveInterval time.Duration
	// Retention is the max age of completed records.
	Retention time.Duration
	// MaxRecords is the max number of retained records regardless of age.
	MaxRecords int
	Now        func() time.Time
	Logger     log.Logger
}

func (c *ManagerConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.AutoSaveInterval <= 0 {
		c.AutoSaveInterval = DefaultAutoSaveInterval
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.MaxRecords <= 0 {
		c.MaxRecords = DefaultMaxRecords
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "checkpoint.Manager"})
	return nil
}

type active struct {
	cp   *model.Checkpoint
	stop chan struct{}
	done chan struct{}
}

// Manager owns the checkpoints of the tasks running in this process and mirrors
// them to the repository on every update and on an auto-save interval.
type Manager struct {
	repo       storage.CheckpointRepository
	interval   time.Duration
	retention  time.Duration
	maxRecords int
	now        func() time.Time
	logger     log.Logger

	mu     sync.Mutex
	active map[string]*active
	// saveMu orders repository writes with the in-memory snapshots they persist.
	saveMu sync.Mutex
}

// NewManager returns a new checkpoint manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Manager{
		repo:       cfg.Repository,
		interval:   cfg.AutoSaveInterval,
		retention:  cfg.Retention,
		maxRecords: cfg.MaxRecords,
		now:        cfg.Now,
		logger:     cfg.Logger,
		active:     map[string]*active{},
	}, nil
}

// IdempotencyKey returns the derived identity of a tool call.
func IdempotencyKey(tool string, params any) string {
	data, err := json.Marshal(params)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", params))
	}
	return tool + "::" + string(data)
}

// Create creates the checkpoint of a new task and starts auto-saving it.
func (m *Manager) Create(ctx context.Context, task *model.Task) (*model.Checkpoint, error) {
	_, err := m.repo.GetCheckpoint(ctx, task.ID)
	if err == nil {
		return nil, fmt.Errorf("checkpoint %s: %w", task.ID, model.ErrAlreadyExists)
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("could not check existing checkpoint: %w", err)
	}

	now := m.now()
	cp := &model.Checkpoint{
		Version:     model.CheckpointVersion,
		TaskID:      task.ID,
		GoalID:      task.GoalID,
		State:       model.CheckpointStateCreated,
		TaskState:   task.State,
		Steps:       task.Steps,
		Plan:        task.Plan,
		Options:     task.Options,
		CurrentStep: task.CurrentStep,
		Context:     task.Variables,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	cp.Normalize()

	// The record is owned by the manager from now on.
	owned, err := clone(cp)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, ok := m.active[task.ID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("checkpoint %s: %w", task.ID, model.ErrAlreadyExists)
	}
	m.activate(owned)
	m.mu.Unlock()

	if err := m.save(ctx, task.ID); err != nil {
		m.deactivate(task.ID)
		return nil, err
	}

	m.logger.WithValues(log.Kv{"task-id": task.ID}).Debugf("Checkpoint created")
	return clone(owned)
}

// StepUpdate is a settled step to record in the checkpoint.
type StepUpdate struct {
	Index int
	// Tool and Params are the resolved call used to derive the idempotency key.
	Tool   string
	Params any
	Result *model.StepResult
	// Variables is the task variable store after the step settled.
	Variables map[string]any
}

// UpdateStep records a settled step, its idempotency key and the variables.
func (m *Manager) UpdateStep(ctx context.Context, taskID string, u StepUpdate) error {
	if u.Result == nil {
		return fmt.Errorf("step result is required: %w", model.ErrNotValid)
	}

	err := m.mutate(taskID, func(cp *model.Checkpoint, now time.Time) error {
		if u.Index < 0 || u.Index >= cp.Progress.Total {
			return fmt.Errorf("step index %d out of range: %w", u.Index, model.ErrNotValid)
		}

		res, err := cloneValue(u.Result)
		if err != nil {
			return err
		}
		cp.Results[u.Index] = res
		cp.MarkStep(u.Index, u.Result.Status)
		if u.Index+1 > cp.CurrentStep {
			cp.CurrentStep = u.Index + 1
		}

		if u.Result.Status == model.StepStatusFailed {
			cp.Errors = append(cp.Errors, model.CheckpointError{
				StepIndex: u.Index,
				Tool:      u.Tool,
				Message:   u.Result.Error,
				ErrorType: u.Result.ErrorType,
				Timestamp: now,
			})
		}

		// Keys only grow and a successful record is never downgraded.
		if u.Tool != "" && u.Result.Status != model.StepStatusSkipped && u.Result.Status != model.StepStatusNotRun {
			key := IdempotencyKey(u.Tool, u.Params)
			if prev, ok := cp.IdempotencyKeys[key]; !ok || !prev.Success {
				cp.IdempotencyKeys[key] = model.IdempotencyRecord{
					StepIndex: u.Index,
					Success:   u.Result.Success,
					Timestamp: now,
				}
			}
		}

		if u.Variables != nil {
			vars, err := cloneValue(&u.Variables)
			if err != nil {
				return err
			}
			cp.Context = *vars
		}

		if cp.State == model.CheckpointStateCreated || cp.State == model.CheckpointStateResuming {
			cp.State = model.CheckpointStateRunning
		}
		return nil
	})
	if err != nil {
		return err
	}

	return m.save(ctx, taskID)
}

// UpdateState sets the checkpoint and task states. Auto-save stops once the
// checkpoint is completed or failed.
func (m *Manager) UpdateState(ctx context.Context, taskID string, state model.CheckpointState, taskState model.TaskState) error {
	err := m.mutate(taskID, func(cp *model.Checkpoint, now time.Time) error {
		cp.State = state
		if taskState != "" {
			cp.TaskState = taskState
		}
		if state.IsTerminal() {
			cp.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := m.save(ctx, taskID); err != nil {
		return err
	}

	if state.IsTerminal() {
		m.deactivate(taskID)
	}
	return nil
}

// ResumeInfo is what an executor needs to continue a task.
type ResumeInfo struct {
	Checkpoint   *model.Checkpoint
	PendingSteps []int
	Context      map[string]any
}

// Resume loads a checkpoint, records the resume in its history and reactivates it.
func (m *Manager) Resume(ctx context.Context, taskID string) (*ResumeInfo, error) {
	m.mu.Lock()
	_, isActive := m.active[taskID]
	m.mu.Unlock()
	if isActive {
		return nil, fmt.Errorf("task %s is already running: %w", taskID, model.ErrAlreadyExists)
	}

	cp, err := m.load(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if cp.Plan != nil {
		fp, err := plan.Fingerprint(cp.Plan)
		if err != nil {
			return nil, err
		}
		if cp.Plan.Fingerprint != "" && fp != cp.Plan.Fingerprint {
			return nil, fmt.Errorf("checkpoint %s plan does not match its fingerprint: %w", taskID, model.ErrNotValid)
		}
	}

	pending := cp.PendingSteps()
	from := cp.Progress.Total
	if len(pending) > 0 {
		from = pending[0]
	}

	now := m.now()
	cp.ResumeHistory = append(cp.ResumeHistory, model.ResumeEntry{
		Timestamp:       now,
		ResumedFromStep: from,
		PreviousState:   cp.State,
	})
	cp.State = model.CheckpointStateResuming
	cp.CompletedAt = nil
	cp.CurrentStep = from
	cp.UpdatedAt = now

	m.mu.Lock()
	if _, ok := m.active[taskID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("task %s is already running: %w", taskID, model.ErrAlreadyExists)
	}
	m.activate(cp)
	m.mu.Unlock()

	if err := m.save(ctx, taskID); err != nil {
		m.deactivate(taskID)
		return nil, err
	}

	out, err := clone(cp)
	if err != nil {
		return nil, err
	}

	m.logger.WithValues(log.Kv{"task-id": taskID}).Infof("Resuming task from step %d with %d pending steps", from, len(pending))
	return &ResumeInfo{Checkpoint: out, PendingSteps: pending, Context: out.Context}, nil
}

// IsStepExecuted returns true if the tool call already succeeded for the task.
func (m *Manager) IsStepExecuted(taskID, tool string, params any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.active[taskID]
	if !ok {
		return false
	}
	rec, ok := a.cp.IdempotencyKeys[IdempotencyKey(tool, params)]
	return ok && rec.Success
}

// ExecutedResult returns a copy of the result recorded by the step whose
// successful tool call has the same idempotency key. The result is nil when
// the record has no stored step result.
func (m *Manager) ExecutedResult(taskID, tool string, params any) (*model.StepResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.active[taskID]
	if !ok {
		return nil, false
	}
	rec, ok := a.cp.IdempotencyKeys[IdempotencyKey(tool, params)]
	if !ok || !rec.Success {
		return nil, false
	}
	if rec.StepIndex < 0 || rec.StepIndex >= len(a.cp.Results) || a.cp.Results[rec.StepIndex] == nil {
		return nil, true
	}

	res, err := cloneValue(a.cp.Results[rec.StepIndex])
	if err != nil {
		return nil, true
	}
	return res, true
}

// Get returns a copy of the checkpoint, active or stored.
func (m *Manager) Get(ctx context.Context, taskID string) (*model.Checkpoint, error) {
	m.mu.Lock()
	a, ok := m.active[taskID]
	if ok {
		defer m.mu.Unlock()
		return clone(a.cp)
	}
	m.mu.Unlock()

	return m.load(ctx, taskID)
}

// List returns all the stored checkpoints, newest first.
func (m *Manager) List(ctx context.Context) ([]model.Checkpoint, error) {
	cps, err := m.repo.ListCheckpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list checkpoints: %w", err)
	}
	for i := range cps {
		cps[i].Normalize()
	}
	return cps, nil
}

// Delete stops tracking a checkpoint and removes its record.
func (m *Manager) Delete(ctx context.Context, taskID string) error {
	m.deactivate(taskID)
	if err := m.repo.DeleteCheckpoint(ctx, taskID); err != nil {
		return fmt.Errorf("could not delete checkpoint: %w", err)
	}
	return nil
}

// Cleanup removes completed records older than the retention window and then the
// oldest records over the max count. Tasks running in this process are kept.
func (m *Manager) Cleanup(ctx context.Context) ([]string, error) {
	cps, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	running := map[string]bool{}
	for id := range m.active {
		running[id] = true
	}
	m.mu.Unlock()

	now := m.now()
	var removed []string
	var kept []model.Checkpoint
	for _, cp := range cps {
		if running[cp.TaskID] {
			kept = append(kept, cp)
			continue
		}

		finished := cp.UpdatedAt
		if cp.CompletedAt != nil {
			finished = *cp.CompletedAt
		}
		if cp.State == model.CheckpointStateCompleted && now.Sub(finished) > m.retention {
			removed = append(removed, cp.TaskID)
			continue
		}
		kept = append(kept, cp)
	}

	if len(kept) > m.maxRecords {
		sort.SliceStable(kept, func(i, j int) bool { return kept[i].CreatedAt.Before(kept[j].CreatedAt) })
		excess := len(kept) - m.maxRecords
		for _, cp := range kept {
			if excess == 0 {
				break
			}
			if running[cp.TaskID] {
				continue
			}
			removed = append(removed, cp.TaskID)
			excess--
		}
	}

	for _, id := range removed {
		if err := m.repo.DeleteCheckpoint(ctx, id); err != nil && !errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("could not delete checkpoint %s: %w", id, err)
		}
	}

	if len(removed) > 0 {
		m.logger.Infof("Cleaned up %d checkpoints", len(removed))
	}
	return removed, nil
}

// Release stops tracking a task without changing its record, used when a
// task is paused and will be resumed later.
func (m *Manager) Release(ctx context.Context, taskID string) error {
	if err := m.save(ctx, taskID); err != nil {
		return err
	}
	m.deactivate(taskID)
	return nil
}

// Close stops all the auto-savers after a last save.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.Release(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) load(ctx context.Context, taskID string) (*model.Checkpoint, error) {
	cp, err := m.repo.GetCheckpoint(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not load checkpoint: %w", err)
	}
	cp.Normalize()
	return cp, nil
}

func (m *Manager) mutate(taskID string, fn func(cp *model.Checkpoint, now time.Time) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.active[taskID]
	if !ok {
		return fmt.Errorf("checkpoint %s is not active: %w", taskID, model.ErrNotFound)
	}

	now := m.now()
	if err := fn(a.cp, now); err != nil {
		return err
	}
	a.cp.UpdatedAt = now
	return nil
}

func (m *Manager) save(ctx context.Context, taskID string) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.Lock()
	a, ok := m.active[taskID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("checkpoint %s is not active: %w", taskID, model.ErrNotFound)
	}
	cp, err := clone(a.cp)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if err := m.repo.SaveCheckpoint(ctx, *cp); err != nil {
		return fmt.Errorf("could not save checkpoint: %w", err)
	}
	return nil
}

// activate must be called with the lock held.
func (m *Manager) activate(cp *model.Checkpoint) {
	a := &active{cp: cp, stop: make(chan struct{}), done: make(chan struct{})}
	m.active[cp.TaskID] = a
	go m.autoSave(cp.TaskID, a)
}

func (m *Manager) deactivate(taskID string) {
	m.mu.Lock()
	a, ok := m.active[taskID]
	if ok {
		delete(m.active, taskID)
	}
	m.mu.Unlock()

	if ok {
		close(a.stop)
		<-a.done
	}
}

func (m *Manager) autoSave(taskID string, a *active) {
	defer close(a.done)

	t := time.NewTicker(m.interval)
	defer t.Stop()

	logger := m.logger.WithValues(log.Kv{"task-id": taskID})
	for {
		select {
		case <-a.stop:
			return
		case <-t.C:
			if err := m.save(context.Background(), taskID); err != nil && !errors.Is(err, model.ErrNotFound) {
				logger.Warningf("Auto-save failed: %s", err)
			}
		}
	}
}

func clone(cp *model.Checkpoint) (*model.Checkpoint, error) {
	out, err := cloneValue(cp)
	if err != nil {
		return nil, err
	}
	out.Normalize()
	return out, nil
}

func cloneValue[T any](v *T) (*T, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("could not encode checkpoint data: %w", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("could not decode checkpoint data: %w", err)
	}
	return &out, nil
}
