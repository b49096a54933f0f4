package goal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/slok/stepflow/internal/checkpoint"
	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/storage"
)

// TaskRunner runs a task until it settles.
type TaskRunner interface {
	Run(ctx context.Context, task *model.Task) error
}

// RunnerConfig is the configuration of the goal runner.
type RunnerConfig struct {
	Tasks     TaskRunner
	Validator *Validator
	// Repository archives the goals, optional.
	Repository storage.GoalRepository
	NewTaskID  func(goalID string, attempt int) string
	OnEvent    func(model.Event)
	Now        func() time.Time
	Logger     log.Logger
}

func (c *RunnerConfig) defaults() error {
	if c.Tasks == nil {
		return fmt.Errorf("task runner is required")
	}
	if c.Validator == nil {
		return fmt.Errorf("validator is required")
	}
	if c.NewTaskID == nil {
		c.NewTaskID = func(goalID string, attempt int) string { return fmt.Sprintf("%s-%d", goalID, attempt) }
	}
	if c.OnEvent == nil {
		c.OnEvent = func(model.Event) {}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "goal.Runner"})
	return nil
}

// Runner executes goals: it runs the plan, validates the criteria and adjusts
// the plan with the gap remediations until the goal is met or the attempts run out.
// It owns the set of active goals.
type Runner struct {
	tasks     TaskRunner
	validator *Validator
	repo      storage.GoalRepository
	newTaskID func(goalID string, attempt int) string
	onEvent   func(model.Event)
	now       func() time.Time
	logger    log.Logger

	mu     sync.Mutex
	active map[string]*model.Goal
}

// NewRunner returns a new goal runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Runner{
		tasks:     cfg.Tasks,
		validator: cfg.Validator,
		repo:      cfg.Repository,
		newTaskID: cfg.NewTaskID,
		onEvent:   cfg.OnEvent,
		now:       cfg.Now,
		logger:    cfg.Logger,
		active:    map[string]*model.Goal{},
	}, nil
}

// Result is the outcome of a goal execution.
type Result struct {
	Success  bool
	Attempts int
	Gaps     []model.Gap
	Tasks    []*model.Task
}

// Execute runs the goal loop. The goal is mutated with its progress and
// archived once it settles.
func (r *Runner) Execute(ctx context.Context, g *model.Goal) (*Result, error) {
	if g.ID == "" {
		return nil, fmt.Errorf("goal id is required: %w", model.ErrNotValid)
	}
	for _, c := range g.SuccessCriteria {
		if err := ValidateCriterion(c); err != nil {
			return nil, err
		}
	}
	if err := r.activate(g); err != nil {
		return nil, err
	}
	defer r.deactivate(g.ID)

	logger := r.logger.WithValues(log.Kv{"goal-id": g.ID})
	limit := g.AttemptsLimit()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = r.now()
	}
	g.State = model.TaskStateRunning
	r.persist(ctx, logger, g)

	res := &Result{}
	for attempt := 1; attempt <= limit; attempt++ {
		g.Attempts = attempt
		res.Attempts = attempt
		logger.Infof("Running goal attempt %d/%d", attempt, limit)

		task := &model.Task{
			ID:      r.newTaskID(g.ID, attempt),
			GoalID:  g.ID,
			Steps:   append([]model.Step{}, g.Plan...),
			Options: g.Options,
		}
		g.TaskIDs = append(g.TaskIDs, task.ID)
		res.Tasks = append(res.Tasks, task)

		err := r.tasks.Run(ctx, task)
		if err != nil {
			if errors.Is(err, model.ErrNeedUser) || ctx.Err() != nil {
				// The task can be resumed, the goal is left where it is.
				g.State = task.State
				r.persist(ctx, logger, g)
				return res, fmt.Errorf("goal %s attempt %d: %w", g.ID, attempt, err)
			}

			g.State = model.TaskStateFailed
			r.complete(ctx, logger, g, false)
			return res, fmt.Errorf("goal %s attempt %d: %w", g.ID, attempt, err)
		}

		gaps := r.validator.Validate(ctx, g.SuccessCriteria, task.Variables)
		success := len(gaps) == 0 && (len(g.SuccessCriteria) > 0 || task.State == model.TaskStateSuccess)
		res.Gaps = gaps

		r.onEvent(model.Event{
			Type:      model.EventGoalAttempt,
			TaskID:    task.ID,
			GoalID:    g.ID,
			Attempt:   attempt,
			Success:   success,
			State:     task.State,
			Gaps:      gaps,
			Timestamp: r.now(),
		})

		if success {
			logger.Infof("Goal met on attempt %d", attempt)
			g.Gaps = nil
			g.State = model.TaskStateSuccess
			res.Success = true
			r.complete(ctx, logger, g, true)
			return res, nil
		}

		g.Gaps = gaps
		logger.Infof("Goal not met on attempt %d, %d gaps", attempt, len(gaps))
		if attempt == limit {
			break
		}

		if g.ShouldAutoAdjust() {
			added := Adjust(g, gaps)
			logger.Infof("Plan adjusted with %d remediation steps", added)
		}
		g.State = model.TaskStateRetrying
		r.persist(ctx, logger, g)
	}

	g.State = model.TaskStateFailed
	r.complete(ctx, logger, g, false)
	return res, nil
}

// Adjust appends the suggested actions of the gaps to the goal plan. Actions
// already present in the plan are not appended again.
func Adjust(g *model.Goal, gaps []model.Gap) int {
	present := map[string]bool{}
	for _, s := range g.Plan {
		present[checkpoint.IdempotencyKey(s.Tool, s.Params)] = true
	}

	added := 0
	for _, gap := range gaps {
		if gap.SuggestedAction == nil {
			continue
		}
		key := checkpoint.IdempotencyKey(gap.SuggestedAction.Tool, gap.SuggestedAction.Params)
		if present[key] {
			continue
		}
		present[key] = true
		g.Plan = append(g.Plan, *gap.SuggestedAction)
		added++
	}
	return added
}

// Active returns the IDs of the goals being executed.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Runner) activate(g *model.Goal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[g.ID]; ok {
		return fmt.Errorf("goal %s is already running: %w", g.ID, model.ErrAlreadyExists)
	}
	r.active[g.ID] = g
	return nil
}

func (r *Runner) deactivate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

func (r *Runner) complete(ctx context.Context, logger log.Logger, g *model.Goal, success bool) {
	now := r.now()
	g.CompletedAt = &now
	r.persist(ctx, logger, g)

	r.onEvent(model.Event{
		Type:      model.EventGoalComplete,
		GoalID:    g.ID,
		Attempt:   g.Attempts,
		Success:   success,
		State:     g.State,
		Gaps:      g.Gaps,
		Timestamp: now,
	})
}

func (r *Runner) persist(ctx context.Context, logger log.Logger, g *model.Goal) {
	g.UpdatedAt = r.now()
	if r.repo == nil {
		return
	}
	if err := r.repo.SaveGoal(context.WithoutCancel(ctx), *g); err != nil {
		logger.Errorf("Could not save goal: %s", err)
	}
}
