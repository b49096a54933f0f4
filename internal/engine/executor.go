package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slok/stepflow/internal/checkpoint"
	"github.com/slok/stepflow/internal/heal"
	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/plan"
	"github.com/slok/stepflow/internal/resolver"
	"github.com/slok/stepflow/internal/tool"
)

// DefaultMaxParallel is the default max number of concurrent tool calls in a level.
const DefaultMaxParallel = 8

// EventHandler receives the execution events. It's always called from a single goroutine.
type EventHandler func(ev model.Event)

// ExecutorConfig is the configuration of the executor.
type ExecutorConfig struct {
	Tools tool.Caller
	// Checker is consulted before every tool call.
	Checker tool.Checker
	// Confirmer approves gated steps, without it gated steps pause the task as NEED_USER.
	Confirmer   tool.Confirmer
	Healer      *heal.Healer
	Resolver    *resolver.Resolver
	Builder     *plan.Builder
	Checkpoints *checkpoint.Manager
	OnEvent     EventHandler
	MaxParallel int
	Now         func() time.Time
	Logger      log.Logger
}

func (c *ExecutorConfig) defaults() error {
	if c.Tools == nil {
		return fmt.Errorf("tools caller is required")
	}
	if c.Checker == nil {
		c.Checker = tool.AllowAll
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "engine.Executor"})

	if c.Resolver == nil {
		r, err := resolver.NewResolver(resolver.ResolverConfig{Logger: c.Logger})
		if err != nil {
			return fmt.Errorf("could not create resolver: %w", err)
		}
		c.Resolver = r
	}
	if c.Builder == nil {
		b, err := plan.NewBuilder(plan.BuilderConfig{Resolver: c.Resolver, Logger: c.Logger})
		if err != nil {
			return fmt.Errorf("could not create plan builder: %w", err)
		}
		c.Builder = b
	}
	if c.Healer == nil {
		h, err := heal.NewHealer(heal.HealerConfig{Logger: c.Logger})
		if err != nil {
			return fmt.Errorf("could not create healer: %w", err)
		}
		c.Healer = h
	}
	if c.OnEvent == nil {
		c.OnEvent = func(model.Event) {}
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = DefaultMaxParallel
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

// Executor drives tasks through their plans level by level.
type Executor struct {
	tools       tool.Caller
	checker     tool.Checker
	confirmer   tool.Confirmer
	healer      *heal.Healer
	resolver    *resolver.Resolver
	builder     *plan.Builder
	checkpoints *checkpoint.Manager
	onEvent     EventHandler
	maxParallel int
	now         func() time.Time
	logger      log.Logger
}

// NewExecutor returns a new executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Executor{
		tools:       cfg.Tools,
		checker:     cfg.Checker,
		confirmer:   cfg.Confirmer,
		healer:      cfg.Healer,
		resolver:    cfg.Resolver,
		builder:     cfg.Builder,
		checkpoints: cfg.Checkpoints,
		onEvent:     cfg.OnEvent,
		maxParallel: cfg.MaxParallel,
		now:         cfg.Now,
		logger:      cfg.Logger,
	}, nil
}

// run is the state of one task execution. Only the executor goroutine that
// records results mutates it.
type run struct {
	task    *model.Task
	logger  log.Logger
	resumed bool
	// stopped is the reason the remaining plan is not executed.
	stopped   string
	needUser  bool
	timedOut  bool
	cancelled bool
}

func (r *run) savedBySuccessfulStep(name string, v any) bool {
	found := false
	for _, n := range r.task.Plan.Nodes {
		if n.Step.SaveAs != name && n.LoopSaveAs != name {
			continue
		}
		found = true
		if res := r.task.Results[n.Index]; res == nil || !res.Success {
			return false
		}
	}
	if found {
		return true
	}

	if m, ok := v.(map[string]any); ok {
		if s, ok := m["success"].(bool); ok {
			return s
		}
	}
	return !resolver.IsMissing(v)
}

// call is a prepared tool call of a node.
type call struct {
	node   *model.PlanNode
	tool   string
	params any
}

type outcome struct {
	call   call
	result *model.StepResult
}

// Run executes a new task. The plan is built when the task doesn't have one.
func (e *Executor) Run(ctx context.Context, task *model.Task) error {
	if task.Plan == nil {
		p, err := e.builder.Build(task.Steps, task.Variables)
		if err != nil {
			return fmt.Errorf("could not build plan: %w", err)
		}
		task.Plan = p
	}
	if task.Variables == nil {
		task.Variables = map[string]any{}
	}
	task.Results = make([]*model.StepResult, len(task.Plan.Nodes))
	task.State = model.TaskStatePending
	task.CurrentStep = 0
	if task.CreatedAt.IsZero() {
		task.CreatedAt = e.now()
	}

	if e.checkpoints != nil {
		if _, err := e.checkpoints.Create(ctx, task); err != nil {
			return fmt.Errorf("could not create checkpoint: %w", err)
		}
	}

	return e.execute(ctx, &run{task: task})
}

// Resume continues a checkpointed task. Settled steps are replayed from the
// checkpoint and never executed again.
func (e *Executor) Resume(ctx context.Context, taskID string) (*model.Task, error) {
	if e.checkpoints == nil {
		return nil, fmt.Errorf("resuming requires checkpoints: %w", model.ErrNotValid)
	}

	info, err := e.checkpoints.Resume(ctx, taskID)
	if err != nil {
		return nil, err
	}
	cp := info.Checkpoint

	task := &model.Task{
		ID:        cp.TaskID,
		GoalID:    cp.GoalID,
		Steps:     cp.Steps,
		Plan:      cp.Plan,
		Variables: info.Context,
		Options:   cp.Options,
		State:     model.TaskStatePending,
		CreatedAt: cp.CreatedAt,
	}
	if task.Plan == nil {
		p, err := e.builder.Build(task.Steps, task.Variables)
		if err != nil {
			_ = e.checkpoints.UpdateState(ctx, taskID, model.CheckpointStateFailed, model.TaskStateFailed)
			return nil, fmt.Errorf("could not build plan: %w", err)
		}
		task.Plan = p
	}

	task.Results = make([]*model.StepResult, len(task.Plan.Nodes))
	pending := map[int]bool{}
	for _, i := range info.PendingSteps {
		pending[i] = true
	}
	for i := range task.Results {
		res, ok := cp.Results[i]
		if !ok || pending[i] || res == nil {
			continue
		}
		res.Replayed = true
		task.Results[i] = res
	}
	if len(info.PendingSteps) > 0 {
		task.CurrentStep = info.PendingSteps[0]
	} else {
		task.CurrentStep = len(task.Plan.Nodes)
	}

	return task, e.execute(ctx, &run{task: task, resumed: true})
}

func (e *Executor) execute(ctx context.Context, r *run) error {
	task := r.task
	r.logger = e.logger.WithValues(log.Kv{"task-id": task.ID})

	timeout, err := task.Options.TaskTimeout()
	if err != nil {
		return err
	}
	taskCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	task.State = model.TaskStateRunning
	task.UpdatedAt = e.now()
	e.updateCheckpointState(ctx, r, model.CheckpointStateRunning)
	r.logger.Infof("Running task with %d steps in %d levels", len(task.Plan.Nodes), len(task.Plan.Levels))

	for li, level := range task.Plan.Levels {
		if ctx.Err() != nil {
			r.cancelled = true
			break
		}
		if taskCtx.Err() != nil {
			r.timedOut = true
			if r.stopped == "" {
				r.stopped = "task timed out"
			}
			break
		}
		if r.stopped != "" || r.needUser {
			break
		}

		calls := e.prepareLevel(taskCtx, r, level)
		e.runLevel(ctx, taskCtx, r, calls)

		task.Checkpoints = append(task.Checkpoints, model.TaskSnapshot{
			Level:       li,
			CurrentStep: task.CurrentStep,
			State:       task.State,
			Variables:   copyVars(task.Variables),
			TakenAt:     e.now(),
		})

		if ctx.Err() != nil {
			r.cancelled = true
			break
		}
	}

	return e.finish(ctx, r)
}

// prepareLevel evaluates conditions, resolves params, checks safety and the
// confirmation gate of the unsettled nodes of a level. Nodes that don't need a
// tool call are recorded directly.
func (e *Executor) prepareLevel(ctx context.Context, r *run, level []string) []call {
	task := r.task
	levelVars := copyVars(task.Variables)

	var calls []call
	for _, id := range level {
		node, ok := task.Plan.NodeByID(id)
		if !ok || task.Results[node.Index].Settled() {
			continue
		}

		vars := levelVars
		if len(node.Step.Scope) > 0 {
			vars = copyVars(levelVars)
			for k, v := range node.Step.Scope {
				vars[k] = v
			}
		}

		logger := r.logger.WithValues(log.Kv{"step": node.ID, "tool": node.Step.Tool})

		ok, reason := e.evalCondition(r, node, vars)
		if !ok {
			logger.Debugf("Step skipped: %s", reason)
			e.recordStepResult(ctx, r, call{node: node, tool: node.Step.Tool}, e.newResult(node, model.StepStatusSkipped, func(res *model.StepResult) {
				res.Reason = reason
			}))
			continue
		}

		params := e.resolver.Resolve(node.Step.Params, vars)
		c := call{node: node, tool: node.Step.Tool, params: params}

		if r.resumed && e.checkpoints != nil {
			if prev, ok := e.checkpoints.ExecutedResult(task.ID, c.tool, c.params); ok {
				logger.Infof("Step already executed before resuming, not running it again")
				e.recordStepResult(ctx, r, c, e.newResult(node, model.StepStatusSuccess, func(res *model.StepResult) {
					res.Success = true
					res.Replayed = true
					res.Reason = "already executed"
					if prev != nil {
						res.Result = prev.Result
					}
				}))
				continue
			}
		}

		decision, err := e.checker.CheckOperation(ctx, c.tool, c.params)
		if err == nil && !decision.Allowed {
			err = fmt.Errorf("%w: %s", model.ErrSafetyDenied, decision.Reason)
		}
		if err != nil {
			logger.Warningf("Step denied: %s", err)
			e.recordStepResult(ctx, r, c, e.newResult(node, model.StepStatusFailed, func(res *model.StepResult) {
				res.Error = err.Error()
				res.ErrorType = model.ErrorTypeSafetyDenied
			}))
			continue
		}

		if node.Step.Confirm {
			if e.confirmer == nil {
				logger.Infof("Step needs user confirmation")
				r.needUser = true
				continue
			}

			approved, err := e.confirmer.Confirm(ctx, tool.ConfirmRequest{TaskID: task.ID, StepID: node.ID, Tool: c.tool, Params: c.params})
			if err != nil {
				logger.Warningf("Could not get user confirmation: %s", err)
				r.needUser = true
				continue
			}
			if !approved {
				e.recordStepResult(ctx, r, c, e.newResult(node, model.StepStatusFailed, func(res *model.StepResult) {
					res.Error = "step declined by user"
					res.ErrorType = model.ErrorTypeDeclined
				}))
				continue
			}
		}

		calls = append(calls, c)
	}

	return calls
}

// runLevel executes the calls concurrently and waits for all of them to settle.
// Results are recorded by this goroutine only.
func (e *Executor) runLevel(ctx, taskCtx context.Context, r *run, calls []call) {
	if len(calls) == 0 {
		return
	}

	outcomes := make(chan outcome)
	go func() {
		var g errgroup.Group
		g.SetLimit(e.maxParallel)
		for _, c := range calls {
			c := c
			g.Go(func() error {
				outcomes <- outcome{call: c, result: e.callTool(taskCtx, r, c)}
				return nil
			})
		}
		_ = g.Wait()
		close(outcomes)
	}()

	for o := range outcomes {
		// Interrupted calls stay pending so a resume runs them again.
		if ctx.Err() != nil && !o.result.Success {
			r.logger.WithValues(log.Kv{"step": o.call.node.ID}).Warningf("Step interrupted")
			continue
		}
		e.recordStepResult(ctx, r, o.call, o.result)
	}
}

// callTool calls the tool with the healing and retry loops.
func (e *Executor) callTool(ctx context.Context, r *run, c call) *model.StepResult {
	node := c.node
	logger := r.logger.WithValues(log.Kv{"step": node.ID, "tool": node.Step.Tool})
	res := e.newResult(node, model.StepStatusFailed, nil)

	stepTimeout, err := node.Step.StepTimeout()
	if err != nil {
		res.Error = err.Error()
		res.ErrorType = model.ErrorTypeNotValid
		return res
	}

	toolName, params := c.tool, c.params
	healRetries := 0
	for attempt := 0; attempt <= node.Step.MaxRetries; attempt++ {
		for {
			res.Attempts++
			tr := e.callOnce(ctx, node.Step, toolName, params, stepTimeout)
			if tr.Success {
				res.Status = model.StepStatusSuccess
				res.Success = true
				res.Result = tr.Result
				res.Error, res.ErrorType, res.Suggestion = "", "", ""
				res.FinishedAt = e.now()
				return res
			}

			res.Error = tr.Error
			res.ErrorType = tr.ErrorType
			if ctx.Err() != nil {
				res.ErrorType = model.ErrorTypeTimeout
				res.FinishedAt = e.now()
				return res
			}

			paramsMap, _ := params.(map[string]any)
			in := heal.Input{Tool: toolName, Params: paramsMap, Err: tr.Error, ErrorType: tr.ErrorType}

			// Strategies are not run again once the healing bound is reached.
			if healRetries >= heal.MaxRetries {
				res.ErrorType = e.healer.Classify(in)
				break
			}

			out := e.healer.TryHeal(ctx, in)
			res.ErrorType = out.ErrorType
			res.Suggestion = out.Suggestion
			if out.Cleanup != nil {
				defer out.Cleanup()
			}

			if !out.Retry {
				break
			}
			healRetries++
			res.Healed = true
			logger.Infof("Healed step failure (%s), retrying: %s", out.Strategy, out.Message)
			if out.ModifiedParams != nil {
				params = out.ModifiedParams
			}
			if out.ModifiedTool != "" {
				toolName = out.ModifiedTool
			}
		}

		// Side effects of timed out calls may have happened.
		if res.ErrorType == model.ErrorTypeTimeout {
			break
		}
		if attempt < node.Step.MaxRetries {
			logger.Debugf("Step failed, retrying (%d/%d): %s", attempt+1, node.Step.MaxRetries, res.Error)
		}
	}

	logger.Warningf("Step failed: %s", res.Error)
	res.FinishedAt = e.now()
	return res
}

func (e *Executor) callOnce(ctx context.Context, step model.Step, toolName string, params any, timeout time.Duration) *tool.Result {
	callCtx := tool.WithStep(ctx, step)
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, timeout)
		defer cancel()
	}

	tr, err := e.tools.Call(callCtx, toolName, params)
	if err != nil {
		tr = &tool.Result{Success: false, Error: err.Error()}
	}
	if tr == nil {
		tr = &tool.Result{Success: false, Error: "tool returned no result"}
	}

	if !tr.Success && timeout > 0 && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		tr.ErrorType = model.ErrorTypeTimeout
		if tr.Error == "" {
			tr.Error = fmt.Sprintf("step timed out after %s", timeout)
		}
	}
	return tr
}

// recordStepResult is the single entry point that mutates the task state.
func (e *Executor) recordStepResult(ctx context.Context, r *run, c call, res *model.StepResult) {
	task := r.task
	node := c.node
	if task.Results[node.Index].Settled() {
		r.logger.Errorf("Result of step %s already recorded, ignoring", node.ID)
		return
	}

	task.Results[node.Index] = res
	if node.Index+1 > task.CurrentStep {
		task.CurrentStep = node.Index + 1
	}
	task.UpdatedAt = e.now()

	// A replayed call without a stored result keeps the current variable.
	if res.Success && node.Step.SaveAs != "" && !(res.Replayed && res.Result == nil) {
		value := resolver.ParseJSONResult(res.Result)
		task.Variables[node.Step.SaveAs] = value

		if node.LoopSaveAs != "" && node.LoopIndex != nil {
			agg := make([]any, node.LoopCount)
			if prev, ok := task.Variables[node.LoopSaveAs].([]any); ok {
				copy(agg, prev)
			}
			if *node.LoopIndex < len(agg) {
				agg[*node.LoopIndex] = value
			}
			task.Variables[node.LoopSaveAs] = agg
		}
	}

	if res.Status == model.StepStatusFailed && node.Step.IsRequired() && task.Options.ShouldStopOnError() && r.stopped == "" {
		r.stopped = fmt.Sprintf("step %s failed", node.ID)
	}

	if e.checkpoints != nil {
		err := e.checkpoints.UpdateStep(ctx, task.ID, checkpoint.StepUpdate{
			Index:     node.Index,
			Tool:      c.tool,
			Params:    c.params,
			Result:    res,
			Variables: task.Variables,
		})
		if err != nil {
			r.logger.Errorf("Could not checkpoint step %s: %s", node.ID, err)
		}
	}

	e.onEvent(model.Event{
		Type:       model.EventStepResult,
		TaskID:     task.ID,
		GoalID:     task.GoalID,
		StepIndex:  node.Index,
		StepID:     node.ID,
		Tool:       node.Step.Tool,
		Status:     res.Status,
		Success:    res.Success,
		Error:      res.Error,
		ErrorType:  res.ErrorType,
		Suggestion: res.Suggestion,
		State:      task.State,
		Timestamp:  task.UpdatedAt,
	})
}

func (e *Executor) finish(ctx context.Context, r *run) error {
	task := r.task

	var runErr error
	switch {
	case r.cancelled:
		task.State = model.TaskStatePaused
		runErr = fmt.Errorf("task %s paused: %w", task.ID, context.Cause(ctx))
	case r.needUser && r.stopped == "":
		task.State = model.TaskStateNeedUser
		runErr = fmt.Errorf("task %s: %w", task.ID, model.ErrNeedUser)
	default:
		e.markNotRun(r)
		task.State = model.TaskStateSuccess
		if r.timedOut {
			task.State = model.TaskStateFailed
		}
		for _, n := range task.Plan.Nodes {
			res := task.Results[n.Index]
			if res != nil && res.Status == model.StepStatusFailed && n.Step.IsRequired() {
				task.State = model.TaskStateFailed
				break
			}
		}
	}
	task.UpdatedAt = e.now()

	// Persistence must survive the cancellation of the run context.
	saveCtx := context.WithoutCancel(ctx)
	switch task.State {
	case model.TaskStatePaused, model.TaskStateNeedUser:
		e.updateCheckpointState(saveCtx, r, model.CheckpointStatePaused)
		if e.checkpoints != nil {
			if err := e.checkpoints.Release(saveCtx, task.ID); err != nil {
				r.logger.Errorf("Could not release checkpoint: %s", err)
			}
		}
	case model.TaskStateSuccess:
		e.updateCheckpointState(saveCtx, r, model.CheckpointStateCompleted)
	default:
		e.updateCheckpointState(saveCtx, r, model.CheckpointStateFailed)
	}

	r.logger.Infof("Task finished with state %s", task.State)
	e.onEvent(model.Event{
		Type:      model.EventBatchComplete,
		TaskID:    task.ID,
		GoalID:    task.GoalID,
		StepIndex: task.CurrentStep,
		Success:   task.State == model.TaskStateSuccess,
		State:     task.State,
		Timestamp: task.UpdatedAt,
	})

	return runErr
}

// markNotRun records the steps that were not executed because the task stopped.
func (e *Executor) markNotRun(r *run) {
	if r.stopped == "" {
		return
	}

	for i, n := range r.task.Plan.Nodes {
		if r.task.Results[i].Settled() {
			continue
		}
		node := n
		r.task.Results[i] = e.newResult(&node, model.StepStatusNotRun, func(res *model.StepResult) {
			res.Reason = r.stopped
		})
	}
}

func (e *Executor) updateCheckpointState(ctx context.Context, r *run, state model.CheckpointState) {
	if e.checkpoints == nil {
		return
	}
	if err := e.checkpoints.UpdateState(ctx, r.task.ID, state, r.task.State); err != nil {
		r.logger.Errorf("Could not update checkpoint state: %s", err)
	}
}

func (e *Executor) newResult(node *model.PlanNode, status model.StepStatus, fn func(*model.StepResult)) *model.StepResult {
	now := e.now()
	res := &model.StepResult{
		Index:      node.Index,
		StepID:     node.ID,
		Tool:       node.Step.Tool,
		Status:     status,
		StartedAt:  now,
		FinishedAt: now,
	}
	if fn != nil {
		fn(res)
	}
	return res
}

func copyVars(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
