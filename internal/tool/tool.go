package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/slok/stepflow/internal/model"
)

// Result is the outcome of a tool call. A failed tool call is a result with
// Success false, not a Go error.
type Result struct {
	Success bool
	Result  any
	Error   string
	// ErrorType is an optional structured classification of the failure.
	ErrorType model.ErrorType
}

// Caller executes tools by name. The engine never interprets tool semantics.
type Caller interface {
	Call(ctx context.Context, tool string, params any) (*Result, error)
}

// Decision is the safety decision on an operation.
type Decision struct {
	Allowed bool
	Reason  string
}

// Checker is the safety and permission collaborator consulted before every tool call.
type Checker interface {
	CheckOperation(ctx context.Context, tool string, params any) (Decision, error)
}

// ConfirmRequest is the information shown to a human before running a gated step.
type ConfirmRequest struct {
	TaskID string
	StepID string
	Tool   string
	Params any
}

// Confirmer asks a human to approve a gated step.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) (bool, error)
}

// AllowAll is a checker that allows every operation.
var AllowAll Checker = allowAll{}

type allowAll struct{}

func (allowAll) CheckOperation(context.Context, string, any) (Decision, error) {
	return Decision{Allowed: true}, nil
}

// AutoConfirm is a confirmer that approves every step.
var AutoConfirm Confirmer = autoConfirm{}

type autoConfirm struct{}

func (autoConfirm) Confirm(context.Context, ConfirmRequest) (bool, error) { return true, nil }

// HandlerFunc is a single tool implementation.
type HandlerFunc func(ctx context.Context, params map[string]any) (*Result, error)

// Registry is a Caller that dispatches tool calls to registered handlers.
type Registry struct {
	handlers map[string]HandlerFunc
	mu       sync.RWMutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]HandlerFunc{}}
}

// Register registers a tool handler, registering an existing name replaces it.
func (r *Registry) Register(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Tools returns the registered tool names sorted.
func (r *Registry) Tools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Call satisfies Caller.
func (r *Registry) Call(ctx context.Context, name string, params any) (*Result, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return &Result{
			Success:   false,
			Error:     fmt.Sprintf("unknown tool %q", name),
			ErrorType: model.ErrorTypeNotFound,
		}, nil
	}

	p, err := ParamsMap(params)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), ErrorType: model.ErrorTypeNotValid}, nil
	}

	return h(ctx, p)
}

// ParamsMap returns the params as an object.
func ParamsMap(params any) (map[string]any, error) {
	switch p := params.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return p, nil
	}
	return nil, fmt.Errorf("tool params must be an object, got %T: %w", params, model.ErrNotValid)
}

// StringParam returns a string param, missing params return an empty string.
func StringParam(params map[string]any, name string) string {
	v, ok := params[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

type contextKey string

const stepContextKey = contextKey("stepflow-step")

// WithStep returns a context carrying the step a tool call belongs to.
func WithStep(ctx context.Context, step model.Step) context.Context {
	return context.WithValue(ctx, stepContextKey, step)
}

// StepFromContext returns the step a tool call belongs to, if any.
func StepFromContext(ctx context.Context) (model.Step, bool) {
	s, ok := ctx.Value(stepContextKey).(model.Step)
	return s, ok
}
