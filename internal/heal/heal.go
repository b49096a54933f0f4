package heal

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
)

// MaxRetries is the max number of healing retries for the same step within one attempt.
const MaxRetries = 2

// Input is the failed tool call the healer receives.
type Input struct {
	Tool   string
	Params map[string]any
	Err    string
	// ErrorType is the structured error type returned by the tool, if any.
	ErrorType model.ErrorType
}

// Outcome is the healing result of a failed tool call.
type Outcome struct {
	Strategy       string
	ErrorType      model.ErrorType
	Healed         bool
	Retry          bool
	Message        string
	Suggestion     string
	ModifiedParams map[string]any
	ModifiedTool   string
	// Cleanup releases what the heal created, it's called once the step settles.
	Cleanup func()
}

// HealerConfig is the configuration of the Healer.
type HealerConfig struct {
	// Strategies is the ordered strategy table, the first match wins.
	Strategies []Strategy
	// BusyWait is the sleep applied before retrying a busy resource.
	BusyWait time.Duration
	// TempDir is where rewritten shell scripts are stored.
	TempDir string
	// Sleep is used to wait, it's replaced on tests.
	Sleep  func(ctx context.Context, d time.Duration) error
	NewID  func() string
	Logger log.Logger
}

func (c *HealerConfig) defaults() error {
	if c.Strategies == nil {
		c.Strategies = DefaultStrategies
	}
	if c.BusyWait <= 0 {
		c.BusyWait = 500 * time.Millisecond
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	if c.Sleep == nil {
		c.Sleep = sleep
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "heal.Healer"})
	return nil
}

// Env is what a strategy heal function can use.
type Env struct {
	BusyWait time.Duration
	TempDir  string
	Sleep    func(ctx context.Context, d time.Duration) error
	NewID    func() string
}

// Healer scans the strategy table for a failed tool call.
type Healer struct {
	strategies []Strategy
	env        Env
	logger     log.Logger
}

// NewHealer returns a new healer.
func NewHealer(cfg HealerConfig) (*Healer, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Healer{
		strategies: cfg.Strategies,
		env: Env{
			BusyWait: cfg.BusyWait,
			TempDir:  cfg.TempDir,
			Sleep:    cfg.Sleep,
			NewID:    cfg.NewID,
		},
		logger: cfg.Logger,
	}, nil
}

// TryHeal runs the first strategy that detects the failure. When no strategy
// matches the outcome is not healed and has the unknown error type.
func (h *Healer) TryHeal(ctx context.Context, in Input) Outcome {
	if in.Params == nil {
		in.Params = map[string]any{}
	}

	for _, s := range h.strategies {
		if !s.Detect(in) {
			continue
		}

		out := s.Heal(ctx, h.env, in)
		out.Strategy = s.Name
		if out.ErrorType == "" {
			out.ErrorType = s.Type
		}
		h.logger.Debugf("Strategy %q matched tool %q error (healed: %t, retry: %t)", s.Name, in.Tool, out.Healed, out.Retry)
		return out
	}

	return Outcome{ErrorType: h.Classify(in)}
}

// Classify returns the error type of a failure using the structured type first and
// the message patterns of the strategy table as the fallback.
func (h *Healer) Classify(in Input) model.ErrorType {
	if in.ErrorType != "" {
		return in.ErrorType
	}
	for _, s := range h.strategies {
		if s.Pattern != nil && s.Pattern.MatchString(in.Err) {
			return s.Type
		}
	}
	return model.ErrorTypeUnknown
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
