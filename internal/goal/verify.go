package goal

import (
	"context"
	"fmt"
	"strings"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/resolver"
	"github.com/slok/stepflow/internal/tool"
)

// DefaultVerifyRetries is the number of times a verification is retried.
const DefaultVerifyRetries = 2

// VerifyingCallerConfig is the configuration of the verifying caller.
type VerifyingCallerConfig struct {
	Tools   tool.Caller
	Retries int
	Logger  log.Logger
}

func (c *VerifyingCallerConfig) defaults() error {
	if c.Tools == nil {
		return fmt.Errorf("tools caller is required")
	}
	if c.Retries <= 0 {
		c.Retries = DefaultVerifyRetries
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "goal.VerifyingCaller"})
	return nil
}

// VerifyingCaller is a tool.Caller that checks the effect of every successful
// call before returning it as settled.
type VerifyingCaller struct {
	tools   tool.Caller
	retries int
	logger  log.Logger
}

// NewVerifyingCaller returns a new verifying caller.
func NewVerifyingCaller(cfg VerifyingCallerConfig) (*VerifyingCaller, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &VerifyingCaller{
		tools:   cfg.Tools,
		retries: cfg.Retries,
		logger:  cfg.Logger,
	}, nil
}

// verification checks a tool effect, redo tells if the call can be repeated
// when the check fails.
type verification struct {
	check func(ctx context.Context) (bool, string)
	redo  bool
}

// Call satisfies tool.Caller.
func (v *VerifyingCaller) Call(ctx context.Context, name string, params any) (*tool.Result, error) {
	res, err := v.tools.Call(ctx, name, params)
	if err != nil || res == nil || !res.Success {
		return res, err
	}

	p, _ := params.(map[string]any)
	vf := v.verification(ctx, name, p)
	if vf == nil {
		return res, nil
	}

	var reason string
	for attempt := 0; attempt <= v.retries; attempt++ {
		var ok bool
		ok, reason = vf.check(ctx)
		if ok {
			return res, nil
		}
		if attempt == v.retries || ctx.Err() != nil {
			break
		}

		v.logger.Debugf("Verification of %s failed (%d/%d): %s", name, attempt+1, v.retries, reason)
		if vf.redo {
			res, err = v.tools.Call(ctx, name, params)
			if err != nil || res == nil || !res.Success {
				return res, err
			}
		}
	}

	v.logger.Warningf("Verification of %s failed: %s", name, reason)
	return &tool.Result{
		Success: false,
		Result:  res.Result,
		Error:   fmt.Sprintf("verification failed: %s", reason),
	}, nil
}

func (v *VerifyingCaller) verification(ctx context.Context, name string, params map[string]any) *verification {
	path := tool.StringParam(params, "path")

	switch name {
	case "write_file", "append_file":
		content := tool.StringParam(params, "content")
		return &verification{
			redo: name == "write_file",
			check: func(ctx context.Context) (bool, string) {
				res, err := v.tools.Call(ctx, "read_file", map[string]any{"path": path})
				if err != nil {
					return false, err.Error()
				}
				if !res.Success {
					return false, fmt.Sprintf("could not read back %s: %s", path, res.Error)
				}
				if !strings.Contains(resolver.Format(res.Result), content) {
					return false, fmt.Sprintf("%s does not contain the written content", path)
				}
				return true, ""
			},
		}

	case "create_directory":
		return &verification{
			redo: true,
			check: func(ctx context.Context) (bool, string) {
				exists, kind, err := statPath(ctx, v.tools, path)
				if err != nil {
					return false, err.Error()
				}
				if !exists || kind != "directory" {
					return false, fmt.Sprintf("directory %s was not created", path)
				}
				return true, ""
			},
		}

	case "delete_file":
		return &verification{
			check: func(ctx context.Context) (bool, string) {
				exists, _, err := statPath(ctx, v.tools, path)
				if err != nil {
					return false, err.Error()
				}
				if exists {
					return false, fmt.Sprintf("%s still exists", path)
				}
				return true, ""
			},
		}

	case "run_command":
		// Commands are only re-run when the step asks for it.
		step, ok := tool.StepFromContext(ctx)
		if !ok || !step.Verify {
			return nil
		}
		return &verification{
			check: func(ctx context.Context) (bool, string) {
				res, err := v.tools.Call(ctx, name, params)
				if err != nil {
					return false, err.Error()
				}
				if !res.Success {
					return false, fmt.Sprintf("command re-run failed: %s", res.Error)
				}
				return true, ""
			},
		}
	}

	return nil
}
