package goal

import (
	"context"
	"fmt"
	"strings"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/resolver"
	"github.com/slok/stepflow/internal/tool"
)

// ValidatorConfig is the configuration of the criteria validator.
type ValidatorConfig struct {
	// Tools are used to inspect the machine, criteria are checked with the same
	// tools the steps use.
	Tools    tool.Caller
	Resolver *resolver.Resolver
	Logger   log.Logger
}

func (c *ValidatorConfig) defaults() error {
	if c.Tools == nil {
		return fmt.Errorf("tools caller is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "goal.Validator"})
	if c.Resolver == nil {
		r, err := resolver.NewResolver(resolver.ResolverConfig{Logger: c.Logger})
		if err != nil {
			return fmt.Errorf("could not create resolver: %w", err)
		}
		c.Resolver = r
	}
	return nil
}

// Validator checks goal success criteria.
type Validator struct {
	tools    tool.Caller
	resolver *resolver.Resolver
	logger   log.Logger
}

// NewValidator returns a new criteria validator.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Validator{
		tools:    cfg.Tools,
		resolver: cfg.Resolver,
		logger:   cfg.Logger,
	}, nil
}

// Validate checks all the criteria and returns the unmet ones as gaps.
func (v *Validator) Validate(ctx context.Context, criteria []model.Criterion, vars map[string]any) []model.Gap {
	gaps := []model.Gap{}
	for _, c := range criteria {
		c = v.resolveCriterion(c, vars)
		ok, reason := v.Check(ctx, c, vars)
		if ok {
			continue
		}

		v.logger.Debugf("Criterion %s not met: %s", c.Type, reason)
		gaps = append(gaps, model.Gap{
			Criterion:       c,
			Reason:          reason,
			SuggestedAction: SuggestAction(c),
		})
	}
	return gaps
}

// Check checks a single criterion, when not met the reason is returned.
func (v *Validator) Check(ctx context.Context, c model.Criterion, vars map[string]any) (bool, string) {
	if err := ValidateCriterion(c); err != nil {
		return false, err.Error()
	}

	switch c.Type {
	case model.CriterionFileExists, model.CriterionFileNotExists, model.CriterionDirectoryExists:
		exists, kind, err := statPath(ctx, v.tools, c.Path)
		if err != nil {
			return false, err.Error()
		}
		switch c.Type {
		case model.CriterionFileExists:
			if !exists {
				return false, fmt.Sprintf("file %s does not exist", c.Path)
			}
		case model.CriterionFileNotExists:
			if exists {
				return false, fmt.Sprintf("file %s exists", c.Path)
			}
		case model.CriterionDirectoryExists:
			if !exists || kind != "directory" {
				return false, fmt.Sprintf("directory %s does not exist", c.Path)
			}
		}

	case model.CriterionFileContains:
		res, err := v.tools.Call(ctx, "read_file", map[string]any{"path": c.Path})
		if err != nil {
			return false, err.Error()
		}
		if !res.Success {
			return false, fmt.Sprintf("could not read %s: %s", c.Path, res.Error)
		}
		if !strings.Contains(resolver.Format(res.Result), c.Content) {
			return false, fmt.Sprintf("file %s does not contain %q", c.Path, c.Content)
		}

	case model.CriterionCommandSucceeds, model.CriterionCommandOutputContains:
		res, err := v.tools.Call(ctx, "run_command", map[string]any{"command": c.Command})
		if err != nil {
			return false, err.Error()
		}
		if !res.Success {
			return false, fmt.Sprintf("command %q failed: %s", c.Command, res.Error)
		}
		if c.Type == model.CriterionCommandOutputContains && !strings.Contains(resolver.Format(res.Result), c.Content) {
			return false, fmt.Sprintf("command %q output does not contain %q", c.Command, c.Content)
		}

	case model.CriterionVariableEquals:
		got := resolver.LookupPath(vars, c.Variable)
		if !resolver.Equal(got, c.Value) {
			return false, fmt.Sprintf("variable %q is %s, expected %s", c.Variable, resolver.Format(got), resolver.Format(c.Value))
		}
	}

	return true, ""
}

// statPath returns if the path exists and its type using the file_exists tool.
func statPath(ctx context.Context, tools tool.Caller, path string) (exists bool, kind string, err error) {
	res, err := tools.Call(ctx, "file_exists", map[string]any{"path": path})
	if err != nil {
		return false, "", err
	}
	if !res.Success {
		return false, "", fmt.Errorf("could not check %s: %s", path, res.Error)
	}

	m, _ := res.Result.(map[string]any)
	exists, _ = m["exists"].(bool)
	kind, _ = m["type"].(string)
	return exists, kind, nil
}

// resolveCriterion resolves the templates of the criterion string fields.
func (v *Validator) resolveCriterion(c model.Criterion, vars map[string]any) model.Criterion {
	c.Path = v.resolver.ResolveString(c.Path, vars)
	c.Content = v.resolver.ResolveString(c.Content, vars)
	c.Command = v.resolver.ResolveString(c.Command, vars)
	if c.Value != nil {
		c.Value = v.resolver.ResolveValue(c.Value, vars)
	}
	return c
}

// ValidateCriterion checks the criterion has the fields its type needs.
func ValidateCriterion(c model.Criterion) error {
	var missing string
	switch c.Type {
	case model.CriterionFileExists, model.CriterionFileNotExists, model.CriterionDirectoryExists, model.CriterionFileContains:
		if c.Path == "" {
			missing = "path"
		}
	case model.CriterionCommandSucceeds, model.CriterionCommandOutputContains:
		if c.Command == "" {
			missing = "command"
		}
	case model.CriterionVariableEquals:
		if c.Variable == "" {
			missing = "variable"
		}
	default:
		return fmt.Errorf("unknown criterion type %q: %w", c.Type, model.ErrNotValid)
	}

	if missing != "" {
		return fmt.Errorf("criterion %s requires %s: %w", c.Type, missing, model.ErrNotValid)
	}
	return nil
}

// SuggestAction returns the step that would satisfy the criterion, nil when
// no remediation can be derived.
func SuggestAction(c model.Criterion) *model.Step {
	if c.Path == "" {
		return nil
	}

	switch c.Type {
	case model.CriterionFileExists:
		return &model.Step{Tool: "write_file", Params: map[string]any{"path": c.Path, "content": ""}}
	case model.CriterionFileContains:
		return &model.Step{Tool: "append_file", Params: map[string]any{"path": c.Path, "content": c.Content}}
	case model.CriterionDirectoryExists:
		return &model.Step{Tool: "create_directory", Params: map[string]any{"path": c.Path}}
	case model.CriterionFileNotExists:
		return &model.Step{Tool: "delete_file", Params: map[string]any{"path": c.Path}}
	}
	return nil
}
