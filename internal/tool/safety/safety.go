package safety

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/tool"
)

// Policy are the rules that restrict the operations the tools can do.
type Policy struct {
	// DeniedTools can't be called.
	DeniedTools []string `json:"deniedTools,omitempty" yaml:"deniedTools,omitempty"`
	// DeniedCommands are regexes matched against the command of run_command.
	DeniedCommands []string `json:"deniedCommands,omitempty" yaml:"deniedCommands,omitempty"`
	// DeniedPaths are doublestar globs matched against the path params.
	DeniedPaths []string `json:"deniedPaths,omitempty" yaml:"deniedPaths,omitempty"`
	// AllowedRoots restrict the path params to these directories, empty allows any.
	AllowedRoots []string `json:"allowedRoots,omitempty" yaml:"allowedRoots,omitempty"`
}

// DefaultPolicy denies the well known destructive operations.
func DefaultPolicy() Policy {
	return Policy{
		DeniedCommands: []string{
			`rm\s+-[a-zA-Z]*r[a-zA-Z]*f?\s+/(\s|$|\*)`,
			`\bmkfs(\.[a-z0-9]+)?\b`,
			`\bdd\s+.*of=/dev/`,
			`:\(\)\s*\{\s*:\|:&\s*\};:`,
			`\b(shutdown|reboot|halt|poweroff)\b`,
		},
		DeniedPaths: []string{
			"/etc/**",
			"/boot/**",
			"/dev/**",
			"/proc/**",
			"/sys/**",
			"/**/.ssh/**",
			"/**/.gnupg/**",
		},
	}
}

// Merge returns a policy with the rules of both policies.
func (p Policy) Merge(o Policy) Policy {
	return Policy{
		DeniedTools:    append(append([]string{}, p.DeniedTools...), o.DeniedTools...),
		DeniedCommands: append(append([]string{}, p.DeniedCommands...), o.DeniedCommands...),
		DeniedPaths:    append(append([]string{}, p.DeniedPaths...), o.DeniedPaths...),
		AllowedRoots:   append(append([]string{}, p.AllowedRoots...), o.AllowedRoots...),
	}
}

// pathParams are the tool params that reference filesystem paths.
var pathParams = []string{"path", "cwd"}

// CheckerConfig is the configuration of the policy checker.
type CheckerConfig struct {
	Policy Policy
	// WorkDir is used to resolve the relative path params.
	WorkDir string
	Logger  log.Logger
}

func (c *CheckerConfig) defaults() error {
	if c.WorkDir == "" {
		c.WorkDir = "/"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "safety.Checker"})
	return nil
}

// Checker checks the tool operations against a policy.
type Checker struct {
	deniedTools    map[string]bool
	deniedCommands []*regexp.Regexp
	deniedPaths    []string
	allowedRoots   []string
	workDir        string
	logger         log.Logger
}

// NewChecker returns a new policy checker.
func NewChecker(cfg CheckerConfig) (*Checker, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Checker{
		deniedTools: map[string]bool{},
		workDir:     cfg.WorkDir,
		logger:      cfg.Logger,
	}
	for _, t := range cfg.Policy.DeniedTools {
		c.deniedTools[t] = true
	}
	for _, p := range cfg.Policy.DeniedCommands {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid denied command pattern %q: %w", p, err)
		}
		c.deniedCommands = append(c.deniedCommands, re)
	}
	for _, p := range cfg.Policy.DeniedPaths {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid denied path glob %q", p)
		}
		c.deniedPaths = append(c.deniedPaths, p)
	}
	for _, r := range cfg.Policy.AllowedRoots {
		c.allowedRoots = append(c.allowedRoots, c.abs(r))
	}

	return c, nil
}

// CheckOperation satisfies tool.Checker.
func (c *Checker) CheckOperation(_ context.Context, name string, params any) (tool.Decision, error) {
	if c.deniedTools[name] {
		return deny("tool %q is restricted by policy", name), nil
	}

	p, ok := params.(map[string]any)
	if !ok {
		return tool.Decision{Allowed: true}, nil
	}

	if command := tool.StringParam(p, "command"); command != "" {
		for _, re := range c.deniedCommands {
			if re.MatchString(command) {
				return deny("command matches restricted pattern %s", re.String()), nil
			}
		}
	}

	for _, key := range pathParams {
		raw := tool.StringParam(p, key)
		if raw == "" {
			continue
		}
		path := c.abs(raw)

		for _, g := range c.deniedPaths {
			if doublestar.MatchUnvalidated(g, filepath.ToSlash(path)) {
				return deny("path %s matches restricted glob %s", path, g), nil
			}
		}

		if len(c.allowedRoots) > 0 && !c.underAllowedRoot(path) {
			return deny("path %s is outside the allowed roots", path), nil
		}
	}

	return tool.Decision{Allowed: true}, nil
}

func (c *Checker) underAllowedRoot(path string) bool {
	for _, root := range c.allowedRoots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (c *Checker) abs(p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.workDir, p)
	}
	return filepath.Clean(p)
}

func deny(format string, args ...any) tool.Decision {
	return tool.Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}
