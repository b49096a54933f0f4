package ssh

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/tool"
)

// Executor runs remote commands.
type Executor interface {
	Exec(ctx context.Context, command string, opts ExecOpts) (int, error)
}

// RunCommandConfig is the configuration of the SSH backed run_command tool.
type RunCommandConfig struct {
	Client Executor
	// WorkDir is the remote working directory.
	WorkDir string
	Shell   string
	Logger  log.Logger
}

func (c *RunCommandConfig) defaults() error {
	if c.Client == nil {
		return fmt.Errorf("client is required")
	}
	if c.Shell == "" {
		c.Shell = "sh"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "ssh.RunCommand"})
	return nil
}

// RunCommand runs the commands on a remote host.
type RunCommand struct {
	client  Executor
	workDir string
	shell   string
	logger  log.Logger
}

// NewRunCommand returns a new SSH backed run_command tool.
func NewRunCommand(cfg RunCommandConfig) (*RunCommand, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &RunCommand{
		client:  cfg.Client,
		workDir: cfg.WorkDir,
		shell:   cfg.Shell,
		logger:  cfg.Logger,
	}, nil
}

// Register registers the tool as run_command, replacing the local one.
func (r *RunCommand) Register(reg *tool.Registry) {
	reg.Register("run_command", r.Run)
}

// Run satisfies tool.HandlerFunc.
func (r *RunCommand) Run(ctx context.Context, params map[string]any) (*tool.Result, error) {
	command := tool.StringParam(params, "command")
	if command == "" {
		return &tool.Result{Success: false, Error: `param "command" is required`, ErrorType: model.ErrorTypeNotValid}, nil
	}

	workDir := r.workDir
	if cwd := tool.StringParam(params, "cwd"); cwd != "" {
		workDir = cwd
	}
	remote := r.remoteCommand(command, workDir)

	r.logger.Debugf("Executing remote command: %s", command)
	var stdout, stderr bytes.Buffer
	code, err := r.client.Exec(ctx, remote, ExecOpts{Stdout: &stdout, Stderr: &stderr})
	if err != nil {
		res := &tool.Result{Success: false, Result: stdout.String(), Error: err.Error()}
		if ctx.Err() != nil {
			res.ErrorType = model.ErrorTypeTimeout
		} else {
			r.logger.Warningf("Could not execute remote command: %s", err)
		}
		return res, nil
	}

	if code != 0 {
		msg := fmt.Sprintf("exit status %d", code)
		if s := strings.TrimSpace(stderr.String()); s != "" {
			msg = fmt.Sprintf("%s: %s", msg, s)
		}
		return &tool.Result{Success: false, Result: stdout.String(), Error: msg}, nil
	}

	return &tool.Result{Success: true, Result: stdout.String()}, nil
}

func (r *RunCommand) remoteCommand(command, workDir string) string {
	cmd := r.shell + " -c " + shellQuote(command)
	if workDir == "" {
		return cmd
	}
	return "cd " + shellQuote(workDir) + " && " + cmd
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
