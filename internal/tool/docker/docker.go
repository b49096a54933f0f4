package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/tool"
)

// DockerClient is the interface for the Docker operations that we use.
type DockerClient interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
}

// RunCommandConfig is the configuration of the container backed run_command tool.
type RunCommandConfig struct {
	Client    DockerClient
	Container string
	// WorkDir is the working directory inside the container.
	WorkDir string
	Shell   string
	// DockerBin is the docker CLI binary used to exec into the container.
	DockerBin string
	Logger    log.Logger
}

func (c *RunCommandConfig) defaults() error {
	if c.Container == "" {
		return fmt.Errorf("container is required")
	}
	if c.Client == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("could not create Docker client: %w", err)
		}
		c.Client = cli
	}
	if c.Shell == "" {
		c.Shell = "sh"
	}
	if c.DockerBin == "" {
		c.DockerBin = "docker"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "docker.RunCommand", "container": c.Container})
	return nil
}

// RunCommand runs the commands inside an already running container.
type RunCommand struct {
	client    DockerClient
	container string
	workDir   string
	shell     string
	dockerBin string
	logger    log.Logger
}

// NewRunCommand returns a new container backed run_command tool.
func NewRunCommand(cfg RunCommandConfig) (*RunCommand, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &RunCommand{
		client:    cfg.Client,
		container: cfg.Container,
		workDir:   cfg.WorkDir,
		shell:     cfg.Shell,
		dockerBin: cfg.DockerBin,
		logger:    cfg.Logger,
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

	if res := r.checkRunning(ctx); res != nil {
		return res, nil
	}

	args := []string{"exec", "-i"}
	workDir := r.workDir
	if cwd := tool.StringParam(params, "cwd"); cwd != "" {
		workDir = cwd
	}
	if workDir != "" {
		args = append(args, "-w", workDir)
	}
	args = append(args, r.container, r.shell, "-c", command)

	r.logger.Debugf("Executing command in container: %s", command)
	cmd := exec.CommandContext(ctx, r.dockerBin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := err.Error()
		if s := strings.TrimSpace(stderr.String()); s != "" {
			msg = fmt.Sprintf("%s: %s", msg, s)
		}
		res := &tool.Result{Success: false, Result: stdout.String(), Error: msg}

		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			res.ErrorType = model.ErrorTypeTimeout
		case !errors.As(err, &exitErr):
			r.logger.Warningf("Could not exec into container: %s", err)
		}
		return res, nil
	}

	return &tool.Result{Success: true, Result: stdout.String()}, nil
}

func (r *RunCommand) checkRunning(ctx context.Context) *tool.Result {
	info, err := r.client.ContainerInspect(ctx, r.container)
	if err != nil {
		if strings.Contains(err.Error(), "No such container") {
			return &tool.Result{Success: false, Error: fmt.Sprintf("container %s not found", r.container), ErrorType: model.ErrorTypeNotFound}
		}
		return &tool.Result{Success: false, Error: fmt.Sprintf("failed to inspect container %s: %s", r.container, err)}
	}

	if info.ContainerJSONBase == nil || info.State == nil || !info.State.Running {
		status := "unknown"
		if info.ContainerJSONBase != nil && info.State != nil {
			status = info.State.Status
		}
		return &tool.Result{
			Success:   false,
			Error:     fmt.Sprintf("container %s is not running (%s)", r.container, status),
			ErrorType: model.ErrorTypeNotValid,
		}
	}

	return nil
}
