package stepflow

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/slok/stepflow/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary string
}

func (c *Config) defaults() error {
	if c.Binary == "" {
		c.Binary = "stepflow"
	}

	// go test changes the CWD to the test package directory, relative paths
	// would be resolved from there.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("STEPFLOW_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("stepflow binary not found at %q: %w", c.Binary, err)
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "STEPFLOW_INTEGRATION"
		envBinary     = "STEPFLOW_INTEGRATION_BINARY"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{Binary: os.Getenv(envBinary)}
	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// Env is the isolated data and working directories of a test.
type Env struct {
	DataDir string
	WorkDir string
}

// NewEnv returns a new isolated test environment.
func NewEnv(t *testing.T) Env {
	t.Helper()
	return Env{DataDir: t.TempDir(), WorkDir: t.TempDir()}
}

func (e Env) args(args []string) []string {
	return append([]string{"--no-log", "--data-dir", e.DataDir}, args...)
}

// RunCmd runs a stepflow command on the test environment.
func RunCmd(ctx context.Context, config Config, env Env, args ...string) (stdout, stderr []byte, err error) {
	return testutils.RunStepflow(ctx, nil, config.Binary, env.args(args), true)
}

// NewCmd returns a stepflow command on the test environment ready to be started.
func NewCmd(ctx context.Context, config Config, env Env, args ...string) *exec.Cmd {
	return testutils.NewStepflowCmd(ctx, nil, config.Binary, env.args(args), true)
}

// WriteFile writes a file in the working directory and returns its path.
func (e Env) WriteFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(e.WorkDir, name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("could not write %s: %s", path, err)
	}
	return path
}
