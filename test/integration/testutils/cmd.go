package testutils

import (
	"bytes"
	"context"
	"os"
	"os/exec"
)

// RunStepflow executes a stepflow command with pre-split arguments.
func RunStepflow(ctx context.Context, env []string, binary string, args []string, nolog bool) (stdout, stderr []byte, err error) {
	var outData, errData bytes.Buffer
	cmd := NewStepflowCmd(ctx, env, binary, args, nolog)
	cmd.Stdout = &outData
	cmd.Stderr = &errData

	err = cmd.Run()

	return outData.Bytes(), errData.Bytes(), err
}

// NewStepflowCmd returns a stepflow command ready to be started, used by the
// tests that need to signal the process.
func NewStepflowCmd(ctx context.Context, env []string, binary string, args []string, nolog bool) *exec.Cmd {
	cmd := exec.CommandContext(ctx, binary, args...)

	// Set env: os.Environ() first, then custom env overrides on top.
	// In Go's exec.Cmd, when duplicate keys exist, the last one wins.
	newEnv := append([]string{}, os.Environ()...)
	newEnv = append(newEnv, env...)
	if nolog {
		newEnv = append(newEnv, "STEPFLOW_NO_LOG=true")
	}
	cmd.Env = newEnv

	return cmd
}
