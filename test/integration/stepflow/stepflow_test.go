package stepflow_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intstepflow "github.com/slok/stepflow/test/integration/stepflow"
)

// statusOutput matches the JSON output of `stepflow status --format json`.
type statusOutput struct {
	Checkpoint *struct {
		TaskID        string            `json:"taskId"`
		State         string            `json:"state"`
		Results       map[string]result `json:"results"`
		ResumeHistory []json.RawMessage `json:"resumeHistory"`
	} `json:"checkpoint"`
	Goal *struct {
		ID       string   `json:"goalId"`
		State    string   `json:"state"`
		Attempts int      `json:"attempts"`
		TaskIDs  []string `json:"taskIds"`
	} `json:"goal"`
}

type result struct {
	Status   string `json:"status"`
	Replayed bool   `json:"replayed"`
}

func getStatus(t *testing.T, config intstepflow.Config, env intstepflow.Env, id string) statusOutput {
	t.Helper()

	stdout, stderr, err := intstepflow.RunCmd(context.Background(), config, env, "status", id, "--format", "json")
	require.NoError(t, err, "stderr: %s", stderr)

	var st statusOutput
	require.NoError(t, json.Unmarshal(stdout, &st))
	return st
}

func TestRunTask(t *testing.T) {
	tests := map[string]struct {
		store    string
		expState string
	}{
		"Running a task on the SQLite store should complete it.": {
			store:    "sqlite",
			expState: "COMPLETED",
		},
		"Running a task on the file store should complete it.": {
			store:    "file",
			expState: "COMPLETED",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			config := intstepflow.NewConfig(t)
			env := intstepflow.NewEnv(t)
			taskFile := env.WriteFile(t, "task.yaml", `
id: build
steps:
  - tool: run_command
    params: {command: "echo v1"}
    saveAs: version
  - tool: write_file
    params: {path: VERSION, content: "{{version | trim}}"}
    dependsOn: [version]
`)

			ctx := context.Background()
			_, stderr, err := intstepflow.RunCmd(ctx, config, env, "--store", test.store, "run", taskFile, "--workdir", env.WorkDir, "--shell", "sh")
			require.NoError(err, "stderr: %s", stderr)

			data, err := os.ReadFile(filepath.Join(env.WorkDir, "VERSION"))
			require.NoError(err)
			assert.Equal("v1", string(data))

			stdout, stderr, err := intstepflow.RunCmd(ctx, config, env, "--store", test.store, "status", "build", "--format", "json")
			require.NoError(err, "stderr: %s", stderr)
			var st statusOutput
			require.NoError(json.Unmarshal(stdout, &st))
			require.NotNil(st.Checkpoint)
			assert.Equal(test.expState, st.Checkpoint.State)
		})
	}
}

func TestInterruptAndResume(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	config := intstepflow.NewConfig(t)
	env := intstepflow.NewEnv(t)
	marker := filepath.Join(env.WorkDir, "first")
	taskFile := env.WriteFile(t, "task.yaml", `
id: slow
steps:
  - tool: run_command
    params: {command: "echo run >> `+marker+`"}
  - tool: run_command
    params: {command: "sleep 5"}
    dependsOn: [0]
  - tool: write_file
    params: {path: done, content: ok}
    dependsOn: [1]
`)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var stdout bytes.Buffer
	cmd := intstepflow.NewCmd(ctx, config, env, "run", taskFile, "--workdir", env.WorkDir, "--shell", "sh")
	cmd.Stdout = &stdout
	require.NoError(cmd.Start())

	// Wait for the first step to run and interrupt the task while sleeping.
	require.Eventually(func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 20*time.Second, 100*time.Millisecond)
	time.Sleep(500 * time.Millisecond)
	require.NoError(cmd.Process.Signal(syscall.SIGINT))
	_ = cmd.Wait()

	st := getStatus(t, config, env, "slow")
	require.NotNil(st.Checkpoint)
	assert.Equal("PAUSED", st.Checkpoint.State)
	assert.Equal("success", st.Checkpoint.Results["0"].Status)

	// The interrupted step runs again on resume.
	_, stderr, err := intstepflow.RunCmd(ctx, config, env, "resume", "slow", "--workdir", env.WorkDir, "--shell", "sh")
	require.NoError(err, "stderr: %s", stderr)

	st = getStatus(t, config, env, "slow")
	assert.Equal("COMPLETED", st.Checkpoint.State)
	assert.Len(st.Checkpoint.ResumeHistory, 1)
	assert.FileExists(filepath.Join(env.WorkDir, "done"))

	// The first step was not executed again.
	data, err := os.ReadFile(marker)
	require.NoError(err)
	assert.Equal("run\n", string(data))
}

func TestGoal(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	config := intstepflow.NewConfig(t)
	env := intstepflow.NewEnv(t)
	target := filepath.Join(env.WorkDir, "app.conf")
	goalFile := env.WriteFile(t, "goal.yaml", `
goalId: configured
description: app is configured
maxAttempts: 3
successCriteria:
  - type: file_contains
    path: `+target+`
    content: "port=8080"
plan:
  - tool: run_command
    params: {command: "true"}
`)

	ctx := context.Background()
	_, stderr, err := intstepflow.RunCmd(ctx, config, env, "goal", goalFile, "--workdir", env.WorkDir, "--shell", "sh")
	require.NoError(err, "stderr: %s", stderr)

	data, err := os.ReadFile(target)
	require.NoError(err)
	assert.Contains(string(data), "port=8080")

	st := getStatus(t, config, env, "configured")
	require.NotNil(st.Goal)
	assert.Equal("SUCCESS", st.Goal.State)
	assert.Equal(2, st.Goal.Attempts)
	assert.Equal([]string{"configured-1", "configured-2"}, st.Goal.TaskIDs)
}
