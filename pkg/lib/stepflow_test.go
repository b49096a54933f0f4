package lib_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepflow/pkg/lib"
)

// newTestClient creates a client with an in-memory store and a temp working dir.
func newTestClient(t *testing.T, cfg lib.Config) (*lib.Client, string) {
	t.Helper()

	workDir := t.TempDir()
	cfg.Store = lib.StoreMemory
	cfg.DataDir = t.TempDir()
	cfg.WorkDir = workDir
	cfg.Shell = "sh"

	client, err := lib.New(context.Background(), cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client, workDir
}

func cmd(command string) lib.Step {
	return lib.Step{Tool: "run_command", Params: map[string]any{"command": command}}
}

func TestRunTask(t *testing.T) {
	tests := map[string]struct {
		spec     lib.TaskSpec
		expState lib.TaskState
		expErr   bool
		expIs    error
	}{
		"A task with successful steps should succeed.": {
			spec: lib.TaskSpec{
				Steps: []lib.Step{
					{Tool: "run_command", Params: map[string]any{"command": "echo 42"}, SaveAs: "n"},
					{Tool: "write_file", Params: map[string]any{"path": "n.txt", "content": "{{n | trim}}"}, DependsOn: []lib.StepRef{lib.NameRef("n")}},
				},
			},
			expState: lib.TaskStateSuccess,
		},

		"A task with a failed required step should finish failed without error.": {
			spec:     lib.TaskSpec{Steps: []lib.Step{cmd("exit 3"), cmd("true")}},
			expState: lib.TaskStateFailed,
		},

		"A task without steps should fail.": {
			spec:   lib.TaskSpec{},
			expErr: true,
			expIs:  lib.ErrNotValid,
		},

		"A task with a dependency cycle should fail.": {
			spec: lib.TaskSpec{Steps: []lib.Step{
				{ID: "a", Tool: "run_command", Params: map[string]any{"command": "true"}, DependsOn: []lib.StepRef{lib.NameRef("b")}},
				{ID: "b", Tool: "run_command", Params: map[string]any{"command": "true"}, DependsOn: []lib.StepRef{lib.NameRef("a")}},
			}},
			expErr: true,
			expIs:  lib.ErrNotValid,
		},

		"A task touching a denied path should fail its step.": {
			spec:     lib.TaskSpec{Steps: []lib.Step{{Tool: "write_file", Params: map[string]any{"path": "/etc/stepflow", "content": "x"}}}},
			expState: lib.TaskStateFailed,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			client, _ := newTestClient(t, lib.Config{})

			task, err := client.RunTask(context.Background(), test.spec)

			if test.expErr {
				require.Error(err)
				if test.expIs != nil {
					assert.True(errors.Is(err, test.expIs), "expected %v, got: %v", test.expIs, err)
				}
				return
			}

			require.NoError(err)
			assert.NotEmpty(task.ID)
			assert.Equal(test.expState, task.State)
		})
	}
}

func TestRunTaskWritesThroughWorkDir(t *testing.T) {
	client, workDir := newTestClient(t, lib.Config{})

	_, err := client.RunTask(context.Background(), lib.TaskSpec{Steps: []lib.Step{
		{Tool: "run_command", Params: map[string]any{"command": "printf hi"}, SaveAs: "greeting"},
		{Tool: "write_file", Params: map[string]any{"path": "out.txt", "content": "{{greeting}} there"}, DependsOn: []lib.StepRef{lib.IndexRef(0)}},
	}})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(workDir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi there", string(data))
}

func TestRunTaskResubmission(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	client, _ := newTestClient(t, lib.Config{})
	ctx := context.Background()

	_, err := client.RunTask(ctx, lib.TaskSpec{ID: "t1", Steps: []lib.Step{cmd("true")}})
	require.NoError(err)

	// Same plan resumes and replays.
	task, err := client.RunTask(ctx, lib.TaskSpec{ID: "t1", Steps: []lib.Step{cmd("true")}})
	require.NoError(err)
	assert.Equal(lib.TaskStateSuccess, task.State)
	require.Len(task.Results, 1)
	assert.True(task.Results[0].Replayed)

	// A different plan is rejected.
	_, err = client.RunTask(ctx, lib.TaskSpec{ID: "t1", Steps: []lib.Step{cmd("false")}})
	assert.True(errors.Is(err, lib.ErrAlreadyExists))
}

func TestRunTaskGatedStep(t *testing.T) {
	gated := lib.TaskSpec{ID: "gated", Steps: []lib.Step{
		cmd("true"),
		{Tool: "run_command", Params: map[string]any{"command": "true"}, DependsOn: []lib.StepRef{lib.IndexRef(0)}, Confirm: true},
	}}

	t.Run("Without confirmer the task waits for the user and can be resumed.", func(t *testing.T) {
		assert := assert.New(t)
		require := require.New(t)

		client, _ := newTestClient(t, lib.Config{})
		ctx := context.Background()

		task, err := client.RunTask(ctx, gated)
		require.Error(err)
		assert.True(errors.Is(err, lib.ErrNeedUser))
		assert.Equal(lib.TaskStateNeedUser, task.State)

		st, err := client.GetStatus(ctx, "gated")
		require.NoError(err)
		assert.Equal([]int{1}, st.Checkpoint.PendingSteps)
	})

	t.Run("A declining confirmer fails the step.", func(t *testing.T) {
		assert := assert.New(t)
		require := require.New(t)

		var asked []string
		client, _ := newTestClient(t, lib.Config{
			Confirm: func(_ context.Context, req lib.ConfirmRequest) (bool, error) {
				asked = append(asked, req.StepID)
				return false, nil
			},
		})

		task, err := client.RunTask(context.Background(), gated)
		require.NoError(err)
		assert.Equal(lib.TaskStateFailed, task.State)
		assert.Len(asked, 1)
	})
}

func TestRunGoal(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var events []lib.Event
	client, workDir := newTestClient(t, lib.Config{OnEvent: func(ev lib.Event) { events = append(events, ev) }})
	ctx := context.Background()
	target := filepath.Join(workDir, "ready")

	res, err := client.RunGoal(ctx, lib.GoalSpec{
		ID:          "g1",
		Criteria:    []lib.Criterion{{Type: "file_exists", Path: target}},
		Plan:        []lib.Step{cmd("true")},
		MaxAttempts: 2,
	})
	require.NoError(err)
	assert.True(res.Success)
	assert.Equal(2, res.Goal.Attempts)
	assert.Equal([]string{"g1-1", "g1-2"}, res.Goal.TaskIDs)
	assert.Len(res.Tasks, 2)
	assert.FileExists(target)

	var attempts int
	for _, ev := range events {
		if ev.Type == lib.EventGoalAttempt {
			attempts++
		}
	}
	assert.Equal(2, attempts)

	// Goal IDs are unique.
	_, err = client.RunGoal(ctx, lib.GoalSpec{ID: "g1", Plan: []lib.Step{cmd("true")}})
	assert.True(errors.Is(err, lib.ErrAlreadyExists))

	goals, err := client.ListGoals(ctx)
	require.NoError(err)
	require.Len(goals, 1)
	assert.Equal(lib.TaskStateSuccess, goals[0].State)
}

func TestRecords(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	client, _ := newTestClient(t, lib.Config{})
	ctx := context.Background()

	_, err := client.RunTask(ctx, lib.TaskSpec{ID: "ok", Steps: []lib.Step{cmd("true")}})
	require.NoError(err)
	_, err = client.RunTask(ctx, lib.TaskSpec{ID: "ko", Steps: []lib.Step{cmd("false")}})
	require.NoError(err)

	all, err := client.ListTasks(ctx, nil)
	require.NoError(err)
	assert.Len(all, 2)

	failed := lib.CheckpointStateFailed
	onlyFailed, err := client.ListTasks(ctx, &lib.ListTasksOpts{State: &failed})
	require.NoError(err)
	require.Len(onlyFailed, 1)
	assert.Equal("ko", onlyFailed[0].TaskID)
	assert.Equal(1, onlyFailed[0].Failed)

	st, err := client.GetStatus(ctx, "ok")
	require.NoError(err)
	assert.Equal(lib.CheckpointStateCompleted, st.Checkpoint.State)
	assert.Nil(st.Goal)

	removed, err := client.Remove(ctx, "ok", false)
	require.NoError(err)
	assert.Equal([]string{"ok"}, removed)

	_, err = client.GetStatus(ctx, "ok")
	assert.True(errors.Is(err, lib.ErrNotFound))

	_, err = client.Remove(ctx, "missing", false)
	assert.True(errors.Is(err, lib.ErrNotFound))

	cleaned, err := client.Cleanup(ctx)
	require.NoError(err)
	assert.Empty(cleaned)
}

func TestPlan(t *testing.T) {
	client, _ := newTestClient(t, lib.Config{})

	p, err := client.Plan(context.Background(), []lib.Step{
		{ID: "a", Tool: "run_command"},
		{ID: "b", Tool: "run_command"},
		{ID: "c", Tool: "run_command", DependsOn: []lib.StepRef{lib.NameRef("a"), lib.NameRef("b")}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, p.Levels)
	assert.NotEmpty(t, p.Fingerprint)
}

func TestParseDocument(t *testing.T) {
	tests := map[string]struct {
		data    string
		expTask bool
		expGoal bool
		expErr  bool
	}{
		"A task document should parse as a task.": {
			data:    `{steps: [{tool: run_command, params: {command: "true"}}]}`,
			expTask: true,
		},
		"A goal document should parse as a goal.": {
			data:    `{goalId: g, plan: [], successCriteria: [{type: file_exists, path: /tmp/x}]}`,
			expGoal: true,
		},
		"An invalid document should fail.": {
			data:   `{steps: [{params: {}}]}`,
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			task, goal, err := lib.ParseDocument([]byte(test.data))
			if test.expErr {
				assert.True(errors.Is(err, lib.ErrNotValid))
				return
			}

			assert.NoError(err)
			assert.Equal(test.expTask, task != nil)
			assert.Equal(test.expGoal, goal != nil)
		})
	}
}

func TestNewInvalidStore(t *testing.T) {
	_, err := lib.New(context.Background(), lib.Config{DataDir: t.TempDir(), Store: "redis"})
	assert.True(t, errors.Is(err, lib.ErrNotValid))
}
