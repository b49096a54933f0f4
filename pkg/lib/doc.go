// Package lib provides a Go SDK for running stepflow tasks and goals programmatically.
//
// This package allows applications to run checkpointed step lists and goal loops
// without shelling out to the stepflow CLI binary. The tools run on the local
// machine with the same safety policy and auto-healing as the CLI.
//
// # Quick Start
//
// Create a client and run a task:
//
//	client, err := lib.New(ctx, lib.Config{WorkDir: "/srv/app"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	task, err := client.RunTask(ctx, lib.TaskSpec{
//	    ID: "deploy",
//	    Steps: []lib.Step{
//	        {Tool: "run_command", Params: map[string]any{"command": "git rev-parse HEAD"}, SaveAs: "rev"},
//	        {Tool: "write_file", Params: map[string]any{"path": "REVISION", "content": "{{rev | trim}}"}, DependsOn: []lib.StepRef{lib.NameRef("rev")}},
//	    },
//	})
//
// # Resuming
//
// Every task is checkpointed after each step. A task interrupted by a context
// cancellation, or paused by a gated step waiting for an approval, is resumed
// without executing again its settled steps:
//
//	task, err := client.ResumeTask(ctx, "deploy")
//
// # Goals
//
// Goals wrap a plan with success criteria. The plan is run, the criteria are
// validated and the plan is adjusted with the remediations of the unmet ones
// until the goal is met or the attempts run out:
//
//	res, err := client.RunGoal(ctx, lib.GoalSpec{
//	    ID:       "config-ready",
//	    Criteria: []lib.Criterion{{Type: "file_exists", Path: "/srv/app/config.yaml"}},
//	    Plan:     []lib.Step{{Tool: "run_command", Params: map[string]any{"command": "make config"}}},
//	})
//
// # Documents
//
// Task and goal documents (YAML or JSON) are parsed and validated with
// [ParseDocument].
//
// # Error Handling
//
// All methods return errors that can be inspected with [errors.Is]:
//
//   - [ErrNotFound]: Task or goal does not exist.
//   - [ErrAlreadyExists]: Goal ID taken, or task ID checkpointed with a different plan.
//   - [ErrNotValid]: Invalid document, spec, dependency cycle or operation.
//   - [ErrNeedUser]: A gated step waits for an approval.
//
// # Testing
//
// Use [StoreMemory] and a temporary working directory to write tests without
// touching the user data:
//
//	client, _ := lib.New(ctx, lib.Config{
//	    Store:   lib.StoreMemory,
//	    WorkDir: t.TempDir(),
//	})
//	defer client.Close()
//
// # Thread Safety
//
// A [Client] is safe for concurrent use from multiple goroutines. Running the
// same task or goal ID concurrently is rejected.
package lib
