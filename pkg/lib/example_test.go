package lib_test

import (
	"context"
	"fmt"
	"os"

	"github.com/slok/stepflow/pkg/lib"
)

// This example shows how to run a task whose second step uses the output of the first one.
func Example_runTask() {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "stepflow-example-*")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	client, err := lib.New(ctx, lib.Config{
		Store:   lib.StoreMemory,
		DataDir: dir,
		WorkDir: dir,
		Shell:   "sh",
	})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	task, err := client.RunTask(ctx, lib.TaskSpec{
		ID:        "example",
		Variables: map[string]any{"name": "stepflow"},
		Steps: []lib.Step{
			{Tool: "run_command", Params: map[string]any{"command": "echo hello {{name}}"}, SaveAs: "greeting"},
			{Tool: "write_file", Params: map[string]any{"path": "greeting.txt", "content": "{{greeting | upper}}"}, DependsOn: []lib.StepRef{lib.NameRef("greeting")}},
		},
	})
	if err != nil {
		panic(err)
	}

	data, err := os.ReadFile(dir + "/greeting.txt")
	if err != nil {
		panic(err)
	}

	fmt.Printf("Task %s: %s\n", task.ID, task.State)
	fmt.Printf("%s", data)

	// Output:
	// Task example: SUCCESS
	// HELLO STEPFLOW
}

// This example shows how to plan a step list without running it.
func Example_plan() {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "stepflow-example-*")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	client, err := lib.New(ctx, lib.Config{Store: lib.StoreMemory, DataDir: dir, WorkDir: dir})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	p, err := client.Plan(ctx, []lib.Step{
		{ID: "build", Tool: "run_command"},
		{ID: "lint", Tool: "run_command"},
		{ID: "release", Tool: "run_command", DependsOn: []lib.StepRef{lib.NameRef("build"), lib.NameRef("lint")}},
	}, nil)
	if err != nil {
		panic(err)
	}

	for i, level := range p.Levels {
		fmt.Printf("level %d: %v\n", i, level)
	}

	// Output:
	// level 0: [build lint]
	// level 1: [release]
}
