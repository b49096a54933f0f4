package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/plan"
)

func newBuilder(t *testing.T) *plan.Builder {
	t.Helper()
	b, err := plan.NewBuilder(plan.BuilderConfig{Logger: log.Noop})
	require.NoError(t, err)
	return b
}

func cmd(c string) map[string]any { return map[string]any{"command": c} }

func depsOn(refs ...model.StepRef) []model.StepRef { return refs }

// assertValidPlan checks the plan invariants that apply to every acyclic plan.
func assertValidPlan(t *testing.T, p *model.ExecutionPlan) {
	t.Helper()

	assert.Len(t, p.ExecutionOrder, len(p.Nodes))

	seen := map[string]int{}
	for _, level := range p.Levels {
		for _, id := range level {
			seen[id]++
		}
	}
	assert.Len(t, seen, len(p.Nodes))
	for id, count := range seen {
		assert.Equal(t, 1, count, "node %s placed more than once", id)
	}

	for _, e := range p.Edges {
		assert.Less(t, p.LevelOf(e.From), p.LevelOf(e.To), "edge %s -> %s", e.From, e.To)
	}
}

func TestBuilderBuild(t *testing.T) {
	tests := map[string]struct {
		steps     []model.Step
		vars      map[string]any
		expLevels [][]string
		expEdges  []model.PlanEdge
		expErr    error
	}{
		"Steps without dependencies should run sequentially.": {
			steps: []model.Step{
				{Tool: "run_command", Params: cmd("a")},
				{Tool: "run_command", Params: cmd("b")},
				{Tool: "run_command", Params: cmd("c")},
			},
			expLevels: [][]string{{"step_0"}, {"step_1"}, {"step_2"}},
			expEdges: []model.PlanEdge{
				{From: "step_0", To: "step_1", Implicit: true},
				{From: "step_1", To: "step_2", Implicit: true},
			},
		},

		"Parallel steps without dependencies should be in a single level.": {
			steps: []model.Step{
				{Tool: "run_command", Parallel: true},
				{Tool: "run_command", Parallel: true},
				{Tool: "run_command", Parallel: true},
				{Tool: "run_command", Parallel: true},
			},
			expLevels: [][]string{{"step_0", "step_1", "step_2", "step_3"}},
		},

		"A step after a parallel step should not depend on it implicitly.": {
			steps: []model.Step{
				{Tool: "run_command"},
				{Tool: "run_command", Parallel: true},
				{Tool: "run_command"},
			},
			expLevels: [][]string{{"step_0", "step_1", "step_2"}},
		},

		"Dependencies by saveAs name should be resolved.": {
			steps: []model.Step{
				{Tool: "run_command", Params: cmd("echo hi"), SaveAs: "a"},
				{Tool: "run_command", Params: cmd("echo {{a}}"), DependsOn: depsOn(model.NameRef("a"))},
			},
			expLevels: [][]string{{"step_0"}, {"step_1"}},
			expEdges:  []model.PlanEdge{{From: "step_0", To: "step_1"}},
		},

		"Dependencies by index and id should be resolved.": {
			steps: []model.Step{
				{ID: "fetch", Tool: "read_file", Parallel: true},
				{ID: "other", Tool: "read_file", Parallel: true},
				{ID: "merge", Tool: "write_file", DependsOn: depsOn(model.IndexRef(0), model.NameRef("other"))},
			},
			expLevels: [][]string{{"fetch", "other"}, {"merge"}},
			expEdges: []model.PlanEdge{
				{From: "fetch", To: "merge"},
				{From: "other", To: "merge"},
			},
		},

		"Foreach steps should be expanded into parallel instances.": {
			steps: []model.Step{
				{ID: "prepare", Tool: "create_directory"},
				{ID: "write", Tool: "write_file", Foreach: "{{files}}", ItemVar: "f"},
				{ID: "done", Tool: "run_command"},
			},
			vars: map[string]any{"files": []any{"a", "b", "c"}},
			expLevels: [][]string{
				{"prepare"},
				{"write_0", "write_1", "write_2"},
				{"done"},
			},
			expEdges: []model.PlanEdge{
				{From: "prepare", To: "write_0", Implicit: true},
				{From: "prepare", To: "write_1", Implicit: true},
				{From: "prepare", To: "write_2", Implicit: true},
				{From: "write_0", To: "done", Implicit: true},
				{From: "write_1", To: "done", Implicit: true},
				{From: "write_2", To: "done", Implicit: true},
			},
		},

		"Foreach steps expanded to nothing should forward their dependencies.": {
			steps: []model.Step{
				{ID: "a", Tool: "run_command"},
				{ID: "loop", Tool: "run_command", Foreach: []any{}},
				{ID: "b", Tool: "run_command"},
			},
			expLevels: [][]string{{"a"}, {"b"}},
			expEdges:  []model.PlanEdge{{From: "a", To: "b", Implicit: true}},
		},

		"Forward references should be resolved.": {
			steps: []model.Step{
				{ID: "last", Tool: "run_command", DependsOn: depsOn(model.NameRef("first"))},
				{ID: "first", Tool: "run_command", Parallel: true},
			},
			expLevels: [][]string{{"first"}, {"last"}},
			expEdges:  []model.PlanEdge{{From: "first", To: "last"}},
		},

		"Empty step lists should fail.": {
			steps:  []model.Step{},
			expErr: model.ErrNotValid,
		},

		"Steps without tool should fail.": {
			steps:  []model.Step{{Tool: ""}},
			expErr: model.ErrNotValid,
		},

		"Duplicated step ids should fail.": {
			steps:  []model.Step{{ID: "a", Tool: "x"}, {ID: "a", Tool: "x"}},
			expErr: model.ErrNotValid,
		},

		"Unknown dependencies should fail.": {
			steps:  []model.Step{{Tool: "x", DependsOn: depsOn(model.NameRef("ghost"))}},
			expErr: model.ErrNotValid,
		},

		"Out of range dependency indexes should fail.": {
			steps:  []model.Step{{Tool: "x", DependsOn: depsOn(model.IndexRef(4))}},
			expErr: model.ErrNotValid,
		},

		"Invalid step timeouts should fail.": {
			steps:  []model.Step{{Tool: "x", Timeout: "soon"}},
			expErr: model.ErrNotValid,
		},

		"Foreach values that are not lists should fail.": {
			steps:  []model.Step{{Tool: "x", Foreach: "{{n}}"}},
			vars:   map[string]any{"n": 3},
			expErr: model.ErrNotValid,
		},

		"Dependency cycles should fail.": {
			steps: []model.Step{
				{ID: "a", Tool: "x", DependsOn: depsOn(model.NameRef("b"))},
				{ID: "b", Tool: "x", DependsOn: depsOn(model.NameRef("a"))},
			},
			expErr: model.ErrCycle,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			p, err := newBuilder(t).Build(test.steps, test.vars)

			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				assert.Nil(p)
				return
			}
			require.NoError(err)
			assert.Equal(test.expLevels, p.Levels)
			assert.ElementsMatch(test.expEdges, p.Edges)
			assert.NotEmpty(p.Fingerprint)
			assertValidPlan(t, p)
		})
	}
}

func TestBuilderBuildCycleReport(t *testing.T) {
	tests := map[string]struct {
		steps        []model.Step
		expRemaining []string
		expBlocked   []string
		expProcessed []string
	}{
		"A three step cycle should report exactly the cyclic steps.": {
			steps: []model.Step{
				{ID: "root", Tool: "x", Parallel: true},
				{ID: "a", Tool: "x", DependsOn: depsOn(model.NameRef("c"))},
				{ID: "b", Tool: "x", DependsOn: depsOn(model.NameRef("a"))},
				{ID: "c", Tool: "x", DependsOn: depsOn(model.NameRef("b"), model.NameRef("root"))},
				{ID: "after", Tool: "x", DependsOn: depsOn(model.NameRef("c"))},
			},
			expProcessed: []string{"root"},
			expRemaining: []string{"a", "b", "c"},
			expBlocked:   []string{"after"},
		},

		"A step depending on itself should be a cycle.": {
			steps: []model.Step{
				{ID: "self", Tool: "x", DependsOn: depsOn(model.NameRef("self"))},
			},
			expRemaining: []string{"self"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := newBuilder(t).Build(test.steps, nil)
			require.Error(t, err)

			cerr, ok := plan.IsCycle(err)
			require.True(t, ok)
			assert.Equal(t, test.expRemaining, cerr.RemainingNodes)
			assert.Equal(t, test.expBlocked, cerr.Blocked)
			assert.Equal(t, test.expProcessed, cerr.Processed)
		})
	}
}

func TestBuilderForeachInstances(t *testing.T) {
	steps := []model.Step{
		{ID: "w", Tool: "write_file", Foreach: []any{"x", "y"}, SaveAs: "out", Params: map[string]any{"path": "{{item}}"}},
	}

	p, err := newBuilder(t).Build(steps, nil)
	require.NoError(t, err)
	require.Len(t, p.Nodes, 2)

	for i, n := range p.Nodes {
		assert.Equal(t, i, n.Index)
		assert.Equal(t, 0, n.StepIndex)
		require.NotNil(t, n.LoopIndex)
		assert.Equal(t, i, *n.LoopIndex)
		assert.Equal(t, "out", n.LoopSaveAs)
		assert.Equal(t, 2, n.LoopCount)
		assert.Nil(t, n.Step.Foreach)
		assert.Equal(t, float64(i), n.Step.Scope["index"])
	}
	assert.Equal(t, "x", p.Nodes[0].Step.Scope["item"])
	assert.Equal(t, "y", p.Nodes[1].Step.Scope["item"])
	assert.Equal(t, "out_0", p.Nodes[0].Step.SaveAs)
	assert.Equal(t, "out_1", p.Nodes[1].Step.SaveAs)
}

func TestFingerprint(t *testing.T) {
	b := newBuilder(t)

	p1, err := b.Build([]model.Step{{Tool: "run_command", Params: cmd("a")}}, nil)
	require.NoError(t, err)
	p2, err := b.Build([]model.Step{{Tool: "run_command", Params: cmd("a")}}, nil)
	require.NoError(t, err)
	p3, err := b.Build([]model.Step{{Tool: "run_command", Params: cmd("b")}}, nil)
	require.NoError(t, err)

	assert.Equal(t, p1.Fingerprint, p2.Fingerprint)
	assert.NotEqual(t, p1.Fingerprint, p3.Fingerprint)

	got, err := plan.Fingerprint(p1)
	require.NoError(t, err)
	assert.Equal(t, p1.Fingerprint, got)
}
