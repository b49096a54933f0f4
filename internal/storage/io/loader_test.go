package io

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/tool/safety"
)

func boolPtr(b bool) *bool { return &b }

func TestSubmissionRepositoryGetSubmission(t *testing.T) {
	tests := map[string]struct {
		data   string
		exp    *Submission
		expErr bool
		errMsg string
	}{
		"A YAML task should load successfully.": {
			data: `
id: deploy-1
options:
  stopOnError: false
  timeout: 5m
variables:
  env: prod
steps:
  - tool: run_command
    params:
      command: echo hi
    saveAs: a
  - tool: run_command
    params: {command: "echo {{a}}"}
    dependsOn: [a, 0]
    when: success
    timeout: 10s
    maxRetries: 1
`,
			exp: &Submission{Task: &model.Task{
				ID:        "deploy-1",
				Options:   model.TaskOptions{StopOnError: boolPtr(false), Timeout: "5m"},
				Variables: map[string]any{"env": "prod"},
				Steps: []model.Step{
					{Tool: "run_command", Params: map[string]any{"command": "echo hi"}, SaveAs: "a"},
					{
						Tool:       "run_command",
						Params:     map[string]any{"command": "echo {{a}}"},
						DependsOn:  []model.StepRef{model.NameRef("a"), model.IndexRef(0)},
						When:       &model.Condition{Shorthand: "success"},
						Timeout:    "10s",
						MaxRetries: 1,
					},
				},
			}},
		},
		"A JSON task with an object condition should load successfully.": {
			data: `{"steps": [{"tool": "read_file", "params": {"path": "/tmp/x"}, "when": {"variable": "env", "equals": "prod", "not": true}}]}`,
			exp: &Submission{Task: &model.Task{
				Steps: []model.Step{{
					Tool:   "read_file",
					Params: map[string]any{"path": "/tmp/x"},
					When:   &model.Condition{Variable: "env", Equals: "prod", Not: true},
				}},
			}},
		},
		"A goal should load successfully.": {
			data: `
goalId: g1
description: x must exist
maxAttempts: 2
autoAdjust: true
successCriteria:
  - type: file_exists
    path: /tmp/x
plan:
  - tool: run_command
    params: {command: "true"}
`,
			exp: &Submission{Goal: &model.Goal{
				ID:              "g1",
				Description:     "x must exist",
				MaxAttempts:     2,
				AutoAdjust:      boolPtr(true),
				SuccessCriteria: []model.Criterion{{Type: model.CriterionFileExists, Path: "/tmp/x"}},
				Plan:            []model.Step{{Tool: "run_command", Params: map[string]any{"command": "true"}}},
			}},
		},
		"A task without steps should fail.": {
			data:   `id: t1`,
			expErr: true,
			errMsg: "invalid document",
		},
		"A step without tool should fail.": {
			data:   `steps: [{params: {}}]`,
			expErr: true,
			errMsg: "/steps/0",
		},
		"An unknown step field should fail.": {
			data:   `steps: [{tool: x, retries: 3}]`,
			expErr: true,
			errMsg: "invalid document",
		},
		"An invalid duration should fail.": {
			data:   `steps: [{tool: x, timeout: soon}]`,
			expErr: true,
			errMsg: "/steps/0/timeout",
		},
		"An unknown criterion type should fail.": {
			data:   `{goalId: g, plan: [], successCriteria: [{type: magic}]}`,
			expErr: true,
			errMsg: "/successCriteria/0/type",
		},
		"A criterion without its required field should fail.": {
			data:   `{goalId: g, plan: [], successCriteria: [{type: file_contains, content: x}]}`,
			expErr: true,
			errMsg: "requires path",
		},
		"A document that is not an object should fail.": {
			data:   `- a`,
			expErr: true,
			errMsg: "must be an object",
		},
		"Invalid YAML should fail.": {
			data:   `invalid: yaml: content: {}`,
			expErr: true,
			errMsg: "parsing YAML",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			fs := fstest.MapFS{"doc.yaml": &fstest.MapFile{Data: []byte(tc.data)}}
			repo, err := NewSubmissionRepository(fs)
			require.NoError(t, err)

			got, err := repo.GetSubmission(context.Background(), "doc.yaml")
			if tc.expErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, model.ErrNotValid)
				assert.Contains(t, err.Error(), tc.errMsg)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.exp, got)
		})
	}
}

func TestSubmissionRepositoryMissingFile(t *testing.T) {
	repo, err := NewSubmissionRepository(fstest.MapFS{})
	require.NoError(t, err)

	_, err = repo.GetSubmission(context.Background(), "nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading submission file")
}

func TestSubmissionRepositoryContextCancellation(t *testing.T) {
	fs := fstest.MapFS{"doc.yaml": &fstest.MapFile{Data: []byte(`steps: [{tool: x}]`)}}
	repo, err := NewSubmissionRepository(fs)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = repo.GetSubmission(ctx, "doc.yaml")
	assert.Equal(t, context.Canceled, err)
}

func TestPolicyRepositoryGetPolicy(t *testing.T) {
	tests := map[string]struct {
		data      string
		expPolicy safety.Policy
		expErr    bool
	}{
		"A policy should load successfully.": {
			data: `
deniedTools: [delete_file]
deniedCommands: ['curl .*\|\s*sh']
deniedPaths: ["/etc/**"]
allowedRoots: [/home/user/work]
`,
			expPolicy: safety.Policy{
				DeniedTools:    []string{"delete_file"},
				DeniedCommands: []string{`curl .*\|\s*sh`},
				DeniedPaths:    []string{"/etc/**"},
				AllowedRoots:   []string{"/home/user/work"},
			},
		},
		"An empty policy should load successfully.": {
			data: `---
`,
		},
		"An invalid regex should fail.": {
			data:   `deniedCommands: ['(']`,
			expErr: true,
		},
		"An unknown field should fail.": {
			data:   `allowedTools: [x]`,
			expErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			fs := fstest.MapFS{"policy.yaml": &fstest.MapFile{Data: []byte(tc.data)}}
			repo, err := NewPolicyRepository(fs)
			require.NoError(t, err)

			got, err := repo.GetPolicy(context.Background(), "policy.yaml")
			if tc.expErr {
				assert.ErrorIs(t, err, model.ErrNotValid)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expPolicy, got)
		})
	}
}
