package plan_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appplan "github.com/slok/stepflow/internal/app/plan"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/plan"
)

func TestService_Run(t *testing.T) {
	tests := map[string]struct {
		req       appplan.Request
		expLevels [][]string
		expCycle  []string
		expErrIs  error
	}{
		"a sequential list with a parallel group should be planned in levels.": {
			req: appplan.Request{Steps: []model.Step{
				{ID: "setup", Tool: "x"},
				{ID: "a", Tool: "x", Parallel: true, DependsOn: []model.StepRef{model.NameRef("setup")}},
				{ID: "b", Tool: "x", Parallel: true, DependsOn: []model.StepRef{model.NameRef("setup")}},
			}},
			expLevels: [][]string{{"setup"}, {"a", "b"}},
		},
		"a foreach step should be expanded with the variables.": {
			req: appplan.Request{
				Steps:     []model.Step{{ID: "up", Tool: "x", Foreach: "{{hosts}}"}},
				Variables: map[string]any{"hosts": []any{"h1", "h2"}},
			},
			expLevels: [][]string{{"up_0", "up_1"}},
		},
		"a cycle should return the cycle nodes.": {
			req: appplan.Request{Steps: []model.Step{
				{ID: "a", Tool: "x", DependsOn: []model.StepRef{model.NameRef("b")}},
				{ID: "b", Tool: "x", DependsOn: []model.StepRef{model.NameRef("a")}},
			}},
			expCycle: []string{"a", "b"},
			expErrIs: model.ErrCycle,
		},
		"an empty list should fail.": {
			req:      appplan.Request{},
			expErrIs: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			b, err := plan.NewBuilder(plan.BuilderConfig{})
			require.NoError(err)
			svc, err := appplan.NewService(appplan.ServiceConfig{Builder: b})
			require.NoError(err)

			p, err := svc.Run(context.Background(), test.req)
			if test.expErrIs != nil {
				assert.ErrorIs(err, test.expErrIs)
				if test.expCycle != nil {
					cerr, ok := plan.IsCycle(err)
					require.True(ok)
					assert.ElementsMatch(test.expCycle, cerr.RemainingNodes)
				}
				return
			}

			require.NoError(err)
			assert.Equal(test.expLevels, p.Levels)
			assert.NotEmpty(p.Fingerprint)
		})
	}
}

func TestNewServiceRequiresBuilder(t *testing.T) {
	_, err := appplan.NewService(appplan.ServiceConfig{})
	assert.Error(t, err)
}
