package goalexec_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepflow/internal/app/goalexec"
	"github.com/slok/stepflow/internal/goal"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/storage/storagemock"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Execute(ctx context.Context, g *model.Goal) (*goal.Result, error) {
	args := m.Called(ctx, g)
	r, _ := args.Get(0).(*goal.Result)
	return r, args.Error(1)
}

func TestNewService(t *testing.T) {
	tests := map[string]struct {
		config goalexec.ServiceConfig
		expErr bool
	}{
		"valid config should create service": {
			config: goalexec.ServiceConfig{Runner: &mockRunner{}, Repository: &storagemock.MockRepository{}},
		},
		"missing runner should fail": {
			config: goalexec.ServiceConfig{Repository: &storagemock.MockRepository{}},
			expErr: true,
		},
		"missing repository should fail": {
			config: goalexec.ServiceConfig{Runner: &mockRunner{}},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			svc, err := goalexec.NewService(test.config)
			if test.expErr {
				assert.Error(t, err)
				assert.Nil(t, svc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}

func TestService_Run(t *testing.T) {
	plan := []model.Step{{Tool: "run_command", Params: map[string]any{"command": "true"}}}

	tests := map[string]struct {
		goal      *model.Goal
		mock      func(mr *mockRunner, mrepo *storagemock.MockRepository)
		expResult *goal.Result
		expErrIs  error
	}{
		"a new goal should be executed.": {
			goal: &model.Goal{ID: "g1", Plan: plan},
			mock: func(mr *mockRunner, mrepo *storagemock.MockRepository) {
				mrepo.On("GetGoal", mock.Anything, "g1").Once().Return(nil, model.ErrNotFound)
				mr.On("Execute", mock.Anything, mock.Anything).Once().Return(&goal.Result{Success: true, Attempts: 1}, nil)
			},
			expResult: &goal.Result{Success: true, Attempts: 1},
		},
		"a goal without id should get a generated one.": {
			goal: &model.Goal{Plan: plan},
			mock: func(mr *mockRunner, mrepo *storagemock.MockRepository) {
				mrepo.On("GetGoal", mock.Anything, "generated").Once().Return(nil, model.ErrNotFound)
				mr.On("Execute", mock.Anything, mock.MatchedBy(func(g *model.Goal) bool { return g.ID == "generated" })).Once().Return(&goal.Result{Attempts: 3}, nil)
			},
			expResult: &goal.Result{Attempts: 3},
		},
		"an existing goal should fail.": {
			goal: &model.Goal{ID: "g1", Plan: plan},
			mock: func(mr *mockRunner, mrepo *storagemock.MockRepository) {
				mrepo.On("GetGoal", mock.Anything, "g1").Once().Return(&model.Goal{ID: "g1"}, nil)
			},
			expErrIs: model.ErrAlreadyExists,
		},
		"a store error should fail.": {
			goal: &model.Goal{ID: "g1", Plan: plan},
			mock: func(mr *mockRunner, mrepo *storagemock.MockRepository) {
				mrepo.On("GetGoal", mock.Anything, "g1").Once().Return(nil, fmt.Errorf("something"))
			},
		},
		"a goal without plan should fail.": {
			goal:     &model.Goal{ID: "g1"},
			mock:     func(mr *mockRunner, mrepo *storagemock.MockRepository) {},
			expErrIs: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			mr := &mockRunner{}
			mrepo := &storagemock.MockRepository{}
			test.mock(mr, mrepo)

			svc, err := goalexec.NewService(goalexec.ServiceConfig{Runner: mr, Repository: mrepo, NewID: func() string { return "generated" }})
			require.NoError(err)

			res, err := svc.Run(context.Background(), goalexec.Request{Goal: test.goal})
			if test.expResult == nil {
				require.Error(err)
				if test.expErrIs != nil {
					assert.ErrorIs(err, test.expErrIs)
				}
			} else {
				require.NoError(err)
				assert.Equal(test.expResult, res)
			}

			mr.AssertExpectations(t)
			mrepo.AssertExpectations(t)
		})
	}
}
