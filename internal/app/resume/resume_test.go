package resume_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepflow/internal/app/resume"
	"github.com/slok/stepflow/internal/model"
)

type mockResumer struct {
	mock.Mock
}

func (m *mockResumer) Resume(ctx context.Context, taskID string) (*model.Task, error) {
	args := m.Called(ctx, taskID)
	t, _ := args.Get(0).(*model.Task)
	return t, args.Error(1)
}

func TestNewService(t *testing.T) {
	_, err := resume.NewService(resume.ServiceConfig{})
	assert.Error(t, err)

	svc, err := resume.NewService(resume.ServiceConfig{Executor: &mockResumer{}})
	assert.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestService_Run(t *testing.T) {
	tests := map[string]struct {
		req      resume.Request
		mock     func(m *mockResumer)
		expTask  *model.Task
		expErr   bool
		expErrIs error
	}{
		"resuming a paused task should return the finished task.": {
			req: resume.Request{TaskID: "t1"},
			mock: func(m *mockResumer) {
				m.On("Resume", mock.Anything, "t1").Once().Return(&model.Task{ID: "t1", State: model.TaskStateSuccess}, nil)
			},
			expTask: &model.Task{ID: "t1", State: model.TaskStateSuccess},
		},
		"a missing checkpoint should fail.": {
			req: resume.Request{TaskID: "t1"},
			mock: func(m *mockResumer) {
				m.On("Resume", mock.Anything, "t1").Once().Return(nil, fmt.Errorf("checkpoint t1: %w", model.ErrNotFound))
			},
			expErr:   true,
			expErrIs: model.ErrNotFound,
		},
		"a task paused again should return the task and the error.": {
			req: resume.Request{TaskID: "t1"},
			mock: func(m *mockResumer) {
				m.On("Resume", mock.Anything, "t1").Once().Return(&model.Task{ID: "t1", State: model.TaskStateNeedUser}, model.ErrNeedUser)
			},
			expTask:  &model.Task{ID: "t1", State: model.TaskStateNeedUser},
			expErr:   true,
			expErrIs: model.ErrNeedUser,
		},
		"a missing task id should fail.": {
			req:      resume.Request{},
			mock:     func(m *mockResumer) {},
			expErr:   true,
			expErrIs: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			m := &mockResumer{}
			test.mock(m)

			svc, err := resume.NewService(resume.ServiceConfig{Executor: m})
			require.NoError(err)

			task, err := svc.Run(context.Background(), test.req)
			if test.expErr {
				require.Error(err)
				if test.expErrIs != nil {
					assert.ErrorIs(err, test.expErrIs)
				}
			} else {
				require.NoError(err)
			}
			assert.Equal(test.expTask, task)

			m.AssertExpectations(t)
		})
	}
}
