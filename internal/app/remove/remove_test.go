package remove_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepflow/internal/app/remove"
	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/storage/storagemock"
)

func TestNewService(t *testing.T) {
	tests := map[string]struct {
		config remove.ServiceConfig
		expErr bool
	}{
		"valid config should create service": {
			config: remove.ServiceConfig{
				Repository: &storagemock.MockRepository{},
				Logger:     log.Noop,
			},
		},
		"missing repository should fail": {
			config: remove.ServiceConfig{Logger: log.Noop},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			svc, err := remove.NewService(test.config)

			if test.expErr {
				require.Error(err)
				require.Nil(svc)
			} else {
				require.NoError(err)
				require.NotNil(svc)
			}
		})
	}
}

func TestService_Run(t *testing.T) {
	tests := map[string]struct {
		mock       func(m *storagemock.MockRepository)
		req        remove.Request
		expRemoved []string
		expErr     bool
		expErrIs   error
	}{
		"remove a finished task": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetCheckpoint", mock.Anything, "t1").Once().Return(&model.Checkpoint{TaskID: "t1", State: model.CheckpointStateCompleted}, nil)
				m.On("DeleteCheckpoint", mock.Anything, "t1").Once().Return(nil)
			},
			req:        remove.Request{ID: "t1"},
			expRemoved: []string{"t1"},
		},
		"remove a running task without force should fail": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetCheckpoint", mock.Anything, "t1").Once().Return(&model.Checkpoint{TaskID: "t1", State: model.CheckpointStateRunning}, nil)
			},
			req:      remove.Request{ID: "t1"},
			expErr:   true,
			expErrIs: model.ErrNotValid,
		},
		"remove a running task with force": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetCheckpoint", mock.Anything, "t1").Once().Return(&model.Checkpoint{TaskID: "t1", State: model.CheckpointStateResuming}, nil)
				m.On("DeleteCheckpoint", mock.Anything, "t1").Once().Return(nil)
			},
			req:        remove.Request{ID: "t1", Force: true},
			expRemoved: []string{"t1"},
		},
		"remove a goal with its tasks": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetCheckpoint", mock.Anything, "g1").Once().Return(nil, model.ErrNotFound)
				m.On("GetGoal", mock.Anything, "g1").Once().Return(&model.Goal{ID: "g1", TaskIDs: []string{"g1-1", "g1-2"}}, nil)
				m.On("GetCheckpoint", mock.Anything, "g1-1").Once().Return(nil, model.ErrNotFound)
				m.On("GetCheckpoint", mock.Anything, "g1-2").Once().Return(&model.Checkpoint{TaskID: "g1-2", State: model.CheckpointStateFailed}, nil)
				m.On("DeleteCheckpoint", mock.Anything, "g1-2").Once().Return(nil)
				m.On("DeleteGoal", mock.Anything, "g1").Once().Return(nil)
			},
			req:        remove.Request{ID: "g1"},
			expRemoved: []string{"g1-2", "g1"},
		},
		"a missing id should fail with not found": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetCheckpoint", mock.Anything, "x").Once().Return(nil, model.ErrNotFound)
				m.On("GetGoal", mock.Anything, "x").Once().Return(nil, model.ErrNotFound)
			},
			req:      remove.Request{ID: "x"},
			expErr:   true,
			expErrIs: model.ErrNotFound,
		},
		"a delete error should propagate": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetCheckpoint", mock.Anything, "t1").Once().Return(&model.Checkpoint{TaskID: "t1", State: model.CheckpointStatePaused}, nil)
				m.On("DeleteCheckpoint", mock.Anything, "t1").Once().Return(fmt.Errorf("database error"))
			},
			req:    remove.Request{ID: "t1"},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			m := &storagemock.MockRepository{}
			test.mock(m)

			svc, err := remove.NewService(remove.ServiceConfig{Repository: m, Logger: log.Noop})
			require.NoError(err)

			removed, err := svc.Run(context.Background(), test.req)
			if test.expErr {
				require.Error(err)
				if test.expErrIs != nil {
					assert.ErrorIs(err, test.expErrIs)
				}
			} else {
				require.NoError(err)
				assert.Equal(test.expRemoved, removed)
			}

			m.AssertExpectations(t)
		})
	}
}
