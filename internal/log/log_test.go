package log_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/stepflow/internal/log"
)

func TestCtxValues(t *testing.T) {
	tests := map[string]struct {
		ctx       func() context.Context
		expValues log.Kv
	}{
		"A context without values should return empty values.": {
			ctx:       context.Background,
			expValues: log.Kv{},
		},

		"Values set on a context should be returned.": {
			ctx: func() context.Context {
				return log.CtxWithValues(context.Background(), log.Kv{"task-id": "t1"})
			},
			expValues: log.Kv{"task-id": "t1"},
		},

		"Values set multiple times should be merged and overridden.": {
			ctx: func() context.Context {
				ctx := log.CtxWithValues(context.Background(), log.Kv{"task-id": "t1", "step": 0})
				return log.CtxWithValues(ctx, log.Kv{"step": 3, "tool": "write_file"})
			},
			expValues: log.Kv{"task-id": "t1", "step": 3, "tool": "write_file"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expValues, log.ValuesFromCtx(test.ctx()))
		})
	}
}
