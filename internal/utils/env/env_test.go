package env_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepflow/internal/utils/env"
)

func TestParseSpecs(t *testing.T) {
	t.Setenv("FROM_HOST", "host-value")

	tests := map[string]struct {
		specs  []string
		expEnv map[string]string
		expErr bool
	}{
		"KEY=VALUE should parse": {
			specs:  []string{"FOO=bar"},
			expEnv: map[string]string{"FOO": "bar"},
		},
		"A value with equal signs should keep them": {
			specs:  []string{"URL=http://x?a=b"},
			expEnv: map[string]string{"URL": "http://x?a=b"},
		},
		"KEY should inherit from host": {
			specs:  []string{"FROM_HOST"},
			expEnv: map[string]string{"FROM_HOST": "host-value"},
		},
		"Later entries should override earlier ones": {
			specs:  []string{"FOO=one", "FOO=two"},
			expEnv: map[string]string{"FOO": "two"},
		},
		"Missing inherited var should fail": {
			specs:  []string{"DOES_NOT_EXIST_STEPFLOW"},
			expErr: true,
		},
		"Invalid key should fail": {
			specs:  []string{"1INVALID=value"},
			expErr: true,
		},
		"Empty spec should fail": {
			specs:  []string{""},
			expErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := env.ParseSpecs(tc.specs)

			if tc.expErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expEnv, got)
		})
	}
}

func TestToList(t *testing.T) {
	assert.Equal(t, []string{"A=1", "B=2"}, env.ToList(map[string]string{"B": "2", "A": "1"}))
	assert.Equal(t, []string{}, env.ToList(nil))
}

func TestMergeVariables(t *testing.T) {
	base := map[string]any{"env": "dev", "n": 1.0}

	got := env.MergeVariables(base, map[string]string{"env": "prod"})

	assert.Equal(t, map[string]any{"env": "prod", "n": 1.0}, got)
	assert.Equal(t, "dev", base["env"])
}
