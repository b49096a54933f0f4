package resolver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/resolver"
)

func newResolver(t *testing.T) *resolver.Resolver {
	t.Helper()
	r, err := resolver.NewResolver(resolver.ResolverConfig{Logger: log.Noop})
	require.NoError(t, err)
	return r
}

func TestResolverResolveString(t *testing.T) {
	tests := map[string]struct {
		template string
		vars     map[string]any
		exp      string
	}{
		"Plain strings should be returned as they are.": {
			template: "echo hi",
			exp:      "echo hi",
		},

		"Dotted path with index access should be resolved.": {
			template: "{{a.b[0]}}",
			vars:     map[string]any{"a": map[string]any{"b": []any{5.0, 6.0}}},
			exp:      "5",
		},

		"Numeric dotted index access should be resolved.": {
			template: "{{a.b.1}}",
			vars:     map[string]any{"a": map[string]any{"b": []any{5.0, 6.0}}},
			exp:      "6",
		},

		"Negative bracket index should access from the end.": {
			template: "{{a[-1]}}",
			vars:     map[string]any{"a": []any{"x", "y", "z"}},
			exp:      "z",
		},

		"Length filter on arrays.": {
			template: "{{arr|length}}",
			vars:     map[string]any{"arr": []any{1.0, 2.0, 3.0}},
			exp:      "3",
		},

		"Default filter on missing values should use the fallback.": {
			template: "{{missing|default('x')}}",
			vars:     map[string]any{},
			exp:      "x",
		},

		"Default filter on null values should use the fallback.": {
			template: "{{n|default('x')}}",
			vars:     map[string]any{"n": nil},
			exp:      "x",
		},

		"Default filter on falsy but defined values should pass through.": {
			template: "{{zero|default('x')}}",
			vars:     map[string]any{"zero": 0},
			exp:      "0",
		},

		"Default filter on empty strings should pass through.": {
			template: "[{{empty|default('x')}}]",
			vars:     map[string]any{"empty": ""},
			exp:      "[]",
		},

		"Default filter on false should pass through.": {
			template: "{{f|default(true)}}",
			vars:     map[string]any{"f": false},
			exp:      "false",
		},

		"Missing intermediate values should resolve to an empty string.": {
			template: "a{{x.y.z}}b",
			vars:     map[string]any{"x": map[string]any{}},
			exp:      "ab",
		},

		"Objects should be formatted as JSON.": {
			template: "{{obj}}",
			vars:     map[string]any{"obj": map[string]any{"k": "v"}},
			exp:      `{"k":"v"}`,
		},

		"Chained filters should be applied left to right.": {
			template: "{{items|map('name')|join(', ')|upper}}",
			vars: map[string]any{"items": []any{
				map[string]any{"name": "a"},
				map[string]any{"name": "b"},
			}},
			exp: "A, B",
		},

		"Multiple tokens in the same string should be resolved.": {
			template: "{{a}}-{{b}}",
			vars:     map[string]any{"a": "x", "b": 2},
			exp:      "x-2",
		},

		"Results should not be trimmed.": {
			template: "echo {{a}}",
			vars:     map[string]any{"a": "hi\n"},
			exp:      "echo hi\n",
		},

		"Malformed tokens should be left verbatim.": {
			template: "x {{a[0}} y {{b}}",
			vars:     map[string]any{"a": []any{1.0}, "b": "ok"},
			exp:      "x {{a[0}} y ok",
		},

		"Unparsable filter arguments should leave the token verbatim.": {
			template: "{{a|join(,)}}",
			vars:     map[string]any{"a": []any{"x"}},
			exp:      "{{a|join(,)}}",
		},

		"Unknown filters should leave the value unchanged.": {
			template: "{{a|nope|upper}}",
			vars:     map[string]any{"a": "x"},
			exp:      "X",
		},

		"Unclosed tokens should be left verbatim.": {
			template: "hello {{a",
			vars:     map[string]any{"a": "x"},
			exp:      "hello {{a",
		},

		"Closing braces inside quoted arguments should not close the token.": {
			template: "{{missing|default('}}')}}",
			exp:      "}}",
		},

		"Failing filters should leave the token verbatim.": {
			template: "{{a|match('(')}}",
			vars:     map[string]any{"a": "x"},
			exp:      "{{a|match('(')}}",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			r := newResolver(t)
			got := r.ResolveString(test.template, test.vars)
			assert.Equal(t, test.exp, got)
		})
	}
}

func TestResolverResolveRecursive(t *testing.T) {
	r := newResolver(t)
	vars := map[string]any{"a": "hi\n", "n": 3}

	got := r.Resolve(map[string]any{
		"command": "echo {{a}}",
		"nested":  []any{"{{n}}", 7.0, true, map[string]any{"x": "{{missing|default('d')}}"}},
	}, vars)

	exp := map[string]any{
		"command": "echo hi\n",
		"nested":  []any{"3", 7.0, true, map[string]any{"x": "d"}},
	}
	assert.Equal(t, exp, got)
}

func TestResolverResolveValue(t *testing.T) {
	tests := map[string]struct {
		template any
		vars     map[string]any
		exp      any
	}{
		"A single token should keep the value type.": {
			template: "{{items}}",
			vars:     map[string]any{"items": []any{"a", "b"}},
			exp:      []any{"a", "b"},
		},

		"A single token with filters should keep the value type.": {
			template: "{{ items | length }}",
			vars:     map[string]any{"items": []any{"a", "b"}},
			exp:      2.0,
		},

		"Mixed text should be resolved as a string.": {
			template: "n={{n}}",
			vars:     map[string]any{"n": 1},
			exp:      "n=1",
		},

		"Non string values should be resolved recursively.": {
			template: []any{"{{n}}"},
			vars:     map[string]any{"n": 1},
			exp:      []any{"1"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			r := newResolver(t)
			assert.Equal(t, test.exp, r.ResolveValue(test.template, test.vars))
		})
	}
}

func TestResolverCustomFilters(t *testing.T) {
	r, err := resolver.NewResolver(resolver.ResolverConfig{
		Filters: map[string]resolver.Filter{
			"shout": func(v any, _ []any) (any, error) { return resolver.Format(v) + "!", nil },
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "hey!", r.ResolveString("{{a|shout}}", map[string]any{"a": "hey"}))
}
