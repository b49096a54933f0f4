package resolver

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Filter is a pure pipe filter, it receives the piped value and the literal arguments.
type Filter func(v any, args []any) (any, error)

func defaultFilters() map[string]Filter {
	return map[string]Filter{
		"default": filterDefault,
		"json":    filterJSON,
		"length":  filterLength,
		"first":   filterFirst,
		"last":    filterLast,
		"join":    filterJoin,
		"split":   filterSplit,
		"upper":   stringFilter(strings.ToUpper),
		"lower":   stringFilter(strings.ToLower),
		"trim":    stringFilter(strings.TrimSpace),
		"slice":   filterSlice,
		"map":     filterMap,
		"filter":  filterFilter,
		"sum":     filterSum,
		"avg":     filterAvg,
		"min":     filterMin,
		"max":     filterMax,
		"unique":  filterUnique,
		"reverse": filterReverse,
		"sort":    filterSort,
		"keys":    filterKeys,
		"values":  filterValues,
		"entries": filterEntries,
		"replace": filterReplace,
		"match":   filterMatch,
		"abs":     numberFilter(math.Abs),
		"round":   filterRound,
		"floor":   numberFilter(math.Floor),
		"ceil":    numberFilter(math.Ceil),
	}
}

func arg(args []any, i int) (any, bool) {
	if i >= len(args) {
		return nil, false
	}
	return args[i], true
}

func stringArg(args []any, i int, def string) string {
	v, ok := arg(args, i)
	if !ok || v == nil {
		return def
	}
	return Format(v)
}

func intArg(args []any, i int) (int, bool) {
	v, ok := arg(args, i)
	if !ok || v == nil {
		return 0, false
	}
	f, ok := ToNumber(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func stringFilter(fn func(string) string) Filter {
	return func(v any, _ []any) (any, error) {
		if IsMissing(v) {
			return v, nil
		}
		return fn(Format(v)), nil
	}
}

func numberFilter(fn func(float64) float64) Filter {
	return func(v any, _ []any) (any, error) {
		f, ok := ToNumber(v)
		if !ok {
			return math.NaN(), nil
		}
		return fn(f), nil
	}
}

func filterDefault(v any, args []any) (any, error) {
	// Only missing values are replaced, falsy values like 0, "" or false are kept.
	if IsMissing(v) {
		fallback, _ := arg(args, 0)
		return fallback, nil
	}
	return v, nil
}

func filterJSON(v any, args []any) (any, error) {
	if IsUndefined(v) {
		return Undefined, nil
	}

	var (
		b   []byte
		err error
	)
	if indent, ok := intArg(args, 0); ok && indent > 0 {
		b, err = json.MarshalIndent(v, "", strings.Repeat(" ", indent))
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		return nil, fmt.Errorf("could not marshal JSON: %w", err)
	}
	return string(b), nil
}

func filterLength(v any, _ []any) (any, error) {
	switch t := v.(type) {
	case string:
		return float64(len([]rune(t))), nil
	case []any:
		return float64(len(t)), nil
	case map[string]any:
		return float64(len(t)), nil
	}
	return float64(0), nil
}

func filterFirst(v any, _ []any) (any, error) {
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return Undefined, nil
		}
		return t[0], nil
	case string:
		rs := []rune(t)
		if len(rs) == 0 {
			return Undefined, nil
		}
		return string(rs[0]), nil
	}
	return Undefined, nil
}

func filterLast(v any, _ []any) (any, error) {
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return Undefined, nil
		}
		return t[len(t)-1], nil
	case string:
		rs := []rune(t)
		if len(rs) == 0 {
			return Undefined, nil
		}
		return string(rs[len(rs)-1]), nil
	}
	return Undefined, nil
}

func filterJoin(v any, args []any) (any, error) {
	arr, ok := v.([]any)
	if !ok {
		return v, nil
	}
	sep := stringArg(args, 0, ",")
	parts := make([]string, 0, len(arr))
	for _, e := range arr {
		parts = append(parts, Format(e))
	}
	return strings.Join(parts, sep), nil
}

func filterSplit(v any, args []any) (any, error) {
	if IsMissing(v) {
		return v, nil
	}
	sep := stringArg(args, 0, ",")
	parts := strings.Split(Format(v), sep)
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		out = append(out, p)
	}
	return out, nil
}

// sliceBounds applies negative index and clamping semantics.
func sliceBounds(n int, args []any) (int, int) {
	start, _ := intArg(args, 0)
	end, ok := intArg(args, 1)
	if !ok {
		end = n
	}
	norm := func(i int) int {
		if i < 0 {
			i += n
		}
		if i < 0 {
			return 0
		}
		if i > n {
			return n
		}
		return i
	}
	start, end = norm(start), norm(end)
	if end < start {
		end = start
	}
	return start, end
}

func filterSlice(v any, args []any) (any, error) {
	switch t := v.(type) {
	case []any:
		s, e := sliceBounds(len(t), args)
		out := make([]any, e-s)
		copy(out, t[s:e])
		return out, nil
	case string:
		rs := []rune(t)
		s, e := sliceBounds(len(rs), args)
		return string(rs[s:e]), nil
	}
	return v, nil
}

func field(v any, name string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return Undefined
	}
	fv, ok := m[name]
	if !ok {
		return Undefined
	}
	return fv
}

func filterMap(v any, args []any) (any, error) {
	arr, ok := v.([]any)
	if !ok {
		return v, nil
	}
	name := stringArg(args, 0, "")
	out := make([]any, 0, len(arr))
	for _, e := range arr {
		fv := field(e, name)
		if IsUndefined(fv) {
			fv = nil
		}
		out = append(out, fv)
	}
	return out, nil
}

func filterFilter(v any, args []any) (any, error) {
	arr, ok := v.([]any)
	if !ok {
		return v, nil
	}
	name := stringArg(args, 0, "")
	want, hasWant := arg(args, 1)

	out := []any{}
	for _, e := range arr {
		var fv any = e
		if name != "" {
			fv = field(e, name)
		}
		if hasWant {
			if equalValues(fv, want) {
				out = append(out, e)
			}
			continue
		}
		if Truthy(fv) {
			out = append(out, e)
		}
	}
	return out, nil
}

func numbers(v any) []float64 {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(arr))
	for _, e := range arr {
		if f, ok := ToNumber(e); ok {
			out = append(out, f)
		}
	}
	return out
}

func filterSum(v any, _ []any) (any, error) {
	total := 0.0
	for _, f := range numbers(v) {
		total += f
	}
	return total, nil
}

func filterAvg(v any, _ []any) (any, error) {
	ns := numbers(v)
	if len(ns) == 0 {
		return float64(0), nil
	}
	total := 0.0
	for _, f := range ns {
		total += f
	}
	return total / float64(len(ns)), nil
}

func filterMin(v any, _ []any) (any, error) {
	ns := numbers(v)
	if len(ns) == 0 {
		return Undefined, nil
	}
	m := ns[0]
	for _, f := range ns[1:] {
		m = math.Min(m, f)
	}
	return m, nil
}

func filterMax(v any, _ []any) (any, error) {
	ns := numbers(v)
	if len(ns) == 0 {
		return Undefined, nil
	}
	m := ns[0]
	for _, f := range ns[1:] {
		m = math.Max(m, f)
	}
	return m, nil
}

func filterUnique(v any, _ []any) (any, error) {
	arr, ok := v.([]any)
	if !ok {
		return v, nil
	}
	seen := map[string]bool{}
	out := []any{}
	for _, e := range arr {
		k := Format(e)
		if _, isStr := e.(string); isStr {
			k = "s:" + k
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out, nil
}

func filterReverse(v any, _ []any) (any, error) {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[len(t)-1-i] = e
		}
		return out, nil
	case string:
		rs := []rune(t)
		for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
			rs[i], rs[j] = rs[j], rs[i]
		}
		return string(rs), nil
	}
	return v, nil
}

func filterSort(v any, args []any) (any, error) {
	arr, ok := v.([]any)
	if !ok {
		return v, nil
	}
	name := stringArg(args, 0, "")
	out := make([]any, len(arr))
	copy(out, arr)

	key := func(e any) any {
		if name == "" {
			return e
		}
		return field(e, name)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := key(out[i]), key(out[j])
		fa, okA := a.(float64)
		fb, okB := b.(float64)
		if okA && okB {
			return fa < fb
		}
		return Format(a) < Format(b)
	})
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func filterKeys(v any, _ []any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return []any{}, nil
	}
	out := []any{}
	for _, k := range sortedKeys(m) {
		out = append(out, k)
	}
	return out, nil
}

func filterValues(v any, _ []any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return []any{}, nil
	}
	out := []any{}
	for _, k := range sortedKeys(m) {
		out = append(out, m[k])
	}
	return out, nil
}

func filterEntries(v any, _ []any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return []any{}, nil
	}
	out := []any{}
	for _, k := range sortedKeys(m) {
		out = append(out, []any{k, m[k]})
	}
	return out, nil
}

func filterReplace(v any, args []any) (any, error) {
	if IsMissing(v) {
		return v, nil
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("replace requires search and replacement arguments")
	}
	return strings.ReplaceAll(Format(v), Format(args[0]), Format(args[1])), nil
}

func filterMatch(v any, args []any) (any, error) {
	if IsMissing(v) {
		return nil, nil
	}
	pattern := stringArg(args, 0, "")
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid match pattern %q: %w", pattern, err)
	}
	m := re.FindStringSubmatch(Format(v))
	if m == nil {
		return nil, nil
	}
	out := make([]any, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out, nil
}

func filterRound(v any, args []any) (any, error) {
	f, ok := ToNumber(v)
	if !ok {
		return math.NaN(), nil
	}
	decimals, _ := intArg(args, 0)
	pow := math.Pow(10, float64(decimals))
	// Half values round up like JS Math.round.
	return math.Floor(f*pow+0.5) / pow, nil
}

func equalValues(a, b any) bool {
	fa, okA := ToNumber(a)
	fb, okB := ToNumber(b)
	_, aStr := a.(string)
	_, bStr := b.(string)
	if okA && okB && !aStr && !bStr {
		return fa == fb
	}
	if IsMissing(a) || IsMissing(b) {
		return IsMissing(a) && IsMissing(b)
	}
	return Format(a) == Format(b)
}

// Equal compares two JSON values.
func Equal(a, b any) bool { return equalValues(a, b) }
