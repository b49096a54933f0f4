package resolver

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type undefinedValue struct{}

func (undefinedValue) String() string { return "undefined" }

// Undefined is the value of a path that could not be resolved. It is different
// from nil (JSON null).
var Undefined = undefinedValue{}

// IsUndefined returns true if the value is the Undefined value.
func IsUndefined(v any) bool {
	_, ok := v.(undefinedValue)
	return ok
}

// IsMissing returns true if the value is undefined or null.
func IsMissing(v any) bool {
	return v == nil || IsUndefined(v)
}

// Format converts a resolved value into its substitution string.
func Format(v any) string {
	switch t := v.(type) {
	case nil, undefinedValue:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return formatFloat(t)
	case float32:
		return formatFloat(float64(t))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", t)
	case json.Number:
		return t.String()
	case []byte:
		return string(t)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return "null"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ToNumber converts a value into a float64.
func ToNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// Truthy returns the truthiness of a value.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil, undefinedValue:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return true
	case map[string]any:
		return true
	}
	if f, ok := ToNumber(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

// Normalize converts arbitrary Go values into the JSON value model (map[string]any,
// []any, float64, string, bool, nil).
func Normalize(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64, map[string]any, []any, undefinedValue:
		return v
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, json.Number:
		f, _ := ToNumber(t)
		return f
	}

	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// ParseJSONResult returns the JSON decoded value of a string result if possible,
// otherwise the value as it is.
func ParseJSONResult(v any) any {
	s, ok := v.(string)
	if !ok {
		return Normalize(v)
	}

	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	var out any
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return s
	}
	return out
}
