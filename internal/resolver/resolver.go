package resolver

import (
	"fmt"
	"strings"

	"github.com/slok/stepflow/internal/log"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// ResolverConfig is the configuration for the resolver.
type ResolverConfig struct {
	// Filters are custom filters added to (or overriding) the default ones.
	Filters map[string]Filter
	Logger  log.Logger
}

func (c *ResolverConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "resolver.Resolver"})
	return nil
}

// Resolver resolves `{{path | filter(args)}}` templates against a variable store.
type Resolver struct {
	filters map[string]Filter
	logger  log.Logger
}

// NewResolver returns a new resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	filters := defaultFilters()
	for name, f := range cfg.Filters {
		filters[name] = f
	}

	return &Resolver{
		filters: filters,
		logger:  cfg.Logger,
	}, nil
}

// Resolve resolves a template. Objects and arrays are resolved recursively and
// strings have every `{{expression}}` replaced with the formatted value.
func (r *Resolver) Resolve(template any, vars map[string]any) any {
	switch t := template.(type) {
	case string:
		return r.ResolveString(t, vars)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = r.Resolve(v, vars)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = r.Resolve(v, vars)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = r.ResolveString(v, vars)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = r.ResolveString(v, vars)
		}
		return out
	}

	return template
}

// ResolveString replaces every `{{expression}}` of a string. Malformed tokens are left verbatim.
func (r *Resolver) ResolveString(s string, vars map[string]any) string {
	if !strings.Contains(s, openDelim) {
		return s
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := closingDelim(rest, start+len(openDelim))
		if end < 0 {
			r.logger.Warningf("Unclosed template token in %q", s)
			b.WriteString(rest)
			break
		}

		b.WriteString(rest[:start])
		token := rest[start : end+len(closeDelim)]
		src := rest[start+len(openDelim) : end]

		v, err := r.Evaluate(src, vars)
		if err != nil {
			r.logger.Warningf("Could not resolve template token %q: %s", token, err)
			b.WriteString(token)
		} else {
			if IsUndefined(v) {
				r.logger.Warningf("Template token %q resolved to undefined", token)
			}
			b.WriteString(Format(v))
		}

		rest = rest[end+len(closeDelim):]
	}

	return b.String()
}

// ResolveValue resolves a template keeping the value type when the template is a
// single `{{expression}}` token, otherwise it behaves like Resolve.
func (r *Resolver) ResolveValue(template any, vars map[string]any) any {
	s, ok := template.(string)
	if !ok {
		return r.Resolve(template, vars)
	}

	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, openDelim) && closingDelim(trimmed, len(openDelim)) == len(trimmed)-len(closeDelim) {
		v, err := r.Evaluate(trimmed[len(openDelim):len(trimmed)-len(closeDelim)], vars)
		if err != nil {
			r.logger.Warningf("Could not resolve template token %q: %s", trimmed, err)
			return s
		}
		return v
	}

	return r.ResolveString(s, vars)
}

// Evaluate parses and evaluates a single expression (without the braces).
func (r *Resolver) Evaluate(src string, vars map[string]any) (any, error) {
	expr, err := Parse(src)
	if err != nil {
		return nil, fmt.Errorf("malformed expression: %w", err)
	}

	return r.EvaluateExpression(expr, vars)
}

// EvaluateExpression evaluates an already parsed expression.
func (r *Resolver) EvaluateExpression(expr *Expression, vars map[string]any) (any, error) {
	v := Lookup(vars, expr.Path)
	for _, fc := range expr.Filters {
		f, ok := r.filters[fc.Name]
		if !ok {
			r.logger.Warningf("Unknown template filter %q, value left unchanged", fc.Name)
			continue
		}

		var err error
		v, err = f(v, fc.Args)
		if err != nil {
			return nil, fmt.Errorf("filter %q failed: %w", fc.Name, err)
		}
	}

	return v, nil
}

// Lookup walks a path over the variables, any missing intermediate value returns Undefined.
func Lookup(vars map[string]any, path []Segment) any {
	if len(path) == 0 {
		return Undefined
	}

	root, ok := vars[path[0].Key]
	if !ok {
		return Undefined
	}
	current := Normalize(root)

	for _, seg := range path[1:] {
		switch c := current.(type) {
		case map[string]any:
			next, ok := c[seg.Key]
			if !ok {
				return Undefined
			}
			current = Normalize(next)
		case []any:
			if !seg.IsIndex {
				if seg.Key == "length" {
					current = float64(len(c))
					continue
				}
				return Undefined
			}
			i := seg.Index
			if i < 0 {
				i += len(c)
			}
			if i < 0 || i >= len(c) {
				return Undefined
			}
			current = Normalize(c[i])
		case string:
			if seg.Key == "length" && !seg.IsIndex {
				current = float64(len([]rune(c)))
				continue
			}
			return Undefined
		default:
			return Undefined
		}
	}

	return current
}

// LookupPath parses a dotted path and looks it up.
func LookupPath(vars map[string]any, path string) any {
	expr, err := Parse(path)
	if err != nil || len(expr.Filters) > 0 {
		return Undefined
	}
	return Lookup(vars, expr.Path)
}

// closingDelim returns the index of the closing delimiter ignoring the ones inside quoted strings.
func closingDelim(s string, from int) int {
	var quote byte
	for i := from; i < len(s)-1; i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '}' && s[i+1] == '}':
			return i
		}
	}
	return -1
}
