package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/resolver"
)

// evalCondition evaluates the `when` of a node. The string shorthands check the
// result of the immediately preceding node.
func (e *Executor) evalCondition(r *run, node *model.PlanNode, vars map[string]any) (bool, string) {
	c := node.Step.When
	if c == nil {
		return true, ""
	}

	ok, reason := e.evalConditionPositive(r, node, c, vars)
	if c.Not {
		if ok {
			return false, "negated condition matched"
		}
		return true, ""
	}
	return ok, reason
}

func (e *Executor) evalConditionPositive(r *run, node *model.PlanNode, c *model.Condition, vars map[string]any) (bool, string) {
	if c.Shorthand != "" {
		return e.evalShorthand(r, node, c.Shorthand, vars)
	}

	if c.Variable == "" {
		return true, ""
	}

	v := resolver.LookupPath(vars, c.Variable)

	if c.Exists != nil {
		exists := !resolver.IsMissing(v)
		if exists != *c.Exists {
			return false, fmt.Sprintf("variable %q exists is %t", c.Variable, exists)
		}
	}

	if c.Equals != nil {
		want := e.resolver.ResolveValue(c.Equals, vars)
		if !resolver.Equal(v, want) {
			return false, fmt.Sprintf("variable %q is not equal to %s", c.Variable, resolver.Format(want))
		}
	}

	if c.Success != nil {
		succeeded := r.savedBySuccessfulStep(c.Variable, v)
		if succeeded != *c.Success {
			return false, fmt.Sprintf("step saving %q success is %t", c.Variable, succeeded)
		}
	}

	if c.Contains != nil {
		want := e.resolver.ResolveValue(c.Contains, vars)
		if !containsValue(v, want) {
			return false, fmt.Sprintf("variable %q does not contain %s", c.Variable, resolver.Format(want))
		}
	}

	if c.Regex != "" {
		re, err := regexp.Compile(c.Regex)
		if err != nil {
			return false, fmt.Sprintf("invalid regex %q: %s", c.Regex, err)
		}
		if resolver.IsMissing(v) || !re.MatchString(resolver.Format(v)) {
			return false, fmt.Sprintf("variable %q does not match %q", c.Variable, c.Regex)
		}
	}

	return true, ""
}

func (e *Executor) evalShorthand(r *run, node *model.PlanNode, s string, vars map[string]any) (bool, string) {
	prev, hasPrev := referenceResult(r.task, node)

	switch s {
	case model.ConditionAlways:
		return true, ""
	case model.ConditionSuccess:
		if !hasPrev {
			return true, ""
		}
		if prev == nil || !prev.Success {
			return false, "previous step did not succeed"
		}
		return true, ""
	case model.ConditionFailure:
		if prev != nil && prev.Status == model.StepStatusFailed {
			return true, ""
		}
		return false, "previous step did not fail"
	}

	expr := s
	if !strings.Contains(expr, "{{") {
		expr = "{{" + expr + "}}"
	}
	v := e.resolver.ResolveValue(expr, vars)
	if str, ok := v.(string); ok && strings.Contains(str, "{{") {
		return false, fmt.Sprintf("condition %q could not be evaluated", s)
	}
	if resolver.IsMissing(v) || !resolver.Truthy(v) {
		return false, fmt.Sprintf("condition %q is false", s)
	}
	return true, ""
}

// referenceResult returns the result the success and failure shorthands check:
// the latest dependency of the node, or the closest preceding settled step when
// the node has no dependencies. Unsettled steps of the same level are ignored.
func referenceResult(task *model.Task, node *model.PlanNode) (*model.StepResult, bool) {
	ref := -1
	for _, dep := range node.DependsOn {
		if d, ok := task.Plan.NodeByID(dep); ok && d.Index > ref {
			ref = d.Index
		}
	}
	if ref >= 0 {
		return task.Results[ref], true
	}

	for i := node.Index - 1; i >= 0; i-- {
		if task.Results[i].Settled() {
			return task.Results[i], true
		}
	}
	return nil, false
}

func containsValue(v, want any) bool {
	switch t := v.(type) {
	case string:
		return strings.Contains(t, resolver.Format(want))
	case []any:
		for _, e := range t {
			if resolver.Equal(e, want) {
				return true
			}
		}
		return false
	case map[string]any:
		_, ok := t[resolver.Format(want)]
		return ok
	}
	return false
}
