package plan

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/resolver"
)

const (
	defaultItemVar  = "item"
	defaultIndexVar = "index"
)

// CycleError is returned when the step list can't be ordered.
type CycleError struct {
	// Processed is the topological prefix that could be ordered.
	Processed []string
	// RemainingNodes are the nodes that are part of a dependency cycle.
	RemainingNodes []string
	// Blocked are the nodes that could not be ordered because they depend on a cycle.
	Blocked []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s between steps: %s", model.ErrCycle, strings.Join(e.RemainingNodes, ", "))
}

func (e *CycleError) Unwrap() error { return model.ErrCycle }

// IsCycle returns the cycle error if the error is one.
func IsCycle(err error) (*CycleError, bool) {
	var cerr *CycleError
	ok := errors.As(err, &cerr)
	return cerr, ok
}

// BuilderConfig is the configuration for the plan builder.
type BuilderConfig struct {
	Resolver *resolver.Resolver
	Logger   log.Logger
}

func (c *BuilderConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "plan.Builder"})

	if c.Resolver == nil {
		r, err := resolver.NewResolver(resolver.ResolverConfig{Logger: c.Logger})
		if err != nil {
			return fmt.Errorf("could not create resolver: %w", err)
		}
		c.Resolver = r
	}
	return nil
}

// Builder builds execution plans from step lists.
type Builder struct {
	resolver *resolver.Resolver
	logger   log.Logger
}

// NewBuilder returns a new plan builder.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Builder{
		resolver: cfg.Resolver,
		logger:   cfg.Logger,
	}, nil
}

// group is the set of nodes a declared step expanded to.
type group struct {
	baseID string
	nodes  []string
}

// Build validates the steps and builds the execution plan. Foreach steps are
// expanded using the variables.
func (b *Builder) Build(steps []model.Step, vars map[string]any) (*model.ExecutionPlan, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("step list is empty: %w", model.ErrNotValid)
	}

	baseIDs, err := stepIDs(steps)
	if err != nil {
		return nil, err
	}

	// Expand steps into nodes.
	var nodes []model.PlanNode
	groups := make([]group, len(steps))
	for i, step := range steps {
		if strings.TrimSpace(step.Tool) == "" {
			return nil, fmt.Errorf("step %s has no tool: %w", baseIDs[i], model.ErrNotValid)
		}
		if _, err := step.StepTimeout(); err != nil {
			return nil, fmt.Errorf("step %s: %w", baseIDs[i], err)
		}

		expanded, err := b.expand(i, baseIDs[i], step, vars)
		if err != nil {
			return nil, err
		}

		g := group{baseID: baseIDs[i]}
		for _, n := range expanded {
			n.Index = len(nodes)
			nodes = append(nodes, n)
			g.nodes = append(g.nodes, n.ID)
		}
		groups[i] = g
	}

	// Resolve dependencies per declared step, all the instances of a step share them.
	deps, implicit, err := resolveAllDeps(steps, groups)
	if err != nil {
		return nil, err
	}
	implicitEdges := map[[2]string]bool{}
	for i := range steps {
		for _, nid := range groups[i].nodes {
			n := &nodes[indexOf(nodes, nid)]
			n.DependsOn = deps[i]
			for _, d := range deps[i] {
				implicitEdges[[2]string{d, nid}] = implicit[i]
			}
		}
	}

	p, err := FromNodes(nodes)
	if err != nil {
		return nil, err
	}
	for i, e := range p.Edges {
		p.Edges[i].Implicit = implicitEdges[[2]string{e.From, e.To}]
	}

	b.logger.Debugf("Built plan with %d nodes and %d levels", len(p.Nodes), len(p.Levels))
	return p, nil
}

// FromNodes builds the graph, order and levels of nodes that already have
// their dependencies resolved to node IDs.
func FromNodes(nodes []model.PlanNode) (*model.ExecutionPlan, error) {
	ids := map[string]bool{}
	for _, n := range nodes {
		if ids[n.ID] {
			return nil, fmt.Errorf("duplicated node id %q: %w", n.ID, model.ErrAlreadyExists)
		}
		ids[n.ID] = true
	}

	p := &model.ExecutionPlan{
		Nodes:     nodes,
		Adjacency: map[string][]string{},
		InDegree:  map[string]int{},
	}
	for _, n := range nodes {
		p.InDegree[n.ID] = 0
		p.Adjacency[n.ID] = []string{}
	}
	for _, n := range nodes {
		for _, d := range n.DependsOn {
			if !ids[d] {
				return nil, fmt.Errorf("node %s depends on unknown node %q: %w", n.ID, d, model.ErrNotValid)
			}
			p.Edges = append(p.Edges, model.PlanEdge{From: d, To: n.ID})
			p.Adjacency[d] = append(p.Adjacency[d], n.ID)
			p.InDegree[n.ID]++
		}
	}

	order := topologicalOrder(nodes, p.Adjacency, p.InDegree)
	if len(order) != len(nodes) {
		return nil, cycleError(nodes, p.Adjacency, order)
	}
	p.ExecutionOrder = order
	p.Levels = levels(nodes, p.Adjacency, p.InDegree)

	fp, err := Fingerprint(p)
	if err != nil {
		return nil, err
	}
	p.Fingerprint = fp

	return p, nil
}

// Fingerprint returns the hash of the plan nodes and their dependencies.
func Fingerprint(p *model.ExecutionPlan) (string, error) {
	data, err := json.Marshal(p.Nodes)
	if err != nil {
		return "", fmt.Errorf("could not marshal plan nodes: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func stepIDs(steps []model.Step) ([]string, error) {
	ids := make([]string, len(steps))
	seen := map[string]int{}
	for i, s := range steps {
		id := s.ID
		if id == "" {
			id = fmt.Sprintf("step_%d", i)
		}
		if prev, ok := seen[id]; ok {
			return nil, fmt.Errorf("steps %d and %d have the same id %q: %w", prev, i, id, model.ErrNotValid)
		}
		seen[id] = i
		ids[i] = id
	}
	return ids, nil
}

func (b *Builder) expand(i int, baseID string, step model.Step, vars map[string]any) ([]model.PlanNode, error) {
	if step.Foreach == nil {
		return []model.PlanNode{{ID: baseID, StepIndex: i, Step: step}}, nil
	}

	raw := resolver.ParseJSONResult(b.resolver.ResolveValue(step.Foreach, vars))
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("step %s foreach must resolve to a list, got %T: %w", baseID, raw, model.ErrNotValid)
	}

	itemVar := step.ItemVar
	if itemVar == "" {
		itemVar = defaultItemVar
	}

	nodes := make([]model.PlanNode, 0, len(items))
	for j, item := range items {
		inst := step
		inst.ID = fmt.Sprintf("%s_%d", baseID, j)
		inst.Foreach = nil
		inst.ItemVar = ""
		inst.Scope = map[string]any{}
		for k, v := range step.Scope {
			inst.Scope[k] = v
		}
		inst.Scope[itemVar] = item
		inst.Scope[defaultIndexVar] = float64(j)
		if step.SaveAs != "" {
			inst.SaveAs = fmt.Sprintf("%s_%d", step.SaveAs, j)
		}

		loopIndex := j
		nodes = append(nodes, model.PlanNode{
			ID:         inst.ID,
			StepIndex:  i,
			Step:       inst,
			LoopIndex:  &loopIndex,
			LoopSaveAs: step.SaveAs,
			LoopCount:  len(items),
		})
	}

	if len(items) == 0 {
		b.logger.Warningf("Step %s foreach resolved to an empty list, no instances created", baseID)
	}

	return nodes, nil
}

// resolveAllDeps resolves the dependencies of every declared step into node IDs.
func resolveAllDeps(steps []model.Step, groups []group) (deps [][]string, implicit []bool, err error) {
	deps = make([][]string, len(steps))
	implicit = make([]bool, len(steps))
	resolved := make([]bool, len(steps))
	visiting := make([]bool, len(steps))

	// tailOf returns the nodes a dependent of step j waits for. A step that expanded
	// to no nodes forwards its own dependencies.
	var tailOf func(j int) ([]string, error)
	var resolve func(i int) error

	tailOf = func(j int) ([]string, error) {
		if len(groups[j].nodes) > 0 {
			return groups[j].nodes, nil
		}
		if visiting[j] {
			return nil, nil
		}
		if err := resolve(j); err != nil {
			return nil, err
		}
		return deps[j], nil
	}

	resolve = func(i int) error {
		if resolved[i] {
			return nil
		}
		visiting[i] = true
		defer func() { visiting[i] = false }()

		step := steps[i]
		if len(step.DependsOn) == 0 {
			if i == 0 || step.Parallel || steps[i-1].Parallel {
				resolved[i] = true
				return nil
			}
			tail, err := tailOf(i - 1)
			if err != nil {
				return err
			}
			deps[i] = dedup(tail)
			implicit[i] = true
			resolved[i] = true
			return nil
		}

		var ds []string
		for _, ref := range step.DependsOn {
			target, err := findRef(ref, steps, groups)
			if err != nil {
				return fmt.Errorf("step %s: %w", groups[i].baseID, err)
			}
			// Direct reference to an expanded instance node.
			if target < 0 {
				ds = append(ds, ref.Name)
				continue
			}
			tail, err := tailOf(target)
			if err != nil {
				return err
			}
			ds = append(ds, tail...)
		}
		deps[i] = dedup(ds)
		resolved[i] = true
		return nil
	}

	for i := range steps {
		if err := resolve(i); err != nil {
			return nil, nil, err
		}
	}

	return deps, implicit, nil
}

// findRef returns the index of the referenced step, -1 when the reference is
// an expanded instance node ID.
func findRef(ref model.StepRef, steps []model.Step, groups []group) (int, error) {
	if ref.Index != nil {
		idx := *ref.Index
		if idx < 0 || idx >= len(steps) {
			return 0, fmt.Errorf("dependency index %d out of range: %w", idx, model.ErrNotValid)
		}
		return idx, nil
	}

	for j, g := range groups {
		if g.baseID == ref.Name {
			return j, nil
		}
	}
	for j, s := range steps {
		if s.SaveAs != "" && s.SaveAs == ref.Name {
			return j, nil
		}
	}
	for _, g := range groups {
		for _, nid := range g.nodes {
			if nid == ref.Name {
				return -1, nil
			}
		}
	}

	return 0, fmt.Errorf("unknown dependency %q: %w", ref.Name, model.ErrNotValid)
}

func topologicalOrder(nodes []model.PlanNode, adj map[string][]string, inDegree map[string]int) []string {
	degree := make(map[string]int, len(inDegree))
	for k, v := range inDegree {
		degree[k] = v
	}

	var queue, order []string
	for _, n := range nodes {
		if degree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range adj[id] {
			degree[next]--
			if degree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	return order
}

func levels(nodes []model.PlanNode, adj map[string][]string, inDegree map[string]int) [][]string {
	degree := make(map[string]int, len(inDegree))
	for k, v := range inDegree {
		degree[k] = v
	}

	processed := map[string]bool{}
	var lvls [][]string
	for len(processed) < len(nodes) {
		var frontier []string
		for _, n := range nodes {
			if !processed[n.ID] && degree[n.ID] == 0 {
				frontier = append(frontier, n.ID)
			}
		}
		if len(frontier) == 0 {
			// Only reachable with cycles, already rejected by the topological order.
			break
		}
		for _, id := range frontier {
			processed[id] = true
			for _, next := range adj[id] {
				degree[next]--
			}
		}
		lvls = append(lvls, frontier)
	}

	return lvls
}

func cycleError(nodes []model.PlanNode, adj map[string][]string, processed []string) *CycleError {
	done := map[string]bool{}
	for _, id := range processed {
		done[id] = true
	}

	var remaining []string
	for _, n := range nodes {
		if !done[n.ID] {
			remaining = append(remaining, n.ID)
		}
	}

	cyclic := cyclicNodes(remaining, adj)
	err := &CycleError{Processed: processed}
	for _, id := range remaining {
		if cyclic[id] {
			err.RemainingNodes = append(err.RemainingNodes, id)
		} else {
			err.Blocked = append(err.Blocked, id)
		}
	}

	return err
}

// cyclicNodes returns the nodes that belong to a cycle using Tarjan's strongly
// connected components over the unresolved subgraph.
func cyclicNodes(ids []string, adj map[string][]string) map[string]bool {
	in := map[string]bool{}
	for _, id := range ids {
		in[id] = true
	}

	index := 0
	indexes := map[string]int{}
	lowlink := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	cyclic := map[string]bool{}

	var strongConnect func(v string)
	strongConnect = func(v string) {
		indexes[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		selfLoop := false
		for _, w := range adj[v] {
			if !in[w] {
				continue
			}
			if w == v {
				selfLoop = true
			}
			if _, visited := indexes[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indexes[w])
			}
		}

		if lowlink[v] != indexes[v] {
			return
		}

		var component []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			component = append(component, w)
			if w == v {
				break
			}
		}
		if len(component) > 1 || selfLoop {
			for _, w := range component {
				cyclic[w] = true
			}
		}
	}

	for _, id := range ids {
		if _, visited := indexes[id]; !visited {
			strongConnect(id)
		}
	}

	return cyclic
}

func dedup(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func indexOf(nodes []model.PlanNode, id string) int {
	for i, n := range nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}
