package model

// PlanNode is one executable instance of a step inside an execution plan.
type PlanNode struct {
	ID        string   `json:"id"`
	Index     int      `json:"index"`
	StepIndex int      `json:"stepIndex"`
	Step      Step     `json:"step"`
	DependsOn []string `json:"dependsOn,omitempty"`
	// LoopIndex is set on foreach expanded instances.
	LoopIndex *int `json:"loopIndex,omitempty"`
	// LoopSaveAs is the aggregated foreach saveAs name.
	LoopSaveAs string `json:"loopSaveAs,omitempty"`
	LoopCount  int    `json:"loopCount,omitempty"`
}

// PlanEdge is a dependency edge between two nodes, `From` must run before `To`.
type PlanEdge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Implicit bool   `json:"implicit,omitempty"`
}

// ExecutionPlan is the immutable result of building a step list.
type ExecutionPlan struct {
	Nodes          []PlanNode          `json:"nodes"`
	Edges          []PlanEdge          `json:"edges"`
	Adjacency      map[string][]string `json:"adjacency,omitempty"`
	InDegree       map[string]int      `json:"inDegree,omitempty"`
	ExecutionOrder []string            `json:"executionOrder"`
	Levels         [][]string          `json:"levels"`
	Fingerprint    string              `json:"fingerprint,omitempty"`
}

// NodeByID returns the plan node with the given id.
func (p *ExecutionPlan) NodeByID(id string) (*PlanNode, bool) {
	for i := range p.Nodes {
		if p.Nodes[i].ID == id {
			return &p.Nodes[i], true
		}
	}
	return nil, false
}

// LevelOf returns the level index of a node, -1 if missing.
func (p *ExecutionPlan) LevelOf(id string) int {
	for i, level := range p.Levels {
		for _, nid := range level {
			if nid == id {
				return i
			}
		}
	}
	return -1
}
