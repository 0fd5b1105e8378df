package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/provisio/provisio/internal/config"
	provisioerrors "github.com/provisio/provisio/pkg/errors"
)

// Node represents a vertex in the execution DAG.
type Node struct {
	ID         string
	Step       *config.Step
	Order      int
	DependsOn  []*Node
	Dependents []*Node
}

// Graph encapsulates the DAG structure and topological levels.
type Graph struct {
	Nodes  map[string]*Node
	Levels [][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{Nodes: make(map[string]*Node)}
}

// AddNode inserts a step as a vertex in the graph. Order is the step's
// position in the plan document and breaks ties during sorting.
func (g *Graph) AddNode(step *config.Step, order int) (*Node, error) {
	if step == nil {
		return nil, provisioerrors.NewExecutionError("", fmt.Errorf("step cannot be nil"))
	}

	if _, exists := g.Nodes[step.ID]; exists {
		return nil, provisioerrors.NewValidationError("steps", fmt.Sprintf("duplicate step id %q", step.ID), nil)
	}

	node := &Node{ID: step.ID, Step: step, Order: order}
	g.Nodes[step.ID] = node
	return node, nil
}

// AddEdge records that `to` depends on `from`.
func (g *Graph) AddEdge(from, to string) error {
	source, ok := g.Nodes[from]
	if !ok {
		return provisioerrors.NewValidationError("steps", fmt.Sprintf("unknown dependency %q", from), nil)
	}

	target, ok := g.Nodes[to]
	if !ok {
		return provisioerrors.NewValidationError("steps", fmt.Sprintf("unknown dependency target %q", to), nil)
	}

	source.Dependents = append(source.Dependents, target)
	target.DependsOn = append(target.DependsOn, source)
	return nil
}

// TopologicalSort computes the DAG levels using Kahn's algorithm.
// Steps within a level keep the order they were declared in the plan,
// so execution output follows the document an operator wrote.
func (g *Graph) TopologicalSort() error {
	indegree := make(map[string]int, len(g.Nodes))
	for id := range g.Nodes {
		indegree[id] = 0
	}

	for _, node := range g.Nodes {
		for _, dep := range node.Dependents {
			indegree[dep.ID]++
		}
	}

	var queue []string
	for id, degree := range indegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	g.sortByDeclaration(queue)

	processed := 0
	var levels [][]string

	for len(queue) > 0 {
		currentLevel := queue
		levels = append(levels, append([]string(nil), currentLevel...))

		var nextLevel []string
		for _, id := range currentLevel {
			processed++
			node := g.Nodes[id]
			for _, dependent := range node.Dependents {
				indegree[dependent.ID]--
				if indegree[dependent.ID] == 0 {
					nextLevel = append(nextLevel, dependent.ID)
				}
			}
		}

		g.sortByDeclaration(nextLevel)
		queue = nextLevel
	}

	if processed != len(g.Nodes) {
		var remaining []string
		for id, degree := range indegree {
			if degree > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return provisioerrors.NewValidationError("steps",
			fmt.Sprintf("dependency cycle detected involving: %s", strings.Join(remaining, ", ")), nil)
	}

	g.Levels = levels
	return nil
}

func (g *Graph) sortByDeclaration(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return g.Nodes[ids[i]].Order < g.Nodes[ids[j]].Order
	})
}

// BuildDAG constructs the execution graph from the provided steps.
// Disabled steps are excluded entirely.
func BuildDAG(steps []config.Step) (*Graph, error) {
	graph := NewGraph()
	stepMap := make(map[string]*config.Step, len(steps))

	for i := range steps {
		step := &steps[i]
		if !step.Enabled {
			continue
		}
		if _, err := graph.AddNode(step, i); err != nil {
			return nil, err
		}
		stepMap[step.ID] = step
	}

	for _, step := range steps {
		if !step.Enabled {
			continue
		}
		for _, dependency := range step.DependsOn {
			if _, ok := stepMap[dependency]; !ok {
				return nil, provisioerrors.NewValidationError("steps", fmt.Sprintf("step %q depends on unknown step %q", step.ID, dependency), nil)
			}
			if err := graph.AddEdge(dependency, step.ID); err != nil {
				return nil, err
			}
		}
	}

	if err := graph.TopologicalSort(); err != nil {
		return nil, err
	}

	return graph, nil
}
