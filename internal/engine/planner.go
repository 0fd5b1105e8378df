package engine

import (
	"fmt"
	"strings"
)

// ExecutionPlan contains the ordered execution levels for a plan.
type ExecutionPlan struct {
	Levels []ExecutionLevel
}

// ExecutionLevel represents a set of steps whose dependencies are all
// satisfied by earlier levels.
type ExecutionLevel struct {
	StepIDs []string
}

// GeneratePlan converts a DAG into an execution plan grouped by level.
func GeneratePlan(graph *Graph) (*ExecutionPlan, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph cannot be nil")
	}

	levels := make([]ExecutionLevel, 0, len(graph.Levels))
	for _, ids := range graph.Levels {
		levels = append(levels, ExecutionLevel{StepIDs: append([]string(nil), ids...)})
	}

	return &ExecutionPlan{Levels: levels}, nil
}

// String renders a human readable summary of the plan.
func (p *ExecutionPlan) String() string {
	if p == nil {
		return ""
	}

	var b strings.Builder
	for i, level := range p.Levels {
		fmt.Fprintf(&b, "Level %d (%d steps): %s\n", i+1, len(level.StepIDs), strings.Join(level.StepIDs, ", "))
	}
	return b.String()
}
