package workflow

import (
	"fmt"
	"strings"

	"github.com/agentoven/agentoven/data-agent/internal/apperr"
	"github.com/agentoven/agentoven/data-agent/pkg/models"
	"github.com/expr-lang/expr"
)

// ValidationError lists every problem found in a graph. It matches
// apperr.ErrValidation.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid workflow: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == apperr.ErrValidation
}

// Validate checks a graph before it is saved or run: exactly one start,
// at least one end reachable from it, no dangling edges or orphan nodes,
// decisions with two branches and compilable conditions.
func Validate(g *models.WorkflowGraph) error {
	if g == nil {
		return &ValidationError{Problems: []string{"workflow is empty"}}
	}
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	nodes := make(map[string]models.WorkflowNode, len(g.Nodes))
	var starts, ends []string
	for _, n := range g.Nodes {
		if _, dup := nodes[n.ID]; dup {
			add("duplicate node id %s", n.ID)
			continue
		}
		nodes[n.ID] = n
		switch n.Type() {
		case models.NodeStart:
			starts = append(starts, n.ID)
		case models.NodeEnd:
			ends = append(ends, n.ID)
		}
	}
	if len(starts) != 1 {
		add("workflow must have exactly one start node (found %d)", len(starts))
	}
	if len(ends) == 0 {
		add("workflow must have at least one end node")
	}

	out := make(map[string][]string)
	in := make(map[string]int)
	for _, e := range g.Edges {
		_, okS := nodes[e.Source]
		_, okT := nodes[e.Target]
		if !okS || !okT {
			add("edge %s -> %s references an unknown node", e.Source, e.Target)
			continue
		}
		out[e.Source] = append(out[e.Source], e.Target)
		in[e.Target]++
	}

	for _, n := range g.Nodes {
		t := n.Type()
		if t != models.NodeStart && t != models.NodeEnd && in[n.ID] == 0 && len(out[n.ID]) == 0 {
			add("node %s is not connected", n.ID)
		}
		switch spec := n.Spec.(type) {
		case models.DecisionNode:
			if len(out[n.ID]) < 2 {
				add("decision node %s needs at least two outgoing edges (found %d)", n.ID, len(out[n.ID]))
			}
			checkCondition(n.ID, spec.Condition, add)
		case models.LoopNode:
			if len(out[n.ID]) == 0 {
				add("loop node %s has no body edge", n.ID)
			}
			if spec.Kind == models.LoopWhile {
				checkCondition(n.ID, spec.Condition, add)
			}
		}
	}

	if len(starts) == 1 && len(ends) > 0 && !endReachable(starts[0], out, nodes) {
		add("no end node is reachable from start node %s", starts[0])
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func checkCondition(id, condition string, add func(string, ...interface{})) {
	if condition == "" {
		return
	}
	if _, err := expr.Compile(condition, expr.AllowUndefinedVariables(), expr.AsBool()); err != nil {
		add("node %s has an invalid condition: %v", id, err)
	}
}

func endReachable(start string, out map[string][]string, nodes map[string]models.WorkflowNode) bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if nodes[id].Type() == models.NodeEnd {
			return true
		}
		for _, next := range out[id] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}
