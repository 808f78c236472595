// Package workflow executes operator-authored workflow graphs.
//
// A graph runs deterministically from its single start node:
//  1. Tool nodes invoke the tool registry with ${var}-substituted args
//  2. Decision nodes evaluate an expr-lang condition and follow one branch
//  3. Loop nodes repeat their body edge (for_each, while, range)
//  4. The first end node reached halts the run and produces the output
//
// Loops are capped at MaxLoopIterations and the whole run by a wall-clock
// timeout. Any node error fails the run; callers fall back to the
// tool-calling path.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/agentoven/agentoven/data-agent/internal/tools"
	"github.com/agentoven/agentoven/data-agent/pkg/models"
	"github.com/expr-lang/expr"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("agentoven-data-agent/workflow")

const (
	DefaultMaxLoopIterations = 100
	DefaultTimeout           = 30 * time.Second
)

// ToolRunner invokes a governed tool. *tools.Registry satisfies it.
type ToolRunner interface {
	Invoke(ctx context.Context, call tools.Call, name string, args map[string]interface{}) (*tools.Result, error)
}

// Options bound an execution.
type Options struct {
	MaxLoopIterations int
	Timeout           time.Duration
}

// Executor runs workflow graphs.
type Executor struct {
	tools         ToolRunner
	maxIterations int
	timeout       time.Duration
}

// NewExecutor creates an executor. Zero options take the defaults.
func NewExecutor(runner ToolRunner, opts Options) *Executor {
	if opts.MaxLoopIterations <= 0 {
		opts.MaxLoopIterations = DefaultMaxLoopIterations
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Executor{tools: runner, maxIterations: opts.MaxLoopIterations, timeout: opts.Timeout}
}

// Context is the mutable state of one run. Call identifies the caller and
// agent every tool invocation is governed by.
type Context struct {
	Variables map[string]interface{}
	Results   map[string]interface{}
	Call      tools.Call
}

// Step records one visited node.
type Step struct {
	NodeID   string          `json:"nodeId"`
	NodeType models.NodeType `json:"nodeType"`
	Result   interface{}     `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Result is the outcome of a run. Steps is populated on failure too.
type Result struct {
	Success bool        `json:"success"`
	Output  interface{} `json:"output,omitempty"`
	Error   string      `json:"error,omitempty"`
	Steps   []Step      `json:"steps"`
}

// Execute runs graph from its start node until an end node is reached.
func (e *Executor) Execute(ctx context.Context, graph *models.WorkflowGraph, wc Context) *Result {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "workflow.Execute")
	defer span.End()
	span.SetAttributes(attribute.Int("workflow.nodes", len(graph.Nodes)))

	if wc.Variables == nil {
		wc.Variables = make(map[string]interface{})
	}
	if wc.Results == nil {
		wc.Results = make(map[string]interface{})
	}
	r := &run{
		exec:  e,
		wc:    &wc,
		nodes: make(map[string]models.WorkflowNode, len(graph.Nodes)),
		out:   make(map[string][]models.WorkflowEdge),
	}
	start := ""
	for _, n := range graph.Nodes {
		r.nodes[n.ID] = n
		if n.Type() == models.NodeStart && start == "" {
			start = n.ID
		}
	}
	for _, edge := range graph.Edges {
		r.out[edge.Source] = append(r.out[edge.Source], edge)
	}

	result := &Result{}
	err := errors.New("no start node found in workflow")
	if start != "" {
		err = r.visit(ctx, start, make(map[string]bool))
		if err == nil && !r.halted {
			err = errors.New("workflow finished without reaching an end node")
		}
	}
	result.Steps = r.steps
	span.SetAttributes(attribute.Int("workflow.steps", len(r.steps)))
	if err != nil {
		result.Error = err.Error()
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Str("agent", wc.Call.Agent.ID).Int("steps", len(r.steps)).Msg("Workflow execution failed")
		return result
	}
	result.Success = true
	result.Output = r.output
	return result
}

type run struct {
	exec   *Executor
	wc     *Context
	nodes  map[string]models.WorkflowNode
	out    map[string][]models.WorkflowEdge
	steps  []Step
	halted bool
	output interface{}
}

func (r *run) record(n models.WorkflowNode, result interface{}) {
	r.steps = append(r.steps, Step{NodeID: n.ID, NodeType: n.Type(), Result: result})
}

func (r *run) fail(n models.WorkflowNode, err error) error {
	r.steps = append(r.steps, Step{NodeID: n.ID, NodeType: n.Type(), Error: err.Error()})
	return fmt.Errorf("node %s: %w", n.ID, err)
}

// visit executes a node and then its successors. visited scopes cycle
// protection: the top-level walk runs each node once, loop iterations get
// a fresh set.
func (r *run) visit(ctx context.Context, id string, visited map[string]bool) error {
	if r.halted || visited[id] {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("workflow aborted: %w", err)
	}
	visited[id] = true

	n, ok := r.nodes[id]
	if !ok {
		return fmt.Errorf("node not found: %s", id)
	}

	switch spec := n.Spec.(type) {
	case models.StartNode:
		r.record(n, map[string]interface{}{"status": "started"})
		return r.follow(ctx, r.out[id], visited)

	case models.ToolNode:
		args, _ := Substitute(spec.Args, r.wc.Variables).(map[string]interface{})
		res, err := r.exec.tools.Invoke(ctx, r.wc.Call, spec.Tool, args)
		if err != nil {
			return r.fail(n, err)
		}
		r.wc.Results[id] = res.Output
		r.record(n, res.Output)
		return r.follow(ctx, r.out[id], visited)

	case models.DecisionNode:
		ok, err := r.eval(spec.Condition)
		if err != nil {
			return r.fail(n, err)
		}
		r.wc.Results[id] = ok
		r.record(n, ok)
		if next := branch(r.out[id], ok); next != "" {
			return r.visit(ctx, next, visited)
		}
		return nil

	case models.LoopNode:
		results, err := r.loop(ctx, n, spec)
		if err != nil {
			return r.fail(n, err)
		}
		r.wc.Results[id] = results
		r.record(n, results)
		_, rest := loopEdges(r.out[id])
		return r.follow(ctx, rest, visited)

	case models.EndNode:
		out := interface{}(map[string]interface{}{"status": "completed"})
		if spec.OutputFrom != "" {
			if v, ok := r.wc.Results[spec.OutputFrom]; ok {
				out = v
			}
		}
		r.record(n, out)
		r.halted = true
		r.output = out
		return nil

	default:
		return r.fail(n, fmt.Errorf("unknown node type %q", n.Type()))
	}
}

func (r *run) follow(ctx context.Context, edges []models.WorkflowEdge, visited map[string]bool) error {
	for _, edge := range edges {
		if r.halted {
			return nil
		}
		if err := r.visit(ctx, edge.Target, visited); err != nil {
			return err
		}
	}
	return nil
}

// branch picks the decision successor: the labelled edge, else the first
// edge for true and the second for false, else the first edge.
func branch(edges []models.WorkflowEdge, ok bool) string {
	want, pos := models.LabelTrue, 0
	if !ok {
		want, pos = models.LabelFalse, 1
	}
	for _, e := range edges {
		if e.Label == want {
			return e.Target
		}
	}
	if pos < len(edges) {
		return edges[pos].Target
	}
	if len(edges) > 0 {
		return edges[0].Target
	}
	return ""
}

// loopEdges splits a loop's outgoing edges into its body edge (labelled
// "body", else the first) and the rest.
func loopEdges(edges []models.WorkflowEdge) (*models.WorkflowEdge, []models.WorkflowEdge) {
	if len(edges) == 0 {
		return nil, nil
	}
	idx := 0
	for i, e := range edges {
		if e.Label == models.LabelBody {
			idx = i
			break
		}
	}
	rest := make([]models.WorkflowEdge, 0, len(edges)-1)
	rest = append(rest, edges[:idx]...)
	rest = append(rest, edges[idx+1:]...)
	return &edges[idx], rest
}

func (r *run) loop(ctx context.Context, n models.WorkflowNode, spec models.LoopNode) ([]interface{}, error) {
	limit := r.exec.maxIterations
	if spec.MaxIterations > 0 && spec.MaxIterations < limit {
		limit = spec.MaxIterations
	}
	body, _ := loopEdges(r.out[n.ID])
	results := make([]interface{}, 0)

	iterate := func(index int, item interface{}) error {
		if index >= limit {
			return fmt.Errorf("loop exceeded %d iterations", limit)
		}
		r.wc.Variables["index"] = index
		r.wc.Variables["item"] = item
		if body == nil {
			return nil
		}
		if err := r.visit(ctx, body.Target, map[string]bool{n.ID: true}); err != nil {
			return err
		}
		results = append(results, r.wc.Results[body.Target])
		return nil
	}

	switch spec.Kind {
	case models.LoopForEach:
		items := spec.Items
		if spec.ItemsVar != "" {
			v, ok := r.wc.Variables[spec.ItemsVar]
			if !ok {
				return nil, fmt.Errorf("loop variable %s is not set", spec.ItemsVar)
			}
			if items, ok = toSlice(v); !ok {
				return nil, fmt.Errorf("loop variable %s is not a list", spec.ItemsVar)
			}
		}
		for i, item := range items {
			if err := iterate(i, item); err != nil || r.halted {
				return results, err
			}
		}

	case models.LoopWhile:
		for i := 0; ; i++ {
			r.wc.Variables["index"] = i
			ok, err := r.eval(spec.Condition)
			if err != nil {
				return results, err
			}
			if !ok {
				break
			}
			if err := iterate(i, i); err != nil || r.halted {
				return results, err
			}
		}

	case models.LoopRange:
		step := spec.Step
		if step == 0 {
			step = 1
		}
		for i, v := 0, spec.From; v < spec.To; i, v = i+1, v+step {
			if err := iterate(i, v); err != nil || r.halted {
				return results, err
			}
		}

	default:
		return nil, fmt.Errorf("unknown loop type %q", spec.Kind)
	}
	return results, nil
}

// eval runs a condition against the variables and node results. An empty
// condition is true.
func (r *run) eval(condition string) (bool, error) {
	if condition == "" {
		return true, nil
	}
	env := make(map[string]interface{}, len(r.wc.Variables)+1)
	for k, v := range r.wc.Variables {
		env[k] = v
	}
	env["results"] = r.wc.Results

	program, err := expr.Compile(condition, expr.Env(env), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("invalid condition %q: %w", condition, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", condition, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

func toSlice(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case []interface{}:
		return s, true
	case []string:
		out := make([]interface{}, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	case []map[string]interface{}:
		out := make([]interface{}, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	}
	return nil, false
}

// ── Variable Substitution ───────────────────────────────────

var varRef = regexp.MustCompile(`\$\{(\w+)\}`)

// Substitute replaces ${name} references in strings nested anywhere in v.
// A string that is exactly one reference takes the variable's value with
// its type; unknown names are left as written.
func Substitute(v interface{}, vars map[string]interface{}) interface{} {
	switch t := v.(type) {
	case string:
		if m := varRef.FindStringSubmatch(t); m != nil && m[0] == t {
			if val, ok := vars[m[1]]; ok {
				return val
			}
			return t
		}
		return varRef.ReplaceAllStringFunc(t, func(ref string) string {
			if val, ok := vars[ref[2:len(ref)-1]]; ok {
				return fmt.Sprint(val)
			}
			return ref
		})
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = Substitute(val, vars)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = Substitute(val, vars)
		}
		return out
	}
	return v
}
