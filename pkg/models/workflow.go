package models

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ── Workflow Graph ───────────────────────────────────────────

// WorkflowGraph is an operator-authored node/edge graph owned by an Agent.
// Persisted shape: {nodes: [{id, type, position, data}], edges: [{source, target, label?}]}.
type WorkflowGraph struct {
	Nodes []WorkflowNode `json:"nodes" yaml:"nodes"`
	Edges []WorkflowEdge `json:"edges" yaml:"edges"`
}

// NodeType is the discriminator of a workflow node.
type NodeType string

const (
	NodeStart    NodeType = "start"
	NodeEnd      NodeType = "end"
	NodeTool     NodeType = "tool"
	NodeDecision NodeType = "decision"
	NodeLoop     NodeType = "loop"
)

// NodeSpec is the closed set of node payloads. Only the types in this
// package implement it, so a node's type and data can never disagree.
type NodeSpec interface {
	nodeType() NodeType
}

// StartNode marks the single entry point of a graph.
type StartNode struct{}

// EndNode halts execution. OutputFrom names the node whose result becomes
// the workflow output; empty means {"status": "completed"}.
type EndNode struct {
	OutputFrom string `json:"outputFrom,omitempty" yaml:"outputFrom"`
}

// ToolNode invokes a registered tool. String arguments may reference
// context variables as ${name}.
type ToolNode struct {
	Tool string                 `json:"toolName" yaml:"toolName"`
	Args map[string]interface{} `json:"args,omitempty" yaml:"args"`
}

// DecisionNode follows its "true" or "false" edge depending on Condition.
type DecisionNode struct {
	Condition string `json:"condition" yaml:"condition"`
}

type LoopKind string

const (
	LoopForEach LoopKind = "for_each"
	LoopWhile   LoopKind = "while"
	LoopRange   LoopKind = "range"
)

// LoopNode repeats the subgraph behind its "body" edge (or first edge).
//
//	for_each: over ItemsVar (a context variable) or the literal Items
//	while:    while Condition holds
//	range:    index from From to To (exclusive), stepping Step
type LoopNode struct {
	Kind          LoopKind      `json:"loopType" yaml:"loopType"`
	ItemsVar      string        `json:"itemsVar,omitempty" yaml:"itemsVar"`
	Items         []interface{} `json:"items,omitempty" yaml:"items"`
	Condition     string        `json:"condition,omitempty" yaml:"condition"`
	From          int           `json:"from,omitempty" yaml:"from"`
	To            int           `json:"to,omitempty" yaml:"to"`
	Step          int           `json:"step,omitempty" yaml:"step"`
	MaxIterations int           `json:"maxIterations,omitempty" yaml:"maxIterations"`
}

func (StartNode) nodeType() NodeType    { return NodeStart }
func (EndNode) nodeType() NodeType      { return NodeEnd }
func (ToolNode) nodeType() NodeType     { return NodeTool }
func (DecisionNode) nodeType() NodeType { return NodeDecision }
func (LoopNode) nodeType() NodeType     { return NodeLoop }

// Position is the canvas location of a node. The engine ignores it.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// WorkflowNode is one node of a graph: identity, layout and a typed payload.
type WorkflowNode struct {
	ID       string
	Position Position
	Spec     NodeSpec
}

// Type returns the node's discriminator, or "" for a node without payload.
func (n WorkflowNode) Type() NodeType {
	if n.Spec == nil {
		return ""
	}
	return n.Spec.nodeType()
}

// EdgeLabel marks decision branches and loop body/exit edges.
type EdgeLabel string

const (
	LabelTrue  EdgeLabel = "true"
	LabelFalse EdgeLabel = "false"
	LabelBody  EdgeLabel = "body"
	LabelDone  EdgeLabel = "done"
)

// WorkflowEdge connects Source to Target.
type WorkflowEdge struct {
	ID     string    `json:"id,omitempty" yaml:"id"`
	Source string    `json:"source" yaml:"source"`
	Target string    `json:"target" yaml:"target"`
	Label  EdgeLabel `json:"label,omitempty" yaml:"label"`
}

type rawNodeJSON struct {
	ID       string          `json:"id"`
	Type     NodeType        `json:"type"`
	Position Position        `json:"position"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func (n WorkflowNode) MarshalJSON() ([]byte, error) {
	if n.Spec == nil {
		return nil, fmt.Errorf("workflow node %q has no type", n.ID)
	}
	data, err := json.Marshal(n.Spec)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rawNodeJSON{
		ID:       n.ID,
		Type:     n.Spec.nodeType(),
		Position: n.Position,
		Data:     data,
	})
}

func (n *WorkflowNode) UnmarshalJSON(b []byte) error {
	var raw rawNodeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	spec, err := decodeNodeSpec(raw.ID, raw.Type, func(v interface{}) error {
		if len(raw.Data) == 0 || string(raw.Data) == "null" {
			return nil
		}
		return json.Unmarshal(raw.Data, v)
	})
	if err != nil {
		return err
	}
	n.ID, n.Position, n.Spec = raw.ID, raw.Position, spec
	return nil
}

func (n *WorkflowNode) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ID       string    `yaml:"id"`
		Type     NodeType  `yaml:"type"`
		Position Position  `yaml:"position"`
		Data     yaml.Node `yaml:"data"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	spec, err := decodeNodeSpec(raw.ID, raw.Type, func(v interface{}) error {
		if raw.Data.Kind == 0 {
			return nil
		}
		return raw.Data.Decode(v)
	})
	if err != nil {
		return err
	}
	n.ID, n.Position, n.Spec = raw.ID, raw.Position, spec
	return nil
}

// decodeNodeSpec builds the typed payload for a node and rejects
// payloads that cannot run.
func decodeNodeSpec(id string, t NodeType, decode func(interface{}) error) (NodeSpec, error) {
	if id == "" {
		return nil, fmt.Errorf("workflow node is missing an id")
	}
	switch t {
	case NodeStart:
		return StartNode{}, nil
	case NodeEnd:
		var s EndNode
		if err := decode(&s); err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		return s, nil
	case NodeTool:
		var s ToolNode
		if err := decode(&s); err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		if s.Tool == "" {
			return nil, fmt.Errorf("node %s: tool node requires toolName", id)
		}
		return s, nil
	case NodeDecision:
		var s DecisionNode
		if err := decode(&s); err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		return s, nil
	case NodeLoop:
		s := LoopNode{Kind: LoopForEach}
		if err := decode(&s); err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		switch s.Kind {
		case LoopForEach:
			if s.ItemsVar == "" && s.Items == nil {
				return nil, fmt.Errorf("node %s: for_each loop requires itemsVar or items", id)
			}
		case LoopWhile:
			if s.Condition == "" {
				return nil, fmt.Errorf("node %s: while loop requires a condition", id)
			}
		case LoopRange:
			if s.Step < 0 {
				return nil, fmt.Errorf("node %s: range loop step must be positive", id)
			}
		default:
			return nil, fmt.Errorf("node %s: unknown loop type %q", id, s.Kind)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("node %s: unknown node type %q", id, t)
	}
}

// UnmarshalYAML decodes on top of NewAgent so seed files only need to
// list the settings they change.
func (a *Agent) UnmarshalYAML(value *yaml.Node) error {
	type plain Agent
	p := plain(NewAgent())
	if err := value.Decode(&p); err != nil {
		return err
	}
	*a = Agent(p)
	return nil
}
