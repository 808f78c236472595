// Package tools implements the tool registry: named, schema-described
// callables the planning model and workflow graphs may invoke. Every
// invocation is checked against the agent's tool allowlist, validated
// against the tool's parameter schema and recorded in the audit log.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/agentoven/data-agent/internal/apperr"
	"github.com/agentoven/agentoven/data-agent/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("agentoven-data-agent/tools")

// Built-in tool names.
const (
	QueryCollection     = "query_collection"
	AnalyzeData         = "analyze_data"
	GetCollectionSchema = "get_collection_schema"

	PowerfulPrefix = "powerful_"
)

// Auditor receives one tool_call entry per invocation.
type Auditor interface {
	Append(ctx context.Context, entry *models.AuditLogEntry)
}

// Call identifies who is invoking a tool and on behalf of which agent.
type Call struct {
	CallerID string
	Agent    *models.Agent
}

// Result is the output of a tool plus what it touched.
type Result struct {
	Output     interface{}
	Collection string
	Count      int
}

// Handler executes a tool with validated arguments.
type Handler func(ctx context.Context, call Call, args map[string]interface{}) (*Result, error)

type entry struct {
	def     models.ToolDefinition
	handler Handler
}

// Registry holds the tools known to the engine.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
	audit Auditor

	warned sync.Map // agentID/tool pairs already reported as unregistered
}

// NewRegistry creates an empty registry.
func NewRegistry(audit Auditor) *Registry {
	return &Registry{tools: make(map[string]entry), audit: audit}
}

// Register adds a tool. Names are unique.
func (r *Registry) Register(def models.ToolDefinition, h Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if h == nil {
		return fmt.Errorf("tool %s: handler is required", def.Name)
	}
	if def.Parameters == nil {
		def.Parameters = &models.ParameterSchema{Type: "object"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	r.tools[def.Name] = entry{def: def, handler: h}
	log.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Definition returns a registered tool's definition.
func (r *Registry) Definition(name string) (models.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.def, ok
}

// Catalog returns the definitions an agent may use, sorted by name.
// Allowed names with no registered executor are left out and reported
// once per agent at warn level.
func (r *Registry) Catalog(agent *models.Agent) []models.ToolDefinition {
	allowed := AllowedToolNames(agent)
	defs := make([]models.ToolDefinition, 0, len(allowed))
	var missing []string
	r.mu.RLock()
	for _, name := range allowed {
		if e, ok := r.tools[name]; ok {
			defs = append(defs, e.def)
		} else {
			missing = append(missing, name)
		}
	}
	r.mu.RUnlock()

	for _, name := range missing {
		if _, seen := r.warned.LoadOrStore(agent.ID+"/"+name, true); seen {
			continue
		}
		l := log.Warn().Str("agent", agent.ID).Str("tool", name)
		if strings.HasPrefix(name, PowerfulPrefix) {
			l = l.Str("hint", "declare it in AGENTOVEN_TOOLS_FILE")
		}
		l.Msg("⚠️  Allowed tool has no registered executor")
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// AllowedToolNames returns the agent's tool allowlist. An explicit
// AllowedTools list wins; otherwise it is derived from the agentic tool
// flags, with powerful tools exposed as "powerful_<name>". No executor
// ships for powerful tools; they are remote tools from AGENTOVEN_TOOLS_FILE.
func AllowedToolNames(agent *models.Agent) []string {
	if len(agent.AllowedTools) > 0 {
		return dedupe(agent.AllowedTools)
	}
	t := agent.Agentic.Tools
	var names []string
	if t.Basic.QueryCollection {
		names = append(names, QueryCollection)
	}
	if t.Basic.AnalyzeData {
		names = append(names, AnalyzeData)
	}
	if t.Basic.GetCollectionSchema {
		names = append(names, GetCollectionSchema)
	}
	for _, group := range [][]string{t.Powerful.Finance, t.Powerful.Sales, t.Powerful.HR, t.Powerful.CrossCollection, t.Powerful.Advanced} {
		for _, n := range group {
			names = append(names, PowerfulPrefix+n)
		}
	}
	return dedupe(names)
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// InvokeJSON parses a raw JSON argument payload and invokes the tool.
func (r *Registry) InvokeJSON(ctx context.Context, call Call, name, rawArgs string) (*Result, error) {
	args := map[string]interface{}{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			verr := apperr.Validation("tool %s: arguments are not a JSON object", name)
			r.record(ctx, call, name, InputSummary(name, nil), time.Now(), verr)
			return nil, verr
		}
	}
	return r.Invoke(ctx, call, name, args)
}

// Invoke checks the allowlist, validates args and runs the tool. A
// tool_call audit entry is written on every path.
func (r *Registry) Invoke(ctx context.Context, call Call, name string, args map[string]interface{}) (*Result, error) {
	ctx, span := tracer.Start(ctx, "tools.Invoke")
	defer span.End()
	span.SetAttributes(attribute.String("agentoven.tool", name))

	start := time.Now()
	summary := InputSummary(name, args)

	res, err := r.invoke(ctx, call, name, args)
	r.record(ctx, call, name, summary, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool failed")
		return nil, err
	}
	return res, nil
}

func (r *Registry) invoke(ctx context.Context, call Call, name string, args map[string]interface{}) (*Result, error) {
	if call.Agent == nil {
		return nil, apperr.Validation("tool %s: no agent in call", name)
	}
	if call.Agent.OwnerID == "" || call.Agent.OwnerID != call.CallerID {
		return nil, apperr.AccessDenied("tool %s: agent does not belong to caller", name)
	}
	allowed := AllowedToolNames(call.Agent)
	if !contains(allowed, name) {
		return nil, apperr.AccessDenied("Tool %s is not allowed for this agent. Allowed tools: %s",
			name, strings.Join(allowed, ", "))
	}

	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.Validation("Unknown tool: %s", name)
	}

	if err := ValidateArgs(e.def.Parameters, args); err != nil {
		return nil, apperr.Validation("tool %s: %v", name, err)
	}

	res, err := e.handler(ctx, call, args)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, apperr.ToolExecution(name, err)
	}
	if res == nil {
		res = &Result{}
	}
	return res, nil
}

func (r *Registry) record(ctx context.Context, call Call, name, summary string, start time.Time, err error) {
	if r.audit == nil {
		return
	}
	e := &models.AuditLogEntry{
		Type:         models.AuditToolCall,
		UserID:       call.CallerID,
		Source:       models.SourceToolCall,
		ToolName:     name,
		InputSummary: summary,
		Success:      err == nil,
		DurationMs:   time.Since(start).Milliseconds(),
		Timestamp:    start.UTC(),
	}
	if call.Agent != nil {
		e.AgentID = call.Agent.ID
	}
	if err != nil {
		e.Error = err.Error()
		e.Denied = apperr.IsDenied(err)
	}
	r.audit.Append(ctx, e)
}

// InputSummary describes an invocation without argument values.
func InputSummary(name string, args map[string]interface{}) string {
	var v interface{}
	switch {
	case name == QueryCollection:
		var filterFields []string
		var limit interface{}
		if f, ok := args["filters"].(map[string]interface{}); ok {
			filterFields = sortedKeys(f)
			limit = f["limit"]
		}
		if filterFields == nil {
			filterFields = []string{}
		}
		v = map[string]interface{}{
			"collection":   args["collection"],
			"filterFields": filterFields,
			"limit":        limit,
		}
	case name == AnalyzeData:
		v = map[string]interface{}{
			"collection":   args["collection"],
			"analysisType": args["analysisType"],
			"groupBy":      args["groupBy"],
		}
	case strings.HasPrefix(name, PowerfulPrefix):
		v = map[string]interface{}{"tool": name, "argsKeys": sortedKeys(args)}
	case strings.Contains(name, "_"):
		v = map[string]interface{}{"tool": name, "hasArgs": args != nil}
	default:
		v = map[string]interface{}{"tool": name}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "tool: " + name
	}
	return string(b)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
