// Package orchestrator runs the chat pipeline for data agents.
//
// One chat turn flows through:
//
//	load agent → load memory window → cost gate (may short-circuit) →
//	workflow graph (if configured, falls back on failure) →
//	planning model call → tool calls → synthesis model call →
//	persist user + assistant messages → record agent stats.
//
// Tool calls run sequentially unless ToolConcurrency > 1, in which case a
// bounded pool runs them. The reasoning trace always follows plan order.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agentoven/agentoven/data-agent/internal/apperr"
	"github.com/agentoven/agentoven/data-agent/internal/costgate"
	"github.com/agentoven/agentoven/data-agent/internal/memory"
	"github.com/agentoven/agentoven/data-agent/internal/store"
	"github.com/agentoven/agentoven/data-agent/internal/tools"
	"github.com/agentoven/agentoven/data-agent/internal/workflow"
	"github.com/agentoven/agentoven/data-agent/pkg/contracts"
	"github.com/agentoven/agentoven/data-agent/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("agentoven-data-agent/orchestrator")

const (
	DefaultChatTimeout = 2 * time.Minute
	MaxMessageLength   = 10000

	FallbackAnswer     = "I apologize, but I could not generate a response."
	workflowDoneAnswer = "Workflow executed successfully"

	ShortCircuitTool   = "smart_engage"
	shortCircuitResult = "Message pre-screened, using optimized response"
)

// Answer paths, reported in logs and span attributes.
const (
	pathShortCircuit = "short_circuit"
	pathWorkflow     = "workflow"
	pathDirect       = "direct"
	pathTools        = "tools"
)

// Deps are the collaborators of the pipeline.
type Deps struct {
	Agents        store.AgentStore
	Conversations store.ConversationStore
	Model         contracts.ModelClient
	Tools         contracts.ToolInvoker
	Gate          *costgate.Gate     // nil runs the heuristics only
	Workflows     *workflow.Executor // nil ignores agent workflow graphs
}

// Options tune the pipeline. Zero values take the defaults.
type Options struct {
	ChatTimeout     time.Duration
	ToolConcurrency int
}

// Orchestrator serves chat turns. It implements contracts.ChatService.
type Orchestrator struct {
	agents        store.AgentStore
	conversations store.ConversationStore
	memory        *memory.Manager
	gate          *costgate.Gate
	model         contracts.ModelClient
	tools         contracts.ToolInvoker
	workflows     *workflow.Executor
	opts          Options
}

// New creates an orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.ChatTimeout <= 0 {
		opts.ChatTimeout = DefaultChatTimeout
	}
	if opts.ToolConcurrency <= 0 {
		opts.ToolConcurrency = 1
	}
	gate := deps.Gate
	if gate == nil {
		gate = costgate.New(nil)
	}
	return &Orchestrator{
		agents:        deps.Agents,
		conversations: deps.Conversations,
		memory:        memory.NewManager(deps.Conversations),
		gate:          gate,
		model:         deps.Model,
		tools:         deps.Tools,
		workflows:     deps.Workflows,
		opts:          opts,
	}
}

var _ contracts.ChatService = (*Orchestrator)(nil)

// Chat answers one message for callerID.
func (o *Orchestrator) Chat(ctx context.Context, callerID string, req *models.ChatRequest) (*models.ChatResponse, error) {
	start := time.Now()
	if callerID == "" {
		return nil, apperr.AccessDenied("caller identity is required")
	}
	message := strings.TrimSpace(req.Message)
	if req.AgentID == "" || message == "" {
		return nil, apperr.Validation("agentId and message are required")
	}
	if len(message) > MaxMessageLength {
		return nil, apperr.Validation("message exceeds %d characters", MaxMessageLength)
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.ChatTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "orchestrator.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("agentoven.agent", req.AgentID))

	agent, err := o.agents.GetAgent(ctx, req.AgentID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("agent %s not found", req.AgentID)
		}
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if agent.OwnerID != callerID {
		return nil, apperr.AccessDenied("agent %s does not belong to caller", agent.ID)
	}
	agent.Normalize()

	conv, err := o.resolveConversation(ctx, callerID, agent.ID, req.ConversationID)
	if err != nil {
		return nil, err
	}
	convID := ""
	if conv != nil {
		convID = conv.ID
	}

	window, err := o.memory.Load(ctx, convID, memory.PolicyFor(agent))
	if err != nil {
		log.Warn().Err(err).Str("agent", agent.ID).Msg("Memory load failed, continuing without history")
		window = nil
	}

	call := tools.Call{CallerID: callerID, Agent: agent}
	decision := o.gate.Screen(ctx, agent.Agentic.CostOptimization, message, agent.Collections, window)

	var resp *models.ChatResponse
	path := pathShortCircuit
	if decision.Bypass {
		resp = &models.ChatResponse{
			Response:        decision.Answer,
			CollectionsUsed: []string{},
			ReasoningSteps: []models.ReasoningStep{{
				Step:   decision.Reason,
				Tool:   ShortCircuitTool,
				Result: shortCircuitResult,
			}},
		}
	} else {
		resp, path, err = o.answer(ctx, call, message, window)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "chat failed")
			log.Error().Err(err).Str("agent", agent.ID).Msg("Chat turn failed")
			return nil, err
		}
		if !agent.Agentic.Reasoning.ShowReasoning {
			resp.ReasoningSteps = nil
		}
	}

	elapsed := time.Since(start)
	resp.ConversationID = o.persist(ctx, callerID, agent, conv, message, resp, models.MessageMetadata{
		CollectionsUsed: resp.CollectionsUsed,
		DataCount:       resp.DataCount,
		ShortCircuited:  decision.Bypass,
		ResponseTimeMs:  elapsed.Milliseconds(),
	})
	if err := o.agents.RecordAgentQuery(ctx, agent.ID, elapsed, decision.Bypass); err != nil {
		log.Warn().Err(err).Str("agent", agent.ID).Msg("Failed to record agent stats")
	}

	span.SetAttributes(
		attribute.String("agentoven.path", path),
		attribute.Int("agentoven.data_count", resp.DataCount),
	)
	log.Info().
		Str("agent", agent.ID).
		Str("path", path).
		Int("data_count", resp.DataCount).
		Int64("duration_ms", elapsed.Milliseconds()).
		Msg("Chat turn complete")
	return resp, nil
}

// resolveConversation loads an existing conversation and checks that it
// belongs to the caller and agent. An empty id starts a new one later.
func (o *Orchestrator) resolveConversation(ctx context.Context, callerID, agentID, id string) (*models.Conversation, error) {
	if id == "" {
		return nil, nil
	}
	conv, err := o.conversations.GetConversation(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.Validation("unknown conversation %s", id)
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv.UserID != callerID || conv.AgentID != agentID {
		return nil, apperr.AccessDenied("conversation does not belong to caller")
	}
	return conv, nil
}

// answer runs the workflow graph when one is configured and falls back to
// the tool-calling path when it is absent or fails.
func (o *Orchestrator) answer(ctx context.Context, call tools.Call, message string, window []memory.Turn) (*models.ChatResponse, string, error) {
	if resp, ok := o.runWorkflow(ctx, call, message); ok {
		return resp, pathWorkflow, nil
	}
	return o.toolLoop(ctx, call, message, window)
}

func (o *Orchestrator) runWorkflow(ctx context.Context, call tools.Call, message string) (*models.ChatResponse, bool) {
	agent := call.Agent
	if o.workflows == nil || agent.Workflow == nil || len(agent.Workflow.Nodes) == 0 {
		return nil, false
	}
	res := o.workflows.Execute(ctx, agent.Workflow, workflow.Context{
		Variables: map[string]interface{}{"message": message, "userId": call.CallerID},
		Call:      call,
	})
	if !res.Success {
		log.Warn().Str("agent", agent.ID).Str("error", res.Error).Msg("Workflow failed, falling back to tool calling")
		return nil, false
	}

	steps := make([]models.ReasoningStep, 0, len(res.Steps))
	for _, s := range res.Steps {
		steps = append(steps, models.ReasoningStep{
			Step:   fmt.Sprintf("Executed %s node: %s", s.NodeType, s.NodeID),
			Tool:   string(s.NodeType),
			Result: s.Result,
		})
	}
	answer := workflowDoneAnswer
	if b, err := json.Marshal(res.Output); err == nil && string(b) != "null" {
		answer = string(b)
	}
	return &models.ChatResponse{
		Response:        answer,
		CollectionsUsed: append([]string{}, agent.Collections...),
		ReasoningSteps:  steps,
	}, true
}

// toolLoop is the two-call path: plan (optionally with tool calls), run
// the tools, synthesize.
func (o *Orchestrator) toolLoop(ctx context.Context, call tools.Call, message string, window []memory.Turn) (*models.ChatResponse, string, error) {
	agent := call.Agent

	messages := make([]models.ChatMessage, 0, len(window)+2)
	messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: BuildSystemPrompt(agent)})
	messages = append(messages, window...)
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: message})

	plan, err := o.complete(ctx, call, messages, o.tools.Catalog(agent))
	if err != nil {
		return nil, "", apperr.ProviderUnavailable(err)
	}

	if len(plan.ToolCalls) == 0 {
		used := agent.Collections
		if len(agent.IntentMappings) > 0 {
			if matched := MatchIntent(message, agent.IntentMappings); len(matched) > 0 {
				used = matched
			}
		}
		return &models.ChatResponse{
			Response:        orFallback(plan.Content),
			CollectionsUsed: append([]string{}, used...),
		}, pathDirect, nil
	}

	n := len(plan.ToolCalls)
	steps := []models.ReasoningStep{
		{Step: fmt.Sprintf("Analyzing your question: \"%s\"", message)},
		{Step: fmt.Sprintf("Planning: I need to query %d data source%s to answer this.", n, plural(n))},
	}

	outcomes := o.runTools(ctx, call, plan.ToolCalls)

	var used []string
	dataCount := 0
	toolMessages := make([]models.ChatMessage, 0, n)
	for _, oc := range outcomes {
		steps = append(steps, oc.step)
		toolMessages = append(toolMessages, oc.message)
		dataCount += oc.rows
		if oc.collection != "" && !contains(used, oc.collection) {
			used = append(used, oc.collection)
		}
	}
	steps = append(steps, models.ReasoningStep{
		Step: fmt.Sprintf("Synthesizing %d record%s into answer...", dataCount, plural(dataCount)),
	})

	synth := make([]models.ChatMessage, 0, len(messages)+1+n)
	synth = append(synth, messages...)
	synth = append(synth, models.ChatMessage{Role: models.RoleAssistant, Content: plan.Content, ToolCalls: plan.ToolCalls})
	synth = append(synth, toolMessages...)

	final, err := o.complete(ctx, call, synth, nil)
	if err != nil {
		return nil, "", apperr.ProviderUnavailable(err)
	}

	if len(used) == 0 {
		used = append([]string{}, agent.Collections...)
	}
	return &models.ChatResponse{
		Response:        orFallback(final.Content),
		CollectionsUsed: used,
		DataCount:       dataCount,
		ReasoningSteps:  steps,
	}, pathTools, nil
}

func (o *Orchestrator) complete(ctx context.Context, call tools.Call, messages []models.ChatMessage, defs []models.ToolDefinition) (*models.CompletionResponse, error) {
	agent := call.Agent
	return o.model.Complete(ctx, &models.CompletionRequest{
		Provider:    agent.Model.Provider,
		Model:       agent.Model.Model,
		Messages:    messages,
		Tools:       defs,
		Temperature: agent.Model.Temperature,
		MaxTokens:   agent.Model.MaxTokens,
		AgentID:     agent.ID,
		User:        call.CallerID,
	})
}

// ── Tool Execution ──────────────────────────────────────────

type toolOutcome struct {
	step       models.ReasoningStep
	message    models.ChatMessage
	collection string
	rows       int
}

// runTools executes every planned call. Failures become {"error": msg}
// payloads; nothing here aborts the turn. Results keep plan order.
func (o *Orchestrator) runTools(ctx context.Context, call tools.Call, calls []models.ToolCall) []toolOutcome {
	out := make([]toolOutcome, len(calls))
	if o.opts.ToolConcurrency <= 1 || len(calls) == 1 {
		for i, tc := range calls {
			out[i] = o.runTool(ctx, call, tc)
		}
		return out
	}

	var g errgroup.Group
	g.SetLimit(o.opts.ToolConcurrency)
	for i, tc := range calls {
		g.Go(func() error {
			out[i] = o.runTool(ctx, call, tc)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (o *Orchestrator) runTool(ctx context.Context, call tools.Call, tc models.ToolCall) toolOutcome {
	var args map[string]interface{}
	// A malformed payload is reported by InvokeJSON.
	_ = json.Unmarshal([]byte(tc.Arguments), &args)

	oc := toolOutcome{step: models.ReasoningStep{
		Step:  describeCall(tc.Name, args),
		Tool:  tc.Name,
		Input: tools.InputSummary(tc.Name, args),
	}}

	var payload interface{}
	res, err := o.tools.InvokeJSON(ctx, call, tc.Name, tc.Arguments)
	if err != nil {
		log.Warn().Err(err).Str("tool", tc.Name).Str("agent", call.Agent.ID).Msg("Tool call failed")
		payload = map[string]interface{}{"error": toolErrorMessage(err)}
		oc.step.Result = payload
	} else {
		payload = res.Output
		oc.collection = res.Collection
		if tc.Name == tools.QueryCollection {
			oc.rows = res.Count
		}
		oc.step.Result = resultSample(res)
	}

	content, err := json.Marshal(payload)
	if err != nil {
		content = []byte(`{"error":"tool result could not be encoded"}`)
	}
	oc.message = models.ChatMessage{
		Role:       models.RoleTool,
		ToolCallID: tc.ID,
		Name:       tc.Name,
		Content:    string(content),
	}
	return oc
}

// describeCall names a planned call without argument values.
func describeCall(name string, args map[string]interface{}) string {
	switch name {
	case tools.QueryCollection:
		collection, _ := args["collection"].(string)
		desc := "Querying " + collection
		if f, ok := args["filters"].(map[string]interface{}); ok && len(f) > 0 {
			keys := make([]string, 0, len(f))
			for k := range f {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			desc += " with filters: " + strings.Join(keys, ", ")
		}
		return desc
	case tools.AnalyzeData:
		analysis, _ := args["analysisType"].(string)
		desc := "Analyzing data for " + analysis
		if groupBy, _ := args["groupBy"].(string); groupBy != "" {
			desc += " grouped by " + groupBy
		}
		return desc
	case tools.GetCollectionSchema:
		collection, _ := args["collection"].(string)
		return "Inspecting schema of " + collection
	}
	return "Running " + name
}

// toolErrorMessage is what the model sees for a failed call. Only
// taxonomy messages are passed through; causes stay in the logs.
func toolErrorMessage(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "Tool execution failed"
}

// maxSampleBytes bounds the encoded size of a non-row result in the trace.
const maxSampleBytes = 500

// resultSample is the trace view of a successful call: {count, sample}
// with the first two rows for row results, otherwise the output itself,
// truncated to maxSampleBytes of JSON.
func resultSample(res *tools.Result) interface{} {
	switch out := res.Output.(type) {
	case []store.Document:
		rows := out
		if len(rows) > 2 {
			rows = rows[:2]
		}
		return map[string]interface{}{"count": res.Count, "sample": rows}
	case nil:
		return map[string]interface{}{"count": res.Count}
	}
	b, err := json.Marshal(res.Output)
	if err != nil {
		return map[string]interface{}{"count": res.Count}
	}
	if len(b) <= maxSampleBytes {
		return res.Output
	}
	return map[string]interface{}{"sample": string(b[:maxSampleBytes]) + "...", "truncated": true}
}

// ── Persistence ─────────────────────────────────────────────

// persist appends the user and assistant messages, creating the
// conversation on first use. Failures are logged, never returned.
func (o *Orchestrator) persist(ctx context.Context, callerID string, agent *models.Agent, conv *models.Conversation, message string, resp *models.ChatResponse, meta models.MessageMetadata) string {
	if conv == nil {
		conv = &models.Conversation{AgentID: agent.ID, UserID: callerID, Title: models.ConversationTitle(message)}
		if err := o.conversations.CreateConversation(ctx, conv); err != nil {
			log.Warn().Err(err).Str("agent", agent.ID).Msg("Failed to create conversation")
			return ""
		}
	} else if conv.MessageCount == 0 {
		if err := o.conversations.SetConversationTitle(ctx, conv.ID, models.ConversationTitle(message)); err != nil {
			log.Warn().Err(err).Str("conversation", conv.ID).Msg("Failed to set conversation title")
		}
	}

	for _, msg := range []*models.Message{
		{ConversationID: conv.ID, Role: models.RoleUser, Content: message},
		{ConversationID: conv.ID, Role: models.RoleAssistant, Content: resp.Response, Metadata: &meta},
	} {
		if err := o.conversations.AppendMessage(ctx, msg); err != nil {
			log.Warn().Err(err).Str("conversation", conv.ID).Str("role", string(msg.Role)).Msg("Failed to append message")
		}
	}
	return conv.ID
}

func orFallback(s string) string {
	if strings.TrimSpace(s) == "" {
		return FallbackAnswer
	}
	return s
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
