package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/agentoven/agentoven/data-agent/internal/apperr"
	"github.com/agentoven/agentoven/data-agent/internal/orchestrator"
	"github.com/agentoven/agentoven/data-agent/internal/store"
	"github.com/agentoven/agentoven/data-agent/internal/tools"
	"github.com/agentoven/agentoven/data-agent/internal/workflow"
	"github.com/agentoven/agentoven/data-agent/pkg/models"
)

// scriptedModel returns its responses in order and records every request.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*models.CompletionResponse
	err       error
	requests  []*models.CompletionRequest
}

func (m *scriptedModel) Complete(_ context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &models.CompletionResponse{}, nil
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r, nil
}

type countingAuditor struct {
	mu      sync.Mutex
	entries []*models.AuditLogEntry
}

func (a *countingAuditor) Append(_ context.Context, e *models.AuditLogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

type fixture struct {
	store   *store.MemoryStore
	model   *scriptedModel
	audit   *countingAuditor
	agent   *models.Agent
	reg     *tools.Registry
	service *orchestrator.Orchestrator
}

func newFixture(t *testing.T, opts orchestrator.Options, configure func(*models.Agent)) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	f := &fixture{store: s, model: &scriptedModel{}, audit: &countingAuditor{}}
	f.reg = tools.NewRegistry(f.audit)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	must(f.reg.Register(models.ToolDefinition{Name: "lookup"}, func(context.Context, tools.Call, map[string]interface{}) (*tools.Result, error) {
		return &tools.Result{Output: map[string]interface{}{"ok": true}, Collection: "sales_deals"}, nil
	}))
	must(f.reg.Register(models.ToolDefinition{Name: "broken"}, func(context.Context, tools.Call, map[string]interface{}) (*tools.Result, error) {
		return nil, errors.New("connection reset by peer at 10.0.0.7")
	}))

	agent := models.NewAgent()
	agent.Name = "Sales analyst"
	agent.OwnerID = "alice"
	agent.Collections = []string{"sales_deals", "finance_transactions"}
	agent.AllowedTools = []string{"lookup", "broken"}
	if configure != nil {
		configure(&agent)
	}
	if err := s.CreateAgent(context.Background(), &agent); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	f.agent = &agent

	f.service = orchestrator.New(orchestrator.Deps{
		Agents:        s,
		Conversations: s,
		Model:         f.model,
		Tools:         f.reg,
		Workflows:     workflow.NewExecutor(f.reg, workflow.Options{}),
	}, opts)
	return f
}

func (f *fixture) messages(t *testing.T, convID string) []models.Message {
	t.Helper()
	msgs, err := f.store.ListMessages(context.Background(), convID, 0)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	return msgs
}

func TestChat_ShortCircuit(t *testing.T) {
	f := newFixture(t, orchestrator.Options{}, nil)

	resp, err := f.service.Chat(context.Background(), "alice", &models.ChatRequest{AgentID: f.agent.ID, Message: "hello"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if len(resp.ReasoningSteps) != 1 || resp.ReasoningSteps[0].Tool != orchestrator.ShortCircuitTool {
		t.Fatalf("ReasoningSteps = %+v, want one smart_engage step", resp.ReasoningSteps)
	}
	if len(f.model.requests) != 0 || len(f.audit.entries) != 0 {
		t.Errorf("model calls = %d, tool calls = %d, want none", len(f.model.requests), len(f.audit.entries))
	}
	if got := len(f.messages(t, resp.ConversationID)); got != 2 {
		t.Errorf("persisted messages = %d, want 2", got)
	}

	agent, _ := f.store.GetAgent(context.Background(), f.agent.ID)
	if agent.Stats.QueryCount != 1 || agent.Stats.ShortCircuitCount != 1 {
		t.Errorf("Stats = %+v", agent.Stats)
	}
}

func TestChat_ToolLoopResilience(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		f := newFixture(t, orchestrator.Options{ToolConcurrency: concurrency}, nil)
		f.model.responses = []*models.CompletionResponse{
			{ToolCalls: []models.ToolCall{
				{ID: "c1", Name: "lookup", Arguments: `{}`},
				{ID: "c2", Name: "broken", Arguments: `{}`},
				{ID: "c3", Name: "lookup", Arguments: `{}`},
			}},
			{Content: "Here is what I found."},
		}

		resp, err := f.service.Chat(context.Background(), "alice", &models.ChatRequest{
			AgentID: f.agent.ID,
			Message: "show me the sales deals report",
		})
		if err != nil {
			t.Fatalf("Chat(concurrency=%d) error = %v", concurrency, err)
		}
		if resp.Response != "Here is what I found." {
			t.Errorf("Response = %q", resp.Response)
		}

		if len(f.model.requests) != 2 {
			t.Fatalf("model calls = %d, want 2", len(f.model.requests))
		}
		synth := f.model.requests[1]
		var toolMsgs []models.ChatMessage
		for _, m := range synth.Messages {
			if m.Role == models.RoleTool {
				toolMsgs = append(toolMsgs, m)
			}
		}
		if len(toolMsgs) != 3 {
			t.Fatalf("synthesis tool results = %d, want 3", len(toolMsgs))
		}
		if toolMsgs[1].ToolCallID != "c2" || !strings.Contains(toolMsgs[1].Content, `"error"`) {
			t.Errorf("failed tool result = %+v", toolMsgs[1])
		}
		if strings.Contains(toolMsgs[1].Content, "10.0.0.7") {
			t.Errorf("tool error leaked its cause: %s", toolMsgs[1].Content)
		}
		if len(synth.Tools) != 0 {
			t.Errorf("synthesis offered %d tools, want 0", len(synth.Tools))
		}

		// analyzing, planning, 3 calls, synthesizing
		if len(resp.ReasoningSteps) != 6 {
			t.Fatalf("ReasoningSteps = %d, want 6", len(resp.ReasoningSteps))
		}
		for i, want := range []string{"lookup", "broken", "lookup"} {
			if got := resp.ReasoningSteps[2+i].Tool; got != want {
				t.Errorf("step %d tool = %s, want %s", 2+i, got, want)
			}
		}
		if !strings.HasPrefix(resp.ReasoningSteps[1].Step, "Planning: I need to query 3 data sources") {
			t.Errorf("planning step = %q", resp.ReasoningSteps[1].Step)
		}
		if len(resp.CollectionsUsed) != 1 || resp.CollectionsUsed[0] != "sales_deals" {
			t.Errorf("CollectionsUsed = %v", resp.CollectionsUsed)
		}
		for _, i := range []int{2, 4} {
			got, ok := resp.ReasoningSteps[i].Result.(map[string]interface{})
			if !ok || got["ok"] != true {
				t.Errorf("step %d result = %#v, want the lookup output", i, resp.ReasoningSteps[i].Result)
			}
		}
		if len(f.audit.entries) != 3 {
			t.Errorf("tool audit entries = %d, want 3", len(f.audit.entries))
		}
	}
}

func TestChat_DirectAnswerIntent(t *testing.T) {
	f := newFixture(t, orchestrator.Options{}, func(a *models.Agent) {
		a.IntentMappings = []models.IntentMapping{
			{Intent: "revenue", Keywords: []string{"revenue"}, Collections: []string{"finance_transactions"}},
			{Intent: "pipeline", Keywords: []string{"pipeline"}, Collections: []string{"sales_deals"}},
		}
	})
	f.model.responses = []*models.CompletionResponse{{Content: "Revenue is up."}}

	resp, err := f.service.Chat(context.Background(), "alice", &models.ChatRequest{
		AgentID: f.agent.ID,
		Message: "how did revenue data change this quarter",
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Response != "Revenue is up." {
		t.Errorf("Response = %q", resp.Response)
	}
	if len(resp.CollectionsUsed) != 1 || resp.CollectionsUsed[0] != "finance_transactions" {
		t.Errorf("CollectionsUsed = %v", resp.CollectionsUsed)
	}

	plan := f.model.requests[0]
	if plan.Messages[0].Role != models.RoleSystem || !strings.Contains(plan.Messages[0].Content, "sales_deals, finance_transactions") {
		t.Errorf("system prompt = %q", plan.Messages[0].Content)
	}
	if len(plan.Tools) != 2 || plan.User != "alice" || plan.Model != models.DefaultModel {
		t.Errorf("planning request tools=%d user=%q model=%q", len(plan.Tools), plan.User, plan.Model)
	}
}

func TestChat_EmptySynthesisFallsBack(t *testing.T) {
	f := newFixture(t, orchestrator.Options{}, nil)
	f.model.responses = []*models.CompletionResponse{
		{ToolCalls: []models.ToolCall{{ID: "c1", Name: "lookup", Arguments: `{}`}}},
		{Content: "  "},
	}

	resp, err := f.service.Chat(context.Background(), "alice", &models.ChatRequest{AgentID: f.agent.ID, Message: "summarize sales data"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Response != orchestrator.FallbackAnswer {
		t.Errorf("Response = %q, want fallback", resp.Response)
	}
}

func TestChat_ProviderUnavailable(t *testing.T) {
	f := newFixture(t, orchestrator.Options{}, nil)
	f.model.err = errors.New("dial tcp: connection refused")

	_, err := f.service.Chat(context.Background(), "alice", &models.ChatRequest{AgentID: f.agent.ID, Message: "show sales data"})
	if !errors.Is(err, apperr.ErrProviderUnavailable) {
		t.Fatalf("Chat() error = %v, want ProviderUnavailable", err)
	}
	convs, _ := f.store.ListConversations(context.Background(), f.agent.ID, "alice", 0)
	if len(convs) != 0 {
		t.Errorf("conversations = %d, want none after a failed turn", len(convs))
	}
}

func TestChat_Workflow(t *testing.T) {
	graph := &models.WorkflowGraph{
		Nodes: []models.WorkflowNode{
			{ID: "start", Spec: models.StartNode{}},
			{ID: "fetch", Spec: models.ToolNode{Tool: "lookup"}},
			{ID: "end", Spec: models.EndNode{OutputFrom: "fetch"}},
		},
		Edges: []models.WorkflowEdge{{Source: "start", Target: "fetch"}, {Source: "fetch", Target: "end"}},
	}
	f := newFixture(t, orchestrator.Options{}, func(a *models.Agent) { a.Workflow = graph })

	resp, err := f.service.Chat(context.Background(), "alice", &models.ChatRequest{AgentID: f.agent.ID, Message: "run the sales report"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Response != `{"ok":true}` {
		t.Errorf("Response = %q", resp.Response)
	}
	if len(f.model.requests) != 0 {
		t.Errorf("model calls = %d, want 0", len(f.model.requests))
	}
	if len(resp.ReasoningSteps) != 3 || resp.ReasoningSteps[1].Step != "Executed tool node: fetch" {
		t.Errorf("ReasoningSteps = %+v", resp.ReasoningSteps)
	}
}

func TestChat_WorkflowFailureFallsBack(t *testing.T) {
	graph := &models.WorkflowGraph{
		Nodes: []models.WorkflowNode{
			{ID: "start", Spec: models.StartNode{}},
			{ID: "fetch", Spec: models.ToolNode{Tool: "broken"}},
			{ID: "end", Spec: models.EndNode{}},
		},
		Edges: []models.WorkflowEdge{{Source: "start", Target: "fetch"}, {Source: "fetch", Target: "end"}},
	}
	f := newFixture(t, orchestrator.Options{}, func(a *models.Agent) { a.Workflow = graph })
	f.model.responses = []*models.CompletionResponse{{Content: "Answered by the model."}}

	resp, err := f.service.Chat(context.Background(), "alice", &models.ChatRequest{AgentID: f.agent.ID, Message: "run the sales report"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Response != "Answered by the model." {
		t.Errorf("Response = %q", resp.Response)
	}
}

func TestChat_ConversationContinues(t *testing.T) {
	f := newFixture(t, orchestrator.Options{}, nil)
	f.model.responses = []*models.CompletionResponse{{Content: "first"}, {Content: "second"}}
	ctx := context.Background()

	msg := "what does the sales data say about the biggest deals this quarter and last quarter"
	first, err := f.service.Chat(ctx, "alice", &models.ChatRequest{AgentID: f.agent.ID, Message: msg})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	conv, err := f.store.GetConversation(ctx, first.ConversationID)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if conv.Title != models.ConversationTitle(msg) || !strings.HasSuffix(conv.Title, "...") {
		t.Errorf("Title = %q", conv.Title)
	}

	second, err := f.service.Chat(ctx, "alice", &models.ChatRequest{AgentID: f.agent.ID, Message: "and the sales trend?", ConversationID: first.ConversationID})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if second.ConversationID != first.ConversationID {
		t.Errorf("ConversationID = %s, want %s", second.ConversationID, first.ConversationID)
	}
	// system, 2 remembered turns, user
	if got := len(f.model.requests[1].Messages); got != 4 {
		t.Errorf("second planning messages = %d, want 4", got)
	}
	if got := len(f.messages(t, first.ConversationID)); got != 4 {
		t.Errorf("persisted messages = %d, want 4", got)
	}
}

func TestChat_Errors(t *testing.T) {
	f := newFixture(t, orchestrator.Options{}, nil)
	ctx := context.Background()

	if _, err := f.service.Chat(ctx, "alice", &models.ChatRequest{AgentID: "missing", Message: "hi there"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Chat(unknown agent) error = %v, want NotFound", err)
	}
	if _, err := f.service.Chat(ctx, "alice", &models.ChatRequest{AgentID: f.agent.ID}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Chat(no message) error = %v, want Validation", err)
	}
	if _, err := f.service.Chat(ctx, "", &models.ChatRequest{AgentID: f.agent.ID, Message: "hello"}); !errors.Is(err, apperr.ErrAccessDenied) {
		t.Errorf("Chat(no caller) error = %v, want AccessDenied", err)
	}

	conv := &models.Conversation{AgentID: f.agent.ID, UserID: "bob"}
	if err := f.store.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if _, err := f.service.Chat(ctx, "alice", &models.ChatRequest{AgentID: f.agent.ID, Message: "hello", ConversationID: conv.ID}); !errors.Is(err, apperr.ErrAccessDenied) {
		t.Errorf("Chat(foreign conversation) error = %v, want AccessDenied", err)
	}
}

func TestChat_NonOwnerDenied(t *testing.T) {
	f := newFixture(t, orchestrator.Options{}, func(a *models.Agent) {
		a.SystemPrompt = "Internal pricing rules apply."
	})
	f.model.responses = []*models.CompletionResponse{
		{ToolCalls: []models.ToolCall{{ID: "c1", Name: "lookup", Arguments: `{}`}}},
		{Content: "done"},
	}
	ctx := context.Background()

	_, err := f.service.Chat(ctx, "mallory", &models.ChatRequest{AgentID: f.agent.ID, Message: "show me the sales deals report"})
	if !errors.Is(err, apperr.ErrAccessDenied) {
		t.Fatalf("Chat(non-owner) error = %v, want AccessDenied", err)
	}
	if len(f.model.requests) != 0 || len(f.audit.entries) != 0 {
		t.Errorf("model calls = %d, tool calls = %d, want none", len(f.model.requests), len(f.audit.entries))
	}
	convs, _ := f.store.ListConversations(ctx, f.agent.ID, "mallory", 0)
	if len(convs) != 0 {
		t.Errorf("conversations for mallory = %d, want 0", len(convs))
	}
	agent, _ := f.store.GetAgent(ctx, f.agent.ID)
	if agent.Stats.QueryCount != 0 {
		t.Errorf("QueryCount = %d, want 0", agent.Stats.QueryCount)
	}
}

func TestChat_HideReasoning(t *testing.T) {
	f := newFixture(t, orchestrator.Options{}, func(a *models.Agent) { a.Agentic.Reasoning.ShowReasoning = false })
	f.model.responses = []*models.CompletionResponse{
		{ToolCalls: []models.ToolCall{{ID: "c1", Name: "lookup", Arguments: `{}`}}},
		{Content: "done"},
	}

	resp, err := f.service.Chat(context.Background(), "alice", &models.ChatRequest{AgentID: f.agent.ID, Message: "show sales data"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.ReasoningSteps != nil {
		t.Errorf("ReasoningSteps = %+v, want hidden", resp.ReasoningSteps)
	}
	b, _ := json.Marshal(resp)
	if strings.Contains(string(b), "reasoningSteps") {
		t.Errorf("response JSON = %s", b)
	}
}
