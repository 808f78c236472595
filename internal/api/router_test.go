package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agentoven/agentoven/data-agent/internal/api"
	"github.com/agentoven/agentoven/data-agent/internal/api/handlers"
	"github.com/agentoven/agentoven/data-agent/internal/api/middleware"
	"github.com/agentoven/agentoven/data-agent/internal/apperr"
	"github.com/agentoven/agentoven/data-agent/internal/audit"
	"github.com/agentoven/agentoven/data-agent/internal/auth"
	"github.com/agentoven/agentoven/data-agent/internal/ratelimit"
	"github.com/agentoven/agentoven/data-agent/internal/router"
	"github.com/agentoven/agentoven/data-agent/internal/store"
	"github.com/agentoven/agentoven/data-agent/internal/tools"
	"github.com/agentoven/agentoven/data-agent/pkg/models"
)

// stubChat answers every turn with a canned reply, or with err when set.
type stubChat struct {
	err    error
	caller string
}

func (s *stubChat) Chat(_ context.Context, callerID string, req *models.ChatRequest) (*models.ChatResponse, error) {
	s.caller = callerID
	if s.err != nil {
		return nil, s.err
	}
	return &models.ChatResponse{
		Response:        "echo: " + req.Message,
		ConversationID:  "conv-1",
		CollectionsUsed: []string{},
	}, nil
}

type testServer struct {
	handler http.Handler
	store   *store.MemoryStore
	audit   *audit.Log
	chat    *stubChat
}

func newTestServer(t *testing.T, chatLimit int) *testServer {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	auditLog := audit.New(s, s)
	chat := &stubChat{}
	h := handlers.New(s, s, auditLog, chat, tools.NewRegistry(auditLog), router.NewModelRouter(nil, time.Second))

	chain := auth.NewProviderChain()
	chain.RegisterProvider(auth.NewAPIKeyProvider("key-alice=alice,key-bob=bob", ""))

	return &testServer{
		handler: api.NewRouter("test", h, middleware.NewAuthMiddleware(chain, true), ratelimit.New(chatLimit, time.Minute)),
		store:   s,
		audit:   auditLog,
		chat:    chat,
	}
}

func (ts *testServer) do(t *testing.T, method, path, key string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Unmarshal(%s) error = %v", w.Body.String(), err)
	}
}

func (ts *testServer) createAgent(t *testing.T, key string) models.Agent {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/v1/agents", key, map[string]interface{}{
		"name":        "Sales analyst",
		"collections": []string{"sales_deals"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create agent: status = %d, body = %s", w.Code, w.Body.String())
	}
	var agent models.Agent
	decode(t, w, &agent)
	return agent
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t, 10)
	w := ts.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestAgents_OwnerScoping(t *testing.T) {
	ts := newTestServer(t, 10)
	agent := ts.createAgent(t, "key-alice")

	if agent.OwnerID != "alice" {
		t.Errorf("OwnerID = %q, want alice", agent.OwnerID)
	}
	if agent.Agentic.ContextMemory.ContextWindow != models.DefaultContextWindow {
		t.Errorf("ContextWindow = %d, want default", agent.Agentic.ContextMemory.ContextWindow)
	}

	if w := ts.do(t, http.MethodGet, "/api/v1/agents/"+agent.ID, "key-alice", nil); w.Code != http.StatusOK {
		t.Errorf("owner GET: status = %d", w.Code)
	}
	w := ts.do(t, http.MethodGet, "/api/v1/agents/"+agent.ID, "key-bob", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("other GET: status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if w := ts.do(t, http.MethodDelete, "/api/v1/agents/"+agent.ID, "key-bob", nil); w.Code != http.StatusForbidden {
		t.Errorf("other DELETE: status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if w := ts.do(t, http.MethodGet, "/api/v1/agents/missing", "key-alice", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing GET: status = %d, want %d", w.Code, http.StatusNotFound)
	}

	var list []models.Agent
	decode(t, ts.do(t, http.MethodGet, "/api/v1/agents", "key-bob", nil), &list)
	if len(list) != 0 {
		t.Errorf("bob sees %d agents, want 0", len(list))
	}
	decode(t, ts.do(t, http.MethodGet, "/api/v1/agents", "key-alice", nil), &list)
	if len(list) != 1 {
		t.Errorf("alice sees %d agents, want 1", len(list))
	}

	// Update keeps identity and ownership.
	w = ts.do(t, http.MethodPut, "/api/v1/agents/"+agent.ID, "key-alice", map[string]interface{}{
		"name":     "Renamed",
		"owner_id": "bob",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("PUT: status = %d, body = %s", w.Code, w.Body.String())
	}
	var updated models.Agent
	decode(t, w, &updated)
	if updated.ID != agent.ID || updated.OwnerID != "alice" || updated.Name != "Renamed" {
		t.Errorf("updated = %+v", updated)
	}

	if w := ts.do(t, http.MethodPost, "/api/v1/agents", "key-alice", map[string]string{"name": " "}); w.Code != http.StatusBadRequest {
		t.Errorf("nameless create: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestChat(t *testing.T) {
	ts := newTestServer(t, 10)

	if w := ts.do(t, http.MethodPost, "/api/v1/chat", "", map[string]string{"agentId": "a", "message": "hi"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w := ts.do(t, http.MethodPost, "/api/v1/chat", "key-alice", map[string]string{"agentId": "a", "message": "hi"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp models.ChatResponse
	decode(t, w, &resp)
	if resp.Response != "echo: hi" || resp.ConversationID != "conv-1" {
		t.Errorf("response = %+v", resp)
	}
	if ts.chat.caller != "alice" {
		t.Errorf("caller = %q, want alice", ts.chat.caller)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader("{not json"))
	req.Header.Set("X-API-Key", "key-alice")
	w = httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestChat_ErrorsAreSanitized(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"not found", apperr.NotFound("agent a not found"), http.StatusNotFound, apperr.MsgNotFound},
		{"denied", apperr.AccessDenied("agent owned by bob"), http.StatusForbidden, apperr.MsgAccessDenied},
		{"provider", apperr.ProviderUnavailable(errors.New("401 from api.openai.com key sk-123")), http.StatusInternalServerError, apperr.MsgProviderUnavailable},
		{"internal", errors.New("pq: relation missing"), http.StatusInternalServerError, apperr.MsgInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, 10)
			ts.chat.err = tt.err

			w := ts.do(t, http.MethodPost, "/api/v1/chat", "key-alice", map[string]string{"agentId": "a", "message": "hi"})
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var body map[string]string
			decode(t, w, &body)
			if body["error"] != tt.wantMsg {
				t.Errorf("error = %q, want %q", body["error"], tt.wantMsg)
			}
			if strings.Contains(w.Body.String(), "sk-123") || strings.Contains(w.Body.String(), "bob") {
				t.Errorf("body leaks details: %s", w.Body.String())
			}
		})
	}
}

func TestChat_RateLimited(t *testing.T) {
	ts := newTestServer(t, 2)
	body := map[string]string{"agentId": "a", "message": "hi"}

	for i := 0; i < 2; i++ {
		if w := ts.do(t, http.MethodPost, "/api/v1/chat", "key-alice", body); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, w.Code)
		}
	}
	w := ts.do(t, http.MethodPost, "/api/v1/chat", "key-alice", body)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// Other routes are not limited.
	if w := ts.do(t, http.MethodGet, "/api/v1/agents", "key-alice", nil); w.Code != http.StatusOK {
		t.Errorf("agents after limit: status = %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/api/v1/chat", "key-bob", body); w.Code != http.StatusOK {
		t.Errorf("bob: status = %d", w.Code)
	}
}

func TestAudit(t *testing.T) {
	ts := newTestServer(t, 10)
	agent := ts.createAgent(t, "key-alice")

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, typ := range []models.AuditType{models.AuditDataAccess, models.AuditToolCall, models.AuditDataAccess} {
		ts.audit.Append(context.Background(), &models.AuditLogEntry{
			Type:       typ,
			UserID:     "alice",
			AgentID:    agent.ID,
			Source:     models.SourceAPI,
			Collection: "sales_deals",
			Success:    true,
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		})
	}

	path := "/api/v1/agents/" + agent.ID + "/audit"

	var entries []models.AuditLogEntry
	decode(t, ts.do(t, http.MethodGet, path, "key-alice", nil), &entries)
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if !entries[0].Timestamp.After(entries[1].Timestamp) {
		t.Error("entries not newest first")
	}

	decode(t, ts.do(t, http.MethodGet, path+"?type=tool_call", "key-alice", nil), &entries)
	if len(entries) != 1 {
		t.Errorf("tool_call entries = %d, want 1", len(entries))
	}

	decode(t, ts.do(t, http.MethodGet, path, "key-bob", nil), &entries)
	if len(entries) != 0 {
		t.Errorf("non-owner sees %d entries, want 0", len(entries))
	}

	for _, q := range []string{"?limit=0", "?limit=201", "?limit=ten", "?type=bogus", "?from=yesterday", "?format=xml"} {
		if w := ts.do(t, http.MethodGet, path+q, "key-alice", nil); w.Code != http.StatusBadRequest {
			t.Errorf("GET %s: status = %d, want %d", q, w.Code, http.StatusBadRequest)
		}
	}

	w := ts.do(t, http.MethodGet, path+"?format=csv&limit=2", "key-alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("csv: status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "time,type,source") {
		t.Errorf("csv = %q", w.Body.String())
	}
}

func TestWorkflowEndpoints(t *testing.T) {
	ts := newTestServer(t, 10)
	agent := ts.createAgent(t, "key-alice")

	invalid := map[string]interface{}{
		"nodes": []map[string]interface{}{
			{"id": "s", "type": "start"},
			{"id": "d", "type": "decision", "data": map[string]string{"condition": "x > 1"}},
		},
		"edges": []map[string]string{{"source": "s", "target": "d"}},
	}
	var report struct {
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors"`
	}
	decode(t, ts.do(t, http.MethodPost, "/api/v1/workflows/validate", "key-alice", invalid), &report)
	if report.Valid || len(report.Errors) == 0 {
		t.Errorf("validate invalid = %+v", report)
	}

	path := "/api/v1/agents/" + agent.ID + "/workflow"
	if w := ts.do(t, http.MethodPut, path, "key-alice", invalid); w.Code != http.StatusBadRequest {
		t.Errorf("PUT invalid: status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	valid := map[string]interface{}{
		"nodes": []map[string]interface{}{
			{"id": "s", "type": "start"},
			{"id": "e", "type": "end"},
		},
		"edges": []map[string]string{{"source": "s", "target": "e"}},
	}
	decode(t, ts.do(t, http.MethodPost, "/api/v1/workflows/validate", "key-alice", valid), &report)
	if !report.Valid {
		t.Errorf("validate valid = %+v", report)
	}
	w := ts.do(t, http.MethodPut, path, "key-alice", valid)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT valid: status = %d, body = %s", w.Code, w.Body.String())
	}
	stored, err := ts.store.GetAgent(context.Background(), agent.ID)
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if stored.Workflow == nil || len(stored.Workflow.Nodes) != 2 {
		t.Errorf("stored workflow = %+v", stored.Workflow)
	}
	if w := ts.do(t, http.MethodPut, path, "key-bob", valid); w.Code != http.StatusForbidden {
		t.Errorf("PUT by non-owner: status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestStats(t *testing.T) {
	ts := newTestServer(t, 10)
	agent := ts.createAgent(t, "key-alice")
	for _, short := range []bool{true, false, true, false} {
		if err := ts.store.RecordAgentQuery(context.Background(), agent.ID, 100*time.Millisecond, short); err != nil {
			t.Fatalf("RecordAgentQuery() error = %v", err)
		}
	}

	var body struct {
		Stats   models.AgentStats `json:"stats"`
		Savings struct {
			SavingsPercentage float64 `json:"savings_percentage"`
		} `json:"savings"`
	}
	decode(t, ts.do(t, http.MethodGet, "/api/v1/agents/"+agent.ID+"/stats", "key-alice", nil), &body)
	if body.Stats.QueryCount != 4 || body.Stats.ShortCircuitCount != 2 {
		t.Errorf("stats = %+v", body.Stats)
	}
	if body.Savings.SavingsPercentage < 44.9 || body.Savings.SavingsPercentage > 45.1 {
		t.Errorf("savings_percentage = %v, want 45", body.Savings.SavingsPercentage)
	}
}
