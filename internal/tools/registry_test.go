package tools_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/agentoven/agentoven/data-agent/internal/apperr"
	"github.com/agentoven/agentoven/data-agent/internal/tools"
	"github.com/agentoven/agentoven/data-agent/pkg/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type recordingAuditor struct {
	entries []*models.AuditLogEntry
}

func (r *recordingAuditor) Append(_ context.Context, e *models.AuditLogEntry) {
	r.entries = append(r.entries, e)
}

func echoTool(name string) (models.ToolDefinition, tools.Handler) {
	def := models.ToolDefinition{
		Name:        name,
		Description: "echo",
		Parameters: &models.ParameterSchema{
			Type: "object",
			Properties: map[string]*models.ParameterSchema{
				"text": {Type: "string"},
				"mode": {Type: "string", Enum: []string{"upper", "lower"}},
			},
			Required: []string{"text"},
		},
	}
	h := func(_ context.Context, _ tools.Call, args map[string]interface{}) (*tools.Result, error) {
		return &tools.Result{Output: args["text"]}, nil
	}
	return def, h
}

func TestAllowedToolNames(t *testing.T) {
	agent := models.NewAgent()
	agent.Agentic.Tools.Basic.GetCollectionSchema = false
	agent.Agentic.Tools.Powerful.Finance = []string{"budget_variance"}
	agent.Agentic.Tools.Powerful.Sales = []string{"pipeline_forecast", "budget_variance"}

	got := tools.AllowedToolNames(&agent)
	want := []string{"query_collection", "analyze_data", "powerful_budget_variance", "powerful_pipeline_forecast"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("AllowedToolNames() = %v, want %v", got, want)
	}

	agent.AllowedTools = []string{"get_collection_schema"}
	got = tools.AllowedToolNames(&agent)
	if len(got) != 1 || got[0] != "get_collection_schema" {
		t.Errorf("AllowedToolNames() with explicit list = %v", got)
	}
}

func TestInvoke_NotAllowed(t *testing.T) {
	aud := &recordingAuditor{}
	r := tools.NewRegistry(aud)
	def, h := echoTool("powerful_echo")
	if err := r.Register(def, h); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	agent := models.NewAgent()
	agent.ID = "a1"
	agent.OwnerID = "alice"
	_, err := r.Invoke(context.Background(), tools.Call{CallerID: "alice", Agent: &agent}, "powerful_echo", map[string]interface{}{"text": "x"})
	if !errors.Is(err, apperr.ErrAccessDenied) {
		t.Fatalf("Invoke() error = %v, want access denied", err)
	}
	if !strings.Contains(err.Error(), "Tool powerful_echo is not allowed for this agent") {
		t.Errorf("error = %q", err.Error())
	}

	if len(aud.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(aud.entries))
	}
	e := aud.entries[0]
	if e.Type != models.AuditToolCall || !e.Denied || e.Success || e.AgentID != "a1" {
		t.Errorf("audit entry = %+v", e)
	}
}

func TestInvoke_ValidationAndSuccess(t *testing.T) {
	aud := &recordingAuditor{}
	r := tools.NewRegistry(aud)
	def, h := echoTool("echo")
	r.Register(def, h)

	agent := models.NewAgent()
	agent.OwnerID = "alice"
	agent.AllowedTools = []string{"echo"}
	call := tools.Call{CallerID: "alice", Agent: &agent}
	ctx := context.Background()

	if _, err := r.Invoke(ctx, call, "echo", map[string]interface{}{}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("missing required: error = %v, want validation", err)
	}
	if _, err := r.Invoke(ctx, call, "echo", map[string]interface{}{"text": "x", "mode": "sideways"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("bad enum: error = %v, want validation", err)
	}
	if _, err := r.InvokeJSON(ctx, call, "echo", `{not json`); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("bad json: error = %v, want validation", err)
	}

	res, err := r.InvokeJSON(ctx, call, "echo", `{"text":"hello","mode":"upper"}`)
	if err != nil {
		t.Fatalf("InvokeJSON() error = %v", err)
	}
	if res.Output != "hello" {
		t.Errorf("Output = %v, want hello", res.Output)
	}

	if len(aud.entries) != 4 {
		t.Fatalf("audit entries = %d, want 4", len(aud.entries))
	}
	last := aud.entries[3]
	if !last.Success || last.Denied || last.Error != "" {
		t.Errorf("success entry = %+v", last)
	}
	for _, e := range aud.entries[:3] {
		if e.Success || e.Denied {
			t.Errorf("validation entry success=%v denied=%v, want false/false", e.Success, e.Denied)
		}
	}
}

func TestInvoke_HandlerErrorWrapped(t *testing.T) {
	r := tools.NewRegistry(&recordingAuditor{})
	r.Register(models.ToolDefinition{Name: "boom"}, func(context.Context, tools.Call, map[string]interface{}) (*tools.Result, error) {
		return nil, errors.New("kaput")
	})
	agent := models.NewAgent()
	agent.OwnerID = "alice"
	agent.AllowedTools = []string{"boom"}

	_, err := r.Invoke(context.Background(), tools.Call{CallerID: "alice", Agent: &agent}, "boom", nil)
	if !errors.Is(err, apperr.ErrToolExecution) {
		t.Fatalf("Invoke() error = %v, want tool execution", err)
	}
}

func TestInvoke_UnknownTool(t *testing.T) {
	r := tools.NewRegistry(&recordingAuditor{})
	agent := models.NewAgent()
	agent.OwnerID = "alice"
	agent.AllowedTools = []string{"ghost"}

	_, err := r.Invoke(context.Background(), tools.Call{CallerID: "alice", Agent: &agent}, "ghost", nil)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("Invoke() error = %v, want validation", err)
	}
}

func TestInvoke_DeniedFollowsErrorKind(t *testing.T) {
	aud := &recordingAuditor{}
	r := tools.NewRegistry(aud)
	r.Register(models.ToolDefinition{Name: "maintenance"}, func(context.Context, tools.Call, map[string]interface{}) (*tools.Result, error) {
		return nil, errors.New("upstream said: writes not allowed during maintenance")
	})
	r.Register(models.ToolDefinition{Name: "guarded"}, func(context.Context, tools.Call, map[string]interface{}) (*tools.Result, error) {
		return nil, apperr.Validation("field salary is not allowed").Refuse()
	})
	agent := models.NewAgent()
	agent.OwnerID = "alice"
	agent.AllowedTools = []string{"maintenance", "guarded"}
	call := tools.Call{CallerID: "alice", Agent: &agent}

	if _, err := r.Invoke(context.Background(), call, "maintenance", nil); !errors.Is(err, apperr.ErrToolExecution) {
		t.Fatalf("Invoke(maintenance) error = %v, want tool execution", err)
	}
	if _, err := r.Invoke(context.Background(), call, "guarded", nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("Invoke(guarded) error = %v, want validation", err)
	}

	if len(aud.entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(aud.entries))
	}
	if e := aud.entries[0]; e.Denied || e.Success {
		t.Errorf("executor failure entry denied=%v success=%v, want false/false", e.Denied, e.Success)
	}
	if e := aud.entries[1]; !e.Denied || e.Success {
		t.Errorf("refused entry denied=%v success=%v, want true/false", e.Denied, e.Success)
	}
}

func TestInvoke_CallerMustOwnAgent(t *testing.T) {
	aud := &recordingAuditor{}
	r := tools.NewRegistry(aud)
	ran := false
	r.Register(models.ToolDefinition{Name: "lookup"}, func(context.Context, tools.Call, map[string]interface{}) (*tools.Result, error) {
		ran = true
		return &tools.Result{}, nil
	})
	agent := models.NewAgent()
	agent.ID = "a1"
	agent.OwnerID = "alice"
	agent.AllowedTools = []string{"lookup"}

	_, err := r.Invoke(context.Background(), tools.Call{CallerID: "mallory", Agent: &agent}, "lookup", nil)
	if !errors.Is(err, apperr.ErrAccessDenied) {
		t.Fatalf("Invoke() error = %v, want access denied", err)
	}
	if ran {
		t.Error("tool ran for a caller that does not own the agent")
	}
	if len(aud.entries) != 1 || !aud.entries[0].Denied || aud.entries[0].UserID != "mallory" {
		t.Errorf("audit entries = %+v, want one denied entry for mallory", aud.entries)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := tools.NewRegistry(nil)
	def, h := echoTool("echo")
	if err := r.Register(def, h); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(def, h); err == nil {
		t.Error("second Register() error = nil, want duplicate error")
	}
}

func TestCatalog_FiltersByAllowlist(t *testing.T) {
	r := tools.NewRegistry(nil)
	for _, name := range []string{"query_collection", "analyze_data", "powerful_x"} {
		def, h := echoTool(name)
		r.Register(def, h)
	}
	agent := models.NewAgent()
	agent.Agentic.Tools.Basic.AnalyzeData = false

	defs := r.Catalog(&agent)
	if len(defs) != 1 || defs[0].Name != "query_collection" {
		t.Errorf("Catalog() = %v, want [query_collection]", defs)
	}
}

func TestCatalog_ReportsUnregisteredOnce(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	r := tools.NewRegistry(nil)
	def, h := echoTool("query_collection")
	r.Register(def, h)
	agent := models.NewAgent()
	agent.ID = "a1"
	agent.AllowedTools = []string{"query_collection", "powerful_budget_variance"}

	for i := 0; i < 2; i++ {
		if defs := r.Catalog(&agent); len(defs) != 1 || defs[0].Name != "query_collection" {
			t.Fatalf("Catalog() = %v, want [query_collection]", defs)
		}
	}
	if got := strings.Count(buf.String(), "powerful_budget_variance"); got != 1 {
		t.Errorf("warnings naming powerful_budget_variance = %d, want 1; log: %s", got, buf.String())
	}
	if !strings.Contains(buf.String(), "AGENTOVEN_TOOLS_FILE") {
		t.Errorf("warning does not point at the tools file: %s", buf.String())
	}
}

func TestInputSummary_NoValues(t *testing.T) {
	args := map[string]interface{}{
		"collection": "finance_transactions",
		"filters": map[string]interface{}{
			"department": "Secret Projects",
			"minAmount":  9999.0,
			"limit":      10.0,
		},
	}
	got := tools.InputSummary("query_collection", args)
	if strings.Contains(got, "Secret Projects") || strings.Contains(got, "9999") {
		t.Errorf("InputSummary() leaks values: %s", got)
	}
	if !strings.Contains(got, `"filterFields":["department","limit","minAmount"]`) {
		t.Errorf("InputSummary() = %s", got)
	}

	powerful := tools.InputSummary("powerful_forecast", map[string]interface{}{"horizon": 3.0})
	if powerful != `{"argsKeys":["horizon"],"tool":"powerful_forecast"}` {
		t.Errorf("InputSummary(powerful) = %s", powerful)
	}
}
