package audit_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/agentoven/agentoven/data-agent/internal/audit"
	"github.com/agentoven/agentoven/data-agent/internal/store"
	"github.com/agentoven/agentoven/data-agent/pkg/models"
)

func setup(t *testing.T) (*audit.Log, *store.MemoryStore, string) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	agent := models.NewAgent()
	agent.OwnerID = "alice"
	if err := s.CreateAgent(context.Background(), &agent); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	return audit.New(s, s), s, agent.ID
}

func TestList_OwnerOnly(t *testing.T) {
	l, _, agentID := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Append(ctx, &models.AuditLogEntry{
			Type:    models.AuditDataAccess,
			UserID:  "alice",
			AgentID: agentID,
			Success: true,
		})
	}

	got, err := l.List(ctx, models.AuditQuery{AgentID: agentID, CallerID: "alice"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("List(owner) returned %d entries, want 3", len(got))
	}

	other, err := l.List(ctx, models.AuditQuery{AgentID: agentID, CallerID: "mallory"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(other) != 0 {
		t.Errorf("List(non-owner) returned %d entries, want 0", len(other))
	}

	missing, err := l.List(ctx, models.AuditQuery{AgentID: "nope", CallerID: "alice"})
	if err != nil {
		t.Fatalf("List(missing agent) error = %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("List(missing agent) returned %d entries, want 0", len(missing))
	}
}

func TestList_TypeFilterAndLimit(t *testing.T) {
	l, _, agentID := setup(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		typ := models.AuditDataAccess
		if i%2 == 0 {
			typ = models.AuditToolCall
		}
		l.Append(ctx, &models.AuditLogEntry{
			Type:      typ,
			AgentID:   agentID,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	tools, _ := l.List(ctx, models.AuditQuery{AgentID: agentID, CallerID: "alice", Type: models.AuditToolCall})
	if len(tools) != 3 {
		t.Errorf("tool_call entries = %d, want 3", len(tools))
	}

	limited, _ := l.List(ctx, models.AuditQuery{AgentID: agentID, CallerID: "alice", Limit: 2})
	if len(limited) != 2 {
		t.Fatalf("limited entries = %d, want 2", len(limited))
	}
	if !limited[0].Timestamp.After(limited[1].Timestamp) {
		t.Error("entries not ordered newest first")
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, audit.DefaultListLimit},
		{-3, audit.DefaultListLimit},
		{10, 10},
		{500, audit.MaxListLimit},
	}
	for _, tt := range tests {
		if got := audit.ClampLimit(tt.in); got != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

type failingStore struct{ calls int }

func (f *failingStore) AppendAuditEntry(context.Context, *models.AuditLogEntry) error {
	f.calls++
	return errors.New("disk full")
}

func (f *failingStore) ListAuditEntries(context.Context, models.AuditQuery) ([]models.AuditLogEntry, error) {
	return nil, nil
}

func TestAppend_SwallowsWriteFailure(t *testing.T) {
	fs := &failingStore{}
	l := audit.New(fs, store.NewMemoryStore())

	// Must not panic or block.
	l.Append(context.Background(), &models.AuditLogEntry{Type: models.AuditToolCall})
	if fs.calls != 1 {
		t.Errorf("AppendAuditEntry calls = %d, want 1", fs.calls)
	}
}

func TestAppend_IgnoresCancelledContext(t *testing.T) {
	l, s, agentID := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l.Append(ctx, &models.AuditLogEntry{Type: models.AuditDataAccess, AgentID: agentID})

	got, _ := s.ListAuditEntries(context.Background(), models.AuditQuery{AgentID: agentID})
	if len(got) != 1 {
		t.Errorf("entries after cancelled append = %d, want 1", len(got))
	}
}

func TestWriteCSV(t *testing.T) {
	ts := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	entries := []models.AuditLogEntry{
		{Type: models.AuditToolCall, Source: models.SourceToolCall, ToolName: "query_collection", Success: true, DurationMs: 12, Timestamp: ts},
		{Type: models.AuditDataAccess, Source: models.SourcePostgreSQL, Collection: "sales_deals", Denied: true, Error: "agent does not belong to caller", Timestamp: ts},
	}

	var buf bytes.Buffer
	if err := audit.WriteCSV(&buf, entries); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("csv ReadAll() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3 (header + 2)", len(rows))
	}
	if rows[0][0] != "time" || rows[0][8] != "error" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][5] != "success" || rows[2][5] != "denied" {
		t.Errorf("status column = %q, %q", rows[1][5], rows[2][5])
	}
	if rows[1][0] != "2024-05-01T09:30:00Z" {
		t.Errorf("time column = %q", rows[1][0])
	}
}

func TestWriteJSON_EmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	if err := audit.WriteJSON(&buf, nil); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var out []interface{}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("output is not a JSON array: %v", err)
	}
	if out == nil || len(out) != 0 {
		t.Errorf("WriteJSON(nil) = %s, want []", buf.String())
	}
}
