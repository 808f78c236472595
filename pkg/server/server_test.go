package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentoven/agentoven/data-agent/internal/store"
	"github.com/agentoven/agentoven/data-agent/pkg/server"
)

const seedYAML = `
agents:
  - id: sales-analyst
    name: Sales analyst
    owner_id: alice
    collections: [sales_deals]
documents:
  sales_deals:
    - {id: d1, name: Acme, value: 12000, stage: won}
    - {id: d2, name: Globex, value: 800, stage: open}
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestSeed(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	ctx := context.Background()
	path := writeSeed(t, seedYAML)

	// Seeding twice replaces instead of failing.
	for i := 0; i < 2; i++ {
		if err := server.Seed(ctx, s, path); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}
	}

	agent, err := s.GetAgent(ctx, "sales-analyst")
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if agent.OwnerID != "alice" || len(agent.Collections) != 1 {
		t.Errorf("agent = %+v", agent)
	}
	if !agent.Agentic.CostOptimization.Enabled {
		t.Error("seeded agent lost default cost optimization")
	}

	docs, err := s.QueryDocuments(ctx, store.DocumentQuery{Collection: "sales_deals"})
	if err != nil {
		t.Fatalf("QueryDocuments() error = %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("documents = %d, want 2", len(docs))
	}

	if err := server.Seed(ctx, s, writeSeed(t, "agents:\n  - name: nameless\n")); err == nil {
		t.Error("Seed(agent without id) error = nil")
	}
}

func TestNewWithConfig(t *testing.T) {
	t.Setenv("AGENTOVEN_STORE", "memory")
	t.Setenv("AGENTOVEN_DATA_DIR", "")
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("AGENTOVEN_API_KEYS", "k1=alice")
	t.Setenv("AGENTOVEN_SEED_FILE", writeSeed(t, seedYAML))
	t.Setenv("AGENTOVEN_TOOLS_FILE", "")
	t.Setenv("AGENTOVEN_SCHEMA_FILE", "")

	srv, err := server.NewWithConfig(context.Background(), &server.Config{Port: 9999, Version: "1.2.3"})
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	defer srv.Store.Close()

	if srv.Port != 9999 {
		t.Errorf("Port = %d, want 9999", srv.Port)
	}

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	if !strings.Contains(w.Body.String(), "1.2.3") {
		t.Errorf("/version = %s", w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/sales-analyst/tools", nil)
	req.Header.Set("X-API-Key", "k1")
	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("tools: status = %d, body = %s", w.Code, w.Body.String())
	}
	for _, name := range []string{"query_collection", "analyze_data", "get_collection_schema"} {
		if !strings.Contains(w.Body.String(), name) {
			t.Errorf("tool catalog missing %s: %s", name, w.Body.String())
		}
	}
}
