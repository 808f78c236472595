package store_test

import (
	"testing"
	"time"

	"github.com/agentoven/agentoven/data-agent/internal/store"
)

func TestMatch(t *testing.T) {
	doc := store.Document{
		"amount":   250.0,
		"status":   "approved",
		"date":     "2024-03-15",
		"closedAt": "2024-03-15T10:00:00Z",
		"active":   true,
	}

	tests := []struct {
		name  string
		preds []store.Predicate
		want  bool
	}{
		{"no predicates", nil, true},
		{"string equality", []store.Predicate{{Field: "status", Op: store.OpEq, Value: "approved"}}, true},
		{"string mismatch", []store.Predicate{{Field: "status", Op: store.OpEq, Value: "pending"}}, false},
		{"int against float", []store.Predicate{{Field: "amount", Op: store.OpEq, Value: 250}}, true},
		{"greater than", []store.Predicate{{Field: "amount", Op: store.OpGt, Value: 100}}, true},
		{"less than or equal", []store.Predicate{{Field: "amount", Op: store.OpLte, Value: 249.99}}, false},
		{"date range", []store.Predicate{
			{Field: "date", Op: store.OpGte, Value: "2024-03-01"},
			{Field: "date", Op: store.OpLte, Value: "2024-03-31"},
		}, true},
		{"time against string", []store.Predicate{
			{Field: "closedAt", Op: store.OpLt, Value: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		}, true},
		{"bool", []store.Predicate{{Field: "active", Op: store.OpEq, Value: true}}, true},
		{"missing field", []store.Predicate{{Field: "vendor", Op: store.OpEq, Value: "acme"}}, false},
		{"type mismatch on range", []store.Predicate{{Field: "status", Op: store.OpGt, Value: 5}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := store.Match(doc, tt.preds); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSortDocuments_MissingFieldLast(t *testing.T) {
	docs := []store.Document{
		{"id": "a"},
		{"id": "b", "value": 5.0},
		{"id": "c", "value": 20.0},
	}
	store.SortDocuments(docs, "value", true)
	if docs[0].ID() != "c" || docs[1].ID() != "b" || docs[2].ID() != "a" {
		t.Errorf("SortDocuments() order = [%s %s %s], want [c b a]", docs[0].ID(), docs[1].ID(), docs[2].ID())
	}
}

func TestOperatorValid(t *testing.T) {
	if !store.OpGte.Valid() {
		t.Error("OpGte.Valid() = false")
	}
	if store.Operator("!=").Valid() {
		t.Error(`Operator("!=").Valid() = true`)
	}
}
