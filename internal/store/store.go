// Package store provides the storage interfaces and implementations for the
// data agent engine. MemoryStore serves local development and tests;
// PostgresStore is the production backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentoven/agentoven/data-agent/pkg/models"
)

// Store is the primary storage interface. Services depend on the narrow
// per-entity interfaces below; wiring code passes a full Store.
type Store interface {
	AgentStore
	ConversationStore
	AuditStore
	DocumentStore

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate creates tables and indexes if they do not exist.
	Migrate(ctx context.Context) error
}

// ── Agent Store ─────────────────────────────────────────────

type AgentStore interface {
	ListAgents(ctx context.Context, ownerID string) ([]models.Agent, error)
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	CreateAgent(ctx context.Context, agent *models.Agent) error
	UpdateAgent(ctx context.Context, agent *models.Agent) error
	DeleteAgent(ctx context.Context, id string) error

	// RecordAgentQuery bumps the query counter and folds responseTime
	// into the running average. shortCircuited counts turns answered by
	// the cost gate.
	RecordAgentQuery(ctx context.Context, id string, responseTime time.Duration, shortCircuited bool) error
}

// ── Conversation Store ──────────────────────────────────────

type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, agentID, userID string, limit int) ([]models.Conversation, error)
	SetConversationTitle(ctx context.Context, id, title string) error

	// AppendMessage stores msg, increments the conversation's message
	// count and bumps its updated-at timestamp.
	AppendMessage(ctx context.Context, msg *models.Message) error

	// ListMessages returns the most recent limit messages, oldest first.
	// limit <= 0 returns the whole conversation.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

// ── Audit Store ─────────────────────────────────────────────

// AuditStore is append-only: entries are never updated or deleted.
type AuditStore interface {
	AppendAuditEntry(ctx context.Context, entry *models.AuditLogEntry) error

	// ListAuditEntries returns entries for q.AgentID, newest first.
	// Ownership scoping is the caller's job (see audit.Log).
	ListAuditEntries(ctx context.Context, q models.AuditQuery) ([]models.AuditLogEntry, error)
}

// ── Document Store ──────────────────────────────────────────

// Document is one record of a data collection. "id" is its identifier.
type Document map[string]interface{}

// ID returns the document identifier as a string.
func (d Document) ID() string {
	if v, ok := d["id"]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

// Operator is a supported predicate comparison.
type Operator string

const (
	OpEq  Operator = "=="
	OpGt  Operator = ">"
	OpGte Operator = ">="
	OpLt  Operator = "<"
	OpLte Operator = "<="
)

// Valid reports whether op is one of the supported operators.
func (op Operator) Valid() bool {
	switch op {
	case OpEq, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Predicate is a single field comparison.
type Predicate struct {
	Field string
	Op    Operator
	Value interface{}
}

// DocumentQuery selects documents from one collection.
type DocumentQuery struct {
	Collection string
	Predicates []Predicate
	OrderBy    string
	Descending bool
	Limit      int
}

// DocumentStore is a set of named collections queryable by predicates.
type DocumentStore interface {
	QueryDocuments(ctx context.Context, q DocumentQuery) ([]Document, error)
	PutDocument(ctx context.Context, collection string, doc Document) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when an entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// IsNotFound reports whether err is an *ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}
