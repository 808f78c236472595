// Package dataaccess is the secure data access layer. Every collection read
// made on behalf of an agent goes through Layer.Query, which enforces agent
// ownership, the collection and field allowlist, strict result projection
// and audit emission.
package dataaccess

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentoven/agentoven/data-agent/internal/apperr"
	"github.com/agentoven/agentoven/data-agent/internal/store"
	"github.com/agentoven/agentoven/data-agent/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("agentoven-data-agent/dataaccess")

const (
	DefaultLimit   = 50
	MaxLimit       = 200
	DefaultOrderBy = "createdAt"

	reasonNotOwner = "agent does not belong to caller"
)

// Auditor receives one entry per query attempt.
type Auditor interface {
	Append(ctx context.Context, entry *models.AuditLogEntry)
}

// Filter is one field predicate of a query.
type Filter struct {
	Field string         `json:"field"`
	Op    store.Operator `json:"op"`
	Value interface{}    `json:"value"`
}

// QueryRequest is a read of one collection on behalf of an agent.
type QueryRequest struct {
	CallerID   string
	AgentID    string
	Collection string
	Filters    []Filter
	Limit      int
	OrderBy    string
	Ascending  bool
}

// QueryResult holds projected rows only.
type QueryResult struct {
	Rows  []store.Document `json:"rows"`
	Count int              `json:"count"`
}

// AllowlistFunc resolves the allowlist of an agent.
type AllowlistFunc func(agent *models.Agent) []AllowedCollection

// Layer is the secure data access layer.
type Layer struct {
	agents    store.AgentStore
	docs      store.DocumentStore
	audit     Auditor
	schema    *Schema
	allowlist AllowlistFunc
	source    models.AuditSource
}

// Option configures a Layer.
type Option func(*Layer)

// WithAllowlist replaces schema-based allowlist resolution.
func WithAllowlist(fn AllowlistFunc) Option {
	return func(l *Layer) { l.allowlist = fn }
}

// WithSource sets the audit source recorded for agents without an external
// database connection.
func WithSource(src models.AuditSource) Option {
	return func(l *Layer) { l.source = src }
}

// NewLayer creates a Layer.
func NewLayer(agents store.AgentStore, docs store.DocumentStore, audit Auditor, schema *Schema, opts ...Option) *Layer {
	if schema == nil {
		schema = DefaultSchema()
	}
	l := &Layer{
		agents: agents,
		docs:   docs,
		audit:  audit,
		schema: schema,
		source: models.SourceAPI,
	}
	l.allowlist = schema.AllowedCollections
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Schema returns the static schema the layer resolves allowlists from.
func (l *Layer) Schema() *Schema { return l.schema }

// AllowedCollections returns the allowlist of an agent.
func (l *Layer) AllowedCollections(agent *models.Agent) []AllowedCollection {
	return l.allowlist(agent)
}

// Query runs req under the agent's allowlist. Exactly one audit entry is
// written for every call that resolves the agent.
func (l *Layer) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	ctx, span := tracer.Start(ctx, "dataaccess.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("agentoven.agent_id", req.AgentID),
		attribute.String("agentoven.collection", req.Collection),
		attribute.Int("agentoven.filters", len(req.Filters)),
	)

	start := time.Now()

	agent, err := l.agents.GetAgent(ctx, req.AgentID)
	if err != nil {
		span.SetStatus(codes.Error, "agent lookup failed")
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("agent %s not found", req.AgentID)
		}
		return nil, fmt.Errorf("load agent: %w", err)
	}

	entry := &models.AuditLogEntry{
		Type:       models.AuditDataAccess,
		UserID:     req.CallerID,
		AgentID:    req.AgentID,
		Source:     l.sourceFor(agent),
		Collection: req.Collection,
		Filters:    filterRefs(req.Filters),
	}
	deny := func(kind *apperr.Error) (*QueryResult, error) {
		kind.Refuse()
		entry.Denied = true
		entry.Error = kind.Message
		entry.DurationMs = time.Since(start).Milliseconds()
		l.audit.Append(ctx, entry)
		span.SetStatus(codes.Error, "denied")
		return nil, kind
	}

	if agent.OwnerID != req.CallerID {
		return deny(apperr.AccessDenied(reasonNotOwner))
	}

	allowed, ok := l.resolve(agent, req.Collection)
	if !ok {
		names := make([]string, 0, len(agent.Collections))
		for _, c := range l.allowlist(agent) {
			names = append(names, c.Name)
		}
		return deny(apperr.AccessDenied("collection %s is not allowed for this agent; allowed collections: %s",
			req.Collection, strings.Join(names, ", ")))
	}

	preds := make([]store.Predicate, 0, len(req.Filters))
	for _, f := range req.Filters {
		if !allowed.Allows(f.Field) {
			return deny(apperr.Validation("field %s is not allowed for collection %s; allowed fields: %s",
				f.Field, allowed.Name, strings.Join(allowed.Fields, ", ")))
		}
		if !f.Op.Valid() {
			return deny(apperr.Validation("unsupported operator %q on field %s", f.Op, f.Field))
		}
		preds = append(preds, store.Predicate{Field: f.Field, Op: f.Op, Value: f.Value})
	}

	orderBy := req.OrderBy
	if orderBy == "" {
		orderBy = DefaultOrderBy
		if !allowed.Allows(orderBy) {
			orderBy = ""
		}
	} else if !allowed.Allows(orderBy) {
		return deny(apperr.Validation("field %s is not allowed for collection %s; allowed fields: %s",
			orderBy, allowed.Name, strings.Join(allowed.Fields, ", ")))
	}

	docs, err := l.docs.QueryDocuments(ctx, store.DocumentQuery{
		Collection: allowed.Name,
		Predicates: preds,
		OrderBy:    orderBy,
		Descending: !req.Ascending,
		Limit:      clampLimit(req.Limit),
	})
	if err != nil {
		entry.Error = "query execution failed"
		entry.DurationMs = time.Since(start).Milliseconds()
		l.audit.Append(ctx, entry)
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("query %s: %w", allowed.Name, err)
	}

	rows := make([]store.Document, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, Project(d, allowed))
	}

	entry.Success = true
	entry.RowCount = len(rows)
	entry.DurationMs = time.Since(start).Milliseconds()
	l.audit.Append(ctx, entry)

	span.SetAttributes(attribute.Int("agentoven.rows", len(rows)))
	return &QueryResult{Rows: rows, Count: len(rows)}, nil
}

func (l *Layer) resolve(agent *models.Agent, collection string) (AllowedCollection, bool) {
	for _, c := range l.allowlist(agent) {
		if c.Name == collection {
			return c, true
		}
	}
	return AllowedCollection{}, false
}

func (l *Layer) sourceFor(agent *models.Agent) models.AuditSource {
	if agent.DatabaseConnection != nil && agent.DatabaseConnection.Type != "" {
		return models.AuditSource(agent.DatabaseConnection.Type)
	}
	return l.source
}

// Project copies only the id and allowlisted fields of doc.
func Project(doc store.Document, allowed AllowedCollection) store.Document {
	out := make(store.Document, len(allowed.Fields)+1)
	out[IDField] = doc.ID()
	for _, f := range allowed.Fields {
		if v, ok := doc[f]; ok && f != IDField {
			out[f] = v
		}
	}
	return out
}

func filterRefs(filters []Filter) []models.AuditFilterRef {
	if len(filters) == 0 {
		return nil
	}
	refs := make([]models.AuditFilterRef, len(filters))
	for i, f := range filters {
		refs[i] = models.AuditFilterRef{Field: f.Field, Op: string(f.Op)}
	}
	return refs
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}
