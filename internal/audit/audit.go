// Package audit records every data-access and tool-call attempt and serves
// owner-scoped listings of the trail.
package audit

import (
	"context"
	"time"

	"github.com/agentoven/agentoven/data-agent/internal/store"
	"github.com/agentoven/agentoven/data-agent/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Log is the audit trail service. Writes never fail the caller.
type Log struct {
	entries store.AuditStore
	agents  store.AgentStore
}

// New creates an audit Log backed by the given stores.
func New(entries store.AuditStore, agents store.AgentStore) *Log {
	return &Log{entries: entries, agents: agents}
}

// Append writes entry. Failures are logged at warn level and swallowed.
// The write ignores ctx cancellation.
func (l *Log) Append(ctx context.Context, entry *models.AuditLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := l.entries.AppendAuditEntry(context.WithoutCancel(ctx), entry); err != nil {
		log.Warn().Err(err).
			Str("agent_id", entry.AgentID).
			Str("type", string(entry.Type)).
			Msg("Failed to write audit entry")
	}
}

// List returns entries for q.AgentID newest first, but only when the agent
// is owned by q.CallerID. Any other caller gets an empty list, whether the
// agent exists or not.
func (l *Log) List(ctx context.Context, q models.AuditQuery) ([]models.AuditLogEntry, error) {
	if q.CallerID == "" || q.AgentID == "" {
		return []models.AuditLogEntry{}, nil
	}
	agent, err := l.agents.GetAgent(ctx, q.AgentID)
	if err != nil {
		if store.IsNotFound(err) {
			return []models.AuditLogEntry{}, nil
		}
		return nil, err
	}
	if agent.OwnerID != q.CallerID {
		return []models.AuditLogEntry{}, nil
	}

	q.Limit = ClampLimit(q.Limit)
	return l.entries.ListAuditEntries(ctx, q)
}

// ClampLimit applies the listing default and upper bound.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}
