package handlers

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/agentoven/agentoven/data-agent/internal/apperr"
	"github.com/agentoven/agentoven/data-agent/internal/audit"
	"github.com/agentoven/agentoven/data-agent/internal/store"
	pkgmw "github.com/agentoven/agentoven/data-agent/pkg/middleware"
	"github.com/agentoven/agentoven/data-agent/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const (
	defaultConversationLimit = 50
	defaultMessageLimit      = 200
)

// ══════════════════════════════════════════════════════════════
// ── Chat ─────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// PostChat runs one chat turn. Errors carry fixed messages only.
func (h *Handlers) PostChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, apperr.MsgValidation)
		return
	}

	resp, err := h.Chat.Chat(r.Context(), pkgmw.CallerID(r.Context()), &req)
	if err != nil {
		log.Warn().Err(err).Str("agent", req.AgentID).Msg("Chat turn failed")
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ══════════════════════════════════════════════════════════════
// ── Conversations ────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ListConversations returns the caller's conversations with an agent, most
// recently updated first.
func (h *Handlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.ownedAgent(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r, defaultConversationLimit, 200)
	if err != nil {
		respondAppError(w, err)
		return
	}
	convs, err := h.Conversations.ListConversations(r.Context(), agent.ID, agent.OwnerID, limit)
	if err != nil {
		respondAppError(w, err)
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	respondJSON(w, http.StatusOK, convs)
}

// ListMessages returns a conversation's messages oldest first.
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	caller := pkgmw.CallerID(r.Context())
	if caller == "" {
		respondAppError(w, apperr.AccessDenied("caller identity is required"))
		return
	}
	conv, err := h.Conversations.GetConversation(r.Context(), chi.URLParam(r, "conversationId"))
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		respondAppError(w, err)
		return
	}
	if conv.UserID != caller {
		respondAppError(w, apperr.AccessDenied("conversation does not belong to caller"))
		return
	}

	limit, err := queryLimit(r, defaultMessageLimit, 1000)
	if err != nil {
		respondAppError(w, err)
		return
	}
	msgs, err := h.Conversations.ListMessages(r.Context(), conv.ID, limit)
	if err != nil {
		respondAppError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"conversation": conv,
		"messages":     msgs,
	})
}

// ══════════════════════════════════════════════════════════════
// ── Audit ────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ListAuditEntries serves the audit trail of an agent, newest first.
//
//	GET /api/v1/agents/{agentId}/audit?type=&from=&to=&limit=&format=json|csv
//
// Callers that do not own the agent get an empty list.
func (h *Handlers) ListAuditEntries(w http.ResponseWriter, r *http.Request) {
	caller := pkgmw.CallerID(r.Context())
	if caller == "" {
		respondAppError(w, apperr.AccessDenied("caller identity is required"))
		return
	}

	q, format, err := parseAuditQuery(r)
	if err != nil {
		respondAppError(w, err)
		return
	}
	q.AgentID = chi.URLParam(r, "agentId")
	q.CallerID = caller

	entries, err := h.Audit.List(r.Context(), q)
	if err != nil {
		respondAppError(w, err)
		return
	}

	var buf bytes.Buffer
	if format == "csv" {
		if err := audit.WriteCSV(&buf, entries); err != nil {
			respondAppError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="audit-`+q.AgentID+`.csv"`)
	} else {
		if err := audit.WriteJSON(&buf, entries); err != nil {
			respondAppError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func parseAuditQuery(r *http.Request) (models.AuditQuery, string, error) {
	v := r.URL.Query()
	var q models.AuditQuery

	switch t := models.AuditType(v.Get("type")); t {
	case "":
	case models.AuditDataAccess, models.AuditToolCall:
		q.Type = t
	default:
		return q, "", apperr.Validation("type must be data_access or tool_call")
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &q.Since}, {"to", &q.Until}} {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, "", apperr.Validation("%s must be an RFC 3339 timestamp", p.name)
		}
		*p.dst = &ts
	}

	limit, err := queryLimit(r, audit.DefaultListLimit, audit.MaxListLimit)
	if err != nil {
		return q, "", err
	}
	q.Limit = limit

	format := v.Get("format")
	switch format {
	case "", "json":
		format = "json"
	case "csv":
	default:
		return q, "", apperr.Validation("format must be json or csv")
	}
	return q, format, nil
}

// queryLimit parses ?limit= in [1, upper]. Absent means fallback.
func queryLimit(r *http.Request, fallback, upper int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > upper {
		return 0, apperr.Validation("limit must be between 1 and %d", upper)
	}
	return n, nil
}
