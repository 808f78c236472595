// Package handlers implements the HTTP handlers of the data agent engine.
// Every handler resolves the caller from the request identity and scopes
// reads and writes to agents the caller owns.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/agentoven/agentoven/data-agent/internal/apperr"
	"github.com/agentoven/agentoven/data-agent/internal/audit"
	"github.com/agentoven/agentoven/data-agent/internal/costgate"
	"github.com/agentoven/agentoven/data-agent/internal/router"
	"github.com/agentoven/agentoven/data-agent/internal/store"
	"github.com/agentoven/agentoven/data-agent/internal/workflow"
	"github.com/agentoven/agentoven/data-agent/pkg/contracts"
	pkgmw "github.com/agentoven/agentoven/data-agent/pkg/middleware"
	"github.com/agentoven/agentoven/data-agent/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Handlers holds all handler dependencies.
type Handlers struct {
	Agents        store.AgentStore
	Conversations store.ConversationStore
	Audit         *audit.Log
	Chat          contracts.ChatService
	Tools         contracts.ToolInvoker
	Router        *router.ModelRouter
}

// New creates a Handlers instance.
func New(agents store.AgentStore, conversations store.ConversationStore, auditLog *audit.Log,
	chat contracts.ChatService, tools contracts.ToolInvoker, mr *router.ModelRouter) *Handlers {
	return &Handlers{
		Agents:        agents,
		Conversations: conversations,
		Audit:         auditLog,
		Chat:          chat,
		Tools:         tools,
		Router:        mr,
	}
}

// ══════════════════════════════════════════════════════════════
// ── Agent Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	caller := pkgmw.CallerID(r.Context())
	if caller == "" {
		respondAppError(w, apperr.AccessDenied("caller identity is required"))
		return
	}
	agents, err := h.Agents.ListAgents(r.Context(), caller)
	if err != nil {
		respondAppError(w, err)
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	respondJSON(w, http.StatusOK, agents)
}

func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	caller := pkgmw.CallerID(r.Context())
	if caller == "" {
		respondAppError(w, apperr.AccessDenied("caller identity is required"))
		return
	}

	var agent models.Agent
	if err := decodeBody(w, r, &agent); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := checkAgent(&agent); err != nil {
		respondAppError(w, err)
		return
	}

	now := time.Now().UTC()
	agent.ID = uuid.New().String()
	agent.OwnerID = caller
	agent.Stats = models.AgentStats{}
	agent.CreatedAt = now
	agent.UpdatedAt = now

	if err := h.Agents.CreateAgent(r.Context(), &agent); err != nil {
		respondAppError(w, err)
		return
	}

	log.Info().Str("agent", agent.Name).Str("id", agent.ID).Str("owner", caller).Msg("Agent created")
	respondJSON(w, http.StatusCreated, agent)
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.ownedAgent(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

// UpdateAgent replaces the agent configuration. Identity, ownership,
// statistics and creation time are kept.
func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.ownedAgent(w, r)
	if !ok {
		return
	}

	var agent models.Agent
	if err := decodeBody(w, r, &agent); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := checkAgent(&agent); err != nil {
		respondAppError(w, err)
		return
	}

	agent.ID = existing.ID
	agent.OwnerID = existing.OwnerID
	agent.Stats = existing.Stats
	agent.CreatedAt = existing.CreatedAt
	agent.UpdatedAt = time.Now().UTC()

	if err := h.Agents.UpdateAgent(r.Context(), &agent); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.ownedAgent(w, r)
	if !ok {
		return
	}
	if err := h.Agents.DeleteAgent(r.Context(), agent.ID); err != nil {
		respondAppError(w, err)
		return
	}

	log.Info().Str("agent", agent.Name).Str("id", agent.ID).Msg("Agent deleted")
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": agent.ID})
}

// GetAgentStats returns query analytics and the estimated saving of the
// cost-control gate.
func (h *Handlers) GetAgentStats(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.ownedAgent(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"agent_id": agent.ID,
		"stats":    agent.Stats,
		"savings":  costgate.EstimateSavings(agent.Stats.QueryCount, agent.Stats.ShortCircuitCount),
	})
}

// ListAgentTools returns the tool catalog the planning model sees for this agent.
func (h *Handlers) ListAgentTools(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.ownedAgent(w, r)
	if !ok {
		return
	}
	defs := h.Tools.Catalog(agent)
	if defs == nil {
		defs = []models.ToolDefinition{}
	}
	respondJSON(w, http.StatusOK, defs)
}

// ── Workflow ─────────────────────────────────────────────────

// SaveWorkflow validates and stores the agent's workflow graph.
func (h *Handlers) SaveWorkflow(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.ownedAgent(w, r)
	if !ok {
		return
	}

	var graph models.WorkflowGraph
	if err := decodeBody(w, r, &graph); err != nil {
		respondJSON(w, http.StatusBadRequest, validationReport(err))
		return
	}
	if err := workflow.Validate(&graph); err != nil {
		respondJSON(w, http.StatusBadRequest, validationReport(err))
		return
	}

	agent.Workflow = &graph
	agent.UpdatedAt = time.Now().UTC()
	if err := h.Agents.UpdateAgent(r.Context(), agent); err != nil {
		respondAppError(w, err)
		return
	}

	log.Info().Str("agent", agent.ID).Int("nodes", len(graph.Nodes)).Msg("Workflow saved")
	respondJSON(w, http.StatusOK, agent)
}

// DeleteWorkflow detaches the workflow; chats fall back to the tool loop.
func (h *Handlers) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.ownedAgent(w, r)
	if !ok {
		return
	}
	agent.Workflow = nil
	agent.UpdatedAt = time.Now().UTC()
	if err := h.Agents.UpdateAgent(r.Context(), agent); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

// ValidateWorkflow checks a graph without saving it.
func (h *Handlers) ValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	var graph models.WorkflowGraph
	if err := decodeBody(w, r, &graph); err != nil {
		respondJSON(w, http.StatusOK, validationReport(err))
		return
	}
	respondJSON(w, http.StatusOK, validationReport(workflow.Validate(&graph)))
}

type validationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

func validationReport(err error) validationResult {
	if err == nil {
		return validationResult{Valid: true, Errors: []string{}}
	}
	var ve *workflow.ValidationError
	if errors.As(err, &ve) {
		return validationResult{Errors: ve.Problems}
	}
	return validationResult{Errors: []string{err.Error()}}
}

// ══════════════════════════════════════════════════════════════
// ── Model Router Handlers ────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers := h.Router.Providers()
	masked := make([]models.ModelProvider, len(providers))
	for i, p := range providers {
		cp := p
		masked[i] = *maskProviderKeys(&cp)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"providers":  masked,
		"drivers":    h.Router.ListDrivers(),
		"latency_ms": h.Router.Latencies(),
	})
}

func (h *Handlers) GetCostSummary(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Router.GetCostSummary())
}

// ── Helpers ──────────────────────────────────────────────────

// ownedAgent loads the {agentId} agent and checks the caller owns it.
// It writes the error response itself and reports whether to continue.
func (h *Handlers) ownedAgent(w http.ResponseWriter, r *http.Request) (*models.Agent, bool) {
	caller := pkgmw.CallerID(r.Context())
	if caller == "" {
		respondAppError(w, apperr.AccessDenied("caller identity is required"))
		return nil, false
	}
	agent, err := h.Agents.GetAgent(r.Context(), chi.URLParam(r, "agentId"))
	if err != nil {
		if store.IsNotFound(err) {
			err = apperr.NotFound("agent not found")
		}
		respondAppError(w, err)
		return nil, false
	}
	if agent.OwnerID != caller {
		respondAppError(w, apperr.AccessDenied("agent not owned by caller"))
		return nil, false
	}
	return agent, true
}

// checkAgent normalizes a decoded agent and rejects unusable configurations.
func checkAgent(agent *models.Agent) error {
	agent.Name = strings.TrimSpace(agent.Name)
	if agent.Name == "" {
		return apperr.Validation("agent name is required")
	}
	agent.Normalize()
	if agent.Workflow != nil {
		if err := workflow.Validate(agent.Workflow); err != nil {
			return err
		}
	}
	return nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondAppError maps err onto its fixed public status and message.
// Validation errors also carry their message, which is built from field
// and collection names only.
func respondAppError(w http.ResponseWriter, err error) {
	status, message := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	} else {
		log.Debug().Err(err).Msg("Request rejected")
	}

	body := map[string]string{"error": message}
	var ae *apperr.Error
	var ve *workflow.ValidationError
	switch {
	case errors.As(err, &ve):
		body["details"] = ve.Error()
	case errors.Is(err, apperr.ErrValidation) && errors.As(err, &ae):
		body["details"] = ae.Message
	}
	respondJSON(w, status, body)
}

// maskProviderKeys redacts sensitive fields (api_key, api_secret) in provider
// config before returning to API consumers.
func maskProviderKeys(p *models.ModelProvider) *models.ModelProvider {
	if p.Config == nil {
		return p
	}
	cp := *p
	cp.Config = make(map[string]interface{}, len(p.Config))
	for k, v := range p.Config {
		cp.Config[k] = v
	}
	for _, key := range []string{"api_key", "api_secret"} {
		if val, ok := cp.Config[key].(string); ok && len(val) > 4 {
			cp.Config[key] = val[:4] + "****"
		} else if ok {
			cp.Config[key] = "****"
		}
	}
	return &cp
}
