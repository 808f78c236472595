// Package contracts defines the service interfaces of the data agent engine.
//
// The HTTP handlers and the chat orchestrator depend on these interfaces
// rather than on concrete types, so a component (model router, tool
// registry, chat pipeline) can be swapped in the wiring code without
// touching its callers.
package contracts

import (
	"context"

	"github.com/agentoven/agentoven/data-agent/internal/store"
	"github.com/agentoven/agentoven/data-agent/internal/tools"
	"github.com/agentoven/agentoven/data-agent/pkg/models"
)

// Store is a type alias for the internal Store interface.
type Store = store.Store

// ErrNotFound is a type alias for the internal ErrNotFound error.
type ErrNotFound = store.ErrNotFound

// ── Model Client ────────────────────────────────────────────

// ModelClient completes a chat, optionally offering tool specs.
// Implementation: internal/router.ModelRouter
type ModelClient interface {
	Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error)
}

// ── Provider Driver ─────────────────────────────────────────

// ProviderDriver is the interface for model provider integrations.
// Built in: OpenAI, Azure OpenAI, Anthropic, Ollama.
//
// Drivers are registered in the Model Router via RegisterDriver().
type ProviderDriver interface {
	// Kind returns the provider identifier (e.g., "openai", "anthropic").
	Kind() string

	// Call sends a chat completion request to the provider.
	Call(ctx context.Context, provider *models.ModelProvider, req *models.CompletionRequest) (*models.CompletionResponse, error)
}

// ── Tool Invoker ────────────────────────────────────────────

// ToolInvoker runs a registered tool on behalf of an agent. Every call,
// allowed or not, produces a tool_call audit entry.
// Implementation: internal/tools.Registry
type ToolInvoker interface {
	Invoke(ctx context.Context, call tools.Call, name string, args map[string]interface{}) (*tools.Result, error)
	InvokeJSON(ctx context.Context, call tools.Call, name, rawArgs string) (*tools.Result, error)
	Catalog(agent *models.Agent) []models.ToolDefinition
}

// ── Chat Service ────────────────────────────────────────────

// ChatService serves one chat turn for an authenticated caller.
// Implementation: internal/orchestrator.Orchestrator
type ChatService interface {
	Chat(ctx context.Context, callerID string, req *models.ChatRequest) (*models.ChatResponse, error)
}
