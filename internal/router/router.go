// Package router implements the Model Router.
//
// The router picks a configured provider for each completion, hands the
// request to the driver registered for the provider's kind, tracks
// estimated cost, and fails over to the next candidate when a provider
// errors.
package router

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/agentoven/agentoven/data-agent/pkg/contracts"
	"github.com/agentoven/agentoven/data-agent/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("agentoven-data-agent/router")

// ModelRouter routes completion requests to configured providers.
type ModelRouter struct {
	client *http.Client

	mu        sync.RWMutex
	providers []models.ModelProvider
	drivers   map[string]contracts.ProviderDriver

	// Latency tracking: provider name → rolling avg ms
	latencyMu sync.RWMutex
	latencies map[string]int64

	costMu sync.Mutex
	costs  models.CostSummary
}

// NewModelRouter creates a router over providers with the built-in
// OpenAI, Azure OpenAI, Anthropic and Ollama drivers registered.
func NewModelRouter(providers []models.ModelProvider, timeout time.Duration) *ModelRouter {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	mr := &ModelRouter{
		client:    &http.Client{Timeout: timeout},
		providers: append([]models.ModelProvider(nil), providers...),
		drivers:   make(map[string]contracts.ProviderDriver),
		latencies: make(map[string]int64),
		costs:     newCostSummary(),
	}
	mr.RegisterDriver(&OpenAIDriver{client: mr.client})
	mr.RegisterDriver(&OpenAIDriver{client: mr.client, azure: true})
	mr.RegisterDriver(&AnthropicDriver{client: mr.client})
	mr.RegisterDriver(&OllamaDriver{client: mr.client})
	return mr
}

// ── Driver Registry ─────────────────────────────────────────

// RegisterDriver adds or replaces the driver for d.Kind().
func (mr *ModelRouter) RegisterDriver(d contracts.ProviderDriver) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.drivers[d.Kind()] = d
}

// GetDriver returns the driver for kind, or nil.
func (mr *ModelRouter) GetDriver(kind string) contracts.ProviderDriver {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.drivers[kind]
}

// ListDrivers returns the registered driver kinds, sorted.
func (mr *ModelRouter) ListDrivers() []string {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	kinds := make([]string, 0, len(mr.drivers))
	for k := range mr.drivers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Providers returns the configured providers.
func (mr *ModelRouter) Providers() []models.ModelProvider {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return append([]models.ModelProvider(nil), mr.providers...)
}

// ── Routing ─────────────────────────────────────────────────

// Complete sends req to the best matching provider, failing over to the
// remaining candidates in order.
func (mr *ModelRouter) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	ctx, span := tracer.Start(ctx, "router.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.tools", len(req.Tools)),
		attribute.Int("llm.messages", len(req.Messages)),
	)

	candidates := mr.candidates(req.Provider, req.Model)
	if len(candidates) == 0 {
		err := fmt.Errorf("no model providers configured")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var lastErr error
	for i := range candidates {
		provider := &candidates[i]
		resp, err := mr.callProvider(ctx, provider, req)
		if err != nil {
			log.Warn().
				Str("provider", provider.Name).
				Str("model", req.Model).
				Err(err).
				Msg("Provider call failed, trying next")
			lastErr = err
			continue
		}
		mr.trackCost(req.AgentID, resp)
		span.SetAttributes(
			attribute.String("llm.provider", resp.Provider),
			attribute.Int64("llm.total_tokens", resp.Usage.TotalTokens),
			attribute.Int("llm.tool_calls", len(resp.ToolCalls)),
		)
		return resp, nil
	}

	span.SetStatus(codes.Error, lastErr.Error())
	return nil, fmt.Errorf("all providers failed, last error: %w", lastErr)
}

// candidates orders providers for a request. A named provider (by name or
// kind) restricts the set; providers listing the model come first, then
// defaults, then by name.
func (mr *ModelRouter) candidates(name, model string) []models.ModelProvider {
	mr.mu.RLock()
	providers := append([]models.ModelProvider(nil), mr.providers...)
	mr.mu.RUnlock()

	if name != "" {
		var named []models.ModelProvider
		for _, p := range providers {
			if p.Name == name || p.Kind == name {
				named = append(named, p)
			}
		}
		providers = named
	}

	lists := func(p models.ModelProvider) bool {
		for _, m := range p.Models {
			if m == model {
				return true
			}
		}
		return false
	}
	sort.SliceStable(providers, func(i, j int) bool {
		li, lj := lists(providers[i]), lists(providers[j])
		if li != lj {
			return li
		}
		if providers[i].IsDefault != providers[j].IsDefault {
			return providers[i].IsDefault
		}
		return providers[i].Name < providers[j].Name
	})
	return providers
}

// callProvider sends the request to a specific provider.
func (mr *ModelRouter) callProvider(ctx context.Context, provider *models.ModelProvider, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	driver := mr.GetDriver(provider.Kind)
	if driver == nil {
		// Unknown kinds are treated as OpenAI-compatible endpoints.
		driver = mr.GetDriver("openai")
	}

	call := *req
	if call.Model == "" && len(provider.Models) > 0 {
		call.Model = provider.Models[0]
	}

	start := time.Now()
	resp, err := driver.Call(ctx, provider, &call)
	if err != nil {
		return nil, err
	}

	latencyMs := time.Since(start).Milliseconds()
	resp.LatencyMs = latencyMs
	resp.Provider = provider.Name
	if resp.Model == "" {
		resp.Model = call.Model
	}
	resp.Usage.EstimatedCost = estimateCost(provider, resp.Model, resp.Usage)

	mr.latencyMu.Lock()
	prev := mr.latencies[provider.Name]
	if prev == 0 {
		mr.latencies[provider.Name] = latencyMs
	} else {
		// Exponential moving average
		mr.latencies[provider.Name] = (prev*7 + latencyMs*3) / 10
	}
	mr.latencyMu.Unlock()

	return resp, nil
}

// Latencies returns the rolling average latency per provider in ms.
func (mr *ModelRouter) Latencies() map[string]int64 {
	mr.latencyMu.RLock()
	defer mr.latencyMu.RUnlock()
	out := make(map[string]int64, len(mr.latencies))
	for k, v := range mr.latencies {
		out[k] = v
	}
	return out
}

// ── Cost Tracking ───────────────────────────────────────────

func newCostSummary() models.CostSummary {
	return models.CostSummary{
		ByAgent:    make(map[string]float64),
		ByModel:    make(map[string]float64),
		ByProvider: make(map[string]float64),
	}
}

func (mr *ModelRouter) trackCost(agentID string, resp *models.CompletionResponse) {
	mr.costMu.Lock()
	defer mr.costMu.Unlock()

	cost := resp.Usage.EstimatedCost
	mr.costs.TotalCostUSD += cost
	mr.costs.TotalTokens += resp.Usage.TotalTokens
	mr.costs.Requests++
	if agentID != "" {
		mr.costs.ByAgent[agentID] += cost
	}
	mr.costs.ByModel[resp.Model] += cost
	mr.costs.ByProvider[resp.Provider] += cost
}

// GetCostSummary returns a copy of the accumulated cost summary.
func (mr *ModelRouter) GetCostSummary() models.CostSummary {
	mr.costMu.Lock()
	defer mr.costMu.Unlock()

	out := newCostSummary()
	out.TotalCostUSD = mr.costs.TotalCostUSD
	out.TotalTokens = mr.costs.TotalTokens
	out.Requests = mr.costs.Requests
	for k, v := range mr.costs.ByAgent {
		out.ByAgent[k] = v
	}
	for k, v := range mr.costs.ByModel {
		out.ByModel[k] = v
	}
	for k, v := range mr.costs.ByProvider {
		out.ByProvider[k] = v
	}
	return out
}

// ── Cost Helpers ────────────────────────────────────────────

// Known cost per 1K tokens (USD)
var defaultCosts = map[string]map[string]float64{
	"gpt-4o":                    {"input": 0.0025, "output": 0.01},
	"gpt-4o-mini":               {"input": 0.00015, "output": 0.0006},
	"gpt-4-turbo":               {"input": 0.01, "output": 0.03},
	"gpt-3.5-turbo":             {"input": 0.0005, "output": 0.0015},
	"claude-sonnet-4-20250514":  {"input": 0.003, "output": 0.015},
	"claude-3-5-haiku-20241022": {"input": 0.001, "output": 0.005},
}

func modelCost(provider *models.ModelProvider, model, direction string) float64 {
	if v, ok := provider.Config["cost_per_1k_"+direction].(float64); ok {
		return v
	}
	if costs, ok := defaultCosts[model]; ok {
		return costs[direction]
	}
	if provider.Kind == "ollama" {
		return 0
	}
	return 0.001
}

func estimateCost(provider *models.ModelProvider, model string, u models.TokenUsage) float64 {
	return float64(u.InputTokens)/1000*modelCost(provider, model, "input") +
		float64(u.OutputTokens)/1000*modelCost(provider, model, "output")
}
