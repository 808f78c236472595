package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/agentoven/agentoven/data-agent/pkg/models"
	"github.com/google/uuid"
)

const defaultAzureAPIVersion = "2024-06-01"

// postJSON sends body to url and decodes a 200 response into out.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 2048))
		return fmt.Errorf("status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ── OpenAI / Azure OpenAI Provider ──────────────────────────

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIFunction struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	Parameters  *models.ParameterSchema `json:"parameters,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIRequest struct {
	Model       string          `json:"model,omitempty"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	User        string          `json:"user,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func toOpenAIRequest(req *models.CompletionRequest) openAIRequest {
	out := openAIRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		User:        req.User,
	}
	for _, m := range req.Messages {
		msg := openAIMessage{Role: string(m.Role), ToolCallID: m.ToolCallID, Name: m.Name}
		if m.Content != "" || len(m.ToolCalls) == 0 {
			content := m.Content
			msg.Content = &content
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openAIToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: openAIFunctionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		out.Messages = append(out.Messages, msg)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openAITool{
			Type:     "function",
			Function: openAIFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	if len(out.Tools) > 0 {
		out.ToolChoice = "auto"
	}
	return out
}

func fromOpenAIResponse(r *openAIResponse) *models.CompletionResponse {
	resp := &models.CompletionResponse{
		ID:    r.ID,
		Model: r.Model,
		Usage: models.TokenUsage{
			InputTokens:  r.Usage.PromptTokens,
			OutputTokens: r.Usage.CompletionTokens,
			TotalTokens:  r.Usage.TotalTokens,
		},
	}
	if len(r.Choices) == 0 {
		return resp
	}
	msg := r.Choices[0].Message
	if msg.Content != nil {
		resp.Content = *msg.Content
	}
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp
}

// OpenAIDriver talks to the OpenAI chat completions API, or to an Azure
// OpenAI deployment when azure is set.
type OpenAIDriver struct {
	client *http.Client
	azure  bool
}

func (d *OpenAIDriver) Kind() string {
	if d.azure {
		return "azure-openai"
	}
	return "openai"
}

func (d *OpenAIDriver) Call(ctx context.Context, provider *models.ModelProvider, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	if provider.APIKey == "" {
		return nil, fmt.Errorf("%s: api key not configured for provider %s", d.Kind(), provider.Name)
	}

	var endpoint string
	headers := map[string]string{}
	if d.azure {
		if provider.Endpoint == "" {
			return nil, fmt.Errorf("azure-openai: endpoint not configured for provider %s", provider.Name)
		}
		deployment := req.Model
		if dep, ok := provider.Config["deployment"].(string); ok && dep != "" {
			deployment = dep
		}
		version := provider.APIVersion
		if version == "" {
			version = defaultAzureAPIVersion
		}
		endpoint = strings.TrimRight(provider.Endpoint, "/") + "/openai/deployments/" +
			url.PathEscape(deployment) + "/chat/completions?api-version=" + url.QueryEscape(version)
		headers["api-key"] = provider.APIKey
	} else {
		base := provider.Endpoint
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		endpoint = strings.TrimRight(base, "/") + "/chat/completions"
		headers["Authorization"] = "Bearer " + provider.APIKey
	}

	var oaiResp openAIResponse
	if err := postJSON(ctx, d.client, endpoint, headers, toOpenAIRequest(req), &oaiResp); err != nil {
		return nil, fmt.Errorf("%s: %w", d.Kind(), err)
	}
	resp := fromOpenAIResponse(&oaiResp)
	if d.azure || resp.Model == "" {
		resp.Model = req.Model
	}
	return resp, nil
}

// ── Ollama Provider ─────────────────────────────────────────

// OllamaDriver uses Ollama's OpenAI-compatible endpoint. No auth.
type OllamaDriver struct {
	client *http.Client
}

func (d *OllamaDriver) Kind() string { return "ollama" }

func (d *OllamaDriver) Call(ctx context.Context, provider *models.ModelProvider, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	endpoint := provider.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}

	var oaiResp openAIResponse
	if err := postJSON(ctx, d.client, strings.TrimRight(endpoint, "/")+"/v1/chat/completions", nil, toOpenAIRequest(req), &oaiResp); err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	resp := fromOpenAIResponse(&oaiResp)
	if resp.ID == "" {
		resp.ID = uuid.New().String()
	}
	return resp, nil
}

// ── Anthropic Provider ──────────────────────────────────────

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicTool struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	InputSchema *models.ParameterSchema `json:"input_schema"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicResponse struct {
	ID      string           `json:"id"`
	Model   string           `json:"model"`
	Content []anthropicBlock `json:"content"`
	Usage   struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func toAnthropicRequest(req *models.CompletionRequest) anthropicRequest {
	out := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 4096
	}

	var system []string
	toolResults := false // last message holds tool results
	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleSystem:
			system = append(system, m.Content)
		case models.RoleTool:
			block := anthropicBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content}
			if toolResults {
				last := &out.Messages[len(out.Messages)-1]
				last.Content = append(last.Content, block)
				continue
			}
			out.Messages = append(out.Messages, anthropicMessage{Role: "user", Content: []anthropicBlock{block}})
			toolResults = true
		default:
			msg := anthropicMessage{Role: string(m.Role)}
			if m.Content != "" {
				msg.Content = append(msg.Content, anthropicBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				msg.Content = append(msg.Content, anthropicBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			if len(msg.Content) == 0 {
				msg.Content = []anthropicBlock{{Type: "text", Text: " "}}
			}
			out.Messages = append(out.Messages, msg)
			toolResults = false
		}
	}
	out.System = strings.Join(system, "\n\n")

	for _, t := range req.Tools {
		schema := t.Parameters
		if schema == nil {
			schema = &models.ParameterSchema{Type: "object"}
		}
		out.Tools = append(out.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return out
}

// AnthropicDriver talks to the Anthropic messages API.
type AnthropicDriver struct {
	client *http.Client
}

func (d *AnthropicDriver) Kind() string { return "anthropic" }

func (d *AnthropicDriver) Call(ctx context.Context, provider *models.ModelProvider, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	endpoint := provider.Endpoint
	if endpoint == "" {
		endpoint = "https://api.anthropic.com"
	}
	if provider.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key not configured for provider %s", provider.Name)
	}

	headers := map[string]string{
		"x-api-key":         provider.APIKey,
		"anthropic-version": "2023-06-01",
	}
	var anthResp anthropicResponse
	if err := postJSON(ctx, d.client, strings.TrimRight(endpoint, "/")+"/v1/messages", headers, toAnthropicRequest(req), &anthResp); err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	resp := &models.CompletionResponse{
		ID:    anthResp.ID,
		Model: anthResp.Model,
		Usage: models.TokenUsage{
			InputTokens:  anthResp.Usage.InputTokens,
			OutputTokens: anthResp.Usage.OutputTokens,
			TotalTokens:  anthResp.Usage.InputTokens + anthResp.Usage.OutputTokens,
		},
	}
	for _, c := range anthResp.Content {
		switch c.Type {
		case "text":
			resp.Content += c.Text
		case "tool_use":
			args := string(c.Input)
			if args == "" {
				args = "{}"
			}
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{ID: c.ID, Name: c.Name, Arguments: args})
		}
	}
	return resp, nil
}
