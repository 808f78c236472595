package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ── Agent ────────────────────────────────────────────────────

// Agent is an operator-configured binding of data collections, tools,
// prompt and an optional workflow graph. It is loaded once per chat turn
// and never mutated while a turn is running.
type Agent struct {
	ID                 string              `json:"id" db:"id" yaml:"id"`
	Name               string              `json:"name" db:"name" yaml:"name"`
	Description        string              `json:"description,omitempty" db:"description" yaml:"description"`
	OwnerID            string              `json:"owner_id" db:"owner_id" yaml:"owner_id"`
	Collections        []string            `json:"collections" yaml:"collections"`
	IntentMappings     []IntentMapping     `json:"intent_mappings,omitempty" yaml:"intent_mappings"`
	AllowedTools       []string            `json:"allowed_tools,omitempty" yaml:"allowed_tools"`
	DatabaseConnection *DatabaseConnection `json:"database_connection,omitempty" yaml:"database_connection"`
	Agentic            AgenticConfig       `json:"agentic" yaml:"agentic"`
	Model              ModelConfig         `json:"model" yaml:"model"`
	Memory             MemoryConfig        `json:"memory" yaml:"memory"`
	SystemPrompt       string              `json:"system_prompt,omitempty" db:"system_prompt" yaml:"system_prompt"`
	Workflow           *WorkflowGraph      `json:"workflow,omitempty" yaml:"workflow"`
	Stats              AgentStats          `json:"stats" yaml:"-"`
	CreatedAt          time.Time           `json:"created_at" db:"created_at" yaml:"-"`
	UpdatedAt          time.Time           `json:"updated_at" db:"updated_at" yaml:"-"`
}

// IntentMapping routes messages containing any keyword to a set of collections.
// Used for reporting which collections were relevant to a direct answer.
type IntentMapping struct {
	Intent      string   `json:"intent" yaml:"intent"`
	Keywords    []string `json:"keywords" yaml:"keywords"`
	Collections []string `json:"collections" yaml:"collections"`
}

// DatabaseKind identifies the backing store for an agent's data.
type DatabaseKind string

const (
	DatabaseFirestore  DatabaseKind = "firestore"
	DatabasePostgreSQL DatabaseKind = "postgresql"
	DatabaseMySQL      DatabaseKind = "mysql"
	DatabaseMongoDB    DatabaseKind = "mongodb"
)

// DatabaseConnection describes an external database the agent reads from.
// Credentials are never serialized back to API consumers.
type DatabaseConnection struct {
	Type     DatabaseKind `json:"type" yaml:"type"`
	Host     string       `json:"host,omitempty" yaml:"host"`
	Port     int          `json:"port,omitempty" yaml:"port"`
	Database string       `json:"database,omitempty" yaml:"database"`
	Username string       `json:"username,omitempty" yaml:"username"`
	Password string       `json:"-" yaml:"password"`
	SSL      bool         `json:"ssl,omitempty" yaml:"ssl"`
}

// ReasoningDepth controls how much step-by-step thinking the prompt asks for.
type ReasoningDepth string

const (
	ReasoningShallow  ReasoningDepth = "shallow"
	ReasoningModerate ReasoningDepth = "moderate"
	ReasoningDeep     ReasoningDepth = "deep"
)

// AgenticConfig is the strongly typed behaviour block of an agent.
// Defaults come from DefaultAgenticConfig and are applied before decoding.
type AgenticConfig struct {
	Reasoning         ReasoningConfig        `json:"reasoning" yaml:"reasoning"`
	Tools             ToolConfig             `json:"tools" yaml:"tools"`
	ProactiveInsights bool                   `json:"proactive_insights" yaml:"proactive_insights"`
	ContextMemory     ContextMemoryConfig    `json:"context_memory" yaml:"context_memory"`
	ResponseStyle     string                 `json:"response_style,omitempty" yaml:"response_style"`
	DomainKnowledge   string                 `json:"domain_knowledge,omitempty" yaml:"domain_knowledge"`
	CostOptimization  CostOptimizationConfig `json:"cost_optimization" yaml:"cost_optimization"`
}

type ReasoningConfig struct {
	Enabled       bool           `json:"enabled" yaml:"enabled"`
	Depth         ReasoningDepth `json:"depth" yaml:"depth"`
	ShowReasoning bool           `json:"show_reasoning" yaml:"show_reasoning"`
	MaxSteps      int            `json:"max_steps" yaml:"max_steps"`
}

type ToolConfig struct {
	Basic    BasicTools    `json:"basic" yaml:"basic"`
	Powerful PowerfulTools `json:"powerful" yaml:"powerful"`
}

type BasicTools struct {
	QueryCollection     bool `json:"query_collection" yaml:"query_collection"`
	AnalyzeData         bool `json:"analyze_data" yaml:"analyze_data"`
	GetCollectionSchema bool `json:"get_collection_schema" yaml:"get_collection_schema"`
}

// PowerfulTools lists domain tool names per area. Each is exposed as "powerful_<name>".
type PowerfulTools struct {
	Finance         []string `json:"finance,omitempty" yaml:"finance"`
	Sales           []string `json:"sales,omitempty" yaml:"sales"`
	HR              []string `json:"hr,omitempty" yaml:"hr"`
	CrossCollection []string `json:"cross_collection,omitempty" yaml:"cross_collection"`
	Advanced        []string `json:"advanced,omitempty" yaml:"advanced"`
}

type ContextMemoryConfig struct {
	Enabled       bool `json:"enabled" yaml:"enabled"`
	ContextWindow int  `json:"context_window" yaml:"context_window"`
}

type CostOptimizationConfig struct {
	Enabled             bool    `json:"enabled" yaml:"enabled"`
	FilterGreetings     bool    `json:"filter_greetings" yaml:"filter_greetings"`
	FilterOffTopic      bool    `json:"filter_off_topic" yaml:"filter_off_topic"`
	UseLightweightModel bool    `json:"use_lightweight_model" yaml:"use_lightweight_model"`
	TargetSavings       float64 `json:"target_savings,omitempty" yaml:"target_savings"`
}

// ModelConfig selects the capable model used for planning and synthesis.
type ModelConfig struct {
	Provider    string  `json:"provider,omitempty" yaml:"provider"`
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
}

// MemoryPolicy names how prior turns are loaded into the model context.
type MemoryPolicy string

const (
	MemorySession    MemoryPolicy = "session"
	MemoryPersistent MemoryPolicy = "persistent"
	MemoryEpisodic   MemoryPolicy = "episodic"
)

type MemoryConfig struct {
	Type     MemoryPolicy `json:"type" yaml:"type"`
	MaxTurns int          `json:"max_turns,omitempty" yaml:"max_turns"`
}

// AgentStats is updated after every completed chat turn.
type AgentStats struct {
	QueryCount        int64      `json:"query_count"`
	ShortCircuitCount int64      `json:"short_circuit_count"`
	AvgResponseTimeMs float64    `json:"avg_response_time_ms"`
	LastQueryAt       *time.Time `json:"last_query_at,omitempty"`
}

const (
	DefaultContextWindow = 10
	MinContextWindow     = 1
	MaxContextWindow     = 50

	DefaultModel       = "gpt-4o"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 1500
	DefaultMaxSteps    = 5
)

// DefaultAgenticConfig returns the behaviour block used when an agent
// omits some or all of its agentic settings.
func DefaultAgenticConfig() AgenticConfig {
	return AgenticConfig{
		Reasoning: ReasoningConfig{
			Enabled:       true,
			Depth:         ReasoningModerate,
			ShowReasoning: true,
			MaxSteps:      DefaultMaxSteps,
		},
		Tools: ToolConfig{
			Basic: BasicTools{
				QueryCollection:     true,
				AnalyzeData:         true,
				GetCollectionSchema: true,
			},
		},
		ContextMemory: ContextMemoryConfig{
			Enabled:       true,
			ContextWindow: DefaultContextWindow,
		},
		ResponseStyle: "professional",
		CostOptimization: CostOptimizationConfig{
			Enabled:         true,
			FilterGreetings: true,
			FilterOffTopic:  true,
		},
	}
}

// NewAgent returns an Agent with every default preset. Decoders (JSON,
// YAML, JSONB rows) decode into this value so omitted settings keep
// their defaults.
func NewAgent() Agent {
	return Agent{
		Agentic: DefaultAgenticConfig(),
		Model: ModelConfig{
			Model:       DefaultModel,
			Temperature: DefaultTemperature,
			MaxTokens:   DefaultMaxTokens,
		},
		Memory: MemoryConfig{Type: MemorySession},
	}
}

// Normalize clamps bounded settings and fills values that decode as empty.
func (a *Agent) Normalize() {
	cw := a.Agentic.ContextMemory.ContextWindow
	switch {
	case cw == 0:
		cw = DefaultContextWindow
	case cw < MinContextWindow:
		cw = MinContextWindow
	case cw > MaxContextWindow:
		cw = MaxContextWindow
	}
	a.Agentic.ContextMemory.ContextWindow = cw

	switch a.Agentic.Reasoning.Depth {
	case ReasoningShallow, ReasoningModerate, ReasoningDeep:
	default:
		a.Agentic.Reasoning.Depth = ReasoningModerate
	}
	if a.Agentic.Reasoning.MaxSteps <= 0 {
		a.Agentic.Reasoning.MaxSteps = DefaultMaxSteps
	}

	switch a.Memory.Type {
	case MemorySession, MemoryPersistent, MemoryEpisodic:
	default:
		a.Memory.Type = MemorySession
	}

	if a.Model.Model == "" {
		a.Model.Model = DefaultModel
	}
	if a.Model.MaxTokens <= 0 {
		a.Model.MaxTokens = DefaultMaxTokens
	}
	if a.Model.Temperature < 0 || a.Model.Temperature > 2 {
		a.Model.Temperature = DefaultTemperature
	}
}

// UnmarshalJSON decodes on top of NewAgent so absent settings keep defaults.
func (a *Agent) UnmarshalJSON(data []byte) error {
	type plain Agent
	p := plain(NewAgent())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Agent(p)
	return nil
}

// ── Conversation ─────────────────────────────────────────────

// Conversation belongs to exactly one agent and one caller.
// MessageCount is only ever incremented by appends.
type Conversation struct {
	ID           string    `json:"id" db:"id"`
	AgentID      string    `json:"agent_id" db:"agent_id"`
	UserID       string    `json:"user_id" db:"user_id"`
	Title        string    `json:"title" db:"title"`
	MessageCount int       `json:"message_count" db:"message_count"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message is an append-only conversation entry.
type Message struct {
	ID             string           `json:"id" db:"id"`
	ConversationID string           `json:"conversation_id" db:"conversation_id"`
	Role           MessageRole      `json:"role" db:"role"`
	Content        string           `json:"content" db:"content"`
	Metadata       *MessageMetadata `json:"metadata,omitempty"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}

type MessageMetadata struct {
	CollectionsUsed []string `json:"collections_used,omitempty"`
	DataCount       int      `json:"data_count,omitempty"`
	ShortCircuited  bool     `json:"short_circuited,omitempty"`
	ResponseTimeMs  int64    `json:"response_time_ms,omitempty"`
}

// ConversationTitle derives a title from the first user message.
func ConversationTitle(message string) string {
	message = strings.TrimSpace(message)
	r := []rune(message)
	if len(r) <= 50 {
		return message
	}
	return string(r[:50]) + "..."
}

// ── Audit Log ────────────────────────────────────────────────

type AuditType string

const (
	AuditDataAccess AuditType = "data_access"
	AuditToolCall   AuditType = "tool_call"
)

// AuditSource identifies which backend served the access attempt.
type AuditSource string

const (
	SourceFirestore  AuditSource = "firestore"
	SourcePostgreSQL AuditSource = "postgresql"
	SourceMySQL      AuditSource = "mysql"
	SourceMongoDB    AuditSource = "mongodb"
	SourceAPI        AuditSource = "api"
	SourceToolCall   AuditSource = "tool_call"
)

// AuditFilterRef records which field and operator a filter used. Filter
// values are never written to the audit trail.
type AuditFilterRef struct {
	Field string `json:"field"`
	Op    string `json:"op"`
}

// AuditLogEntry is one write-once record per data or tool access attempt.
type AuditLogEntry struct {
	ID           string           `json:"id" db:"id"`
	Type         AuditType        `json:"type" db:"type"`
	UserID       string           `json:"user_id" db:"user_id"`
	AgentID      string           `json:"agent_id" db:"agent_id"`
	Source       AuditSource      `json:"source" db:"source"`
	Collection   string           `json:"collection,omitempty" db:"collection"`
	ToolName     string           `json:"tool_name,omitempty" db:"tool_name"`
	Filters      []AuditFilterRef `json:"filters,omitempty"`
	InputSummary string           `json:"input_summary,omitempty" db:"input_summary"`
	RowCount     int              `json:"row_count" db:"row_count"`
	Success      bool             `json:"success" db:"success"`
	Denied       bool             `json:"denied" db:"denied"`
	Error        string           `json:"error,omitempty" db:"error"`
	DurationMs   int64            `json:"duration_ms" db:"duration_ms"`
	Timestamp    time.Time        `json:"timestamp" db:"timestamp"`
}

// AuditQuery scopes an audit listing. CallerID is mandatory: only entries
// for agents owned by the caller are ever returned.
type AuditQuery struct {
	AgentID  string
	CallerID string
	Type     AuditType
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

// ── Tools ────────────────────────────────────────────────────

// ParameterSchema is the declarative argument schema of a tool. It is a
// JSON-Schema subset: object/array/string/number/integer/boolean types,
// required fields and string enumerations.
type ParameterSchema struct {
	Type        string                      `json:"type"`
	Description string                      `json:"description,omitempty"`
	Properties  map[string]*ParameterSchema `json:"properties,omitempty"`
	Required    []string                    `json:"required,omitempty"`
	Items       *ParameterSchema            `json:"items,omitempty"`
	Enum        []string                    `json:"enum,omitempty"`
}

// ToolDefinition advertises a tool to the planning model.
type ToolDefinition struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  *ParameterSchema `json:"parameters"`
}

// ToolCall is an invocation requested by the model. Arguments is the raw
// JSON payload and is parsed before execution.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ── Model Routing ────────────────────────────────────────────

// ChatMessage is one message in a model request.
type ChatMessage struct {
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	Name       string      `json:"name,omitempty"`
}

// CompletionRequest asks a provider to complete a chat, optionally offering tools.
// AgentID and User are carried for cost attribution and provider abuse tracking.
type CompletionRequest struct {
	Provider    string           `json:"provider,omitempty"`
	Model       string           `json:"model"`
	Messages    []ChatMessage    `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	AgentID     string           `json:"agent_id,omitempty"`
	User        string           `json:"user,omitempty"`
}

// CompletionResponse is the provider reply: content, tool calls, or both.
type CompletionResponse struct {
	ID        string     `json:"id"`
	Provider  string     `json:"provider"`
	Model     string     `json:"model"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     TokenUsage `json:"usage"`
	LatencyMs int64      `json:"latency_ms"`
}

type TokenUsage struct {
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	TotalTokens   int64   `json:"total_tokens"`
	EstimatedCost float64 `json:"estimated_cost_usd"`
}

// ModelProvider is a configured LLM endpoint. Kind selects the driver
// (openai, azure-openai, anthropic, ollama).
type ModelProvider struct {
	Name       string                 `json:"name" yaml:"name"`
	Kind       string                 `json:"kind" yaml:"kind"`
	Endpoint   string                 `json:"endpoint,omitempty" yaml:"endpoint"`
	APIKey     string                 `json:"-" yaml:"api_key"`
	APIVersion string                 `json:"api_version,omitempty" yaml:"api_version"`
	Models     []string               `json:"models,omitempty" yaml:"models"`
	IsDefault  bool                   `json:"is_default" yaml:"is_default"`
	Config     map[string]interface{} `json:"config,omitempty" yaml:"config"`
}

// CostSummary aggregates estimated model spend since process start.
type CostSummary struct {
	TotalCostUSD float64            `json:"total_cost_usd"`
	TotalTokens  int64              `json:"total_tokens"`
	Requests     int64              `json:"requests"`
	ByAgent      map[string]float64 `json:"by_agent"`
	ByModel      map[string]float64 `json:"by_model"`
	ByProvider   map[string]float64 `json:"by_provider"`
}

// ── Chat API ─────────────────────────────────────────────────

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	AgentID        string `json:"agentId"`
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

// ChatResponse is returned for every successful chat turn.
type ChatResponse struct {
	Response        string          `json:"response"`
	ConversationID  string          `json:"conversationId"`
	CollectionsUsed []string        `json:"collectionsUsed"`
	DataCount       int             `json:"dataCount"`
	ReasoningSteps  []ReasoningStep `json:"reasoningSteps,omitempty"`
}

// ReasoningStep is one human-readable entry of a turn's reasoning trace.
type ReasoningStep struct {
	Step   string      `json:"step"`
	Tool   string      `json:"tool,omitempty"`
	Input  interface{} `json:"input,omitempty"`
	Result interface{} `json:"result,omitempty"`
}
