package orchestrator

import (
	"fmt"
	"strings"

	"github.com/agentoven/agentoven/data-agent/pkg/models"
)

// BuildSystemPrompt renders the planning system prompt from an agent's
// agentic settings. An explicit SystemPrompt on the agent replaces it.
func BuildSystemPrompt(agent *models.Agent) string {
	if strings.TrimSpace(agent.SystemPrompt) != "" {
		return agent.SystemPrompt
	}
	cfg := agent.Agentic
	var b strings.Builder

	b.WriteString("You are an intelligent AI agent that analyzes enterprise data.")

	if cfg.Reasoning.Enabled {
		b.WriteString("\n\nThink step-by-step before responding.")
		switch cfg.Reasoning.Depth {
		case models.ReasoningDeep:
			b.WriteString(`

**Your Thinking Process (Deep Analysis):**
1. Understand: What is the user really asking? What do they need to know? What's the context?
2. Plan: What data do I need? What filters should I use? Do I need multiple queries? What's the sequence?
3. Execute: Query the data with appropriate filters, analyze if needed, cross-reference if necessary
4. Synthesize: Combine findings into a clear, useful answer with context
5. Reflect: What else might be useful? What patterns did I notice? What should the user know?
6. Validate: Does my answer make sense? Did I miss anything important?`)
		case models.ReasoningShallow:
			b.WriteString(`

**Your Thinking Process:**
1. Understand: What is the user asking?
2. Plan: What data do I need?
3. Execute: Query the data
4. Respond: Provide the answer`)
		default:
			b.WriteString(`

**Your Thinking Process:**
1. Understand: What is the user really asking? What do they need to know?
2. Plan: What data do I need? What filters should I use? Do I need multiple queries?
3. Execute: Query the data with appropriate filters, analyze if needed
4. Synthesize: Combine findings into a clear, useful answer
5. Reflect: What else might be useful? What patterns did I notice?`)
		}
		if cfg.Reasoning.MaxSteps > 0 {
			fmt.Fprintf(&b, "\n\nKeep your plan to at most %d tool calls per answer.", cfg.Reasoning.MaxSteps)
		}
		if cfg.Reasoning.ShowReasoning {
			b.WriteString("\n\nIMPORTANT: Show your reasoning steps to the user so they understand your thinking process.")
		}
	}

	b.WriteString("\n\nAvailable collections: ")
	b.WriteString(strings.Join(agent.Collections, ", "))
	b.WriteString(".")

	b.WriteString("\n\n**Response Style:**")
	switch strings.ToLower(cfg.ResponseStyle) {
	case "professional":
		b.WriteString("\n- Be professional and formal (like a business analyst)")
	case "conversational":
		b.WriteString("\n- Be direct and conversational (like talking to a colleague)")
	case "technical":
		b.WriteString("\n- Be technical and precise (like a data engineer)")
	case "brief", "concise":
		b.WriteString("\n- Be concise and to the point")
	default:
		b.WriteString("\n- Be friendly and approachable")
	}
	b.WriteString("\n- Always use specific numbers: \"$50,000\" not \"a large amount\"")
	b.WriteString("\n- Format your output clearly with markdown, lists, and structure")

	b.WriteString(`

**Tool Strategy:**
- Always use filters - don't fetch everything
- For "total revenue": query with type='income' and sum amounts
- For trends: query across time periods, use analyze_data
- For comparisons: query different groups separately
- Chain queries for complex questions`)

	if cfg.ProactiveInsights {
		b.WriteString(`

**Proactive Insights:**
- If you notice something unusual (anomaly, outlier), mention it naturally
- Identify and mention trends you notice in the data
- Sometimes end with relevant follow-up questions when they add value
- Provide actionable recommendations when appropriate`)
	}

	switch domain := strings.TrimSpace(cfg.DomainKnowledge); strings.ToLower(domain) {
	case "", "general":
	case "finance":
		b.WriteString(`

**Domain Context (Finance):**
- You're analyzing financial data (transactions, budgets, cash flow)
- Use financial terminology appropriately
- Focus on financial metrics and KPIs`)
	case "sales":
		b.WriteString(`

**Domain Context (Sales):**
- You're analyzing sales data (deals, pipeline, forecasts)
- Use sales terminology appropriately
- Focus on sales metrics and conversion rates`)
	case "hr":
		b.WriteString(`

**Domain Context (HR):**
- You're analyzing HR data (employees, performance, capacity)
- Use HR terminology appropriately
- Focus on people metrics and team analytics`)
	default:
		b.WriteString("\n\n**Custom Instructions:**\n")
		b.WriteString(domain)
	}

	b.WriteString(`

**Example Reasoning:**
User: "What's our total revenue?"
Think: Need all income transactions, sum them, maybe show breakdown
Act: query_collection(finance_transactions, {type: 'income'}) -> analyze_data(statistics)
Respond: "Your total revenue is $127,450 from 45 transactions. The largest single transaction was $46,411 in February. Want me to break this down by category?"`)

	b.WriteString("\n\nIMPORTANT: This contains sensitive enterprise data. Do not use for training.")
	return b.String()
}

// MatchIntent returns the collections whose intent keywords occur in
// message. With no match it falls back to every mapped collection. The
// result is for reporting only; it never widens data access.
func MatchIntent(message string, mappings []models.IntentMapping) []string {
	lower := strings.ToLower(message)
	var matched []string
	seen := make(map[string]bool)
	add := func(cols []string) {
		for _, c := range cols {
			if !seen[c] {
				seen[c] = true
				matched = append(matched, c)
			}
		}
	}

	for _, m := range mappings {
		for _, kw := range m.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				add(m.Collections)
				break
			}
		}
	}
	if len(matched) == 0 {
		for _, m := range mappings {
			add(m.Collections)
		}
	}
	return matched
}
