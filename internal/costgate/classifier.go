package costgate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentoven/agentoven/data-agent/pkg/contracts"
	"github.com/agentoven/agentoven/data-agent/pkg/models"
)

// Verdict is a classifier's opinion of a message.
type Verdict struct {
	ShouldProcess     bool    `json:"shouldProcess"`
	Confidence        float64 `json:"confidence"`
	Reason            string  `json:"reason,omitempty"`
	SuggestedResponse string  `json:"suggestedResponse,omitempty"`
}

// Classifier pre-screens a message with a cheap model.
type Classifier interface {
	Classify(ctx context.Context, message string, collections []string, hasHistory bool) (*Verdict, error)
}

// ModelClassifier asks a lightweight model for a JSON verdict.
type ModelClassifier struct {
	client contracts.ModelClient
	model  string
}

// NewModelClassifier creates a classifier calling model through client.
func NewModelClassifier(client contracts.ModelClient, model string) *ModelClassifier {
	return &ModelClassifier{client: client, model: model}
}

const screeningPrompt = `You are a message pre-screener. Analyze if this message needs full AI processing or can be handled simply.

User message: %q

Available data collections: %s

Previous conversation context: %s

Determine:
1. Is this a greeting/small talk? (e.g., "hi", "thanks", "ok")
2. Is this off-topic or not related to the available data?
3. Is this a simple question that can be answered with a template response?
4. Does this require complex reasoning, data analysis, or tool usage?

Respond in JSON format:
{
  "shouldProcess": true/false,
  "confidence": 0.0-1.0,
  "reason": "brief explanation",
  "suggestedResponse": "if shouldProcess is false, provide a simple response"
}`

// Classify returns the model's verdict. A reply that omits shouldProcess
// counts as "process", and a missing confidence counts as 0.5.
func (c *ModelClassifier) Classify(ctx context.Context, message string, collections []string, hasHistory bool) (*Verdict, error) {
	history := "No"
	if hasHistory {
		history = "Yes"
	}
	resp, err := c.client.Complete(ctx, &models.CompletionRequest{
		Model: c.model,
		Messages: []models.ChatMessage{{
			Role:    models.RoleSystem,
			Content: fmt.Sprintf(screeningPrompt, message, strings.Join(collections, ", "), history),
		}},
		Temperature: 0.1,
		MaxTokens:   200,
	})
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	var raw struct {
		ShouldProcess     *bool    `json:"shouldProcess"`
		Confidence        *float64 `json:"confidence"`
		Reason            string   `json:"reason"`
		SuggestedResponse string   `json:"suggestedResponse"`
	}
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &raw); err != nil {
		return nil, fmt.Errorf("classify: decode verdict: %w", err)
	}

	v := &Verdict{ShouldProcess: true, Confidence: 0.5, Reason: raw.Reason, SuggestedResponse: raw.SuggestedResponse}
	if raw.ShouldProcess != nil {
		v.ShouldProcess = *raw.ShouldProcess
	}
	if raw.Confidence != nil && *raw.Confidence > 0 {
		v.Confidence = *raw.Confidence
	}
	return v, nil
}

// stripFences removes a ```json fence some models wrap around JSON output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
