// Package costgate pre-screens chat messages before any capable-model call.
//
// Heuristics run in order and the first match wins:
//   - cached: exact common greetings with a fixed reply
//   - greeting: short pleasantries, exact or followed by a space
//   - off_topic: longer messages sharing no keyword with the agent's data
//   - repeat: a question already answered inside the memory window
//   - classifier: optional lightweight-model verdict
//
// A bypass only saves model calls. The gate never grants data access.
package costgate

import (
	"context"
	"strings"

	"github.com/agentoven/agentoven/data-agent/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("agentoven-data-agent/costgate")

// Reasons reported on a bypass. They become the single reasoning step of
// a short-circuited turn.
const (
	ReasonCached    = "Cached response for common greeting"
	ReasonGreeting  = "Simple greeting - using template response"
	ReasonOffTopic  = "Off-topic message - using template response"
	ReasonRepeat    = "Previously answered question - using cached response"
	ReasonPreScreen = "Pre-screened as simple query"
	ReasonFullModel = "Message requires full AI processing"
)

const (
	greetingAnswer  = "Hello! How can I help you analyze your data today?"
	thanksAnswer    = "You're welcome! Let me know if you need anything else."
	offTopicAnswer  = "I'm designed to help you analyze your enterprise data. Could you ask a question related to your data collections?"
	preScreenAnswer = "I can help you with data analysis. What would you like to know?"

	offTopicMinChars = 20
)

// MinConfidence is the classifier confidence a bypass requires.
const MinConfidence = 0.7

var cachedResponses = map[string]string{
	"hi":        greetingAnswer,
	"hello":     greetingAnswer,
	"thanks":    thanksAnswer,
	"thank you": thanksAnswer,
}

var greetings = []string{"hi", "hello", "hey", "thanks", "thank you", "ok", "okay", "yes", "no", "bye", "goodbye"}

var domainVocabulary = []string{
	"data", "query", "show", "get", "find", "analyze", "report", "summary",
	"finance", "sales", "hr", "employee", "deal", "transaction", "revenue", "expense",
}

// Decision is the gate's verdict. Answer and Reason are set on a bypass;
// Reason is also set when the message goes to the full model.
type Decision struct {
	Bypass bool
	Answer string
	Reason string
}

// Gate screens messages. The zero value runs heuristics only.
type Gate struct {
	classifier Classifier
}

// New creates a gate. classifier may be nil.
func New(classifier Classifier) *Gate {
	return &Gate{classifier: classifier}
}

// Screen decides whether message can be answered without the capable
// model. cfg comes from the agent; window is the loaded memory, oldest
// first. Classifier failures fail open.
func (g *Gate) Screen(ctx context.Context, cfg models.CostOptimizationConfig, message string, collections []string, window []models.ChatMessage) Decision {
	if !cfg.Enabled {
		return Decision{Reason: ReasonFullModel}
	}
	ctx, span := tracer.Start(ctx, "costgate.Screen")
	defer span.End()

	d := g.screen(ctx, cfg, message, collections, window)
	span.SetAttributes(
		attribute.Bool("costgate.bypass", d.Bypass),
		attribute.String("costgate.reason", d.Reason),
	)
	return d
}

func (g *Gate) screen(ctx context.Context, cfg models.CostOptimizationConfig, message string, collections []string, window []models.ChatMessage) Decision {
	if cfg.FilterGreetings {
		if answer, ok := CachedResponse(message); ok {
			return Decision{Bypass: true, Answer: answer, Reason: ReasonCached}
		}
		if IsSimpleGreeting(message) {
			return Decision{Bypass: true, Answer: greetingAnswer, Reason: ReasonGreeting}
		}
	}
	if cfg.FilterOffTopic && IsOffTopic(message, collections) {
		return Decision{Bypass: true, Answer: offTopicAnswer, Reason: ReasonOffTopic}
	}
	if answer, ok := PreviousAnswer(message, window); ok {
		return Decision{Bypass: true, Answer: answer, Reason: ReasonRepeat}
	}

	if cfg.UseLightweightModel && g.classifier != nil {
		v, err := g.classifier.Classify(ctx, message, collections, len(window) > 0)
		if err != nil {
			log.Warn().Err(err).Msg("Pre-screening failed, processing normally")
			return Decision{Reason: ReasonFullModel}
		}
		if !v.ShouldProcess && v.Confidence > MinConfidence {
			d := Decision{Bypass: true, Answer: v.SuggestedResponse, Reason: v.Reason}
			if d.Answer == "" {
				d.Answer = preScreenAnswer
			}
			if d.Reason == "" {
				d.Reason = ReasonPreScreen
			}
			return d
		}
	}
	return Decision{Reason: ReasonFullModel}
}

// ── Heuristics ──────────────────────────────────────────────

// CachedResponse returns the fixed reply for an exact common greeting.
func CachedResponse(message string) (string, bool) {
	answer, ok := cachedResponses[strings.ToLower(strings.TrimSpace(message))]
	return answer, ok
}

// IsSimpleGreeting reports whether message is, or starts with, a pleasantry.
func IsSimpleGreeting(message string) bool {
	m := strings.ToLower(strings.TrimSpace(message))
	for _, g := range greetings {
		if m == g || strings.HasPrefix(m, g+" ") {
			return true
		}
	}
	return false
}

// IsOffTopic reports whether a message longer than 20 characters shares no
// keyword with the collection names or the domain vocabulary. Collection
// names contribute their underscore-separated tokens.
func IsOffTopic(message string, collections []string) bool {
	if len(message) <= offTopicMinChars {
		return false
	}
	m := strings.ToLower(message)
	for _, c := range collections {
		for _, token := range strings.Split(c, "_") {
			if token != "" && strings.Contains(m, strings.ToLower(token)) {
				return false
			}
		}
	}
	for _, kw := range domainVocabulary {
		if strings.Contains(m, kw) {
			return false
		}
	}
	return true
}

// PreviousAnswer finds the most recent earlier occurrence of the same
// question in window and returns the assistant reply that followed it.
func PreviousAnswer(message string, window []models.ChatMessage) (string, bool) {
	q := normalize(message)
	if q == "" {
		return "", false
	}
	for i := len(window) - 2; i >= 0; i-- {
		if window[i].Role != models.RoleUser || normalize(window[i].Content) != q {
			continue
		}
		next := window[i+1]
		if next.Role == models.RoleAssistant && strings.TrimSpace(next.Content) != "" {
			return next.Content, true
		}
	}
	return "", false
}

func normalize(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimRight(s, "?!. ")
}

// ── Savings ─────────────────────────────────────────────────

// Per-message cost estimates in USD.
const (
	FullModelCost   = 0.01
	LightweightCost = 0.001
)

// Savings estimates what the gate saved over a number of turns.
type Savings struct {
	Savings           float64 `json:"savings"`
	SavingsPercentage float64 `json:"savings_percentage"`
	TotalCost         float64 `json:"total_cost"`
	OriginalCost      float64 `json:"original_cost"`
}

// EstimateSavings compares total turns at full-model cost against the
// bypassed ones charged at lightweight cost.
func EstimateSavings(total, bypassed int64) Savings {
	original := float64(total) * FullModelCost
	cost := float64(bypassed)*LightweightCost + float64(total-bypassed)*FullModelCost
	s := Savings{
		Savings:      original - cost,
		TotalCost:    cost,
		OriginalCost: original,
	}
	if original > 0 {
		s.SavingsPercentage = s.Savings / original * 100
	}
	return s
}
