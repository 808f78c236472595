// Package memory loads the window of prior conversation turns that is
// replayed to the model on each chat turn.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentoven/agentoven/data-agent/internal/store"
	"github.com/agentoven/agentoven/data-agent/pkg/models"
	"github.com/rs/zerolog/log"
)

// Turn is one prior message as replayed to the model.
type Turn = models.ChatMessage

// Policy selects which turns are loaded. Window is clamped to 1–50.
type Policy struct {
	Kind    models.MemoryPolicy
	Window  int
	Enabled bool
}

// PolicyFor derives the policy from an agent. Memory.MaxTurns wins over
// the agentic context window.
func PolicyFor(agent *models.Agent) Policy {
	window := agent.Memory.MaxTurns
	if window <= 0 {
		window = agent.Agentic.ContextMemory.ContextWindow
	}
	return Policy{
		Kind:    agent.Memory.Type,
		Window:  clampWindow(window),
		Enabled: agent.Agentic.ContextMemory.Enabled,
	}
}

func clampWindow(n int) int {
	switch {
	case n <= 0:
		return models.DefaultContextWindow
	case n < models.MinContextWindow:
		return models.MinContextWindow
	case n > models.MaxContextWindow:
		return models.MaxContextWindow
	}
	return n
}

// Manager reads conversation history. It never writes.
type Manager struct {
	messages store.ConversationStore

	fallbackOnce sync.Map // MemoryPolicy → *sync.Once
}

// NewManager creates a manager over the conversation store.
func NewManager(messages store.ConversationStore) *Manager {
	return &Manager{messages: messages}
}

// Load returns the most recent Window messages of the conversation,
// oldest first. A disabled policy or an empty conversation ID yields no
// turns.
//
// Persistent and episodic policies currently load the same window as
// session.
func (m *Manager) Load(ctx context.Context, conversationID string, p Policy) ([]Turn, error) {
	if !p.Enabled || conversationID == "" {
		return nil, nil
	}
	switch p.Kind {
	case models.MemoryPersistent, models.MemoryEpisodic:
		m.noteFallback(p.Kind)
	}

	msgs, err := m.messages.ListMessages(ctx, conversationID, clampWindow(p.Window))
	if err != nil {
		return nil, fmt.Errorf("load memory: %w", err)
	}
	turns := make([]Turn, 0, len(msgs))
	for _, msg := range msgs {
		turns = append(turns, Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns, nil
}

func (m *Manager) noteFallback(kind models.MemoryPolicy) {
	once, _ := m.fallbackOnce.LoadOrStore(kind, &sync.Once{})
	once.(*sync.Once).Do(func() {
		log.Debug().Str("policy", string(kind)).Msg("Memory policy loads the session window")
	})
}
