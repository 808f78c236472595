// Package store — in-memory Store implementation.
// Used when PostgreSQL is not configured (local dev, tests).
// Supports file-based snapshot persistence so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agentoven/agentoven/data-agent/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Agents        map[string]*models.Agent        `json:"agents"`
	Conversations map[string]*models.Conversation `json:"conversations"`
	Messages      map[string][]*models.Message    `json:"messages"`
	AuditEntries  []*models.AuditLogEntry         `json:"audit_entries"`
	Documents     map[string]map[string]Document  `json:"documents"`
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu            sync.RWMutex
	agents        map[string]*models.Agent        // key: id
	conversations map[string]*models.Conversation // key: id
	messages      map[string][]*models.Message    // key: conversation id, oldest first
	auditEntries  []*models.AuditLogEntry         // append-only log
	documents     map[string]map[string]Document  // key: collection → id
	docOrder      map[string][]string             // insertion order per collection

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
	closeOnce    sync.Once
	wg           sync.WaitGroup
}

// NewMemoryStore creates a new in-memory store.
// If AGENTOVEN_DATA_DIR is set, data is persisted to a JSON file in that directory.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		agents:        make(map[string]*models.Agent),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
		auditEntries:  make([]*models.AuditLogEntry, 0),
		documents:     make(map[string]map[string]Document),
		docOrder:      make(map[string][]string),
		saveCh:        make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}

	if dataDir := os.Getenv("AGENTOVEN_DATA_DIR"); dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		m.wg.Add(1)
		go m.saveLoop()
	}

	return m
}

// scheduleSave signals the background writer. Non-blocking.
func (m *MemoryStore) scheduleSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

func (m *MemoryStore) saveLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			select { // debounce
			case <-m.doneCh:
				return
			case <-time.After(500 * time.Millisecond):
			}
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Agents:        m.agents,
		Conversations: m.conversations,
		Messages:      m.messages,
		AuditEntries:  m.auditEntries,
		Documents:     m.documents,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
	}
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Agents != nil {
		m.agents = snap.Agents
	}
	if snap.Conversations != nil {
		m.conversations = snap.Conversations
	}
	if snap.Messages != nil {
		m.messages = snap.Messages
	}
	if snap.AuditEntries != nil {
		m.auditEntries = snap.AuditEntries
	}
	for coll, docs := range snap.Documents {
		m.documents[coll] = docs
		ids := make([]string, 0, len(docs))
		for id := range docs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		m.docOrder[coll] = ids
	}

	log.Info().
		Int("agents", len(m.agents)).
		Int("conversations", len(m.conversations)).
		Int("audit_entries", len(m.auditEntries)).
		Msg("📂 Snapshot loaded")
}

// ── Agents ──────────────────────────────────────────────────

func (m *MemoryStore) ListAgents(_ context.Context, ownerID string) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Agent, 0)
	for _, a := range m.agents {
		if ownerID == "" || a.OwnerID == ownerID {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *MemoryStore) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent", Key: id}
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) CreateAgent(_ context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	agent.Normalize()

	m.mu.Lock()
	cp := *agent
	m.agents[agent.ID] = &cp
	m.mu.Unlock()
	m.scheduleSave()
	return nil
}

func (m *MemoryStore) UpdateAgent(_ context.Context, agent *models.Agent) error {
	m.mu.Lock()
	existing, ok := m.agents[agent.ID]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "agent", Key: agent.ID}
	}
	agent.CreatedAt = existing.CreatedAt
	agent.Stats = existing.Stats
	agent.UpdatedAt = time.Now().UTC()
	agent.Normalize()
	cp := *agent
	m.agents[agent.ID] = &cp
	m.mu.Unlock()
	m.scheduleSave()
	return nil
}

func (m *MemoryStore) DeleteAgent(_ context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.agents[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "agent", Key: id}
	}
	delete(m.agents, id)
	m.mu.Unlock()
	m.scheduleSave()
	return nil
}

func (m *MemoryStore) RecordAgentQuery(_ context.Context, id string, responseTime time.Duration, shortCircuited bool) error {
	m.mu.Lock()
	a, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "agent", Key: id}
	}
	now := time.Now().UTC()
	ms := float64(responseTime.Milliseconds())
	n := a.Stats.QueryCount
	a.Stats.AvgResponseTimeMs = (a.Stats.AvgResponseTimeMs*float64(n) + ms) / float64(n+1)
	a.Stats.QueryCount = n + 1
	if shortCircuited {
		a.Stats.ShortCircuitCount++
	}
	a.Stats.LastQueryAt = &now
	m.mu.Unlock()
	m.scheduleSave()
	return nil
}

// ── Conversations ───────────────────────────────────────────

func (m *MemoryStore) CreateConversation(_ context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = conv.CreatedAt
	conv.MessageCount = 0

	m.mu.Lock()
	cp := *conv
	m.conversations[conv.ID] = &cp
	m.mu.Unlock()
	m.scheduleSave()
	return nil
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "conversation", Key: id}
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListConversations(_ context.Context, agentID, userID string, limit int) ([]models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Conversation, 0)
	for _, c := range m.conversations {
		if c.AgentID == agentID && c.UserID == userID {
			result = append(result, *c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.After(result[j].UpdatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) SetConversationTitle(_ context.Context, id, title string) error {
	m.mu.Lock()
	c, ok := m.conversations[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "conversation", Key: id}
	}
	c.Title = title
	m.mu.Unlock()
	m.scheduleSave()
	return nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "conversation", Key: msg.ConversationID}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	cp := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &cp)
	conv.MessageCount++
	if msg.CreatedAt.After(conv.UpdatedAt) {
		conv.UpdatedAt = msg.CreatedAt
	} else {
		conv.UpdatedAt = time.Now().UTC()
	}
	m.mu.Unlock()
	m.scheduleSave()
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, conversationID string, limit int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.conversations[conversationID]; !ok {
		return nil, &ErrNotFound{Entity: "conversation", Key: conversationID}
	}
	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	result := make([]models.Message, len(msgs))
	for i, msg := range msgs {
		result[i] = *msg
	}
	return result, nil
}

// ── Audit Log ───────────────────────────────────────────────

func (m *MemoryStore) AppendAuditEntry(_ context.Context, entry *models.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	cp := *entry
	m.auditEntries = append(m.auditEntries, &cp)
	m.mu.Unlock()
	m.scheduleSave()
	return nil
}

func (m *MemoryStore) ListAuditEntries(_ context.Context, q models.AuditQuery) ([]models.AuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.AuditLogEntry, 0)
	for i := len(m.auditEntries) - 1; i >= 0; i-- { // newest first
		e := m.auditEntries[i]
		if q.AgentID != "" && e.AgentID != q.AgentID {
			continue
		}
		if q.Type != "" && e.Type != q.Type {
			continue
		}
		if q.Since != nil && e.Timestamp.Before(*q.Since) {
			continue
		}
		if q.Until != nil && e.Timestamp.After(*q.Until) {
			continue
		}
		result = append(result, *e)
	}
	// Appends can arrive out of timestamp order (concurrent tool calls).
	sort.SliceStable(result, func(i, j int) bool { return result[i].Timestamp.After(result[j].Timestamp) })
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

// ── Documents ───────────────────────────────────────────────

func (m *MemoryStore) PutDocument(_ context.Context, collection string, doc Document) error {
	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
	}
	cp := make(Document, len(doc)+1)
	for k, v := range doc {
		cp[k] = v
	}
	cp["id"] = id

	m.mu.Lock()
	docs, ok := m.documents[collection]
	if !ok {
		docs = make(map[string]Document)
		m.documents[collection] = docs
	}
	if _, exists := docs[id]; !exists {
		m.docOrder[collection] = append(m.docOrder[collection], id)
	}
	docs[id] = cp
	m.mu.Unlock()
	m.scheduleSave()
	return nil
}

func (m *MemoryStore) QueryDocuments(_ context.Context, q DocumentQuery) ([]Document, error) {
	m.mu.RLock()
	docs := m.documents[q.Collection]
	result := make([]Document, 0)
	for _, id := range m.docOrder[q.Collection] {
		doc := docs[id]
		if !Match(doc, q.Predicates) {
			continue
		}
		cp := make(Document, len(doc))
		for k, v := range doc {
			cp[k] = v
		}
		result = append(result, cp)
	}
	m.mu.RUnlock()

	if q.OrderBy != "" {
		SortDocuments(result, q.OrderBy, q.Descending)
	}
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

// ── Lifecycle ───────────────────────────────────────────────

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// Close flushes the snapshot (if persistence is enabled) and stops background work.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.doneCh)
		m.wg.Wait()
		if m.snapshotPath != "" {
			m.saveSnapshot()
		}
	})
	return nil
}
