package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentoven/agentoven/data-agent/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store on PostgreSQL. Agent configuration,
// audit filters and documents are kept in JSONB columns.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and migrates.
func NewPostgresStore(ctx context.Context, connURL string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Int32("max_conns", cfg.MaxConns).Msg("PostgreSQL store initialized")
	return s, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS da_agents (
			id              TEXT PRIMARY KEY,
			owner_id        TEXT NOT NULL,
			name            TEXT NOT NULL DEFAULT '',
			config          JSONB NOT NULL,
			query_count     BIGINT NOT NULL DEFAULT 0,
			avg_response_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			short_circuit_count BIGINT NOT NULL DEFAULT 0,
			last_query_at   TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_da_agents_owner ON da_agents (owner_id);

		CREATE TABLE IF NOT EXISTS da_conversations (
			id            TEXT PRIMARY KEY,
			agent_id      TEXT NOT NULL,
			user_id       TEXT NOT NULL,
			title         TEXT NOT NULL DEFAULT '',
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_da_conversations_owner ON da_conversations (agent_id, user_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS da_messages (
			seq             BIGSERIAL PRIMARY KEY,
			id              TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES da_conversations(id),
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			metadata        JSONB,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_da_messages_conv ON da_messages (conversation_id, seq);

		CREATE TABLE IF NOT EXISTS da_audit_log (
			id            TEXT PRIMARY KEY,
			type          TEXT NOT NULL,
			user_id       TEXT NOT NULL,
			agent_id      TEXT NOT NULL,
			source        TEXT NOT NULL,
			collection    TEXT NOT NULL DEFAULT '',
			tool_name     TEXT NOT NULL DEFAULT '',
			filters       JSONB NOT NULL DEFAULT '[]',
			input_summary TEXT NOT NULL DEFAULT '',
			row_count     INTEGER NOT NULL DEFAULT 0,
			success       BOOLEAN NOT NULL,
			denied        BOOLEAN NOT NULL,
			error         TEXT NOT NULL DEFAULT '',
			duration_ms   BIGINT NOT NULL DEFAULT 0,
			timestamp     TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_da_audit_agent ON da_audit_log (agent_id, timestamp DESC);

		CREATE TABLE IF NOT EXISTS da_documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			data       JSONB NOT NULL,
			seq        BIGSERIAL,
			PRIMARY KEY (collection, id)
		);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// ── Agents ──────────────────────────────────────────────────

const agentColumns = `id, config, query_count, avg_response_ms, short_circuit_count, last_query_at, created_at, updated_at`

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var (
		id        string
		config    []byte
		stats     models.AgentStats
		lastQuery *time.Time
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&id, &config, &stats.QueryCount, &stats.AvgResponseTimeMs, &stats.ShortCircuitCount, &lastQuery, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	agent := models.NewAgent()
	if err := json.Unmarshal(config, &agent); err != nil {
		return nil, fmt.Errorf("decode agent %s: %w", id, err)
	}
	stats.LastQueryAt = lastQuery
	agent.ID = id
	agent.Stats = stats
	agent.CreatedAt = createdAt
	agent.UpdatedAt = updatedAt
	agent.Normalize()
	return &agent, nil
}

func (s *PostgresStore) ListAgents(ctx context.Context, ownerID string) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM da_agents WHERE ($1 = '' OR owner_id = $1) ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM da_agents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "agent", Key: id}
	}
	return a, err
}

func (s *PostgresStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	agent.Normalize()

	config, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("encode agent: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO da_agents (id, owner_id, name, config, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		agent.ID, agent.OwnerID, agent.Name, config, agent.CreatedAt, agent.UpdatedAt)
	return err
}

func (s *PostgresStore) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	agent.UpdatedAt = time.Now().UTC()
	agent.Normalize()
	config, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("encode agent: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE da_agents SET owner_id = $2, name = $3, config = $4, updated_at = $5 WHERE id = $1`,
		agent.ID, agent.OwnerID, agent.Name, config, agent.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "agent", Key: agent.ID}
	}
	return nil
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM da_agents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "agent", Key: id}
	}
	return nil
}

func (s *PostgresStore) RecordAgentQuery(ctx context.Context, id string, responseTime time.Duration, shortCircuited bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE da_agents SET
			avg_response_ms = (avg_response_ms * query_count + $2) / (query_count + 1),
			query_count = query_count + 1,
			short_circuit_count = short_circuit_count + CASE WHEN $3 THEN 1 ELSE 0 END,
			last_query_at = NOW()
		 WHERE id = $1`,
		id, float64(responseTime.Milliseconds()), shortCircuited)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "agent", Key: id}
	}
	return nil
}

// ── Conversations ───────────────────────────────────────────

func (s *PostgresStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	conv.UpdatedAt = conv.CreatedAt
	conv.MessageCount = 0
	_, err := s.pool.Exec(ctx,
		`INSERT INTO da_conversations (id, agent_id, user_id, title, message_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $5)`,
		conv.ID, conv.AgentID, conv.UserID, conv.Title, conv.CreatedAt)
	return err
}

const conversationColumns = `id, agent_id, user_id, title, message_count, created_at, updated_at`

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(&c.ID, &c.AgentID, &c.UserID, &c.Title, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	c, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM da_conversations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "conversation", Key: id}
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, agentID, userID string, limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM da_conversations
		 WHERE agent_id = $1 AND user_id = $2 ORDER BY updated_at DESC LIMIT $3`,
		agentID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (s *PostgresStore) SetConversationTitle(ctx context.Context, id, title string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE da_conversations SET title = $2 WHERE id = $1`, id, title)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "conversation", Key: id}
	}
	return nil
}

// AppendMessage inserts the message and bumps the counter in one transaction.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	var metadata []byte
	if msg.Metadata != nil {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("encode message metadata: %w", err)
		}
		metadata = b
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE da_conversations SET message_count = message_count + 1, updated_at = NOW() WHERE id = $1`,
			msg.ConversationID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return &ErrNotFound{Entity: "conversation", Key: msg.ConversationID}
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO da_messages (id, conversation_id, role, content, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			msg.ID, msg.ConversationID, string(msg.Role), msg.Content, metadata, msg.CreatedAt)
		return err
	})
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	query := `SELECT id, conversation_id, role, content, metadata, created_at FROM (
			SELECT * FROM da_messages WHERE conversation_id = $1 ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq ASC`
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, query, conversationID, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.Message, 0)
	for rows.Next() {
		var (
			m        models.Message
			role     string
			metadata []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &metadata, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = models.MessageRole(role)
		if len(metadata) > 0 {
			m.Metadata = &models.MessageMetadata{}
			if err := json.Unmarshal(metadata, m.Metadata); err != nil {
				return nil, fmt.Errorf("decode message metadata: %w", err)
			}
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// ── Audit Log ───────────────────────────────────────────────

func (s *PostgresStore) AppendAuditEntry(ctx context.Context, e *models.AuditLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	filters, err := json.Marshal(e.Filters)
	if err != nil {
		return fmt.Errorf("encode audit filters: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO da_audit_log (id, type, user_id, agent_id, source, collection, tool_name, filters,
			input_summary, row_count, success, denied, error, duration_ms, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ID, string(e.Type), e.UserID, e.AgentID, string(e.Source), e.Collection, e.ToolName, filters,
		e.InputSummary, e.RowCount, e.Success, e.Denied, e.Error, e.DurationMs, e.Timestamp)
	return err
}

func (s *PostgresStore) ListAuditEntries(ctx context.Context, q models.AuditQuery) ([]models.AuditLogEntry, error) {
	where := []string{"agent_id = $1"}
	args := []interface{}{q.AgentID}
	if q.Type != "" {
		args = append(args, string(q.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if q.Since != nil {
		args = append(args, *q.Since)
		where = append(where, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if q.Until != nil {
		args = append(args, *q.Until)
		where = append(where, fmt.Sprintf("timestamp <= $%d", len(args)))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT id, type, user_id, agent_id, source, collection, tool_name, filters,
			input_summary, row_count, success, denied, error, duration_ms, timestamp
		FROM da_audit_log WHERE %s ORDER BY timestamp DESC LIMIT $%d`,
		strings.Join(where, " AND "), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.AuditLogEntry, 0)
	for rows.Next() {
		var (
			e           models.AuditLogEntry
			typ, source string
			filters     []byte
		)
		if err := rows.Scan(&e.ID, &typ, &e.UserID, &e.AgentID, &source, &e.Collection, &e.ToolName, &filters,
			&e.InputSummary, &e.RowCount, &e.Success, &e.Denied, &e.Error, &e.DurationMs, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Type = models.AuditType(typ)
		e.Source = models.AuditSource(source)
		if len(filters) > 0 {
			if err := json.Unmarshal(filters, &e.Filters); err != nil {
				return nil, fmt.Errorf("decode audit filters: %w", err)
			}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// ── Documents ───────────────────────────────────────────────

func (s *PostgresStore) PutDocument(ctx context.Context, collection string, doc Document) error {
	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
	}
	cp := make(Document, len(doc)+1)
	for k, v := range doc {
		cp[k] = v
	}
	cp["id"] = id
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO da_documents (collection, id, data) VALUES ($1, $2, $3)
		 ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data`,
		collection, id, data)
	return err
}

var sqlOps = map[Operator]string{OpEq: "=", OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<="}

// QueryDocuments compares JSONB values, so numbers compare numerically
// and strings lexically. Field names are always bound as parameters.
func (s *PostgresStore) QueryDocuments(ctx context.Context, q DocumentQuery) ([]Document, error) {
	where := []string{"collection = $1"}
	args := []interface{}{q.Collection}
	for _, p := range q.Predicates {
		op, ok := sqlOps[p.Op]
		if !ok {
			return nil, fmt.Errorf("unsupported operator %q", p.Op)
		}
		value, err := json.Marshal(p.Value)
		if err != nil {
			return nil, fmt.Errorf("encode predicate value: %w", err)
		}
		args = append(args, p.Field, string(value))
		where = append(where, fmt.Sprintf("data -> $%d %s $%d::jsonb", len(args)-1, op, len(args)))
	}

	order := "seq"
	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		order = fmt.Sprintf("data -> $%d %s NULLS LAST", len(args), dir)
	}
	query := fmt.Sprintf(`SELECT data FROM da_documents WHERE %s ORDER BY %s`, strings.Join(where, " AND "), order)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Document, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		result = append(result, doc)
	}
	return result, rows.Err()
}

// ── Lifecycle ───────────────────────────────────────────────

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
