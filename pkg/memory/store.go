// Package memory persists mental models, the agents assigned to them, and
// the request and queue history routing relies on. It is backed by SQLite
// (modernc.org/sqlite, no cgo) with an FTS5 index for relevance matching.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/Druidia-Bot/DotBot-sub006/pkg/logx"
)

// CurrentSchemaVersion is the schema version this package writes.
const CurrentSchemaVersion = 2

// Store is the SQLite-backed memory store. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("memory: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("memory: pragma %q: %w", p, err)
		}
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logx.NewLogger("memory")}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: migration: %w", err)
	}
	s.logger.Info("Memory store opened: %s", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion returns the applied schema version, or 0 for an empty database.
func (s *Store) SchemaVersion() (int, error) {
	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("check schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}
	var version int
	err = s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) migrate() error {
	current, err := s.SchemaVersion()
	if err != nil {
		return err
	}
	for version := current + 1; version <= CurrentSchemaVersion; version++ {
		if err := s.runMigration(version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`,
			version, formatTime(time.Now())); err != nil {
			return fmt.Errorf("record schema version %d: %w", version, err)
		}
	}
	return nil
}

func (s *Store) runMigration(version int) error {
	var stmts []string
	switch version {
	case 1:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS schema_version (
				version    INTEGER PRIMARY KEY,
				applied_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS mental_models (
				slug        TEXT PRIMARY KEY,
				device_id   TEXT NOT NULL,
				name        TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS agents (
				agent_id       TEXT PRIMARY KEY,
				model_slug     TEXT NOT NULL REFERENCES mental_models(slug),
				device_id      TEXT NOT NULL,
				status         TEXT NOT NULL CHECK (status IN ('queued','running','completed','failed','stopped','blocked','waiting_on_human')),
				prompt         TEXT NOT NULL,
				workspace_path TEXT NOT NULL DEFAULT '',
				created_at     TEXT NOT NULL,
				updated_at     TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_agents_model ON agents(model_slug)`,
			`CREATE INDEX IF NOT EXISTS idx_agents_device ON agents(device_id)`,
			`CREATE TABLE IF NOT EXISTS agent_requests (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				agent_id   TEXT NOT NULL REFERENCES agents(agent_id),
				request    TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_agent_requests_agent ON agent_requests(agent_id)`,
			`CREATE TABLE IF NOT EXISTS agent_queue (
				id       TEXT PRIMARY KEY,
				agent_id TEXT NOT NULL REFERENCES agents(agent_id),
				request  TEXT NOT NULL,
				added_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_agent_queue_agent ON agent_queue(agent_id, added_at)`,
		}
	case 2:
		// Relevance index over model text and every prompt routed to its agents.
		stmts = []string{
			`CREATE VIRTUAL TABLE IF NOT EXISTS models_fts USING fts5(
				slug UNINDEXED,
				device_id UNINDEXED,
				body
			)`,
		}
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("execute %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// UpsertModel inserts or updates a mental model's descriptive fields.
func (s *Store) UpsertModel(ctx context.Context, m *MentalModel) error {
	if m.Slug == "" {
		return fmt.Errorf("upsert model: slug is required")
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO mental_models (slug, device_id, name, description, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(slug) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				updated_at = excluded.updated_at`,
			m.Slug, m.DeviceID, m.Name, m.Description, formatTime(m.CreatedAt), formatTime(m.UpdatedAt))
		if err != nil {
			return fmt.Errorf("upsert model %s: %w", m.Slug, err)
		}
		return refreshIndex(ctx, tx, m.Slug)
	})
}

// GetModel returns the model with its agents and their relayed requests.
func (s *Store) GetModel(ctx context.Context, slug string) (*MentalModel, error) {
	m := &MentalModel{Slug: slug}
	var created, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT device_id, name, description, created_at, updated_at
		FROM mental_models WHERE slug = ?`, slug).
		Scan(&m.DeviceID, &m.Name, &m.Description, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, slug)
	}
	if err != nil {
		return nil, fmt.Errorf("get model %s: %w", slug, err)
	}
	m.CreatedAt = parseTime(created)
	m.UpdatedAt = parseTime(updated)

	// Each query drains and closes its rows before the next runs: the pool
	// holds a single connection.
	if m.Agents, err = s.loadAgents(ctx, slug); err != nil {
		return nil, err
	}
	requests, err := s.loadRequests(ctx, slug)
	if err != nil {
		return nil, err
	}
	for i := range m.Agents {
		m.Agents[i].Requests = requests[m.Agents[i].AgentID]
	}
	return m, nil
}

func (s *Store) loadAgents(ctx context.Context, slug string) ([]AgentAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, device_id, status, prompt, workspace_path, created_at
		FROM agents WHERE model_slug = ? ORDER BY created_at, agent_id`, slug)
	if err != nil {
		return nil, fmt.Errorf("get agents for %s: %w", slug, err)
	}
	defer func() { _ = rows.Close() }()

	var agents []AgentAssignment
	for rows.Next() {
		var a AgentAssignment
		var status, createdAt string
		if err := rows.Scan(&a.AgentID, &a.DeviceID, &status, &a.Prompt, &a.WorkspacePath, &createdAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.Status = AgentStatus(status)
		a.CreatedAt = parseTime(createdAt)
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}

func (s *Store) loadRequests(ctx context.Context, slug string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.agent_id, r.request
		FROM agent_requests r JOIN agents a ON a.agent_id = r.agent_id
		WHERE a.model_slug = ? ORDER BY r.id`, slug)
	if err != nil {
		return nil, fmt.Errorf("get requests for %s: %w", slug, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]string)
	for rows.Next() {
		var agentID, request string
		if err := rows.Scan(&agentID, &request); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out[agentID] = append(out[agentID], request)
	}
	return out, rows.Err()
}

// UpsertAgent assigns an agent to a model, creating or replacing its record.
func (s *Store) UpsertAgent(ctx context.Context, modelSlug string, a *AgentAssignment) error {
	if !a.Status.IsValid() {
		return fmt.Errorf("upsert agent %s: invalid status %q", a.AgentID, a.Status)
	}
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agents (agent_id, model_slug, device_id, status, prompt, workspace_path, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(agent_id) DO UPDATE SET
				model_slug = excluded.model_slug,
				status = excluded.status,
				prompt = excluded.prompt,
				workspace_path = excluded.workspace_path,
				updated_at = excluded.updated_at`,
			a.AgentID, modelSlug, a.DeviceID, string(a.Status), a.Prompt, a.WorkspacePath,
			formatTime(a.CreatedAt), formatTime(now))
		if err != nil {
			return fmt.Errorf("upsert agent %s: %w", a.AgentID, err)
		}
		return refreshIndex(ctx, tx, modelSlug)
	})
}

// UpdateAgentStatus sets the persisted status of an agent.
func (s *Store) UpdateAgentStatus(ctx context.Context, agentID string, status AgentStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("update agent %s: invalid status %q", agentID, status)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET status = ?, updated_at = ? WHERE agent_id = ?`,
		string(status), formatTime(time.Now()), agentID)
	if err != nil {
		return fmt.Errorf("update agent %s status: %w", agentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return nil
}

// AppendRequest records a follow-up instruction relayed to an agent.
func (s *Store) AppendRequest(ctx context.Context, agentID, request string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var slug string
		err := tx.QueryRowContext(ctx, `SELECT model_slug FROM agents WHERE agent_id = ?`, agentID).Scan(&slug)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
		}
		if err != nil {
			return fmt.Errorf("lookup agent %s: %w", agentID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO agent_requests (agent_id, request, created_at) VALUES (?, ?, ?)`,
			agentID, request, formatTime(time.Now())); err != nil {
			return fmt.Errorf("append request for %s: %w", agentID, err)
		}
		return refreshIndex(ctx, tx, slug)
	})
}

// AppendQueueEntry persists a queued request for an agent.
func (s *Store) AppendQueueEntry(ctx context.Context, agentID string, e QueueEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO agent_queue (id, agent_id, request, added_at) VALUES (?, ?, ?, ?)`,
		e.ID, agentID, e.Request, formatTime(e.AddedAt))
	if err != nil {
		return fmt.Errorf("append queue entry for %s: %w", agentID, err)
	}
	return nil
}

// QueueEntries returns an agent's persisted queue, oldest first.
func (s *Store) QueueEntries(ctx context.Context, agentID string) ([]QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, request, added_at FROM agent_queue WHERE agent_id = ? ORDER BY added_at, id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query queue for %s: %w", agentID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []QueueEntry
	for rows.Next() {
		var e QueueEntry
		var added string
		if err := rows.Scan(&e.ID, &e.Request, &added); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		e.AddedAt = parseTime(added)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func firstLine(s string) string {
	for i := range s {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
