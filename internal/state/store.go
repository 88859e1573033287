package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flitsinc/agent-worlds/internal/world"
)

var ErrNotFound = errors.New("not found")

// Store persists world and agent configuration plus agent memory. Saves stamp
// last_updated and preserve created_at across updates.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) SaveWorld(ctx context.Context, w world.World) error {
	if w.ID == "" {
		return fmt.Errorf("world id is required")
	}
	now := time.Now().UTC()
	createdAt := w.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worlds (id, name, chat_id, turn_limit, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			chat_id = excluded.chat_id,
			turn_limit = excluded.turn_limit,
			last_updated = excluded.last_updated
	`, w.ID, w.Name, nullString(w.ChatID), w.TurnLimit, createdAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save world: %w", err)
	}
	return nil
}

func (s *Store) GetWorld(ctx context.Context, id string) (world.World, error) {
	var w world.World
	var chatID sql.NullString
	var createdAtStr, lastUpdatedStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, chat_id, turn_limit, created_at, last_updated FROM worlds WHERE id = ?
	`, id).Scan(&w.ID, &w.Name, &chatID, &w.TurnLimit, &createdAtStr, &lastUpdatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return world.World{}, fmt.Errorf("world %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return world.World{}, fmt.Errorf("load world: %w", err)
	}
	w.ChatID = chatID.String
	w.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	w.LastUpdated, _ = time.Parse(time.RFC3339Nano, lastUpdatedStr)
	return w, nil
}

func (s *Store) ListWorlds(ctx context.Context) ([]world.World, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, chat_id, turn_limit, created_at, last_updated FROM worlds ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list worlds: %w", err)
	}
	defer rows.Close()

	var out []world.World
	for rows.Next() {
		var w world.World
		var chatID sql.NullString
		var createdAtStr, lastUpdatedStr string
		if err := rows.Scan(&w.ID, &w.Name, &chatID, &w.TurnLimit, &createdAtStr, &lastUpdatedStr); err != nil {
			return nil, fmt.Errorf("scan world: %w", err)
		}
		w.ChatID = chatID.String
		w.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		w.LastUpdated, _ = time.Parse(time.RFC3339Nano, lastUpdatedStr)
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate worlds: %w", err)
	}
	return out, nil
}

// SaveAgent upserts agent configuration. Memory is persisted separately via
// AppendTurn so config saves stay cheap.
func (s *Store) SaveAgent(ctx context.Context, worldID string, a world.Agent) error {
	if worldID == "" || a.ID == "" {
		return fmt.Errorf("world id and agent id are required")
	}
	now := time.Now().UTC()
	var lastCall any
	if !a.LastLLMCall.IsZero() {
		lastCall = a.LastLLMCall.Format(time.RFC3339Nano)
	}
	err := execWithRetry(ctx, s.db, `
		INSERT INTO agents (world_id, id, name, system_prompt, status, llm_call_count, last_llm_call, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(world_id, id) DO UPDATE SET
			name = excluded.name,
			system_prompt = excluded.system_prompt,
			status = excluded.status,
			llm_call_count = excluded.llm_call_count,
			last_llm_call = excluded.last_llm_call,
			last_updated = excluded.last_updated
	`, worldID, a.ID, a.Name, nullString(a.SystemPrompt), nullString(a.Status), a.LLMCallCount, lastCall,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

// ListAgents returns agent configuration without memory. Use LoadMemory to
// hydrate memory for a runtime.
func (s *Store) ListAgents(ctx context.Context, worldID string) ([]world.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, system_prompt, status, llm_call_count, last_llm_call
		FROM agents WHERE world_id = ? ORDER BY created_at ASC, id ASC
	`, worldID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []world.Agent
	for rows.Next() {
		var a world.Agent
		var prompt, status, lastCall sql.NullString
		if err := rows.Scan(&a.ID, &a.Name, &prompt, &status, &a.LLMCallCount, &lastCall); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.SystemPrompt = prompt.String
		a.Status = status.String
		if lastCall.Valid {
			a.LastLLMCall, _ = time.Parse(time.RFC3339Nano, lastCall.String)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return out, nil
}

func (s *Store) AppendTurn(ctx context.Context, worldID, agentID string, t world.Turn) error {
	if worldID == "" || agentID == "" {
		return fmt.Errorf("world id and agent id are required")
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	err := execWithRetry(ctx, s.db, `
		INSERT INTO agent_memory (world_id, agent_id, role, content, sender, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, worldID, agentID, string(t.Role), t.Content, nullString(t.Sender), createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// LoadMemory returns an agent's memory oldest-first, in insertion order.
func (s *Store) LoadMemory(ctx context.Context, worldID, agentID string) ([]world.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, sender, created_at
		FROM agent_memory WHERE world_id = ? AND agent_id = ? ORDER BY rowid ASC
	`, worldID, agentID)
	if err != nil {
		return nil, fmt.Errorf("load memory: %w", err)
	}
	defer rows.Close()

	var out []world.Turn
	for rows.Next() {
		var t world.Turn
		var role string
		var sender sql.NullString
		var createdAtStr string
		if err := rows.Scan(&role, &t.Content, &sender, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = world.Role(role)
		t.Sender = sender.String
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory: %w", err)
	}
	return out, nil
}

// ArchiveMemory moves an agent's memory rows into the archive table and
// returns the number of turns archived.
func (s *Store) ArchiveMemory(ctx context.Context, worldID, agentID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO agent_memory_archive (world_id, agent_id, role, content, sender, created_at, archived_at)
		SELECT world_id, agent_id, role, content, sender, created_at, ? FROM agent_memory
		WHERE world_id = ? AND agent_id = ?
	`, now, worldID, agentID)
	if err != nil {
		return 0, fmt.Errorf("archive memory: %w", err)
	}
	moved, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archive memory rows affected: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_memory WHERE world_id = ? AND agent_id = ?`, worldID, agentID); err != nil {
		return 0, fmt.Errorf("clear memory: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit archive: %w", err)
	}
	return int(moved), nil
}
