// Package store persists client-side state in a local SQLite database:
// preferences like the auth token and selected model, and the
// conversation each agent should resume.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS preferences (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_conversations (
	agent_id        INTEGER PRIMARY KEY,
	conversation_id INTEGER NOT NULL
);
`

const (
	keyAuthToken  = "auth_token"
	keyModel      = "selected_model"
	keyTTSBackend = "tts_backend"
	keyAgentID    = "selected_agent"
)

// Store is the SQLite-backed preference and resume-state store. Safe
// for concurrent use.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (and creates, if needed) the database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := fmt.Sprintf("file:%s?_journal=WAL&_sync=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite is single-writer; serialize access.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logger.Debug("store opened", "path", path)
	return &Store{db: db, log: logger.With("component", "store")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns a preference value. The second result is false when the
// key is unset.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get preference %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores a preference value, replacing any existing one.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set preference %q: %w", key, err)
	}
	return nil
}

// Delete removes a preference.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete preference %q: %w", key, err)
	}
	return nil
}

// AuthToken returns the stored bearer token, if any.
func (s *Store) AuthToken(ctx context.Context) (string, bool, error) {
	return s.Get(ctx, keyAuthToken)
}

// SetAuthToken stores the bearer token.
func (s *Store) SetAuthToken(ctx context.Context, token string) error {
	return s.Set(ctx, keyAuthToken, token)
}

// ClearAuthToken removes the stored bearer token.
func (s *Store) ClearAuthToken(ctx context.Context) error {
	return s.Delete(ctx, keyAuthToken)
}

// SelectedModel returns the chosen model name, if any.
func (s *Store) SelectedModel(ctx context.Context) (string, bool, error) {
	return s.Get(ctx, keyModel)
}

// SetSelectedModel stores the chosen model name.
func (s *Store) SetSelectedModel(ctx context.Context, model string) error {
	return s.Set(ctx, keyModel, model)
}

// TTSBackend returns the chosen synthesis backend, if any.
func (s *Store) TTSBackend(ctx context.Context) (string, bool, error) {
	return s.Get(ctx, keyTTSBackend)
}

// SetTTSBackend stores the chosen synthesis backend.
func (s *Store) SetTTSBackend(ctx context.Context, backend string) error {
	return s.Set(ctx, keyTTSBackend, backend)
}

// SelectedAgent returns the last active agent ID.
func (s *Store) SelectedAgent(ctx context.Context) (int, bool, error) {
	value, ok, err := s.Get(ctx, keyAgentID)
	if err != nil || !ok {
		return 0, false, err
	}
	var id int
	if _, err := fmt.Sscanf(value, "%d", &id); err != nil {
		return 0, false, fmt.Errorf("parse selected agent: %w", err)
	}
	return id, true, nil
}

// SetSelectedAgent stores the active agent ID.
func (s *Store) SetSelectedAgent(ctx context.Context, agentID int) error {
	return s.Set(ctx, keyAgentID, fmt.Sprintf("%d", agentID))
}

// ConversationForAgent returns the conversation the agent should
// resume. The second result is false when none is recorded.
func (s *Store) ConversationForAgent(ctx context.Context, agentID int) (int, bool, error) {
	var conversationID int
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id FROM agent_conversations WHERE agent_id = ?`, agentID).Scan(&conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get conversation for agent %d: %w", agentID, err)
	}
	return conversationID, true, nil
}

// SetConversationForAgent records the conversation to resume for an
// agent.
func (s *Store) SetConversationForAgent(ctx context.Context, agentID, conversationID int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_conversations (agent_id, conversation_id) VALUES (?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET conversation_id = excluded.conversation_id`,
		agentID, conversationID)
	if err != nil {
		return fmt.Errorf("set conversation for agent %d: %w", agentID, err)
	}
	return nil
}

// ClearConversationForAgent forgets the resume state for an agent, so
// the next message starts a fresh conversation.
func (s *Store) ClearConversationForAgent(ctx context.Context, agentID int) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM agent_conversations WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("clear conversation for agent %d: %w", agentID, err)
	}
	return nil
}
