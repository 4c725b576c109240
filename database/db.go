package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	apperrors "sensor-agent/errors"
	"sensor-agent/web/types"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists sessions, transcripts, and per-session agent state.
type PostgresStore struct {
	DB *sql.DB
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrDatabaseOperation, err.Error())
	}
	if err := db.Ping(); err != nil {
		return nil, apperrors.WrapError(apperrors.ErrDatabaseOperation, err.Error())
	}
	return &PostgresStore{DB: db}, nil
}

// EnsureSchema creates the required tables if they do not already exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
            id UUID PRIMARY KEY,
            created_at TIMESTAMPTZ DEFAULT NOW(),
            last_active TIMESTAMPTZ DEFAULT NOW(),
            workspace_path TEXT NOT NULL,
            title TEXT DEFAULT '',
            is_active BOOLEAN DEFAULT TRUE
        )`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active DESC)`,
		`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY,
            session_id UUID REFERENCES sessions(id) ON DELETE CASCADE,
            role TEXT NOT NULL,
            content TEXT NOT NULL,
            created_at TIMESTAMPTZ DEFAULT NOW()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_created_at ON messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS agent_state (
            session_id UUID PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
            team_state JSONB,
            artifact_path TEXT DEFAULT '',
            artifact_name TEXT DEFAULT '',
            updated_at TIMESTAMPTZ DEFAULT NOW()
        )`,
	}

	for _, stmt := range stmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, workspaceBase string) (uuid.UUID, error) {
	sessionID := uuid.New()
	workspacePath := filepath.Join(workspaceBase, sessionID.String())
	now := time.Now()
	initialTitle := fmt.Sprintf("Chat from %s", now.Format("January 2, 2006"))

	query := `
        INSERT INTO sessions (id, created_at, last_active, workspace_path, title, is_active)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	if _, err := s.DB.ExecContext(ctx, query, sessionID, now, now, workspacePath, initialTitle, true); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sessionID, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID uuid.UUID) (*types.Session, error) {
	query := `
		SELECT id, created_at, last_active, workspace_path, title, is_active
		FROM sessions WHERE id = $1
	`
	var sess types.Session
	err := s.DB.QueryRowContext(ctx, query, sessionID).
		Scan(&sess.ID, &sess.CreatedAt, &sess.LastActive, &sess.WorkspacePath, &sess.Title, &sess.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

func (s *PostgresStore) GetSessions(ctx context.Context) ([]types.Session, error) {
	query := `
		SELECT id, created_at, last_active, workspace_path, title, is_active
		FROM sessions
		WHERE is_active = true
		ORDER BY last_active DESC
	`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []types.Session
	for rows.Next() {
		var sess types.Session
		if err := rows.Scan(&sess.ID, &sess.CreatedAt, &sess.LastActive, &sess.WorkspacePath, &sess.Title, &sess.IsActive); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) UpdateSessionTitle(ctx context.Context, sessionID uuid.UUID, title string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE sessions SET title = $1 WHERE id = $2`, title, sessionID)
	return err
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg types.ChatMessage) error {
	query := `
		INSERT INTO messages (id, session_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	messageUUID, err := uuid.Parse(msg.ID)
	if err != nil {
		return fmt.Errorf("invalid message ID: %w", err)
	}
	sessionUUID, err := uuid.Parse(msg.SessionID)
	if err != nil {
		return fmt.Errorf("invalid session ID in message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, messageUUID, sessionUUID, msg.Role, msg.Content, time.Now()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET last_active = $1 WHERE id = $2`, time.Now(), sessionUUID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) GetMessagesBySession(ctx context.Context, sessionID uuid.UUID) ([]types.ChatMessage, error) {
	query := `
		SELECT id, session_id, role, content FROM messages
		WHERE session_id = $1 ORDER BY created_at ASC
	`
	rows, err := s.DB.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []types.ChatMessage
	for rows.Next() {
		var msg types.ChatMessage
		var sessionUUID uuid.UUID
		if err := rows.Scan(&msg.ID, &sessionUUID, &msg.Role, &msg.Content); err != nil {
			return nil, err
		}
		msg.SessionID = sessionUUID.String()
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// SaveAgentState upserts the team snapshot and artifact slot for a session.
// Losing this write degrades continuity, not correctness, so callers log the
// error and continue.
func (s *PostgresStore) SaveAgentState(ctx context.Context, sessionID uuid.UUID, sctx *types.SessionContext) error {
	query := `
		INSERT INTO agent_state (session_id, team_state, artifact_path, artifact_name, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			team_state = EXCLUDED.team_state,
			artifact_path = EXCLUDED.artifact_path,
			artifact_name = EXCLUDED.artifact_name,
			updated_at = NOW()
	`
	// JSONB wants a text-typed parameter, not bytea.
	var state any
	if len(sctx.TeamState) > 0 {
		state = string(sctx.TeamState)
	}
	_, err := s.DB.ExecContext(ctx, query, sessionID, state, sctx.LastArtifactPath, sctx.LastArtifactName)
	return err
}

// LoadAgentState fills the team snapshot and artifact slot of sctx from the
// database. A missing row leaves sctx untouched.
func (s *PostgresStore) LoadAgentState(ctx context.Context, sessionID uuid.UUID, sctx *types.SessionContext) error {
	query := `SELECT team_state, artifact_path, artifact_name FROM agent_state WHERE session_id = $1`
	var state []byte
	var path, name string
	err := s.DB.QueryRowContext(ctx, query, sessionID).Scan(&state, &path, &name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	sctx.TeamState = state
	sctx.LastArtifactPath = path
	sctx.LastArtifactName = name
	return nil
}
