// Package sqlstore is the SQLite-backed Store implementation. One
// messages table carries both canonical agent_parts rows and display
// rows, distinguished by msg_type and ordered by one per-session
// sequence, mirroring the dual-write contract.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Terryzhang-jp/curise-agent/kernel/session"
	"github.com/Terryzhang-jp/curise-agent/kernel/stream"
)

const (
	driver = "sqlite"
	dsnOpt = "?_pragma=busy_timeout(3000)&_pragma=journal_mode(WAL)"

	canonicalType = "agent_parts"
)

const schema = `
CREATE TABLE IF NOT EXISTS agent_sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	summary_message_id TEXT NOT NULL DEFAULT '',
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS agent_messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	msg_type TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	parts TEXT,
	model TEXT NOT NULL DEFAULT '',
	meta TEXT,
	created_at INTEGER NOT NULL,
	UNIQUE(session_id, sequence)
);
CREATE INDEX IF NOT EXISTS agent_messages_by_session
	ON agent_messages(session_id, sequence);
`

// Store is a SQLite-backed session store. Sequence assignment is
// serialized with an internal mutex; the engine is the single writer
// per session by contract.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

var (
	_ session.Store          = (*Store)(nil)
	_ session.AnswerStreamer = (*Store)(nil)
)

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlstore: path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlstore: create dir: %w", err)
		}
	}
	db, err := sql.Open(driver, path+dsnOpt)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open db: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) CreateSession(ctx context.Context, title string) (*session.Session, error) {
	now := time.Now()
	sess := session.Session{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	const q = `INSERT INTO agent_sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, sess.ID, sess.Title, now.UnixMilli(), now.UnixMilli()); err != nil {
		return nil, fmt.Errorf("sqlstore: create session: %w", err)
	}
	return &sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	const q = `
SELECT id, title, summary_message_id, prompt_tokens, completion_tokens, created_at, updated_at
FROM agent_sessions WHERE id = ?`
	var (
		sess                 session.Session
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&sess.ID, &sess.Title, &sess.SummaryMessageID,
		&sess.PromptTokens, &sess.CompletionTokens,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get session: %w", err)
	}
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.UpdatedAt = time.UnixMilli(updatedAt)
	return &sess, nil
}

// ListSessions returns every session, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]*session.Session, error) {
	const q = `
SELECT id, title, summary_message_id, prompt_tokens, completion_tokens, created_at, updated_at
FROM agent_sessions ORDER BY updated_at DESC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		var (
			sess                 session.Session
			createdAt, updatedAt int64
		)
		if err := rows.Scan(
			&sess.ID, &sess.Title, &sess.SummaryMessageID,
			&sess.PromptTokens, &sess.CompletionTokens,
			&createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlstore: scan session: %w", err)
		}
		sess.CreatedAt = time.UnixMilli(createdAt)
		sess.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, &sess)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSession(ctx context.Context, id string, upd session.SessionUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UnixMilli()}
	if upd.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.SummaryMessageID != nil {
		sets = append(sets, "summary_message_id = ?")
		args = append(args, *upd.SummaryMessageID)
	}
	args = append(args, id)
	q := "UPDATE agent_sessions SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("sqlstore: update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: update session: %w", err)
	}
	if affected == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, sessionID, role string, parts []session.Part, model string) (*session.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createMessageLocked(ctx, sessionID, role, parts, model)
}

func (s *Store) createMessageLocked(ctx context.Context, sessionID, role string, parts []session.Part, model string) (*session.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	partsJSON, err := session.MarshalParts(parts)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encode parts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int
	const seqQ = `SELECT COALESCE(MAX(sequence), 0) + 1 FROM agent_messages WHERE session_id = ?`
	if err := tx.QueryRowContext(ctx, seqQ, sessionID).Scan(&seq); err != nil {
		return nil, fmt.Errorf("sqlstore: next sequence: %w", err)
	}

	now := time.Now()
	msg := &session.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Sequence:  seq,
		Role:      role,
		Parts:     parts,
		Model:     model,
		CreatedAt: now,
	}
	const insQ = `
INSERT INTO agent_messages (id, session_id, sequence, msg_type, role, content, parts, model, meta, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insQ,
		msg.ID, sessionID, seq, canonicalType, role, "", string(partsJSON), model, nil, now.UnixMilli(),
	); err != nil {
		return nil, fmt.Errorf("sqlstore: insert message: %w", err)
	}

	for _, row := range session.DeriveDisplayRows(role, parts) {
		seq++
		var metaJSON any
		if row.Meta != nil {
			raw, err := json.Marshal(row.Meta)
			if err != nil {
				return nil, fmt.Errorf("sqlstore: encode display meta: %w", err)
			}
			metaJSON = string(raw)
		}
		if _, err := tx.ExecContext(ctx, insQ,
			uuid.NewString(), sessionID, seq, row.Kind, row.Role, row.Content, nil, "", metaJSON, now.UnixMilli(),
		); err != nil {
			return nil, fmt.Errorf("sqlstore: insert display row: %w", err)
		}
	}

	const touchQ = `UPDATE agent_sessions SET updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, touchQ, now.UnixMilli(), sessionID); err != nil {
		return nil, fmt.Errorf("sqlstore: touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlstore: commit: %w", err)
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID, fromID string) ([]*session.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	fromSeq := 0
	if fromID != "" {
		const fromQ = `SELECT sequence FROM agent_messages WHERE id = ? AND session_id = ?`
		switch err := s.db.QueryRowContext(ctx, fromQ, fromID, sessionID).Scan(&fromSeq); {
		case errors.Is(err, sql.ErrNoRows):
			fromSeq = 0
		case err != nil:
			return nil, fmt.Errorf("sqlstore: resolve from id: %w", err)
		}
	}

	const q = `
SELECT id, sequence, role, parts, model, created_at
FROM agent_messages
WHERE session_id = ? AND msg_type = ? AND sequence >= ?
ORDER BY sequence`
	rows, err := s.db.QueryContext(ctx, q, sessionID, canonicalType, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list messages: %w", err)
	}
	defer rows.Close()

	var out []*session.Message
	for rows.Next() {
		var (
			msg       session.Message
			partsJSON sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.Sequence, &msg.Role, &partsJSON, &msg.Model, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlstore: scan message: %w", err)
		}
		if partsJSON.Valid {
			parts, err := session.UnmarshalParts([]byte(partsJSON.String))
			if err != nil {
				return nil, err
			}
			msg.Parts = parts
		}
		msg.SessionID = sessionID
		msg.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, &msg)
	}
	return out, rows.Err()
}

func (s *Store) ListDisplayRows(ctx context.Context, sessionID string) ([]*session.DisplayRow, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	const q = `
SELECT id, sequence, msg_type, role, content, meta, created_at
FROM agent_messages
WHERE session_id = ? AND msg_type != ?
ORDER BY sequence`
	rows, err := s.db.QueryContext(ctx, q, sessionID, canonicalType)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list display rows: %w", err)
	}
	defer rows.Close()

	var out []*session.DisplayRow
	for rows.Next() {
		var (
			row       session.DisplayRow
			metaJSON  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&row.ID, &row.Sequence, &row.Kind, &row.Role, &row.Content, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlstore: scan display row: %w", err)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &row.Meta); err != nil {
				return nil, fmt.Errorf("sqlstore: decode display meta: %w", err)
			}
		}
		row.SessionID = sessionID
		row.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, &row)
	}
	return out, rows.Err()
}

func (s *Store) AddTokenUsage(ctx context.Context, sessionID string, promptTokens, completionTokens int) error {
	const q = `
UPDATE agent_sessions
SET prompt_tokens = prompt_tokens + ?,
    completion_tokens = completion_tokens + ?,
    updated_at = ?
WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, promptTokens, completionTokens, time.Now().UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("sqlstore: add token usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: add token usage: %w", err)
	}
	if affected == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

// StreamFinalAnswer persists the assistant message atomically, then
// paces the text out through q as token events.
func (s *Store) StreamFinalAnswer(ctx context.Context, sessionID string, parts []session.Part, finalText, model string, q *stream.Queue) (*session.Message, error) {
	s.mu.Lock()
	msg, err := s.createMessageLocked(ctx, sessionID, session.RoleAssistant, parts, model)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	stream.Answer(ctx, q, msg.ID, finalText)
	return msg, nil
}
