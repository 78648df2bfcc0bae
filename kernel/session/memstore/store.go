// Package memstore is the in-memory Store implementation, used by tests
// and the example wiring. It keeps the same dual-write behavior as the
// SQLite store: one canonical message plus derived display rows, all
// under one per-session sequence.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Terryzhang-jp/curise-agent/kernel/session"
	"github.com/Terryzhang-jp/curise-agent/kernel/stream"
)

type entry struct {
	session  session.Session
	messages []*session.Message
	rows     []*session.DisplayRow
	nextSeq  int
}

// Store is a thread-safe in-memory session store.
type Store struct {
	mu   sync.RWMutex
	data map[string]*entry
}

// New returns an empty store.
func New() *Store {
	return &Store{data: make(map[string]*entry)}
}

var (
	_ session.Store          = (*Store)(nil)
	_ session.AnswerStreamer = (*Store)(nil)
)

func (s *Store) CreateSession(ctx context.Context, title string) (*session.Session, error) {
	_ = ctx
	now := time.Now()
	sess := session.Session{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sess.ID] = &entry{session: sess, nextSeq: 1}
	out := sess
	return &out, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	out := e.session
	return &out, nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, upd session.SessionUpdate) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[id]
	if !ok {
		return session.ErrSessionNotFound
	}
	if upd.Title != nil {
		e.session.Title = *upd.Title
	}
	if upd.SummaryMessageID != nil {
		e.session.SummaryMessageID = *upd.SummaryMessageID
	}
	e.session.UpdatedAt = time.Now()
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, sessionID, role string, parts []session.Part, model string) (*session.Message, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createMessageLocked(sessionID, role, parts, model)
}

func (s *Store) createMessageLocked(sessionID, role string, parts []session.Part, model string) (*session.Message, error) {
	e, ok := s.data[sessionID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	now := time.Now()
	msg := &session.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Sequence:  e.nextSeq,
		Role:      role,
		Parts:     append([]session.Part(nil), parts...),
		Model:     model,
		CreatedAt: now,
	}
	e.nextSeq++
	e.messages = append(e.messages, msg)

	for _, row := range session.DeriveDisplayRows(role, parts) {
		r := row
		r.ID = uuid.NewString()
		r.SessionID = sessionID
		r.Sequence = e.nextSeq
		r.CreatedAt = now
		e.nextSeq++
		e.rows = append(e.rows, &r)
	}

	e.session.UpdatedAt = now
	out := *msg
	return &out, nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID, fromID string) ([]*session.Message, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[sessionID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	fromSeq := 0
	if fromID != "" {
		for _, m := range e.messages {
			if m.ID == fromID {
				fromSeq = m.Sequence
				break
			}
		}
	}
	out := make([]*session.Message, 0, len(e.messages))
	for _, m := range e.messages {
		if m.Sequence < fromSeq {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) ListDisplayRows(ctx context.Context, sessionID string) ([]*session.DisplayRow, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[sessionID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	out := make([]*session.DisplayRow, 0, len(e.rows))
	for _, r := range e.rows {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) AddTokenUsage(ctx context.Context, sessionID string, promptTokens, completionTokens int) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[sessionID]
	if !ok {
		return session.ErrSessionNotFound
	}
	e.session.PromptTokens += promptTokens
	e.session.CompletionTokens += completionTokens
	e.session.UpdatedAt = time.Now()
	return nil
}

// StreamFinalAnswer persists the assistant message atomically, then
// paces the text out through q as token events.
func (s *Store) StreamFinalAnswer(ctx context.Context, sessionID string, parts []session.Part, finalText, model string, q *stream.Queue) (*session.Message, error) {
	s.mu.Lock()
	msg, err := s.createMessageLocked(sessionID, session.RoleAssistant, parts, model)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	stream.Answer(ctx, q, msg.ID, finalText)
	return msg, nil
}
