// Package session defines the conversation storage contract: sessions,
// canonical part-based messages, and the display rows derived from them.
// Every store implementation must keep the dual-write invariant: one
// canonical message per create call plus the derived display rows, both
// under the same per-session sequence.
package session

import (
	"context"
	"errors"
	"time"
)

var ErrSessionNotFound = errors.New("session: not found")

// Roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Session is one logical conversation. SummaryMessageID points at the
// newest compaction summary; history reconstruction reloads only that
// message and everything after it.
type Session struct {
	ID               string
	Title            string
	SummaryMessageID string
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Message is one canonical turn. Messages are immutable once created;
// corrections happen by appending new messages.
type Message struct {
	ID        string
	SessionID string
	Sequence  int
	Role      string
	Parts     []Part
	Model     string
	CreatedAt time.Time
}

// SessionUpdate names the session fields the engine may change.
type SessionUpdate struct {
	Title            *string
	SummaryMessageID *string
}

// Store is the storage contract consumed by the engine. Implementations
// must serialize sequence assignment per session; concurrent runs
// against the same session are not supported.
type Store interface {
	CreateSession(ctx context.Context, title string) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, id string, upd SessionUpdate) error

	// CreateMessage appends one canonical message and its derived
	// display rows under consecutive sequence numbers.
	CreateMessage(ctx context.Context, sessionID, role string, parts []Part, model string) (*Message, error)

	// ListMessages returns canonical messages in sequence order. A
	// non-empty fromID restricts the result to that message and
	// everything after it (the compaction summary stays included).
	ListMessages(ctx context.Context, sessionID, fromID string) ([]*Message, error)

	// ListDisplayRows returns the derived display rows in sequence order.
	ListDisplayRows(ctx context.Context, sessionID string) ([]*DisplayRow, error)

	// AddTokenUsage adds to the session's cumulative token counters.
	AddTokenUsage(ctx context.Context, sessionID string, promptTokens, completionTokens int) error
}

// AddUserMessage appends a user turn with a single text part.
func AddUserMessage(ctx context.Context, s Store, sessionID, text string) (*Message, error) {
	return s.CreateMessage(ctx, sessionID, RoleUser, []Part{Text(text)}, "")
}

// AddAssistantMessage appends an assistant turn.
func AddAssistantMessage(ctx context.Context, s Store, sessionID string, parts []Part, model string) (*Message, error) {
	return s.CreateMessage(ctx, sessionID, RoleAssistant, parts, model)
}

// AddToolMessage appends a tool-results turn.
func AddToolMessage(ctx context.Context, s Store, sessionID string, parts []Part) (*Message, error) {
	return s.CreateMessage(ctx, sessionID, RoleTool, parts, "")
}
