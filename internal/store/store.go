// ABOUTME: Store interface and data types for loom-gateway persistence
// ABOUTME: Defines Session, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when trying to create a session that already exists
var ErrDuplicateSession = errors.New("session already exists")

// Role constants for message authorship
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ValidRole reports whether role is one of the known message roles.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant || role == RoleSystem
}

// Session represents a conversation thread bound to one user, one provider
// and one model. The provider/model pair is validated by the chat service
// before a session is ever written.
type Session struct {
	ID            string
	UserID        string
	Title         string
	SystemContext string
	Provider      string
	Model         string
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Message represents a single immutable turn within a session.
// Content is never rewritten after creation; edits are new messages.
type Message struct {
	ID        string
	SessionID string
	Role      string // "user", "assistant" or "system"
	Content   string
	Model     string // model that produced it (assistant messages only)
	Tokens    int    // estimated token count, 0 when unknown
	CreatedAt time.Time
}

// Store defines the persistence port consumed by the chat service.
// Any implementation satisfying these operations is conformant; the
// reference implementations are SQLiteStore and MockStore.
type Store interface {
	// Sessions
	SaveSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, session *Session) error
	ListSessionsByUser(ctx context.Context, userID string, offset, limit int) ([]*Session, error)
	CountSessionsByUser(ctx context.Context, userID string) (int, error)
	DeleteSession(ctx context.Context, id string) error

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	// GetSessionMessages returns the most recent `limit` messages in
	// chronological order (oldest first). limit <= 0 returns everything.
	GetSessionMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error)
	DeleteSessionMessages(ctx context.Context, sessionID string) error

	// Close releases any resources held by the store
	Close() error
}
