// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session   // keyed by session ID
	messages map[string][]*Message // keyed by session ID, insertion order
	seq      map[string]int        // insertion sequence per message ID

	// Error injection for failure-path tests. When set, the corresponding
	// operation returns the error instead of mutating state.
	SaveSessionErr error
	SaveMessageErr error
	nextSeq        int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions: make(map[string]*Session),
		messages: make(map[string][]*Message),
		seq:      make(map[string]int),
	}
}

// SaveSession stores a new session.
func (m *MockStore) SaveSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveSessionErr != nil {
		return m.SaveSessionErr
	}
	if _, exists := m.sessions[session.ID]; exists {
		return ErrDuplicateSession
	}

	// Copy to avoid external modification
	s := *session
	m.sessions[s.ID] = &s
	return nil
}

// GetSession retrieves a session by ID.
func (m *MockStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	result := *s
	return &result, nil
}

// UpdateSession replaces an existing session.
func (m *MockStore) UpdateSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; !ok {
		return ErrNotFound
	}

	s := *session
	m.sessions[s.ID] = &s
	return nil
}

// ListSessionsByUser returns a page of the user's sessions, most recently
// updated first.
func (m *MockStore) ListSessionsByUser(ctx context.Context, userID string, offset, limit int) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var sessions []*Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			copied := *s
			sessions = append(sessions, &copied)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	if offset >= len(sessions) {
		return nil, nil
	}
	end := offset + limit
	if end > len(sessions) {
		end = len(sessions)
	}
	return sessions[offset:end], nil
}

// CountSessionsByUser returns the number of sessions owned by a user.
func (m *MockStore) CountSessionsByUser(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, s := range m.sessions {
		if s.UserID == userID {
			count++
		}
	}
	return count, nil
}

// DeleteSession removes a session.
func (m *MockStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// SaveMessage appends a message to its session's history.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveMessageErr != nil {
		return m.SaveMessageErr
	}

	copied := *msg
	m.nextSeq++
	m.seq[copied.ID] = m.nextSeq
	m.messages[copied.SessionID] = append(m.messages[copied.SessionID], &copied)
	return nil
}

// GetSessionMessages returns the most recent `limit` messages in
// chronological order. limit <= 0 returns everything.
func (m *MockStore) GetSessionMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.messages[sessionID]
	msgs := make([]*Message, 0, len(stored))
	for _, msg := range stored {
		copied := *msg
		msgs = append(msgs, &copied)
	}

	// Stable sort: creation time, insertion order as tiebreaker
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return m.seq[msgs[i].ID] < m.seq[msgs[j].ID]
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// DeleteSessionMessages removes all messages for a session.
func (m *MockStore) DeleteSessionMessages(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.messages[sessionID] {
		delete(m.seq, msg.ID)
	}
	delete(m.messages, sessionID)
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
