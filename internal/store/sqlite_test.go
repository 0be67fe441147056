// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Exercises session/message CRUD, ordering and the deletion order contract

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSession(userID string) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     "New conversation",
		Provider:  "openai",
		Model:     "gpt-4o",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLiteStore_SaveAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := testSession("user-1")
	session.SystemContext = "You are terse."
	require.NoError(t, s.SaveSession(ctx, session))

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "You are terse.", got.SystemContext)
	assert.Equal(t, "openai", got.Provider)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.True(t, got.Active)
	assert.WithinDuration(t, session.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestSQLiteStore_SaveSession_Duplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := testSession("user-1")
	require.NoError(t, s.SaveSession(ctx, session))

	err := s.SaveSession(ctx, session)
	assert.ErrorIs(t, err, ErrDuplicateSession)
}

func TestSQLiteStore_GetSession_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_UpdateSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := testSession("user-1")
	require.NoError(t, s.SaveSession(ctx, session))

	session.Title = "Renamed"
	session.Model = "gpt-4o-mini"
	session.UpdatedAt = time.Now().Add(time.Second)
	require.NoError(t, s.UpdateSession(ctx, session))

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, "gpt-4o-mini", got.Model)
}

func TestSQLiteStore_UpdateSession_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateSession(context.Background(), testSession("user-1"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListSessionsByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 3; i++ {
		session := testSession("user-1")
		session.UpdatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.SaveSession(ctx, session))
	}
	require.NoError(t, s.SaveSession(ctx, testSession("user-2")))

	sessions, err := s.ListSessionsByUser(ctx, "user-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 3)

	// Most recently updated first
	assert.True(t, sessions[0].UpdatedAt.After(sessions[1].UpdatedAt))
	assert.True(t, sessions[1].UpdatedAt.After(sessions[2].UpdatedAt))

	// Pagination
	page, err := s.ListSessionsByUser(ctx, "user-1", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	count, err := s.CountSessionsByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSQLiteStore_Messages_ChronologicalOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := testSession("user-1")
	require.NoError(t, s.SaveSession(ctx, session))

	base := time.Now()
	contents := []string{"first", "second", "third", "fourth"}
	for i, c := range contents {
		msg := &Message{
			ID:        uuid.New().String(),
			SessionID: session.ID,
			Role:      RoleUser,
			Content:   c,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, s.SaveMessage(ctx, msg))
	}

	all, err := s.GetSessionMessages(ctx, session.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, c := range contents {
		assert.Equal(t, c, all[i].Content)
	}

	// limit returns the most recent N, still oldest-first
	recent, err := s.GetSessionMessages(ctx, session.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].Content)
	assert.Equal(t, "fourth", recent[1].Content)
}

func TestSQLiteStore_Messages_OrderWithTrailingZeroFractions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := testSession("user-1")
	require.NoError(t, s.SaveSession(ctx, session))

	// Same second, fractions of different widths. A trimming format would
	// store "...00.1Z" and "...00.15Z", which byte-compare in the wrong
	// order; the fixed-width layout must keep these chronological.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	offsets := []time.Duration{100 * time.Millisecond, 150 * time.Millisecond, 200 * time.Millisecond}
	contents := []string{"first", "second", "third"}
	for i, c := range contents {
		msg := &Message{
			ID:        uuid.New().String(),
			SessionID: session.ID,
			Role:      RoleUser,
			Content:   c,
			CreatedAt: base.Add(offsets[i]),
		}
		require.NoError(t, s.SaveMessage(ctx, msg))
	}

	got, err := s.GetSessionMessages(ctx, session.ID, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, c := range contents {
		assert.Equal(t, c, got[i].Content)
		assert.WithinDuration(t, base.Add(offsets[i]), got[i].CreatedAt, 0)
	}

	recent, err := s.GetSessionMessages(ctx, session.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "second", recent[0].Content)
	assert.Equal(t, "third", recent[1].Content)
}

func TestSQLiteStore_Messages_AssistantFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := testSession("user-1")
	require.NoError(t, s.SaveSession(ctx, session))

	msg := &Message{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Role:      RoleAssistant,
		Content:   "Hello world",
		Model:     "gpt-4o",
		Tokens:    3,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.SaveMessage(ctx, msg))

	got, err := s.GetSessionMessages(ctx, session.ID, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, RoleAssistant, got[0].Role)
	assert.Equal(t, "gpt-4o", got[0].Model)
	assert.Equal(t, 3, got[0].Tokens)
}

func TestSQLiteStore_DeleteCascadeOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := testSession("user-1")
	require.NoError(t, s.SaveSession(ctx, session))
	require.NoError(t, s.SaveMessage(ctx, &Message{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Role:      RoleUser,
		Content:   "hi",
		CreatedAt: time.Now(),
	}))

	// Messages first, then the session
	require.NoError(t, s.DeleteSessionMessages(ctx, session.ID))
	require.NoError(t, s.DeleteSession(ctx, session.ID))

	msgs, err := s.GetSessionMessages(ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = s.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_DeleteSession_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.DeleteSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	session := testSession("user-1")
	require.NoError(t, s.SaveSession(context.Background(), session))
}
