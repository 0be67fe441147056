// Package store provides persistent storage for chat sessions and messages
// using SQLite.
//
// # Architecture
//
// The package is interface-driven: the Store interface is the persistence
// port consumed by the chat service, and two implementations ship with the
// gateway:
//
//   - SQLiteStore: production store backed by modernc.org/sqlite
//   - MockStore: in-memory store for unit tests
//
// # Data Models
//
//   - Session: a conversation thread bound to one user, provider and model
//   - Message: one immutable turn (user, assistant or system) in a session
//
// Messages are append-only. History is never rewritten; the chat service
// models edits as new messages so that context-window reconstruction stays
// deterministic.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as fixed-width RFC 3339 strings in UTC, always with
// nine fractional digits so that string order matches time order. Message
// ordering ties on created_at are broken by insertion order (rowid).
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateSession: session ID already taken
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") for
// integration tests against real SQLite.
package store
