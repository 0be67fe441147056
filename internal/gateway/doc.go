// Package gateway wires the loom-gateway server together: the SQLite
// store, the provider registry, the chat service and the HTTP API.
//
// # HTTP API
//
// Session management:
//
//	POST   /api/sessions                     create a session
//	GET    /api/sessions?user_id=X           list a user's sessions (paged)
//	GET    /api/sessions/{id}                fetch one session
//	PATCH  /api/sessions/{id}                update title, system context or provider/model
//	DELETE /api/sessions/{id}                delete a session and its messages
//
// Messaging:
//
//	POST   /api/sessions/{id}/messages       send a message, JSON response
//	GET    /api/sessions/{id}/messages       message history (?limit=N)
//	POST   /api/sessions/{id}/stream         send a message, SSE response
//	GET    /api/sessions/{id}/transcript     HTML transcript
//
// Discovery and health:
//
//	GET    /api/providers
//	GET    /api/models
//	GET    /health
//	GET    /health/ready
//
// # Streaming
//
// The stream endpoint emits Server-Sent Events: "started" once the user
// turn is persisted, "delta" per text fragment, then exactly one of "done"
// (with the full response) or "error". Degraded sends still emit "started"
// before the error event, because the user's message was recorded.
//
// # Error responses
//
// Non-streaming errors are JSON objects with an "error" field. Degraded
// results from POST /messages return 200 with a "fault" field instead,
// since the user turn was persisted.
package gateway
