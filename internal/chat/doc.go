// ABOUTME: Package documentation for the chat orchestration core
// ABOUTME: Explains persistence ordering and the degraded-result model

// Package chat is the orchestration core of the gateway. It owns session
// lifecycle, builds token-budgeted context windows from stored history and
// dispatches completions to whichever provider a session is configured for.
//
// Two rules shape every code path here. First, persistence ordering: the
// user's turn is written to the store before the provider is consulted, so
// a failing or slow model call can never lose what the user said. Second,
// degraded results: once the user turn is durable, provider and storage
// failures are reported on the result (as a Fault) rather than returned as
// errors, because the operation partially succeeded and the caller needs
// to know which part.
//
// Streaming sends deliver provider events through a wrapping channel that
// accumulates delta text and persists the concatenation as one assistant
// message when the stream completes. Errors and cancellations mid-stream
// persist nothing.
package chat
