// ABOUTME: GenerativeProvider capability interface and request/response types
// ABOUTME: Every model vendor adapter implements Provider; the chat service only sees this shape

package provider

import "context"

// Message is one turn of window-trimmed history handed to an adapter.
// The history is already trimmed by the window package; adapters must not
// re-trim it.
type Message struct {
	Role    string
	Content string
}

// Options carries per-request generation knobs. Nil fields mean "use the
// provider's default"; adapters omit them from the vendor request entirely.
type Options struct {
	Temperature      *float64
	MaxTokens        *int
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	Stop             []string
}

// Request is a single generation request against one model.
type Request struct {
	Model    string
	System   string // optional system/context prompt
	Messages []Message
	Options  Options
}

// Usage reports token consumption as the vendor counted it.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Result is the outcome of a non-streaming generation.
type Result struct {
	Content string
	Model   string // model that actually served the request
	Usage   Usage
}

// StreamEvent is one element of a streaming generation sequence.
//
// A well-behaved producer emits zero or more delta events (Delta set) and
// then exactly one terminal event: either Final=true (natural end of stream)
// or Err set (the stream failed). After the terminal event the channel is
// closed. A channel that closes without a terminal event means the stream
// was cut off, which consumers must treat as cancellation, not completion.
type StreamEvent struct {
	Delta string
	Model string
	Final bool
	Err   error
}

// Provider is the capability set every model vendor adapter implements.
// Implementations must be safe for concurrent use across sessions: no
// per-call mutable adapter state.
type Provider interface {
	// Name returns the registry name of the provider, e.g. "openai".
	Name() string

	// ListModels returns the supported model identifiers in preference
	// order. Pure, no network calls.
	ListModels() []string

	// SupportsModel reports whether the adapter can serve the model.
	// Pure, no network calls.
	SupportsModel(model string) bool

	// EstimateTokens approximates the token cost of text. The estimate
	// only needs to correlate monotonically with real token cost; it
	// feeds a budget comparison, not billing.
	EstimateTokens(text string) int

	// Generate performs a blocking, non-streaming completion.
	Generate(ctx context.Context, req *Request) (*Result, error)

	// GenerateStream starts a streaming completion. The returned channel
	// follows the StreamEvent terminal-element contract and is closed by
	// the producer. Cancelling ctx stops the underlying transport read.
	GenerateStream(ctx context.Context, req *Request) (<-chan StreamEvent, error)
}
