// ABOUTME: Token-budgeted context window construction over session history
// ABOUTME: Walks newest-to-oldest, reserves the system prompt first, restores chronology

package window

import "github.com/loomhq/loom-gateway/internal/store"

// TokenEstimator approximates the token cost of a piece of text.
// Provider adapters satisfy this interface.
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// EstimatorFunc adapts a plain function to the TokenEstimator interface.
type EstimatorFunc func(text string) int

// EstimateTokens calls f.
func (f EstimatorFunc) EstimateTokens(text string) int { return f(text) }

// Window is the token-budget-limited slice of a session's history that gets
// sent to a provider. Messages are chronological (oldest first) and form a
// contiguous suffix of the full history.
type Window struct {
	System   string
	Messages []*store.Message
	// Tokens is the estimated total cost of the window including the
	// system context. It exceeds the budget only in the single case where
	// the newest message alone is over budget and the permissive policy
	// kept it anyway.
	Tokens int
}

// Build computes a window under the permissive policy: when the newest
// message alone exceeds the remaining budget, the window still contains
// exactly that one message with no further history, so the current turn is
// never dropped.
//
// The system context cost is reserved from the budget before any history is
// considered; a long system prompt legitimately starves history to zero.
// Windows are recomputed on every send and never cached.
func Build(messages []*store.Message, system string, budget int, est TokenEstimator) *Window {
	return build(messages, system, budget, est, true)
}

// BuildStrict computes a window under the strict policy: the budget walk
// stops at the first message that would overflow, even if that leaves the
// window empty.
func BuildStrict(messages []*store.Message, system string, budget int, est TokenEstimator) *Window {
	return build(messages, system, budget, est, false)
}

func build(messages []*store.Message, system string, budget int, est TokenEstimator, keepLatest bool) *Window {
	w := &Window{System: system}

	remaining := budget
	if system != "" {
		cost := est.EstimateTokens(system)
		w.Tokens += cost
		remaining -= cost
	}

	// Walk newest to oldest, accumulating until the budget is hit.
	var kept []*store.Message
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		cost := messageCost(msg, est)
		if cost > remaining {
			if keepLatest && len(kept) == 0 {
				kept = append(kept, msg)
				w.Tokens += cost
			}
			break
		}
		kept = append(kept, msg)
		w.Tokens += cost
		remaining -= cost
	}

	// Re-reverse to restore chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	w.Messages = kept
	return w
}

// messageCost prefers the stored token count (vendor-reported for assistant
// turns) and falls back to estimation.
func messageCost(msg *store.Message, est TokenEstimator) int {
	if msg.Tokens > 0 {
		return msg.Tokens
	}
	return est.EstimateTokens(msg.Content)
}
