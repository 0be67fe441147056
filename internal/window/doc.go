// Package window builds the token-budgeted context window sent to a
// provider on each generation.
//
// The algorithm walks session history newest-to-oldest, keeping messages
// while the running token estimate fits the budget, then restores
// chronological order. The system context is always included and its cost is
// reserved before any history is considered.
//
// Two policies differ only in the over-budget-newest-message edge case:
// Build keeps that single message anyway (the current turn is never
// dropped), BuildStrict returns an empty window. The chat service selects
// the policy from configuration.
package window
