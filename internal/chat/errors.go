// ABOUTME: Failure taxonomy for the chat orchestration core
// ABOUTME: Every failure carries a Kind so callers and transports can branch without string matching

package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/loomhq/loom-gateway/internal/provider"
	"github.com/loomhq/loom-gateway/internal/store"
)

// Kind classifies a chat-core failure.
type Kind string

const (
	KindValidationFailure   Kind = "validation_failure"
	KindUnsupportedProvider Kind = "unsupported_provider"
	KindUnsupportedModel    Kind = "unsupported_model"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindTransportFailure    Kind = "transport_failure"
	KindRateLimited         Kind = "provider_rate_limited"
	KindProviderRejected    Kind = "provider_rejected"
	KindMalformedResponse   Kind = "malformed_provider_response"
	KindPersistenceFailure  Kind = "persistence_failure"
	KindSessionNotFound     Kind = "session_not_found"
	KindStreamCancelled     Kind = "stream_cancelled"
	KindEmptyWindow         Kind = "empty_window"
)

// Error is a chat-core failure returned synchronously to callers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds an *Error with a formatted message.
func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from an error, or "" for non-chat errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Fault is a failure that is reported on a result rather than returned as an
// error: the user's turn was already persisted, so the call as a whole did
// not fail.
type Fault struct {
	Kind    Kind
	Message string
}

func (f *Fault) String() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// classifyProviderErr maps an adapter failure to its Kind. Deadline and
// transport problems land in KindTransportFailure; everything the vendor
// reported deliberately keeps its own kind.
func classifyProviderErr(err error) Kind {
	switch {
	case errors.Is(err, provider.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, provider.ErrRejected):
		return KindProviderRejected
	case errors.Is(err, provider.ErrMalformedResponse):
		return KindMalformedResponse
	case errors.Is(err, provider.ErrUnsupportedProvider):
		return KindUnsupportedProvider
	case errors.Is(err, provider.ErrUnsupportedModel):
		return KindUnsupportedModel
	case errors.Is(err, context.Canceled):
		return KindStreamCancelled
	default:
		return KindTransportFailure
	}
}

// retriable reports whether a failure kind qualifies for the single
// alternate-provider attempt.
func retriable(kind Kind) bool {
	return kind == KindTransportFailure || kind == KindRateLimited
}

// faultFrom builds the reported Fault for a provider failure.
func faultFrom(err error) *Fault {
	return &Fault{Kind: classifyProviderErr(err), Message: err.Error()}
}

// notFoundErr converts store lookup failures into the taxonomy.
func notFoundErr(err error, sessionID string) error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindSessionNotFound, err, "session %s", sessionID)
	}
	return newError(KindPersistenceFailure, err, "loading session %s", sessionID)
}
