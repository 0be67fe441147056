// ABOUTME: Sentinel errors shared by all provider adapters
// ABOUTME: Adapters wrap these so callers can branch on failure class with errors.Is

package provider

import "errors"

// ErrUnsupportedProvider is returned by the registry when no provider with
// the requested name is configured.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// ErrUnsupportedModel is returned when no available provider claims the
// requested model.
var ErrUnsupportedModel = errors.New("unsupported model")

// ErrRateLimited is returned when the vendor reports a rate limit.
var ErrRateLimited = errors.New("provider rate limited")

// ErrRejected is returned when the vendor rejects the request as invalid
// (bad model, bad parameters).
var ErrRejected = errors.New("provider rejected request")

// ErrMalformedResponse is returned when the vendor response cannot be decoded
// into the expected shape.
var ErrMalformedResponse = errors.New("malformed provider response")
