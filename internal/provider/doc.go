// Package provider defines the GenerativeProvider capability every model
// vendor adapter implements, and the Registry that resolves adapters at
// request time.
//
// # Adapters
//
// Concrete adapters live in subpackages (openai, anthropic). Each one maps
// its vendor's HTTP API, streaming and non-streaming, onto the shared
// Request/Result/StreamEvent types, and classifies failures into the shared
// sentinels:
//
//   - ErrRateLimited: vendor-reported rate limit (HTTP 429)
//   - ErrRejected: vendor-reported invalid request (other 4xx)
//   - ErrMalformedResponse: response body that cannot be decoded
//
// Transport and timeout failures surface as the wrapped errors of the
// underlying HTTP client.
//
// # Streaming contract
//
// GenerateStream returns a finite, non-restartable channel of StreamEvent.
// The producer always emits a terminal element (Final=true or Err set)
// before closing the channel on its own initiative, so consumers can
// distinguish a completed stream from a dropped connection. Cancelling the
// request context stops the transport read; the channel then closes without
// a terminal element.
//
// # Registry
//
// The Registry is built once at startup from configuration and performs no
// I/O afterwards; it is safe for unsynchronized concurrent reads. Model
// resolution follows the configured priority order so that double-claimed
// model names resolve deterministically.
package provider
