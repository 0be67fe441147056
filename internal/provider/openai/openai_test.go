// ABOUTME: Tests for the OpenAI adapter against httptest servers
// ABOUTME: Covers SSE delta parsing, the [DONE] terminator, error mapping and cancellation

package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom-gateway/internal/provider"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	return a
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestAdapter_SupportsModel(t *testing.T) {
	a, err := New(Config{APIKey: "k"})
	require.NoError(t, err)

	assert.True(t, a.SupportsModel("gpt-4o"))
	assert.True(t, a.SupportsModel("gpt-5-preview")) // prefix match
	assert.True(t, a.SupportsModel("o1-mini"))
	assert.False(t, a.SupportsModel("claude-3-opus"))
}

func TestAdapter_EstimateTokens(t *testing.T) {
	a, err := New(Config{APIKey: "k"})
	require.NoError(t, err)

	assert.Equal(t, 0, a.EstimateTokens(""))
	assert.Equal(t, 1, a.EstimateTokens("hi"))
	assert.Equal(t, 3, a.EstimateTokens("twelve chars"))
}

func TestAdapter_Generate(t *testing.T) {
	var gotAuth string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		fmt.Fprint(w, `{
			"model": "gpt-4o",
			"choices": [{"message": {"role": "assistant", "content": "Hello there"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3}
		}`)
	})

	result, err := a.Generate(context.Background(), &provider.Request{
		Model:    "gpt-4o",
		Messages: []provider.Message{{Role: "user", Content: "Hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "Hello there", result.Content)
	assert.Equal(t, "gpt-4o", result.Model)
	assert.Equal(t, 12, result.Usage.InputTokens)
	assert.Equal(t, 3, result.Usage.OutputTokens)
}

func TestAdapter_Generate_SystemPromptFirst(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		s := string(body)
		sysIdx := strings.Index(s, `"role":"system"`)
		userIdx := strings.Index(s, `"role":"user"`)
		assert.Greater(t, sysIdx, -1)
		assert.Greater(t, userIdx, sysIdx)
		fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`)
	})

	_, err := a.Generate(context.Background(), &provider.Request{
		Model:    "gpt-4o",
		System:   "You are terse.",
		Messages: []provider.Message{{Role: "user", Content: "Hi"}},
	})
	require.NoError(t, err)
}

func TestAdapter_Generate_RateLimited(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "slow down", "type": "rate_limit_error"}}`)
	})

	_, err := a.Generate(context.Background(), &provider.Request{Model: "gpt-4o"})
	assert.ErrorIs(t, err, provider.ErrRateLimited)
	assert.Contains(t, err.Error(), "slow down")
}

func TestAdapter_Generate_Rejected(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "unknown model", "type": "invalid_request_error"}}`)
	})

	_, err := a.Generate(context.Background(), &provider.Request{Model: "nope"})
	assert.ErrorIs(t, err, provider.ErrRejected)
}

func TestAdapter_Generate_ServerErrorIsTransport(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := a.Generate(context.Background(), &provider.Request{Model: "gpt-4o"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, provider.ErrRateLimited)
	assert.NotErrorIs(t, err, provider.ErrRejected)
}

func TestAdapter_Generate_MalformedResponse(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	})

	_, err := a.Generate(context.Background(), &provider.Request{Model: "gpt-4o"})
	assert.ErrorIs(t, err, provider.ErrMalformedResponse)
}

func TestAdapter_Generate_NoChoices(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": []}`)
	})

	_, err := a.Generate(context.Background(), &provider.Request{Model: "gpt-4o"})
	assert.ErrorIs(t, err, provider.ErrMalformedResponse)
}

func writeSSE(w http.ResponseWriter, data string) {
	fmt.Fprintf(w, "data: %s\n\n", data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestAdapter_GenerateStream(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, `{"model":"gpt-4o","choices":[{"delta":{"content":"Hel"}}]}`)
		writeSSE(w, `{"model":"gpt-4o","choices":[{"delta":{"content":"lo "}}]}`)
		writeSSE(w, `{"model":"gpt-4o","choices":[{"delta":{"content":"world"}}]}`)
		writeSSE(w, `[DONE]`)
	})

	events, err := a.GenerateStream(context.Background(), &provider.Request{
		Model:    "gpt-4o",
		Messages: []provider.Message{{Role: "user", Content: "greet"}},
	})
	require.NoError(t, err)

	var content strings.Builder
	var sawFinal bool
	for ev := range events {
		require.NoError(t, ev.Err)
		if ev.Final {
			sawFinal = true
			continue
		}
		content.WriteString(ev.Delta)
	}
	assert.True(t, sawFinal, "stream must end with a terminal event")
	assert.Equal(t, "Hello world", content.String())
}

func TestAdapter_GenerateStream_SkipsMalformedChunks(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, `{{{broken`)
		writeSSE(w, `{"choices":[{"delta":{"content":"ok"}}]}`)
		writeSSE(w, `[DONE]`)
	})

	events, err := a.GenerateStream(context.Background(), &provider.Request{Model: "gpt-4o"})
	require.NoError(t, err)

	var content strings.Builder
	for ev := range events {
		require.NoError(t, ev.Err)
		content.WriteString(ev.Delta)
	}
	assert.Equal(t, "ok", content.String())
}

func TestAdapter_GenerateStream_EOFWithoutDone(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, `{"choices":[{"delta":{"content":"partial"}}]}`)
		// Connection closes without [DONE]
	})

	events, err := a.GenerateStream(context.Background(), &provider.Request{Model: "gpt-4o"})
	require.NoError(t, err)

	var last provider.StreamEvent
	for ev := range events {
		last = ev
	}
	require.Error(t, last.Err)
	assert.ErrorIs(t, last.Err, provider.ErrMalformedResponse)
}

func TestAdapter_GenerateStream_ErrorStatus(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "limit", "type": "rate_limit_error"}}`)
	})

	_, err := a.GenerateStream(context.Background(), &provider.Request{Model: "gpt-4o"})
	assert.ErrorIs(t, err, provider.ErrRateLimited)
}

func TestAdapter_GenerateStream_Cancellation(t *testing.T) {
	firstDelta := make(chan struct{})
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, `{"choices":[{"delta":{"content":"Hel"}}]}`)
		close(firstDelta)
		// Hold the stream open until the client goes away
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := a.GenerateStream(ctx, &provider.Request{Model: "gpt-4o"})
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, "Hel", ev.Delta)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first delta")
	}

	<-firstDelta
	cancel()

	// The channel must close without a terminal event: no Final, and no
	// error other than the cancellation itself.
	for ev := range events {
		assert.False(t, ev.Final, "cancelled stream must not report completion")
	}
}
