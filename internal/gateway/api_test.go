// ABOUTME: HTTP API tests using httptest against the full route table
// ABOUTME: Covers session CRUD, sends, SSE streaming and transcript rendering

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom-gateway/internal/chat"
	"github.com/loomhq/loom-gateway/internal/provider"
	"github.com/loomhq/loom-gateway/internal/store"
)

type fakeProvider struct {
	name       string
	models     []string
	generateFn func(ctx context.Context, req *provider.Request) (*provider.Result, error)
	streamFn   func(ctx context.Context, req *provider.Request) (<-chan provider.StreamEvent, error)
}

func (f *fakeProvider) Name() string         { return f.name }
func (f *fakeProvider) ListModels() []string { return f.models }

func (f *fakeProvider) SupportsModel(model string) bool {
	for _, m := range f.models {
		if m == model {
			return true
		}
	}
	return false
}

func (f *fakeProvider) EstimateTokens(text string) int { return len(text) }

func (f *fakeProvider) Generate(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	if f.generateFn != nil {
		return f.generateFn(ctx, req)
	}
	return &provider.Result{Content: "canned reply", Model: req.Model}, nil
}

func (f *fakeProvider) GenerateStream(ctx context.Context, req *provider.Request) (<-chan provider.StreamEvent, error) {
	if f.streamFn != nil {
		return f.streamFn(ctx, req)
	}
	ch := make(chan provider.StreamEvent, 2)
	ch <- provider.StreamEvent{Delta: "canned reply", Model: req.Model}
	ch <- provider.StreamEvent{Final: true}
	close(ch)
	return ch, nil
}

func newTestGateway(t *testing.T, fake *fakeProvider) (*httptest.Server, *store.MockStore) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	mock := store.NewMockStore()
	registry := provider.NewRegistry(logger, fake)
	chatService := chat.New(mock, registry, chat.Config{
		DefaultProvider: fake.name,
		DefaultModel:    fake.models[0],
	}, logger)

	gw := &Gateway{
		store:    mock,
		registry: registry,
		chat:     chatService,
		logger:   logger,
	}
	server := httptest.NewServer(gw.buildMux())
	t.Cleanup(server.Close)
	return server, mock
}

func defaultTestProvider() *fakeProvider {
	return &fakeProvider{name: "openai", models: []string{"gpt-4o", "gpt-4o-mini"}}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createTestSession(t *testing.T, server *httptest.Server) SessionResponse {
	t.Helper()
	resp := postJSON(t, server.URL+"/api/sessions", CreateSessionRequest{UserID: "user-1", Title: "Test chat"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeJSON[SessionResponse](t, resp)
}

func TestCreateSession(t *testing.T) {
	server, _ := newTestGateway(t, defaultTestProvider())

	session := createTestSession(t, server)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "openai", session.Provider)
	assert.Equal(t, "gpt-4o", session.Model)
	assert.True(t, session.Active)
}

func TestCreateSession_BadRequest(t *testing.T) {
	server, _ := newTestGateway(t, defaultTestProvider())

	resp := postJSON(t, server.URL+"/api/sessions", CreateSessionRequest{UserID: "user-1", Model: "unknown-model"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Post(server.URL+"/api/sessions", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestListSessions(t *testing.T) {
	server, _ := newTestGateway(t, defaultTestProvider())

	for i := 0; i < 3; i++ {
		resp := postJSON(t, server.URL+"/api/sessions", CreateSessionRequest{
			UserID: "user-1",
			Title:  fmt.Sprintf("chat %d", i),
		})
		resp.Body.Close()
	}

	resp, err := http.Get(server.URL + "/api/sessions?user_id=user-1&page=1&limit=2")
	require.NoError(t, err)
	list := decodeJSON[ListSessionsResponse](t, resp)
	assert.Equal(t, 3, list.Total)
	assert.Len(t, list.Sessions, 2)

	// user_id is required
	resp2, err := http.Get(server.URL + "/api/sessions")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestGetUpdateDeleteSession(t *testing.T) {
	server, _ := newTestGateway(t, defaultTestProvider())
	session := createTestSession(t, server)

	resp, err := http.Get(server.URL + "/api/sessions/" + session.ID)
	require.NoError(t, err)
	got := decodeJSON[SessionResponse](t, resp)
	assert.Equal(t, session.ID, got.ID)

	patch, err := json.Marshal(map[string]string{"title": "Renamed"})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPatch, server.URL+"/api/sessions/"+session.ID, bytes.NewReader(patch))
	require.NoError(t, err)
	patchResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	updated := decodeJSON[SessionResponse](t, patchResp)
	assert.Equal(t, "Renamed", updated.Title)

	del, err := http.NewRequest(http.MethodDelete, server.URL+"/api/sessions/"+session.ID, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(del)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	resp2, err := http.Get(server.URL + "/api/sessions/" + session.ID)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestSendMessage(t *testing.T) {
	server, mock := newTestGateway(t, defaultTestProvider())
	session := createTestSession(t, server)

	resp := postJSON(t, server.URL+"/api/sessions/"+session.ID+"/messages", SendMessageRequest{Content: "Hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeJSON[SendMessageResponse](t, resp)

	require.NotNil(t, result.UserMessage)
	assert.Equal(t, "Hi", result.UserMessage.Content)
	require.NotNil(t, result.AssistantMessage)
	assert.Equal(t, "canned reply", result.AssistantMessage.Content)
	assert.Nil(t, result.Fault)

	messages, err := mock.GetSessionMessages(context.Background(), session.ID, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestSendMessage_FaultReported(t *testing.T) {
	fake := defaultTestProvider()
	fake.generateFn = func(context.Context, *provider.Request) (*provider.Result, error) {
		return nil, fmt.Errorf("completion: %w", provider.ErrRateLimited)
	}
	server, mock := newTestGateway(t, fake)
	session := createTestSession(t, server)

	resp := postJSON(t, server.URL+"/api/sessions/"+session.ID+"/messages", SendMessageRequest{Content: "Hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeJSON[SendMessageResponse](t, resp)

	require.NotNil(t, result.UserMessage)
	assert.Nil(t, result.AssistantMessage)
	require.NotNil(t, result.Fault)
	assert.Equal(t, string(chat.KindRateLimited), result.Fault.Kind)

	// The user turn survived the provider failure.
	messages, err := mock.GetSessionMessages(context.Background(), session.ID, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestSendMessage_Errors(t *testing.T) {
	server, _ := newTestGateway(t, defaultTestProvider())
	session := createTestSession(t, server)

	resp := postJSON(t, server.URL+"/api/sessions/"+session.ID+"/messages", SendMessageRequest{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2 := postJSON(t, server.URL+"/api/sessions/missing/messages", SendMessageRequest{Content: "hi"})
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestSessionMessages(t *testing.T) {
	server, _ := newTestGateway(t, defaultTestProvider())
	session := createTestSession(t, server)

	for i := 0; i < 2; i++ {
		resp := postJSON(t, server.URL+"/api/sessions/"+session.ID+"/messages", SendMessageRequest{Content: fmt.Sprintf("msg %d", i)})
		resp.Body.Close()
	}

	resp, err := http.Get(server.URL + "/api/sessions/" + session.ID + "/messages")
	require.NoError(t, err)
	history := decodeJSON[SessionMessagesResponse](t, resp)
	assert.Len(t, history.Messages, 4)
	assert.NotZero(t, history.WindowTokens)

	resp2, err := http.Get(server.URL + "/api/sessions/" + session.ID + "/messages?limit=1")
	require.NoError(t, err)
	limited := decodeJSON[SessionMessagesResponse](t, resp2)
	require.Len(t, limited.Messages, 1)
	assert.Equal(t, store.RoleAssistant, limited.Messages[0].Role)
}

// parseSSE splits an SSE body into (event, data) pairs.
func parseSSE(t *testing.T, body string) [][2]string {
	t.Helper()
	var events [][2]string
	var current string
	for _, line := range strings.Split(body, "\n") {
		if after, ok := strings.CutPrefix(line, "event: "); ok {
			current = after
		} else if after, ok := strings.CutPrefix(line, "data: "); ok {
			events = append(events, [2]string{current, after})
		}
	}
	return events
}

func TestStreamMessage(t *testing.T) {
	fake := defaultTestProvider()
	fake.streamFn = func(_ context.Context, req *provider.Request) (<-chan provider.StreamEvent, error) {
		ch := make(chan provider.StreamEvent, 4)
		ch <- provider.StreamEvent{Delta: "Hel", Model: req.Model}
		ch <- provider.StreamEvent{Delta: "lo"}
		ch <- provider.StreamEvent{Final: true}
		close(ch)
		return ch, nil
	}
	server, mock := newTestGateway(t, fake)
	session := createTestSession(t, server)

	resp := postJSON(t, server.URL+"/api/sessions/"+session.ID+"/stream", SendMessageRequest{Content: "Hi"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	events := parseSSE(t, string(body))

	require.Len(t, events, 4)
	assert.Equal(t, "started", events[0][0])
	assert.Equal(t, "delta", events[1][0])
	assert.Equal(t, "delta", events[2][0])
	assert.Equal(t, "done", events[3][0])
	assert.Contains(t, events[3][1], "Hello")

	messages, err := mock.GetSessionMessages(context.Background(), session.ID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "Hello", messages[1].Content)
}

func TestStreamMessage_FaultAsSSEError(t *testing.T) {
	fake := defaultTestProvider()
	fake.streamFn = func(context.Context, *provider.Request) (<-chan provider.StreamEvent, error) {
		return nil, provider.ErrRateLimited
	}
	server, _ := newTestGateway(t, fake)
	session := createTestSession(t, server)

	resp := postJSON(t, server.URL+"/api/sessions/"+session.ID+"/stream", SendMessageRequest{Content: "Hi"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	events := parseSSE(t, string(body))

	require.Len(t, events, 2)
	assert.Equal(t, "started", events[0][0])
	assert.Equal(t, "error", events[1][0])
	assert.Contains(t, events[1][1], string(chat.KindRateLimited))
}

func TestTranscript(t *testing.T) {
	server, _ := newTestGateway(t, defaultTestProvider())
	session := createTestSession(t, server)

	resp := postJSON(t, server.URL+"/api/sessions/"+session.ID+"/messages", SendMessageRequest{Content: "Hi there"})
	resp.Body.Close()

	htmlResp, err := http.Get(server.URL + "/api/sessions/" + session.ID + "/transcript")
	require.NoError(t, err)
	defer htmlResp.Body.Close()
	require.Equal(t, http.StatusOK, htmlResp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", htmlResp.Header.Get("Content-Type"))

	body, err := io.ReadAll(htmlResp.Body)
	require.NoError(t, err)
	page := string(body)
	assert.Contains(t, page, "Test chat")
	assert.Contains(t, page, "Hi there")
	assert.Contains(t, page, "canned reply")
}

func TestProvidersAndModels(t *testing.T) {
	server, _ := newTestGateway(t, defaultTestProvider())

	resp, err := http.Get(server.URL + "/api/providers")
	require.NoError(t, err)
	providers := decodeJSON[map[string][]string](t, resp)
	assert.Equal(t, []string{"openai"}, providers["providers"])

	resp2, err := http.Get(server.URL + "/api/models")
	require.NoError(t, err)
	models := decodeJSON[map[string][]string](t, resp2)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, models["models"])
}

func TestHealth(t *testing.T) {
	server, _ := newTestGateway(t, defaultTestProvider())

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(server.URL + "/health/ready")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := newTestGateway(t, defaultTestProvider())
	session := createTestSession(t, server)

	req, err := http.NewRequest(http.MethodPut, server.URL+"/api/sessions/"+session.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp2, err := http.Get(server.URL + "/api/sessions/" + session.ID + "/stream")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}
