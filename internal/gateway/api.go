// ABOUTME: HTTP API handlers for session management and message dispatch
// ABOUTME: Non-streaming sends return JSON, streaming sends deliver SSE events

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/loomhq/loom-gateway/internal/chat"
	"github.com/loomhq/loom-gateway/internal/provider"
	"github.com/loomhq/loom-gateway/internal/store"
)

// CreateSessionRequest is the JSON request body for POST /api/sessions.
type CreateSessionRequest struct {
	UserID        string `json:"user_id"`
	Title         string `json:"title,omitempty"`
	Provider      string `json:"provider,omitempty"`
	Model         string `json:"model,omitempty"`
	SystemContext string `json:"system_context,omitempty"`
}

// UpdateSessionRequest is the JSON request body for PATCH /api/sessions/{id}.
// Absent fields are left unchanged.
type UpdateSessionRequest struct {
	Title         *string `json:"title,omitempty"`
	SystemContext *string `json:"system_context,omitempty"`
	Provider      *string `json:"provider,omitempty"`
	Model         *string `json:"model,omitempty"`
}

// SessionResponse is the JSON representation of a session.
type SessionResponse struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Title         string `json:"title"`
	SystemContext string `json:"system_context,omitempty"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	Active        bool   `json:"active"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// ListSessionsResponse is the JSON response for GET /api/sessions.
type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

// MessageResponse is the JSON representation of a stored message.
type MessageResponse struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Model     string `json:"model,omitempty"`
	Tokens    int    `json:"tokens,omitempty"`
	CreatedAt string `json:"created_at"`
}

// SendMessageRequest is the JSON request body for POST /api/sessions/{id}/messages
// and POST /api/sessions/{id}/stream.
type SendMessageRequest struct {
	Content string `json:"content"`
	Role    string `json:"role,omitempty"`
}

// FaultResponse reports a degraded result: the user turn was persisted but
// a later step failed.
type FaultResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SendMessageResponse is the JSON response for a non-streaming send.
type SendMessageResponse struct {
	UserMessage      *MessageResponse `json:"user_message"`
	AssistantMessage *MessageResponse `json:"assistant_message,omitempty"`
	Fault            *FaultResponse   `json:"fault,omitempty"`
}

// SessionMessagesResponse is the JSON response for GET /api/sessions/{id}/messages.
type SessionMessagesResponse struct {
	SessionID    string            `json:"session_id"`
	Messages     []MessageResponse `json:"messages"`
	WindowTokens int               `json:"window_tokens"`
}

// handleSessions routes /api/sessions requests by HTTP method.
func (g *Gateway) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		g.handleCreateSession(w, r)
	case http.MethodGet:
		g.handleListSessions(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleSessionRoutes dispatches /api/sessions/{id} and its subresources.
func (g *Gateway) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	sessionID := parts[0]
	if sessionID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "session id is required")
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			g.handleGetSession(w, r, sessionID)
		case http.MethodPatch:
			g.handleUpdateSession(w, r, sessionID)
		case http.MethodDelete:
			g.handleDeleteSession(w, r, sessionID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch parts[1] {
	case "messages":
		switch r.Method {
		case http.MethodPost:
			g.handleSendMessage(w, r, sessionID)
		case http.MethodGet:
			g.handleSessionMessages(w, r, sessionID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "stream":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.handleStreamMessage(w, r, sessionID)
	case "transcript":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.handleTranscript(w, r, sessionID)
	default:
		g.sendJSONError(w, http.StatusNotFound, "unknown resource")
	}
}

// handleCreateSession handles POST /api/sessions.
func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	session, err := g.chat.CreateSession(r.Context(), &chat.CreateSessionRequest{
		UserID:        req.UserID,
		Title:         req.Title,
		Provider:      req.Provider,
		Model:         req.Model,
		SystemContext: req.SystemContext,
	})
	if err != nil {
		g.sendChatError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sessionToResponse(session))
}

// handleListSessions handles GET /api/sessions?user_id=X&page=N&limit=N.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "user_id query param required")
		return
	}

	page := parseIntParam(r, "page", 1)
	limit := parseIntParam(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}

	sessions, total, err := g.chat.ListUserSessions(r.Context(), userID, page, limit)
	if err != nil {
		g.sendChatError(w, err)
		return
	}

	response := ListSessionsResponse{
		Sessions: make([]SessionResponse, len(sessions)),
		Total:    total,
		Page:     page,
		Limit:    limit,
	}
	for i, s := range sessions {
		response.Sessions[i] = sessionToResponse(s)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleGetSession handles GET /api/sessions/{id}.
func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	conv, err := g.chat.GetConversation(r.Context(), sessionID)
	if err != nil {
		g.sendChatError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessionToResponse(conv.Session))
}

// handleUpdateSession handles PATCH /api/sessions/{id}.
func (g *Gateway) handleUpdateSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	session, err := g.chat.UpdateSession(r.Context(), sessionID, &chat.UpdateSessionRequest{
		Title:         req.Title,
		SystemContext: req.SystemContext,
		Provider:      req.Provider,
		Model:         req.Model,
	})
	if err != nil {
		g.sendChatError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessionToResponse(session))
}

// handleDeleteSession handles DELETE /api/sessions/{id}.
func (g *Gateway) handleDeleteSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := g.chat.DeleteSession(r.Context(), sessionID); err != nil {
		g.sendChatError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSendMessage handles POST /api/sessions/{id}/messages.
// Degraded results come back as 200 with a fault field: the user turn was
// persisted even when the provider call failed.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request, sessionID string) {
	req, err := parseSendRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := g.chat.SendMessage(r.Context(), sessionID, req.Content, req.Role)
	if err != nil {
		g.sendChatError(w, err)
		return
	}

	response := SendMessageResponse{
		UserMessage: messageToResponse(result.UserMessage),
	}
	if result.AssistantMessage != nil {
		response.AssistantMessage = messageToResponse(result.AssistantMessage)
	}
	if result.Fault != nil {
		response.Fault = &FaultResponse{
			Kind:    string(result.Fault.Kind),
			Message: result.Fault.Message,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleSessionMessages handles GET /api/sessions/{id}/messages requests.
// Returns the full message history, optionally limited by ?limit=N.
func (g *Gateway) handleSessionMessages(w http.ResponseWriter, r *http.Request, sessionID string) {
	conv, err := g.chat.GetConversation(r.Context(), sessionID)
	if err != nil {
		g.sendChatError(w, err)
		return
	}

	messages := conv.Messages
	// Parse optional limit parameter (most recent N)
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if limit < len(messages) {
			messages = messages[len(messages)-limit:]
		}
	}

	response := SessionMessagesResponse{
		SessionID:    sessionID,
		Messages:     make([]MessageResponse, len(messages)),
		WindowTokens: conv.Window.Tokens,
	}
	for i, msg := range messages {
		response.Messages[i] = *messageToResponse(msg)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleStreamMessage handles POST /api/sessions/{id}/stream.
// The user turn is persisted before the stream starts, so even faults are
// reported as SSE events after the "started" event.
func (g *Gateway) handleStreamMessage(w http.ResponseWriter, r *http.Request, sessionID string) {
	req, err := parseSendRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Check streaming support before sending (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	result, err := g.chat.SendMessageStreaming(r.Context(), sessionID, req.Content)
	if err != nil {
		g.sendChatError(w, err)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "started", map[string]string{
		"session_id":      sessionID,
		"user_message_id": result.UserMessage.ID,
	})
	flusher.Flush()

	if result.Fault != nil {
		g.writeSSEEvent(w, "error", map[string]string{
			"kind":  string(result.Fault.Kind),
			"error": result.Fault.Message,
		})
		flusher.Flush()
		return
	}

	g.streamEvents(r.Context(), w, flusher, result.Events)
}

// streamEvents reads from the event channel and writes SSE events.
// Persistence is handled by the chat service which wraps the channel.
func (g *Gateway) streamEvents(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, events <-chan provider.StreamEvent) {
	var full strings.Builder
	model := ""

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Model != "" {
				model = ev.Model
			}

			switch {
			case ev.Err != nil:
				g.writeSSEEvent(w, "error", map[string]string{"error": ev.Err.Error()})
				flusher.Flush()
				return
			case ev.Final:
				g.writeSSEEvent(w, "done", map[string]string{
					"full_response": full.String(),
					"model":         model,
				})
				flusher.Flush()
				return
			case ev.Delta != "":
				full.WriteString(ev.Delta)
				g.writeSSEEvent(w, "delta", map[string]string{"text": ev.Delta})
				flusher.Flush()
			}
		}
	}
}

// handleListProviders handles GET /api/providers.
func (g *Gateway) handleListProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"providers": g.registry.ListProviders()})
}

// handleListModels handles GET /api/models.
func (g *Gateway) handleListModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"models": g.registry.ListModels()})
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendChatError maps a chat service error onto an HTTP status.
func (g *Gateway) sendChatError(w http.ResponseWriter, err error) {
	status := statusForKind(chat.KindOf(err))
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, status, "internal server error")
		return
	}
	g.sendJSONError(w, status, err.Error())
}

// statusForKind maps failure kinds onto HTTP status codes.
func statusForKind(kind chat.Kind) int {
	switch kind {
	case chat.KindValidationFailure, chat.KindUnsupportedProvider, chat.KindUnsupportedModel:
		return http.StatusBadRequest
	case chat.KindSessionNotFound:
		return http.StatusNotFound
	case chat.KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case chat.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// parseSendRequest parses and validates a SendMessageRequest from the given reader.
// Returns an error if the JSON is invalid or content is missing.
func parseSendRequest(r io.Reader) (*SendMessageRequest, error) {
	var req SendMessageRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	if req.Content == "" {
		return nil, errors.New("content is required")
	}

	return &req, nil
}

// parseIntParam returns the named positive integer query param or a default.
func parseIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func sessionToResponse(s *store.Session) SessionResponse {
	return SessionResponse{
		ID:            s.ID,
		UserID:        s.UserID,
		Title:         s.Title,
		SystemContext: s.SystemContext,
		Provider:      s.Provider,
		Model:         s.Model,
		Active:        s.Active,
		CreatedAt:     s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     s.UpdatedAt.Format(time.RFC3339),
	}
}

func messageToResponse(m *store.Message) *MessageResponse {
	return &MessageResponse{
		ID:        m.ID,
		SessionID: m.SessionID,
		Role:      m.Role,
		Content:   m.Content,
		Model:     m.Model,
		Tokens:    m.Tokens,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}
