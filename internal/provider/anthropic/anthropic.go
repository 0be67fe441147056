// ABOUTME: Anthropic messages adapter implementing provider.Provider
// ABOUTME: Speaks the /v1/messages API, streaming via typed SSE events

package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loomhq/loom-gateway/internal/provider"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"

	// The messages API requires max_tokens; used when the caller sets none.
	defaultMaxTokens = 1024
)

var defaultModels = []string{
	"claude-3-5-sonnet-20241022",
	"claude-3-5-haiku-20241022",
	"claude-3-opus-20240229",
}

// Config holds the adapter configuration. APIKey is required.
type Config struct {
	APIKey  string
	BaseURL string
	Models  []string
	Timeout time.Duration
}

// Adapter implements provider.Provider against the Anthropic API.
// It holds no per-call state and is safe for concurrent use.
type Adapter struct {
	apiKey     string
	baseURL    string
	models     []string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates an Anthropic adapter. Returns an error when the API key is
// missing: a half-configured provider must not enter the registry.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	models := cfg.Models
	if len(models) == 0 {
		models = defaultModels
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Adapter{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		models:     models,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default().With("component", "provider.anthropic"),
	}, nil
}

// Name returns "anthropic".
func (a *Adapter) Name() string { return "anthropic" }

// ListModels returns the configured model catalog.
func (a *Adapter) ListModels() []string {
	out := make([]string, len(a.models))
	copy(out, a.models)
	return out
}

// SupportsModel reports whether the model is in the catalog or carries the
// claude model prefix.
func (a *Adapter) SupportsModel(model string) bool {
	for _, m := range a.models {
		if m == model {
			return true
		}
	}
	return strings.HasPrefix(model, "claude-")
}

// EstimateTokens approximates token cost at ~4 characters per token.
func (a *Adapter) EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// messagesRequest mirrors the Anthropic messages request.
type messagesRequest struct {
	Model         string        `json:"model"`
	MaxTokens     int           `json:"max_tokens"`
	System        string        `json:"system,omitempty"`
	Messages      []chatMessage `json:"messages"`
	Stream        bool          `json:"stream,omitempty"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}

type errorResponse struct {
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// streamFrame is the union of the data payloads the streaming API emits.
type streamFrame struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *Adapter) buildRequest(req *provider.Request, stream bool) *messagesRequest {
	msgs := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := m.Role
		// The messages API only accepts user/assistant turns; system-role
		// history collapses into user turns, the session context rides the
		// top-level system field.
		if role != "assistant" {
			role = "user"
		}
		msgs = append(msgs, chatMessage{Role: role, Content: m.Content})
	}

	maxTokens := defaultMaxTokens
	if req.Options.MaxTokens != nil {
		maxTokens = *req.Options.MaxTokens
	}

	return &messagesRequest{
		Model:         req.Model,
		MaxTokens:     maxTokens,
		System:        req.System,
		Messages:      msgs,
		Stream:        stream,
		Temperature:   req.Options.Temperature,
		TopP:          req.Options.TopP,
		StopSequences: req.Options.Stop,
	}
}

func (a *Adapter) post(ctx context.Context, body *messagesRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	return resp, nil
}

func classifyStatus(status int, body []byte) error {
	var errResp errorResponse
	detail := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
		detail = errResp.Error.Message
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("anthropic [%d]: %s: %w", status, detail, provider.ErrRateLimited)
	case status >= 400 && status < 500:
		return fmt.Errorf("anthropic [%d]: %s: %w", status, detail, provider.ErrRejected)
	default:
		return fmt.Errorf("anthropic [%d]: %s", status, detail)
	}
}

// Generate performs a non-streaming completion.
func (a *Adapter) Generate(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	resp, err := a.post(ctx, a.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", provider.ErrMalformedResponse)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if len(parsed.Content) == 0 {
		return nil, fmt.Errorf("response has no content blocks: %w", provider.ErrMalformedResponse)
	}

	result := &provider.Result{
		Content: text.String(),
		Model:   parsed.Model,
	}
	if result.Model == "" {
		result.Model = req.Model
	}
	if parsed.Usage != nil {
		result.Usage = provider.Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		}
	}
	return result, nil
}

// GenerateStream performs a streaming completion. The API emits typed SSE
// events; content_block_delta frames carry text, message_stop terminates.
func (a *Adapter) GenerateStream(ctx context.Context, req *provider.Request) (<-chan provider.StreamEvent, error) {
	resp, err := a.post(ctx, a.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, classifyStatus(resp.StatusCode, body)
	}

	events := make(chan provider.StreamEvent, 16)

	go func() {
		defer close(events)
		defer resp.Body.Close()

		send := func(ev provider.StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := strings.TrimSpace(scanner.Text())
			// Frame type rides in the data payload as well; the event:
			// lines are redundant and skipped.
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var frame streamFrame
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
				a.logger.Debug("skipping malformed stream frame", "error", err)
				continue
			}

			switch frame.Type {
			case "content_block_delta":
				if frame.Delta == nil || frame.Delta.Text == "" {
					continue
				}
				if !send(provider.StreamEvent{Delta: frame.Delta.Text, Model: req.Model}) {
					return
				}
			case "message_stop":
				send(provider.StreamEvent{Model: req.Model, Final: true})
				return
			case "error":
				msg := "stream error"
				if frame.Error != nil {
					msg = frame.Error.Message
				}
				send(provider.StreamEvent{Err: fmt.Errorf("anthropic stream: %s: %w", msg, provider.ErrRejected)})
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			send(provider.StreamEvent{Err: fmt.Errorf("reading stream: %w", err)})
			return
		}

		// EOF without message_stop: the connection dropped mid-stream
		send(provider.StreamEvent{Err: fmt.Errorf("stream closed before terminator: %w", provider.ErrMalformedResponse)})
	}()

	return events, nil
}
