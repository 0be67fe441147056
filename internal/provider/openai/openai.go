// ABOUTME: OpenAI chat-completions adapter implementing provider.Provider
// ABOUTME: Speaks the /v1/chat/completions API, streaming via SSE data frames

package openai

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

const defaultBaseURL = "https://api.openai.com"

// defaultModels is the catalog advertised when the config lists none.
var defaultModels = []string{
	"gpt-4o",
	"gpt-4o-mini",
	"gpt-4-turbo",
	"gpt-3.5-turbo",
}

// Config holds the adapter configuration. APIKey is required; everything
// else has sensible defaults.
type Config struct {
	APIKey  string
	BaseURL string
	Models  []string
	Timeout time.Duration
}

// Adapter implements provider.Provider against the OpenAI API.
// It holds no per-call state and is safe for concurrent use.
type Adapter struct {
	apiKey     string
	baseURL    string
	models     []string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates an OpenAI adapter. Returns an error when the API key is
// missing: a half-configured provider must not enter the registry.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
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
		logger:     slog.Default().With("component", "provider.openai"),
	}, nil
}

// Name returns "openai".
func (a *Adapter) Name() string { return "openai" }

// ListModels returns the configured model catalog.
func (a *Adapter) ListModels() []string {
	out := make([]string, len(a.models))
	copy(out, a.models)
	return out
}

// SupportsModel reports whether the model is in the catalog or carries a
// known OpenAI model prefix.
func (a *Adapter) SupportsModel(model string) bool {
	for _, m := range a.models {
		if m == model {
			return true
		}
	}
	return strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1-")
}

// EstimateTokens approximates token cost at ~4 characters per token.
func (a *Adapter) EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// chatRequest mirrors the OpenAI chat completion request.
type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	Stream           bool          `json:"stream,omitempty"`
	Temperature      *float64      `json:"temperature,omitempty"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	Stop             []string      `json:"stop,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message *chatMessage `json:"message,omitempty"`
		Delta   *chatMessage `json:"delta,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

type errorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (a *Adapter) buildRequest(req *provider.Request, stream bool) *chatRequest {
	msgs := make([]chatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}
	return &chatRequest{
		Model:            req.Model,
		Messages:         msgs,
		Stream:           stream,
		Temperature:      req.Options.Temperature,
		MaxTokens:        req.Options.MaxTokens,
		TopP:             req.Options.TopP,
		FrequencyPenalty: req.Options.FrequencyPenalty,
		PresencePenalty:  req.Options.PresencePenalty,
		Stop:             req.Options.Stop,
	}
}

func (a *Adapter) post(ctx context.Context, body *chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	return resp, nil
}

// classifyStatus maps a non-200 response to the shared failure sentinels.
func classifyStatus(status int, body []byte) error {
	var errResp errorResponse
	detail := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
		detail = errResp.Error.Message
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("openai [%d]: %s: %w", status, detail, provider.ErrRateLimited)
	case status >= 400 && status < 500:
		return fmt.Errorf("openai [%d]: %s: %w", status, detail, provider.ErrRejected)
	default:
		return fmt.Errorf("openai [%d]: %s", status, detail)
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

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", provider.ErrMalformedResponse)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil {
		return nil, fmt.Errorf("response has no choices: %w", provider.ErrMalformedResponse)
	}

	result := &provider.Result{
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
	}
	if result.Model == "" {
		result.Model = req.Model
	}
	if parsed.Usage != nil {
		result.Usage = provider.Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		}
	}
	return result, nil
}

// GenerateStream performs a streaming completion. Deltas arrive as SSE
// "data:" frames; the "[DONE]" sentinel maps to the terminal event.
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
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}

			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				send(provider.StreamEvent{Model: req.Model, Final: true})
				return
			}

			var chunk chatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				// Skip malformed chunks rather than killing the stream
				a.logger.Debug("skipping malformed stream chunk", "error", err)
				continue
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}

			model := chunk.Model
			if model == "" {
				model = req.Model
			}
			if !send(provider.StreamEvent{Delta: delta, Model: model}) {
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

		// EOF without [DONE]: the connection dropped mid-stream
		send(provider.StreamEvent{Err: fmt.Errorf("stream closed before terminator: %w", provider.ErrMalformedResponse)})
	}()

	return events, nil
}
