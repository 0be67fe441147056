// ABOUTME: Terminal client for chatting through loom-gateway via the HTTP API.
// ABOUTME: Provides readline-style input and SSE streaming output.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
)

// clientConfig is the optional TOML config at ~/.config/loom/chat.toml.
type clientConfig struct {
	Server   string `toml:"server"`
	User     string `toml:"user"`
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
}

// loadClientConfig reads the TOML config file if it exists. A missing file
// is not an error; flags and defaults cover everything.
func loadClientConfig() clientConfig {
	cfg := clientConfig{}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return cfg
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	path := filepath.Join(configDir, "loom", "chat.toml")
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: ignoring %s: %v\n", path, err)
	}
	return cfg
}

// createSessionRequest is the JSON body sent to POST /api/sessions.
type createSessionRequest struct {
	UserID   string `json:"user_id"`
	Title    string `json:"title,omitempty"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// sessionInfo is the JSON representation of a session.
type sessionInfo struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// sessionList is the JSON response from GET /api/sessions.
type sessionList struct {
	Sessions []sessionInfo `json:"sessions"`
	Total    int           `json:"total"`
}

// messageInfo is the JSON representation of a stored message.
type messageInfo struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// messageList is the JSON response from GET /api/sessions/{id}/messages.
type messageList struct {
	Messages []messageInfo `json:"messages"`
}

func main() {
	cfg := loadClientConfig()
	if cfg.Server == "" {
		cfg.Server = "http://localhost:8080"
	}
	if cfg.User == "" {
		cfg.User = "chat-user"
	}

	server := flag.String("server", cfg.Server, "Gateway server URL")
	user := flag.String("user", cfg.User, "User ID for sessions")
	providerName := flag.String("provider", cfg.Provider, "Provider for new sessions")
	model := flag.String("model", cfg.Model, "Model for new sessions")
	sessionID := flag.String("session", "", "Resume an existing session")
	flag.Parse()

	fmt.Printf("loom-chat connected to %s\n", *server)
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := &client{
		server:    *server,
		user:      *user,
		provider:  *providerName,
		model:     *model,
		sessionID: *sessionID,
	}

	if err := c.run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

type client struct {
	server    string
	user      string
	provider  string
	model     string
	sessionID string
}

// shortID abbreviates a session id for display. Ids picked with /use can be
// arbitrary strings, so short ones pass through unchanged.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func (c *client) run(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		if c.sessionID != "" {
			fmt.Printf("[%s]> ", shortID(c.sessionID))
		} else {
			fmt.Print("> ")
		}

		// Read input with context awareness
		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		switch {
		case input == "/sessions":
			if err := c.listSessions(ctx); err != nil {
				printError(err)
			}
			fmt.Println()
			continue
		case input == "/new":
			if err := c.newSession(ctx); err != nil {
				printError(err)
			}
			fmt.Println()
			continue
		case strings.HasPrefix(input, "/use"):
			args := strings.TrimSpace(strings.TrimPrefix(input, "/use"))
			if args == "" {
				fmt.Println("Usage: /use <session_id>")
			} else {
				c.sessionID = args
				fmt.Printf("Now using session %s\n", args)
			}
			fmt.Println()
			continue
		case input == "/history":
			if err := c.fetchHistory(ctx); err != nil {
				printError(err)
			}
			fmt.Println()
			continue
		case input == "/help":
			printHelp()
			fmt.Println()
			continue
		}

		// Regular message: make sure a session exists, then stream
		if c.sessionID == "" {
			if err := c.newSession(ctx); err != nil {
				printError(err)
				fmt.Println()
				continue
			}
		}
		if err := c.sendMessage(ctx, input); err != nil {
			printError(err)
		}
		fmt.Println()
	}
}

// printHelp displays available commands.
func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /sessions      List your sessions")
	fmt.Println("  /new           Start a new session")
	fmt.Println("  /use <id>      Switch to an existing session")
	fmt.Println("  /history       Show the current session's history")
	fmt.Println("  /help          Show this help")
	fmt.Println("  /quit          Exit")
}

func printError(err error) {
	color.Red("[error] %v", err)
}

// newSession creates a session with the configured provider/model.
func (c *client) newSession(ctx context.Context) error {
	body, err := json.Marshal(createSessionRequest{
		UserID:   c.user,
		Provider: c.provider,
		Model:    c.model,
	})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/sessions", c.server)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return apiError(resp)
	}

	var session sessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	c.sessionID = session.ID
	fmt.Printf("New session %s (%s/%s)\n", shortID(session.ID), session.Provider, session.Model)
	return nil
}

// listSessions fetches and displays the user's sessions.
func (c *client) listSessions(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/sessions?user_id=%s", c.server, c.user)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching sessions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var list sessionList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if len(list.Sessions) == 0 {
		fmt.Println("No sessions yet. Send a message or /new to start one.")
		return nil
	}

	fmt.Printf("Sessions (%d total):\n", list.Total)
	for _, s := range list.Sessions {
		marker := "  "
		if s.ID == c.sessionID {
			marker = color.GreenString("* ")
		}
		fmt.Printf("%s%s  %s (%s/%s)\n", marker, shortID(s.ID), s.Title, s.Provider, s.Model)
	}
	return nil
}

// fetchHistory fetches and displays the current session's messages.
func (c *client) fetchHistory(ctx context.Context) error {
	if c.sessionID == "" {
		fmt.Println("No session selected. Use /use <id> or send a message first.")
		return nil
	}

	url := fmt.Sprintf("%s/api/sessions/%s/messages?limit=20", c.server, c.sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var history messageList
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if len(history.Messages) == 0 {
		fmt.Println("No messages yet")
		return nil
	}

	fmt.Println(strings.Repeat("-", 60))
	for _, msg := range history.Messages {
		switch msg.Role {
		case "user":
			color.Blue("you: %s", msg.Content)
		case "assistant":
			fmt.Printf("%s: %s\n", color.GreenString(msg.Model), msg.Content)
		default:
			color.HiBlack("[%s] %s", msg.Role, msg.Content)
		}
	}
	fmt.Println(strings.Repeat("-", 60))
	return nil
}

// sendRequest is the JSON body sent to POST /api/sessions/{id}/stream.
type sendRequest struct {
	Content string `json:"content"`
}

func (c *client) sendMessage(ctx context.Context, content string) error {
	bodyBytes, err := json.Marshal(sendRequest{Content: content})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/sessions/%s/stream", c.server, c.sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	return streamSSE(ctx, resp.Body)
}

// apiError extracts the server's JSON error message if one is present.
func apiError(resp *http.Response) error {
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			if msg, ok := errResp["error"]; ok {
				return fmt.Errorf("%s", msg)
			}
		}
	}
	return fmt.Errorf("server returned status %d", resp.StatusCode)
}

func streamSSE(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)

	var eventType string
	var dataLines []string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				data := strings.Join(dataLines, "\n")
				if err := handleSSEEvent(eventType, data); err != nil {
					return err
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}

		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data:"))
			continue
		}
	}

	return scanner.Err()
}

func handleSSEEvent(eventType, data string) error {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return fmt.Errorf("parsing event data: %w", err)
	}

	switch eventType {
	case "started":
		// Nothing to show; the session is already on the prompt.

	case "delta":
		if text, ok := payload["text"].(string); ok {
			fmt.Print(text)
		}

	case "done":
		fmt.Println()
		if model, ok := payload["model"].(string); ok && model != "" {
			color.HiBlack("[%s]", model)
		}

	case "error":
		if errMsg, ok := payload["error"].(string); ok {
			color.Red("[error] %s", errMsg)
		}

	default:
		// Ignore unknown events silently
	}

	return nil
}
