// ABOUTME: Gateway orchestrator that wires the store, providers and HTTP server
// ABOUTME: Manages startup, route registration and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/loomhq/loom-gateway/internal/chat"
	"github.com/loomhq/loom-gateway/internal/config"
	"github.com/loomhq/loom-gateway/internal/provider"
	"github.com/loomhq/loom-gateway/internal/provider/anthropic"
	"github.com/loomhq/loom-gateway/internal/provider/openai"
	"github.com/loomhq/loom-gateway/internal/store"
)

// Gateway orchestrates the loom-gateway server components. It owns the
// store, the provider registry, the chat service and the HTTP server.
type Gateway struct {
	config     *config.Config
	store      store.Store
	registry   *provider.Registry
	chat       *chat.Service
	httpServer *http.Server
	logger     *slog.Logger

	// serverID identifies this gateway instance
	serverID string
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("LOOM_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// buildRegistry constructs provider adapters for every configured provider.
// Registration order sets fallback priority: the default provider first.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*provider.Registry, error) {
	var providers []provider.Provider

	if cfg.Providers.OpenAI.Enabled() {
		p, err := openai.New(openai.Config{
			APIKey:  cfg.Providers.OpenAI.APIKey,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
			Models:  cfg.Providers.OpenAI.Models,
			Timeout: cfg.Providers.OpenAI.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("creating openai provider: %w", err)
		}
		providers = append(providers, p)
		logger.Info("provider registered", "provider", "openai")
	}

	if cfg.Providers.Anthropic.Enabled() {
		p, err := anthropic.New(anthropic.Config{
			APIKey:  cfg.Providers.Anthropic.APIKey,
			BaseURL: cfg.Providers.Anthropic.BaseURL,
			Models:  cfg.Providers.Anthropic.Models,
			Timeout: cfg.Providers.Anthropic.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("creating anthropic provider: %w", err)
		}
		providers = append(providers, p)
		logger.Info("provider registered", "provider", "anthropic")
	}

	if len(providers) == 0 {
		return nil, errors.New("no providers configured")
	}

	// Put the default provider at the head so Fallback prefers the rest in
	// config order.
	if cfg.Chat.DefaultProvider != "" && providers[0].Name() != cfg.Chat.DefaultProvider {
		for i, p := range providers {
			if p.Name() == cfg.Chat.DefaultProvider {
				providers[0], providers[i] = providers[i], providers[0]
				break
			}
		}
	}

	return provider.NewRegistry(logger, providers...), nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	chatService := chat.New(s, registry, chat.Config{
		DefaultProvider:   cfg.Chat.DefaultProvider,
		DefaultModel:      cfg.Chat.DefaultModel,
		TokenBudget:       cfg.Chat.TokenBudget,
		RequestTimeout:    cfg.Chat.RequestTimeout,
		EnableFallback:    cfg.Chat.EnableFallback,
		StrictWindow:      cfg.Chat.StrictWindow,
		FailOnEmptyWindow: cfg.Chat.FailOnEmptyWindow,
	}, logger)

	gw := &Gateway{
		config:   cfg,
		store:    s,
		registry: registry,
		chat:     chatService,
		logger:   logger.With("component", "gateway"),
		serverID: generateServerID(),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.buildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// buildMux registers all HTTP routes.
func (g *Gateway) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	// API endpoints
	mux.HandleFunc("/api/sessions", g.handleSessions)
	mux.HandleFunc("/api/sessions/", g.handleSessionRoutes)
	mux.HandleFunc("/api/providers", g.handleListProviders)
	mux.HandleFunc("/api/models", g.handleListModels)

	return mux
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServer starts the HTTP server in a goroutine, returning error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one provider is registered.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	providers := g.registry.ListProviders()
	if len(providers) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no providers configured"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d providers)", len(providers))
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("loom-gateway-%d", time.Now().UnixNano()%1000000)
}
