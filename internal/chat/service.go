// ABOUTME: Chat orchestrator: session lifecycle, message dispatch and persistence ordering
// ABOUTME: User turns are recorded first, then the provider is consulted - history is the source of truth

package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom-gateway/internal/provider"
	"github.com/loomhq/loom-gateway/internal/store"
	"github.com/loomhq/loom-gateway/internal/window"
)

const (
	defaultTokenBudget    = 8000
	defaultRequestTimeout = 2 * time.Minute
	defaultTitle          = "New conversation"

	// saveTimeout bounds detached persistence writes so they finish even
	// when the request context is already cancelled.
	saveTimeout = 5 * time.Second
)

// Config carries the orchestrator's tunables, read once at construction.
type Config struct {
	DefaultProvider string
	DefaultModel    string
	TokenBudget     int
	RequestTimeout  time.Duration

	// EnableFallback permits exactly one alternate-provider attempt on
	// transport failures and rate limits. Never an unbounded retry loop.
	EnableFallback bool

	// StrictWindow drops the newest message when it alone exceeds the
	// budget instead of keeping it.
	StrictWindow bool

	// FailOnEmptyWindow reports an empty-after-budgeting window as a
	// degraded result instead of attempting generation anyway.
	FailOnEmptyWindow bool
}

func (c Config) withDefaults() Config {
	if c.TokenBudget <= 0 {
		c.TokenBudget = defaultTokenBudget
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return c
}

// Service is the orchestration core. It owns session lifecycle and is the
// only component allowed to touch providers and the registry.
type Service struct {
	store    store.Store
	registry *provider.Registry
	cfg      Config
	logger   *slog.Logger
}

// New creates a chat service.
func New(st store.Store, registry *provider.Registry, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		registry: registry,
		cfg:      cfg.withDefaults(),
		logger:   logger.With("component", "chat"),
	}
}

// CreateSessionRequest carries the caller's session parameters. Provider,
// Model, Title and SystemContext are optional.
type CreateSessionRequest struct {
	UserID        string
	Title         string
	Provider      string
	Model         string
	SystemContext string
}

// CreateSession validates the provider/model pair and persists a new
// session. Omitted provider/model fall back to the configured defaults.
func (s *Service) CreateSession(ctx context.Context, req *CreateSessionRequest) (*store.Session, error) {
	if req.UserID == "" {
		return nil, newError(KindValidationFailure, nil, "user id is required")
	}

	providerName, model, err := s.resolvePair(req.Provider, req.Model)
	if err != nil {
		return nil, err
	}

	title := req.Title
	if title == "" {
		title = defaultTitle
	}

	now := time.Now()
	session := &store.Session{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Title:         title,
		SystemContext: req.SystemContext,
		Provider:      providerName,
		Model:         model,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, newError(KindPersistenceFailure, err, "saving session")
	}

	s.logger.Info("session created",
		"session_id", session.ID,
		"user_id", session.UserID,
		"provider", session.Provider,
		"model", session.Model)
	return session, nil
}

// resolvePair fills in defaults and validates that the named provider
// supports the model. Rejections are never silently coerced.
func (s *Service) resolvePair(providerName, model string) (string, string, error) {
	if providerName == "" && model != "" {
		// Model given without a provider: first claimant in priority
		// order wins.
		p, err := s.registry.ResolveForModel(model)
		if err != nil {
			return "", "", newError(KindUnsupportedModel, err, "no provider supports model %q", model)
		}
		return p.Name(), model, nil
	}

	if providerName == "" {
		providerName = s.cfg.DefaultProvider
	}
	p, err := s.registry.Resolve(providerName)
	if err != nil {
		return "", "", newError(KindUnsupportedProvider, err, "provider %q is not configured", providerName)
	}

	if model == "" {
		model = s.cfg.DefaultModel
		if model == "" || !p.SupportsModel(model) {
			models := p.ListModels()
			if len(models) == 0 {
				return "", "", newError(KindUnsupportedModel, nil, "provider %q advertises no models", providerName)
			}
			model = models[0]
		}
	}
	if !p.SupportsModel(model) {
		return "", "", newError(KindUnsupportedModel, nil, "provider %q does not support model %q", providerName, model)
	}
	return providerName, model, nil
}

// SendResult is the outcome of a non-streaming send. UserMessage is always
// set once the call returns without error; AssistantMessage is absent when
// the provider call failed, in which case Fault reports why.
type SendResult struct {
	UserMessage      *store.Message
	AssistantMessage *store.Message
	Fault            *Fault
}

// SendMessage persists the caller's turn, asks the session's provider for a
// completion and persists the assistant's reply.
//
// The user message is saved before the provider is even resolved: a user's
// turn is never lost to a failing model call. Provider failures after that
// point are reported on the result, not returned as errors.
func (s *Service) SendMessage(ctx context.Context, sessionID, content, role string) (*SendResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, newError(KindValidationFailure, nil, "message content is empty")
	}
	if role == "" {
		role = store.RoleUser
	}
	if role != store.RoleUser && role != store.RoleSystem {
		return nil, newError(KindValidationFailure, nil, "role %q cannot be sent", role)
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, notFoundErr(err, sessionID)
	}

	// Record first, then act.
	userMsg := &store.Message{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.store.SaveMessage(ctx, userMsg); err != nil {
		return nil, newError(KindPersistenceFailure, err, "saving user message")
	}
	s.logger.Debug("user message recorded", "session_id", session.ID, "message_id", userMsg.ID)

	result := &SendResult{UserMessage: userMsg}

	prov, fault := s.sessionProvider(session)
	if fault != nil {
		result.Fault = fault
		return result, nil
	}

	win, fault := s.buildWindow(ctx, session, prov)
	if fault != nil {
		result.Fault = fault
		return result, nil
	}

	genResult, fault := s.generate(ctx, prov, requestFor(session, win))
	if fault != nil {
		result.Fault = fault
		return result, nil
	}

	assistant := s.assistantMessage(session, genResult.Content, genResult.Model, genResult.Usage.OutputTokens)
	result.AssistantMessage = assistant
	if err := s.saveDetached(assistant); err != nil {
		// Generation is not wasted because storage briefly failed: the
		// content is still returned, the failure is reported.
		result.Fault = &Fault{Kind: KindPersistenceFailure, Message: err.Error()}
		return result, nil
	}

	s.touchSession(session)
	return result, nil
}

// sessionProvider resolves the session's configured provider and checks the
// pair is still valid. Failures are degraded results: the user turn is
// already saved.
func (s *Service) sessionProvider(session *store.Session) (provider.Provider, *Fault) {
	prov, err := s.registry.Resolve(session.Provider)
	if err != nil {
		return nil, &Fault{
			Kind:    KindProviderUnavailable,
			Message: "provider " + session.Provider + " is not available",
		}
	}
	if !prov.SupportsModel(session.Model) {
		return nil, &Fault{
			Kind:    KindUnsupportedModel,
			Message: "no provider supports model " + session.Model,
		}
	}
	return prov, nil
}

// buildWindow loads history and computes the context window a generation
// would use. The window is recomputed on every send, never cached.
func (s *Service) buildWindow(ctx context.Context, session *store.Session, est window.TokenEstimator) (*window.Window, *Fault) {
	messages, err := s.store.GetSessionMessages(ctx, session.ID, 0)
	if err != nil {
		return nil, &Fault{Kind: KindPersistenceFailure, Message: err.Error()}
	}

	var win *window.Window
	if s.cfg.StrictWindow {
		win = window.BuildStrict(messages, session.SystemContext, s.cfg.TokenBudget, est)
	} else {
		win = window.Build(messages, session.SystemContext, s.cfg.TokenBudget, est)
	}

	if len(win.Messages) == 0 && s.cfg.FailOnEmptyWindow {
		return nil, &Fault{Kind: KindEmptyWindow, Message: "context window is empty after budgeting"}
	}
	return win, nil
}

// requestFor converts a window into a provider request.
func requestFor(session *store.Session, win *window.Window) *provider.Request {
	msgs := make([]provider.Message, len(win.Messages))
	for i, m := range win.Messages {
		msgs[i] = provider.Message{Role: m.Role, Content: m.Content}
	}
	return &provider.Request{
		Model:    session.Model,
		System:   win.System,
		Messages: msgs,
	}
}

// generate runs a non-streaming completion under the configured deadline,
// with at most one alternate-provider attempt when fallback is enabled.
func (s *Service) generate(ctx context.Context, prov provider.Provider, req *provider.Request) (*provider.Result, *Fault) {
	genCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	result, err := prov.Generate(genCtx, req)
	if err == nil {
		return result, nil
	}

	kind := classifyProviderErr(err)
	if s.cfg.EnableFallback && retriable(kind) {
		if alt, ok := s.registry.Fallback(prov.Name()); ok && len(alt.ListModels()) > 0 {
			s.logger.Warn("provider failed, trying fallback",
				"provider", prov.Name(),
				"fallback", alt.Name(),
				"error", err)

			altReq := *req
			altReq.Model = alt.ListModels()[0]

			altCtx, altCancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
			defer altCancel()
			if altResult, altErr := alt.Generate(altCtx, &altReq); altErr == nil {
				return altResult, nil
			}
		}
	}

	s.logger.Error("generation failed", "model", req.Model, "error", err)
	return nil, faultFrom(err)
}

// assistantMessage builds the store record for a completed assistant turn.
func (s *Service) assistantMessage(session *store.Session, content, model string, tokens int) *store.Message {
	if model == "" {
		model = session.Model
	}
	return &store.Message{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Role:      store.RoleAssistant,
		Content:   content,
		Model:     model,
		Tokens:    tokens,
		CreatedAt: time.Now(),
	}
}

// saveDetached persists a message with its own timeout context so that
// persistence completes even if the request context is already cancelled.
func (s *Service) saveDetached(msg *store.Message) error {
	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := s.store.SaveMessage(saveCtx, msg); err != nil {
		s.logger.Error("failed to save message",
			"error", err,
			"message_id", msg.ID,
			"session_id", msg.SessionID)
		return err
	}
	return nil
}

// touchSession bumps the session's updated_at so recency ordering tracks
// activity. Best effort.
func (s *Service) touchSession(session *store.Session) {
	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	session.UpdatedAt = time.Now()
	if err := s.store.UpdateSession(saveCtx, session); err != nil {
		s.logger.Warn("failed to touch session", "session_id", session.ID, "error", err)
	}
}

// UpdateSessionRequest is a patch: nil fields are left unchanged.
type UpdateSessionRequest struct {
	Title         *string
	SystemContext *string
	Provider      *string
	Model         *string
}

// UpdateSession applies a patch and returns the new session value. Changing
// provider or model re-validates the pair exactly as at creation.
func (s *Service) UpdateSession(ctx context.Context, sessionID string, patch *UpdateSessionRequest) (*store.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, notFoundErr(err, sessionID)
	}

	updated := *session
	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return nil, newError(KindValidationFailure, nil, "title cannot be empty")
		}
		updated.Title = *patch.Title
	}
	if patch.SystemContext != nil {
		updated.SystemContext = *patch.SystemContext
	}

	if patch.Provider != nil || patch.Model != nil {
		if patch.Provider != nil {
			updated.Provider = *patch.Provider
		}
		if patch.Model != nil {
			updated.Model = *patch.Model
		}
		p, err := s.registry.Resolve(updated.Provider)
		if err != nil {
			return nil, newError(KindUnsupportedProvider, err, "provider %q is not configured", updated.Provider)
		}
		if !p.SupportsModel(updated.Model) {
			return nil, newError(KindUnsupportedModel, nil, "provider %q does not support model %q", updated.Provider, updated.Model)
		}
	}

	updated.UpdatedAt = time.Now()
	if err := s.store.UpdateSession(ctx, &updated); err != nil {
		return nil, newError(KindPersistenceFailure, err, "updating session")
	}
	return &updated, nil
}

// DeleteSession removes a session and all of its messages. Messages go
// first so that an orphaned message referencing a missing session is
// unreachable.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return notFoundErr(err, sessionID)
	}

	if err := s.store.DeleteSessionMessages(ctx, sessionID); err != nil {
		return newError(KindPersistenceFailure, err, "deleting session messages")
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return newError(KindPersistenceFailure, err, "deleting session")
	}

	s.logger.Info("session deleted", "session_id", sessionID)
	return nil
}

// ListUserSessions returns one page of a user's sessions plus the total
// count. Pages are 1-based.
func (s *Service) ListUserSessions(ctx context.Context, userID string, page, limit int) ([]*store.Session, int, error) {
	if userID == "" {
		return nil, 0, newError(KindValidationFailure, nil, "user id is required")
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	sessions, err := s.store.ListSessionsByUser(ctx, userID, (page-1)*limit, limit)
	if err != nil {
		return nil, 0, newError(KindPersistenceFailure, err, "listing sessions")
	}
	total, err := s.store.CountSessionsByUser(ctx, userID)
	if err != nil {
		return nil, 0, newError(KindPersistenceFailure, err, "counting sessions")
	}
	return sessions, total, nil
}

// Conversation is the read-only view of a session: its full history plus
// the window the next send would use.
type Conversation struct {
	Session  *store.Session
	Messages []*store.Message
	Window   *window.Window
}

// GetConversation assembles the conversation view. The window is computed
// with the same policy and estimator a SendMessage would use, so UIs and
// tests can preview exactly what the provider will see.
func (s *Service) GetConversation(ctx context.Context, sessionID string) (*Conversation, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, notFoundErr(err, sessionID)
	}

	messages, err := s.store.GetSessionMessages(ctx, sessionID, 0)
	if err != nil {
		return nil, newError(KindPersistenceFailure, err, "loading messages")
	}

	// Window preview still works when the provider went away; fall back to
	// the shared character heuristic.
	var est window.TokenEstimator = window.EstimatorFunc(func(text string) int { return (len(text) + 3) / 4 })
	if prov, err := s.registry.Resolve(session.Provider); err == nil {
		est = prov
	}

	var win *window.Window
	if s.cfg.StrictWindow {
		win = window.BuildStrict(messages, session.SystemContext, s.cfg.TokenBudget, est)
	} else {
		win = window.Build(messages, session.SystemContext, s.cfg.TokenBudget, est)
	}

	return &Conversation{Session: session, Messages: messages, Window: win}, nil
}
