// ABOUTME: Streaming send path: wraps a provider event channel with persistence
// ABOUTME: Accumulated text is saved only when the stream completes, never for partials

package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom-gateway/internal/provider"
	"github.com/loomhq/loom-gateway/internal/store"
)

// StreamResult is the outcome of a streaming send. When Fault is set no
// stream was started and Events is nil; otherwise Events delivers the
// provider's events and is closed when the stream ends.
type StreamResult struct {
	UserMessage *store.Message
	Events      <-chan provider.StreamEvent
	Fault       *Fault
}

// SendMessageStreaming persists the caller's turn and starts a streaming
// completion. Deltas are forwarded to the caller as they arrive; the
// concatenated text is persisted as a single assistant message when the
// provider signals completion. A stream that ends in an error or is
// cancelled persists nothing.
func (s *Service) SendMessageStreaming(ctx context.Context, sessionID, content string) (*StreamResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, newError(KindValidationFailure, nil, "message content is empty")
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, notFoundErr(err, sessionID)
	}

	userMsg := &store.Message{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Role:      store.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.store.SaveMessage(ctx, userMsg); err != nil {
		return nil, newError(KindPersistenceFailure, err, "saving user message")
	}

	result := &StreamResult{UserMessage: userMsg}

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
	req := requestFor(session, win)

	streamCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	events, err := prov.GenerateStream(streamCtx, req)
	if err != nil {
		kind := classifyProviderErr(err)
		if s.cfg.EnableFallback && retriable(kind) {
			if alt, ok := s.registry.Fallback(prov.Name()); ok && len(alt.ListModels()) > 0 {
				s.logger.Warn("stream start failed, trying fallback",
					"provider", prov.Name(),
					"fallback", alt.Name(),
					"error", err)

				altReq := *req
				altReq.Model = alt.ListModels()[0]
				if altEvents, altErr := alt.GenerateStream(streamCtx, &altReq); altErr == nil {
					result.Events = s.persistStream(streamCtx, cancel, session, altEvents)
					return result, nil
				}
			}
		}
		cancel()
		s.logger.Error("stream start failed", "model", req.Model, "error", err)
		result.Fault = faultFrom(err)
		return result, nil
	}

	result.Events = s.persistStream(streamCtx, cancel, session, events)
	return result, nil
}

// persistStream forwards provider events to the caller while accumulating
// delta text. The assistant message is saved exactly when the completion
// event is observed; an error event or a channel closed without one leaves
// history untouched. ctx covers the caller: if it ends first the producer
// is drained so its goroutine can exit.
func (s *Service) persistStream(ctx context.Context, cancel context.CancelFunc, session *store.Session, in <-chan provider.StreamEvent) <-chan provider.StreamEvent {
	out := make(chan provider.StreamEvent, streamBuffer)

	go func() {
		defer close(out)
		defer cancel()

		var text strings.Builder
		model := session.Model

		for ev := range in {
			if ev.Model != "" {
				model = ev.Model
			}
			if ev.Delta != "" {
				text.WriteString(ev.Delta)
			}

			if ev.Final {
				// Persist before forwarding: once the provider has
				// completed the turn it belongs in history whether or
				// not the caller is still listening.
				s.saveStreamedAssistant(session, text.String(), model)
			} else if ev.Err != nil {
				s.logger.Error("stream failed",
					"session_id", session.ID,
					"error", ev.Err)
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				go drain(in)
				s.logger.Debug("stream consumer gone", "session_id", session.ID)
				return
			}

			if ev.Final || ev.Err != nil {
				return
			}
		}

		// Closed without a terminal event: the upstream call was
		// cancelled or the provider dropped the connection mid-stream.
		s.logger.Debug("stream ended without completion",
			"session_id", session.ID,
			"discarded_bytes", text.Len())
	}()

	return out
}

const streamBuffer = 16

func (s *Service) saveStreamedAssistant(session *store.Session, content, model string) {
	if content == "" {
		return
	}
	assistant := s.assistantMessage(session, content, model, 0)
	if err := s.saveDetached(assistant); err == nil {
		s.touchSession(session)
	}
}

func drain(ch <-chan provider.StreamEvent) {
	for range ch {
	}
}
