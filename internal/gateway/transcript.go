// ABOUTME: HTML transcript rendering for GET /api/sessions/{id}/transcript
// ABOUTME: Builds a markdown view of the conversation and converts it with goldmark

package gateway

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/loomhq/loom-gateway/internal/store"
)

const transcriptPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
blockquote { border-left: 3px solid #ccc; margin-left: 0; padding-left: 1rem; color: #555; }
</style>
</head>
<body>
%s
</body>
</html>
`

// handleTranscript handles GET /api/sessions/{id}/transcript.
// Renders the conversation as a standalone HTML page.
func (g *Gateway) handleTranscript(w http.ResponseWriter, r *http.Request, sessionID string) {
	conv, err := g.chat.GetConversation(r.Context(), sessionID)
	if err != nil {
		g.sendChatError(w, err)
		return
	}

	md := transcriptMarkdown(conv.Session, conv.Messages)

	var htmlBuf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &htmlBuf); err != nil {
		g.logger.Error("failed to convert transcript markdown", "error", err, "session_id", sessionID)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to render transcript")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, transcriptPage, conv.Session.Title, htmlBuf.String())
}

// transcriptMarkdown renders a session's history as markdown. Message
// content is quoted so its own markdown survives conversion intact.
func transcriptMarkdown(session *store.Session, messages []*store.Message) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", session.Title)
	fmt.Fprintf(&b, "Provider: `%s` · Model: `%s`\n\n", session.Provider, session.Model)
	if session.SystemContext != "" {
		fmt.Fprintf(&b, "**System:** %s\n\n", session.SystemContext)
	}

	for _, msg := range messages {
		label := msg.Role
		if msg.Role == store.RoleAssistant && msg.Model != "" {
			label = msg.Role + " (" + msg.Model + ")"
		}
		fmt.Fprintf(&b, "## %s · %s\n\n", label, msg.CreatedAt.Format(time.RFC3339))
		for _, line := range strings.Split(msg.Content, "\n") {
			fmt.Fprintf(&b, "> %s\n", line)
		}
		b.WriteString("\n")
	}

	return b.String()
}
