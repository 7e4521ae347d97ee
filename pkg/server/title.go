package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/zysoong/open-codex-gui/pkg/domain"
	"github.com/zysoong/open-codex-gui/pkg/model"
)

const maxTitleLength = 100

// truncateTitle caps a title at maxTitleLength bytes, backing up to a
// rune boundary so the stored name stays valid UTF-8.
func truncateTitle(title string) string {
	if len(title) <= maxTitleLength {
		return title
	}
	cut := maxTitleLength
	for cut > 0 && !utf8.RuneStart(title[cut]) {
		cut--
	}
	return title[:cut]
}

// generateTitleIfNeeded names the conversation after its first user
// message. Runs in the background of a turn; any failure is logged and
// the conversation keeps its default name.
func (s *Server) generateTitleIfNeeded(conversationID, userMessage string, client *wsClient) {
	ctx := context.Background()

	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		slog.Error("Title generation: conversation lookup failed", "conversation_id", conversationID, "error", err)
		return
	}
	if conv.TitleGenerated {
		return
	}

	units, err := s.content.ListUnits(ctx, conversationID)
	if err != nil {
		slog.Error("Title generation: listing units failed", "conversation_id", conversationID, "error", err)
		return
	}
	userTurns := 0
	for _, u := range units {
		if u.Kind == domain.KindUserText {
			userTurns++
		}
	}
	if userTurns != 1 {
		return
	}

	prompt := fmt.Sprintf(`Generate a concise title (max 6 words) for a chat session based on this first user message:

%q

Respond with ONLY the title, nothing else. The title should capture the main topic or intent.`, userMessage)

	stream, err := s.provider.GenerateStream(ctx, s.modelName,
		[]model.Message{{Role: model.RoleUser, Content: prompt}}, nil)
	if err != nil {
		slog.Error("Title generation failed", "conversation_id", conversationID, "error", err)
		return
	}
	defer stream.Close()

	var b strings.Builder
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Error("Title generation stream failed", "conversation_id", conversationID, "error", err)
			return
		}
		b.WriteString(chunk.Text)
	}

	title := strings.Trim(strings.TrimSpace(b.String()), `"'`)
	if title == "" {
		return
	}
	title = truncateTitle(title)

	if err := s.conversations.SetTitle(ctx, conversationID, title); err != nil {
		slog.Error("Title generation: saving title failed", "conversation_id", conversationID, "error", err)
		return
	}
	slog.Info("Generated conversation title", "conversation_id", conversationID, "title", title)

	client.trySend(map[string]any{
		"type":            "title_updated",
		"conversation_id": conversationID,
		"title":           title,
	})
}
