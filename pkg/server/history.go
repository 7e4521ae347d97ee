package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zysoong/open-codex-gui/pkg/domain"
	"github.com/zysoong/open-codex-gui/pkg/model"
)

// buildHistory reconstructs the model context from the conversation's
// persisted units in sequence order. Tool calls come back as assistant
// messages carrying the function call; tool results come back as user
// messages, with image attachments forwarded as inline data so a
// vision-capable model sees them.
func (s *Server) buildHistory(ctx context.Context, conversationID string) ([]model.Message, error) {
	units, err := s.content.ListUnits(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing units: %w", err)
	}

	var history []model.Message
	for _, u := range units {
		switch u.Kind {
		case domain.KindUserText:
			history = append(history, model.Message{
				Role:    model.RoleUser,
				Content: u.Payload.Text,
			})

		case domain.KindAssistantText:
			// Empty assistant units (pure tool-call turns, aborted
			// streams) carry no signal.
			if u.Payload.Text != "" {
				history = append(history, model.Message{
					Role:    model.RoleAssistant,
					Content: u.Payload.Text,
				})
			}

		case domain.KindToolCall:
			args, err := json.Marshal(u.Payload.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			history = append(history, model.Message{
				Role:    model.RoleAssistant,
				Content: "Using tool: " + u.Payload.ToolName,
				FunctionCall: &model.FunctionCall{
					Name:      u.Payload.ToolName,
					Arguments: string(args),
				},
			})

		case domain.KindToolResult:
			msg := model.Message{
				Role: model.RoleUser,
			}
			statusText := "Success"
			if !u.Payload.Success {
				statusText = "Error"
			}
			msg.Content = fmt.Sprintf("Tool result (%s) [%s]: %s",
				u.Payload.ToolName, statusText, u.Payload.Result)
			if att := u.Metadata.Attachment; att != nil && att.Type == "image" {
				msg.ImageDataURI = att.DataURI
			}
			history = append(history, msg)

		case domain.KindSystem:
			history = append(history, model.Message{
				Role:    model.RoleSystem,
				Content: u.Payload.Text,
			})
		}
	}
	return history, nil
}
