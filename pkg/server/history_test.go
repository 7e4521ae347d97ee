package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/zysoong/open-codex-gui/pkg/domain"
	"github.com/zysoong/open-codex-gui/pkg/model"
)

// unitLister serves a fixed unit slice for history reconstruction.
type unitLister struct {
	units []domain.ContentUnit
}

func (s *unitLister) CreateUnit(ctx context.Context, u *domain.ContentUnit) error { return nil }
func (s *unitLister) UpdateUnitPayload(ctx context.Context, id string, payload domain.UnitPayload) error {
	return nil
}
func (s *unitLister) FinalizeUnit(ctx context.Context, id string, payload domain.UnitPayload, md domain.UnitMetadata) error {
	return nil
}
func (s *unitLister) ListUnits(ctx context.Context, conversationID string) ([]domain.ContentUnit, error) {
	return s.units, nil
}
func (s *unitLister) MaxSequence(ctx context.Context, conversationID string) (int, error) {
	return len(s.units), nil
}

func historyFor(t *testing.T, units ...domain.ContentUnit) []model.Message {
	t.Helper()
	srv := &Server{content: &unitLister{units: units}}
	history, err := srv.buildHistory(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("buildHistory: %v", err)
	}
	return history
}

func textUnit(kind domain.Kind, text string) domain.ContentUnit {
	return domain.ContentUnit{Kind: kind, Payload: domain.UnitPayload{Text: text}}
}

func TestBuildHistoryRoles(t *testing.T) {
	history := historyFor(t,
		textUnit(domain.KindSystem, "be precise"),
		textUnit(domain.KindUserText, "write a script"),
		textUnit(domain.KindAssistantText, "here it is"),
	)
	if len(history) != 3 {
		t.Fatalf("history len = %d, want 3", len(history))
	}
	wantRoles := []model.Role{model.RoleSystem, model.RoleUser, model.RoleAssistant}
	for i, want := range wantRoles {
		if history[i].Role != want {
			t.Errorf("message %d role = %q, want %q", i, history[i].Role, want)
		}
	}
	if history[1].Content != "write a script" {
		t.Errorf("user content = %q", history[1].Content)
	}
}

func TestBuildHistorySkipsEmptyAssistantUnits(t *testing.T) {
	history := historyFor(t,
		textUnit(domain.KindUserText, "hi"),
		textUnit(domain.KindAssistantText, ""),
		textUnit(domain.KindAssistantText, "hello"),
	)
	if len(history) != 2 {
		t.Fatalf("history len = %d, want 2 (empty assistant unit dropped)", len(history))
	}
	if history[1].Content != "hello" {
		t.Errorf("assistant content = %q, want hello", history[1].Content)
	}
}

func TestBuildHistoryToolCallBecomesFunctionCall(t *testing.T) {
	history := historyFor(t, domain.ContentUnit{
		Kind: domain.KindToolCall,
		Payload: domain.UnitPayload{
			ToolName:  "bash",
			Arguments: map[string]any{"command": "ls"},
			Status:    domain.ToolCallComplete,
		},
	})
	if len(history) != 1 {
		t.Fatalf("history len = %d, want 1", len(history))
	}
	msg := history[0]
	if msg.Role != model.RoleAssistant {
		t.Errorf("role = %q, want assistant", msg.Role)
	}
	if msg.Content != "Using tool: bash" {
		t.Errorf("content = %q", msg.Content)
	}
	if msg.FunctionCall == nil || msg.FunctionCall.Name != "bash" {
		t.Fatalf("FunctionCall = %+v, want name bash", msg.FunctionCall)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(msg.FunctionCall.Arguments), &args); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if args["command"] != "ls" {
		t.Errorf("arguments = %v", args)
	}
}

func TestBuildHistoryToolResults(t *testing.T) {
	history := historyFor(t,
		domain.ContentUnit{
			Kind:    domain.KindToolResult,
			Payload: domain.UnitPayload{ToolName: "bash", Success: true, Result: "done"},
		},
		domain.ContentUnit{
			Kind:    domain.KindToolResult,
			Payload: domain.UnitPayload{ToolName: "read_file", Success: false, Result: "no such file"},
		},
	)
	if len(history) != 2 {
		t.Fatalf("history len = %d, want 2", len(history))
	}
	if history[0].Role != model.RoleUser {
		t.Errorf("tool result role = %q, want user", history[0].Role)
	}
	if history[0].Content != "Tool result (bash) [Success]: done" {
		t.Errorf("success content = %q", history[0].Content)
	}
	if history[1].Content != "Tool result (read_file) [Error]: no such file" {
		t.Errorf("error content = %q", history[1].Content)
	}
}

func TestBuildHistoryForwardsImageAttachment(t *testing.T) {
	uri := "data:image/png;base64,iVBOR"
	history := historyFor(t,
		domain.ContentUnit{
			Kind:    domain.KindToolResult,
			Payload: domain.UnitPayload{ToolName: "read_file", Success: true, Result: "[image]"},
			Metadata: domain.UnitMetadata{
				Attachment: &domain.Attachment{Type: "image", MimeType: "image/png", DataURI: uri},
			},
		},
		domain.ContentUnit{
			Kind:    domain.KindToolResult,
			Payload: domain.UnitPayload{ToolName: "bash", Success: true, Result: "text"},
			Metadata: domain.UnitMetadata{
				Attachment: &domain.Attachment{Type: "archive", DataURI: "data:application/zip;base64,x"},
			},
		},
	)
	if history[0].ImageDataURI != uri {
		t.Errorf("ImageDataURI = %q, want %q", history[0].ImageDataURI, uri)
	}
	if history[1].ImageDataURI != "" {
		t.Error("non-image attachment must not set ImageDataURI")
	}
}
