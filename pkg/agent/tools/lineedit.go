package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/zysoong/open-codex-gui/pkg/agent"
	"github.com/zysoong/open-codex-gui/pkg/domain"
	"github.com/zysoong/open-codex-gui/pkg/sandbox"
)

// EditLines edits a file by line number instead of pattern matching,
// which sidesteps exact-whitespace matching problems. Line numbers are
// 1-indexed and ranges are inclusive.
type EditLines struct {
	handle sandbox.Handle
}

var _ agent.Tool = (*EditLines)(nil)

func NewEditLines(handle sandbox.Handle) *EditLines {
	return &EditLines{handle: handle}
}

func (e *EditLines) Name() string { return "edit_lines" }

func (e *EditLines) Description() string {
	return "Line-based file editing - use line numbers from file_read output.\n\n" +
		"ALWAYS call file_read() FIRST before using this tool so you can see current line numbers.\n\n" +
		"COMMANDS:\n" +
		"- replace: Replace lines start_line to end_line (INCLUSIVE) with new_content\n" +
		"- insert: Insert new_content after insert_line (0 = file start). MUST specify insert_line!\n" +
		"- delete: Delete lines start_line to end_line (INCLUSIVE)\n\n" +
		"LINE RANGES ARE INCLUSIVE:\n" +
		"- To edit ONLY line 7: use start_line=7, end_line=7 (SAME number!)\n" +
		"- To edit lines 7-9: use start_line=7, end_line=9 (edits 7, 8, AND 9)\n\n" +
		"If an edit fails, file_read() again to see the updated line numbers."
}

func (e *EditLines) Parameters() []agent.Parameter {
	return []agent.Parameter{
		{
			Name:        "command",
			Type:        "string",
			Description: "Action: 'replace', 'insert', or 'delete'",
			Required:    true,
		},
		{
			Name:        "path",
			Type:        "string",
			Description: "File path to edit (e.g., '/workspace/out/main.py')",
			Required:    true,
		},
		{
			Name:        "start_line",
			Type:        "integer",
			Description: "Start line number (1-indexed). Required for replace/delete.",
		},
		{
			Name:        "end_line",
			Type:        "integer",
			Description: "End line number (inclusive). Required for replace/delete.",
		},
		{
			Name:        "insert_line",
			Type:        "integer",
			Description: "Line number after which to insert (0 = beginning). Required for insert.",
		},
		{
			Name:        "new_content",
			Type:        "string",
			Description: "New content to insert/replace. Required for replace/insert.",
		},
	}
}

func (e *EditLines) Execute(ctx context.Context, args map[string]any) *domain.ToolResult {
	command, _ := args["command"].(string)
	p, _ := args["path"].(string)
	command = strings.ToLower(command)

	fail := func(format string, a ...any) *domain.ToolResult {
		return &domain.ToolResult{
			Error:    fmt.Sprintf(format, a...),
			Metadata: map[string]any{"path": p, "command": command},
		}
	}

	if err := sandbox.ValidateWritablePath(p); err != nil {
		return fail("Invalid file path: %v", err)
	}

	current, err := e.handle.ReadFile(ctx, p)
	if err != nil {
		return fail("File not found: %s: %v", p, err)
	}
	lines := strings.Split(current, "\n")

	var updated []string
	switch command {
	case "replace", "delete":
		start := intArg(args, "start_line", 0)
		end := intArg(args, "end_line", 0)
		if start < 1 || end < start {
			return fail("Invalid line range: start_line=%d end_line=%d (1-indexed, end inclusive)", start, end)
		}
		if end > len(lines) {
			return fail("Line range %d-%d exceeds file length (%d lines)", start, end, len(lines))
		}
		updated = append(updated, lines[:start-1]...)
		if command == "replace" {
			newContent, ok := args["new_content"].(string)
			if !ok {
				return fail("new_content is required for replace")
			}
			updated = append(updated, strings.Split(newContent, "\n")...)
		}
		updated = append(updated, lines[end:]...)

	case "insert":
		after := intArg(args, "insert_line", -1)
		if after < 0 || after > len(lines) {
			return fail("insert_line must be between 0 and %d", len(lines))
		}
		newContent, ok := args["new_content"].(string)
		if !ok {
			return fail("new_content is required for insert")
		}
		updated = append(updated, lines[:after]...)
		updated = append(updated, strings.Split(newContent, "\n")...)
		updated = append(updated, lines[after:]...)

	default:
		return fail("Unknown command: %s (must be 'replace', 'insert', or 'delete')", command)
	}

	if err := e.handle.WriteFile(ctx, p, strings.Join(updated, "\n")); err != nil {
		return fail("Failed to write file: %v", err)
	}

	return &domain.ToolResult{
		Success: true,
		Output:  fmt.Sprintf("Successfully applied %s to %s (%d lines -> %d lines)", command, p, len(lines), len(updated)),
		Metadata: map[string]any{
			"path":      p,
			"command":   command,
			"old_lines": len(lines),
			"new_lines": len(updated),
		},
	}
}
