package tools

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/zysoong/open-codex-gui/pkg/agent"
	"github.com/zysoong/open-codex-gui/pkg/domain"
	"github.com/zysoong/open-codex-gui/pkg/sandbox"
)

// FileRead reads text or binary files from anywhere under the
// workspace, including the read-only shared project files.
type FileRead struct {
	handle sandbox.Handle
}

var _ agent.Tool = (*FileRead)(nil)

func NewFileRead(handle sandbox.Handle) *FileRead {
	return &FileRead{handle: handle}
}

func (f *FileRead) Name() string { return "file_read" }

func (f *FileRead) Description() string {
	return "Read the complete contents of a file from the sandbox environment. " +
		"Can read from: /workspace/project_files (user uploaded files) or " +
		"/workspace/out (files created by you). Handles BOTH text and binary files. " +
		"For text files: returns content as string. " +
		"For binary files (images, PDFs, etc): returns base64-encoded data URI (e.g., 'data:image/png;base64,...'). " +
		"Use this to: inspect code before editing, view configuration files, check log outputs, " +
		"read data files, or retrieve generated images to show to the user. " +
		"For large text files, consider using bash with 'head' or 'tail' commands. " +
		"IMPORTANT: After generating an image, ALWAYS read it with this tool so the user can see it."
}

func (f *FileRead) Parameters() []agent.Parameter {
	return []agent.Parameter{
		{
			Name:        "path",
			Type:        "string",
			Description: "Full path to the file (e.g., '/workspace/project_files/data.csv' or '/workspace/out/script.py')",
			Required:    true,
		},
	}
}

func (f *FileRead) Execute(ctx context.Context, args map[string]any) *domain.ToolResult {
	p, _ := args["path"].(string)
	if err := sandbox.ValidateWorkspacePath(p); err != nil {
		return &domain.ToolResult{
			Error:    fmt.Sprintf("Invalid file path: %v", err),
			Metadata: map[string]any{"path": p},
		}
	}

	content, err := f.handle.ReadFile(ctx, p)
	if err != nil {
		return &domain.ToolResult{
			Error:    fmt.Sprintf("File not found or cannot be read: %s: %v", p, err),
			Metadata: map[string]any{"path": p},
		}
	}

	isBinary := strings.HasPrefix(content, "data:")
	metadata := map[string]any{
		"path":      p,
		"size":      len(content),
		"is_binary": isBinary,
	}

	// Images go to the model as a short notice; the full data URI
	// travels in metadata so the frontend can render it without the
	// model paying for the base64 tokens.
	if isBinary && strings.Contains(content[:min(len(content), 50)], "image/") {
		mimeType := strings.TrimPrefix(strings.SplitN(content, ";", 2)[0], "data:")
		metadata["type"] = "image"
		metadata["image_data"] = content
		metadata["filename"] = path.Base(p)
		metadata["mime_type"] = mimeType
		return &domain.ToolResult{
			Success: true,
			Output: fmt.Sprintf("Successfully read image file: %s (%dKB, %s)\nImage will be displayed to the user in the chat.",
				p, len(content)/1024, mimeType),
			Metadata: metadata,
		}
	}

	return &domain.ToolResult{
		Success:  true,
		Output:   content,
		Metadata: metadata,
	}
}

// FileWrite creates or overwrites a file in the writable output
// directory. Only simple filenames are accepted.
type FileWrite struct {
	handle sandbox.Handle
}

var _ agent.Tool = (*FileWrite)(nil)

func NewFileWrite(handle sandbox.Handle) *FileWrite {
	return &FileWrite{handle: handle}
}

func (f *FileWrite) Name() string { return "file_write" }

func (f *FileWrite) Description() string {
	return "Write or create a file in the output directory (/workspace/out). " +
		"Creates new files or completely overwrites existing files. " +
		"Use this for: creating new source files, writing configuration files, " +
		"generating scripts, saving outputs. You can ONLY specify the filename, " +
		"not the full path - all files are written to /workspace/out. " +
		"WARNING: This overwrites existing files completely. " +
		"For targeted changes to existing files, use file_edit instead."
}

func (f *FileWrite) Parameters() []agent.Parameter {
	return []agent.Parameter{
		{
			Name:        "filename",
			Type:        "string",
			Description: "Filename to write (e.g., 'script.py', 'config.json'). Must be a simple filename without path separators.",
			Required:    true,
		},
		{
			Name:        "content",
			Type:        "string",
			Description: "Content to write to the file",
			Required:    true,
		},
	}
}

func (f *FileWrite) Execute(ctx context.Context, args map[string]any) *domain.ToolResult {
	filename, _ := args["filename"].(string)
	content, _ := args["content"].(string)

	if strings.ContainsAny(filename, "/\\") || strings.HasPrefix(filename, ".") {
		return &domain.ToolResult{
			Error:    fmt.Sprintf("Invalid filename: %s. Only simple filenames are allowed (no path separators or leading dots).", filename),
			Metadata: map[string]any{"filename": filename},
		}
	}

	outputPath := sandbox.WritablePrefix + "/" + filename
	if err := f.handle.WriteFile(ctx, outputPath, content); err != nil {
		return &domain.ToolResult{
			Error:    fmt.Sprintf("Failed to write file %s: %v", filename, err),
			Metadata: map[string]any{"filename": filename},
		}
	}

	return &domain.ToolResult{
		Success: true,
		Output:  fmt.Sprintf("Successfully wrote %d bytes to %s in %s", len(content), filename, sandbox.WritablePrefix),
		Metadata: map[string]any{
			"filename":    filename,
			"output_path": outputPath,
			"size":        len(content),
		},
	}
}

// FileEdit replaces a unique snippet of an existing writable file.
type FileEdit struct {
	handle sandbox.Handle
}

var _ agent.Tool = (*FileEdit)(nil)

func NewFileEdit(handle sandbox.Handle) *FileEdit {
	return &FileEdit{handle: handle}
}

func (f *FileEdit) Name() string { return "file_edit" }

func (f *FileEdit) Description() string {
	return "Make precise edits to existing files by replacing specific content. " +
		"Searches for 'old_content' and replaces it with 'new_content' (exactly once). " +
		"This is the PREFERRED way to modify existing files - much safer than file_write. " +
		"Use this for: fixing bugs, updating functions, modifying config values, " +
		"refactoring code, etc. The old_content must match EXACTLY (including whitespace). " +
		"Returns error if: file not found, old_content not found, or old_content appears " +
		"multiple times (ambiguous). Make old_content specific enough to match only once."
}

func (f *FileEdit) Parameters() []agent.Parameter {
	return []agent.Parameter{
		{
			Name:        "path",
			Type:        "string",
			Description: "Path to the file to edit",
			Required:    true,
		},
		{
			Name:        "old_content",
			Type:        "string",
			Description: "Content to search for and replace (must match exactly)",
			Required:    true,
		},
		{
			Name:        "new_content",
			Type:        "string",
			Description: "New content to replace the old content with",
			Required:    true,
		},
	}
}

func (f *FileEdit) Execute(ctx context.Context, args map[string]any) *domain.ToolResult {
	p, _ := args["path"].(string)
	oldContent, _ := args["old_content"].(string)
	newContent, _ := args["new_content"].(string)

	if err := sandbox.ValidateWritablePath(p); err != nil {
		return &domain.ToolResult{
			Error:    fmt.Sprintf("Invalid file path: %v", err),
			Metadata: map[string]any{"path": p},
		}
	}

	current, err := f.handle.ReadFile(ctx, p)
	if err != nil {
		return &domain.ToolResult{
			Error:    fmt.Sprintf("File not found: %s: %v", p, err),
			Metadata: map[string]any{"path": p},
		}
	}

	count := strings.Count(current, oldContent)
	if count == 0 {
		return &domain.ToolResult{
			Error:    fmt.Sprintf("Content to replace not found in file: %s", p),
			Metadata: map[string]any{"path": p},
		}
	}
	if count > 1 {
		return &domain.ToolResult{
			Error:    fmt.Sprintf("Content appears %d times in file. Please make old_content more specific.", count),
			Metadata: map[string]any{"path": p, "occurrences": count},
		}
	}

	updated := strings.Replace(current, oldContent, newContent, 1)
	if err := f.handle.WriteFile(ctx, p, updated); err != nil {
		return &domain.ToolResult{
			Error:    fmt.Sprintf("Failed to edit file: %v", err),
			Metadata: map[string]any{"path": p},
		}
	}

	return &domain.ToolResult{
		Success: true,
		Output:  "Successfully edited " + p,
		Metadata: map[string]any{
			"path":     p,
			"old_size": len(current),
			"new_size": len(updated),
		},
	}
}
