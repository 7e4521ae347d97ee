package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/zysoong/open-codex-gui/pkg/agent"
	"github.com/zysoong/open-codex-gui/pkg/domain"
	"github.com/zysoong/open-codex-gui/pkg/sandbox"
)

var filenamePattern = regexp.MustCompile(`^[\w\-.*?]+\.\w+$`)

// Search finds text or files in the workspace by shelling out to grep
// and find inside the sandbox. The mode is detected from the query:
// glob-looking queries search filenames, everything else searches
// file contents.
type Search struct {
	handle sandbox.Handle
}

var _ agent.Tool = (*Search)(nil)

func NewSearch(handle sandbox.Handle) *Search {
	return &Search{handle: handle}
}

func (s *Search) Name() string { return "search" }

func (s *Search) Description() string {
	return "Search for text or files in the workspace.\n\n" +
		"USAGE:\n" +
		"- Find text: query='error message' (searches file contents, shows matching lines)\n" +
		"- Find files: query='*.py' (finds files by name pattern)\n\n" +
		"Searches /workspace/out by default; pass path to search elsewhere under /workspace."
}

func (s *Search) Parameters() []agent.Parameter {
	return []agent.Parameter{
		{
			Name:        "query",
			Type:        "string",
			Description: "Text to search for in file contents, or a filename pattern like '*.py'",
			Required:    true,
		},
		{
			Name:        "path",
			Type:        "string",
			Description: "Directory to search (default: /workspace/out)",
			Default:     sandbox.WritablePrefix,
		},
		{
			Name:        "max_results",
			Type:        "number",
			Description: "Max results (default: 50)",
			Default:     float64(50),
		},
	}
}

func (s *Search) Execute(ctx context.Context, args map[string]any) *domain.ToolResult {
	query, _ := args["query"].(string)
	searchPath := stringArg(args, "path", sandbox.WritablePrefix)
	maxResults := intArg(args, "max_results", 50)

	if err := sandbox.ValidateWorkspacePath(searchPath); err != nil {
		return &domain.ToolResult{
			Error:    fmt.Sprintf("Invalid search path: %v", err),
			Metadata: map[string]any{"path": searchPath},
		}
	}

	res, err := s.handle.Run(ctx, fmt.Sprintf("test -e %s", shellQuote(searchPath)), sandbox.WorkspaceRoot, 5*time.Second)
	if err != nil || res.ExitCode != 0 {
		return &domain.ToolResult{
			Error:    "Path not found: " + searchPath,
			Metadata: map[string]any{"path": searchPath},
		}
	}

	if isFilenameQuery(query) {
		return s.searchFilename(ctx, query, searchPath, maxResults)
	}
	return s.searchText(ctx, query, searchPath, maxResults)
}

func isFilenameQuery(query string) bool {
	if strings.HasPrefix(query, "*") {
		return true
	}
	return !strings.Contains(query, "/") && filenamePattern.MatchString(query)
}

func (s *Search) searchText(ctx context.Context, query, searchPath string, maxResults int) *domain.ToolResult {
	cmd := fmt.Sprintf("grep -rl %s %s 2>/dev/null | head -n %d",
		shellQuote(query), shellQuote(searchPath), maxResults)
	res, err := s.handle.Run(ctx, cmd, sandbox.WorkspaceRoot, 30*time.Second)
	if err != nil {
		return &domain.ToolResult{
			Error:    fmt.Sprintf("Search failed: %v", err),
			Metadata: map[string]any{"query": query},
		}
	}

	files := nonEmptyLines(res.Stdout)
	if len(files) == 0 {
		return &domain.ToolResult{
			Success:  true,
			Output:   "No files found containing: " + query,
			Metadata: map[string]any{"query": query, "mode": "text", "matches": 0},
		}
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Found '%s' in %d file(s):\n\n", query, len(files))
	for _, file := range files {
		fmt.Fprintf(&out, "%s\n", file)
		contextCmd := fmt.Sprintf("grep -n %s %s 2>/dev/null | head -n 3", shellQuote(query), shellQuote(file))
		if cres, err := s.handle.Run(ctx, contextCmd, sandbox.WorkspaceRoot, 10*time.Second); err == nil {
			for _, line := range nonEmptyLines(cres.Stdout) {
				if len(line) > 100 {
					line = line[:100]
				}
				fmt.Fprintf(&out, "   %s\n", line)
			}
		}
		out.WriteString("\n")
	}

	return &domain.ToolResult{
		Success:  true,
		Output:   strings.TrimSpace(out.String()),
		Metadata: map[string]any{"query": query, "mode": "text", "matches": len(files)},
	}
}

func (s *Search) searchFilename(ctx context.Context, query, searchPath string, maxResults int) *domain.ToolResult {
	// Recursive globs reduce to the final component; find already
	// descends into subdirectories.
	pattern := query
	if i := strings.LastIndex(query, "**"); i >= 0 {
		pattern = strings.TrimPrefix(query[i+2:], "/")
	}

	cmd := fmt.Sprintf("find %s -type f -name %s 2>/dev/null | head -n %d",
		shellQuote(searchPath), shellQuote(pattern), maxResults)
	res, err := s.handle.Run(ctx, cmd, sandbox.WorkspaceRoot, 30*time.Second)
	if err != nil {
		return &domain.ToolResult{
			Error:    fmt.Sprintf("Search failed: %v", err),
			Metadata: map[string]any{"query": query},
		}
	}

	files := nonEmptyLines(res.Stdout)
	if len(files) == 0 {
		return &domain.ToolResult{
			Success:  true,
			Output:   "No files found matching: " + query,
			Metadata: map[string]any{"query": query, "mode": "filename", "matches": 0},
		}
	}

	return &domain.ToolResult{
		Success:  true,
		Output:   fmt.Sprintf("Found %d file(s) matching '%s':\n%s", len(files), query, strings.Join(files, "\n")),
		Metadata: map[string]any{"query": query, "mode": "filename", "matches": len(files)},
	}
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
