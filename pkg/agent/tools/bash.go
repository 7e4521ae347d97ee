// Package tools provides the agent's capability implementations: shell
// execution, file operations, workspace search, and sandbox setup. All
// sandbox-backed tools operate through a sandbox.Handle and are only
// registered once a conversation's environment exists.
package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zysoong/open-codex-gui/pkg/agent"
	"github.com/zysoong/open-codex-gui/pkg/domain"
	"github.com/zysoong/open-codex-gui/pkg/sandbox"
)

const defaultBashTimeout = 30 * time.Second

// Bash executes shell commands inside the conversation's sandbox.
type Bash struct {
	handle sandbox.Handle
}

var _ agent.Tool = (*Bash)(nil)

// NewBash creates a bash tool bound to a sandbox handle.
func NewBash(handle sandbox.Handle) *Bash {
	return &Bash{handle: handle}
}

func (b *Bash) Name() string { return "bash" }

func (b *Bash) Description() string {
	return "Execute bash commands in a secure sandbox environment. " +
		"Use this tool to: run shell commands, execute scripts, install packages with pip/npm, " +
		"compile code, run tests, manage files and directories, check system info, etc. " +
		"Commands run in /workspace/out by default. " +
		"Examples: 'ls -la', 'python script.py', 'pip install requests', " +
		"'cat file.txt', 'mkdir new_dir', 'git status', 'node app.js', 'pytest tests/'. " +
		"Supports pipes, redirects, and multi-line commands. Timeout default: 30s."
}

func (b *Bash) Parameters() []agent.Parameter {
	return []agent.Parameter{
		{
			Name:        "command",
			Type:        "string",
			Description: "The bash command to execute (e.g., 'ls -la', 'python script.py', 'npm install')",
			Required:    true,
		},
		{
			Name:        "workdir",
			Type:        "string",
			Description: "Working directory for command execution (default: /workspace/out)",
			Default:     sandbox.WritablePrefix,
		},
		{
			Name:        "timeout",
			Type:        "number",
			Description: "Command timeout in seconds (default: 30)",
			Default:     float64(30),
		},
	}
}

func (b *Bash) Execute(ctx context.Context, args map[string]any) *domain.ToolResult {
	command, _ := args["command"].(string)
	workdir := stringArg(args, "workdir", sandbox.WritablePrefix)
	timeout := durationArg(args, "timeout", defaultBashTimeout)

	safe, err := sandbox.SanitizeCommand(command)
	if err != nil {
		return &domain.ToolResult{
			Error:    fmt.Sprintf("Failed to execute command: %v", err),
			Metadata: map[string]any{"command": command, "workdir": workdir},
		}
	}

	res, err := b.handle.Run(ctx, safe, workdir, timeout)
	if err != nil {
		return &domain.ToolResult{
			Error:    fmt.Sprintf("Failed to execute command: %v", err),
			Metadata: map[string]any{"command": command, "workdir": workdir},
		}
	}

	result := &domain.ToolResult{
		Success: res.ExitCode == 0,
		Output:  formatExecOutput(res),
		Metadata: map[string]any{
			"exit_code": res.ExitCode,
			"command":   command,
			"workdir":   workdir,
		},
	}
	if res.ExitCode != 0 {
		result.Error = fmt.Sprintf("Command exited with code %d", res.ExitCode)
	}
	return result
}

// formatExecOutput frames output by exit code so the model can tell a
// noisy success (warnings on stderr) from a genuine failure. The exit
// code is the sole truth.
func formatExecOutput(res *sandbox.ExecResult) string {
	var parts []string
	if res.Stdout != "" {
		parts = append(parts, res.Stdout)
	}
	if res.Stderr != "" {
		parts = append(parts, res.Stderr)
	}
	combined := "(no output)"
	if len(parts) > 0 {
		combined = strings.Join(parts, "\n")
	}

	if res.ExitCode == 0 {
		return "[SUCCESS]\n" + combined + "\n--- Execution successful. Proceed with next step or report completion. ---"
	}
	return fmt.Sprintf("[ERROR] Exit code %d\n%s", res.ExitCode, combined)
}

func stringArg(args map[string]any, name, fallback string) string {
	if v, ok := args[name].(string); ok && v != "" {
		return v
	}
	return fallback
}

// durationArg reads a numeric seconds argument. JSON numbers decode as
// float64; integer defaults filled in by validation also land here.
func durationArg(args map[string]any, name string, fallback time.Duration) time.Duration {
	switch v := args[name].(type) {
	case float64:
		if v > 0 {
			return time.Duration(v * float64(time.Second))
		}
	case int:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return fallback
}

func intArg(args map[string]any, name string, fallback int) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}
