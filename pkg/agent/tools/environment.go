package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/zysoong/open-codex-gui/pkg/agent"
	"github.com/zysoong/open-codex-gui/pkg/domain"
	"github.com/zysoong/open-codex-gui/pkg/sandbox"
	"github.com/zysoong/open-codex-gui/pkg/store"
)

// SetupEnvironment provisions the conversation's sandbox. It is the
// only tool available before a sandbox exists; once it succeeds the
// onReady callback fires so the caller can make the sandbox-backed
// tools available for the rest of the conversation.
type SetupEnvironment struct {
	store          store.ConversationStore
	pool           sandbox.Pool
	conversationID string
	validTypes     []string
	onReady        func(handle sandbox.Handle)
}

var _ agent.Tool = (*SetupEnvironment)(nil)

// NewSetupEnvironment creates the setup tool for one conversation.
// onReady may be nil.
func NewSetupEnvironment(st store.ConversationStore, pool sandbox.Pool, conversationID string, validTypes []string, onReady func(sandbox.Handle)) *SetupEnvironment {
	return &SetupEnvironment{
		store:          st,
		pool:           pool,
		conversationID: conversationID,
		validTypes:     validTypes,
		onReady:        onReady,
	}
}

func (s *SetupEnvironment) Name() string { return "setup_environment" }

func (s *SetupEnvironment) Description() string {
	return "Set up a sandbox environment for code execution. **Call this FIRST** before using " +
		"bash, file_read, file_write, file_edit, edit_lines, or search tools. " +
		"Choose the appropriate environment based on the user's task:\n\n" +
		"**Python:**\n" +
		"- **python3.13**: Python 3.13 (RECOMMENDED - latest stable, includes numpy, pandas, matplotlib, scikit-learn)\n" +
		"- **python3.12**: Python 3.12\n" +
		"- **python3.11**: Python 3.11\n\n" +
		"**JavaScript/TypeScript:**\n" +
		"- **nodejs**: Node.js 22 with TypeScript, ESLint, Prettier\n\n" +
		"**JVM Languages:**\n" +
		"- **java**: Java 21 (OpenJDK) with Maven and Gradle\n" +
		"- **kotlin**: Kotlin with Gradle\n" +
		"- **scala**: Scala with sbt\n\n" +
		"**Systems Languages:**\n" +
		"- **go**: Go 1.23\n" +
		"- **rust**: Rust 1.83 with Cargo\n" +
		"- **cpp**: C++ with GCC 14, Clang, CMake, GDB\n\n" +
		"**Scripting Languages:**\n" +
		"- **ruby**: Ruby 3.3 with Bundler, RSpec\n" +
		"- **php**: PHP 8.3 with Composer\n\n" +
		"**.NET:**\n" +
		"- **dotnet**: .NET 8 SDK (C#, F#)\n\n" +
		"Once the environment is set up, you can use file and bash tools to work in it. " +
		"The sandbox is isolated and persistent for this conversation."
}

func (s *SetupEnvironment) Parameters() []agent.Parameter {
	return []agent.Parameter{
		{
			Name: "environment_type",
			Type: "string",
			Description: "Type of environment to set up. Options: " +
				"'python3.13' (recommended), 'python3.12', 'python3.11', " +
				"'nodejs', 'java', 'kotlin', 'scala', 'go', 'rust', 'cpp', " +
				"'ruby', 'php', 'dotnet'",
			Required: true,
		},
		{
			Name:        "reason",
			Type:        "string",
			Description: "Brief explanation of why you chose this environment (helps users understand your decision)",
		},
	}
}

func (s *SetupEnvironment) Execute(ctx context.Context, args map[string]any) *domain.ToolResult {
	envType, _ := args["environment_type"].(string)
	reason, _ := args["reason"].(string)

	if !s.isValid(envType) {
		return &domain.ToolResult{
			Error: fmt.Sprintf("Invalid environment type: %s. Must be one of: %s",
				envType, strings.Join(s.validTypes, ", ")),
			Metadata: map[string]any{"environment_type": envType},
		}
	}

	conv, err := s.store.GetConversation(ctx, s.conversationID)
	if err != nil {
		return &domain.ToolResult{
			Error:    fmt.Sprintf("Conversation not found: %s: %v", s.conversationID, err),
			Metadata: map[string]any{"conversation_id": s.conversationID},
		}
	}

	if conv.EnvironmentType != "" {
		return &domain.ToolResult{
			Error: fmt.Sprintf("Environment already set up as '%s'. "+
				"Cannot change environment for an existing conversation. "+
				"Create a new conversation for a different environment.", conv.EnvironmentType),
			Metadata: map[string]any{
				"current_environment":   conv.EnvironmentType,
				"requested_environment": envType,
			},
		}
	}

	// One-time write; a concurrent setup loses here, not in the pool.
	if err := s.store.SetEnvironment(ctx, s.conversationID, envType, conv.EnvironmentOpts); err != nil {
		return &domain.ToolResult{
			Error:    fmt.Sprintf("Failed to record environment: %v", err),
			Metadata: map[string]any{"environment_type": envType},
		}
	}

	handle, warnings, err := s.pool.GetOrCreate(ctx, s.conversationID, conv.ProjectID, envType, sandbox.Options{
		Packages: conv.EnvironmentOpts.Packages,
		EnvVars:  conv.EnvironmentOpts.EnvVars,
	})
	if err != nil {
		return &domain.ToolResult{
			Error: fmt.Sprintf("Failed to set up environment: %v", err),
			Metadata: map[string]any{
				"environment_type": envType,
				"conversation_id":  s.conversationID,
			},
		}
	}

	if s.onReady != nil {
		s.onReady(handle)
	}

	parts := []string{
		"Sandbox environment set up successfully!",
		"",
		"Environment: " + envType,
	}
	if reason != "" {
		parts = append(parts, "Reason: "+reason)
	}
	parts = append(parts,
		"Container ID: "+shortID(handle.ID()),
		"Workspace: "+sandbox.WritablePrefix,
	)
	for _, w := range warnings {
		parts = append(parts, "Warning: "+w)
	}

	return &domain.ToolResult{
		Success: true,
		Output:  strings.Join(parts, "\n"),
		Metadata: map[string]any{
			"environment_type": envType,
			"container_id":     handle.ID(),
			"workspace_path":   sandbox.WritablePrefix,
			"reason":           reason,
			"warnings":         warnings,
		},
	}
}

func (s *SetupEnvironment) isValid(envType string) bool {
	for _, t := range s.validTypes {
		if t == envType {
			return true
		}
	}
	return false
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
