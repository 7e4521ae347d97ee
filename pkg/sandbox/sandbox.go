// Package sandbox defines the interfaces for per-conversation isolated
// execution environments.
package sandbox

import (
	"context"
	"time"
)

// Filesystem layout inside every sandbox container.
const (
	// WorkspaceRoot is the top-level mount point.
	WorkspaceRoot = "/workspace"
	// WritablePrefix is the agent-writable output directory, backed by
	// a per-conversation volume.
	WritablePrefix = "/workspace/out"
	// SharedPrefix holds the project's shared files, mounted read-only.
	SharedPrefix = "/workspace/project_files"
)

// ExecResult is the outcome of one command execution.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Handle wraps one isolated execution environment bound to a single
// conversation.
type Handle interface {
	// ID returns the underlying container identifier.
	ID() string

	// Run executes a command through a single shell invocation inside
	// the sandbox. The caller is responsible for shell escaping; every
	// call takes an explicit timeout.
	Run(ctx context.Context, command, workdir string, timeout time.Duration) (*ExecResult, error)

	// ReadFile returns the file's content as text when UTF-8
	// decodable, otherwise as a base64 data URI tagged with a guessed
	// MIME type. Transfer is archive-based; no in-container agent is
	// required.
	ReadFile(ctx context.Context, path string) (string, error)

	// WriteFile injects content at path via a single-entry archive.
	WriteFile(ctx context.Context, path, content string) error

	// Running reflects live engine status, not cached state.
	Running(ctx context.Context) bool
}

// Stats is a one-shot resource usage snapshot for a sandbox.
type Stats struct {
	MemoryUsageBytes uint64  `json:"memory_usage_bytes"`
	MemoryLimitBytes uint64  `json:"memory_limit_bytes"`
	CPUPercent       float64 `json:"cpu_percent"`
}

// Pool manages the handles of all conversations: at most one live
// handle per conversation.
type Pool interface {
	// GetOrCreate returns the tracked live handle for the
	// conversation, recreating it if the tracked one died. Orphaned
	// containers left by a prior process under the deterministic
	// sandbox name are stopped and removed first. Non-fatal problems
	// (a failed best-effort package install) come back as warnings.
	GetOrCreate(ctx context.Context, conversationID, projectID, environmentType string, opts Options) (Handle, []string, error)

	// Get is a non-creating lookup; it returns nil if no live handle
	// is tracked.
	Get(ctx context.Context, conversationID string) Handle

	// Reset clears the writable workspace subtree without destroying
	// the handle.
	Reset(ctx context.Context, conversationID string) error

	// Destroy stops and force-removes the container. Idempotent.
	Destroy(ctx context.Context, conversationID string) error

	// Stats returns a resource usage snapshot, or nil if no live
	// handle is tracked.
	Stats(ctx context.Context, conversationID string) (*Stats, error)

	// Close releases resources held by the pool (e.g. docker client).
	Close() error
}

// Options carries optional sandbox setup parameters.
type Options struct {
	// Packages are installed best-effort after creation; failure is
	// non-fatal and surfaced through Warnings on the pool operation.
	Packages []string
	EnvVars  map[string]string
}
