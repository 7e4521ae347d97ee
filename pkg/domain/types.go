package domain

import "time"

// Conversation is one chat session scoped to a project. It owns at most
// one sandbox container and at most one live generation task.
type Conversation struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Status    string `json:"status"` // "active" or "archived"

	// EnvironmentType is empty until the agent sets up a sandbox, then
	// immutable for the life of the conversation.
	EnvironmentType string          `json:"environment_type,omitempty"`
	EnvironmentOpts EnvironmentOpts `json:"environment_opts,omitempty"`

	// TitleGenerated records whether the display name was produced by
	// the title-generation model call after the first user turn.
	TitleGenerated bool `json:"title_generated"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Conversation lifecycle statuses.
const (
	ConversationActive   = "active"
	ConversationArchived = "archived"
)

// EnvironmentOpts carries optional sandbox setup parameters.
type EnvironmentOpts struct {
	Packages []string          `json:"packages,omitempty"`
	EnvVars  map[string]string `json:"env_vars,omitempty"`
}

// ContentUnit is one ordered, persisted piece of conversation content.
// Every kind of content (user text, assistant text, tool calls, tool
// results) is a unit; SequenceNumber is the single ordering key for
// replay and for model context reconstruction.
type ContentUnit struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SequenceNumber int    `json:"sequence_number"`
	Kind           Kind   `json:"kind"`
	Author         Author `json:"author"`

	// Payload shape depends on Kind; see the payload types below.
	Payload UnitPayload `json:"payload"`

	// ParentUnitID threads a tool_result back to its tool_call.
	ParentUnitID string `json:"parent_unit_id,omitempty"`

	Metadata UnitMetadata `json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UnitPayload is the kind-dependent content of a unit. Exactly one
// group of fields is populated for a given kind.
type UnitPayload struct {
	// Text, for user_text / assistant_text / system.
	Text string `json:"text,omitempty"`

	// Tool call fields, for tool_call.
	ToolName  string         `json:"tool_name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Status    string         `json:"status,omitempty"` // pending, complete, error

	// Tool result fields, for tool_result.
	Result  string `json:"result,omitempty"`
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Tool call statuses.
const (
	ToolCallPending  = "pending"
	ToolCallComplete = "complete"
	ToolCallError    = "error"
)

// UnitMetadata carries streaming/terminal state and optional binary
// attachment info for a unit.
type UnitMetadata struct {
	Streaming bool `json:"streaming,omitempty"`
	Cancelled bool `json:"cancelled,omitempty"`
	HasError  bool `json:"has_error,omitempty"`
	AgentMode bool `json:"agent_mode,omitempty"`
	Step      int  `json:"step,omitempty"`

	// Attachment describes a binary payload (e.g. an image data URI)
	// produced by a tool.
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Attachment describes binary content carried by a tool result.
type Attachment struct {
	Type     string `json:"type"` // e.g. "image"
	MimeType string `json:"mime_type,omitempty"`
	// DataURI is a data:<mime>;base64,... string.
	DataURI string `json:"data_uri,omitempty"`
}

// ToolResult is the uniform result shape every tool returns. The agent
// loop never inspects tool internals, only this.
type ToolResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`

	// ValidationError marks a parameter-schema violation. Such results
	// are fed back to the model as corrective context and never shown
	// to the user or persisted as tool_result units.
	ValidationError bool `json:"validation_error,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolCall represents one function call assembled from a model stream.
type ToolCall struct {
	Index     int            `json:"index"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Generation task statuses. Running is the only non-terminal status.
const (
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskCancelled = "cancelled"
	TaskError     = "error"
)
