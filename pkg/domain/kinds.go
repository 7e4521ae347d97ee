package domain

// Kind identifies what a content unit holds.
type Kind string

const (
	// KindUserText is a user-authored text turn.
	KindUserText Kind = "user_text"
	// KindAssistantText is a model-authored text response.
	KindAssistantText Kind = "assistant_text"
	// KindToolCall records a tool invocation decided by the model.
	KindToolCall Kind = "tool_call"
	// KindToolResult records the outcome of a tool call.
	KindToolResult Kind = "tool_result"
	// KindSystem is a system-injected message.
	KindSystem Kind = "system"
)

// Author identifies who produced a content unit.
type Author string

const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
	AuthorSystem    Author = "system"
	AuthorTool      Author = "tool"
)
