// Package model abstracts the streaming language-model source consumed
// by the agent loop.
package model

import "context"

// Role identifies the sender of a context message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation context sent to the model.
type Message struct {
	Role    Role
	Content string

	// FunctionCall is set when an assistant message records a prior
	// tool invocation, so the model remembers what it decided to do.
	FunctionCall *FunctionCall

	// ImageDataURI carries a binary tool result (data:<mime>;base64)
	// for vision-capable models.
	ImageDataURI string
}

// FunctionCall is a completed tool invocation in the context.
type FunctionCall struct {
	Name      string
	Arguments string // JSON-encoded
}

// ToolSpec is the function-calling schema handed to the model: the
// only coupling between tool implementations and the provider.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  []ParameterSpec
}

// ParameterSpec describes one tool parameter.
type ParameterSpec struct {
	Name        string
	Type        string // "string", "number", "integer", "boolean"
	Description string
	Required    bool
	Default     any
}

// Chunk is one streamed fragment of a model response. Exactly one of
// Text or Call is populated.
type Chunk struct {
	// Text is an assistant text delta.
	Text string

	// Call is a function-call delta. Deltas for the same call share an
	// index; the name arrives on the first delta and argument JSON is
	// accumulated across deltas.
	Call *CallDelta
}

// CallDelta is an incremental piece of a function call.
type CallDelta struct {
	Index int
	Name  string
	Args  string
}

// Stream yields response chunks until the model turn is complete.
type Stream interface {
	// Next returns the next chunk, or io.EOF when the turn ends.
	Next() (Chunk, error)

	// Close releases resources associated with the stream.
	Close() error
}

// Provider is a service that streams model responses.
type Provider interface {
	// Name returns the provider identifier (e.g. "gemini").
	Name() string

	// GenerateStream sends the conversation context and tool schemas to
	// the model and returns a stream of response chunks.
	GenerateStream(ctx context.Context, modelName string, messages []Message, tools []ToolSpec) (Stream, error)
}
