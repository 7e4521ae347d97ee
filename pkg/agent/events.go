package agent

import "github.com/zysoong/open-codex-gui/pkg/domain"

// EventType identifies one lifecycle event of a loop run.
type EventType string

const (
	// EventChunk is an assistant text delta.
	EventChunk EventType = "chunk"
	// EventActionStreaming signals that a tool name was received while
	// the call is still being assembled.
	EventActionStreaming EventType = "action_streaming"
	// EventActionArgsChunk carries partially assembled call arguments.
	EventActionArgsChunk EventType = "action_args_chunk"
	// EventAction marks a validated tool invocation about to execute.
	EventAction EventType = "action"
	// EventObservation carries the tool's result.
	EventObservation EventType = "observation"
	// EventCancelled terminates the run on a cancellation signal.
	EventCancelled EventType = "cancelled"
	// EventError terminates the run on a failure.
	EventError EventType = "error"
	// EventFinalAnswer terminates the run when the iteration budget is
	// exhausted without a final text turn.
	EventFinalAnswer EventType = "final_answer"
)

// Event is one lifecycle occurrence emitted by the loop. Fields are
// populated per type.
type Event struct {
	Type    EventType
	Step    int
	Content string

	// Tool call fields (action_streaming, action_args_chunk, action).
	Tool        string
	Args        map[string]any
	PartialArgs string

	// Observation fields.
	Result *domain.ToolResult

	// PartialText accompanies a mid-stream cancellation.
	PartialText string
}

// Emitter receives loop events in emission order. Implementations must
// not block indefinitely; the loop runs on the caller's goroutine.
type Emitter func(Event)
