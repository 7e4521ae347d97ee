package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/zysoong/open-codex-gui/pkg/domain"
	"github.com/zysoong/open-codex-gui/pkg/model"
)

// Loop defaults.
const (
	DefaultMaxIterations        = 10
	DefaultMaxValidationRetries = 3
	DefaultMaxSameToolRetries   = 5
)

const defaultInstructions = `You are an autonomous coding agent with access to a sandbox environment.

Your task is to help users write, test, and debug code by using the available tools.

When solving a task, follow the ReAct pattern:
1. Think about what needs to be done
2. Choose an action (tool) to use
3. Observe the result
4. Repeat until the task is complete

IMPORTANT: You MUST use function calls to invoke tools. Do not describe what tools you would use - actually use them!

When you have completed the task, provide a final answer summarizing what you did.`

// Loop is the bounded reasoning/acting loop for one conversation turn.
// It consumes a streaming model source and the active tool registry
// and emits lifecycle events; exactly one tool executes per iteration.
type Loop struct {
	provider     model.Provider
	modelName    string
	tools        *RegistryHolder
	instructions string

	maxIterations        int
	maxValidationRetries int
	maxSameToolRetries   int

	validationRetries int
	callHistory       []string
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithMaxIterations overrides the iteration budget.
func WithMaxIterations(n int) LoopOption {
	return func(l *Loop) { l.maxIterations = n }
}

// WithInstructions overrides the system instructions.
func WithInstructions(s string) LoopOption {
	return func(l *Loop) { l.instructions = s }
}

// NewLoop creates a loop bound to a provider, model, and tool holder.
func NewLoop(provider model.Provider, modelName string, tools *RegistryHolder, opts ...LoopOption) *Loop {
	l := &Loop{
		provider:             provider,
		modelName:            modelName,
		tools:                tools,
		instructions:         defaultInstructions,
		maxIterations:        DefaultMaxIterations,
		maxValidationRetries: DefaultMaxValidationRetries,
		maxSameToolRetries:   DefaultMaxSameToolRetries,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// pendingCall accumulates the deltas of one function call.
type pendingCall struct {
	name string
	args strings.Builder
}

// Run executes the loop for one user turn. history is the prior
// conversation context; cancel is the per-task cancellation signal.
// Events are emitted in order on the calling goroutine; Run returns
// after emitting a terminal condition or after the model produced a
// final text answer (whose chunks were already emitted).
func (l *Loop) Run(ctx context.Context, cancel <-chan struct{}, userMessage string, history []model.Message, emit Emitter) {
	messages := make([]model.Message, 0, len(history)+2)
	messages = append(messages, model.Message{Role: model.RoleSystem, Content: l.buildInstructions()})
	messages = append(messages, history...)
	messages = append(messages, model.Message{Role: model.RoleUser, Content: userMessage})

	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		if l.cancelled(ctx, cancel) {
			emit(Event{Type: EventCancelled, Step: iteration, Content: "Response cancelled by user"})
			return
		}

		fullText, calls, cancelled, err := l.streamTurn(ctx, cancel, messages, iteration, emit)
		if cancelled {
			return
		}
		if err != nil {
			// A cancelled context aborts a blocked stream with an error;
			// report it as the cancellation it is.
			if l.cancelled(ctx, cancel) {
				emit(Event{Type: EventCancelled, Step: iteration, Content: "Response cancelled by user"})
				return
			}
			emit(Event{Type: EventError, Step: iteration, Content: fmt.Sprintf("model stream failed: %v", err)})
			return
		}

		call := lowestIndexCall(calls)
		if call != nil && len(calls) > 1 {
			slog.Warn("Model suggested multiple tool calls, executing first only",
				"count", len(calls), "tool", call.name)
		}

		registry := l.tools.Load()
		if call != nil && registry.Has(call.name) {
			tool, _ := registry.Get(call.name)

			var args map[string]any
			if err := json.Unmarshal([]byte(call.args.String()), &args); err != nil {
				args = map[string]any{}
			}

			// Record the call in context so the model remembers what it
			// decided to do in previous iterations.
			messages = append(messages, model.Message{
				Role:    model.RoleAssistant,
				Content: fullText,
				FunctionCall: &model.FunctionCall{
					Name:      call.name,
					Arguments: call.args.String(),
				},
			})

			result := ValidateAndExecute(ctx, tool, args)

			if result.ValidationError {
				l.handleValidationError(call.name, result, &messages)
				continue
			}
			l.validationRetries = 0

			l.callHistory = append(l.callHistory, call.name)
			if l.loopDetected() {
				slog.Info("Tool loop detected", "tool", call.name, "repeats", l.maxSameToolRetries)
				messages = append(messages, model.Message{
					Role: model.RoleUser,
					Content: fmt.Sprintf(
						"Error: Tool '%s' has been called %d times consecutively without success. "+
							"This suggests the current approach isn't working. "+
							"Please try a different tool or approach to accomplish the task.",
						call.name, l.maxSameToolRetries),
				})
				l.callHistory = nil
				continue
			}

			emit(Event{Type: EventAction, Step: iteration, Tool: call.name, Args: args,
				Content: "Using tool: " + call.name})

			observation := formatObservation(result)
			emit(Event{Type: EventObservation, Step: iteration, Tool: call.name,
				Content: observation, Result: result})

			messages = append(messages, model.Message{
				Role:    model.RoleUser,
				Content: fmt.Sprintf("Tool '%s' returned: %s", call.name, observation),
			})
			continue
		}

		// No executable call: a non-empty text response is the final
		// answer (its chunks were already emitted during streaming).
		if fullText != "" {
			return
		}

		emit(Event{Type: EventError, Step: iteration, Content: "Agent did not provide a response"})
		return
	}

	emit(Event{
		Type:    EventFinalAnswer,
		Step:    l.maxIterations,
		Content: "Task incomplete: reached maximum iterations. Please try breaking down the task into smaller steps.",
	})
}

// streamTurn consumes one model response, emitting text chunks and
// call-assembly feedback as deltas arrive.
func (l *Loop) streamTurn(ctx context.Context, cancel <-chan struct{}, messages []model.Message, iteration int, emit Emitter) (string, map[int]*pendingCall, bool, error) {
	registry := l.tools.Load()
	specs := make([]model.ToolSpec, 0)
	for _, t := range registry.List() {
		specs = append(specs, Spec(t))
	}

	stream, err := l.provider.GenerateStream(ctx, l.modelName, messages, specs)
	if err != nil {
		return "", nil, false, err
	}
	defer stream.Close()

	var fullText strings.Builder
	calls := make(map[int]*pendingCall)

	for {
		if l.cancelled(ctx, cancel) {
			emit(Event{Type: EventCancelled, Step: iteration,
				Content: "Response cancelled by user", PartialText: fullText.String()})
			return "", nil, true, nil
		}

		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, false, err
		}

		switch {
		case chunk.Text != "":
			fullText.WriteString(chunk.Text)
			emit(Event{Type: EventChunk, Step: iteration, Content: chunk.Text})

		case chunk.Call != nil:
			pc, ok := calls[chunk.Call.Index]
			if !ok {
				pc = &pendingCall{}
				calls[chunk.Call.Index] = pc
			}
			if chunk.Call.Name != "" && pc.name == "" {
				pc.name = chunk.Call.Name
				emit(Event{Type: EventActionStreaming, Step: iteration, Tool: pc.name})
			}
			if chunk.Call.Args != "" {
				pc.args.WriteString(chunk.Call.Args)
				emit(Event{Type: EventActionArgsChunk, Step: iteration,
					Tool: pc.name, PartialArgs: pc.args.String()})
			}
		}
	}

	return fullText.String(), calls, false, nil
}

// handleValidationError feeds corrective context back to the model.
// Nothing is emitted or persisted for a validation failure; the model
// simply gets another try with the error in context.
func (l *Loop) handleValidationError(toolName string, result *domain.ToolResult, messages *[]model.Message) {
	l.validationRetries++
	if l.validationRetries >= l.maxValidationRetries {
		*messages = append(*messages, model.Message{
			Role: model.RoleUser,
			Content: fmt.Sprintf(
				"Tool '%s' validation failed: %s\n\n"+
					"You've attempted this %d times with validation errors. Consider:\n"+
					"1. Using a different tool to accomplish the task\n"+
					"2. Breaking the task into smaller steps\n"+
					"3. Carefully reviewing the tool's parameter requirements",
				toolName, result.Error, l.validationRetries),
		})
		l.validationRetries = 0
		return
	}
	*messages = append(*messages, model.Message{
		Role: model.RoleUser,
		Content: fmt.Sprintf("Tool '%s' validation failed (attempt %d/%d): %s",
			toolName, l.validationRetries, l.maxValidationRetries, result.Error),
	})
}

// loopDetected reports whether the last maxSameToolRetries calls all
// hit the same tool. Any repetition trips it, successful or not.
func (l *Loop) loopDetected() bool {
	n := l.maxSameToolRetries
	if len(l.callHistory) < n {
		return false
	}
	recent := l.callHistory[len(l.callHistory)-n:]
	for _, name := range recent[1:] {
		if name != recent[0] {
			return false
		}
	}
	return true
}

func (l *Loop) cancelled(ctx context.Context, cancel <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-cancel:
		return true
	default:
		return false
	}
}

func (l *Loop) buildInstructions() string {
	var descs []string
	for _, t := range l.tools.Load().List() {
		descs = append(descs, fmt.Sprintf("- %s: %s", t.Name(), t.Description()))
	}
	return l.instructions + "\n\nYou have access to the following tools:\n" + strings.Join(descs, "\n")
}

func lowestIndexCall(calls map[int]*pendingCall) *pendingCall {
	best := -1
	for idx, pc := range calls {
		if pc.name == "" {
			continue
		}
		if best == -1 || idx < best {
			best = idx
		}
	}
	if best == -1 {
		return nil
	}
	return calls[best]
}

// formatObservation renders a tool result for the model and the user.
// Failures include both the error and any output so the model can see
// what went wrong.
func formatObservation(r *domain.ToolResult) string {
	if r.Success {
		return r.Output
	}
	var parts []string
	if r.Error != "" {
		parts = append(parts, "Error: "+r.Error)
	}
	if r.Output != "" {
		parts = append(parts, r.Output)
	}
	if len(parts) == 0 {
		return "Error: Unknown failure"
	}
	return strings.Join(parts, "\n")
}
