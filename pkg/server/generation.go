package server

import (
	"context"
	"log/slog"

	"github.com/zysoong/open-codex-gui/pkg/agent"
	"github.com/zysoong/open-codex-gui/pkg/agent/tools"
	"github.com/zysoong/open-codex-gui/pkg/domain"
	"github.com/zysoong/open-codex-gui/pkg/sandbox"
	"github.com/zysoong/open-codex-gui/pkg/session"
)

// runGeneration executes one user turn end to end: persist the user
// unit, run the agent loop, translate its events into persisted units
// and protocol frames, and finalize. The generation runs on its own
// context so a dropped connection never interrupts it.
func (s *Server) runGeneration(client *wsClient, task *session.Task, conversationID, content string) {
	ctx := context.Background()
	status := domain.TaskCompleted
	defer func() {
		s.tasks.MarkCompleted(conversationID, status)
	}()

	// The loop streams on a context tied to the task's cancel signal so
	// a cancel aborts a Next() blocked on a stalled model stream instead
	// of waiting for the next chunk. Persistence keeps the base context;
	// finalization must survive cancellation.
	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	go propagateCancel(cancelLoop, task.CancelSignal(), task.Done())

	// Context reconstruction happens before the new user unit is
	// persisted, so the turn's message is not duplicated in history.
	history, err := s.buildHistory(ctx, conversationID)
	if err != nil {
		slog.Error("Failed to build history", "conversation_id", conversationID, "error", err)
		client.trySend(map[string]any{"type": "error", "content": "Error: " + err.Error()})
		status = domain.TaskError
		return
	}

	userUnit, err := s.sequencer.CreateUnit(ctx, conversationID,
		domain.KindUserText, domain.AuthorUser,
		domain.UnitPayload{Text: content}, "", domain.UnitMetadata{})
	if err != nil {
		slog.Error("Failed to persist user unit", "conversation_id", conversationID, "error", err)
		client.trySend(map[string]any{"type": "error", "content": "Error: " + err.Error()})
		status = domain.TaskError
		return
	}
	client.trySend(map[string]any{"type": "user_text_block", "block": userUnit})

	go s.generateTitleIfNeeded(conversationID, content, client)

	holder, err := s.buildToolHolder(ctx, conversationID)
	if err != nil {
		slog.Error("Failed to build tool registry", "conversation_id", conversationID, "error", err)
		client.trySend(map[string]any{"type": "error", "content": "Error: " + err.Error()})
		status = domain.TaskError
		return
	}

	stream, err := s.sequencer.BeginStreaming(ctx, conversationID,
		domain.KindAssistantText, domain.AuthorAssistant,
		domain.UnitMetadata{AgentMode: true})
	if err != nil {
		slog.Error("Failed to create assistant unit", "conversation_id", conversationID, "error", err)
		client.trySend(map[string]any{"type": "error", "content": "Error: " + err.Error()})
		status = domain.TaskError
		return
	}
	task.SetStream(stream)
	task.SetDisconnectCallback(stream.Flush)

	client.trySend(map[string]any{
		"type":            "assistant_text_start",
		"unit_id":         stream.ID(),
		"sequence_number": stream.SequenceNumber(),
	})

	loop := agent.NewLoop(s.provider, s.modelName, holder,
		agent.WithMaxIterations(s.maxIterations))

	emitter := &eventSink{
		server:         s,
		client:         client,
		conversationID: conversationID,
		stream:         stream,
	}
	loop.Run(loopCtx, task.CancelSignal(), content, history, emitter.handle)

	md := domain.UnitMetadata{
		AgentMode: true,
		HasError:  emitter.hasError,
		Cancelled: emitter.cancelled,
	}
	if err := stream.Finalize(ctx, md); err != nil {
		slog.Error("Failed to finalize assistant unit", "unit_id", stream.ID(), "error", err)
	}

	client.trySend(map[string]any{
		"type":      "assistant_text_end",
		"unit_id":   stream.ID(),
		"has_error": emitter.hasError,
		"cancelled": emitter.cancelled,
	})

	switch {
	case emitter.cancelled:
		status = domain.TaskCancelled
	case emitter.hasError:
		status = domain.TaskError
	}
}

// propagateCancel cancels the generation context when the task's cancel
// signal fires. The done channel releases the watcher once the task
// reaches a terminal status without being cancelled.
func propagateCancel(cancel context.CancelFunc, signal, done <-chan struct{}) {
	select {
	case <-signal:
		cancel()
	case <-done:
	}
}

// buildToolHolder assembles the swappable tool registry for a turn.
// With an environment set, the sandbox tools bind to the (possibly
// recreated) handle; without one, setup_environment is the only tool
// and its success swaps the full set in atomically mid-turn.
func (s *Server) buildToolHolder(ctx context.Context, conversationID string) (*agent.RegistryHolder, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if conv.EnvironmentType != "" {
		handle, warnings, err := s.pool.GetOrCreate(ctx, conversationID, conv.ProjectID, conv.EnvironmentType, sandbox.Options{
			Packages: conv.EnvironmentOpts.Packages,
			EnvVars:  conv.EnvironmentOpts.EnvVars,
		})
		if err != nil {
			return nil, err
		}
		for _, w := range warnings {
			slog.Warn("Sandbox setup warning", "conversation_id", conversationID, "warning", w)
		}
		return agent.NewRegistryHolder(agent.NewRegistry(tools.Sandbox(handle)...)), nil
	}

	var holder *agent.RegistryHolder
	setup := tools.NewSetupEnvironment(s.conversations, s.pool, conversationID, s.environmentTypes,
		func(handle sandbox.Handle) {
			holder.Replace(agent.NewRegistry(tools.Sandbox(handle)...))
		})
	holder = agent.NewRegistryHolder(agent.NewRegistry(setup))
	return holder, nil
}

// eventSink translates agent loop events into persisted content units
// and outbound frames.
type eventSink struct {
	server         *Server
	client         *wsClient
	conversationID string
	stream         *session.StreamingUnit

	currentCall *domain.ContentUnit
	hasError    bool
	cancelled   bool
}

func (e *eventSink) handle(ev agent.Event) {
	ctx := context.Background()

	switch ev.Type {
	case agent.EventChunk, agent.EventFinalAnswer:
		e.stream.Append(ctx, ev.Content)
		e.client.trySend(map[string]any{
			"type":    "chunk",
			"content": ev.Content,
			"unit_id": e.stream.ID(),
		})

	case agent.EventActionStreaming:
		e.client.trySend(map[string]any{
			"type": "action_streaming",
			"tool": ev.Tool,
			"step": ev.Step,
		})

	case agent.EventActionArgsChunk:
		e.client.trySend(map[string]any{
			"type":         "action_args_chunk",
			"tool":         ev.Tool,
			"partial_args": ev.PartialArgs,
			"step":         ev.Step,
		})

	case agent.EventAction:
		// Lifecycle boundary: make the text streamed so far durable
		// before the tool call takes its sequence slot.
		e.stream.Flush(ctx)

		unit, err := e.server.sequencer.CreateUnit(ctx, e.conversationID,
			domain.KindToolCall, domain.AuthorAssistant,
			domain.UnitPayload{
				ToolName:  ev.Tool,
				Arguments: ev.Args,
				Status:    domain.ToolCallPending,
			}, "", domain.UnitMetadata{Step: ev.Step, AgentMode: true})
		if err != nil {
			slog.Error("Failed to persist tool_call unit", "tool", ev.Tool, "error", err)
			return
		}
		e.currentCall = unit
		e.client.trySend(map[string]any{"type": "tool_call_block", "block": unit})

	case agent.EventObservation:
		e.persistObservation(ctx, ev)

	case agent.EventCancelled:
		e.cancelled = true
		e.stream.Flush(ctx)
		e.client.trySend(map[string]any{
			"type":    "cancelled",
			"content": ev.Content,
		})

	case agent.EventError:
		e.hasError = true
		e.stream.Flush(ctx)
		e.client.trySend(map[string]any{
			"type":    "error",
			"content": ev.Content,
		})
	}
}

func (e *eventSink) persistObservation(ctx context.Context, ev agent.Event) {
	success := ev.Result != nil && ev.Result.Success

	var parentID string
	if e.currentCall != nil {
		parentID = e.currentCall.ID

		payload := e.currentCall.Payload
		payload.Status = domain.ToolCallComplete
		if !success {
			payload.Status = domain.ToolCallError
		}
		if err := e.server.content.UpdateUnitPayload(ctx, e.currentCall.ID, payload); err != nil {
			slog.Error("Failed to update tool_call status", "unit_id", e.currentCall.ID, "error", err)
		}
	}

	payload := domain.UnitPayload{
		ToolName: ev.Tool,
		Result:   ev.Content,
		Success:  success,
	}
	if !success {
		payload.Error = ev.Content
	}

	md := domain.UnitMetadata{Step: ev.Step}
	if att := attachmentFrom(ev.Result); att != nil {
		md.Attachment = att
	}

	unit, err := e.server.sequencer.CreateUnit(ctx, e.conversationID,
		domain.KindToolResult, domain.AuthorTool, payload, parentID, md)
	if err != nil {
		slog.Error("Failed to persist tool_result unit", "tool", ev.Tool, "error", err)
		e.currentCall = nil
		return
	}
	e.client.trySend(map[string]any{"type": "tool_result_block", "block": unit})
	e.currentCall = nil
}

// attachmentFrom extracts a binary attachment from a tool result's
// metadata, if the tool produced one (e.g. file_read on an image).
func attachmentFrom(r *domain.ToolResult) *domain.Attachment {
	if r == nil || r.Metadata == nil {
		return nil
	}
	if t, _ := r.Metadata["type"].(string); t != "image" {
		return nil
	}
	dataURI, _ := r.Metadata["image_data"].(string)
	if dataURI == "" {
		return nil
	}
	mimeType, _ := r.Metadata["mime_type"].(string)
	return &domain.Attachment{
		Type:     "image",
		MimeType: mimeType,
		DataURI:  dataURI,
	}
}
