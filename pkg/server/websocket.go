package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zysoong/open-codex-gui/pkg/domain"
	"github.com/zysoong/open-codex-gui/pkg/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// attachPollInterval is how often an attached connection checks the
// streaming unit for newly appended text.
const attachPollInterval = 30 * time.Millisecond

// wsClient serializes writes to one websocket connection. Send
// failures are swallowed: a dead socket must never abort the
// generation that is streaming through it.
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// trySend writes and logs failure instead of propagating it.
func (c *wsClient) trySend(v any) {
	if err := c.send(v); err != nil {
		slog.Debug("Dropping frame for disconnected client", "error", err)
	}
}

type inboundFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	if conversationID == "" {
		http.Error(w, "Missing conversation ID", http.StatusBadRequest)
		return
	}

	if _, err := s.conversations.GetConversation(r.Context(), conversationID); err != nil {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	client := &wsClient{conn: ws}

	// A connection arriving while a generation is in flight attaches
	// to the existing stream instead of starting a second one.
	if existing := s.tasks.Get(conversationID); existing != nil && existing.Status() == domain.TaskRunning {
		s.attachToStream(client, existing)
		return
	}

	var current *session.Task

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket read error", "conversation_id", conversationID, "error", err)
			}
			break
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			client.trySend(map[string]any{"type": "error", "content": "malformed frame: " + err.Error()})
			continue
		}

		switch frame.Type {
		case "message":
			task, err := s.tasks.Register(conversationID)
			if err != nil {
				client.trySend(map[string]any{"type": "error", "content": err.Error()})
				continue
			}
			current = task
			go s.runGeneration(client, task, conversationID, frame.Content)

		case "cancel":
			if current != nil {
				current.Cancel()
			}
			client.trySend(map[string]any{"type": "cancel_acknowledged"})

		default:
			client.trySend(map[string]any{"type": "error", "content": "unknown frame type: " + frame.Type})
		}
	}

	// The generation keeps running after a disconnect; flush whatever
	// text accumulated so far so nothing is lost to a crash window.
	if current != nil && current.Status() == domain.TaskRunning {
		current.HandleDisconnect(context.Background())
	}
}

// attachToStream resumes a mid-flight generation on a fresh
// connection: one stream_sync frame with everything so far, then only
// the newly appended suffix, then the terminal frame.
func (s *Server) attachToStream(client *wsClient, task *session.Task) {
	slog.Info("Attaching connection to running generation", "conversation_id", task.ConversationID)

	stream := task.Stream()

	// The task may be registered before generation created its
	// assistant unit. Wait for the unit or for the task to finish.
	for stream == nil {
		select {
		case <-task.Done():
			s.sendTerminal(client, task)
			return
		case <-time.After(attachPollInterval):
			stream = task.Stream()
		}
	}

	if err := client.send(map[string]any{
		"type":                "stream_sync",
		"unit_id":             stream.ID(),
		"accumulated_content": stream.Text(),
		"streaming":           stream.Streaming(),
		"sequence_number":     stream.SequenceNumber(),
	}); err != nil {
		return
	}

	sent := len(stream.Text())
	ticker := time.NewTicker(attachPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-task.Done():
			// Forward any tail that landed between the last poll and
			// the terminal transition.
			if text := stream.Text(); len(text) > sent {
				client.trySend(map[string]any{
					"type":    "chunk",
					"content": text[sent:],
					"unit_id": stream.ID(),
				})
			}
			s.sendTerminal(client, task)
			return

		case <-ticker.C:
			text := stream.Text()
			if len(text) > sent {
				if err := client.send(map[string]any{
					"type":    "chunk",
					"content": text[sent:],
					"unit_id": stream.ID(),
				}); err != nil {
					return
				}
				sent = len(text)
			}
		}
	}
}

func (s *Server) sendTerminal(client *wsClient, task *session.Task) {
	switch task.Status() {
	case domain.TaskCancelled:
		client.trySend(map[string]any{"type": "cancelled", "content": "Response was cancelled"})
	case domain.TaskError:
		frame := map[string]any{"type": "assistant_text_end", "has_error": true}
		if stream := task.Stream(); stream != nil {
			frame["unit_id"] = stream.ID()
		}
		client.trySend(frame)
	default:
		frame := map[string]any{"type": "assistant_text_end", "cancelled": false}
		if stream := task.Stream(); stream != nil {
			frame["unit_id"] = stream.ID()
		}
		client.trySend(frame)
	}
}
