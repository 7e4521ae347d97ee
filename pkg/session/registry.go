package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/zysoong/open-codex-gui/pkg/domain"
)

// Task is one in-flight generation. Cancel is closed exactly once to
// request cooperative cancellation; Done is closed when the task
// reaches a terminal status.
type Task struct {
	ConversationID string

	cancelOnce sync.Once
	cancel     chan struct{}
	done       chan struct{}

	mu     sync.Mutex
	status string
	stream *StreamingUnit // assistant unit being streamed, nil before generation creates it

	// onDisconnect flushes the in-progress unit when the owning
	// connection drops while the task keeps running.
	onDisconnect func(ctx context.Context)
}

func newTask(conversationID string) *Task {
	return &Task{
		ConversationID: conversationID,
		cancel:         make(chan struct{}),
		done:           make(chan struct{}),
		status:         domain.TaskRunning,
	}
}

// CancelSignal is the channel closed when cancellation is requested.
func (t *Task) CancelSignal() <-chan struct{} { return t.cancel }

// Cancel requests cooperative cancellation. Idempotent.
func (t *Task) Cancel() {
	t.cancelOnce.Do(func() { close(t.cancel) })
}

// Done is closed when the task reaches a terminal status.
func (t *Task) Done() <-chan struct{} { return t.done }

// Status returns the task's current status.
func (t *Task) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Stream returns the assistant unit currently being streamed, or nil
// if generation has not created one yet.
func (t *Task) Stream() *StreamingUnit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stream
}

// SetStream publishes the streaming unit so attaching connections can
// resume from it.
func (t *Task) SetStream(u *StreamingUnit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stream = u
}

// SetDisconnectCallback registers the flush hook invoked when the
// owning connection drops mid-generation.
func (t *Task) SetDisconnectCallback(fn func(ctx context.Context)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = fn
}

// HandleDisconnect runs the registered flush hook, if any. Called by
// the transport when its connection closes while the task is still
// running.
func (t *Task) HandleDisconnect(ctx context.Context) {
	t.mu.Lock()
	fn := t.onDisconnect
	t.mu.Unlock()
	if fn != nil {
		fn(ctx)
	}
}

// Registry tracks the live generation task of each conversation. It is
// the process-wide authority for the at-most-one-generation invariant.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Register creates and tracks a new running task for the conversation.
// It fails if a non-terminal task already exists.
func (r *Registry) Register(conversationID string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tasks[conversationID]; ok && existing.Status() == domain.TaskRunning {
		return nil, fmt.Errorf("conversation %s already has a running generation", conversationID)
	}
	t := newTask(conversationID)
	r.tasks[conversationID] = t
	return t, nil
}

// Get returns the tracked task for the conversation, or nil.
func (r *Registry) Get(conversationID string) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[conversationID]
}

// MarkCompleted transitions the conversation's task to a terminal
// status and closes its Done channel. A second call is a no-op.
func (r *Registry) MarkCompleted(conversationID, status string) {
	r.mu.Lock()
	t := r.tasks[conversationID]
	r.mu.Unlock()
	if t == nil {
		return
	}

	t.mu.Lock()
	already := t.status != domain.TaskRunning
	if !already {
		t.status = status
	}
	t.mu.Unlock()
	if !already {
		close(t.done)
	}
}

// Remove drops a terminal task from the registry. Removing a running
// task is refused so the invariant cannot be bypassed.
func (r *Registry) Remove(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[conversationID]; ok && t.Status() != domain.TaskRunning {
		delete(r.tasks, conversationID)
	}
}
