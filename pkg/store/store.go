package store

import (
	"context"

	"github.com/zysoong/open-codex-gui/pkg/domain"
)

// ConversationStore manages conversation persistence.
type ConversationStore interface {
	// CreateConversation persists a new conversation. The ID field must
	// be set by the caller.
	CreateConversation(ctx context.Context, c *domain.Conversation) error

	// GetConversation retrieves a conversation by ID.
	// Returns an error if it does not exist.
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// ListConversations returns all conversations for a project,
	// ordered by creation time descending.
	ListConversations(ctx context.Context, projectID string) ([]domain.Conversation, error)

	// SetEnvironment records the environment type and options for a
	// conversation. It fails if an environment is already set; the
	// environment fields transition empty to set exactly once.
	SetEnvironment(ctx context.Context, id, environmentType string, opts domain.EnvironmentOpts) error

	// SetTitle updates the display name and marks it auto-generated.
	SetTitle(ctx context.Context, id, title string) error

	// DeleteConversation removes a conversation. Its content units are
	// removed by cascade; the caller tears down the sandbox.
	DeleteConversation(ctx context.Context, id string) error
}

// ContentStore manages the ordered content units of conversations.
// Sequence numbers are assigned by the ContentSequencer, never by the
// store: CreateUnit persists whatever sequence the caller passes.
type ContentStore interface {
	// CreateUnit persists a new unit with its assigned sequence number.
	CreateUnit(ctx context.Context, u *domain.ContentUnit) error

	// UpdateUnitPayload overwrites the payload of an existing unit.
	// Used for the batched flushes of in-progress assistant text and
	// for tool_call status transitions.
	UpdateUnitPayload(ctx context.Context, id string, payload domain.UnitPayload) error

	// FinalizeUnit writes the final payload and metadata in one step.
	FinalizeUnit(ctx context.Context, id string, payload domain.UnitPayload, md domain.UnitMetadata) error

	// ListUnits returns all units of a conversation in ascending
	// sequence order.
	ListUnits(ctx context.Context, conversationID string) ([]domain.ContentUnit, error)

	// MaxSequence returns the highest persisted sequence number for a
	// conversation, or 0 if it has no units.
	MaxSequence(ctx context.Context, conversationID string) (int, error)
}
