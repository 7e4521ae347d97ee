// Package session owns the per-conversation streaming state: gapless
// content ordering, batched persistence of in-progress text, and the
// registry that guarantees at most one live generation per
// conversation and lets a reconnecting client resume mid-stream.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zysoong/open-codex-gui/pkg/domain"
	"github.com/zysoong/open-codex-gui/pkg/store"
)

// DefaultFlushInterval is how many buffered text deltas accumulate
// before an in-progress unit is flushed to the store.
const DefaultFlushInterval = 50

// Sequencer is the single ordering authority for content units. Each
// conversation's counter is lazily seeded from the highest persisted
// sequence number and then served from memory; because at most one
// generation per conversation is ever active, the in-memory counter
// cannot race with a concurrent writer.
type Sequencer struct {
	store         store.ContentStore
	flushInterval int

	mu   sync.Mutex
	last map[string]int // conversationID -> last assigned sequence
}

// NewSequencer creates a sequencer over the given content store.
func NewSequencer(st store.ContentStore) *Sequencer {
	return &Sequencer{
		store:         st,
		flushInterval: DefaultFlushInterval,
		last:          make(map[string]int),
	}
}

// NextSequence returns the next gapless sequence number for the
// conversation, seeding the counter from the store on first use.
func (s *Sequencer) NextSequence(ctx context.Context, conversationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.last[conversationID]; !ok {
		max, err := s.store.MaxSequence(ctx, conversationID)
		if err != nil {
			return 0, fmt.Errorf("seeding sequence counter: %w", err)
		}
		s.last[conversationID] = max
	}
	s.last[conversationID]++
	return s.last[conversationID], nil
}

// Forget drops the in-memory counter for a conversation, e.g. after
// deletion. The next use reseeds from the store.
func (s *Sequencer) Forget(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, conversationID)
}

// CreateUnit assigns the next sequence number and persists the unit in
// one step. The returned unit carries its generated ID and sequence.
func (s *Sequencer) CreateUnit(ctx context.Context, conversationID string, kind domain.Kind, author domain.Author, payload domain.UnitPayload, parentID string, md domain.UnitMetadata) (*domain.ContentUnit, error) {
	seq, err := s.NextSequence(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	unit := &domain.ContentUnit{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SequenceNumber: seq,
		Kind:           kind,
		Author:         author,
		Payload:        payload,
		ParentUnitID:   parentID,
		Metadata:       md,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateUnit(ctx, unit); err != nil {
		return nil, fmt.Errorf("persisting unit seq %d: %w", seq, err)
	}
	return unit, nil
}

// BeginStreaming creates an empty unit marked as streaming and returns
// a StreamingUnit accumulating its text. The unit exists in the store
// from the start so its sequence position is fixed before any delta
// arrives.
func (s *Sequencer) BeginStreaming(ctx context.Context, conversationID string, kind domain.Kind, author domain.Author, md domain.UnitMetadata) (*StreamingUnit, error) {
	md.Streaming = true
	unit, err := s.CreateUnit(ctx, conversationID, kind, author, domain.UnitPayload{Text: ""}, "", md)
	if err != nil {
		return nil, err
	}
	return &StreamingUnit{
		store:         s.store,
		unit:          unit,
		flushInterval: s.flushInterval,
	}, nil
}

// StreamingUnit buffers the text of one in-progress unit. Every delta
// mutates the in-memory text; the durable write happens every
// flushInterval deltas or at a lifecycle boundary. A crash loses at
// most one batch, never the whole response.
type StreamingUnit struct {
	store         store.ContentStore
	flushInterval int

	mu         sync.Mutex
	unit       *domain.ContentUnit
	text       string
	sinceFlush int
	finalized  bool
}

// ID returns the unit's identifier.
func (u *StreamingUnit) ID() string { return u.unit.ID }

// SequenceNumber returns the unit's fixed sequence position.
func (u *StreamingUnit) SequenceNumber() int { return u.unit.SequenceNumber }

// Text returns the accumulated text so far. Safe for concurrent use;
// the attach path polls this.
func (u *StreamingUnit) Text() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.text
}

// Streaming reports whether the unit has been finalized yet.
func (u *StreamingUnit) Streaming() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return !u.finalized
}

// Append adds a delta and flushes if the batch interval is reached.
// Flush failures are logged, not returned: a degraded store must not
// interrupt an in-flight generation mid-stream.
func (u *StreamingUnit) Append(ctx context.Context, delta string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finalized {
		return
	}
	u.text += delta
	u.sinceFlush++
	if u.sinceFlush >= u.flushInterval {
		u.flushLocked(ctx)
	}
}

// Flush forces a durable write of the accumulated text.
func (u *StreamingUnit) Flush(ctx context.Context) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.flushLocked(ctx)
}

func (u *StreamingUnit) flushLocked(ctx context.Context) {
	if err := u.store.UpdateUnitPayload(ctx, u.unit.ID, domain.UnitPayload{Text: u.text}); err != nil {
		slog.Error("Failed to flush streaming unit", "unit_id", u.unit.ID, "error", err)
		return
	}
	u.sinceFlush = 0
}

// Finalize writes the final text and terminal metadata in one step and
// stops accepting deltas. Idempotent; only the first call writes.
func (u *StreamingUnit) Finalize(ctx context.Context, md domain.UnitMetadata) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finalized {
		return nil
	}
	u.finalized = true
	md.Streaming = false
	if err := u.store.FinalizeUnit(ctx, u.unit.ID, domain.UnitPayload{Text: u.text}, md); err != nil {
		return fmt.Errorf("finalizing unit %s: %w", u.unit.ID, err)
	}
	return nil
}
