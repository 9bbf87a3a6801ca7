package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is a durable two-party thread. Participants are fixed at
// creation and order-insensitive; SeenBy tracks which participants have
// observed the thread's current state.
type Conversation struct {
	ID             uuid.UUID   `json:"id"`
	ParticipantIDs []uuid.UUID `json:"userIDs"`
	SeenBy         []uuid.UUID `json:"seenBy"`
	LastMessage    string      `json:"lastMessage,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// HasParticipant reports whether id is one of the two participants.
func (c *Conversation) HasParticipant(id uuid.UUID) bool {
	for _, p := range c.ParticipantIDs {
		if p == id {
			return true
		}
	}
	return false
}

// Other returns the participant that is not id. Zero UUID if id is not a
// participant.
func (c *Conversation) Other(id uuid.UUID) uuid.UUID {
	if !c.HasParticipant(id) {
		return uuid.Nil
	}
	for _, p := range c.ParticipantIDs {
		if p != id {
			return p
		}
	}
	return uuid.Nil
}

// SeenByUser reports whether id is in the seen-by set.
func (c *Conversation) SeenByUser(id uuid.UUID) bool {
	for _, s := range c.SeenBy {
		if s == id {
			return true
		}
	}
	return false
}

// ConversationSummary is a conversation plus the resolved profile of the
// other participant. Companion is nil when that account no longer exists.
type ConversationSummary struct {
	Conversation
	Companion *UserSummary `json:"companion"`
}

// NormalizePair orders two participant IDs so the smaller string sorts
// first. The (lo, hi) pair is the storage identity of a conversation and
// backs the uniqueness constraint that makes get-or-create race-safe.
func NormalizePair(a, b uuid.UUID) (lo, hi uuid.UUID) {
	if a.String() < b.String() {
		return a, b
	}
	return b, a
}
