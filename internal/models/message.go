package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is an immutable chat message. IDs are ULIDs, so equal-timestamp
// messages still sort in creation order.
type Message struct {
	ID             string    `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	AuthorID       uuid.UUID `json:"authorId"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}
