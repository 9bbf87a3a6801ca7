package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nestboard/messaging/internal/models"
)

var (
	// ErrNotFound is returned when a record is absent or the caller has no
	// standing to see it. Reads collapse both cases so existence is never
	// leaked to non-participants.
	ErrNotFound = errors.New("store: not found")

	// ErrForbidden is returned by destructive operations when the record
	// exists but the caller is not a participant.
	ErrForbidden = errors.New("store: forbidden")
)

// ChatStore defines the durable surface for conversations and messages.
// Both PostgresStore and SQLiteStore implement this interface.
type ChatStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, username, email, avatar string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// Conversation operations. Mutations are atomic per conversation: a
	// concurrent mark-read and new-message never interleave partial writes.
	ListConversations(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error)
	GetConversation(ctx context.Context, conversationID, userID uuid.UUID) (*models.Conversation, []models.Message, error)
	StartConversation(ctx context.Context, userID, otherUserID uuid.UUID) (*models.Conversation, error)
	MarkConversationRead(ctx context.Context, conversationID, userID uuid.UUID) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID, userID uuid.UUID) error

	// Message operations
	CreateMessage(ctx context.Context, conversationID, authorID uuid.UUID, text string) (*models.Message, error)
}

// The seen-by set is stored as a JSON array of user IDs and always written
// whole, so a conversation row never carries a partially applied read state.
func seenByValues(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseSeenBy(values []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
