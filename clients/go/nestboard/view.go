package nestboard

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nestboard/messaging/internal/models"
)

// View is the local mirror of the user's conversation list plus at most one
// open conversation. Two independent paths mutate it: request/response
// results and relayed push events. Both converge on the store's state — a
// list entry is unread exactly when the user is absent from its seenBy, and
// the mirror always reflects the most recent store write it has observed.
type View struct {
	client *Client

	mu        sync.Mutex
	summaries []models.ConversationSummary
	open      *ConversationDetail
}

// NewView constructs a View over the client and wires it to the client's
// live channel. Call before Client.Connect.
func NewView(client *Client) *View {
	v := &View{client: client}
	client.OnMessage(v.handleIncoming)
	return v
}

// Refresh replaces the conversation list with the server's current state.
func (v *View) Refresh(ctx context.Context) error {
	summaries, err := v.client.ListConversations(ctx)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.summaries = summaries
	v.mu.Unlock()
	return nil
}

// Conversations returns a snapshot of the list, most recent first.
func (v *View) Conversations() []models.ConversationSummary {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.ConversationSummary, len(v.summaries))
	copy(out, v.summaries)
	return out
}

// Unread reports whether the conversation is highlighted for this user:
// purely "user not in seenBy".
func (v *View) Unread(id uuid.UUID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.summaries {
		if v.summaries[i].ID == id {
			return !v.summaries[i].SeenByUser(v.client.UserID)
		}
	}
	return false
}

// Open fetches the conversation and makes it the open one. The fetch itself
// is the read receipt; the returned seenBy is mirrored locally without any
// further round trip.
func (v *View) Open(ctx context.Context, id uuid.UUID) (*ConversationDetail, error) {
	detail, err := v.client.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.open = detail
	v.mirrorLocked(&detail.Conversation)
	v.mu.Unlock()
	return detail, nil
}

// CloseConversation drops the open conversation. Pushes for it then only
// update the cached lastMessage instead of marking it read.
func (v *View) CloseConversation() {
	v.mu.Lock()
	v.open = nil
	v.mu.Unlock()
}

// Send persists a message in the open conversation, mirrors it locally, and
// pushes it toward the recipient's live connections. The local update never
// waits on the push: persistence is the durable half, delivery is
// best-effort.
func (v *View) Send(ctx context.Context, text string) (*models.Message, error) {
	v.mu.Lock()
	open := v.open
	v.mu.Unlock()
	if open == nil {
		return nil, &APIError{Status: 0, Message: "no open conversation"}
	}

	msg, err := v.client.SendMessage(ctx, open.ID, text)
	if err != nil {
		return nil, err
	}

	recipient := open.Other(v.client.UserID)

	v.mu.Lock()
	if v.open != nil && v.open.ID == msg.ConversationID {
		v.open.Messages = append(v.open.Messages, *msg)
		v.open.LastMessage = msg.Text
		v.open.SeenBy = []uuid.UUID{v.client.UserID}
		v.mirrorLocked(&v.open.Conversation)
	}
	v.mu.Unlock()

	// Fire-and-forget push; an offline recipient sees the message on their
	// next fetch.
	if recipient != uuid.Nil {
		_ = v.client.PushMessage(recipient, msg)
	}

	return msg, nil
}

// Delete removes the conversation from the server and the local mirror.
func (v *View) Delete(ctx context.Context, id uuid.UUID) error {
	if err := v.client.DeleteConversation(ctx, id); err != nil {
		return err
	}

	v.mu.Lock()
	for i := range v.summaries {
		if v.summaries[i].ID == id {
			v.summaries = append(v.summaries[:i], v.summaries[i+1:]...)
			break
		}
	}
	if v.open != nil && v.open.ID == id {
		v.open = nil
	}
	v.mu.Unlock()
	return nil
}

// handleIncoming applies a relayed message. For the open conversation the
// message is appended and immediately acknowledged with a mark-read whose
// result is mirrored; for any other conversation only the cached
// lastMessage changes and the entry stays unread.
func (v *View) handleIncoming(msg *models.Message) {
	v.mu.Lock()
	openMatches := v.open != nil && v.open.ID == msg.ConversationID
	if openMatches {
		v.open.Messages = append(v.open.Messages, *msg)
		v.open.LastMessage = msg.Text
	} else {
		for i := range v.summaries {
			if v.summaries[i].ID == msg.ConversationID {
				v.summaries[i].LastMessage = msg.Text
				v.summaries[i].SeenBy = []uuid.UUID{msg.AuthorID}
				break
			}
		}
	}
	v.mu.Unlock()

	if !openMatches {
		return
	}

	conv, err := v.client.MarkRead(context.Background(), msg.ConversationID)
	if err != nil {
		return
	}

	v.mu.Lock()
	if v.open != nil && v.open.ID == conv.ID {
		v.open.SeenBy = conv.SeenBy
	}
	v.mirrorLocked(conv)
	v.mu.Unlock()
}

// mirrorLocked copies a conversation's volatile fields into the list entry.
// Caller holds v.mu.
func (v *View) mirrorLocked(conv *models.Conversation) {
	for i := range v.summaries {
		if v.summaries[i].ID == conv.ID {
			v.summaries[i].SeenBy = conv.SeenBy
			v.summaries[i].LastMessage = conv.LastMessage
			return
		}
	}
}
