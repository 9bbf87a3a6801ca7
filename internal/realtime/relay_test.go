package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestboard/messaging/internal/models"
)

func testMessage(conversationID, authorID uuid.UUID) *models.Message {
	return &models.Message{
		ID:             "01J0000000000000000000TEST",
		ConversationID: conversationID,
		AuthorID:       authorID,
		Text:           "hello",
		CreatedAt:      time.Now().UTC(),
	}
}

func TestRelayDeliverOffline(t *testing.T) {
	relay := NewRelay(NewRegistry(), zerolog.Nop())

	// No connections for the recipient: not an error, nothing delivered.
	delivered := relay.Deliver(uuid.New(), testMessage(uuid.New(), uuid.New()))
	assert.Zero(t, delivered)
}

func TestRelayDeliverFansOut(t *testing.T) {
	registry := NewRegistry()
	relay := NewRelay(registry, zerolog.Nop())

	recipient := uuid.New()
	bystander := uuid.New()
	tab1, tab2 := NewConnection(nil), NewConnection(nil)
	other := NewConnection(nil)
	registry.Announce(recipient, tab1)
	registry.Announce(recipient, tab2)
	registry.Announce(bystander, other)

	msg := testMessage(uuid.New(), uuid.New())
	delivered := relay.Deliver(recipient, msg)
	assert.Equal(t, 2, delivered)

	// Each of the recipient's connections got exactly one frame.
	for _, conn := range []*Connection{tab1, tab2} {
		require.Len(t, conn.send, 1)

		var frame models.Frame
		require.NoError(t, json.Unmarshal(<-conn.send, &frame))
		assert.Equal(t, models.EventMessage, frame.Type)
		require.NotNil(t, frame.Message)
		assert.Equal(t, msg.ID, frame.Message.ID)
		assert.Equal(t, msg.Text, frame.Message.Text)
	}

	// The bystander saw nothing.
	assert.Empty(t, other.send)
}

func TestRelayDeliverSkipsClosedConnection(t *testing.T) {
	registry := NewRegistry()
	relay := NewRelay(registry, zerolog.Nop())

	recipient := uuid.New()
	live := NewConnection(nil)
	dead := NewConnection(nil)
	close(dead.done)

	registry.Announce(recipient, live)
	registry.Announce(recipient, dead)

	delivered := relay.Deliver(recipient, testMessage(uuid.New(), uuid.New()))
	assert.Equal(t, 1, delivered)
	assert.Len(t, live.send, 1)
}
