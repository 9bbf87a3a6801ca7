package models

import "github.com/google/uuid"

// Frame types exchanged over the live channel.
const (
	// EventAnnounce binds a websocket connection to a user identity.
	EventAnnounce = "announce"
	// EventSend asks the server to relay a persisted message to a recipient.
	EventSend = "send"
	// EventMessage carries a relayed message to a recipient connection.
	EventMessage = "message"
)

// Frame is the envelope for all live-channel traffic. Which fields are set
// depends on Type.
type Frame struct {
	Type        string    `json:"type"`
	UserID      uuid.UUID `json:"userId,omitempty"`
	RecipientID uuid.UUID `json:"recipientId,omitempty"`
	Message     *Message  `json:"message,omitempty"`
}
