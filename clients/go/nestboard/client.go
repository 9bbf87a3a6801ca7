// Package nestboard provides a Go client for the Nestboard messaging
// service: the request/response API plus the live websocket channel.
package nestboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nestboard/messaging/internal/models"
)

// Client is a messaging API client for one authenticated user.
type Client struct {
	BaseURL    string
	Token      string
	UserID     uuid.UUID
	HTTPClient *http.Client

	writeMu   sync.Mutex
	ws        *websocket.Conn
	onMessage func(*models.Message)
}

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// ConversationDetail is an open conversation with its full history.
type ConversationDetail struct {
	models.Conversation
	Messages []models.Message `json:"messages"`
}

// NewClient creates a client for the given user session.
func NewClient(baseURL, token string, userID uuid.UUID) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		UserID:     userID,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// OnMessage registers the handler invoked for every relayed message. Must be
// set before Connect.
func (c *Client) OnMessage(fn func(*models.Message)) {
	c.onMessage = fn
}

// ListConversations fetches the conversation list, most recent first.
func (c *Client) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var out []models.ConversationSummary
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConversation fetches a conversation with its history. Server-side this
// is a read-receipt event: the returned seenBy already includes the caller.
func (c *Client) GetConversation(ctx context.Context, id uuid.UUID) (*ConversationDetail, error) {
	out := &ConversationDetail{}
	if err := c.do(ctx, http.MethodGet, "/conversations/"+id.String(), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartConversation returns the conversation with the given user, creating
// it when absent.
func (c *Client) StartConversation(ctx context.Context, otherUserID uuid.UUID) (*models.Conversation, error) {
	out := &models.Conversation{}
	body := map[string]string{"userId": otherUserID.String()}
	if err := c.do(ctx, http.MethodPost, "/conversations", body, out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRead resets the conversation's seenBy to just this user and returns
// the updated conversation.
func (c *Client) MarkRead(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	out := &models.Conversation{}
	if err := c.do(ctx, http.MethodPut, "/conversations/"+id.String()+"/read", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteConversation removes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+id.String(), nil, nil)
}

// SendMessage persists a message. This is only the durable half of a send;
// pair it with PushMessage to notify a connected recipient.
func (c *Client) SendMessage(ctx context.Context, conversationID uuid.UUID, text string) (*models.Message, error) {
	out := &models.Message{}
	body := map[string]string{"text": text}
	if err := c.do(ctx, http.MethodPost, "/conversations/"+conversationID.String()+"/messages", body, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetUser fetches a user's profile summary.
func (c *Client) GetUser(ctx context.Context, id uuid.UUID) (*models.UserSummary, error) {
	out := &models.UserSummary{}
	if err := c.do(ctx, http.MethodGet, "/users/"+id.String(), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Connect dials the live channel, announces this user's identity, and starts
// the receive loop. Relayed messages are handed to the OnMessage handler.
func (c *Client) Connect(ctx context.Context) error {
	wsURL, err := c.websocketURL()
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.Token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("dial websocket: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	c.ws = ws

	if err := c.writeFrame(models.Frame{Type: models.EventAnnounce, UserID: c.UserID}); err != nil {
		ws.Close()
		c.ws = nil
		return fmt.Errorf("announce: %w", err)
	}

	go c.readLoop()
	return nil
}

// PushMessage relays a persisted message to the recipient's live
// connections. Best-effort: an offline recipient simply receives nothing.
func (c *Client) PushMessage(recipientID uuid.UUID, msg *models.Message) error {
	if c.ws == nil {
		return fmt.Errorf("not connected")
	}
	return c.writeFrame(models.Frame{
		Type:        models.EventSend,
		RecipientID: recipientID,
		Message:     msg,
	})
}

// Close shuts down the live channel. REST methods keep working.
func (c *Client) Close() error {
	if c.ws == nil {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}

func (c *Client) readLoop() {
	for {
		var frame models.Frame
		if err := c.ws.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type == models.EventMessage && frame.Message != nil && c.onMessage != nil {
			c.onMessage(frame.Message)
		}
	}
}

func (c *Client) writeFrame(frame models.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(frame)
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return &APIError{Status: resp.StatusCode, Message: errBody.Error}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
