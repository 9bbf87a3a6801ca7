package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestboard/messaging/internal/auth"
	"github.com/nestboard/messaging/internal/config"
	"github.com/nestboard/messaging/internal/handlers"
	"github.com/nestboard/messaging/internal/models"
	"github.com/nestboard/messaging/internal/realtime"
	"github.com/nestboard/messaging/internal/store"
)

const testSecret = "test-secret"

type testEnv struct {
	srv      *httptest.Server
	store    *store.SQLiteStore
	registry *realtime.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)

	cfg := &config.Config{Env: "test", JWTSecret: testSecret}
	registry := realtime.NewRegistry()
	srv := httptest.NewServer(NewRouter(cfg, zerolog.Nop(), st, nil, registry))
	t.Cleanup(func() {
		registry.CloseAll(websocket.CloseGoingAway, "test over")
		srv.Close()
	})

	return &testEnv{srv: srv, store: st, registry: registry}
}

func (e *testEnv) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := auth.GenerateToken(userID, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return token
}

// do issues a request as userID and decodes the JSON response into out when
// out is non-nil.
func (e *testEnv) do(t *testing.T, userID uuid.UUID, method, path string, body any, out any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+e.token(t, userID))

	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// dialWS opens an announced websocket for userID.
func (e *testEnv) dialWS(t *testing.T, userID uuid.UUID) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	header := http.Header{"Authorization": {"Bearer " + e.token(t, userID)}}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	require.NoError(t, ws.WriteJSON(models.Frame{Type: models.EventAnnounce, UserID: userID}))

	// Announce is processed asynchronously; wait for presence.
	require.Eventually(t, func() bool { return e.registry.Online(userID) },
		2*time.Second, 10*time.Millisecond, "announce not registered")
	return ws
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/conversations")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/conversations", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestSessionCookieAccepted(t *testing.T) {
	env := newTestEnv(t)
	userID := uuid.New()

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/conversations", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: env.token(t, userID)})

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPublicEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/", "/health", "/metrics"} {
		resp, err := http.Get(env.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestConversationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	alice, bob := uuid.New(), uuid.New()

	// Alice opens the conversation.
	var conv models.Conversation
	resp := env.do(t, alice, http.MethodPost, "/conversations",
		handlers.StartConversationRequest{UserID: bob.String()}, &conv)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, conv.HasParticipant(alice))
	assert.True(t, conv.HasParticipant(bob))
	assert.Equal(t, []uuid.UUID{alice}, conv.SeenBy)

	// Bob opening the same pair gets the same conversation back.
	var again models.Conversation
	resp = env.do(t, bob, http.MethodPost, "/conversations",
		handlers.StartConversationRequest{UserID: alice.String()}, &again)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, conv.ID, again.ID)

	// Alice sends two messages.
	var first, second models.Message
	resp = env.do(t, alice, http.MethodPost, fmt.Sprintf("/conversations/%s/messages", conv.ID),
		handlers.CreateMessageRequest{Text: "hi bob"}, &first)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = env.do(t, alice, http.MethodPost, fmt.Sprintf("/conversations/%s/messages", conv.ID),
		handlers.CreateMessageRequest{Text: "you there?"}, &second)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Bob fetches: history oldest-first, and the fetch records his read.
	var detail handlers.ConversationResponse
	resp = env.do(t, bob, http.MethodGet, "/conversations/"+conv.ID.String(), nil, &detail)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, "hi bob", detail.Messages[0].Text)
	assert.Equal(t, "you there?", detail.Messages[1].Text)
	assert.Equal(t, "you there?", detail.LastMessage)
	assert.True(t, detail.SeenByUser(alice))
	assert.True(t, detail.SeenByUser(bob))

	// Alice's list shows one conversation with the latest preview.
	var list []models.ConversationSummary
	resp = env.do(t, alice, http.MethodGet, "/conversations", nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list, 1)
	assert.Equal(t, conv.ID, list[0].ID)
	assert.Equal(t, "you there?", list[0].LastMessage)

	// Explicit mark-read resets seenBy to just the caller.
	var marked models.Conversation
	resp = env.do(t, alice, http.MethodPut, fmt.Sprintf("/conversations/%s/read", conv.ID), nil, &marked)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []uuid.UUID{alice}, marked.SeenBy)

	// Delete, then every follow-up sees 404.
	resp = env.do(t, bob, http.MethodDelete, "/conversations/"+conv.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, alice, http.MethodGet, "/conversations/"+conv.ID.String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartConversationValidation(t *testing.T) {
	env := newTestEnv(t)
	alice := uuid.New()

	resp := env.do(t, alice, http.MethodPost, "/conversations",
		handlers.StartConversationRequest{UserID: "not-a-uuid"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, alice, http.MethodPost, "/conversations",
		handlers.StartConversationRequest{UserID: alice.String()}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	alice, bob := uuid.New(), uuid.New()

	var conv models.Conversation
	env.do(t, alice, http.MethodPost, "/conversations",
		handlers.StartConversationRequest{UserID: bob.String()}, &conv)
	base := fmt.Sprintf("/conversations/%s/messages", conv.ID)

	// Whitespace-only text is rejected without touching the conversation.
	resp := env.do(t, alice, http.MethodPost, base,
		handlers.CreateMessageRequest{Text: "   "}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, alice, http.MethodPost, base,
		handlers.CreateMessageRequest{Text: strings.Repeat("x", 5000)}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var detail handlers.ConversationResponse
	env.do(t, alice, http.MethodGet, "/conversations/"+conv.ID.String(), nil, &detail)
	assert.Empty(t, detail.Messages)
	assert.Empty(t, detail.LastMessage)

	resp = env.do(t, alice, http.MethodPost, base, map[string]int{"text": 7}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNonParticipantAccess(t *testing.T) {
	env := newTestEnv(t)
	alice, bob, mallory := uuid.New(), uuid.New(), uuid.New()

	var conv models.Conversation
	env.do(t, alice, http.MethodPost, "/conversations",
		handlers.StartConversationRequest{UserID: bob.String()}, &conv)
	path := "/conversations/" + conv.ID.String()

	// Reads and message writes hide existence from strangers.
	resp := env.do(t, mallory, http.MethodGet, path, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = env.do(t, mallory, http.MethodPost, path+"/messages",
		handlers.CreateMessageRequest{Text: "let me in"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = env.do(t, mallory, http.MethodPut, path+"/read", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Destructive calls are explicit about authorization.
	resp = env.do(t, mallory, http.MethodDelete, path, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// All of that left the conversation intact and unread by strangers.
	var detail handlers.ConversationResponse
	env.do(t, alice, http.MethodGet, path, nil, &detail)
	assert.Equal(t, []uuid.UUID{alice}, detail.SeenBy)
}

func TestGetUser(t *testing.T) {
	env := newTestEnv(t)
	alice := uuid.New()

	bob, err := env.store.CreateUser(context.Background(), "bob", "bob@example.com", "")
	require.NoError(t, err)

	var user models.User
	resp := env.do(t, alice, http.MethodGet, "/users/"+bob.ID.String(), nil, &user)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bob", user.Username)

	resp = env.do(t, alice, http.MethodGet, "/users/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLiveDelivery(t *testing.T) {
	env := newTestEnv(t)
	alice, bob := uuid.New(), uuid.New()

	var conv models.Conversation
	env.do(t, alice, http.MethodPost, "/conversations",
		handlers.StartConversationRequest{UserID: bob.String()}, &conv)

	bobWS := env.dialWS(t, bob)
	aliceWS := env.dialWS(t, alice)

	// Durable write first, then the live push.
	var msg models.Message
	resp := env.do(t, alice, http.MethodPost, fmt.Sprintf("/conversations/%s/messages", conv.ID),
		handlers.CreateMessageRequest{Text: "hello live"}, &msg)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, aliceWS.WriteJSON(models.Frame{
		Type:        models.EventSend,
		RecipientID: bob,
		Message:     &msg,
	}))

	bobWS.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame models.Frame
	require.NoError(t, bobWS.ReadJSON(&frame))
	assert.Equal(t, models.EventMessage, frame.Type)
	require.NotNil(t, frame.Message)
	assert.Equal(t, msg.ID, frame.Message.ID)
	assert.Equal(t, "hello live", frame.Message.Text)
	assert.Equal(t, alice, frame.Message.AuthorID)

	// Exactly one event per send: nothing else arrives.
	bobWS.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var extra models.Frame
	err := bobWS.ReadJSON(&extra)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "timeout") || websocket.IsUnexpectedCloseError(err))
}

func TestOfflineRecipientReconciles(t *testing.T) {
	env := newTestEnv(t)
	alice, bob := uuid.New(), uuid.New()

	var conv models.Conversation
	env.do(t, alice, http.MethodPost, "/conversations",
		handlers.StartConversationRequest{UserID: bob.String()}, &conv)

	// Bob is offline; the send frame is a no-op but the write persists.
	aliceWS := env.dialWS(t, alice)
	var msg models.Message
	env.do(t, alice, http.MethodPost, fmt.Sprintf("/conversations/%s/messages", conv.ID),
		handlers.CreateMessageRequest{Text: "missed you"}, &msg)
	require.NoError(t, aliceWS.WriteJSON(models.Frame{
		Type:        models.EventSend,
		RecipientID: bob,
		Message:     &msg,
	}))

	// Later, bob reconciles over REST: unread flag, then history + receipt.
	var list []models.ConversationSummary
	env.do(t, bob, http.MethodGet, "/conversations", nil, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "missed you", list[0].LastMessage)
	assert.False(t, list[0].SeenByUser(bob))

	var detail handlers.ConversationResponse
	env.do(t, bob, http.MethodGet, "/conversations/"+conv.ID.String(), nil, &detail)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, "missed you", detail.Messages[0].Text)
	assert.True(t, detail.SeenByUser(bob))
}

func TestAnnounceIdentityMismatch(t *testing.T) {
	env := newTestEnv(t)
	alice, bob := uuid.New(), uuid.New()

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	header := http.Header{"Authorization": {"Bearer " + env.token(t, alice)}}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer ws.Close()

	// Announcing someone else's identity costs the socket.
	require.NoError(t, ws.WriteJSON(models.Frame{Type: models.EventAnnounce, UserID: bob}))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.False(t, env.registry.Online(bob))
	assert.False(t, env.registry.Online(alice))
}

func TestDisconnectClearsPresence(t *testing.T) {
	env := newTestEnv(t)
	alice := uuid.New()

	ws := env.dialWS(t, alice)
	require.True(t, env.registry.Online(alice))

	ws.Close()
	require.Eventually(t, func() bool { return !env.registry.Online(alice) },
		2*time.Second, 10*time.Millisecond, "presence not cleared after disconnect")
}

func TestWSRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
