package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialTestConnection upgrades a server-side websocket wrapped in a started
// Connection, and returns the raw client side for assertions.
func dialTestConnection(t *testing.T) (*Connection, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	connCh := make(chan *Connection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConnection(ws)
		conn.Start()
		connCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case conn := <-connCh:
		t.Cleanup(func() { conn.Close(websocket.CloseNormalClosure, "") })
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("server connection not established")
		return nil, nil
	}
}

func TestConnectionSendReachesClient(t *testing.T) {
	conn, client := dialTestConnection(t)

	require.NoError(t, conn.Send([]byte(`{"type":"message"}`)))
	require.NoError(t, conn.Send([]byte(`{"type":"message","n":2}`)))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, first, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message"}`, string(first))

	_, second, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message","n":2}`, string(second))
}

func TestConnectionCloseSendsCloseFrame(t *testing.T) {
	conn, client := dialTestConnection(t)

	conn.Close(websocket.CloseGoingAway, "shutting down")

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Equal(t, "shutting down", closeErr.Text)
}

func TestConnectionSendAfterClose(t *testing.T) {
	conn, _ := dialTestConnection(t)

	conn.Close(websocket.CloseNormalClosure, "")
	assert.ErrorIs(t, conn.Send([]byte("late")), ErrConnectionClosed)

	// Close is idempotent.
	conn.Close(websocket.CloseNormalClosure, "")
}
