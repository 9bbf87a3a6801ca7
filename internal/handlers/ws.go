package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nestboard/messaging/internal/api/middleware"
	"github.com/nestboard/messaging/internal/metrics"
	"github.com/nestboard/messaging/internal/models"
	"github.com/nestboard/messaging/internal/realtime"
)

const (
	pongWait     = 60 * time.Second
	maxFrameSize = 8 * 1024
)

// ServeWS upgrades the request to a websocket and runs its read loop until
// the transport closes. The connection only joins the presence registry once
// the client announces; deregistration happens on any exit path, so a
// dropped transport promptly removes the handle.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := realtime.NewConnection(ws)
	conn.Start()
	metrics.LiveConnections.Inc()

	defer func() {
		h.registry.Forget(conn)
		conn.Close(websocket.CloseNormalClosure, "")
		metrics.LiveConnections.Dec()
	}()

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		var frame models.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Debug().Err(err).Msg("malformed websocket frame")
			continue
		}

		switch frame.Type {
		case models.EventAnnounce:
			// Identity is fixed by the session token. A client announcing
			// someone else's ID loses the socket.
			if frame.UserID != userID {
				conn.Close(websocket.ClosePolicyViolation, "identity mismatch")
				return
			}
			h.registry.Announce(userID, conn)

		case models.EventSend:
			if frame.RecipientID == uuid.Nil || frame.Message == nil {
				continue
			}
			h.relay.Deliver(frame.RecipientID, frame.Message)

		default:
			h.logger.Debug().Str("type", frame.Type).Msg("unknown websocket frame type")
		}
	}
}

// checkOrigin accepts same-origin requests, non-browser clients (no Origin
// header), and any origin on the configured allow list.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
