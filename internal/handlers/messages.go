package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nestboard/messaging/internal/api/middleware"
	"github.com/nestboard/messaging/internal/metrics"
)

const maxMessageLength = 4096

// CreateMessageRequest represents the create-message request body.
type CreateMessageRequest struct {
	Text string `json:"text"`
}

// CreateMessage persists a message in a conversation the requester
// participates in. This is the durable half of the two-phase send: the
// response updates the author's own UI and never depends on the recipient
// being reachable. The live push happens separately over the websocket.
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	conversationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID format")
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Validation happens before any store mutation.
	text := strings.TrimSpace(req.Text)
	if text == "" {
		h.Error(w, http.StatusBadRequest, "text is required")
		return
	}
	if len(text) > maxMessageLength {
		h.Error(w, http.StatusUnprocessableEntity, "text too long (max 4096 bytes)")
		return
	}

	msg, err := h.store.CreateMessage(r.Context(), conversationID, userID, text)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	metrics.MessagesCreated.Inc()
	h.JSON(w, http.StatusCreated, msg)
}
