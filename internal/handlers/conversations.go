package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nestboard/messaging/internal/api/middleware"
	"github.com/nestboard/messaging/internal/metrics"
	"github.com/nestboard/messaging/internal/models"
)

// StartConversationRequest represents the start-conversation request body.
type StartConversationRequest struct {
	UserID string `json:"userId"`
}

// ConversationResponse bundles a conversation with its message history.
type ConversationResponse struct {
	models.Conversation
	Messages []models.Message `json:"messages"`
}

// ListConversations returns all conversations the requester participates in,
// most recently created first, each with the companion's profile summary.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	summaries, err := h.store.ListConversations(r.Context(), userID)
	if err != nil {
		h.StoreError(w, err)
		return
	}
	if summaries == nil {
		summaries = []models.ConversationSummary{}
	}

	h.JSON(w, http.StatusOK, summaries)
}

// GetConversation returns a conversation with its messages oldest-first.
// Viewing is a read-receipt event: the requester is added to seenBy before
// the response is written.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	conversationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID format")
		return
	}

	conv, messages, err := h.store.GetConversation(r.Context(), conversationID, userID)
	if err != nil {
		h.StoreError(w, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	h.JSON(w, http.StatusOK, ConversationResponse{Conversation: *conv, Messages: messages})
}

// StartConversation returns the existing conversation between the requester
// and the given user, creating it when absent. Safe under concurrent calls
// from both participants.
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	var req StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	otherUserID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid user ID format")
		return
	}
	if otherUserID == userID {
		h.Error(w, http.StatusBadRequest, "cannot start a conversation with yourself")
		return
	}

	conv, err := h.store.StartConversation(r.Context(), userID, otherUserID)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	metrics.ConversationsStarted.Inc()
	h.JSON(w, http.StatusOK, conv)
}

// MarkConversationRead resets the conversation's seenBy to just the
// requester. Idempotent; the client mirrors the returned state.
func (h *Handler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	conversationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID format")
		return
	}

	conv, err := h.store.MarkConversationRead(r.Context(), conversationID, userID)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, conv)
}

// DeleteConversation removes a conversation and all of its messages.
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	conversationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID format")
		return
	}

	if err := h.store.DeleteConversation(r.Context(), conversationID, userID); err != nil {
		h.StoreError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"message": "conversation and messages deleted"})
}
