package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nestboard/messaging/internal/realtime"
	"github.com/nestboard/messaging/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store          store.ChatStore
	redis          *store.RedisStore
	registry       *realtime.Registry
	relay          *realtime.Relay
	logger         zerolog.Logger
	allowedOrigins []string
}

// NewHandler creates a new Handler with the given dependencies. redis may be
// nil when rate limiting is disabled; an empty origin list accepts any
// websocket origin.
func NewHandler(chatStore store.ChatStore, redis *store.RedisStore, registry *realtime.Registry, relay *realtime.Relay, logger zerolog.Logger, allowedOrigins []string) *Handler {
	return &Handler{
		store:          chatStore,
		redis:          redis,
		registry:       registry,
		relay:          relay,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// StoreError maps store errors to HTTP responses. Absent records and
// non-participant reads both surface as 404 so conversation existence is
// never leaked.
func (h *Handler) StoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.Error(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, store.ErrForbidden):
		h.Error(w, http.StatusForbidden, "not a participant of this conversation")
	default:
		h.logger.Error().Err(err).Msg("store operation failed")
		h.Error(w, http.StatusInternalServerError, "database error")
	}
}
