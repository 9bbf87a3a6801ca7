package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nestboard/messaging/internal/metrics"
	"github.com/nestboard/messaging/internal/models"
)

// Relay forwards persisted messages to a recipient's live connections.
// Delivery is best-effort: no acknowledgment, no retry, no offline queue.
// "Delivered" only ever means the payload reached a connection that was open
// at that instant; persistence is the sole durable guarantee.
type Relay struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewRelay constructs a Relay over the given presence registry.
func NewRelay(registry *Registry, logger zerolog.Logger) *Relay {
	return &Relay{registry: registry, logger: logger}
}

// Deliver pushes msg to every live connection of recipientID and returns how
// many connections accepted it. A recipient with no connections is not an
// error; the event is dropped and the message surfaces on the next fetch.
func (r *Relay) Deliver(recipientID uuid.UUID, msg *models.Message) int {
	conns := r.registry.Lookup(recipientID)
	if len(conns) == 0 {
		metrics.RelayDeliveries.WithLabelValues("dropped").Inc()
		r.logger.Debug().
			Str("recipient", recipientID.String()).
			Str("message_id", msg.ID).
			Msg("recipient offline, delivery dropped")
		return 0
	}

	payload, err := json.Marshal(models.Frame{Type: models.EventMessage, Message: msg})
	if err != nil {
		r.logger.Error().Err(err).Str("message_id", msg.ID).Msg("encode delivery frame")
		return 0
	}

	delivered := 0
	for _, conn := range conns {
		if err := conn.Send(payload); err == nil {
			delivered++
		}
	}

	if delivered > 0 {
		metrics.RelayDeliveries.WithLabelValues("delivered").Inc()
	} else {
		metrics.RelayDeliveries.WithLabelValues("dropped").Inc()
	}
	return delivered
}
