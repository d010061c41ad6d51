// Package notify publishes lifecycle events to NATS.
//
// Subject convention: billing.<entity_type>.<action>
// e.g. billing.invoice.approved, billing.draw.funded
//
// All publish operations are non-fatal — errors are logged but never
// propagated to the caller, so a broker outage never interrupts a
// billing transition.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/ledgerline/draw-engine/engine"
)

// NATSBroadcaster implements engine.Broadcaster on a NATS connection.
type NATSBroadcaster struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// Connect dials the NATS server at url and returns a broadcaster.
func Connect(url string, log zerolog.Logger) (*NATSBroadcaster, error) {
	conn, err := nats.Connect(url,
		nats.Name("draw-engine"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATSBroadcaster{conn: conn, log: log}, nil
}

// Close drains the connection.
func (b *NATSBroadcaster) Close() {
	if b.conn != nil {
		b.conn.Drain()
	}
}

// Broadcast publishes the event fire-and-forget.
func (b *NATSBroadcaster) Broadcast(_ context.Context, event engine.Event) {
	if b.conn == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		b.log.Warn().Err(err).Str("action", event.Action).Msg("notify: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("billing.%s.%s", event.EntityType, event.Action)
	if err := b.conn.Publish(subject, data); err != nil {
		b.log.Warn().Err(err).
			Str("subject", subject).
			Str("entity_id", event.EntityID).
			Msg("notify: failed to publish event (non-fatal)")
		return
	}

	b.log.Debug().
		Str("subject", subject).
		Str("entity_id", event.EntityID).
		Msg("notify: event published")
}
