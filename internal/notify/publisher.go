// Package notify publishes workflow events to NATS. Publishing is best
// effort: a broken broker never fails a committed transition.
package notify

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const subjectPrefix = "payments.workflow."

// Event is one workflow notification.
type Event struct {
	Type       string    `json:"type"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	ActorID    string    `json:"actor_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher wraps a NATS connection. A nil Publisher is valid and drops all
// events, so callers never branch on whether eventing is configured.
type Publisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// New connects to the broker at url.
func New(url string, log zerolog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("be-payments-workflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, log: log}, nil
}

// Publish sends the event on payments.workflow.<type>. Failures are logged
// and swallowed.
func (p *Publisher) Publish(e Event) {
	if p == nil || p.conn == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.Error().Err(err).Str("event_type", e.Type).Msg("marshal event")
		return
	}
	if err := p.conn.Publish(subjectPrefix+e.Type, payload); err != nil {
		p.log.Warn().Err(err).Str("event_type", e.Type).Msg("publish event")
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.log.Warn().Err(err).Msg("drain nats connection")
	}
}
