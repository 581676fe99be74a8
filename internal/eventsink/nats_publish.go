package eventsink

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher optionally republishes each CountedEvent individually,
// independent of the Postgres batching cadence, for downstream
// subscribers that want events in near-real-time. Disabled by default;
// the Postgres sink alone satisfies the event-sink contract.
type NATSPublisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

// NewNATSPublisher wraps an already-connected NATS connection.
func NewNATSPublisher(conn *nats.Conn, subject string, maxRetries int) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject, maxRetries: maxRetries}
}

// Publish marshals and republishes one event, retrying with linear
// backoff up to maxRetries times before giving up.
func (p *NATSPublisher) Publish(event CountedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventsink: marshal event: %w", err)
	}

	var lastErr error
	for i := 0; i <= p.maxRetries; i++ {
		lastErr = p.conn.Publish(p.subject, data)
		if lastErr == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("eventsink: publish failed after %d retries: %w", p.maxRetries, lastErr)
}
