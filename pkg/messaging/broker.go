package messaging

import (
	"context"
	"time"
)

// Broker publishes messages to external consumers.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Close() error
}

// Message is the wire form of an outbox event. Delivery is at-least-once, so
// consumers deduplicate on ID.
type Message struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}
