package realtime

import (
	"encoding/json"
	"time"
)

// Server events
const (
	EventJoinedRoom      = "joined_room"
	EventLeftRoom        = "left_room"
	EventNewNotification = "new_notification"
	EventError           = "error"
)

// Client events
const (
	EventJoin  = "join"
	EventLeave = "leave"
)

// Envelope is the frame written to a connection. Data carries the full
// record for new_notification; clients de-duplicate by its id.
type Envelope struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewEnvelope(event string, data interface{}) Envelope {
	return Envelope{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// inbound is a frame read from a client.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type JoinPayload struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

type JoinedPayload struct {
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
