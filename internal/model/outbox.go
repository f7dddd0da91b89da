package model

import (
	"encoding/json"
	"time"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusFailed    OutboxStatus = "failed"
	OutboxStatusRetry     OutboxStatus = "retry"
)

type OutboxEvent struct {
	ID           string          `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

// TransitionEvent is the outbox payload written for every committed transition.
type TransitionEvent struct {
	RequestID  string       `json:"request_id"`
	Transition string       `json:"transition"`
	State      RequestState `json:"state"`
	SubStatus  *SubStatus   `json:"sub_status,omitempty"`
	ActorID    string       `json:"actor_id"`
	ActorRole  Role         `json:"actor_role"`
	At         time.Time    `json:"at"`
}
