package model

import (
	"time"
)

type NotificationKind string

const (
	NotificationKindTaskAssigned      NotificationKind = "task_assigned"
	NotificationKindStatusChanged     NotificationKind = "status_changed"
	NotificationKindAdminReviewNeeded NotificationKind = "admin_review_needed"
	NotificationKindGeneric           NotificationKind = "generic"
)

func (k NotificationKind) Valid() bool {
	switch k {
	case NotificationKindTaskAssigned, NotificationKindStatusChanged,
		NotificationKindAdminReviewNeeded, NotificationKindGeneric:
		return true
	}
	return false
}

// Notification is immutable once appended, except for Read which flips
// false to true exactly once.
type Notification struct {
	ID               string           `db:"id" json:"id"`
	RecipientID      string           `db:"recipient_id" json:"recipient_id"`
	Seq              uint64           `db:"seq" json:"seq"`
	Kind             NotificationKind `db:"kind" json:"kind"`
	Title            string           `db:"title" json:"title"`
	Body             string           `db:"body" json:"body"`
	RelatedRequestID *string          `db:"related_request_id" json:"related_request_id,omitempty"`
	Read             bool             `db:"is_read" json:"read"`
	ReadAt           *time.Time       `db:"read_at" json:"read_at,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
}

// Payload is the content of a notification before it is addressed to a recipient.
type Payload struct {
	Title            string
	Body             string
	RelatedRequestID string
}

type MarkReadResponse struct {
	ID          string `json:"id"`
	Read        bool   `json:"read"`
	AlreadyRead bool   `json:"already_read"`
}

type UnreadCountResponse struct {
	UserID string `json:"user_id"`
	Unread int64  `json:"unread"`
}
