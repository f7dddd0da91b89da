package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type RequestState string

const (
	RequestStatePending        RequestState = "pending"
	RequestStateAdminReviewing RequestState = "admin-reviewing"
	RequestStateWorkerAssigned RequestState = "worker-assigned"
	RequestStateInProgress     RequestState = "in-progress"
	RequestStateCompleted      RequestState = "completed"
	RequestStateDone           RequestState = "done"
)

// SubStatus refines worker-assigned and in-progress for operational display.
type SubStatus string

const (
	SubStatusAssigned     SubStatus = "assigned"
	SubStatusStartService SubStatus = "start_service"
	SubStatusReached      SubStatus = "reached"
	SubStatusInProgress   SubStatus = "in_progress"
	SubStatusCompleted    SubStatus = "completed"
)

// subStatusOrder is the only legal order of the sub-status track.
var subStatusOrder = []SubStatus{
	SubStatusAssigned,
	SubStatusStartService,
	SubStatusReached,
	SubStatusInProgress,
	SubStatusCompleted,
}

// Rank returns the position of s on the sub-status track, or -1.
func (s SubStatus) Rank() int {
	for i, v := range subStatusOrder {
		if v == s {
			return i
		}
	}
	return -1
}

func (s SubStatus) Valid() bool {
	return s.Rank() >= 0
}

// Next returns the sub-status that follows s, if any.
func (s SubStatus) Next() (SubStatus, bool) {
	r := s.Rank()
	if r < 0 || r+1 >= len(subStatusOrder) {
		return "", false
	}
	return subStatusOrder[r+1], true
}

type HistoryEntry struct {
	State     RequestState `json:"state"`
	SubStatus *SubStatus   `json:"sub_status,omitempty"`
	ActorID   string       `json:"actor_id"`
	ActorRole Role         `json:"actor_role"`
	At        time.Time    `json:"at"`
}

// History is the append-only audit trail, stored as a JSON array column.
type History []HistoryEntry

func (h History) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (h *History) Scan(src interface{}) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*h = History{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported history column type %T", src)
	}
	return json.Unmarshal(b, h)
}

type ServiceRequest struct {
	ID          string       `db:"id" json:"id"`
	CustomerID  string       `db:"customer_id" json:"customer_id"`
	WorkerID    *string      `db:"worker_id" json:"worker_id"`
	ClaimedBy   *string      `db:"claimed_by" json:"claimed_by,omitempty"`
	State       RequestState `db:"state" json:"state"`
	SubStatus   *SubStatus   `db:"sub_status" json:"sub_status,omitempty"`
	Description string       `db:"description" json:"description"`
	Location    string       `db:"location" json:"location"`
	History     History      `db:"history" json:"history"`
	Version     int          `db:"version" json:"version"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy so that a failed transition never mutates the caller's value.
func (r *ServiceRequest) Clone() *ServiceRequest {
	c := *r
	c.WorkerID = cloneString(r.WorkerID)
	c.ClaimedBy = cloneString(r.ClaimedBy)
	if r.SubStatus != nil {
		s := *r.SubStatus
		c.SubStatus = &s
	}
	c.History = make(History, len(r.History))
	copy(c.History, r.History)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

type CreateRequestRequest struct {
	Description string `json:"description" binding:"required,max=2000"`
	Location    string `json:"location" binding:"required,max=500"`
}

type AssignWorkerRequest struct {
	WorkerID string `json:"worker_id" binding:"required"`
}

type AdvanceRequest struct {
	SubStatus SubStatus `json:"sub_status" binding:"required,substatus"`
}
