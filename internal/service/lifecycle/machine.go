package lifecycle

import (
	"time"

	"github.com/jwalitptl/roadside-api/internal/model"
	"github.com/jwalitptl/roadside-api/pkg/errors"
)

type Action string

const (
	ActionCreate   Action = "create"
	ActionClaim    Action = "claim"
	ActionAssign   Action = "assign"
	ActionAdvance  Action = "advance"
	ActionComplete Action = "complete"
	ActionClose    Action = "close"
)

// Transition is a request to move a service request forward.
type Transition struct {
	Action Action
	Actor  model.Identity
	// WorkerID is the worker chosen by ActionAssign.
	WorkerID string
	// SubStatus is the target of ActionAdvance.
	SubStatus model.SubStatus
}

// NewRequest builds a pending request with its first history entry.
func NewRequest(id string, actor model.Identity, description, location string, now time.Time) (*model.ServiceRequest, error) {
	if actor.Role != model.RoleCustomer {
		return nil, errors.PreconditionViolation("only customers can create requests")
	}
	return &model.ServiceRequest{
		ID:          id,
		CustomerID:  actor.UserID,
		State:       model.RequestStatePending,
		Description: description,
		Location:    location,
		History: model.History{{
			State:     model.RequestStatePending,
			ActorID:   actor.UserID,
			ActorRole: actor.Role,
			At:        now,
		}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Apply validates t against req and returns the resulting request. req is
// never modified; on error the caller's value is exactly as it was.
func Apply(req *model.ServiceRequest, t Transition, now time.Time) (*model.ServiceRequest, error) {
	next := req.Clone()

	var err error
	switch t.Action {
	case ActionClaim:
		err = claim(next, t)
	case ActionAssign:
		err = assign(next, t)
	case ActionAdvance:
		err = advance(next, t)
	case ActionComplete:
		err = complete(next, t)
	case ActionClose:
		err = closeRequest(next, t)
	default:
		err = errors.BadRequest("unknown transition "+string(t.Action), nil)
	}
	if err != nil {
		return nil, err
	}

	var sub *model.SubStatus
	if next.SubStatus != nil {
		s := *next.SubStatus
		sub = &s
	}
	next.History = append(next.History, model.HistoryEntry{
		State:     next.State,
		SubStatus: sub,
		ActorID:   t.Actor.UserID,
		ActorRole: t.Actor.Role,
		At:        now,
	})
	next.Version++
	next.UpdatedAt = now
	return next, nil
}

func claim(r *model.ServiceRequest, t Transition) error {
	if t.Actor.Role != model.RoleAdmin {
		return errors.PreconditionViolation("only admins can claim requests")
	}
	if r.WorkerID != nil {
		return errors.PreconditionViolation("request already assigned")
	}
	if r.State != model.RequestStatePending {
		return errors.PreconditionViolation("request is %s, only pending requests can be claimed", r.State)
	}

	admin := t.Actor.UserID
	r.ClaimedBy = &admin
	r.State = model.RequestStateAdminReviewing
	return nil
}

func assign(r *model.ServiceRequest, t Transition) error {
	if t.Actor.Role != model.RoleAdmin {
		return errors.PreconditionViolation("only admins can assign workers")
	}
	if r.WorkerID != nil {
		return errors.PreconditionViolation("request already assigned")
	}
	if r.State != model.RequestStateAdminReviewing {
		return errors.PreconditionViolation("request is %s, it must be under admin review before assignment", r.State)
	}
	if t.WorkerID == "" {
		return errors.PreconditionViolation("a worker must be chosen")
	}

	worker := t.WorkerID
	sub := model.SubStatusAssigned
	r.WorkerID = &worker
	r.SubStatus = &sub
	r.State = model.RequestStateWorkerAssigned
	return nil
}

func requireAssignedWorker(r *model.ServiceRequest, actor model.Identity) error {
	if actor.Role != model.RoleWorker || r.WorkerID == nil || *r.WorkerID != actor.UserID {
		return errors.PreconditionViolation("only the assigned worker may update this request")
	}
	return nil
}

func advance(r *model.ServiceRequest, t Transition) error {
	if err := requireAssignedWorker(r, t.Actor); err != nil {
		return err
	}
	if !t.SubStatus.Valid() {
		return errors.PreconditionViolation("unknown sub-status %q", t.SubStatus)
	}
	if r.State != model.RequestStateWorkerAssigned && r.State != model.RequestStateInProgress {
		return errors.PreconditionViolation("request is %s, work is not active", r.State)
	}
	if r.SubStatus == nil {
		return errors.PreconditionViolation("request has no sub-status")
	}

	want, ok := r.SubStatus.Next()
	if !ok || t.SubStatus != want {
		return errors.PreconditionViolation("cannot move from %s to %s", *r.SubStatus, t.SubStatus)
	}

	switch want {
	case model.SubStatusInProgress:
		r.State = model.RequestStateInProgress
	case model.SubStatusCompleted:
		r.State = model.RequestStateCompleted
	}
	r.SubStatus = &want
	return nil
}

func complete(r *model.ServiceRequest, t Transition) error {
	if err := requireAssignedWorker(r, t.Actor); err != nil {
		return err
	}
	if r.State != model.RequestStateInProgress {
		return errors.PreconditionViolation("request is %s, only in-progress requests can be completed", r.State)
	}
	t.SubStatus = model.SubStatusCompleted
	return advance(r, t)
}

func closeRequest(r *model.ServiceRequest, t Transition) error {
	if t.Actor.Role != model.RoleCustomer || t.Actor.UserID != r.CustomerID {
		return errors.PreconditionViolation("only the customer who raised the request can close it")
	}
	if r.State != model.RequestStateCompleted {
		return errors.PreconditionViolation("request is %s, only completed requests can be closed", r.State)
	}
	r.State = model.RequestStateDone
	return nil
}

// CanView reports whether actor may read req.
func CanView(req *model.ServiceRequest, actor model.Identity) bool {
	switch actor.Role {
	case model.RoleAdmin:
		return true
	case model.RoleCustomer:
		return req.CustomerID == actor.UserID
	case model.RoleWorker:
		return req.WorkerID != nil && *req.WorkerID == actor.UserID
	}
	return false
}
