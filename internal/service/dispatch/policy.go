package dispatch

import (
	"context"
	"fmt"

	"github.com/jwalitptl/roadside-api/internal/model"
	"github.com/jwalitptl/roadside-api/internal/repository"
)

// Policy decides who hears about a committed transition.
type Policy struct {
	directory repository.UserDirectory
}

func NewPolicy(directory repository.UserDirectory) *Policy {
	return &Policy{directory: directory}
}

// Messages returns the fan-out for req after it reached its current state.
// Admins are resolved from the directory as a broadcast group.
func (p *Policy) Messages(ctx context.Context, req *model.ServiceRequest) ([]Message, error) {
	switch req.State {
	case model.RequestStatePending:
		return p.toAdmins(ctx, model.Payload{
			Title:            "New service request",
			Body:             fmt.Sprintf("A customer requested help at %s.", req.Location),
			RelatedRequestID: req.ID,
		})

	case model.RequestStateAdminReviewing:
		return p.toAdmins(ctx, model.Payload{
			Title:            "Request under review",
			Body:             fmt.Sprintf("Request %s was claimed for review.", req.ID),
			RelatedRequestID: req.ID,
		})

	case model.RequestStateWorkerAssigned:
		if req.WorkerID == nil {
			return nil, fmt.Errorf("request %s is assigned without a worker", req.ID)
		}
		if sub := req.SubStatus; sub != nil && *sub != model.SubStatusAssigned {
			return p.toCustomer(req, statusUpdate(req)), nil
		}
		return []Message{
			{
				RecipientID: *req.WorkerID,
				Kind:        model.NotificationKindTaskAssigned,
				Payload: model.Payload{
					Title:            "New task assigned",
					Body:             fmt.Sprintf("You have been assigned to a request at %s.", req.Location),
					RelatedRequestID: req.ID,
				},
			},
			{
				RecipientID: req.CustomerID,
				Kind:        model.NotificationKindStatusChanged,
				Payload: model.Payload{
					Title:            "Worker assigned",
					Body:             "A worker has been assigned to your request.",
					RelatedRequestID: req.ID,
				},
			},
		}, nil

	case model.RequestStateInProgress, model.RequestStateCompleted:
		return p.toCustomer(req, statusUpdate(req)), nil

	case model.RequestStateDone:
		if req.WorkerID == nil {
			return nil, nil
		}
		return []Message{{
			RecipientID: *req.WorkerID,
			Kind:        model.NotificationKindStatusChanged,
			Payload: model.Payload{
				Title:            "Request closed",
				Body:             "The customer closed the request.",
				RelatedRequestID: req.ID,
			},
		}}, nil
	}
	return nil, nil
}

func (p *Policy) toAdmins(ctx context.Context, payload model.Payload) ([]Message, error) {
	admins, err := p.directory.ListIDsByRole(ctx, model.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve admins: %w", err)
	}
	msgs := make([]Message, 0, len(admins))
	for _, id := range admins {
		msgs = append(msgs, Message{
			RecipientID: id,
			Kind:        model.NotificationKindAdminReviewNeeded,
			Payload:     payload,
		})
	}
	return msgs, nil
}

func (p *Policy) toCustomer(req *model.ServiceRequest, payload model.Payload) []Message {
	return []Message{{
		RecipientID: req.CustomerID,
		Kind:        model.NotificationKindStatusChanged,
		Payload:     payload,
	}}
}

var subStatusText = map[model.SubStatus]string{
	model.SubStatusStartService: "The worker is on the way.",
	model.SubStatusReached:      "The worker has reached your location.",
	model.SubStatusInProgress:   "Work on your request has started.",
	model.SubStatusCompleted:    "Work on your request is complete.",
}

func statusUpdate(req *model.ServiceRequest) model.Payload {
	body := fmt.Sprintf("Your request is now %s.", req.State)
	if req.SubStatus != nil {
		if text, ok := subStatusText[*req.SubStatus]; ok {
			body = text
		}
	}
	return model.Payload{
		Title:            "Request status updated",
		Body:             body,
		RelatedRequestID: req.ID,
	}
}
