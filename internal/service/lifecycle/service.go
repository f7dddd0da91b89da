package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/roadside-api/internal/model"
	"github.com/jwalitptl/roadside-api/internal/repository"
	"github.com/jwalitptl/roadside-api/internal/service/dispatch"
	"github.com/jwalitptl/roadside-api/pkg/errors"
	"github.com/jwalitptl/roadside-api/pkg/keylock"
	"github.com/jwalitptl/roadside-api/pkg/logger"
	"github.com/jwalitptl/roadside-api/pkg/metrics"
)

// Availability is the external check that a worker can take a job.
type Availability interface {
	CheckAvailable(ctx context.Context, workerID string) error
}

// Planner decides the fan-out of a committed request state.
type Planner interface {
	Messages(ctx context.Context, req *model.ServiceRequest) ([]dispatch.Message, error)
}

// Notifier is the part of the dispatcher the lifecycle needs: record inside
// the transition's transaction, deliver after commit.
type Notifier interface {
	Record(ctx context.Context, msgs []dispatch.Message) ([]*model.Notification, error)
	Deliver(ctx context.Context, notifications []*model.Notification)
}

type Service struct {
	tx           repository.TxRunner
	requests     repository.RequestRepository
	outbox       repository.OutboxRepository
	planner      Planner
	notifier     Notifier
	availability Availability
	locks        *keylock.KeyLock
	logger       *logger.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewService(
	tx repository.TxRunner,
	requests repository.RequestRepository,
	outbox repository.OutboxRepository,
	planner Planner,
	notifier Notifier,
	availability Availability,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Service {
	return &Service{
		tx:           tx,
		requests:     requests,
		outbox:       outbox,
		planner:      planner,
		notifier:     notifier,
		availability: availability,
		locks:        keylock.New(),
		logger:       logger,
		metrics:      metrics,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Create(ctx context.Context, actor model.Identity, in model.CreateRequestRequest) (*model.ServiceRequest, error) {
	req, err := NewRequest(uuid.New().String(), actor, in.Description, in.Location, s.now())
	if err != nil {
		s.observe(ActionCreate, err)
		return nil, err
	}

	var notifications []*model.Notification
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.requests.Create(ctx, req); err != nil {
			return err
		}
		var err error
		notifications, err = s.commitSideEffects(ctx, ActionCreate, req, actor)
		return err
	})
	s.observe(ActionCreate, err)
	if err != nil {
		return nil, err
	}

	s.notifier.Deliver(ctx, notifications)
	return req, nil
}

func (s *Service) Get(ctx context.Context, actor model.Identity, id string) (*model.ServiceRequest, error) {
	req, err := s.requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(req, actor) {
		// Hide existence from users who have no relation to the request.
		return nil, errors.NotFound("service request", nil)
	}
	return req, nil
}

func (s *Service) Claim(ctx context.Context, actor model.Identity, id string) (*model.ServiceRequest, error) {
	return s.Transition(ctx, id, Transition{Action: ActionClaim, Actor: actor})
}

func (s *Service) Assign(ctx context.Context, actor model.Identity, id, workerID string) (*model.ServiceRequest, error) {
	return s.Transition(ctx, id, Transition{Action: ActionAssign, Actor: actor, WorkerID: workerID})
}

func (s *Service) Advance(ctx context.Context, actor model.Identity, id string, sub model.SubStatus) (*model.ServiceRequest, error) {
	return s.Transition(ctx, id, Transition{Action: ActionAdvance, Actor: actor, SubStatus: sub})
}

func (s *Service) Complete(ctx context.Context, actor model.Identity, id string) (*model.ServiceRequest, error) {
	return s.Transition(ctx, id, Transition{Action: ActionComplete, Actor: actor})
}

func (s *Service) Close(ctx context.Context, actor model.Identity, id string) (*model.ServiceRequest, error) {
	return s.Transition(ctx, id, Transition{Action: ActionClose, Actor: actor})
}

// Transition applies t to request id. Calls for the same request are
// serialized; history is committed together with the notification rows,
// and pushes start only after that commit.
func (s *Service) Transition(ctx context.Context, id string, t Transition) (*model.ServiceRequest, error) {
	if t.Action == ActionAssign && t.WorkerID != "" {
		if err := s.availability.CheckAvailable(ctx, t.WorkerID); err != nil {
			s.observe(t.Action, err)
			return nil, err
		}
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	var (
		updated       *model.ServiceRequest
		notifications []*model.Notification
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.requests.Get(ctx, id)
		if err != nil {
			return err
		}

		next, err := Apply(current, t, s.now())
		if err != nil {
			return err
		}

		if err := s.requests.Update(ctx, next, current.Version); err != nil {
			return err
		}

		notifications, err = s.commitSideEffects(ctx, t.Action, next, t.Actor)
		if err != nil {
			return err
		}
		updated = next
		return nil
	})
	s.observe(t.Action, err)
	if err != nil {
		if errors.IsPreconditionViolation(err) {
			s.logger.Info("transition rejected",
				"request_id", id, "transition", string(t.Action), "actor_id", t.Actor.UserID, "reason", err.Error())
		}
		return nil, err
	}

	s.notifier.Deliver(ctx, notifications)
	return updated, nil
}

// commitSideEffects writes the outbox event and notification rows for req
// within the caller's transaction.
func (s *Service) commitSideEffects(ctx context.Context, action Action, req *model.ServiceRequest, actor model.Identity) ([]*model.Notification, error) {
	payload, err := json.Marshal(model.TransitionEvent{
		RequestID:  req.ID,
		Transition: string(action),
		State:      req.State,
		SubStatus:  req.SubStatus,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		At:         req.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transition event: %w", err)
	}
	if err := s.outbox.Create(ctx, &model.OutboxEvent{
		EventType: "request." + string(action),
		Payload:   payload,
	}); err != nil {
		return nil, errors.Persistence("record transition event", err)
	}

	msgs, err := s.planner.Messages(ctx, req)
	if err != nil {
		return nil, errors.Persistence("plan notifications", err)
	}
	return s.notifier.Record(ctx, msgs)
}

func (s *Service) observe(action Action, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.IsPreconditionViolation(err):
		result = "rejected"
	default:
		result = "error"
	}
	s.metrics.Transitions.WithLabelValues(string(action), result).Inc()
}
