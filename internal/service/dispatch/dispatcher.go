package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jwalitptl/roadside-api/internal/model"
	"github.com/jwalitptl/roadside-api/internal/realtime"
	"github.com/jwalitptl/roadside-api/internal/repository"
	"github.com/jwalitptl/roadside-api/pkg/logger"
	"github.com/jwalitptl/roadside-api/pkg/metrics"
)

// Rooms is the read side of the connection registry.
type Rooms interface {
	ConnectionsFor(userID string) []realtime.Conn
}

// Message is one notification addressed to one recipient.
type Message struct {
	RecipientID string
	Kind        model.NotificationKind
	Payload     model.Payload
}

type Config struct {
	// PushTimeout bounds a single push to a single connection.
	PushTimeout time.Duration
}

// Dispatcher persists notifications and then pushes them to live connections.
type Dispatcher struct {
	tx      repository.TxRunner
	store   repository.NotificationRepository
	rooms   Rooms
	cfg     Config
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(
	tx repository.TxRunner,
	store repository.NotificationRepository,
	rooms Rooms,
	cfg Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Dispatcher {
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 2 * time.Second
	}
	return &Dispatcher{
		tx:      tx,
		store:   store,
		rooms:   rooms,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Notify records kind/payload for every recipient in one transaction, then
// delivers. Either every recipient gets the notification or none does.
func (d *Dispatcher) Notify(ctx context.Context, recipientIDs []string, kind model.NotificationKind, payload model.Payload) ([]*model.Notification, error) {
	msgs := make([]Message, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		msgs = append(msgs, Message{RecipientID: id, Kind: kind, Payload: payload})
	}

	var notifications []*model.Notification
	err := d.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		notifications, err = d.Record(ctx, msgs)
		return err
	})
	if err != nil {
		return nil, err
	}
	d.Deliver(ctx, notifications)
	return notifications, nil
}

// Record appends msgs to the store. When ctx carries a transaction the
// appends join it, so they commit or roll back with the caller's writes.
func (d *Dispatcher) Record(ctx context.Context, msgs []Message) ([]*model.Notification, error) {
	notifications := make([]*model.Notification, 0, len(msgs))
	for _, msg := range msgs {
		n := &model.Notification{
			RecipientID: msg.RecipientID,
			Kind:        msg.Kind,
			Title:       msg.Payload.Title,
			Body:        msg.Payload.Body,
		}
		if msg.Payload.RelatedRequestID != "" {
			related := msg.Payload.RelatedRequestID
			n.RelatedRequestID = &related
		}

		if _, err := d.store.Append(ctx, n); err != nil {
			return nil, fmt.Errorf("failed to record notification for %s: %w", msg.RecipientID, err)
		}
		if d.metrics != nil {
			d.metrics.NotificationsAppended.WithLabelValues(string(n.Kind)).Inc()
		}
		notifications = append(notifications, n)
	}
	return notifications, nil
}

// Deliver pushes each notification to every live connection of its recipient.
// A recipient with no connections, or a push that times out, is a delivery
// miss: the notification stays available through the backlog.
func (d *Dispatcher) Deliver(ctx context.Context, notifications []*model.Notification) {
	// Pushes outlive a cancelled HTTP request; each is bounded by PushTimeout.
	ctx = context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for _, n := range notifications {
		conns := d.rooms.ConnectionsFor(n.RecipientID)
		if len(conns) == 0 {
			d.miss("offline")
			d.logger.Debug("recipient offline, notification kept for catch-up",
				"user_id", n.RecipientID, "notification_id", n.ID)
			continue
		}

		env := realtime.NewEnvelope(realtime.EventNewNotification, n)
		for _, conn := range conns {
			wg.Add(1)
			go func(conn realtime.Conn, n *model.Notification) {
				defer wg.Done()
				d.push(ctx, conn, n, env)
			}(conn, n)
		}
	}
	wg.Wait()
}

func (d *Dispatcher) push(ctx context.Context, conn realtime.Conn, n *model.Notification, env realtime.Envelope) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.PushTimeout)
	defer cancel()

	err := conn.Send(ctx, env)
	switch {
	case err == nil:
		d.pushed(metrics.PushDelivered)
	case err == realtime.ErrConnClosed:
		d.pushed(metrics.PushClosed)
		d.logger.Debug("connection closed during push",
			"user_id", n.RecipientID, "connection_id", conn.ID(), "notification_id", n.ID)
	default:
		d.pushed(metrics.PushTimeout)
		d.miss("timeout")
		d.logger.Warn("push timed out",
			"user_id", n.RecipientID, "connection_id", conn.ID(), "notification_id", n.ID, "error", err.Error())
	}
}

func (d *Dispatcher) pushed(result string) {
	if d.metrics != nil {
		d.metrics.Pushes.WithLabelValues(result).Inc()
	}
}

func (d *Dispatcher) miss(reason string) {
	if d.metrics != nil {
		d.metrics.DeliveryMisses.WithLabelValues(reason).Inc()
	}
}
