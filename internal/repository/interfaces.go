package repository

import (
	"context"
	"time"

	"github.com/jwalitptl/roadside-api/internal/model"
)

// All repository interfaces in one file
type (
	// TxRunner runs fn inside a database transaction carried by ctx.
	// Repository calls made with that ctx join the transaction; nested calls reuse it.
	TxRunner interface {
		WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	}

	// NotificationRepository is the Notification Store.
	NotificationRepository interface {
		// Append assigns ID, Seq and CreatedAt and persists n.
		Append(ctx context.Context, n *model.Notification) (string, error)
		Get(ctx context.Context, id string) (*model.Notification, error)
		// MarkRead returns changed=false when the notification was already read.
		MarkRead(ctx context.Context, id string) (changed bool, err error)
		// ListFor returns notifications with seq > sinceSeq, oldest first.
		ListFor(ctx context.Context, userID string, sinceSeq uint64, limit int) ([]*model.Notification, error)
		UnreadCount(ctx context.Context, userID string) (int64, error)
	}

	RequestRepository interface {
		Create(ctx context.Context, req *model.ServiceRequest) error
		Get(ctx context.Context, id string) (*model.ServiceRequest, error)
		// Update writes req only if the stored version still equals expectedVersion.
		Update(ctx context.Context, req *model.ServiceRequest, expectedVersion int) error
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id string, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// UserDirectory is a read-only view of the externally owned user table.
	UserDirectory interface {
		ListIDsByRole(ctx context.Context, role model.Role) ([]string, error)
	}
)
