package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/roadside-api/internal/model"
	"github.com/jwalitptl/roadside-api/internal/repository"
	"github.com/jwalitptl/roadside-api/pkg/errors"
)

const notificationColumns = "id, recipient_id, seq, kind, title, body, related_request_id, is_read, read_at, created_at"

type notificationRepository struct {
	*BaseRepository
}

func NewNotificationRepository(base *BaseRepository) repository.NotificationRepository {
	return &notificationRepository{BaseRepository: base}
}

// Append reserves the recipient's next seq and inserts n in one transaction,
// so seq values per recipient are gap-free and never reused.
func (r *notificationRepository) Append(ctx context.Context, n *model.Notification) (string, error) {
	if n.RecipientID == "" {
		return "", errors.BadRequest("recipient is required", nil)
	}
	if n.Kind == "" {
		n.Kind = model.NotificationKindGeneric
	}
	if !n.Kind.Valid() {
		return "", errors.BadRequest(fmt.Sprintf("unknown notification kind %q", n.Kind), nil)
	}

	err := r.WithTx(ctx, func(ctx context.Context) error {
		db := r.ext(ctx)

		var seq uint64
		cursor := db.Rebind(`
			INSERT INTO notification_cursors (recipient_id, last_seq) VALUES (?, 1)
			ON CONFLICT (recipient_id) DO UPDATE SET last_seq = notification_cursors.last_seq + 1
			RETURNING last_seq`)
		if err := sqlx.GetContext(ctx, db, &seq, cursor, n.RecipientID); err != nil {
			return fmt.Errorf("failed to reserve seq: %w", err)
		}

		n.ID = uuid.New().String()
		n.Seq = seq
		n.Read = false
		n.ReadAt = nil
		n.CreatedAt = time.Now().UTC()

		query := db.Rebind(`
			INSERT INTO notifications (` + notificationColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if _, err := db.ExecContext(ctx, query,
			n.ID, n.RecipientID, n.Seq, n.Kind, n.Title, n.Body,
			n.RelatedRequestID, n.Read, n.ReadAt, n.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.CodeOf(err) == errors.ErrBadRequest {
			return "", err
		}
		return "", errors.Persistence("append notification", err)
	}
	return n.ID, nil
}

func (r *notificationRepository) Get(ctx context.Context, id string) (*model.Notification, error) {
	var n model.Notification
	db := r.ext(ctx)
	query := db.Rebind(`SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?`)
	if err := sqlx.GetContext(ctx, db, &n, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("notification", err)
		}
		return nil, errors.Persistence("get notification", err)
	}
	return &n, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, id string) (bool, error) {
	db := r.ext(ctx)

	query := db.Rebind(`UPDATE notifications SET is_read = ?, read_at = ? WHERE id = ? AND is_read = ?`)
	result, err := db.ExecContext(ctx, query, true, time.Now().UTC(), id, false)
	if err != nil {
		return false, errors.Persistence("mark notification read", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Persistence("mark notification read", err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists int
	err = sqlx.GetContext(ctx, db, &exists, db.Rebind(`SELECT 1 FROM notifications WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return false, errors.NotFound("notification", nil)
	}
	if err != nil {
		return false, errors.Persistence("look up notification", err)
	}
	return false, nil
}

func (r *notificationRepository) ListFor(ctx context.Context, userID string, sinceSeq uint64, limit int) ([]*model.Notification, error) {
	q := r.builder().
		Select(notificationColumns).
		From("notifications").
		Where(sq.Eq{"recipient_id": userID}).
		Where(sq.Gt{"seq": sinceSeq}).
		OrderBy("seq ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	notifications := []*model.Notification{}
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &notifications, query, args...); err != nil {
		return nil, errors.Persistence("list notifications", err)
	}
	return notifications, nil
}

func (r *notificationRepository) UnreadCount(ctx context.Context, userID string) (int64, error) {
	query, args, err := r.builder().
		Select("COUNT(*)").
		From("notifications").
		Where(sq.Eq{"recipient_id": userID, "is_read": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	var count int64
	if err := sqlx.GetContext(ctx, r.ext(ctx), &count, query, args...); err != nil {
		return 0, errors.Persistence("count unread notifications", err)
	}
	return count, nil
}
