package sqldb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/roadside-api/internal/model"
	"github.com/jwalitptl/roadside-api/internal/repository"
)

// outboxRow mirrors outbox_events; the payload column is TEXT on every driver.
type outboxRow struct {
	ID           string             `db:"id"`
	EventType    string             `db:"event_type"`
	Payload      string             `db:"payload"`
	Status       model.OutboxStatus `db:"status"`
	ErrorMessage *string            `db:"error_message"`
	RetryCount   int                `db:"retry_count"`
	RetryAt      *time.Time         `db:"retry_at"`
	CreatedAt    time.Time          `db:"created_at"`
	ProcessedAt  *time.Time         `db:"processed_at"`
}

func (row outboxRow) toModel() *model.OutboxEvent {
	return &model.OutboxEvent{
		ID:           row.ID,
		EventType:    row.EventType,
		Payload:      json.RawMessage(row.Payload),
		Status:       row.Status,
		ErrorMessage: row.ErrorMessage,
		RetryCount:   row.RetryCount,
		RetryAt:      row.RetryAt,
		CreatedAt:    row.CreatedAt,
		ProcessedAt:  row.ProcessedAt,
	}
}

type outboxRepository struct {
	*BaseRepository
}

func NewOutboxRepository(base *BaseRepository) repository.OutboxRepository {
	return &outboxRepository{BaseRepository: base}
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}

	event.ID = uuid.New().String()
	event.CreatedAt = time.Now().UTC()
	event.Status = model.OutboxStatusPending

	db := r.ext(ctx)
	query := db.Rebind(`
		INSERT INTO outbox_events (id, event_type, payload, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)

	_, err := db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		string(event.Payload),
		event.Status,
		event.RetryCount,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

// GetPendingEvents returns pending events and retries that are due, oldest first.
func (r *outboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	query, args, err := r.builder().
		Select("id, event_type, payload, status, error_message, retry_count, retry_at, created_at, processed_at").
		From("outbox_events").
		Where(sq.Or{
			sq.Eq{"status": model.OutboxStatusPending},
			sq.And{
				sq.Eq{"status": model.OutboxStatusRetry},
				sq.LtOrEq{"retry_at": time.Now().UTC()},
			},
		}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var rows []outboxRow
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}

	events := make([]*model.OutboxEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toModel())
	}
	return events, nil
}

func (r *outboxRepository) UpdateStatus(ctx context.Context, id string, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	now := time.Now().UTC()
	update := r.builder().
		Update("outbox_events").
		Set("status", status).
		Set("error_message", errorMessage).
		Set("retry_at", retryAt).
		Where(sq.Eq{"id": id})

	switch status {
	case model.OutboxStatusProcessed:
		update = update.Set("processed_at", now)
	case model.OutboxStatusRetry, model.OutboxStatusFailed:
		update = update.Set("retry_count", sq.Expr("retry_count + 1"))
	}

	query, args, err := update.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	if _, err := r.ext(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update outbox event %s: %w", id, err)
	}
	return nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	db := r.ext(ctx)
	query := db.Rebind(`DELETE FROM outbox_events WHERE status = ? AND processed_at < ?`)
	result, err := db.ExecContext(ctx, query, model.OutboxStatusProcessed, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}
	return result.RowsAffected()
}
