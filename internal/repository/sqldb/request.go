package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/roadside-api/internal/model"
	"github.com/jwalitptl/roadside-api/internal/repository"
	"github.com/jwalitptl/roadside-api/pkg/errors"
)

const requestColumns = "id, customer_id, worker_id, claimed_by, state, sub_status, description, location, history, version, created_at, updated_at"

type requestRepository struct {
	*BaseRepository
}

func NewRequestRepository(base *BaseRepository) repository.RequestRepository {
	return &requestRepository{BaseRepository: base}
}

func (r *requestRepository) Create(ctx context.Context, req *model.ServiceRequest) error {
	db := r.ext(ctx)
	query := db.Rebind(`
		INSERT INTO service_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := db.ExecContext(ctx, query,
		req.ID, req.CustomerID, req.WorkerID, req.ClaimedBy, req.State, req.SubStatus,
		req.Description, req.Location, req.History, req.Version, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return errors.Persistence("create service request", err)
	}
	return nil
}

func (r *requestRepository) Get(ctx context.Context, id string) (*model.ServiceRequest, error) {
	var req model.ServiceRequest
	db := r.ext(ctx)
	query := db.Rebind(`SELECT ` + requestColumns + ` FROM service_requests WHERE id = ?`)
	if err := sqlx.GetContext(ctx, db, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("service request", err)
		}
		return nil, errors.Persistence("get service request", err)
	}
	return &req, nil
}

func (r *requestRepository) Update(ctx context.Context, req *model.ServiceRequest, expectedVersion int) error {
	db := r.ext(ctx)
	query := db.Rebind(`
		UPDATE service_requests
		SET worker_id = ?, claimed_by = ?, state = ?, sub_status = ?, history = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`)

	result, err := db.ExecContext(ctx, query,
		req.WorkerID, req.ClaimedBy, req.State, req.SubStatus, req.History, req.Version, req.UpdatedAt,
		req.ID, expectedVersion,
	)
	if err != nil {
		return errors.Persistence("update service request", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Persistence("update service request", err)
	}
	if affected == 0 {
		return errors.Persistence("update service request",
			fmt.Errorf("request %s changed concurrently (expected version %d)", req.ID, expectedVersion))
	}
	return nil
}
