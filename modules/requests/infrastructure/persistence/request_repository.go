package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/civicworks/civicdesk/modules/requests/domain/servicerequest"
	"github.com/civicworks/civicdesk/pkg/composables"
)

type RequestRepository struct{}

func NewRequestRepository() servicerequest.Repository {
	return &RequestRepository{}
}

const requestColumns = `
	id, code, title, description, category, priority, location_text,
	status, assigned_to, created_by, closed_at, version, created_at, updated_at`

func scanRequest(row pgx.Row) (*servicerequest.ServiceRequest, error) {
	var (
		req        servicerequest.ServiceRequest
		status     string
		assignedTo pgtype.UUID
		closedAt   pgtype.Timestamptz
	)
	err := row.Scan(
		&req.ID,
		&req.Code,
		&req.Title,
		&req.Description,
		&req.Category,
		&req.Priority,
		&req.LocationText,
		&status,
		&assignedTo,
		&req.CreatedBy,
		&closedAt,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Status = servicerequest.Status(status)
	req.AssignedTo = asUUIDPtr(assignedTo)
	req.ClosedAt = asTimePtr(closedAt)
	return &req, nil
}

func (r *RequestRepository) Create(ctx context.Context, req *servicerequest.ServiceRequest) (*servicerequest.ServiceRequest, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO service_requests (
			id, code, title, description, category, priority, location_text,
			status, assigned_to, created_by, closed_at, version, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING`+requestColumns,
		pgUUID(req.ID),
		req.Code,
		req.Title,
		req.Description,
		req.Category,
		req.Priority,
		req.LocationText,
		string(req.Status),
		pgUUIDPtr(req.AssignedTo),
		pgUUID(req.CreatedBy),
		pgTimePtr(req.ClosedAt),
		req.Version,
		req.CreatedAt.UTC(),
		req.UpdatedAt.UTC(),
	)
	return scanRequest(row)
}

func (r *RequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*servicerequest.ServiceRequest, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	req, err := scanRequest(tx.QueryRow(ctx, `
		SELECT`+requestColumns+`
		FROM service_requests
		WHERE id = $1
	`, pgUUID(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, servicerequest.ErrNotFound
	}
	return req, err
}

func (r *RequestRepository) GetByCode(ctx context.Context, code string) (*servicerequest.ServiceRequest, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	req, err := scanRequest(tx.QueryRow(ctx, `
		SELECT`+requestColumns+`
		FROM service_requests
		WHERE code = $1
	`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, servicerequest.ErrNotFound
	}
	return req, err
}

func (r *RequestRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}

	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM service_requests WHERE code = $1)
	`, code).Scan(&exists)
	return exists, err
}

func (r *RequestRepository) List(ctx context.Context, params servicerequest.FindParams) ([]*servicerequest.ServiceRequest, int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, 0, err
	}

	var status *string
	if params.Status != nil {
		s := string(*params.Status)
		status = &s
	}

	var total int64
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM service_requests
		WHERE ($1::text IS NULL OR status = $1)
	`, status).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := tx.Query(ctx, `
		SELECT`+requestColumns+`
		FROM service_requests
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, status, params.Limit, params.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]*servicerequest.ServiceRequest, 0, params.Limit)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, req)
	}
	return out, total, rows.Err()
}

// UpdateFields performs the optimistic write: the version comparison and the
// update are one conditional statement, so concurrent writers racing on the
// same row are arbitrated by the store itself.
func (r *RequestRepository) UpdateFields(ctx context.Context, id uuid.UUID, expectedVersion int64, patch servicerequest.FieldPatch, now time.Time) (*servicerequest.ServiceRequest, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	req, err := scanRequest(tx.QueryRow(ctx, `
		UPDATE service_requests SET
			title         = COALESCE($3, title),
			description   = COALESCE($4, description),
			category      = COALESCE($5, category),
			priority      = COALESCE($6, priority),
			location_text = COALESCE($7, location_text),
			version       = version + 1,
			updated_at    = $8
		WHERE id = $1 AND version = $2
		RETURNING`+requestColumns,
		pgUUID(id),
		expectedVersion,
		patch.Title,
		patch.Description,
		patch.Category,
		patch.Priority,
		patch.LocationText,
		now.UTC(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.staleWriteError(ctx, id, expectedVersion)
	}
	return req, err
}

func (r *RequestRepository) UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, patch servicerequest.StatusPatch, now time.Time) (*servicerequest.ServiceRequest, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	req, err := scanRequest(tx.QueryRow(ctx, `
		UPDATE service_requests SET
			status      = $3,
			assigned_to = $4,
			closed_at   = $5,
			version     = version + 1,
			updated_at  = $6
		WHERE id = $1 AND version = $2
		RETURNING`+requestColumns,
		pgUUID(id),
		expectedVersion,
		string(patch.Status),
		pgUUIDPtr(patch.AssignedTo),
		pgTimePtr(patch.ClosedAt),
		now.UTC(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.staleWriteError(ctx, id, expectedVersion)
	}
	return req, err
}

// staleWriteError distinguishes a missing row from a stale version after a
// conditional update affected nothing.
func (r *RequestRepository) staleWriteError(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	var current int64
	err = tx.QueryRow(ctx, `
		SELECT version FROM service_requests WHERE id = $1
	`, pgUUID(id)).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return servicerequest.ErrNotFound
	}
	if err != nil {
		return err
	}
	return &servicerequest.VersionConflictError{Current: current, Expected: expectedVersion}
}
