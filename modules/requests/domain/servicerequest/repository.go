package servicerequest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("service request not found")

// VersionConflictError is returned when a conditional write finds the stored
// version differs from the one the caller asserted. Both values are reported
// so the caller can re-read and reconcile.
type VersionConflictError struct {
	Current  int64
	Expected int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: stored version is %d, caller expected %d", e.Current, e.Expected)
}

// FieldPatch carries the mutable content fields of an edit. Nil pointers leave
// the stored value untouched.
type FieldPatch struct {
	Title        *string
	Description  *string
	Category     *string
	Priority     *string
	LocationText *string
}

func (p FieldPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Category == nil &&
		p.Priority == nil && p.LocationText == nil
}

// StatusPatch carries the full post-transition workflow state. The service
// computes it from the current row inside the same transaction, so the patch
// is absolute rather than differential.
type StatusPatch struct {
	Status     Status
	AssignedTo *uuid.UUID
	ClosedAt   *time.Time
}

type FindParams struct {
	Status *Status
	Limit  int
	Offset int
}

// Repository is the durable-store port. Both update methods are conditional
// on the expected version: the comparison and the write happen in one
// statement, the first matching writer wins, and a stale writer gets
// VersionConflictError with nothing written.
type Repository interface {
	Create(ctx context.Context, req *ServiceRequest) (*ServiceRequest, error)
	GetByID(ctx context.Context, id uuid.UUID) (*ServiceRequest, error)
	GetByCode(ctx context.Context, code string) (*ServiceRequest, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	List(ctx context.Context, params FindParams) ([]*ServiceRequest, int64, error)
	UpdateFields(ctx context.Context, id uuid.UUID, expectedVersion int64, patch FieldPatch, now time.Time) (*ServiceRequest, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, patch StatusPatch, now time.Time) (*ServiceRequest, error)
}
