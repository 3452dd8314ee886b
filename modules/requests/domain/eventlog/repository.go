package eventlog

import (
	"context"

	"github.com/google/uuid"
)

// Repository exposes append and read only. There is deliberately no update or
// delete: the log is immutable by construction.
type Repository interface {
	Append(ctx context.Context, entry Entry) (Entry, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]Entry, error)
}
