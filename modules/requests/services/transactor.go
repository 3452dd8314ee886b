package services

import (
	"context"

	"github.com/civicworks/civicdesk/pkg/composables"
)

// Transactor is the unit-of-work seam: the entity mutation and its audit
// entry run inside one InTx call so the atomicity guarantee is explicit
// rather than incidental.
type Transactor interface {
	InTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

type pgxTransactor struct{}

// NewPgxTransactor returns a Transactor that opens a transaction on the pool
// carried in the context and exposes it to repositories via the same context.
func NewPgxTransactor() Transactor {
	return pgxTransactor{}
}

func (pgxTransactor) InTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return composables.InTx(ctx, fn)
}

func inTx[T any](ctx context.Context, t Transactor, fn func(txCtx context.Context) (T, error)) (T, error) {
	var out T
	err := t.InTx(ctx, func(txCtx context.Context) error {
		var innerErr error
		out, innerErr = fn(txCtx)
		return innerErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
