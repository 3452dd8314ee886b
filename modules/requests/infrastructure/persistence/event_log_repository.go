package persistence

import (
	"context"

	"github.com/google/uuid"

	"github.com/civicworks/civicdesk/modules/requests/domain/eventlog"
	"github.com/civicworks/civicdesk/pkg/composables"
)

// EventLogRepository only knows INSERT and SELECT; the audit trail is
// immutable by construction.
type EventLogRepository struct{}

func NewEventLogRepository() eventlog.Repository {
	return &EventLogRepository{}
}

func (r *EventLogRepository) Append(ctx context.Context, entry eventlog.Entry) (eventlog.Entry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return eventlog.Entry{}, err
	}

	out := entry
	err = tx.QueryRow(ctx, `
		INSERT INTO request_events (request_id, event_type, payload)
		VALUES ($1, $2, $3::jsonb)
		RETURNING id, created_at
	`,
		pgUUID(entry.RequestID),
		entry.Type,
		[]byte(entry.Payload),
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return eventlog.Entry{}, err
	}
	return out, nil
}

func (r *EventLogRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]eventlog.Entry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, request_id, event_type, payload, created_at
		FROM request_events
		WHERE request_id = $1
		ORDER BY created_at, id
	`, pgUUID(requestID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []eventlog.Entry
	for rows.Next() {
		var e eventlog.Entry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
