package eventlog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TypeStatusChange = "STATUS_CHANGE"
	TypeAssignment   = "ASSIGNMENT"
	TypeCommentAdded = "COMMENT_ADDED"
)

// Entry is a single append-only audit record. Entries are written in the same
// transaction as the mutation they document and are never updated or deleted;
// for any request, the entries ordered by creation time reconstruct every
// status transition it underwent.
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	RequestID uuid.UUID       `json:"request_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// StatusChangePayload captures a status transition: the action verb, both
// statuses, an optional operator-supplied reason, and the acting identity.
type StatusChangePayload struct {
	Action     string    `json:"action"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Reason     string    `json:"reason,omitempty"`
	ActorID    uuid.UUID `json:"actor_id"`
}

type AssignmentPayload struct {
	FromAssignee *uuid.UUID `json:"from_assignee,omitempty"`
	ToAssignee   *uuid.UUID `json:"to_assignee,omitempty"`
	ActorID      uuid.UUID  `json:"actor_id"`
}

type CommentPayload struct {
	Body    string    `json:"body"`
	ActorID uuid.UUID `json:"actor_id"`
}

func NewEntry(requestID uuid.UUID, entryType string, payload any) (Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		RequestID: requestID,
		Type:      entryType,
		Payload:   raw,
	}, nil
}
