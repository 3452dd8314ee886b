package servicerequest

import "github.com/google/uuid"

// Domain events published on the in-process bus after a successful commit.
// Consumers (dashboards, notifiers) subscribe by handler signature.

type CreatedEvent struct {
	Request *ServiceRequest
	ActorID uuid.UUID
}

type StatusChangedEvent struct {
	Request *ServiceRequest
	Action  Action
	From    Status
	To      Status
	ActorID uuid.UUID
}

type CommentAddedEvent struct {
	RequestID uuid.UUID
	ActorID   uuid.UUID
	Body      string
}
