package servicerequest

import (
	"time"

	"github.com/google/uuid"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// ServiceRequest is the workflow subject: a citizen-submitted issue tracked
// from submission to resolution. CreatedBy never changes after creation;
// AssignedTo may change any number of times. Version increments by exactly one
// on every accepted mutation and arbitrates concurrent writers.
type ServiceRequest struct {
	ID           uuid.UUID  `json:"id"`
	Code         string     `json:"code"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Category     string     `json:"category"`
	Priority     string     `json:"priority"`
	LocationText string     `json:"location_text"`
	Status       Status     `json:"status"`
	AssignedTo   *uuid.UUID `json:"assigned_to,omitempty"`
	CreatedBy    uuid.UUID  `json:"created_by"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	Version      int64      `json:"version"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
