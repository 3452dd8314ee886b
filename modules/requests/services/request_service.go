package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/civicworks/civicdesk/modules/requests/domain/eventlog"
	"github.com/civicworks/civicdesk/modules/requests/domain/servicerequest"
	"github.com/civicworks/civicdesk/modules/requests/infrastructure/idempotency"
	"github.com/civicworks/civicdesk/pkg/eventbus"
)

var validate = validator.New()

// RequestService orchestrates the request lifecycle: creation with idempotent
// retry, optimistic-locked field edits, and state-machine-checked status
// actions. Every write path runs the entity mutation and its audit entry in
// one transaction; either both persist or neither does.
type RequestService struct {
	tx              Transactor
	repo            servicerequest.Repository
	events          eventlog.Repository
	idem            idempotency.Store
	bus             eventbus.EventBus
	clock           clockwork.Clock
	codeMaxAttempts int
}

func NewRequestService(
	tx Transactor,
	repo servicerequest.Repository,
	events eventlog.Repository,
	idem idempotency.Store,
	bus eventbus.EventBus,
	clock clockwork.Clock,
	codeMaxAttempts int,
) *RequestService {
	if codeMaxAttempts < 1 {
		codeMaxAttempts = 10
	}
	return &RequestService{
		tx:              tx,
		repo:            repo,
		events:          events,
		idem:            idem,
		bus:             bus,
		clock:           clock,
		codeMaxAttempts: codeMaxAttempts,
	}
}

type CreateInput struct {
	Title        string `json:"title" validate:"required,min=3,max=200"`
	Description  string `json:"description" validate:"required,max=4000"`
	Category     string `json:"category" validate:"required,max=100"`
	Priority     string `json:"priority" validate:"required,oneof=low medium high urgent"`
	LocationText string `json:"location_text" validate:"max=500"`
}

type EditInput struct {
	Title        *string `json:"title" validate:"omitempty,min=3,max=200"`
	Description  *string `json:"description" validate:"omitempty,max=4000"`
	Category     *string `json:"category" validate:"omitempty,max=100"`
	Priority     *string `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	LocationText *string `json:"location_text" validate:"omitempty,max=500"`
}

// Create registers a new request in status SUBMITTED. When an idempotency key
// is supplied and still live, the previously stored response is replayed
// verbatim and the durable store is not touched a second time.
func (s *RequestService) Create(ctx context.Context, actorID uuid.UUID, idempotencyKey string, in CreateInput) (*servicerequest.ServiceRequest, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := validate.Struct(in); err != nil {
		return nil, newServiceError(400, "REQUESTS_INVALID_BODY", err.Error(), err)
	}
	if actorID == uuid.Nil {
		return nil, newServiceError(400, "REQUESTS_INVALID_BODY", "actor id is required", nil)
	}

	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey != "" {
		if cached, ok := s.idem.Get(idempotencyKey); ok {
			recordIdempotency(true)
			var replay servicerequest.ServiceRequest
			if err := json.Unmarshal(cached, &replay); err == nil {
				return &replay, nil
			}
		}
		recordIdempotency(false)
	}

	now := s.clock.Now().UTC()
	req := &servicerequest.ServiceRequest{
		ID:           uuid.New(),
		Title:        in.Title,
		Description:  in.Description,
		Category:     in.Category,
		Priority:     in.Priority,
		LocationText: in.LocationText,
		Status:       servicerequest.StatusSubmitted,
		CreatedBy:    actorID,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := inTx(ctx, s.tx, func(txCtx context.Context) (*servicerequest.ServiceRequest, error) {
		code, err := s.generateCode(txCtx, now)
		if err != nil {
			return nil, err
		}
		req.Code = code
		out, err := s.repo.Create(txCtx, req)
		if err != nil {
			return nil, mapStoreError(err)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	if idempotencyKey != "" {
		if raw, err := json.Marshal(created); err == nil {
			s.idem.Put(idempotencyKey, raw)
		}
	}
	s.bus.Publish(&servicerequest.CreatedEvent{Request: created, ActorID: actorID})
	return created, nil
}

// Edit applies changes to mutable content fields under the optimistic version
// guard. The version increments by exactly one on success; no audit entry is
// written for plain field edits.
func (s *RequestService) Edit(ctx context.Context, id uuid.UUID, actorID uuid.UUID, versionToken string, in EditInput) (*servicerequest.ServiceRequest, error) {
	expected, err := parseVersionToken(versionToken)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, newServiceError(400, "REQUESTS_INVALID_BODY", err.Error(), err)
	}
	patch := servicerequest.FieldPatch{
		Title:        trimmed(in.Title),
		Description:  trimmed(in.Description),
		Category:     in.Category,
		Priority:     in.Priority,
		LocationText: in.LocationText,
	}
	if patch.Empty() {
		return nil, newServiceError(400, "REQUESTS_INVALID_BODY", "no editable fields supplied", nil)
	}

	return inTx(ctx, s.tx, func(txCtx context.Context) (*servicerequest.ServiceRequest, error) {
		current, err := s.repo.GetByID(txCtx, id)
		if err != nil {
			return nil, mapStoreError(err)
		}
		if err := checkVersion(current, expected); err != nil {
			return nil, err
		}
		updated, err := s.repo.UpdateFields(txCtx, id, expected, patch, s.clock.Now().UTC())
		if err != nil {
			return nil, mapStoreError(err)
		}
		return updated, nil
	})
}

// ApplyStatusAction executes a caller-facing action verb: the transition is
// checked against the status graph, the write is guarded by the version
// comparison, and exactly one STATUS_CHANGE audit entry is appended in the
// same transaction. A reassignment that changes the assignee additionally
// records an ASSIGNMENT entry.
func (s *RequestService) ApplyStatusAction(ctx context.Context, id uuid.UUID, action servicerequest.Action, versionToken, reason string, assignTo *uuid.UUID, actorID uuid.UUID) (*servicerequest.ServiceRequest, error) {
	target, ok := servicerequest.ActionToStatus(action)
	if !ok {
		return nil, newServiceError(400, "REQUESTS_INVALID_ACTION", fmt.Sprintf("unknown action %q", action), nil)
	}
	expected, err := parseVersionToken(versionToken)
	if err != nil {
		return nil, err
	}

	type txOut struct {
		updated *servicerequest.ServiceRequest
		from    servicerequest.Status
	}

	out, err := inTx(ctx, s.tx, func(txCtx context.Context) (txOut, error) {
		current, err := s.repo.GetByID(txCtx, id)
		if err != nil {
			return txOut{}, mapStoreError(err)
		}
		if !servicerequest.CanApply(current.Status, action) {
			recordTransition(string(action), "rejected")
			return txOut{}, newServiceErrorWithMeta(422, "REQUESTS_INVALID_TRANSITION",
				fmt.Sprintf("action %q is not allowed from status %s", action, current.Status),
				map[string]string{
					"current_status": string(current.Status),
					"target_status":  string(target),
					"action":         string(action),
				})
		}
		if err := checkVersion(current, expected); err != nil {
			return txOut{}, err
		}

		now := s.clock.Now().UTC()
		patch := servicerequest.StatusPatch{
			Status:     target,
			AssignedTo: current.AssignedTo,
			ClosedAt:   current.ClosedAt,
		}
		if assignTo != nil {
			patch.AssignedTo = assignTo
		}
		switch target {
		case servicerequest.StatusClosed:
			patch.ClosedAt = &now
		case servicerequest.StatusReopened:
			patch.ClosedAt = nil
		}

		updated, err := s.repo.UpdateStatus(txCtx, id, expected, patch, now)
		if err != nil {
			return txOut{}, mapStoreError(err)
		}

		entry, err := eventlog.NewEntry(id, eventlog.TypeStatusChange, eventlog.StatusChangePayload{
			Action:     string(action),
			FromStatus: string(current.Status),
			ToStatus:   string(target),
			Reason:     reason,
			ActorID:    actorID,
		})
		if err != nil {
			return txOut{}, mapStoreError(err)
		}
		if _, err := s.events.Append(txCtx, entry); err != nil {
			return txOut{}, mapStoreError(err)
		}

		if assignTo != nil && !sameAssignee(current.AssignedTo, assignTo) {
			assignEntry, err := eventlog.NewEntry(id, eventlog.TypeAssignment, eventlog.AssignmentPayload{
				FromAssignee: current.AssignedTo,
				ToAssignee:   assignTo,
				ActorID:      actorID,
			})
			if err != nil {
				return txOut{}, mapStoreError(err)
			}
			if _, err := s.events.Append(txCtx, assignEntry); err != nil {
				return txOut{}, mapStoreError(err)
			}
		}

		return txOut{updated: updated, from: current.Status}, nil
	})
	if err != nil {
		return nil, err
	}

	recordTransition(string(action), "applied")
	s.bus.Publish(&servicerequest.StatusChangedEvent{
		Request: out.updated,
		Action:  action,
		From:    out.from,
		To:      target,
		ActorID: actorID,
	})
	return out.updated, nil
}

// AddComment appends a COMMENT_ADDED audit entry. Comments do not mutate the
// entity and do not bump the version.
func (s *RequestService) AddComment(ctx context.Context, id uuid.UUID, actorID uuid.UUID, body string) (eventlog.Entry, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return eventlog.Entry{}, newServiceError(400, "REQUESTS_INVALID_BODY", "comment body is required", nil)
	}

	entry, err := inTx(ctx, s.tx, func(txCtx context.Context) (eventlog.Entry, error) {
		if _, err := s.repo.GetByID(txCtx, id); err != nil {
			return eventlog.Entry{}, mapStoreError(err)
		}
		e, err := eventlog.NewEntry(id, eventlog.TypeCommentAdded, eventlog.CommentPayload{
			Body:    body,
			ActorID: actorID,
		})
		if err != nil {
			return eventlog.Entry{}, mapStoreError(err)
		}
		appended, err := s.events.Append(txCtx, e)
		if err != nil {
			return eventlog.Entry{}, mapStoreError(err)
		}
		return appended, nil
	})
	if err != nil {
		return eventlog.Entry{}, err
	}

	s.bus.Publish(&servicerequest.CommentAddedEvent{RequestID: id, ActorID: actorID, Body: body})
	return entry, nil
}

func (s *RequestService) GetByID(ctx context.Context, id uuid.UUID) (*servicerequest.ServiceRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return req, nil
}

func (s *RequestService) GetByCode(ctx context.Context, code string) (*servicerequest.ServiceRequest, error) {
	req, err := s.repo.GetByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, mapStoreError(err)
	}
	return req, nil
}

func (s *RequestService) List(ctx context.Context, params servicerequest.FindParams) ([]*servicerequest.ServiceRequest, int64, error) {
	if params.Limit < 1 || params.Limit > 200 {
		params.Limit = 50
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	items, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, 0, mapStoreError(err)
	}
	return items, total, nil
}

func (s *RequestService) ListEvents(ctx context.Context, id uuid.UUID) ([]eventlog.Entry, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, mapStoreError(err)
	}
	entries, err := s.events.ListByRequest(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return entries, nil
}

// generateCode produces a human-readable code REQ-<year>-<6 hex chars>,
// retrying on collision up to the configured bound. Exhaustion is surfaced,
// never silently suppressed.
func (s *RequestService) generateCode(ctx context.Context, now time.Time) (string, error) {
	for attempt := 0; attempt < s.codeMaxAttempts; attempt++ {
		raw := strings.ReplaceAll(uuid.NewString(), "-", "")
		code := fmt.Sprintf("REQ-%d-%s", now.Year(), strings.ToUpper(raw[:6]))
		exists, err := s.repo.CodeExists(ctx, code)
		if err != nil {
			return "", mapStoreError(err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", newServiceError(500, "REQUESTS_CODE_EXHAUSTED",
		fmt.Sprintf("could not generate a unique request code in %d attempts", s.codeMaxAttempts), nil)
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}

func sameAssignee(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
