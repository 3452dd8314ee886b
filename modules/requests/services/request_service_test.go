package services

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/civicworks/civicdesk/modules/requests/domain/eventlog"
	"github.com/civicworks/civicdesk/modules/requests/domain/servicerequest"
	"github.com/civicworks/civicdesk/modules/requests/infrastructure/idempotency"
	"github.com/civicworks/civicdesk/pkg/eventbus"
)

// passthroughTransactor runs the callback directly; the in-memory fakes below
// are already atomic under their own mutexes.
type passthroughTransactor struct{}

func (passthroughTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memRequestRepo struct {
	mu         sync.Mutex
	byID       map[uuid.UUID]*servicerequest.ServiceRequest
	codes      map[string]bool
	collideAll bool
}

func newMemRequestRepo() *memRequestRepo {
	return &memRequestRepo{
		byID:  map[uuid.UUID]*servicerequest.ServiceRequest{},
		codes: map[string]bool{},
	}
}

func (r *memRequestRepo) Create(_ context.Context, req *servicerequest.ServiceRequest) (*servicerequest.ServiceRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *req
	r.byID[cp.ID] = &cp
	r.codes[cp.Code] = true
	out := cp
	return &out, nil
}

func (r *memRequestRepo) GetByID(_ context.Context, id uuid.UUID) (*servicerequest.ServiceRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.byID[id]
	if !ok {
		return nil, servicerequest.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (r *memRequestRepo) GetByCode(_ context.Context, code string) (*servicerequest.ServiceRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.byID {
		if req.Code == code {
			cp := *req
			return &cp, nil
		}
	}
	return nil, servicerequest.ErrNotFound
}

func (r *memRequestRepo) CodeExists(_ context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.collideAll {
		return true, nil
	}
	return r.codes[code], nil
}

func (r *memRequestRepo) List(_ context.Context, params servicerequest.FindParams) ([]*servicerequest.ServiceRequest, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*servicerequest.ServiceRequest
	for _, req := range r.byID {
		if params.Status != nil && req.Status != *params.Status {
			continue
		}
		cp := *req
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (r *memRequestRepo) UpdateFields(_ context.Context, id uuid.UUID, expectedVersion int64, patch servicerequest.FieldPatch, now time.Time) (*servicerequest.ServiceRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.byID[id]
	if !ok {
		return nil, servicerequest.ErrNotFound
	}
	if req.Version != expectedVersion {
		return nil, &servicerequest.VersionConflictError{Current: req.Version, Expected: expectedVersion}
	}
	if patch.Title != nil {
		req.Title = *patch.Title
	}
	if patch.Description != nil {
		req.Description = *patch.Description
	}
	if patch.Category != nil {
		req.Category = *patch.Category
	}
	if patch.Priority != nil {
		req.Priority = *patch.Priority
	}
	if patch.LocationText != nil {
		req.LocationText = *patch.LocationText
	}
	req.Version++
	req.UpdatedAt = now
	cp := *req
	return &cp, nil
}

func (r *memRequestRepo) UpdateStatus(_ context.Context, id uuid.UUID, expectedVersion int64, patch servicerequest.StatusPatch, now time.Time) (*servicerequest.ServiceRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.byID[id]
	if !ok {
		return nil, servicerequest.ErrNotFound
	}
	if req.Version != expectedVersion {
		return nil, &servicerequest.VersionConflictError{Current: req.Version, Expected: expectedVersion}
	}
	req.Status = patch.Status
	req.AssignedTo = patch.AssignedTo
	req.ClosedAt = patch.ClosedAt
	req.Version++
	req.UpdatedAt = now
	cp := *req
	return &cp, nil
}

type memEventLog struct {
	mu      sync.Mutex
	entries []eventlog.Entry
}

func (l *memEventLog) Append(_ context.Context, entry eventlog.Entry) (eventlog.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now().UTC()
	l.entries = append(l.entries, entry)
	return entry, nil
}

func (l *memEventLog) ListByRequest(_ context.Context, requestID uuid.UUID) ([]eventlog.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []eventlog.Entry
	for _, e := range l.entries {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *memEventLog) byType(requestID uuid.UUID, entryType string) []eventlog.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []eventlog.Entry
	for _, e := range l.entries {
		if e.RequestID == requestID && e.Type == entryType {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc    *RequestService
	repo   *memRequestRepo
	events *memEventLog
	idem   idempotency.Store
	bus    eventbus.EventBus
	clock  *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	repo := newMemRequestRepo()
	events := &memEventLog{}
	idem := idempotency.NewMemoryStore(time.Minute, time.Hour)
	bus := eventbus.NewEventPublisher(log)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC))
	svc := NewRequestService(passthroughTransactor{}, repo, events, idem, bus, clock, 3)
	return &fixture{svc: svc, repo: repo, events: events, idem: idem, bus: bus, clock: clock}
}

func validCreateInput() CreateInput {
	return CreateInput{
		Title:       "Broken streetlight on Elm St",
		Description: "The streetlight at Elm & 4th has been out for a week.",
		Category:    "streetlights",
		Priority:    "medium",
	}
}

func (f *fixture) mustCreate(t *testing.T, actor uuid.UUID) *servicerequest.ServiceRequest {
	t.Helper()
	created, err := f.svc.Create(context.Background(), actor, "", validCreateInput())
	require.NoError(t, err)
	return created
}

func requireServiceError(t *testing.T, err error, status int, code string) *ServiceError {
	t.Helper()
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, status, svcErr.Status)
	require.Equal(t, code, svcErr.Code)
	return svcErr
}

func TestCreate(t *testing.T) {
	actor := uuid.New()

	t.Run("starts in SUBMITTED at version 1", func(t *testing.T) {
		f := newFixture(t)
		created := f.mustCreate(t, actor)

		require.Equal(t, servicerequest.StatusSubmitted, created.Status)
		require.EqualValues(t, 1, created.Version)
		require.Equal(t, actor, created.CreatedBy)
		require.Regexp(t, `^REQ-2026-[0-9A-F]{6}$`, created.Code)
		require.Nil(t, created.ClosedAt)
	})

	t.Run("rejects invalid priority", func(t *testing.T) {
		f := newFixture(t)
		in := validCreateInput()
		in.Priority = "critical"
		_, err := f.svc.Create(context.Background(), actor, "", in)
		requireServiceError(t, err, 400, "REQUESTS_INVALID_BODY")
	})

	t.Run("rejects blank title", func(t *testing.T) {
		f := newFixture(t)
		in := validCreateInput()
		in.Title = "   "
		_, err := f.svc.Create(context.Background(), actor, "", in)
		requireServiceError(t, err, 400, "REQUESTS_INVALID_BODY")
	})

	t.Run("surfaces code exhaustion", func(t *testing.T) {
		f := newFixture(t)
		f.repo.collideAll = true
		_, err := f.svc.Create(context.Background(), actor, "", validCreateInput())
		requireServiceError(t, err, 500, "REQUESTS_CODE_EXHAUSTED")
	})
}

func TestCreate_Idempotency(t *testing.T) {
	actor := uuid.New()

	t.Run("replays the same entity without a second write", func(t *testing.T) {
		f := newFixture(t)
		first, err := f.svc.Create(context.Background(), actor, "retry-key-1", validCreateInput())
		require.NoError(t, err)

		second, err := f.svc.Create(context.Background(), actor, "retry-key-1", validCreateInput())
		require.NoError(t, err)

		require.Equal(t, first.ID, second.ID)
		require.Equal(t, first.Code, second.Code)
		require.Len(t, f.repo.byID, 1)

		firstRaw, err := json.Marshal(first)
		require.NoError(t, err)
		secondRaw, err := json.Marshal(second)
		require.NoError(t, err)
		require.Equal(t, firstRaw, secondRaw)
	})

	t.Run("distinct keys create distinct entities", func(t *testing.T) {
		f := newFixture(t)
		first, err := f.svc.Create(context.Background(), actor, "key-a", validCreateInput())
		require.NoError(t, err)
		second, err := f.svc.Create(context.Background(), actor, "key-b", validCreateInput())
		require.NoError(t, err)
		require.NotEqual(t, first.ID, second.ID)
		require.Len(t, f.repo.byID, 2)
	})
}

func TestEdit(t *testing.T) {
	actor := uuid.New()

	t.Run("bumps version by one", func(t *testing.T) {
		f := newFixture(t)
		created := f.mustCreate(t, actor)

		title := "Streetlight out at Elm & 4th"
		updated, err := f.svc.Edit(context.Background(), created.ID, actor, "1", EditInput{Title: &title})
		require.NoError(t, err)
		require.Equal(t, title, updated.Title)
		require.EqualValues(t, 2, updated.Version)
		require.Empty(t, f.events.byType(created.ID, eventlog.TypeStatusChange))
	})

	t.Run("missing version token leaves entity untouched", func(t *testing.T) {
		f := newFixture(t)
		created := f.mustCreate(t, actor)

		title := "Updated title here"
		_, err := f.svc.Edit(context.Background(), created.ID, actor, "", EditInput{Title: &title})
		requireServiceError(t, err, 400, "REQUESTS_VERSION_REQUIRED")

		stored, err := f.repo.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		require.Equal(t, created.Title, stored.Title)
		require.EqualValues(t, 1, stored.Version)
	})

	t.Run("malformed version token is rejected", func(t *testing.T) {
		f := newFixture(t)
		created := f.mustCreate(t, actor)

		title := "Updated title here"
		for _, token := range []string{"abc", "0", "-3", "1.5"} {
			_, err := f.svc.Edit(context.Background(), created.ID, actor, token, EditInput{Title: &title})
			requireServiceError(t, err, 400, "REQUESTS_VERSION_INVALID")
		}
	})

	t.Run("stale version loses with a conflict", func(t *testing.T) {
		f := newFixture(t)
		created := f.mustCreate(t, actor)

		titleA := "First writer title"
		_, err := f.svc.Edit(context.Background(), created.ID, actor, "1", EditInput{Title: &titleA})
		require.NoError(t, err)

		titleB := "Second writer title"
		_, err = f.svc.Edit(context.Background(), created.ID, actor, "1", EditInput{Title: &titleB})
		svcErr := requireServiceError(t, err, 409, "REQUESTS_VERSION_CONFLICT")
		require.Equal(t, "2", svcErr.Meta["current_version"])
		require.Equal(t, "1", svcErr.Meta["expected_version"])

		stored, err := f.repo.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		require.Equal(t, titleA, stored.Title)
		require.EqualValues(t, 2, stored.Version)
	})

	t.Run("empty patch is rejected", func(t *testing.T) {
		f := newFixture(t)
		created := f.mustCreate(t, actor)
		_, err := f.svc.Edit(context.Background(), created.ID, actor, "1", EditInput{})
		requireServiceError(t, err, 400, "REQUESTS_INVALID_BODY")
	})

	t.Run("unknown id maps to not found", func(t *testing.T) {
		f := newFixture(t)
		title := "Anything at all"
		_, err := f.svc.Edit(context.Background(), uuid.New(), actor, "1", EditInput{Title: &title})
		requireServiceError(t, err, 404, "REQUESTS_NOT_FOUND")
	})
}

func TestApplyStatusAction(t *testing.T) {
	actor := uuid.New()

	t.Run("triage moves SUBMITTED to TRIAGED with one audit entry", func(t *testing.T) {
		f := newFixture(t)
		created := f.mustCreate(t, actor)

		updated, err := f.svc.ApplyStatusAction(context.Background(), created.ID, servicerequest.ActionTriage, "1", "valid report", nil, actor)
		require.NoError(t, err)
		require.Equal(t, servicerequest.StatusTriaged, updated.Status)
		require.EqualValues(t, 2, updated.Version)

		changes := f.events.byType(created.ID, eventlog.TypeStatusChange)
		require.Len(t, changes, 1)

		var payload eventlog.StatusChangePayload
		require.NoError(t, json.Unmarshal(changes[0].Payload, &payload))
		require.Equal(t, string(servicerequest.ActionTriage), payload.Action)
		require.Equal(t, string(servicerequest.StatusSubmitted), payload.FromStatus)
		require.Equal(t, string(servicerequest.StatusTriaged), payload.ToStatus)
		require.Equal(t, "valid report", payload.Reason)
		require.Equal(t, actor, payload.ActorID)
	})

	t.Run("triage from CLOSED is rejected and nothing changes", func(t *testing.T) {
		f := newFixture(t)
		created := f.mustCreate(t, actor)
		f.advanceTo(t, created.ID, actor,
			servicerequest.ActionTriage,
			servicerequest.ActionStart,
			servicerequest.ActionResolve,
			servicerequest.ActionClose,
		)
		before, err := f.repo.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		eventsBefore := len(f.events.byType(created.ID, eventlog.TypeStatusChange))

		_, err = f.svc.ApplyStatusAction(context.Background(), created.ID, servicerequest.ActionTriage, "5", "", nil, actor)
		svcErr := requireServiceError(t, err, 422, "REQUESTS_INVALID_TRANSITION")
		require.Equal(t, string(servicerequest.StatusClosed), svcErr.Meta["current_status"])
		require.Equal(t, string(servicerequest.StatusTriaged), svcErr.Meta["target_status"])
		require.Equal(t, string(servicerequest.ActionTriage), svcErr.Meta["action"])

		after, err := f.repo.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		require.Equal(t, before.Status, after.Status)
		require.Equal(t, before.Version, after.Version)
		require.Len(t, f.events.byType(created.ID, eventlog.TypeStatusChange), eventsBefore)
	})

	t.Run("close stamps ClosedAt", func(t *testing.T) {
		f := newFixture(t)
		created := f.mustCreate(t, actor)
		f.advanceTo(t, created.ID, actor,
			servicerequest.ActionTriage,
			servicerequest.ActionStart,
			servicerequest.ActionResolve,
		)

		updated, err := f.svc.ApplyStatusAction(context.Background(), created.ID, servicerequest.ActionClose, "4", "", nil, actor)
		require.NoError(t, err)
		require.Equal(t, servicerequest.StatusClosed, updated.Status)
		require.NotNil(t, updated.ClosedAt)
		require.Equal(t, f.clock.Now().UTC(), *updated.ClosedAt)
	})

	t.Run("reopen clears ClosedAt", func(t *testing.T) {
		f := newFixture(t)
		created := f.mustCreate(t, actor)
		f.advanceTo(t, created.ID, actor,
			servicerequest.ActionTriage,
			servicerequest.ActionStart,
			servicerequest.ActionResolve,
			servicerequest.ActionClose,
		)

		updated, err := f.svc.ApplyStatusAction(context.Background(), created.ID, servicerequest.ActionReopen, "5", "issue came back", nil, actor)
		require.NoError(t, err)
		require.Equal(t, servicerequest.StatusReopened, updated.Status)
		require.Nil(t, updated.ClosedAt)

		// From REOPENED the only way forward is triage.
		_, err = f.svc.ApplyStatusAction(context.Background(), created.ID, servicerequest.ActionStart, "6", "", nil, actor)
		requireServiceError(t, err, 422, "REQUESTS_INVALID_TRANSITION")
		updated, err = f.svc.ApplyStatusAction(context.Background(), created.ID, servicerequest.ActionTriage, "6", "", nil, actor)
		require.NoError(t, err)
		require.Equal(t, servicerequest.StatusTriaged, updated.Status)
	})

	t.Run("stale version on a status action conflicts", func(t *testing.T) {
		f := newFixture(t)
		created := f.mustCreate(t, actor)

		_, err := f.svc.ApplyStatusAction(context.Background(), created.ID, servicerequest.ActionTriage, "1", "", nil, actor)
		require.NoError(t, err)

		_, err = f.svc.ApplyStatusAction(context.Background(), created.ID, servicerequest.ActionReject, "1", "", nil, actor)
		requireServiceError(t, err, 409, "REQUESTS_VERSION_CONFLICT")

		stored, err := f.repo.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		require.Equal(t, servicerequest.StatusTriaged, stored.Status)
		require.Len(t, f.events.byType(created.ID, eventlog.TypeStatusChange), 1)
	})

	t.Run("unknown action verb is rejected up front", func(t *testing.T) {
		f := newFixture(t)
		created := f.mustCreate(t, actor)
		_, err := f.svc.ApplyStatusAction(context.Background(), created.ID, "escalate", "1", "", nil, actor)
		requireServiceError(t, err, 400, "REQUESTS_INVALID_ACTION")
	})

	t.Run("assignment change records an ASSIGNMENT entry", func(t *testing.T) {
		f := newFixture(t)
		created := f.mustCreate(t, actor)
		assignee := uuid.New()

		updated, err := f.svc.ApplyStatusAction(context.Background(), created.ID, servicerequest.ActionTriage, "1", "", &assignee, actor)
		require.NoError(t, err)
		require.NotNil(t, updated.AssignedTo)
		require.Equal(t, assignee, *updated.AssignedTo)

		assignments := f.events.byType(created.ID, eventlog.TypeAssignment)
		require.Len(t, assignments, 1)
		var payload eventlog.AssignmentPayload
		require.NoError(t, json.Unmarshal(assignments[0].Payload, &payload))
		require.Nil(t, payload.FromAssignee)
		require.Equal(t, assignee, *payload.ToAssignee)

		// Re-asserting the same assignee does not add a second entry.
		_, err = f.svc.ApplyStatusAction(context.Background(), created.ID, servicerequest.ActionStart, "2", "", &assignee, actor)
		require.NoError(t, err)
		require.Len(t, f.events.byType(created.ID, eventlog.TypeAssignment), 1)
	})
}

func TestAddComment(t *testing.T) {
	actor := uuid.New()

	t.Run("appends a COMMENT_ADDED entry without touching the version", func(t *testing.T) {
		f := newFixture(t)
		created := f.mustCreate(t, actor)

		entry, err := f.svc.AddComment(context.Background(), created.ID, actor, "  crew dispatched  ")
		require.NoError(t, err)
		require.Equal(t, eventlog.TypeCommentAdded, entry.Type)

		var payload eventlog.CommentPayload
		require.NoError(t, json.Unmarshal(entry.Payload, &payload))
		require.Equal(t, "crew dispatched", payload.Body)

		stored, err := f.repo.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		require.EqualValues(t, 1, stored.Version)
	})

	t.Run("blank body is rejected", func(t *testing.T) {
		f := newFixture(t)
		created := f.mustCreate(t, actor)
		_, err := f.svc.AddComment(context.Background(), created.ID, actor, "   ")
		requireServiceError(t, err, 400, "REQUESTS_INVALID_BODY")
	})

	t.Run("unknown request is not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.AddComment(context.Background(), uuid.New(), actor, "hello")
		requireServiceError(t, err, 404, "REQUESTS_NOT_FOUND")
	})
}

func TestListEvents(t *testing.T) {
	actor := uuid.New()
	f := newFixture(t)
	created := f.mustCreate(t, actor)

	_, err := f.svc.ApplyStatusAction(context.Background(), created.ID, servicerequest.ActionTriage, "1", "", nil, actor)
	require.NoError(t, err)
	_, err = f.svc.AddComment(context.Background(), created.ID, actor, "on it")
	require.NoError(t, err)

	entries, err := f.svc.ListEvents(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	_, err = f.svc.ListEvents(context.Background(), uuid.New())
	requireServiceError(t, err, 404, "REQUESTS_NOT_FOUND")
}

func TestList_DefaultsLimit(t *testing.T) {
	f := newFixture(t)
	actor := uuid.New()
	f.mustCreate(t, actor)

	items, total, err := f.svc.List(context.Background(), servicerequest.FindParams{Limit: -5, Offset: -1})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Len(t, items, 1)

	status := servicerequest.StatusClosed
	items, total, err = f.svc.List(context.Background(), servicerequest.FindParams{Status: &status})
	require.NoError(t, err)
	require.EqualValues(t, 0, total)
	require.Empty(t, items)
}

// advanceTo walks the request through the given actions, asserting each step
// succeeds; the version token tracks the expected increment per step.
func (f *fixture) advanceTo(t *testing.T, id uuid.UUID, actor uuid.UUID, actions ...servicerequest.Action) {
	t.Helper()
	current, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	version := current.Version
	for _, action := range actions {
		_, err := f.svc.ApplyStatusAction(context.Background(), id, action, formatVersion(version), "", nil, actor)
		require.NoError(t, err)
		version++
	}
}

func formatVersion(v int64) string {
	return strconv.FormatInt(v, 10)
}
