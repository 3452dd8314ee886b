package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/civicworks/civicdesk/modules/requests/domain/eventlog"
	"github.com/civicworks/civicdesk/modules/requests/domain/servicerequest"
	"github.com/civicworks/civicdesk/modules/requests/services"
	"github.com/civicworks/civicdesk/pkg/composables"
	"github.com/civicworks/civicdesk/pkg/httpapi"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerIfMatch        = "If-Match"
)

type RequestsAPIController struct {
	requests  *services.RequestService
	apiPrefix string
}

func NewRequestsAPIController(requests *services.RequestService) *RequestsAPIController {
	return &RequestsAPIController{
		requests:  requests,
		apiPrefix: "/api/requests",
	}
}

func (c *RequestsAPIController) Register(r *mux.Router) {
	api := r.PathPrefix(c.apiPrefix).Subrouter()

	api.HandleFunc("", c.Create).Methods(http.MethodPost)
	api.HandleFunc("", c.List).Methods(http.MethodGet)
	api.HandleFunc("/code/{code}", c.GetByCode).Methods(http.MethodGet)
	api.HandleFunc("/{id}", c.GetByID).Methods(http.MethodGet)
	api.HandleFunc("/{id}", c.Edit).Methods(http.MethodPatch)
	api.HandleFunc("/{id}/actions/{action}", c.ApplyAction).Methods(http.MethodPost)
	api.HandleFunc("/{id}/comments", c.AddComment).Methods(http.MethodPost)
	api.HandleFunc("/{id}/events", c.ListEvents).Methods(http.MethodGet)
}

type requestResponse struct {
	Request   *servicerequest.ServiceRequest `json:"request"`
	RequestID string                         `json:"request_id,omitempty"`
}

func (c *RequestsAPIController) Create(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	actorID, err := composables.UseActorID(r.Context())
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, requestID, "REQUESTS_NO_ACTOR", "actor identity is missing", nil)
		return
	}

	var in services.CreateInput
	if err := decodeJSON(r.Body, &in); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, requestID, "REQUESTS_INVALID_BODY", "request body is not valid JSON", nil)
		return
	}

	created, err := c.requests.Create(r.Context(), actorID, r.Header.Get(headerIdempotencyKey), in)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	w.Header().Set("ETag", strconv.FormatInt(created.Version, 10))
	httpapi.WriteJSON(w, http.StatusCreated, requestResponse{Request: created, RequestID: requestID})
}

func (c *RequestsAPIController) List(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())

	params := servicerequest.FindParams{}
	if v := strings.TrimSpace(r.URL.Query().Get("status")); v != "" {
		status := servicerequest.Status(v)
		params.Status = &status
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, requestID, "REQUESTS_INVALID_QUERY", "limit must be an integer", nil)
			return
		}
		params.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, requestID, "REQUESTS_INVALID_QUERY", "offset must be an integer", nil)
			return
		}
		params.Offset = n
	}

	items, total, err := c.requests.List(r.Context(), params)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}

	type listResponse struct {
		Items []*servicerequest.ServiceRequest `json:"items"`
		Total int64                            `json:"total"`
	}
	httpapi.WriteJSON(w, http.StatusOK, listResponse{Items: items, Total: total})
}

func (c *RequestsAPIController) GetByID(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, ok := pathUUID(w, r, requestID)
	if !ok {
		return
	}

	req, err := c.requests.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	w.Header().Set("ETag", strconv.FormatInt(req.Version, 10))
	httpapi.WriteJSON(w, http.StatusOK, requestResponse{Request: req})
}

func (c *RequestsAPIController) GetByCode(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())

	req, err := c.requests.GetByCode(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	w.Header().Set("ETag", strconv.FormatInt(req.Version, 10))
	httpapi.WriteJSON(w, http.StatusOK, requestResponse{Request: req})
}

func (c *RequestsAPIController) Edit(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	actorID, err := composables.UseActorID(r.Context())
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, requestID, "REQUESTS_NO_ACTOR", "actor identity is missing", nil)
		return
	}
	id, ok := pathUUID(w, r, requestID)
	if !ok {
		return
	}

	var in services.EditInput
	if err := decodeJSON(r.Body, &in); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, requestID, "REQUESTS_INVALID_BODY", "request body is not valid JSON", nil)
		return
	}

	updated, err := c.requests.Edit(r.Context(), id, actorID, r.Header.Get(headerIfMatch), in)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	w.Header().Set("ETag", strconv.FormatInt(updated.Version, 10))
	httpapi.WriteJSON(w, http.StatusOK, requestResponse{Request: updated, RequestID: requestID})
}

type applyActionRequest struct {
	Reason     string     `json:"reason"`
	AssignedTo *uuid.UUID `json:"assigned_to"`
}

func (c *RequestsAPIController) ApplyAction(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	actorID, err := composables.UseActorID(r.Context())
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, requestID, "REQUESTS_NO_ACTOR", "actor identity is missing", nil)
		return
	}
	id, ok := pathUUID(w, r, requestID)
	if !ok {
		return
	}

	var in applyActionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(r.Body, &in); err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, requestID, "REQUESTS_INVALID_BODY", "request body is not valid JSON", nil)
			return
		}
	}

	action := servicerequest.Action(mux.Vars(r)["action"])
	updated, err := c.requests.ApplyStatusAction(r.Context(), id, action, r.Header.Get(headerIfMatch), in.Reason, in.AssignedTo, actorID)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	w.Header().Set("ETag", strconv.FormatInt(updated.Version, 10))
	httpapi.WriteJSON(w, http.StatusOK, requestResponse{Request: updated, RequestID: requestID})
}

type addCommentRequest struct {
	Body string `json:"body"`
}

func (c *RequestsAPIController) AddComment(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	actorID, err := composables.UseActorID(r.Context())
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, requestID, "REQUESTS_NO_ACTOR", "actor identity is missing", nil)
		return
	}
	id, ok := pathUUID(w, r, requestID)
	if !ok {
		return
	}

	var in addCommentRequest
	if err := decodeJSON(r.Body, &in); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, requestID, "REQUESTS_INVALID_BODY", "request body is not valid JSON", nil)
		return
	}

	entry, err := c.requests.AddComment(r.Context(), id, actorID, in.Body)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, entry)
}

func (c *RequestsAPIController) ListEvents(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, ok := pathUUID(w, r, requestID)
	if !ok {
		return
	}

	entries, err := c.requests.ListEvents(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}

	type eventsResponse struct {
		Items []eventlog.Entry `json:"items"`
	}
	if entries == nil {
		entries = []eventlog.Entry{}
	}
	httpapi.WriteJSON(w, http.StatusOK, eventsResponse{Items: entries})
}

func pathUUID(w http.ResponseWriter, r *http.Request, requestID string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, requestID, "REQUESTS_INVALID_ID", "id must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(body io.ReadCloser, out any) error {
	defer func() { _ = body.Close() }()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeServiceError(w http.ResponseWriter, requestID string, err error) {
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		httpapi.WriteError(w, svcErr.Status, requestID, svcErr.Code, svcErr.Message, svcErr.Meta)
		return
	}
	httpapi.WriteError(w, http.StatusInternalServerError, requestID, "REQUESTS_INTERNAL", err.Error(), nil)
}
