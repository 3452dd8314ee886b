package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/civicworks/civicdesk/pkg/composables"
	"github.com/civicworks/civicdesk/pkg/configuration"
	"github.com/civicworks/civicdesk/pkg/httpapi"
)

// ResolveActor trusts the actor header injected by the upstream gateway, which
// has already authenticated and authorized the caller. Mutating requests
// without a parseable actor id are rejected before reaching any handler; reads
// pass through since they never record an acting identity.
func ResolveActor(conf *configuration.Configuration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(conf.ActorIDHeader))
			if raw == "" {
				if r.Method == http.MethodGet || r.Method == http.MethodHead {
					next.ServeHTTP(w, r)
					return
				}
				httpapi.WriteError(w, http.StatusBadRequest, composables.UseRequestID(r.Context()),
					"REQUESTS_NO_ACTOR", conf.ActorIDHeader+" header is required", nil)
				return
			}
			actorID, err := uuid.Parse(raw)
			if err != nil {
				httpapi.WriteError(w, http.StatusBadRequest, composables.UseRequestID(r.Context()),
					"REQUESTS_INVALID_ACTOR", conf.ActorIDHeader+" header is not a valid UUID", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(composables.WithActorID(r.Context(), actorID)))
		})
	}
}
