package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/ignite/comms-planner/internal/domain"
	"github.com/ignite/comms-planner/internal/pkg/httputil"
)

// Identity headers set by the upstream gateway after authentication.
const (
	HeaderUserID         = "X-User-ID"
	HeaderOrganizationID = "X-Organization-ID"
)

type actorKey struct{}

// RequireActor resolves the acting user and organization from the request
// headers. Requests without both are rejected.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := domain.Actor{
			UserID:         strings.TrimSpace(r.Header.Get(HeaderUserID)),
			OrganizationID: strings.TrimSpace(r.Header.Get(HeaderOrganizationID)),
		}
		if actor.UserID == "" || actor.OrganizationID == "" {
			httputil.Unauthorized(w, "missing "+HeaderUserID+" or "+HeaderOrganizationID+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// ActorFrom returns the actor stored by RequireActor.
func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(domain.Actor)
	return a, ok
}
