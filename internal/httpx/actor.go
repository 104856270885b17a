package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// Identity is resolved by the gateway in front of this service and forwarded
// as headers.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type actorKey struct{}

func WithActor(ctx context.Context, a orders.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the caller, or the zero Actor for anonymous requests.
func ActorFrom(ctx context.Context) orders.Actor {
	a, _ := ctx.Value(actorKey{}).(orders.Actor)
	return a
}

// Actors reads the forwarded identity headers into the request context.
func Actors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := orders.Actor{UserID: strings.TrimSpace(r.Header.Get(HeaderUserID))}
		if a.UserID != "" {
			a.Role = orders.RoleCustomer
			if strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderUserRole)), string(orders.RoleAdmin)) {
				a.Role = orders.RoleAdmin
			}
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), a)))
	})
}

// RequireActor rejects anonymous requests with 401.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ActorFrom(r.Context()).UserID == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{
				Code:    "UNAUTHENTICATED",
				Message: "missing " + HeaderUserID,
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects callers without role with 403.
func RequireRole(role orders.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ActorFrom(r.Context()).Role != role {
				writeError(w, r, orders.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
