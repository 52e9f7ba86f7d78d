// Package auth resolves the user every recurring operation runs for. The
// identity is established upstream and handed in through the request context.
package auth

import (
	"context"
	"net/http"
	"strings"

	"cadence/internal/core"
)

type userKey string

const ctxUser userKey = "user_id"

// WithUser returns a copy of ctx carrying userID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUser, userID)
}

// UserFromContext returns the user stored by WithUser, or "" when absent.
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxUser).(string)
	return id
}

// ContextIdentity reads the current user from the request context.
type ContextIdentity struct{}

func (ContextIdentity) UserID(ctx context.Context) (string, error) {
	if id := UserFromContext(ctx); id != "" {
		return id, nil
	}
	return "", core.ErrUnauthenticated
}

// Static always resolves to the same user. Command line tools use it.
type Static string

func (s Static) UserID(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", core.ErrUnauthenticated
	}
	return string(s), nil
}

// HeaderMiddleware copies the user id from a trusted upstream header into the
// request context. Requests without the header pass through unauthenticated;
// the operations themselves reject them.
func HeaderMiddleware(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(header))
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), id)))
		})
	}
}
