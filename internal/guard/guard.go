// Package guard enforces the strict or optional authentication policy in
// front of protected operations.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-lifecycle/internal/identity"
	"github.com/openkcm/auth-lifecycle/internal/lifecycle"
	"github.com/openkcm/auth-lifecycle/internal/serviceerr"
)

// UserResolver resolves the current identity of a session without failing.
type UserResolver interface {
	GetOptionalUser(ctx context.Context, sessionID string) *identity.Identity
}

// Operation is any protected call that is keyed by the session identifier.
type Operation[A, R any] func(ctx context.Context, sessionID string, args A) (R, error)

type Guard struct {
	users UserResolver
}

func New(users UserResolver) *Guard {
	return &Guard{users: users}
}

// RequireAuth returns the session identity. With strict set, a missing
// identity fails with serviceerr.ErrUnauthenticated; otherwise nil is
// returned.
func (g *Guard) RequireAuth(ctx context.Context, sessionID string, strict bool) (*identity.Identity, error) {
	id := g.users.GetOptionalUser(ctx, sessionID)
	if id == nil && strict {
		return nil, serviceerr.ErrUnauthenticated
	}
	return id, nil
}

// Protect wraps op so the policy is enforced before it runs. The operation
// receives the same arguments and sees the identity via IdentityFromContext.
func Protect[A, R any](g *Guard, strict bool, op Operation[A, R]) Operation[A, R] {
	return func(ctx context.Context, sessionID string, args A) (R, error) {
		id, err := g.RequireAuth(ctx, sessionID, strict)
		if err != nil {
			var zero R
			return zero, err
		}
		if id != nil {
			ctx = ContextWithIdentity(ctx, id)
		}
		return op(ctx, sessionID, args)
	}
}

// Middleware applies the policy to HTTP handlers. Denied requests get a 401
// JSON body.
func (g *Guard) Middleware(strict bool, sessionID lifecycle.SessionIDFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			id, err := g.RequireAuth(ctx, sessionID(r), strict)
			if err != nil {
				slogctx.Debug(ctx, "Denied unauthenticated request", "path", r.URL.Path)
				WriteError(w, err)
				return
			}
			if id != nil {
				ctx = ContextWithIdentity(ctx, id)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type identityKey struct{}

func ContextWithIdentity(ctx context.Context, id *identity.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFromContext(ctx context.Context) (*identity.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*identity.Identity)
	return id, ok && id != nil
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteError writes err as a JSON error body with the status of the service
// error it wraps, or 500.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorResponse{Error: string(serviceerr.CodeServerError)}

	if se := new(serviceerr.Error); errors.As(err, &se) {
		status = se.HTTPStatus()
		body = errorResponse{Error: string(se.Err), ErrorDescription: se.Description}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
