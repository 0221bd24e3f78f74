package session

import (
	"context"

	"github.com/openkcm/auth-lifecycle/internal/identity"
)

// Repository holds the session records. A session id without a record behaves
// like one with an empty record. Implementations must be safe for concurrent
// use and ConsumeCSRF must read and delete the token in one critical section.
type Repository interface {
	GetOrCreate(ctx context.Context, sessionID string) (Record, error)
	// Identity operations
	SetIdentity(ctx context.Context, sessionID string, id identity.Identity) error
	GetIdentity(ctx context.Context, sessionID string) (*identity.Identity, error)
	ClearIdentity(ctx context.Context, sessionID string) error
	// CSRF operations
	SetPendingCSRF(ctx context.Context, sessionID, token string) error
	ConsumeCSRF(ctx context.Context, sessionID string) (token string, ok bool, err error)
}
