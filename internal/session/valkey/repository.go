// Package sessionvalkey keeps session records in Valkey so several processes
// can share them. Keys are written without expiry.
package sessionvalkey

import (
	"context"
	"errors"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/auth-lifecycle/internal/identity"
	"github.com/openkcm/auth-lifecycle/internal/serviceerr"
	"github.com/openkcm/auth-lifecycle/internal/session"
)

type ObjectType string

const (
	objectTypeIdentity ObjectType = "identity"
	objectTypeCSRF     ObjectType = "csrf"
)

var (
	ErrGetIdentity   = errors.New("getting identity from store")
	ErrStoreIdentity = errors.New("setting identity into storage")
	ErrClearIdentity = errors.New("deleting identity from store")
	ErrStoreCSRF     = errors.New("setting csrf token into storage")
	ErrConsumeCSRF   = errors.New("consuming csrf token from store")
	ErrGetCSRF       = errors.New("getting csrf token from store")
)

type Repository struct {
	store *store
}

var _ = session.Repository(&Repository{})

func NewRepository(valkeyClient valkey.Client, prefix string) *Repository {
	return &Repository{
		store: newStore(valkeyClient, prefix),
	}
}

// GetOrCreate reads both halves of the record. Nothing is written: an absent
// key already reads as an empty record.
func (r *Repository) GetOrCreate(ctx context.Context, sessionID string) (session.Record, error) {
	id, err := r.GetIdentity(ctx, sessionID)
	if err != nil {
		return session.Record{}, err
	}

	var token string
	if err := r.store.Get(ctx, objectTypeCSRF, sessionID, &token); err != nil && !errors.Is(err, serviceerr.ErrNotFound) {
		return session.Record{}, errors.Join(ErrGetCSRF, err)
	}

	return session.Record{Identity: id, PendingCSRFToken: token}, nil
}

func (r *Repository) SetIdentity(ctx context.Context, sessionID string, id identity.Identity) error {
	if err := r.store.Set(ctx, objectTypeIdentity, sessionID, id); err != nil {
		return errors.Join(ErrStoreIdentity, err)
	}

	return nil
}

func (r *Repository) GetIdentity(ctx context.Context, sessionID string) (*identity.Identity, error) {
	var id identity.Identity
	if err := r.store.Get(ctx, objectTypeIdentity, sessionID, &id); err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Join(ErrGetIdentity, err)
	}

	return &id, nil
}

func (r *Repository) ClearIdentity(ctx context.Context, sessionID string) error {
	if err := r.store.Destroy(ctx, objectTypeIdentity, sessionID); err != nil {
		return errors.Join(ErrClearIdentity, err)
	}

	return nil
}

func (r *Repository) SetPendingCSRF(ctx context.Context, sessionID, token string) error {
	if err := r.store.Set(ctx, objectTypeCSRF, sessionID, token); err != nil {
		return errors.Join(ErrStoreCSRF, err)
	}

	return nil
}

func (r *Repository) ConsumeCSRF(ctx context.Context, sessionID string) (string, bool, error) {
	var token string
	if err := r.store.Take(ctx, objectTypeCSRF, sessionID, &token); err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return "", false, nil
		}
		return "", false, errors.Join(ErrConsumeCSRF, err)
	}

	return token, token != "", nil
}
