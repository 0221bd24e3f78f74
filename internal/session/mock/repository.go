package sessionmock

import (
	"context"
	"sync"

	"github.com/openkcm/auth-lifecycle/internal/identity"
	"github.com/openkcm/auth-lifecycle/internal/session"
)

type RepositoryOption func(*Repository)

type Repository struct {
	mu      sync.Mutex
	records map[string]session.Record

	getOrCreateErr                                   error
	setIdentityErr, getIdentityErr, clearIdentityErr error
	setCSRFErr, consumeCSRFErr                       error

	clearCalls int
}

func WithIdentity(sessionID string, id identity.Identity) RepositoryOption {
	return func(r *Repository) {
		rec := r.records[sessionID]
		rec.Identity = id.Clone()
		r.records[sessionID] = rec
	}
}
func WithPendingCSRF(sessionID, token string) RepositoryOption {
	return func(r *Repository) {
		rec := r.records[sessionID]
		rec.PendingCSRFToken = token
		r.records[sessionID] = rec
	}
}
func WithGetOrCreateError(err error) RepositoryOption {
	return func(r *Repository) { r.getOrCreateErr = err }
}
func WithSetIdentityError(err error) RepositoryOption {
	return func(r *Repository) { r.setIdentityErr = err }
}
func WithGetIdentityError(err error) RepositoryOption {
	return func(r *Repository) { r.getIdentityErr = err }
}
func WithClearIdentityError(err error) RepositoryOption {
	return func(r *Repository) { r.clearIdentityErr = err }
}
func WithSetCSRFError(err error) RepositoryOption {
	return func(r *Repository) { r.setCSRFErr = err }
}
func WithConsumeCSRFError(err error) RepositoryOption {
	return func(r *Repository) { r.consumeCSRFErr = err }
}

var _ = session.Repository(&Repository{})

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		records: make(map[string]session.Record),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// ClearCalls returns how many times ClearIdentity was invoked.
func (r *Repository) ClearCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clearCalls
}

// TRecord returns the raw record for assertions.
func (r *Repository) TRecord(sessionID string) session.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[sessionID]
}

func (r *Repository) GetOrCreate(_ context.Context, sessionID string) (session.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getOrCreateErr != nil {
		return session.Record{}, r.getOrCreateErr
	}
	rec := r.records[sessionID]
	r.records[sessionID] = rec
	return session.Record{Identity: rec.Identity.Clone(), PendingCSRFToken: rec.PendingCSRFToken}, nil
}

func (r *Repository) SetIdentity(_ context.Context, sessionID string, id identity.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setIdentityErr != nil {
		return r.setIdentityErr
	}
	rec := r.records[sessionID]
	rec.Identity = id.Clone()
	r.records[sessionID] = rec
	return nil
}

func (r *Repository) GetIdentity(_ context.Context, sessionID string) (*identity.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getIdentityErr != nil {
		return nil, r.getIdentityErr
	}
	return r.records[sessionID].Identity.Clone(), nil
}

func (r *Repository) ClearIdentity(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearCalls++
	if r.clearIdentityErr != nil {
		return r.clearIdentityErr
	}
	rec, ok := r.records[sessionID]
	if !ok {
		return nil
	}
	rec.Identity = nil
	r.records[sessionID] = rec
	return nil
}

func (r *Repository) SetPendingCSRF(_ context.Context, sessionID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setCSRFErr != nil {
		return r.setCSRFErr
	}
	rec := r.records[sessionID]
	rec.PendingCSRFToken = token
	r.records[sessionID] = rec
	return nil
}

func (r *Repository) ConsumeCSRF(_ context.Context, sessionID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumeCSRFErr != nil {
		return "", false, r.consumeCSRFErr
	}
	rec, ok := r.records[sessionID]
	if !ok {
		return "", false, nil
	}
	token := rec.PendingCSRFToken
	rec.PendingCSRFToken = ""
	r.records[sessionID] = rec
	return token, token != "", nil
}
