// Package sessionmemory keeps session records in process memory. Records never
// expire; they live as long as the process.
package sessionmemory

import (
	"context"
	"sync"

	"github.com/patrickmn/go-cache"

	"github.com/openkcm/auth-lifecycle/internal/identity"
	"github.com/openkcm/auth-lifecycle/internal/session"
)

// entry guards one record. Operations on different session ids never contend.
type entry struct {
	mu     sync.Mutex
	record session.Record
}

type Repository struct {
	entries *cache.Cache
}

var _ = session.Repository(&Repository{})

func NewRepository() *Repository {
	return &Repository{
		// no default expiry and no janitor
		entries: cache.New(cache.NoExpiration, 0),
	}
}

// Len returns the number of session ids seen so far.
func (r *Repository) Len() int {
	return r.entries.ItemCount()
}

func (r *Repository) GetOrCreate(_ context.Context, sessionID string) (session.Record, error) {
	e := r.getOrCreateEntry(sessionID)

	e.mu.Lock()
	defer e.mu.Unlock()

	return copyRecord(e.record), nil
}

func (r *Repository) SetIdentity(_ context.Context, sessionID string, id identity.Identity) error {
	e := r.getOrCreateEntry(sessionID)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.record.Identity = id.Clone()

	return nil
}

func (r *Repository) GetIdentity(_ context.Context, sessionID string) (*identity.Identity, error) {
	e, ok := r.lookup(sessionID)
	if !ok {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.record.Identity.Clone(), nil
}

func (r *Repository) ClearIdentity(_ context.Context, sessionID string) error {
	e, ok := r.lookup(sessionID)
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.record.Identity = nil

	return nil
}

func (r *Repository) SetPendingCSRF(_ context.Context, sessionID, token string) error {
	e := r.getOrCreateEntry(sessionID)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.record.PendingCSRFToken = token

	return nil
}

func (r *Repository) ConsumeCSRF(_ context.Context, sessionID string) (string, bool, error) {
	e, ok := r.lookup(sessionID)
	if !ok {
		return "", false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	token := e.record.PendingCSRFToken
	e.record.PendingCSRFToken = ""

	return token, token != "", nil
}

func (r *Repository) lookup(sessionID string) (*entry, bool) {
	v, ok := r.entries.Get(sessionID)
	if !ok {
		return nil, false
	}

	//nolint:forcetypeassert
	return v.(*entry), true
}

func (r *Repository) getOrCreateEntry(sessionID string) *entry {
	if e, ok := r.lookup(sessionID); ok {
		return e
	}

	e := &entry{}
	if err := r.entries.Add(sessionID, e, cache.NoExpiration); err != nil {
		// another request created the entry first, use theirs
		existing, _ := r.lookup(sessionID)
		return existing
	}

	return e
}

func copyRecord(rec session.Record) session.Record {
	return session.Record{
		Identity:         rec.Identity.Clone(),
		PendingCSRFToken: rec.PendingCSRFToken,
	}
}
