// Package token judges whether the identity held in a session is still usable.
package token

import (
	"time"

	"github.com/openkcm/auth-lifecycle/internal/identity"
)

// ExpiryMargin is how long before the provider expiry an identity stops being
// accepted.
const ExpiryMargin = 5 * time.Minute

// Valid reports whether the identity may still be used at the given time.
// An identity without an expiry is valid for the lifetime of the session; a
// non-positive expiry is treated as malformed.
func Valid(id *identity.Identity, now time.Time) bool {
	if id == nil {
		return false
	}

	if id.ExpiresAt == nil {
		return true
	}

	expiresAt := *id.ExpiresAt
	if expiresAt <= 0 {
		return false
	}

	return now.Unix() < expiresAt-int64(ExpiryMargin/time.Second)
}

type Validator struct {
	now func() time.Time
}

type ValidatorOption func(*Validator)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

func NewValidator(opts ...ValidatorOption) Validator {
	v := Validator{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&v)
		}
	}
	return v
}

func (v Validator) IsValid(id *identity.Identity) bool {
	now := v.now
	if now == nil {
		now = time.Now
	}
	return Valid(id, now())
}
