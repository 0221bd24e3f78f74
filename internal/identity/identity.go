// Package identity normalises the profile document returned by the identity
// provider into the identity record kept in a session.
package identity

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/openkcm/auth-lifecycle/internal/serviceerr"
)

// Identity is the normalised user profile stored per session.
type Identity struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	// ExpiresAt is the access token expiry in epoch seconds. Nil means the
	// identity is valid for the lifetime of the session.
	ExpiresAt *int64 `json:"expires_at,omitempty"`
}

// WithExpiry returns a copy of the identity expiring at the given epoch second.
func (i Identity) WithExpiry(epochSeconds int64) Identity {
	i.ExpiresAt = &epochSeconds
	return i
}

// Clone returns a deep copy so callers never share the expiry pointer.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	if i.ExpiresAt != nil {
		exp := *i.ExpiresAt
		c.ExpiresAt = &exp
	}
	return &c
}

// Extract builds an Identity from a raw profile. The user id is read from
// "sub" and falls back to "id". The id and "email" are the only fields the
// provider must deliver.
func Extract(raw map[string]any) (Identity, error) {
	userID := stringField(raw, "sub")
	if userID == "" {
		userID = stringField(raw, "id")
	}
	email := stringField(raw, "email")

	if userID == "" || email == "" {
		return Identity{}, serviceerr.ErrMalformedIdentity
	}

	return Identity{
		UserID:  userID,
		Email:   email,
		Name:    stringField(raw, "name"),
		Picture: stringField(raw, "picture"),
	}, nil
}

// Decode reads a JSON profile document and extracts the identity from it.
func Decode(r io.Reader) (Identity, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Identity{}, fmt.Errorf("%w: decoding profile: %w", serviceerr.ErrMalformedIdentity, err)
	}

	return Extract(raw)
}

func stringField(raw map[string]any, key string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}

	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
