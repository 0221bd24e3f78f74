package session

import "github.com/openkcm/auth-lifecycle/internal/identity"

// Record is the state kept for one session id.
type Record struct {
	Identity         *identity.Identity // Authenticated identity, nil until a login succeeds
	PendingCSRFToken string             // CSRF state of the in-flight login, empty when none
}
