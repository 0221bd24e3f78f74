package lifecycle

import (
	"context"
	"net/http"
	"net/url"
)

type InitState int

const (
	Uninitialized InitState = iota
	Initializing
	Initialized
)

func (s InitState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	default:
		return "unknown"
	}
}

// Carrier is the per-request unit of work. It exposes the query parameters
// of the request and records whether the lifecycle already ran for it.
type Carrier struct {
	query url.Values
	state InitState

	callbackAttempted bool
	callbackErr       error
}

func NewCarrier(query url.Values) *Carrier {
	if query == nil {
		query = url.Values{}
	}
	return &Carrier{query: query}
}

func CarrierFromRequest(r *http.Request) *Carrier {
	if r == nil || r.URL == nil {
		return NewCarrier(nil)
	}
	return NewCarrier(r.URL.Query())
}

// Param returns the first value of the named query parameter.
func (c *Carrier) Param(name string) (string, bool) {
	if c == nil || !c.query.Has(name) {
		return "", false
	}
	return c.query.Get(name), true
}

func (c *Carrier) State() InitState {
	if c == nil {
		return Uninitialized
	}
	return c.state
}

// CallbackOutcome reports whether the lifecycle completed a callback for this
// carrier and the error it ended with. The error is informational only, it
// has already been funnelled.
func (c *Carrier) CallbackOutcome() (attempted bool, err error) {
	if c == nil {
		return false, nil
	}
	return c.callbackAttempted, c.callbackErr
}

// callbackParams returns the authorization code and state when both are
// present and non-empty.
func (c *Carrier) callbackParams() (code, state string, ok bool) {
	code, _ = c.Param("code")
	state, _ = c.Param("state")
	return code, state, code != "" && state != ""
}

type carrierKey struct{}

func ContextWithCarrier(ctx context.Context, c *Carrier) context.Context {
	return context.WithValue(ctx, carrierKey{}, c)
}

func CarrierFromContext(ctx context.Context) (*Carrier, bool) {
	c, ok := ctx.Value(carrierKey{}).(*Carrier)
	return c, ok && c != nil
}
