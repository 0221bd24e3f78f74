// Package lifecycle turns inbound callbacks into authenticated sessions and
// keeps stored identities fresh.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-lifecycle/internal/errfunnel"
	"github.com/openkcm/auth-lifecycle/internal/identity"
	"github.com/openkcm/auth-lifecycle/internal/serviceerr"
	"github.com/openkcm/auth-lifecycle/internal/session"
	"github.com/openkcm/auth-lifecycle/internal/token"
)

const (
	outcomeSuccess = "success"
	reasonExpired  = "expired"
	reasonError    = "error"
)

// Flow completes the authorization code callback for a session.
type Flow interface {
	CompleteCallback(ctx context.Context, sessionID, code, state string) (identity.Identity, error)
}

// SessionIDFunc extracts the session identifier from a request. An empty
// result means the request carries no session.
type SessionIDFunc func(r *http.Request) string

type Orchestrator struct {
	flow      Flow
	sessions  session.Repository
	validator token.Validator
	funnel    *errfunnel.Funnel

	audit    *otlpaudit.AuditLogger
	tenantID string

	meter           metric.Meter
	callbackCounter metric.Int64Counter
	resetCounter    metric.Int64Counter
}

type Option func(*Orchestrator)

func WithValidator(v token.Validator) Option {
	return func(o *Orchestrator) { o.validator = v }
}

func WithFunnel(f *errfunnel.Funnel) Option {
	return func(o *Orchestrator) { o.funnel = f }
}

// WithAuditLogger enables user login audit events for the given tenant.
func WithAuditLogger(logger *otlpaudit.AuditLogger, tenantID string) Option {
	return func(o *Orchestrator) {
		o.audit = logger
		o.tenantID = tenantID
	}
}

func WithMeter(m metric.Meter) Option {
	return func(o *Orchestrator) { o.meter = m }
}

func NewOrchestrator(flow Flow, sessions session.Repository, opts ...Option) (*Orchestrator, error) {
	if flow == nil || sessions == nil {
		return nil, errors.New("flow and session repository are required")
	}

	o := &Orchestrator{
		flow:      flow,
		sessions:  sessions,
		validator: token.NewValidator(),
		meter:     otel.Meter("auth-lifecycle/lifecycle", metric.WithInstrumentationVersion(otel.Version())),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.funnel == nil {
		o.funnel = errfunnel.New()
	}
	o.funnel.AddResetHook(o.onReset)

	var err error
	o.callbackCounter, err = o.meter.Int64Counter(
		"auth.callback.count",
		metric.WithDescription("Completed authorization callbacks by outcome"),
		metric.WithUnit("callback"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating callback counter: %w", err)
	}

	o.resetCounter, err = o.meter.Int64Counter(
		"auth.session.reset.count",
		metric.WithDescription("Identities removed from sessions by reason"),
		metric.WithUnit("reset"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating session reset counter: %w", err)
	}

	return o, nil
}

// Initialize runs the lifecycle once per carrier. A callback carried in the
// query is completed and committed; failures leave the session
// unauthenticated and are never returned. The optional user probe always runs.
func (o *Orchestrator) Initialize(ctx context.Context, c *Carrier, sessionID string) {
	if c == nil {
		c = NewCarrier(nil)
	}
	if c.state != Uninitialized {
		return
	}

	c.state = Initializing
	defer func() { c.state = Initialized }()

	if code, state, ok := c.callbackParams(); ok {
		err := o.commitCallback(ctx, sessionID, code, state)
		c.callbackAttempted, c.callbackErr = true, err
		if err != nil {
			o.funnel.Handle(ctx, fmt.Errorf("completing callback: %w", err), nil)
		}
	}

	_ = o.GetOptionalUser(ctx, sessionID)
}

func (o *Orchestrator) commitCallback(ctx context.Context, sessionID, code, state string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: callback panicked: %v", serviceerr.ErrUnknown, r)
		}
		o.recordCallback(ctx, err)
	}()

	id, err := o.flow.CompleteCallback(ctx, sessionID, code, state)
	if err != nil {
		o.sendLoginFailureAudit(ctx, err)
		return err
	}

	if err := o.sessions.SetIdentity(ctx, sessionID, id); err != nil {
		o.sendLoginFailureAudit(ctx, err)
		return fmt.Errorf("storing identity: %w", err)
	}

	slogctx.Info(ctx, "User authenticated", "user_id", id.UserID)
	o.sendLoginSuccessAudit(ctx, id)

	return nil
}

// GetOptionalUser returns the identity of the session when it is still valid.
// Stale identities are logged out. It never fails: errors are funnelled and
// reported as no user.
func (o *Orchestrator) GetOptionalUser(ctx context.Context, sessionID string) (user *identity.Identity) {
	defer func() {
		if r := recover(); r != nil {
			user = nil
			o.funnel.Handle(ctx, fmt.Errorf("%w: resolving user panicked: %v", serviceerr.ErrUnknown, r), o.resetFunc(sessionID))
		}
	}()

	id, err := o.sessions.GetIdentity(ctx, sessionID)
	if err != nil {
		o.funnel.Handle(ctx, fmt.Errorf("reading identity: %w", err), o.resetFunc(sessionID))
		return nil
	}
	if id == nil {
		return nil
	}

	if !o.validator.IsValid(id) {
		slogctx.Debug(ctx, "Stored identity is no longer valid, logging out", "user_id", id.UserID)
		o.resetCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reasonExpired)))
		o.Logout(ctx, sessionID)
		return nil
	}

	return id
}

// Logout removes the identity from the session. Store failures are funnelled.
func (o *Orchestrator) Logout(ctx context.Context, sessionID string) {
	defer func() {
		if r := recover(); r != nil {
			o.funnel.Handle(ctx, fmt.Errorf("%w: logout panicked: %v", serviceerr.ErrUnknown, r), nil)
		}
	}()

	if err := o.sessions.ClearIdentity(ctx, sessionID); err != nil {
		o.funnel.Handle(ctx, fmt.Errorf("clearing identity: %w", err), nil)
	}
}

// Middleware runs Initialize for every request that carries a session and
// stores the carrier in the request context.
func (o *Orchestrator) Middleware(sessionID SessionIDFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			c, ok := CarrierFromContext(ctx)
			if !ok {
				c = CarrierFromRequest(r)
				ctx = ContextWithCarrier(ctx, c)
			}

			if id := sessionID(r); id != "" {
				o.Initialize(ctx, c, id)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (o *Orchestrator) resetFunc(sessionID string) errfunnel.ResetFunc {
	return func(ctx context.Context) error {
		return o.sessions.ClearIdentity(ctx, sessionID)
	}
}

func (o *Orchestrator) onReset(ctx context.Context, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	o.resetCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reasonError),
		attribute.String("result", result),
	))
}

func (o *Orchestrator) recordCallback(ctx context.Context, err error) {
	outcome := outcomeSuccess
	if err != nil {
		outcome = string(serviceerr.CodeUnknown)
		if se := new(serviceerr.Error); errors.As(err, &se) {
			outcome = string(se.Err)
		}
	}
	o.callbackCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
