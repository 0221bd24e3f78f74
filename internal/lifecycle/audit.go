package lifecycle

import (
	"context"
	"errors"

	"github.com/google/uuid"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-lifecycle/internal/identity"
	"github.com/openkcm/auth-lifecycle/internal/serviceerr"
)

const auditInitiator = "auth lifecycle"

func (o *Orchestrator) sendLoginSuccessAudit(ctx context.Context, id identity.Identity) {
	if o.audit == nil {
		return
	}

	metadata, err := otlpaudit.NewEventMetadata(auditInitiator, o.tenantID, uuid.NewString())
	if err != nil {
		slogctx.Error(ctx, "creating audit metadata", "error", err)
		return
	}

	event, err := otlpaudit.NewUserLoginSuccessEvent(metadata, id.UserID, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.MFATYPE_NONE, otlpaudit.USERTYPE_BUSINESS, o.tenantID)
	if err != nil {
		slogctx.Error(ctx, "creating audit log", "error", err)
		return
	}

	if err := o.audit.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login success", "error", err)
		return
	}
	slogctx.Debug(ctx, "sent audit log for user login success")
}

// sendLoginFailureAudit reports a failed callback against the tenant, as the
// user is not known yet.
func (o *Orchestrator) sendLoginFailureAudit(ctx context.Context, cause error) {
	if o.audit == nil {
		return
	}

	metadata, err := otlpaudit.NewEventMetadata(auditInitiator, o.tenantID, uuid.NewString())
	if err != nil {
		slogctx.Error(ctx, "creating audit metadata", "error", err)
		return
	}

	reason := string(serviceerr.CodeUnknown)
	if se := new(serviceerr.Error); errors.As(cause, &se) {
		reason = se.Error()
	}

	event, err := otlpaudit.NewUserLoginFailureEvent(metadata, o.tenantID, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.FailReason(reason), o.tenantID)
	if err != nil {
		slogctx.Error(ctx, "creating audit log", "error", err)
		return
	}

	if err := o.audit.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login failure", "error", err)
		return
	}
	slogctx.Debug(ctx, "sent audit log for user login failure")
}
