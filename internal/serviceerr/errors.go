package serviceerr

import "net/http"

// Code is a machine readable error code. The RFC6749 codes are reused where
// the failure maps onto an OAuth2 error.
type Code string

// RFC6749 codes
const (
	CodeInvalidRequest Code = "invalid_request"
	CodeAccessDenied   Code = "access_denied"
	CodeServerError    Code = "server_error"
	CodeInvalidGrant   Code = "invalid_grant"
)

// Custom codes
const (
	CodeUnknown           Code = "unknown"
	CodeConflict          Code = "conflict"
	CodeNotFound          Code = "not_found"
	CodeConfiguration     Code = "configuration_error"
	CodeCSRFMismatch      Code = "csrf_mismatch"
	CodeTokenExchange     Code = "token_exchange_failed"
	CodeProfileFetch      Code = "profile_fetch_failed"
	CodeMalformedIdentity Code = "malformed_identity"
	CodeUnauthenticated   Code = "unauthenticated"
)

type Error struct {
	Err         Code
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

// HTTPStatus maps the error code onto the status an HTTP handler should answer with.
func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeInvalidRequest, CodeInvalidGrant:
		return http.StatusBadRequest
	case CodeAccessDenied, CodeCSRFMismatch:
		return http.StatusForbidden
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTokenExchange, CodeProfileFetch, CodeMalformedIdentity:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RFC6749 errors
var (
	ErrInvalidRequest = &Error{Err: CodeInvalidRequest}
	ErrAccessDenied   = &Error{Err: CodeAccessDenied}
	ErrServerError    = &Error{Err: CodeServerError}
)

// Custom errors
var (
	ErrUnknown           = &Error{Err: CodeUnknown, Description: "unknown error"}
	ErrConflict          = &Error{Err: CodeConflict, Description: "already exists"}
	ErrNotFound          = &Error{Err: CodeNotFound, Description: "not found"}
	ErrConfiguration     = &Error{Err: CodeConfiguration, Description: "missing provider client id or secret"}
	ErrCSRFMismatch      = &Error{Err: CodeCSRFMismatch, Description: "state does not match the pending csrf token"}
	ErrTokenExchange     = &Error{Err: CodeTokenExchange, Description: "could not exchange the authorization code"}
	ErrProfileFetch      = &Error{Err: CodeProfileFetch, Description: "could not fetch the user profile"}
	ErrMalformedIdentity = &Error{Err: CodeMalformedIdentity, Description: "profile is missing the user id or email"}

	// ErrUnauthenticated is the only error the auth guard lets through to its callers.
	ErrUnauthenticated = &Error{Err: CodeUnauthenticated, Description: "not authenticated"}
)
