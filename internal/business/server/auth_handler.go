package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-lifecycle/internal/config"
	"github.com/openkcm/auth-lifecycle/internal/guard"
	"github.com/openkcm/auth-lifecycle/internal/identity"
	"github.com/openkcm/auth-lifecycle/internal/lifecycle"
	"github.com/openkcm/auth-lifecycle/internal/nonce"
	"github.com/openkcm/auth-lifecycle/internal/serviceerr"
)

const defaultSessionCookieName = "sessionId"

var errMissingCallbackParams = &serviceerr.Error{Err: serviceerr.CodeInvalidRequest, Description: "missing code or state"}

// AuthorizationURLBuilder issues the provider authorization URL for a session.
type AuthorizationURLBuilder interface {
	BuildAuthorizationURL(ctx context.Context, sessionID string) (string, error)
}

type AuthServer struct {
	cfg          *config.Config
	callbackPath string

	authURLs  AuthorizationURLBuilder
	lifecycle *lifecycle.Orchestrator
	guard     *guard.Guard
	nonce     nonce.Source
}

func NewAuthServer(
	cfg *config.Config,
	callbackPath string,
	authURLs AuthorizationURLBuilder,
	orchestrator *lifecycle.Orchestrator,
	g *guard.Guard,
) *AuthServer {
	return &AuthServer{
		cfg:          cfg,
		callbackPath: callbackPath,
		authURLs:     authURLs,
		lifecycle:    orchestrator,
		guard:        g,
	}
}

// Handler returns the routes of the auth API. Every route runs the auth
// lifecycle before its handler.
func (s *AuthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	withLifecycle := s.lifecycle.Middleware(s.sessionID)

	route := func(pattern, operationID string, h http.Handler) {
		mux.Handle(pattern, newTraceMiddleware(s.cfg, operationID, withLifecycle(h)))
	}

	route("GET /auth/login", "Login", http.HandlerFunc(s.login))
	route("GET "+s.callbackPath, "Callback", http.HandlerFunc(s.callback))
	route("POST /auth/logout", "Logout", http.HandlerFunc(s.logout))
	route("GET /auth/me", "Me", s.guard.Middleware(true, s.sessionID)(http.HandlerFunc(s.me)))
	route("GET /auth/status", "Status", s.guard.Middleware(false, s.sessionID)(http.HandlerFunc(s.status)))

	return corsMiddleware(s.cfg.Frontend.URL, mux)
}

func (s *AuthServer) sessionID(r *http.Request) string {
	c, err := r.Cookie(s.cookieTemplate().Name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *AuthServer) cookieTemplate() config.CookieTemplate {
	tmpl := s.cfg.Sessions.Cookie
	if tmpl.Name == "" {
		tmpl.Name = defaultSessionCookieName
	}
	if tmpl.Path == "" {
		tmpl.Path = "/"
	}
	return tmpl
}

func (s *AuthServer) makeSessionCookie(ctx context.Context, value string) (*http.Cookie, error) {
	tmpl := s.cookieTemplate()
	cookie := tmpl.ToCookie(value)

	if err := cookie.Valid(); err != nil {
		return nil, err
	}

	if !cookie.Secure {
		slogctx.Warn(ctx, "Session cookie is not marked as Secure; this is not recommended in production environments")
	}
	if !cookie.HttpOnly {
		slogctx.Warn(ctx, "Session cookie is not marked as HttpOnly; this is not recommended in production environments")
	}

	return cookie, nil
}

func (s *AuthServer) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := s.sessionID(r)
	if sessionID == "" {
		sessionID = s.nonce.SessionID()

		cookie, err := s.makeSessionCookie(ctx, sessionID)
		if err != nil {
			slogctx.Error(ctx, "Failed to create the session cookie", "error", err)
			guard.WriteError(w, serviceerr.ErrServerError)
			return
		}
		http.SetCookie(w, cookie)
	}

	authURL, err := s.authURLs.BuildAuthorizationURL(ctx, sessionID)
	if err != nil {
		slogctx.Error(ctx, "Failed to build the authorization URL", "error", err)
		guard.WriteError(w, err)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// callback is reached after the lifecycle middleware completed the code
// exchange, so only the outcome is inspected here.
func (s *AuthServer) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	carrier, ok := lifecycle.CarrierFromContext(ctx)
	if !ok {
		carrier = lifecycle.CarrierFromRequest(r)
	}
	code, _ := carrier.Param("code")
	state, _ := carrier.Param("state")
	if code == "" || state == "" {
		guard.WriteError(w, errMissingCallbackParams)
		return
	}

	// The redirect follows this callback, not an identity left over from an
	// earlier login on the same session.
	attempted, err := carrier.CallbackOutcome()
	if !attempted || err != nil || s.lifecycle.GetOptionalUser(ctx, s.sessionID(r)) == nil {
		http.Redirect(w, r, s.frontendURL(s.cfg.Frontend.FailurePath, "/login?error=auth_failed"), http.StatusFound)
		return
	}

	http.Redirect(w, r, s.frontendURL(s.cfg.Frontend.SuccessPath, "/dashboard"), http.StatusFound)
}

func (s *AuthServer) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if sessionID := s.sessionID(r); sessionID != "" {
		s.lifecycle.Logout(ctx, sessionID)
	}

	tmpl := s.cookieTemplate()
	cookie := tmpl.ToCookie("")
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)

	writeJSON(ctx, w, http.StatusOK, map[string]bool{"success": true})
}

func (s *AuthServer) me(w http.ResponseWriter, r *http.Request) {
	id, _ := guard.IdentityFromContext(r.Context())
	writeJSON(r.Context(), w, http.StatusOK, id)
}

type statusResponse struct {
	Authenticated bool               `json:"authenticated"`
	User          *identity.Identity `json:"user"`
}

func (s *AuthServer) status(w http.ResponseWriter, r *http.Request) {
	id, ok := guard.IdentityFromContext(r.Context())
	writeJSON(r.Context(), w, http.StatusOK, statusResponse{Authenticated: ok, User: id})
}

func (s *AuthServer) frontendURL(path, fallback string) string {
	if path == "" {
		path = fallback
	}
	return strings.TrimSuffix(s.cfg.Frontend.URL, "/") + path
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slogctx.Error(ctx, "Failed to write the response", "error", err)
	}
}
