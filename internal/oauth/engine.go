// Package oauth runs the authorization code handshake with the identity
// provider.
package oauth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-lifecycle/internal/config"
	"github.com/openkcm/auth-lifecycle/internal/identity"
	"github.com/openkcm/auth-lifecycle/internal/nonce"
	"github.com/openkcm/auth-lifecycle/internal/serviceerr"
	"github.com/openkcm/auth-lifecycle/internal/session"
)

type Engine struct {
	provider *config.Provider
	sessions session.Repository
	client   *http.Client
	nonce    nonce.Source
}

func NewEngine(cfg *config.Provider, sessions session.Repository, httpClient *http.Client) *Engine {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Engine{
		provider: cfg,
		sessions: sessions,
		client:   httpClient,
	}
}

// BuildAuthorizationURL issues a fresh CSRF state for the session and returns
// the provider authorization URL carrying it.
func (e *Engine) BuildAuthorizationURL(ctx context.Context, sessionID string) (string, error) {
	provider, err := e.provider.Resolve()
	if err != nil {
		return "", err
	}

	state := e.nonce.CSRFToken()
	if err := e.sessions.SetPendingCSRF(ctx, sessionID, state); err != nil {
		return "", fmt.Errorf("storing csrf state: %w", err)
	}

	opts := make([]oauth2.AuthCodeOption, 0, len(provider.AuthParams))
	for k, v := range provider.AuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	return oauthConfig(provider).AuthCodeURL(state, opts...), nil
}

// CompleteCallback redeems the pending CSRF state, exchanges the code and
// fetches the user profile. The identity is returned, not stored.
func (e *Engine) CompleteCallback(ctx context.Context, sessionID, code, returnedState string) (identity.Identity, error) {
	pending, ok, err := e.sessions.ConsumeCSRF(ctx, sessionID)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("consuming csrf state: %w", err)
	}
	if !ok || subtle.ConstantTimeCompare([]byte(pending), []byte(returnedState)) != 1 {
		return identity.Identity{}, serviceerr.ErrCSRFMismatch
	}

	provider, err := e.provider.Resolve()
	if err != nil {
		return identity.Identity{}, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)

	tok, err := oauthConfig(provider).Exchange(ctx, code)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("%w: %w", serviceerr.ErrTokenExchange, err)
	}

	slogctx.Debug(ctx, "Exchanged the auth code for tokens")

	id, err := e.fetchProfile(ctx, provider.UserInfoURL, tok)
	if err != nil {
		return identity.Identity{}, err
	}

	if !tok.Expiry.IsZero() {
		id = id.WithExpiry(tok.Expiry.Unix())
	}

	return id, nil
}

func (e *Engine) fetchProfile(ctx context.Context, uri string, tok *oauth2.Token) (identity.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("%w: creating request: %w", serviceerr.ErrProfileFetch, err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("%w: executing request: %w", serviceerr.ErrProfileFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return identity.Identity{}, fmt.Errorf("%w: profile request failed with status: %d", serviceerr.ErrProfileFetch, resp.StatusCode)
	}

	return identity.Decode(resp.Body)
}

func oauthConfig(p config.ResolvedProvider) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURI,
		Scopes:       p.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.AuthURL,
			TokenURL:  p.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}
