package config

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"strings"

	"github.com/openkcm/common-sdk/pkg/commoncfg"

	"github.com/openkcm/auth-lifecycle/internal/serviceerr"
)

const (
	EnvClientID     = "GOOGLE_CLIENT_ID"
	EnvClientSecret = "GOOGLE_CLIENT_SECRET"
	EnvRedirectURI  = "GOOGLE_REDIRECT_URI"
	EnvCallbackURL  = "GOOGLE_CALLBACK_URL"

	DefaultRedirectURI = "http://localhost:3000/auth/google/callback"
	DefaultAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	DefaultTokenURL    = "https://oauth2.googleapis.com/token"
	DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

var (
	DefaultScopes     = []string{"openid", "email", "profile"}
	DefaultAuthParams = map[string]string{
		"access_type": "online",
		"prompt":      "select_account",
	}
)

// ResolvedProvider is the provider configuration with all secrets loaded
// and defaults applied.
type ResolvedProvider struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
	AuthParams   map[string]string
}

// Resolve loads the credentials and applies the defaults. It fails with
// serviceerr.ErrConfiguration when the client id or secret is missing.
func (p *Provider) Resolve() (ResolvedProvider, error) {
	clientID, err := loadRef(p.ClientID, EnvClientID)
	if err != nil {
		return ResolvedProvider{}, errors.Join(serviceerr.ErrConfiguration, fmt.Errorf("loading client id: %w", err))
	}

	clientSecret, err := loadRef(p.ClientSecret, EnvClientSecret)
	if err != nil {
		return ResolvedProvider{}, errors.Join(serviceerr.ErrConfiguration, fmt.Errorf("loading client secret: %w", err))
	}

	var missing []string
	if clientID == "" {
		missing = append(missing, "client id")
	}
	if clientSecret == "" {
		missing = append(missing, "client secret")
	}
	if len(missing) > 0 {
		return ResolvedProvider{}, errors.Join(serviceerr.ErrConfiguration,
			fmt.Errorf("missing provider %s", strings.Join(missing, " and ")))
	}

	resolved := ResolvedProvider{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  firstNonEmpty(p.RedirectURI, os.Getenv(EnvRedirectURI), os.Getenv(EnvCallbackURL), DefaultRedirectURI),
		AuthURL:      firstNonEmpty(p.AuthURL, DefaultAuthURL),
		TokenURL:     firstNonEmpty(p.TokenURL, DefaultTokenURL),
		UserInfoURL:  firstNonEmpty(p.UserInfoURL, DefaultUserInfoURL),
		Scopes:       p.Scopes,
		AuthParams:   make(map[string]string, len(DefaultAuthParams)+len(p.AuthParams)),
	}
	if len(resolved.Scopes) == 0 {
		resolved.Scopes = DefaultScopes
	}
	maps.Copy(resolved.AuthParams, DefaultAuthParams)
	maps.Copy(resolved.AuthParams, p.AuthParams)

	return resolved, nil
}

// CallbackPath returns the path component of the redirect URI.
func (r ResolvedProvider) CallbackPath() string {
	u, err := url.Parse(r.RedirectURI)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func loadRef(ref commoncfg.SourceRef, env string) (string, error) {
	if ref.Source == "" {
		return strings.TrimSpace(os.Getenv(env)), nil
	}

	val, err := commoncfg.LoadValueFromSourceRef(ref)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(val)), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
