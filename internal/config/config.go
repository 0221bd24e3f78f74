// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP     HTTPServer `yaml:"http"`
	ValKey   ValKey     `yaml:"valkey"`
	Sessions Sessions   `yaml:"sessions"`
	Provider Provider   `yaml:"provider"`
	Frontend Frontend   `yaml:"frontend"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

type ValKey struct {
	Host      commoncfg.SourceRef `yaml:"host"`
	User      commoncfg.SourceRef `yaml:"user"`
	Password  commoncfg.SourceRef `yaml:"password"`
	SecretRef commoncfg.SecretRef `yaml:"secretRef"`
	Prefix    string              `yaml:"prefix" default:"auth-lifecycle"`
}

type SessionBackend string

const (
	SessionBackendMemory SessionBackend = "memory"
	SessionBackendValKey SessionBackend = "valkey"
)

type Sessions struct {
	Backend SessionBackend `yaml:"backend" default:"memory"`
	Cookie  CookieTemplate `yaml:"cookie"`
}

type CookieSameSite string

const (
	CookieSameSiteNone   CookieSameSite = "None"
	CookieSameSiteLax    CookieSameSite = "Lax"
	CookieSameSiteStrict CookieSameSite = "Strict"
)

type CookieTemplate struct {
	Name     string         `yaml:"name" default:"sessionId"`
	MaxAge   int            `yaml:"maxAge" default:"600"`
	Path     string         `yaml:"path" default:"/"`
	Domain   string         `yaml:"domain"`
	Secure   bool           `yaml:"secure"`
	HTTPOnly bool           `yaml:"httpOnly" default:"true"`
	SameSite CookieSameSite `yaml:"sameSite" default:"Lax"`
}

// Frontend holds the locations the browser is sent to once the callback
// has been processed.
type Frontend struct {
	URL         string `yaml:"url" default:"http://localhost:5173"`
	SuccessPath string `yaml:"successPath" default:"/dashboard"`
	FailurePath string `yaml:"failurePath" default:"/login?error=auth_failed"`
}

// Provider describes the OAuth2 identity provider. Unset source references
// fall back to the GOOGLE_* environment variables.
type Provider struct {
	ClientID     commoncfg.SourceRef `yaml:"clientID"`
	ClientSecret commoncfg.SourceRef `yaml:"clientSecret"`
	RedirectURI  string              `yaml:"redirectURI"`

	AuthURL     string   `yaml:"authURL"`
	TokenURL    string   `yaml:"tokenURL"`
	UserInfoURL string   `yaml:"userInfoURL"`
	Scopes      []string `yaml:"scopes"`

	// AuthParams are extra query parameters added to the authorization URL.
	AuthParams map[string]string `yaml:"authParams"`

	HTTPTimeout time.Duration   `yaml:"httpTimeout" default:"10s"`
	MTLS        *commoncfg.MTLS `yaml:"mtls"`
}
