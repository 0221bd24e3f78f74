package business

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-lifecycle/internal/business/server"
	"github.com/openkcm/auth-lifecycle/internal/config"
	"github.com/openkcm/auth-lifecycle/internal/guard"
	"github.com/openkcm/auth-lifecycle/internal/lifecycle"
	"github.com/openkcm/auth-lifecycle/internal/oauth"
	"github.com/openkcm/auth-lifecycle/internal/session"
	sessionmemory "github.com/openkcm/auth-lifecycle/internal/session/memory"
	sessionvalkey "github.com/openkcm/auth-lifecycle/internal/session/valkey"
)

const defaultProviderTimeout = 10 * time.Second

// Main starts the HTTP auth API server.
func Main(ctx context.Context, cfg *config.Config) error {
	authServer, closeFn, err := initAuthServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the auth lifecycle: %w", err)
	}

	defer closeFn()

	return server.StartHTTPServer(ctx, cfg, authServer)
}

func initAuthServer(ctx context.Context, cfg *config.Config) (_ *server.AuthServer, closeFn func(), _ error) {
	// Missing provider credentials are fatal at startup.
	provider, err := cfg.Provider.Resolve()
	if err != nil {
		return nil, nil, fmt.Errorf("resolving provider configuration: %w", err)
	}

	sessions, closeFn, err := initSessionRepository(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initialising the session repository: %w", err)
	}

	httpClient, err := loadHTTPClient(cfg)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("loading http client: %w", err)
	}

	auditLogger, err := otlpaudit.NewLogger(&cfg.Audit)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("creating audit logger: %w", err)
	}

	engine := oauth.NewEngine(&cfg.Provider, sessions, httpClient)

	orchestrator, err := lifecycle.NewOrchestrator(engine, sessions,
		lifecycle.WithAuditLogger(auditLogger, cfg.Application.Name),
	)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("creating the lifecycle orchestrator: %w", err)
	}

	slogctx.Info(ctx, "Auth lifecycle initialised",
		"backend", cfg.Sessions.Backend,
		"callbackPath", provider.CallbackPath(),
	)

	return server.NewAuthServer(cfg, provider.CallbackPath(), engine, orchestrator, guard.New(orchestrator)), closeFn, nil
}

func initSessionRepository(ctx context.Context, cfg *config.Config) (session.Repository, func(), error) {
	switch cfg.Sessions.Backend {
	case "", config.SessionBackendMemory:
		return sessionmemory.NewRepository(), func() {}, nil
	case config.SessionBackendValKey:
		valkeyClient, err := newValkeyClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		slogctx.Info(ctx, "Using valkey session backend", "prefix", cfg.ValKey.Prefix)

		return sessionvalkey.NewRepository(valkeyClient, cfg.ValKey.Prefix), valkeyClient.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend: %q", cfg.Sessions.Backend)
	}
}

func newValkeyClient(cfg *config.Config) (valkey.Client, error) {
	valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Host)
	if err != nil {
		return nil, fmt.Errorf("loading valkey host: %w", err)
	}

	valkeyUsername, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.User)
	if err != nil {
		return nil, fmt.Errorf("loading valkey username: %w", err)
	}

	valkeyPassword, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Password)
	if err != nil {
		return nil, fmt.Errorf("loading valkey password: %w", err)
	}

	valkeyOpts := valkey.ClientOption{
		InitAddress: []string{string(valkeyHost)},
		Username:    string(valkeyUsername),
		Password:    string(valkeyPassword),
	}

	if cfg.ValKey.SecretRef.Type == commoncfg.MTLSSecretType {
		tlsConfig, err := commoncfg.LoadMTLSConfig(&cfg.ValKey.SecretRef.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading valkey mTLS config from secret ref: %w", err)
		}

		valkeyOpts.TLSConfig = tlsConfig
	}

	valkeyClient, err := valkey.NewClient(valkeyOpts)
	if err != nil {
		return nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return valkeyClient, nil
}

// loadHTTPClient returns the client used to talk to the identity provider.
func loadHTTPClient(cfg *config.Config) (*http.Client, error) {
	timeout := cfg.Provider.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}

	if cfg.Provider.MTLS == nil {
		return &http.Client{Timeout: timeout}, nil
	}

	tlsConfig, err := commoncfg.LoadMTLSConfig(cfg.Provider.MTLS)
	if err != nil {
		return nil, fmt.Errorf("loading mTLS config: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}
