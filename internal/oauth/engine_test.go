package oauth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/auth-lifecycle/internal/config"
	"github.com/openkcm/auth-lifecycle/internal/identity"
	"github.com/openkcm/auth-lifecycle/internal/oauth"
	"github.com/openkcm/auth-lifecycle/internal/serviceerr"
	sessionmemory "github.com/openkcm/auth-lifecycle/internal/session/memory"
	sessionmock "github.com/openkcm/auth-lifecycle/internal/session/mock"
)

const (
	clientID     = "abc"
	clientSecret = "shh"
	redirectURI  = "http://localhost:3000/auth/google/callback"
	goodCode     = "code1"
	accessToken  = "access-token-1"
)

type fakeProvider struct {
	tokenStatus    int
	tokenBody      map[string]any
	profileStatus  int
	profileBody    string
	tokenRequests  atomic.Int32
	profileAuthHdr atomic.Value
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		tokenStatus: http.StatusOK,
		tokenBody: map[string]any{
			"access_token": accessToken,
			"token_type":   "Bearer",
			"expires_in":   3600,
		},
		profileStatus: http.StatusOK,
		profileBody:   `{"sub":"42","email":"x@y.com","name":"Ada","picture":"https://example.com/p.png"}`,
	}
}

func (f *fakeProvider) start(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenRequests.Add(1)
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("grant_type") != "authorization_code" ||
			r.PostForm.Get("code") != goodCode ||
			r.PostForm.Get("client_id") != clientID ||
			r.PostForm.Get("client_secret") != clientSecret ||
			r.PostForm.Get("redirect_uri") != redirectURI {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenStatus)
		_ = json.NewEncoder(w).Encode(f.tokenBody)
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		f.profileAuthHdr.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.profileStatus)
		_, _ = w.Write([]byte(f.profileBody))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func providerConfig(serverURL string) *config.Provider {
	return &config.Provider{
		ClientID:     commoncfg.SourceRef{Source: "embedded", Value: clientID},
		ClientSecret: commoncfg.SourceRef{Source: "embedded", Value: clientSecret},
		RedirectURI:  redirectURI,
		AuthURL:      serverURL + "/auth",
		TokenURL:     serverURL + "/token",
		UserInfoURL:  serverURL + "/userinfo",
	}
}

func stateFrom(t *testing.T, authURL string) string {
	t.Helper()

	u, err := url.Parse(authURL)
	require.NoError(t, err)

	return u.Query().Get("state")
}

func TestBuildAuthorizationURL(t *testing.T) {
	ctx := t.Context()
	sessions := sessionmemory.NewRepository()
	engine := oauth.NewEngine(providerConfig("https://idp.example.com"), sessions, nil)

	authURL, err := engine.BuildAuthorizationURL(ctx, "S1")
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", u.Host)
	assert.Equal(t, "/auth", u.Path)

	q := u.Query()
	assert.Equal(t, clientID, q.Get("client_id"))
	assert.Equal(t, redirectURI, q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Equal(t, "online", q.Get("access_type"))
	assert.Equal(t, "select_account", q.Get("prompt"))
	assert.Empty(t, q.Get("client_secret"))

	state := q.Get("state")
	assert.Len(t, state, 32)

	// the state is retrievable exactly once from S1
	token, ok, err := sessions.ConsumeCSRF(ctx, "S1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, state, token)

	_, ok, err = sessions.ConsumeCSRF(ctx, "S1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildAuthorizationURL_NewStateReplacesOld(t *testing.T) {
	ctx := t.Context()
	sessions := sessionmemory.NewRepository()
	engine := oauth.NewEngine(providerConfig("https://idp.example.com"), sessions, nil)

	first, err := engine.BuildAuthorizationURL(ctx, "S1")
	require.NoError(t, err)
	second, err := engine.BuildAuthorizationURL(ctx, "S1")
	require.NoError(t, err)

	assert.NotEqual(t, stateFrom(t, first), stateFrom(t, second))

	rec, err := sessions.GetOrCreate(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, stateFrom(t, second), rec.PendingCSRFToken)
}

func TestBuildAuthorizationURL_Errors(t *testing.T) {
	ctx := t.Context()

	t.Run("missing credentials", func(t *testing.T) {
		t.Setenv(config.EnvClientID, "")
		t.Setenv(config.EnvClientSecret, "")
		sessions := sessionmock.NewInMemRepository()
		engine := oauth.NewEngine(&config.Provider{}, sessions, nil)

		_, err := engine.BuildAuthorizationURL(ctx, "S1")
		require.ErrorIs(t, err, serviceerr.ErrConfiguration)
		assert.Empty(t, sessions.TRecord("S1").PendingCSRFToken)
	})

	t.Run("store failure", func(t *testing.T) {
		sessions := sessionmock.NewInMemRepository(sessionmock.WithSetCSRFError(serviceerr.ErrUnknown))
		engine := oauth.NewEngine(providerConfig("https://idp.example.com"), sessions, nil)

		_, err := engine.BuildAuthorizationURL(ctx, "S1")
		require.ErrorIs(t, err, serviceerr.ErrUnknown)
	})
}

func TestCompleteCallback(t *testing.T) {
	ctx := t.Context()
	fake := newFakeProvider()
	server := fake.start(t)

	sessions := sessionmemory.NewRepository()
	engine := oauth.NewEngine(providerConfig(server.URL), sessions, server.Client())

	authURL, err := engine.BuildAuthorizationURL(ctx, "S1")
	require.NoError(t, err)

	before := time.Now().Unix()
	got, err := engine.CompleteCallback(ctx, "S1", goodCode, stateFrom(t, authURL))
	require.NoError(t, err)

	assert.Equal(t, "42", got.UserID)
	assert.Equal(t, "x@y.com", got.Email)
	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, "https://example.com/p.png", got.Picture)
	require.NotNil(t, got.ExpiresAt)
	assert.InDelta(t, before+3600, *got.ExpiresAt, 5)
	assert.Equal(t, "Bearer "+accessToken, fake.profileAuthHdr.Load())

	t.Run("identity is not written to the store", func(t *testing.T) {
		id, err := sessions.GetIdentity(ctx, "S1")
		require.NoError(t, err)
		assert.Nil(t, id)
	})

	t.Run("the same state cannot be redeemed twice", func(t *testing.T) {
		_, err := engine.CompleteCallback(ctx, "S1", goodCode, stateFrom(t, authURL))
		require.ErrorIs(t, err, serviceerr.ErrCSRFMismatch)
		assert.Equal(t, int32(1), fake.tokenRequests.Load())
	})
}

func TestCompleteCallback_NoExpiry(t *testing.T) {
	ctx := t.Context()
	fake := newFakeProvider()
	delete(fake.tokenBody, "expires_in")
	server := fake.start(t)

	sessions := sessionmock.NewInMemRepository(sessionmock.WithPendingCSRF("S1", "good-state"))
	engine := oauth.NewEngine(providerConfig(server.URL), sessions, server.Client())

	got, err := engine.CompleteCallback(ctx, "S1", goodCode, "good-state")
	require.NoError(t, err)
	assert.Nil(t, got.ExpiresAt)
}

func TestCompleteCallback_CSRFMismatch(t *testing.T) {
	ctx := t.Context()
	fake := newFakeProvider()
	server := fake.start(t)

	sessions := sessionmock.NewInMemRepository(sessionmock.WithPendingCSRF("S1", "good-state"))
	engine := oauth.NewEngine(providerConfig(server.URL), sessions, server.Client())

	_, err := engine.CompleteCallback(ctx, "S1", "code1", "bad-state")
	require.ErrorIs(t, err, serviceerr.ErrCSRFMismatch)

	assert.Empty(t, sessions.TRecord("S1").PendingCSRFToken)
	assert.Zero(t, fake.tokenRequests.Load())

	// the stale token is gone, so even the right state fails now
	_, err = engine.CompleteCallback(ctx, "S1", "code1", "good-state")
	require.ErrorIs(t, err, serviceerr.ErrCSRFMismatch)
}

func TestCompleteCallback_NoPendingState(t *testing.T) {
	engine := oauth.NewEngine(providerConfig("https://idp.example.com"), sessionmock.NewInMemRepository(), nil)

	_, err := engine.CompleteCallback(t.Context(), "S1", "code1", "")
	require.ErrorIs(t, err, serviceerr.ErrCSRFMismatch)
}

func TestCompleteCallback_ProviderFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *fakeProvider)
		code    string
		wantErr error
	}{
		{
			name:    "token endpoint rejects the code",
			code:    "wrong-code",
			wantErr: serviceerr.ErrTokenExchange,
		},
		{
			name:    "token endpoint server error",
			mutate:  func(f *fakeProvider) { f.tokenStatus = http.StatusInternalServerError },
			wantErr: serviceerr.ErrTokenExchange,
		},
		{
			name:    "token response without access token",
			mutate:  func(f *fakeProvider) { f.tokenBody = map[string]any{"token_type": "Bearer"} },
			wantErr: serviceerr.ErrTokenExchange,
		},
		{
			name:    "profile endpoint unauthorized",
			mutate:  func(f *fakeProvider) { f.profileStatus = http.StatusUnauthorized },
			wantErr: serviceerr.ErrProfileFetch,
		},
		{
			name:    "profile missing id and email",
			mutate:  func(f *fakeProvider) { f.profileBody = `{"name":"nobody"}` },
			wantErr: serviceerr.ErrMalformedIdentity,
		},
		{
			name:    "profile is not json",
			mutate:  func(f *fakeProvider) { f.profileBody = `<html></html>` },
			wantErr: serviceerr.ErrMalformedIdentity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeProvider()
			if tt.mutate != nil {
				tt.mutate(fake)
			}
			server := fake.start(t)
			code := tt.code
			if code == "" {
				code = goodCode
			}

			sessions := sessionmock.NewInMemRepository(sessionmock.WithPendingCSRF("S1", "good-state"))
			engine := oauth.NewEngine(providerConfig(server.URL), sessions, server.Client())

			_, err := engine.CompleteCallback(t.Context(), "S1", code, "good-state")
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, sessions.TRecord("S1").PendingCSRFToken)
		})
	}
}

func TestCompleteCallback_UnreachableProvider(t *testing.T) {
	fake := newFakeProvider()
	server := fake.start(t)
	cfg := providerConfig(server.URL)
	server.Close()

	sessions := sessionmock.NewInMemRepository(sessionmock.WithPendingCSRF("S1", "good-state"))
	engine := oauth.NewEngine(cfg, sessions, &http.Client{Timeout: time.Second})

	_, err := engine.CompleteCallback(t.Context(), "S1", goodCode, "good-state")
	require.ErrorIs(t, err, serviceerr.ErrTokenExchange)
}

func TestCompleteCallback_ConcurrentRedemption(t *testing.T) {
	ctx := t.Context()
	fake := newFakeProvider()
	server := fake.start(t)

	sessions := sessionmemory.NewRepository()
	engine := oauth.NewEngine(providerConfig(server.URL), sessions, server.Client())

	authURL, err := engine.BuildAuthorizationURL(ctx, "S1")
	require.NoError(t, err)
	state := stateFrom(t, authURL)

	var (
		mu        sync.Mutex
		successes []identity.Identity
		wg        sync.WaitGroup
	)
	for range 10 {
		wg.Go(func() {
			id, err := engine.CompleteCallback(ctx, "S1", goodCode, state)
			if err != nil {
				assert.ErrorIs(t, err, serviceerr.ErrCSRFMismatch)
				return
			}
			mu.Lock()
			successes = append(successes, id)
			mu.Unlock()
		})
	}
	wg.Wait()

	assert.Len(t, successes, 1)
	assert.Equal(t, int32(1), fake.tokenRequests.Load())
}
