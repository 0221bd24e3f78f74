package guard_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/auth-lifecycle/internal/guard"
	"github.com/openkcm/auth-lifecycle/internal/identity"
	"github.com/openkcm/auth-lifecycle/internal/serviceerr"
)

type stubResolver map[string]*identity.Identity

func (s stubResolver) GetOptionalUser(_ context.Context, sessionID string) *identity.Identity {
	return s[sessionID]
}

var ada = &identity.Identity{UserID: "u1", Email: "a@b.com", Name: "Ada"}

func TestRequireAuth(t *testing.T) {
	g := guard.New(stubResolver{"S1": ada})

	tests := []struct {
		name      string
		sessionID string
		strict    bool
		want      *identity.Identity
		wantErr   error
	}{
		{name: "strict with identity", sessionID: "S1", strict: true, want: ada},
		{name: "optional with identity", sessionID: "S1", strict: false, want: ada},
		{name: "strict without identity", sessionID: "S2", strict: true, wantErr: serviceerr.ErrUnauthenticated},
		{name: "optional without identity", sessionID: "S2", strict: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.RequireAuth(t.Context(), tt.sessionID, tt.strict)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequireAuth_MatchesOptionalUser(t *testing.T) {
	resolver := stubResolver{"S1": ada, "S3": {UserID: "u3", Email: "c@d.com"}}
	g := guard.New(resolver)

	for _, sessionID := range []string{"S1", "S2", "S3", ""} {
		optional := resolver.GetOptionalUser(t.Context(), sessionID)

		got, err := g.RequireAuth(t.Context(), sessionID, true)
		if optional == nil {
			assert.ErrorIs(t, err, serviceerr.ErrUnauthenticated, sessionID)
			continue
		}
		require.NoError(t, err)
		assert.Same(t, optional, got)
	}
}

func TestProtect(t *testing.T) {
	type args struct {
		Format string
	}

	g := guard.New(stubResolver{"S1": ada})

	var gotSession string
	var gotArgs args
	var gotIdentity *identity.Identity
	export := func(ctx context.Context, sessionID string, a args) (string, error) {
		gotSession, gotArgs = sessionID, a
		gotIdentity, _ = guard.IdentityFromContext(ctx)
		return "report." + a.Format, nil
	}

	t.Run("delegates with the same arguments", func(t *testing.T) {
		protected := guard.Protect(g, true, export)

		out, err := protected(t.Context(), "S1", args{Format: "pdf"})
		require.NoError(t, err)
		assert.Equal(t, "report.pdf", out)
		assert.Equal(t, "S1", gotSession)
		assert.Equal(t, args{Format: "pdf"}, gotArgs)
		assert.Equal(t, ada, gotIdentity)
	})

	t.Run("strict denial never runs the operation", func(t *testing.T) {
		calls := 0
		protected := guard.Protect(g, true, func(context.Context, string, args) (string, error) {
			calls++
			return "x", nil
		})

		out, err := protected(t.Context(), "S2", args{})
		require.ErrorIs(t, err, serviceerr.ErrUnauthenticated)
		assert.Empty(t, out)
		assert.Zero(t, calls)
	})

	t.Run("optional runs anonymously", func(t *testing.T) {
		gotIdentity = ada
		protected := guard.Protect(g, false, export)

		out, err := protected(t.Context(), "S2", args{Format: "csv"})
		require.NoError(t, err)
		assert.Equal(t, "report.csv", out)
		assert.Nil(t, gotIdentity)
	})

	t.Run("operation errors pass through", func(t *testing.T) {
		boom := errors.New("boom")
		protected := guard.Protect(g, true, func(context.Context, string, args) (int, error) {
			return 0, boom
		})

		_, err := protected(t.Context(), "S1", args{})
		require.ErrorIs(t, err, boom)
	})
}

func TestMiddleware(t *testing.T) {
	g := guard.New(stubResolver{"S1": ada})
	sessionFromHeader := func(r *http.Request) string { return r.Header.Get("X-Session") }

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := guard.IdentityFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_ = json.NewEncoder(w).Encode(id)
	})

	tests := []struct {
		name       string
		strict     bool
		sessionID  string
		wantStatus int
		wantBody   string
	}{
		{name: "strict allows authenticated", strict: true, sessionID: "S1", wantStatus: http.StatusOK, wantBody: `"user_id":"u1"`},
		{name: "strict denies anonymous", strict: true, sessionID: "S2", wantStatus: http.StatusUnauthorized, wantBody: `"error":"unauthenticated"`},
		{name: "strict denies missing session", strict: true, wantStatus: http.StatusUnauthorized, wantBody: `not authenticated`},
		{name: "optional allows anonymous", strict: false, sessionID: "S2", wantStatus: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if tt.sessionID != "" {
				req.Header.Set("X-Session", tt.sessionID)
			}
			rec := httptest.NewRecorder()

			g.Middleware(tt.strict, sessionFromHeader)(echo).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "service error", err: serviceerr.ErrCSRFMismatch, wantStatus: http.StatusForbidden, wantCode: "csrf_mismatch"},
		{name: "wrapped service error", err: errors.Join(errors.New("ctx"), serviceerr.ErrConfiguration), wantStatus: http.StatusInternalServerError, wantCode: "configuration_error"},
		{name: "plain error", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantCode: "server_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			guard.WriteError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body["error"])
		})
	}
}
