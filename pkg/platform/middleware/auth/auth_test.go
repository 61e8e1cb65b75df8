package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keeper/pkg/domain"
	"keeper/pkg/requestcontext"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
}

func (v stubValidator) ValidateToken(string) (*JWTClaims, error) { return v.claims, v.err }

type stubRevocations struct {
	revoked bool
	err     error
}

func (r stubRevocations) IsTokenRevoked(context.Context, string) (bool, error) {
	return r.revoked, r.err
}

func serve(mw func(http.Handler) http.Handler, header string) (*httptest.ResponseRecorder, *domain.Caller) {
	var seen *domain.Caller
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := requestcontext.Caller(r.Context()); ok {
			seen = &c
		}
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	mw(next).ServeHTTP(rr, req)
	return rr, seen
}

func TestRequireAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	valid := stubValidator{claims: &JWTClaims{Subject: "alice", Roles: []string{"support"}, JTI: "j1"}}

	t.Run("valid token sets caller", func(t *testing.T) {
		rr, caller := serve(RequireAuth(valid, nil, logger), "Bearer token")
		assert.Equal(t, http.StatusOK, rr.Code)
		require.NotNil(t, caller)
		assert.Equal(t, "alice", caller.ID)
		assert.True(t, caller.HasRole("support"))
	})

	t.Run("missing header", func(t *testing.T) {
		rr, caller := serve(RequireAuth(valid, nil, logger), "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Nil(t, caller)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		rr, _ := serve(RequireAuth(valid, nil, logger), "Basic abc")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		rr, _ := serve(RequireAuth(stubValidator{err: errors.New("bad")}, nil, logger), "Bearer token")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("revoked token", func(t *testing.T) {
		rr, _ := serve(RequireAuth(valid, stubRevocations{revoked: true}, logger), "Bearer token")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "revoked")
	})

	t.Run("revocation store failure fails closed", func(t *testing.T) {
		rr, _ := serve(RequireAuth(valid, stubRevocations{err: errors.New("redis down")}, logger), "Bearer token")
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("missing jti with revocation enabled", func(t *testing.T) {
		noJTI := stubValidator{claims: &JWTClaims{Subject: "alice"}}
		rr, _ := serve(RequireAuth(noJTI, stubRevocations{}, logger), "Bearer token")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
