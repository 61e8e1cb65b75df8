package identity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "keeper/pkg/domain-errors"
)

var jwtService = NewJWTService("test-signing-key", "keeper-test")

func TestIssueAndValidate(t *testing.T) {
	token, err := jwtService.IssueToken("alice", []string{"support", "admin"}, time.Hour)
	require.NoError(t, err)

	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)

	caller := claims.Caller()
	assert.Equal(t, "alice", caller.ID)
	assert.Equal(t, []string{"admin", "support"}, caller.Roles())
}

func TestValidateToken(t *testing.T) {
	t.Run("garbage", func(t *testing.T) {
		_, err := jwtService.ValidateToken("invalid-token-string")
		assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
	})

	t.Run("expired", func(t *testing.T) {
		token, err := jwtService.IssueToken("alice", nil, -time.Hour)
		require.NoError(t, err)
		_, err = jwtService.ValidateToken(token)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("wrong key", func(t *testing.T) {
		token, err := NewJWTService("other-key", "keeper-test").IssueToken("alice", nil, time.Hour)
		require.NoError(t, err)
		_, err = jwtService.ValidateToken(token)
		assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := NewJWTService("test-signing-key", "someone-else").IssueToken("alice", nil, time.Hour)
		require.NoError(t, err)
		_, err = jwtService.ValidateToken(token)
		assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
	})

	t.Run("none algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "mallory",
				Issuer:    "keeper-test",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = jwtService.ValidateToken(signed)
		assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
	})

	t.Run("missing subject is rejected at issue", func(t *testing.T) {
		_, err := jwtService.IssueToken("", []string{"admin"}, time.Hour)
		assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
	})
}

func TestAdapterCarriesRoles(t *testing.T) {
	token, err := jwtService.IssueToken("bob", []string{"support"}, time.Hour)
	require.NoError(t, err)

	claims, err := NewJWTServiceAdapter(jwtService).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.Subject)
	assert.Equal(t, []string{"support"}, claims.Roles)
	assert.NotEmpty(t, claims.JTI)
}

func TestRedisRevocations(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	revocations := NewRedisRevocations(client)
	ctx := context.Background()

	revoked, err := revocations.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, revocations.Revoke(ctx, "jti-1", time.Minute))
	revoked, err = revocations.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(2 * time.Minute)
	revoked, err = revocations.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}
