package identity

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRevocationPrefix = "keeper:revoked:"

// RedisRevocations is a token denylist keyed by JWT ID. Entries expire with
// the token they revoke.
type RedisRevocations struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRevocations(client redis.UniversalClient) *RedisRevocations {
	return &RedisRevocations{client: client, prefix: defaultRevocationPrefix}
}

func (r *RedisRevocations) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+jti, 1, ttl).Err()
}

func (r *RedisRevocations) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
