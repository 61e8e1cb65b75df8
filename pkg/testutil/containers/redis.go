//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"keeper/internal/platform/config"
	redisclient "keeper/internal/platform/redis"
)

// keyspace is the prefix every keeper Redis key lives under: the retry queue,
// revocations and rate limit windows.
const keyspace = "keeper:*"

// RedisContainer is one Redis server shared by every suite in the binary.
// Suites isolate themselves with Reset rather than FLUSHALL.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	admin     *redisclient.Client
}

func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("redis connection string: %v", err)
	}

	rc := &RedisContainer{Container: container, URL: url}
	admin, err := redisclient.New(ctx, rc.Config())
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("connect to redis container: %v", err)
	}
	rc.admin = admin
	return rc
}

// Config is the REDIS_* configuration pointing at the container.
func (r *RedisContainer) Config() config.RedisConfig {
	return config.RedisConfig{URL: r.URL, PoolSize: 20}
}

// Connect opens a client the way the server does and closes it with the test.
func (r *RedisContainer) Connect(t *testing.T) *redisclient.Client {
	t.Helper()
	client, err := redisclient.New(t.Context(), r.Config())
	if err != nil {
		t.Fatalf("connect to redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// Reset deletes every keeper key.
func (r *RedisContainer) Reset(ctx context.Context) error {
	iter := r.admin.Scan(ctx, 0, keyspace, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.admin.Del(ctx, keys...).Err()
}
